package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	m := &Model{
		Source: Environment{InstanceURL: "https://src.example.com"},
		Target: Environment{Alias: "prod", InstanceURL: "https://dst.example.com"},
	}
	m.ApplyDefaults()

	assert.Equal(t, DefaultDataDir, m.DataDir)
	assert.Equal(t, DefaultAPIVersion, m.APIVersion)
	assert.Equal(t, DefaultHTTPTimeout, m.HTTPTimeout)
	assert.Equal(t, Poll{Interval: 10 * time.Second, MaxAttempts: 360}, m.Poll)
	assert.NotNil(t, m.Overrides)
	assert.Equal(t, "https://src.example.com", m.Source.Alias)
	assert.Equal(t, "prod", m.Target.Alias)
	require.NoError(t, m.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	m := &Model{Poll: Poll{MaxAttempts: -1}, RateLimit: -2}

	err := m.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`environment "source": instance_url is required`,
		`environment "target": instance_url is required`,
		"max_attempts must not be negative",
		"rate_limit must not be negative",
	} {
		assert.ErrorContains(t, err, want)
	}
}
