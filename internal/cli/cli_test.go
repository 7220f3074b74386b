package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &testutil.SafeBuffer{}
	err := Execute(context.Background(), out, args)
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected an ExitError, got %v", err)
	return exitErr.Code
}

func TestExecute_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "schemas")
	assert.Contains(t, out, "analyze")
}

func TestExecute_InvalidInput(t *testing.T) {
	cases := map[string][]string{
		"unknown flag":        {"--this-is-not-a-valid-flag"},
		"bad log format":      {"tree", "--log-format", "xml"},
		"bad log level":       {"tree", "--log-level", "trace"},
		"tree takes no names": {"tree", "Account"},
		"refresh with names":  {"schemas", "--refresh", "Account"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, 2, exitCode(t, err))
		})
	}
}

func TestExecute_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "tree", "--config", "/nonexistent/migration.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExecute_SchemasThenTree(t *testing.T) {
	p := testutil.NewFakePlatform(t)
	p.Describes["Account"] = []entity.Field{
		{Name: "Id", Type: entity.FieldTypeID, IDLookup: true},
		{Name: "Name", Type: entity.FieldTypeString, Createable: true, Updateable: true},
	}
	configPath := testutil.WriteConfig(t, p.URL(), "")

	out, err := execute(t, "schemas", "Account", "--config", configPath, "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "External ID")

	out, err = execute(t, "tree", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Account")
}
