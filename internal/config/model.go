package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultDataDir     = "."
	DefaultAPIVersion  = "57.0"
	DefaultHTTPTimeout = 60 * time.Second
	DefaultInterval    = 10 * time.Second
	DefaultMaxAttempts = 360
)

// Model is the unified, format-agnostic representation of a migration run.
type Model struct {
	// DataDir is the root of the snapshot, data and plan files.
	DataDir           string
	APIVersion        string
	DefaultExternalID string
	// ExceptionFields are never projected by generated queries.
	ExceptionFields []string
	// Entities are the entities a run starts from when none are named on
	// the command line.
	Entities []string
	// RateLimit caps requests per second per environment. Zero disables it.
	RateLimit   float64
	HTTPTimeout time.Duration

	Source Environment
	Target Environment
	Poll   Poll

	Overrides map[string]Override
}

// Environment is one platform environment.
type Environment struct {
	Alias       string
	InstanceURL string
	AccessToken string
}

// Poll bounds the wait for a job to finish.
type Poll struct {
	Interval    time.Duration
	MaxAttempts int
}

// Override replaces the derived query or external id of one entity.
type Override struct {
	Query           string
	ExternalIDField string
}

// ApplyDefaults fills every unset optional setting.
func (m *Model) ApplyDefaults() {
	if m.DataDir == "" {
		m.DataDir = DefaultDataDir
	}
	if m.APIVersion == "" {
		m.APIVersion = DefaultAPIVersion
	}
	if m.HTTPTimeout == 0 {
		m.HTTPTimeout = DefaultHTTPTimeout
	}
	if m.Poll.Interval == 0 {
		m.Poll.Interval = DefaultInterval
	}
	if m.Poll.MaxAttempts == 0 {
		m.Poll.MaxAttempts = DefaultMaxAttempts
	}
	if m.Overrides == nil {
		m.Overrides = map[string]Override{}
	}
	for _, env := range []*Environment{&m.Source, &m.Target} {
		if env.Alias == "" {
			env.Alias = env.InstanceURL
		}
	}
}

// Validate reports every problem of the model at once.
func (m *Model) Validate() error {
	var errs []error
	if m.Source.InstanceURL == "" {
		errs = append(errs, errors.New(`environment "source": instance_url is required`))
	}
	if m.Target.InstanceURL == "" {
		errs = append(errs, errors.New(`environment "target": instance_url is required`))
	}
	if m.Poll.Interval < 0 {
		errs = append(errs, fmt.Errorf("poll: interval must not be negative, got %s", m.Poll.Interval))
	}
	if m.Poll.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("poll: max_attempts must not be negative, got %d", m.Poll.MaxAttempts))
	}
	if m.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %g", m.RateLimit))
	}
	if m.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("http_timeout must not be negative, got %s", m.HTTPTimeout))
	}
	return errors.Join(errs...)
}
