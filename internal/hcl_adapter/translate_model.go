package hcl_adapter

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/orgmigrate/internal/config"
)

// fileRoot is the top-level layout of a configuration file.
type fileRoot struct {
	DataDir           string              `hcl:"data_dir,optional"`
	APIVersion        string              `hcl:"api_version,optional"`
	DefaultExternalID string              `hcl:"default_external_id,optional"`
	ExceptionFields   []string            `hcl:"exception_fields,optional"`
	Entities          []string            `hcl:"entities,optional"`
	RateLimit         float64             `hcl:"rate_limit,optional"`
	HTTPTimeout       string              `hcl:"http_timeout,optional"`
	Environments      []*environmentBlock `hcl:"environment,block"`
	Poll              *pollBlock          `hcl:"poll,block"`
	Overrides         []*overrideBlock    `hcl:"override,block"`
}

type environmentBlock struct {
	Role        string `hcl:"role,label"`
	Alias       string `hcl:"alias,optional"`
	InstanceURL string `hcl:"instance_url"`
	AccessToken string `hcl:"access_token,optional"`
}

type pollBlock struct {
	Interval    string `hcl:"interval,optional"`
	MaxAttempts int    `hcl:"max_attempts,optional"`
}

type overrideBlock struct {
	Entity          string `hcl:"entity,label"`
	Query           string `hcl:"query,optional"`
	ExternalIDField string `hcl:"external_id_field,optional"`
}

// translate converts the decoded blocks into the format-agnostic model.
func translate(root *fileRoot) (*config.Model, error) {
	var errs []error

	m := &config.Model{
		DataDir:           root.DataDir,
		APIVersion:        root.APIVersion,
		DefaultExternalID: root.DefaultExternalID,
		ExceptionFields:   root.ExceptionFields,
		Entities:          root.Entities,
		RateLimit:         root.RateLimit,
		Overrides:         make(map[string]config.Override, len(root.Overrides)),
	}

	timeout, err := parseDuration("http_timeout", root.HTTPTimeout)
	errs = append(errs, err)
	m.HTTPTimeout = timeout

	if root.Poll != nil {
		interval, err := parseDuration("poll.interval", root.Poll.Interval)
		errs = append(errs, err)
		m.Poll = config.Poll{Interval: interval, MaxAttempts: root.Poll.MaxAttempts}
	}

	seen := map[string]bool{}
	for _, env := range root.Environments {
		if seen[env.Role] {
			errs = append(errs, fmt.Errorf("environment %q is declared twice", env.Role))
			continue
		}
		seen[env.Role] = true

		translated := config.Environment{Alias: env.Alias, InstanceURL: env.InstanceURL, AccessToken: env.AccessToken}
		switch env.Role {
		case "source":
			m.Source = translated
		case "target":
			m.Target = translated
		default:
			errs = append(errs, fmt.Errorf("environment %q: role must be \"source\" or \"target\"", env.Role))
		}
	}

	for _, o := range root.Overrides {
		if _, dup := m.Overrides[o.Entity]; dup {
			errs = append(errs, fmt.Errorf("override %q is declared twice", o.Entity))
			continue
		}
		m.Overrides[o.Entity] = config.Override{Query: o.Query, ExternalIDField: o.ExternalIDField}
	}

	return m, errors.Join(errs...)
}

func parseDuration(attr, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", attr, err)
	}
	return d, nil
}
