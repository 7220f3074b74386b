package app

import (
	"testing"

	"github.com/vk/orgmigrate/internal/hcl_adapter"
	"github.com/vk/orgmigrate/internal/testutil"
)

// SetupAppTest creates an app against the platform at instanceURL, logging
// at debug level into the returned buffer. extra is appended to the
// generated configuration file.
func SetupAppTest(t *testing.T, instanceURL, extra string) (*App, *testutil.SafeBuffer) {
	t.Helper()

	out := &testutil.SafeBuffer{}
	cfg, err := NewConfig(Config{
		ConfigPath: testutil.WriteConfig(t, instanceURL, extra),
		LogFormat:  "text",
		LogLevel:   "debug",
	})
	if err != nil {
		t.Fatalf("app config: %v", err)
	}

	testApp, err := NewApp(out, cfg, hcl_adapter.NewLoader())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = testApp.Close() })
	return testApp, out
}
