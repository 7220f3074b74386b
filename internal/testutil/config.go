package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteConfig writes a migration.hcl into a fresh temporary directory with
// both environments pointing at instanceURL, the data directory next to it
// and a 1ms poll interval. extra is appended verbatim. It returns the file
// path.
func WriteConfig(t *testing.T, instanceURL, extra string) string {
	t.Helper()

	dir := t.TempDir()
	content := fmt.Sprintf(`
data_dir = %q

environment "source" {
  alias        = "source"
  instance_url = %q
  access_token = %q
}

environment "target" {
  alias        = "target"
  instance_url = %q
  access_token = %q
}

poll {
  interval     = "1ms"
  max_attempts = 50
}
%s
`, filepath.Join(dir, "work"), instanceURL, FakeToken, instanceURL, FakeToken, extra)

	path := filepath.Join(dir, "migration.hcl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
