package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteEnvFile writes contents to a .env file in a fresh temporary directory
// and returns its path. The directory is removed when the test ends.
func WriteEnvFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	return path
}
