package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_RejectsBrokenConfigFile(t *testing.T) {
	t.Setenv("LECTERN_CONFIG_FILE", writeFile(t, `{"http": {"port": 99999}}`))

	err := run()
	if err == nil {
		t.Fatal("Expected run to fail on invalid configuration")
	}
	if !strings.Contains(err.Error(), "configuration") {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
