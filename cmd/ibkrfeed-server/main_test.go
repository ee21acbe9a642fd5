package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunMissingConfig(t *testing.T) {
	t.Setenv("IBKRFEED_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	err := run()
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() = %v, want config error", err)
	}
}

func TestRunReturnsStartupErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ibkrfeed.yaml")
	yaml := `
gateway:
  base_url: https://127.0.0.1:1
  timeout_seconds: 1
cache:
  dir: ` + filepath.Join(dir, "cache") + `
  janitor_schedule: "not a schedule"
  janitor_max_age_hours: 24
server:
  host: 127.0.0.1
  port: 0
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IBKRFEED_CONFIG", cfgPath)

	err := run()
	if err == nil || !strings.Contains(err.Error(), "janitor") {
		t.Fatalf("run() = %v, want janitor error", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", "contracts.db")); err != nil {
		t.Errorf("contract store not created before the failure: %v", err)
	}
}
