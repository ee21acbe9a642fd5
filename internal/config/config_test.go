package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ibkrfeed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"IBKR_GATEWAY_HOST", "IBKR_GATEWAY_PORT", "IBKR_GATEWAY_URL", "IBKR_CLIENT_ID",
		"IBKR_MARKET_DATA_CLIENT_ID", "IBKR_TIMEOUT", "IBKR_READONLY", "IBKR_AUTHORIZED_ACCOUNTS",
		"IBKR_CACHE_DIR", "IBKR_FUTURES_EXCHANGES", "SQLITE_PATH", "LOG_LEVEL",
		"ALPACA_DATA_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
gateway:
  host: "10.0.0.5"
  port: 4002
  client_id: 7
  timeout_seconds: 30
  readonly: false
accounts:
  authorized: ["U111", "U222"]
cache:
  dir: "/tmp/ibkrfeed/cache"
  janitor_schedule: "@hourly"
  janitor_max_age_hours: 720
storage:
  sqlite_path: "/tmp/ibkrfeed/contracts.db"
server:
  host: "0.0.0.0"
  port: 8080
  grpc_port: 9191
logging:
  level: "debug"
  format: "text"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
reconnect:
  base_delay_seconds: 2
  max_attempts: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Gateway --
	if cfg.Gateway.Host != "10.0.0.5" {
		t.Errorf("Gateway.Host = %q, want %q", cfg.Gateway.Host, "10.0.0.5")
	}
	if cfg.Gateway.Port != 4002 {
		t.Errorf("Gateway.Port = %d, want %d", cfg.Gateway.Port, 4002)
	}
	if cfg.Gateway.MarketDataClientID != 8 {
		t.Errorf("Gateway.MarketDataClientID = %d, want %d", cfg.Gateway.MarketDataClientID, 8)
	}
	if cfg.Gateway.IsReadOnly() {
		t.Error("Gateway.IsReadOnly() = true, want false")
	}
	if got := cfg.Gateway.URL(); got != "https://10.0.0.5:4002" {
		t.Errorf("Gateway.URL() = %q, want %q", got, "https://10.0.0.5:4002")
	}

	// -- Accounts / cache / storage --
	if !reflect.DeepEqual(cfg.Accounts.Authorized, []string{"U111", "U222"}) {
		t.Errorf("Accounts.Authorized = %v, want [U111 U222]", cfg.Accounts.Authorized)
	}
	if cfg.Cache.Dir != "/tmp/ibkrfeed/cache" {
		t.Errorf("Cache.Dir = %q, want %q", cfg.Cache.Dir, "/tmp/ibkrfeed/cache")
	}
	if cfg.Cache.CurrentMonthTTLHours != 4 {
		t.Errorf("Cache.CurrentMonthTTLHours = %d, want %d", cfg.Cache.CurrentMonthTTLHours, 4)
	}
	if cfg.Storage.SQLitePath != "/tmp/ibkrfeed/contracts.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/ibkrfeed/contracts.db")
	}

	// -- Server / logging --
	if cfg.Server.GRPCPort != 9191 {
		t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 9191)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}

	// -- Reconnect --
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("Reconnect.MaxAttempts = %d, want %d", cfg.Reconnect.MaxAttempts, 5)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("Gateway.Host = %q, want %q", cfg.Gateway.Host, "127.0.0.1")
	}
	if cfg.Gateway.Port != 7496 {
		t.Errorf("Gateway.Port = %d, want %d", cfg.Gateway.Port, 7496)
	}
	if cfg.Gateway.ClientID != 1 || cfg.Gateway.MarketDataClientID != 2 {
		t.Errorf("client ids = %d/%d, want 1/2", cfg.Gateway.ClientID, cfg.Gateway.MarketDataClientID)
	}
	if cfg.Gateway.TimeoutSeconds != 10 {
		t.Errorf("Gateway.TimeoutSeconds = %d, want %d", cfg.Gateway.TimeoutSeconds, 10)
	}
	if !cfg.Gateway.IsReadOnly() {
		t.Error("Gateway.IsReadOnly() = false, want true")
	}
	if filepath.Base(cfg.Cache.Dir) != "ibkr-mcp" {
		t.Errorf("Cache.Dir = %q, want suffix ibkr-mcp", cfg.Cache.Dir)
	}
	if cfg.Reconnect.BaseDelaySeconds != 5 || cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("reconnect = %d/%d, want 5/3", cfg.Reconnect.BaseDelaySeconds, cfg.Reconnect.MaxAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
gateway:
  host: "yaml-host"
  client_id: 3
cache:
  dir: "/original/cache"
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
`)

	t.Setenv("IBKR_GATEWAY_HOST", "env-host")
	t.Setenv("IBKR_CACHE_DIR", "/env/cache")
	t.Setenv("IBKR_READONLY", "false")
	t.Setenv("IBKR_AUTHORIZED_ACCOUNTS", " U1 , ,U2")
	t.Setenv("IBKR_MARKET_DATA_CLIENT_ID", "42")
	t.Setenv("APCA_API_KEY_ID", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Gateway.Host != "env-host" {
		t.Errorf("Gateway.Host = %q, want %q (env override)", cfg.Gateway.Host, "env-host")
	}
	if cfg.Gateway.ClientID != 3 {
		t.Errorf("Gateway.ClientID = %d, want %d (from YAML)", cfg.Gateway.ClientID, 3)
	}
	if cfg.Gateway.MarketDataClientID != 42 {
		t.Errorf("Gateway.MarketDataClientID = %d, want %d (env override)", cfg.Gateway.MarketDataClientID, 42)
	}
	if cfg.Gateway.IsReadOnly() {
		t.Error("Gateway.IsReadOnly() = true, want false (env override)")
	}
	if cfg.Cache.Dir != "/env/cache" {
		t.Errorf("Cache.Dir = %q, want %q (env override)", cfg.Cache.Dir, "/env/cache")
	}
	if !reflect.DeepEqual(cfg.Accounts.Authorized, []string{"U1", "U2"}) {
		t.Errorf("Accounts.Authorized = %v, want [U1 U2]", cfg.Accounts.Authorized)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of missing file returned nil error")
	}
}
