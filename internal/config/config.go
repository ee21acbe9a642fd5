// Package config loads ibkrfeed configuration from an optional YAML file, a
// .env file, and environment variables, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for ibkrfeed.
type Config struct {
	Gateway   Gateway   `yaml:"gateway"`
	Accounts  Accounts  `yaml:"accounts"`
	Cache     Cache     `yaml:"cache"`
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Pacing    Pacing    `yaml:"pacing"`
	Reconnect Reconnect `yaml:"reconnect"`
	Contracts Contracts `yaml:"contracts"`
}

// Gateway describes how to reach the brokerage gateway process. ClientID
// identifies the persistent session; MarketDataClientID identifies the
// short-lived per-request sessions.
type Gateway struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	BaseURL            string `yaml:"base_url"`
	ClientID           int    `yaml:"client_id"`
	MarketDataClientID int    `yaml:"market_data_client_id"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	ReadOnly           *bool  `yaml:"readonly"`
	InsecureTLS        *bool  `yaml:"insecure_tls"`
}

// Accounts restricts which gateway accounts may be used.
type Accounts struct {
	Authorized []string `yaml:"authorized"`
}

// Cache configures the on-disk series cache.
type Cache struct {
	Dir                  string `yaml:"dir"`
	CurrentMonthTTLHours int    `yaml:"current_month_ttl_hours"`
	JanitorSchedule      string `yaml:"janitor_schedule"`
	JanitorMaxAgeHours   int    `yaml:"janitor_max_age_hours"`
}

// Storage holds paths for auxiliary persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alpaca holds credentials for the secondary equity data source. The source
// is disabled when no key is configured.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Pacing limits how often market-data sessions are opened.
type Pacing struct {
	HistoricalPerMinute int `yaml:"historical_per_minute"`
}

// Reconnect controls the persistent session's automatic reconnect loop.
type Reconnect struct {
	BaseDelaySeconds int `yaml:"base_delay_seconds"`
	MaxAttempts      int `yaml:"max_attempts"`
}

// Contracts configures the contract resolver.
type Contracts struct {
	FuturesExchangesPath string `yaml:"futures_exchanges_path"`
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// Timeout returns the gateway connect timeout.
func (g Gateway) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// IsReadOnly reports whether the persistent session is read-only.
func (g Gateway) IsReadOnly() bool {
	return g.ReadOnly == nil || *g.ReadOnly
}

// SkipTLSVerify reports whether the gateway's self-signed certificate is
// accepted.
func (g Gateway) SkipTLSVerify() bool {
	return g.InsecureTLS == nil || *g.InsecureTLS
}

// URL returns the gateway base URL, derived from host and port when not set
// explicitly.
func (g Gateway) URL() string {
	if g.BaseURL != "" {
		return strings.TrimRight(g.BaseURL, "/")
	}
	return "https://" + g.Host + ":" + strconv.Itoa(g.Port)
}

// BaseDelay returns the linear reconnect backoff unit.
func (r Reconnect) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds) * time.Second
}

// TTL returns the freshness window for current-month cache entries.
func (c Cache) TTL() time.Duration {
	return time.Duration(c.CurrentMonthTTLHours) * time.Hour
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path (skipped when
// path is empty), loads a .env file from the working directory if present,
// applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Variables already present in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IBKR_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if n, ok := envInt("IBKR_GATEWAY_PORT"); ok {
		cfg.Gateway.Port = n
	}
	if v := os.Getenv("IBKR_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if n, ok := envInt("IBKR_CLIENT_ID"); ok {
		cfg.Gateway.ClientID = n
	}
	if n, ok := envInt("IBKR_MARKET_DATA_CLIENT_ID"); ok {
		cfg.Gateway.MarketDataClientID = n
	}
	if n, ok := envInt("IBKR_TIMEOUT"); ok {
		cfg.Gateway.TimeoutSeconds = n
	}
	if v := os.Getenv("IBKR_READONLY"); v != "" {
		ro := parseBool(v)
		cfg.Gateway.ReadOnly = &ro
	}
	if v := os.Getenv("IBKR_AUTHORIZED_ACCOUNTS"); v != "" {
		cfg.Accounts.Authorized = splitList(v)
	}

	if v := os.Getenv("IBKR_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("IBKR_FUTURES_EXCHANGES"); v != "" {
		cfg.Contracts.FuturesExchangesPath = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	// Standard Alpaca env vars used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	g := &cfg.Gateway
	if g.Host == "" {
		g.Host = "127.0.0.1"
	}
	if g.Port == 0 {
		g.Port = 7496
	}
	if g.ClientID == 0 {
		g.ClientID = 1
	}
	if g.MarketDataClientID == 0 {
		g.MarketDataClientID = g.ClientID + 1
	}
	if g.TimeoutSeconds <= 0 {
		g.TimeoutSeconds = 10
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = defaultCacheDir()
	}
	if cfg.Cache.CurrentMonthTTLHours <= 0 {
		cfg.Cache.CurrentMonthTTLHours = 4
	}
	if cfg.Cache.JanitorSchedule == "" {
		cfg.Cache.JanitorSchedule = "@daily"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Pacing.HistoricalPerMinute == 0 {
		cfg.Pacing.HistoricalPerMinute = 50
	}
	if cfg.Reconnect.BaseDelaySeconds <= 0 {
		cfg.Reconnect.BaseDelaySeconds = 5
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = 3
	}
}

func defaultCacheDir() string {
	root, err := os.UserCacheDir()
	if err != nil {
		root = os.TempDir()
	}
	return filepath.Join(root, "ibkr-mcp")
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
