package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Watchlist WatchlistConfig `json:"watchlist" yaml:"watchlist"`
	Poller    PollerConfig    `json:"poller" yaml:"poller"`
	Dedupe    DedupeConfig    `json:"dedupe" yaml:"dedupe"`
	Geo       GeoConfig       `json:"geo" yaml:"geo"`
	Balances  BalancesConfig  `json:"balances" yaml:"balances"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Sinks     SinksConfig     `json:"sinks" yaml:"sinks"`
}

type LedgerConfig struct {
	BaseURL                string `json:"base_url" yaml:"base_url"`
	APIKey                 string `json:"api_key" yaml:"api_key"`
	TimeoutSeconds         int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAddressesPerRequest int    `json:"max_addresses_per_request" yaml:"max_addresses_per_request"`
	MinRequestIntervalMS   int    `json:"min_request_interval_ms" yaml:"min_request_interval_ms"`
	PriceCacheTTLSeconds   int    `json:"price_cache_ttl_seconds" yaml:"price_cache_ttl_seconds"`
}

type WatchlistConfig struct {
	Path string `json:"path" yaml:"path"`
}

type PollerConfig struct {
	IntervalSeconds        int     `json:"interval_seconds" yaml:"interval_seconds"`
	MinAlertUSD            float64 `json:"min_alert_usd" yaml:"min_alert_usd"`
	LookbackSeconds        int     `json:"lookback_seconds" yaml:"lookback_seconds"`
	DiscoverCounterparties bool    `json:"discover_counterparties" yaml:"discover_counterparties"`
	DiscoverMinUSD         float64 `json:"discover_min_usd" yaml:"discover_min_usd"`
	DiscoveredWatchMax     int     `json:"discovered_watch_max" yaml:"discovered_watch_max"`
}

type DedupeConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type GeoConfig struct {
	CachePath              string `json:"cache_path" yaml:"cache_path"`
	RefreshIntervalSeconds int    `json:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
	QueryTimeoutSeconds    int    `json:"query_timeout_seconds" yaml:"query_timeout_seconds"`
	BootstrapMaxAddresses  int    `json:"bootstrap_max_addresses" yaml:"bootstrap_max_addresses"`
}

type BalancesConfig struct {
	RefreshIntervalSeconds int `json:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
}

type DashboardConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	StaticDir string `json:"static_dir" yaml:"static_dir"`
	MaxAlerts int    `json:"max_alerts" yaml:"max_alerts"`
	MaxEvents int    `json:"max_events" yaml:"max_events"`
}

type SinksConfig struct {
	Telegram TelegramSinkConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordSinkConfig  `json:"discord" yaml:"discord"`
	Webhook  WebhookSinkConfig  `json:"webhook" yaml:"webhook"`
	Kafka    KafkaSinkConfig    `json:"kafka" yaml:"kafka"`
}

type TelegramSinkConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

type DiscordSinkConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

type WebhookSinkConfig struct {
	URL string `json:"url" yaml:"url"`
}

type KafkaSinkConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ledger: LedgerConfig{
			BaseURL:                "https://api.allium.so",
			TimeoutSeconds:         20,
			MaxAddressesPerRequest: 20,
			MinRequestIntervalMS:   1000,
			PriceCacheTTLSeconds:   60,
		},
		Watchlist: WatchlistConfig{Path: "watchlists/default.json"},
		Poller: PollerConfig{
			IntervalSeconds:        30,
			MinAlertUSD:            1_000_000,
			LookbackSeconds:        180,
			DiscoverCounterparties: true,
			DiscoverMinUSD:         500_000,
			DiscoveredWatchMax:     25,
		},
		Dedupe: DedupeConfig{Driver: "sqlite", DSN: "file:data/alerts.db?_pragma=busy_timeout(5000)"},
		Geo: GeoConfig{
			CachePath:              "data/geo_cache.json",
			RefreshIntervalSeconds: 24 * 60 * 60,
			QueryTimeoutSeconds:    180,
			BootstrapMaxAddresses:  0,
		},
		Balances:  BalancesConfig{RefreshIntervalSeconds: 900},
		Dashboard: DashboardConfig{Addr: ":8090", BaseURL: "http://localhost:8090", StaticDir: "frontend", MaxAlerts: 300, MaxEvents: 1500},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WHALEWATCH_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("WHALEWATCH_BASE_URL"); v != "" {
		cfg.Ledger.BaseURL = v
	}
}

func applyDefaults(cfg *Config) {
	cfg.Ledger.BaseURL = strings.TrimRight(cfg.Ledger.BaseURL, "/")
	if cfg.Ledger.TimeoutSeconds <= 0 {
		cfg.Ledger.TimeoutSeconds = 20
	}
	if cfg.Ledger.MaxAddressesPerRequest <= 0 {
		cfg.Ledger.MaxAddressesPerRequest = 20
	}
	if cfg.Ledger.MaxAddressesPerRequest > 20 {
		cfg.Ledger.MaxAddressesPerRequest = 20
	}
	if cfg.Ledger.MinRequestIntervalMS <= 0 {
		cfg.Ledger.MinRequestIntervalMS = 1000
	}
	if cfg.Ledger.PriceCacheTTLSeconds <= 0 {
		cfg.Ledger.PriceCacheTTLSeconds = 60
	}
	if cfg.Poller.IntervalSeconds < 5 {
		cfg.Poller.IntervalSeconds = 5
	}
	if cfg.Poller.LookbackSeconds < 0 {
		cfg.Poller.LookbackSeconds = 0
	}
	if cfg.Poller.DiscoveredWatchMax <= 0 {
		cfg.Poller.DiscoveredWatchMax = 25
	}
	if cfg.Dedupe.Driver == "" {
		cfg.Dedupe.Driver = "sqlite"
	}
	if cfg.Geo.RefreshIntervalSeconds <= 0 {
		cfg.Geo.RefreshIntervalSeconds = 24 * 60 * 60
	}
	if cfg.Geo.QueryTimeoutSeconds <= 0 {
		cfg.Geo.QueryTimeoutSeconds = 180
	}
	if cfg.Balances.RefreshIntervalSeconds <= 0 {
		cfg.Balances.RefreshIntervalSeconds = 900
	}
	if cfg.Dashboard.MaxAlerts <= 0 {
		cfg.Dashboard.MaxAlerts = 300
	}
	if cfg.Dashboard.MaxEvents <= 0 {
		cfg.Dashboard.MaxEvents = 1500
	}
}

func Validate(cfg *Config) error {
	if cfg.Ledger.APIKey == "" {
		return errors.New("ledger.api_key is required (or WHALEWATCH_API_KEY)")
	}
	if cfg.Ledger.BaseURL == "" {
		return errors.New("ledger.base_url is required")
	}
	if cfg.Watchlist.Path == "" {
		return errors.New("watchlist.path is required")
	}
	if cfg.Poller.MinAlertUSD < 0 {
		return errors.New("poller.min_alert_usd must be >= 0")
	}
	if cfg.Dashboard.Addr == "" {
		return errors.New("dashboard.addr is required")
	}
	switch strings.ToLower(cfg.Dedupe.Driver) {
	case "sqlite", "postgres", "postgresql", "redis":
	default:
		return fmt.Errorf("unsupported dedupe driver: %q", cfg.Dedupe.Driver)
	}
	return nil
}
