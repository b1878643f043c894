package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	KillSwitch KillSwitchConfig `json:"kill_switch" yaml:"kill_switch"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Rules      RulesConfig      `json:"rules" yaml:"rules"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Ledger     LedgerConfig     `json:"ledger" yaml:"ledger"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Exchange   ExchangeConfig   `json:"exchange" yaml:"exchange"`
}

// EngineConfig drives the reconciliation loop.
type EngineConfig struct {
	Interval string   `json:"interval" yaml:"interval"` // cycle period, e.g. "5s"
	Symbols  []string `json:"symbols" yaml:"symbols"`
	// SizeEpsilon is the absolute size difference below which local
	// and exchange positions are considered equal.
	SizeEpsilon float64 `json:"size_epsilon" yaml:"size_epsilon"`
	// SafetyMargin is the quote-notional above which an untracked
	// exchange position is treated as catastrophic state corruption.
	SafetyMargin float64 `json:"safety_margin" yaml:"safety_margin"`
}

type KillSwitchConfig struct {
	MaxFailures int    `json:"max_failures" yaml:"max_failures"`
	Window      string `json:"window" yaml:"window"`
	MarkerFile  string `json:"marker_file" yaml:"marker_file"`
}

type RetryConfig struct {
	Attempts    int    `json:"attempts" yaml:"attempts"`
	BaseBackoff string `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  string `json:"max_backoff" yaml:"max_backoff"`
	CallTimeout string `json:"call_timeout" yaml:"call_timeout"`
}

type RulesConfig struct {
	RefreshInterval string `json:"refresh_interval" yaml:"refresh_interval"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

type LedgerConfig struct {
	Type string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	Path string `json:"path" yaml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the endpoint
}

type ExchangeConfig struct {
	Mode      string `json:"mode" yaml:"mode"` // "binance" or "paper"
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
	Testnet   bool   `json:"testnet" yaml:"testnet"`
}

// LoadFromFile loads configuration from a file (YAML, with JSON
// fallback) and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with conservative defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Interval:     "5s",
			SizeEpsilon:  1e-9,
			SafetyMargin: 10, // quote units
		},
		KillSwitch: KillSwitchConfig{
			MaxFailures: 5,
			Window:      "10m",
			MarkerFile:  "./killswitch.json",
		},
		Retry: RetryConfig{
			Attempts:    3,
			BaseBackoff: "500ms",
			MaxBackoff:  "5s",
			CallTimeout: "10s",
		},
		Rules: RulesConfig{
			RefreshInterval: "6h",
		},
		Store: StoreConfig{
			Path: "./snapshot.json",
		},
		Ledger: LedgerConfig{
			Type: "csv",
			Path: "./audit.csv",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Exchange: ExchangeConfig{
			Mode: "paper",
		},
	}
}

// Validate checks the configuration for problems a typo could cause.
func (c *Config) Validate() error {
	if _, err := c.EngineInterval(); err != nil {
		return fmt.Errorf("engine.interval: %w", err)
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols must list at least one symbol")
	}
	if c.Engine.SizeEpsilon < 0 {
		return fmt.Errorf("engine.size_epsilon must not be negative")
	}
	if c.Engine.SafetyMargin <= 0 {
		return fmt.Errorf("engine.safety_margin must be positive")
	}
	if c.KillSwitch.MaxFailures <= 0 {
		return fmt.Errorf("kill_switch.max_failures must be positive")
	}
	if _, err := c.KillSwitchWindow(); err != nil {
		return fmt.Errorf("kill_switch.window: %w", err)
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive")
	}
	for name, s := range map[string]string{
		"retry.base_backoff":     c.Retry.BaseBackoff,
		"retry.max_backoff":      c.Retry.MaxBackoff,
		"retry.call_timeout":     c.Retry.CallTimeout,
		"rules.refresh_interval": c.Rules.RefreshInterval,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Ledger.Type {
	case "csv", "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path required for type %q", c.Ledger.Type)
		}
	case "none":
	default:
		return fmt.Errorf("ledger.type must be csv, sqlite or none")
	}
	switch c.Exchange.Mode {
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.api_key and api_secret required for binance mode")
		}
	case "paper":
	default:
		return fmt.Errorf("exchange.mode must be binance or paper")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram enabled but bot_token or chat_id missing")
		}
	}
	return nil
}

// Duration accessors. Validate has already checked these parse; the
// error is returned anyway for callers that skip validation.

func (c *Config) EngineInterval() (time.Duration, error) {
	return time.ParseDuration(c.Engine.Interval)
}

func (c *Config) KillSwitchWindow() (time.Duration, error) {
	return time.ParseDuration(c.KillSwitch.Window)
}

func (c *Config) RulesRefreshInterval() (time.Duration, error) {
	return time.ParseDuration(c.Rules.RefreshInterval)
}

func (c *Config) RetryBaseBackoff() (time.Duration, error) {
	return time.ParseDuration(c.Retry.BaseBackoff)
}

func (c *Config) RetryMaxBackoff() (time.Duration, error) {
	return time.ParseDuration(c.Retry.MaxBackoff)
}

func (c *Config) RetryCallTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Retry.CallTimeout)
}
