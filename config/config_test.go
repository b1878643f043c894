package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Engine.Symbols = []string{"BTCUSDT"}
	return cfg
}

func TestDefaultWithSymbolsValidates(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no symbols", func(c *Config) { c.Engine.Symbols = nil }, "symbols"},
		{"bad interval", func(c *Config) { c.Engine.Interval = "soon" }, "interval"},
		{"zero safety margin", func(c *Config) { c.Engine.SafetyMargin = 0 }, "safety_margin"},
		{"zero failures", func(c *Config) { c.KillSwitch.MaxFailures = 0 }, "max_failures"},
		{"bad window", func(c *Config) { c.KillSwitch.Window = "10 minutes" }, "window"},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }, "attempts"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"unknown ledger", func(c *Config) { c.Ledger.Type = "parquet" }, "ledger.type"},
		{"ledger without path", func(c *Config) { c.Ledger.Path = "" }, "ledger.path"},
		{"binance without keys", func(c *Config) { c.Exchange.Mode = "binance" }, "api_key"},
		{"unknown exchange mode", func(c *Config) { c.Exchange.Mode = "kraken" }, "exchange.mode"},
		{"telegram without token", func(c *Config) { c.Notify.Telegram.Enabled = true }, "telegram"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	body := `
engine:
  interval: 3s
  symbols: [BTCUSDT, ETHUSDT]
kill_switch:
  max_failures: 7
ledger:
  type: sqlite
  path: ./audit.sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Engine.Symbols)
	assert.Equal(t, 7, cfg.KillSwitch.MaxFailures)
	assert.Equal(t, "sqlite", cfg.Ledger.Type)

	// Untouched sections keep defaults.
	assert.Equal(t, "10m", cfg.KillSwitch.Window)
	interval, err := cfg.EngineInterval()
	require.NoError(t, err)
	assert.Equal(t, "3s", interval.String())
}

func TestLoadFromFileJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sentinel.json")
	body := `{"engine": {"symbols": ["BTCUSDT"]}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Engine.Symbols)
}

func TestLoadFromFileMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
