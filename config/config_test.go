package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Entry, cfg.Entry)
	assert.True(t, cfg.Mode.Paper)
	assert.Equal(t, 5*time.Second, cfg.RetryBackoff())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
symbol: BTC/USDT
timeframe: 5m
entry:
  lookback_minutes: 12
  drop_pct: 3.5
position:
  max_concurrent_positions: 2
exit:
  take_profit_pct: 2
  stop_loss_pct: -1.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT", cfg.Symbol)
	assert.Equal(t, 3.5, cfg.Entry.DropPct)
	assert.Equal(t, 14, cfg.Entry.RSIPeriod, "untouched keys keep defaults")
	assert.Equal(t, 3, cfg.LookbackBars(), "12 minutes at 5m rounds up to 3 bars")

	lim := cfg.Limits()
	assert.Equal(t, 2, lim.MaxConcurrent)
	assert.Equal(t, -1.5, lim.StopLossPct)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SYMBOL", "ETH/USDT")
	t.Setenv("PAPER", "false")
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", cfg.Symbol)
	assert.False(t, cfg.Mode.Paper)
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, "s", cfg.APISecret)
}

func TestLoad_BadPaperFlag(t *testing.T) {
	t.Setenv("PAPER", "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"positive stop loss", func(c *Config) { c.Exit.StopLossPct = 1 }},
		{"zero take profit", func(c *Config) { c.Exit.TakeProfitPct = 0 }},
		{"fetch limit below depth", func(c *Config) { c.Entry.OBFetchLimit = 5 }},
		{"zero positions", func(c *Config) { c.Position.MaxConcurrentPositions = 0 }},
		{"bad timeframe", func(c *Config) { c.Timeframe = "7x" }},
		{"bad cron", func(c *Config) { c.Report.Cron = "every hour" }},
		{"live without keys", func(c *Config) { c.Mode.Paper = false }},
		{"chat id missing", func(c *Config) { c.Notify.TelegramBotToken = "tok" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1m", time.Minute, true},
		{"15m", 15 * time.Minute, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"30s", 30 * time.Second, true},
		{"m", 0, false},
		{"0m", 0, false},
		{"5y", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseTimeframe(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLookbackBars_NeverBelowOne(t *testing.T) {
	c := Default()
	c.Timeframe = "1h"
	c.Entry.LookbackMinutes = 15
	assert.Equal(t, 1, c.LookbackBars())

	c.Timeframe = "1m"
	assert.Equal(t, 15, c.LookbackBars())
	assert.Equal(t, 15, c.SignalConfig().Lookback)
}
