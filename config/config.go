// Package config loads the bot configuration from YAML, applies environment
// overrides and validates it.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"meanrev/internal/position"
	"meanrev/internal/signal"
)

// DefaultPath is used when neither a flag nor CONFIG_PATH names a file.
const DefaultPath = "config.yaml"

// Config is the full bot configuration. It is read once at startup and never
// mutated afterwards.
type Config struct {
	Exchange  string `yaml:"exchange" validate:"required"`
	Symbol    string `yaml:"symbol" validate:"required"`
	Timeframe string `yaml:"timeframe" validate:"required"`

	Polling struct {
		CandleSeconds int `yaml:"candle_seconds" validate:"gte=1"`
	} `yaml:"polling"`

	Entry    Entry    `yaml:"entry"`
	Position Position `yaml:"position"`
	Exit     Exit     `yaml:"exit"`

	Mode struct {
		Paper   bool `yaml:"paper"`
		Testnet bool `yaml:"testnet"`
	} `yaml:"mode"`

	Backtest Backtest `yaml:"backtest"`

	Runtime struct {
		RetryBackoffSeconds int `yaml:"retry_backoff_seconds" validate:"gte=1"`
		// Order book snapshots from the depth stream older than this fall
		// back to a REST fetch.
		DepthMaxAgeSeconds int  `yaml:"depth_max_age_seconds" validate:"gte=0"`
		DepthStream        bool `yaml:"depth_stream"`
	} `yaml:"runtime"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Storage struct {
		SQLitePath     string `yaml:"sqlite_path"`
		JournalPath    string `yaml:"journal_path"`
		CaptureCandles bool   `yaml:"capture_candles"`
		RedisAddr      string `yaml:"redis_addr"`
		RedisPassword  string `yaml:"redis_password"`
	} `yaml:"storage"`

	Notify struct {
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   string `yaml:"telegram_chat_id" validate:"required_with=TelegramBotToken"`
		WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
	} `yaml:"notify"`

	Report struct {
		Cron string `yaml:"cron"`
	} `yaml:"report"`

	Log struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
	} `yaml:"log"`

	// Credentials come from the environment (or .env) only.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Entry holds the entry gate thresholds.
type Entry struct {
	LookbackMinutes      int     `yaml:"lookback_minutes" validate:"gte=1"`
	DropPct              float64 `yaml:"drop_pct" validate:"gt=0"`
	RSIPeriod            int     `yaml:"rsi_period" validate:"gte=2"`
	RSIThreshold         float64 `yaml:"rsi_threshold" validate:"gte=0,lte=100"`
	BBPeriod             int     `yaml:"bb_period" validate:"gte=2"`
	BBStd                float64 `yaml:"bb_std" validate:"gt=0"`
	BBTouchTolerancePct  float64 `yaml:"bb_touch_tolerance_pct" validate:"gte=0"`
	OBImbalanceThreshold float64 `yaml:"ob_imbalance_threshold" validate:"gte=-1,lte=1"`
	OBDepth              int     `yaml:"ob_depth" validate:"gte=1"`
	OBFetchLimit         int     `yaml:"ob_fetch_limit" validate:"gtefield=OBDepth"`
}

// Position holds sizing and concurrency limits.
type Position struct {
	SizeUSD                float64 `yaml:"size_usd" validate:"gt=0"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions" validate:"gte=1"`
	QuantityPrecision      int32   `yaml:"quantity_precision" validate:"gte=0,lte=18"`
}

// Exit holds the take-profit and stop-loss thresholds in percent.
// StopLossPct must be negative.
type Exit struct {
	TakeProfitPct float64 `yaml:"take_profit_pct" validate:"gt=0"`
	StopLossPct   float64 `yaml:"stop_loss_pct" validate:"lt=0"`
}

// Backtest configures the historical replay.
type Backtest struct {
	InitialCapital float64 `yaml:"initial_capital" validate:"gt=0"`
	Limit          int     `yaml:"limit" validate:"gte=1"`
	CSVPath        string  `yaml:"csv_path"`
	SQLitePath     string  `yaml:"sqlite_path"`
	ExportPath     string  `yaml:"export_path"`
	PrintTrades    int     `yaml:"print_trades" validate:"gte=0"`
}

// Default returns the configuration used for any key the file omits.
func Default() *Config {
	c := &Config{
		Exchange:  "binance",
		Symbol:    "DOGE/USDT",
		Timeframe: "1m",
		Entry: Entry{
			LookbackMinutes:      15,
			DropPct:              2.0,
			RSIPeriod:            14,
			RSIThreshold:         30,
			BBPeriod:             20,
			BBStd:                2.0,
			BBTouchTolerancePct:  0.05,
			OBImbalanceThreshold: 0.1,
			OBDepth:              10,
			OBFetchLimit:         20,
		},
		Position: Position{
			SizeUSD:                20,
			MaxConcurrentPositions: 1,
			QuantityPrecision:      6,
		},
		Exit: Exit{
			TakeProfitPct: 1.5,
			StopLossPct:   -1.0,
		},
		Backtest: Backtest{
			InitialCapital: 1000,
			Limit:          5000,
			PrintTrades:    20,
		},
	}
	c.Polling.CandleSeconds = 60
	c.Mode.Paper = true
	c.Runtime.RetryBackoffSeconds = 5
	c.Runtime.DepthMaxAgeSeconds = 5
	c.Metrics.Addr = ":9090"
	c.Report.Cron = "0 0 * * * *"
	c.Log.Level = "info"
	return c
}

// Load reads path (a missing file means all defaults), applies .env and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PathFromEnv returns CONFIG_PATH or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("EXCHANGE", &c.Exchange)
	setString("SYMBOL", &c.Symbol)
	setString("TIMEFRAME", &c.Timeframe)
	setString("METRICS_ADDR", &c.Metrics.Addr)
	setString("SQLITE_PATH", &c.Storage.SQLitePath)
	setString("JOURNAL_PATH", &c.Storage.JournalPath)
	setString("REDIS_ADDR", &c.Storage.RedisAddr)
	setString("REDIS_PASSWORD", &c.Storage.RedisPassword)
	setString("TELEGRAM_BOT_TOKEN", &c.Notify.TelegramBotToken)
	setString("TELEGRAM_CHAT_ID", &c.Notify.TelegramChatID)
	setString("WEBHOOK_URL", &c.Notify.WebhookURL)
	setString("LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("PAPER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAPER=%q: %w", v, err)
		}
		c.Mode.Paper = b
	}
	if v := os.Getenv("TESTNET"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TESTNET=%q: %w", v, err)
		}
		c.Mode.Testnet = b
	}

	prefix := strings.ToUpper(c.Exchange)
	setString(prefix+"_API_KEY", &c.APIKey)
	setString(prefix+"_API_SECRET", &c.APISecret)
	return nil
}

var validate = validator.New()

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := ParseTimeframe(c.Timeframe); err != nil {
		return fmt.Errorf("invalid config: timeframe: %w", err)
	}
	if c.Report.Cron != "" {
		if _, err := cronParser.Parse(c.Report.Cron); err != nil {
			return fmt.Errorf("invalid config: report.cron: %w", err)
		}
	}
	if !c.Mode.Paper && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("invalid config: live trading needs %s_API_KEY and %s_API_SECRET",
			strings.ToUpper(c.Exchange), strings.ToUpper(c.Exchange))
	}
	return nil
}

// CronParser parses report schedules the same way Validate does.
func CronParser() cron.Parser { return cronParser }

// ParseTimeframe converts a venue interval such as "1m", "4h" or "1w" to a
// duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("bad timeframe %q: unit must be one of s, m, h, d, w", tf)
	}
	return time.Duration(n) * unit, nil
}

// TimeframeDuration is ParseTimeframe on the validated timeframe.
func (c *Config) TimeframeDuration() time.Duration {
	d, _ := ParseTimeframe(c.Timeframe)
	return d
}

// LookbackBars converts entry.lookback_minutes to whole candles at the
// configured timeframe, rounding up, never below 1.
func (c *Config) LookbackBars() int {
	tf := c.TimeframeDuration()
	if tf <= 0 {
		return c.Entry.LookbackMinutes
	}
	bars := int(math.Ceil(float64(time.Duration(c.Entry.LookbackMinutes)*time.Minute) / float64(tf)))
	if bars < 1 {
		bars = 1
	}
	return bars
}

// SignalConfig returns the evaluator thresholds.
func (c *Config) SignalConfig() signal.Config {
	return signal.Config{
		Lookback:            c.LookbackBars(),
		DropPct:             c.Entry.DropPct,
		RSIPeriod:           c.Entry.RSIPeriod,
		RSIThreshold:        c.Entry.RSIThreshold,
		BBPeriod:            c.Entry.BBPeriod,
		BBStd:               c.Entry.BBStd,
		BBTouchTolerancePct: c.Entry.BBTouchTolerancePct,
		ImbalanceThreshold:  c.Entry.OBImbalanceThreshold,
	}
}

// Limits returns the position book limits.
func (c *Config) Limits() position.Limits {
	return position.Limits{
		SizeUSD:       c.Position.SizeUSD,
		MaxConcurrent: c.Position.MaxConcurrentPositions,
		TakeProfitPct: c.Exit.TakeProfitPct,
		StopLossPct:   c.Exit.StopLossPct,
	}
}

// PollInterval is the pause between live ticks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.CandleSeconds) * time.Second
}

// RetryBackoff is the pause after a failed tick.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Runtime.RetryBackoffSeconds) * time.Second
}
