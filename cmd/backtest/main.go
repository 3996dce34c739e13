// cmd/backtest replays historical candles through the strategy and prints a
// summary with the first trades.
//
// Usage:
//
//	go run ./cmd/backtest --source=venue --limit=5000
//	go run ./cmd/backtest --source=csv --csv=data/doge_1m.csv --export=trades.csv
//	go run ./cmd/backtest --source=sqlite --db=data/candles.db
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meanrev/config"
	"meanrev/internal/backtest"
	"meanrev/internal/exchange"
	"meanrev/internal/logger"
	"meanrev/internal/model"
	sqlitestore "meanrev/internal/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:           "backtest",
	Short:         "Replay candle history through the dip-buying rules",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("limit") {
			cfg.Backtest.Limit, _ = flags.GetInt("limit")
		}
		if flags.Changed("csv") {
			cfg.Backtest.CSVPath, _ = flags.GetString("csv")
		}
		if flags.Changed("db") {
			cfg.Backtest.SQLitePath, _ = flags.GetString("db")
		}
		if flags.Changed("export") {
			cfg.Backtest.ExportPath, _ = flags.GetString("export")
		}
		if flags.Changed("print") {
			cfg.Backtest.PrintTrades, _ = flags.GetInt("print")
		}
		if flags.Changed("capital") {
			cfg.Backtest.InitialCapital, _ = flags.GetFloat64("capital")
		}
		source, _ := flags.GetString("source")
		return run(cmd.Context(), cfg, source)
	},
}

func main() {
	rootCmd.Flags().StringP("config", "c", config.PathFromEnv(), "Path to the YAML config file")
	rootCmd.Flags().String("source", "", "Candle source: venue, csv or sqlite (default: csv or sqlite when a path is configured, else venue)")
	rootCmd.Flags().Int("limit", 0, "Candles to fetch or read")
	rootCmd.Flags().String("csv", "", "Candle CSV file (timestamp,open,high,low,close,volume)")
	rootCmd.Flags().String("db", "", "SQLite candle store")
	rootCmd.Flags().String("export", "", "Write the trade log to this CSV file")
	rootCmd.Flags().Int("print", 0, "Trades to print (-1 = all)")
	rootCmd.Flags().Float64("capital", 0, "Initial capital")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("backtest failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, source string) error {
	// the engine logs every fill at info; replays print the report instead
	level := logger.ParseLevel(cfg.Log.Level)
	if level < slog.LevelWarn && level != slog.LevelDebug {
		level = slog.LevelWarn
	}
	log := logger.Init("meanrev-backtest", level)

	candles, err := loadCandles(ctx, cfg, source)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles for %s %s", cfg.Symbol, cfg.Timeframe)
	}

	start := time.Now()
	rep, err := backtest.Run(ctx, candles, backtest.Config{
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.TimeframeDuration(),
		Signal:         cfg.SignalConfig(),
		Limits:         cfg.Limits(),
		InitialCapital: cfg.Backtest.InitialCapital,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	log.Info("replay finished", slog.Int("candles", len(candles)), slog.Duration("took", time.Since(start)))

	rep.Render(os.Stdout, cfg.Backtest.PrintTrades)

	if cfg.Backtest.ExportPath != "" {
		if err := backtest.ExportTrades(cfg.Backtest.ExportPath, rep.Trades); err != nil {
			return err
		}
		fmt.Printf("trade log written to %s\n", cfg.Backtest.ExportPath)
	}
	return nil
}

func loadCandles(ctx context.Context, cfg *config.Config, source string) ([]model.Candle, error) {
	if source == "" {
		switch {
		case cfg.Backtest.CSVPath != "":
			source = "csv"
		case cfg.Backtest.SQLitePath != "":
			source = "sqlite"
		default:
			source = "venue"
		}
	}

	switch source {
	case "csv":
		if cfg.Backtest.CSVPath == "" {
			return nil, fmt.Errorf("--source=csv needs --csv or backtest.csv_path")
		}
		candles, err := backtest.LoadCandlesCSV(cfg.Backtest.CSVPath)
		if err != nil {
			return nil, err
		}
		if n := cfg.Backtest.Limit; n > 0 && len(candles) > n {
			candles = candles[len(candles)-n:]
		}
		return candles, nil

	case "sqlite":
		path := cfg.Backtest.SQLitePath
		if path == "" {
			path = cfg.Storage.SQLitePath
		}
		if path == "" {
			return nil, fmt.Errorf("--source=sqlite needs --db or backtest.sqlite_path")
		}
		store, err := sqlitestore.Open(path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.ReadCandles(ctx, cfg.Symbol, cfg.Timeframe, time.Time{}, cfg.Backtest.Limit)

	case "venue":
		client, err := exchange.New(cfg.Exchange, exchange.Credentials{})
		if err != nil {
			return nil, err
		}
		return client.FetchCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.Backtest.Limit)

	default:
		return nil, fmt.Errorf("unknown source %q (want venue, csv or sqlite)", source)
	}
}
