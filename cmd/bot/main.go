// cmd/bot runs the mean-reversion dip buyer against a live venue, in paper
// mode by default.
//
// Usage:
//
//	go run ./cmd/bot --config=config.yaml
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"meanrev/config"
	"meanrev/internal/api"
	"meanrev/internal/exchange"
	"meanrev/internal/execution"
	"meanrev/internal/live"
	"meanrev/internal/logger"
	"meanrev/internal/metrics"
	"meanrev/internal/model"
	"meanrev/internal/notification"
	"meanrev/internal/position"
	"meanrev/internal/scheduler"
	sig "meanrev/internal/signal"
	redisstore "meanrev/internal/store/redis"
	sqlitestore "meanrev/internal/store/sqlite"
	"meanrev/internal/strategy"
)

var rootCmd = &cobra.Command{
	Use:           "bot",
	Short:         "Buy sharp dips that look oversold and sell on take-profit or stop-loss",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("paper") {
			cfg.Mode.Paper, _ = cmd.Flags().GetBool("paper")
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		return run(cfg)
	},
}

func main() {
	rootCmd.Flags().StringP("config", "c", config.PathFromEnv(), "Path to the YAML config file")
	rootCmd.Flags().Bool("paper", true, "Simulate orders instead of sending them to the venue")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("bot exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.Init("meanrev-bot", logger.ParseLevel(cfg.Log.Level))
	log.Info("starting",
		slog.String("exchange", cfg.Exchange),
		slog.String("symbol", cfg.Symbol),
		slog.String("timeframe", cfg.Timeframe),
		slog.Bool("paper", cfg.Mode.Paper))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(3*cfg.PollInterval() + cfg.RetryBackoff())
	var metricsSrv *metrics.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, health, reg)
	}

	// ---- Venue ----
	client, err := exchange.New(cfg.Exchange, exchange.Credentials{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Mode.Testnet,
	})
	if err != nil {
		return err
	}

	onOrder := func(side model.Side, err error) {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		prom.Orders.WithLabelValues(string(side), result).Inc()
	}
	var exec strategy.Executor
	if cfg.Mode.Paper {
		exec = execution.NewPaperExecutor(cfg.Position.QuantityPrecision, onOrder)
	} else {
		exec = execution.NewLiveExecutor(client, cfg.Position.QuantityPrecision, onOrder)
		log.Warn("LIVE TRADING ENABLED: orders will be sent to " + cfg.Exchange)
	}

	// ---- Trade sinks ----
	var sinks []model.TradeSink
	if cfg.Storage.JournalPath != "" {
		journal, err := execution.NewJournal(cfg.Storage.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	var publisher *redisstore.Publisher
	if cfg.Storage.RedisAddr != "" {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(_, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
		}, cb)
		if err != nil {
			log.Warn("redis unavailable, continuing without trade stream", slog.String("error", err.Error()))
		} else {
			defer publisher.Close()
			publisher.OnBuffer = prom.RedisBufferedWrites.Inc
			sinks = append(sinks, publisher)
		}
	}

	// ---- Candle capture ----
	var capture chan model.Candle
	var captureDone chan struct{}
	var candleStore *sqlitestore.Store
	if cfg.Storage.SQLitePath != "" && cfg.Storage.CaptureCandles {
		candleStore, err = sqlitestore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open candle store: %w", err)
		}
		defer candleStore.Close()
		capture = make(chan model.Candle, 1000)
		captureDone = make(chan struct{})
		go func() {
			defer close(captureDone)
			candleStore.Run(ctx, cfg.Symbol, cfg.Timeframe, capture)
		}()
	}

	var rdb *goredis.Client
	if publisher != nil {
		rdb = publisher.Client()
	}
	var sqlDB *sql.DB
	if candleStore != nil {
		sqlDB = candleStore.DB()
	}
	if rdb != nil || sqlDB != nil {
		health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)
	}

	// ---- Order book stream ----
	var depth *exchange.DepthStream
	if cfg.Runtime.DepthStream && strings.EqualFold(cfg.Exchange, "binance") {
		depth = exchange.NewDepthStream(cfg.Symbol, cfg.Entry.OBFetchLimit, "")
		depth.OnReconnect = prom.DepthReconnects.Inc
		go depth.Run(ctx)
	}

	// ---- Alerts ----
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.TelegramBotToken != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}

	// ---- Engine ----
	book, err := position.NewBook(cfg.Symbol, cfg.Limits())
	if err != nil {
		return err
	}
	sigCfg := cfg.SignalConfig()
	engine := strategy.NewEngine(sig.NewEvaluator(sigCfg), book, exec, strategy.Options{
		Symbol:    cfg.Symbol,
		Timeframe: cfg.TimeframeDuration(),
		Fill:      strategy.FillAtClose,
		Sinks:     sinks,
		Logger:    log,
	})

	driver := live.New(live.Config{
		Symbol:       cfg.Symbol,
		Timeframe:    cfg.Timeframe,
		Window:       strategy.WindowSize(sigCfg),
		PollInterval: cfg.PollInterval(),
		RetryBackoff: cfg.RetryBackoff(),
		OBFetchLimit: cfg.Entry.OBFetchLimit,
		OBDepth:      cfg.Entry.OBDepth,
		DepthMaxAge:  time.Duration(cfg.Runtime.DepthMaxAgeSeconds) * time.Second,
		Paper:        cfg.Mode.Paper,
	}, live.Deps{
		Client:   client,
		Engine:   engine,
		Depth:    depth,
		Metrics:  prom,
		Health:   health,
		Notifier: notifier,
		Capture:  capture,
	})

	if metricsSrv != nil {
		metricsSrv.Handle("/api/", api.NewRouter(driver.Status, book))
		metricsSrv.Start()
	}

	sched := scheduler.New(ctx, driver.Status, notifier)
	if err := sched.RegisterReport(cfg.Report.Cron); err != nil {
		return err
	}
	sched.Start()

	runErr := driver.Run(ctx)

	// ---- Shutdown ----
	stop()
	sched.Stop()
	if captureDone != nil {
		<-captureDone
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Stop(shutdownCtx)
		cancel()
	}

	sum := book.Summary(driver.Status().LastClose)
	log.Info("stopped",
		slog.Int("entries", sum.Entries),
		slog.Int("exits", sum.Exits),
		slog.Int("open_positions", sum.OpenPositions),
		slog.Float64("realized_pnl", sum.RealizedPnL))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
