// Package redis publishes trade records to Redis Streams for dashboards and
// downstream consumers. Writes go through a circuit breaker and are buffered
// in memory while Redis is unreachable.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"meanrev/internal/model"
)

const (
	tradeStreamMaxLen = 10000
	defaultMaxPending = 10000
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// sendFunc writes one encoded record for symbol.
type sendFunc func(ctx context.Context, symbol string, payload string) error

// Publisher implements model.TradeSink on top of Redis.
//
// Each record is XADDed to trades:<symbol> and published on
// pub:trade:<symbol>.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	send   sendFunc

	mu         sync.Mutex
	pending    []pendingTrade
	maxPending int

	// OnBuffer, if set, is called each time a record is buffered.
	OnBuffer func()
}

type pendingTrade struct {
	symbol  string
	payload string
}

// New connects to Redis and pings it.
func New(cfg Config, cb *CircuitBreaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("connected to redis", slog.String("addr", cfg.Addr))
	p := newPublisher(nil, cb)
	p.client = client
	p.send = p.xadd
	return p, nil
}

func newPublisher(send sendFunc, cb *CircuitBreaker) *Publisher {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	return &Publisher{
		cb:         cb,
		send:       send,
		pending:    make([]pendingTrade, 0, 64),
		maxPending: defaultMaxPending,
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// StreamKey is the stream trades for symbol are appended to.
func StreamKey(symbol string) string { return "trades:" + keySymbol(symbol) }

// ChannelName is the pub/sub channel trades for symbol are announced on.
func ChannelName(symbol string) string { return "pub:trade:" + keySymbol(symbol) }

func keySymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "").Replace(symbol))
}

func (p *Publisher) xadd(ctx context.Context, symbol, payload string) error {
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey(symbol),
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(ctx, ChannelName(symbol), payload)
	_, err := pipe.Exec(ctx)
	return err
}

// RecordTrade publishes rec. While Redis is failing the record is buffered
// and nil is returned; buffered records are sent, in order, before the next
// record once Redis is reachable again.
func (p *Publisher) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	pt := pendingTrade{symbol: rec.Symbol, payload: string(rec.JSON())}

	if !p.flush(ctx) {
		p.buffer(pt)
		return nil
	}
	if err := p.cb.Execute(func() error { return p.send(ctx, pt.symbol, pt.payload) }); err != nil {
		slog.Warn("trade publish failed, buffering", slog.String("error", err.Error()))
		p.buffer(pt)
	}
	return nil
}

// Pending returns how many records are waiting to be sent.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// flush sends buffered records oldest first. It reports whether the buffer
// is now empty.
func (p *Publisher) flush(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sent := 0
	for _, pt := range p.pending {
		if err := p.cb.Execute(func() error { return p.send(ctx, pt.symbol, pt.payload) }); err != nil {
			break
		}
		sent++
	}
	if sent > 0 {
		p.pending = append(p.pending[:0], p.pending[sent:]...)
		slog.Info("flushed buffered trades", slog.Int("count", sent))
	}
	return len(p.pending) == 0
}

func (p *Publisher) buffer(pt pendingTrade) {
	p.mu.Lock()
	if len(p.pending) >= p.maxPending {
		p.pending = p.pending[1:] // drop oldest
	}
	p.pending = append(p.pending, pt)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
