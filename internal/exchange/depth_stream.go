package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"meanrev/internal/model"
)

const binanceStreamURL = "wss://stream.binance.com:9443"

// DepthStream keeps the latest partial order book snapshot pushed by the
// Binance <symbol>@depth<N>@100ms stream. It reconnects until its context is
// cancelled.
type DepthStream struct {
	symbol         string
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            *slog.Logger

	mu      sync.RWMutex
	book    model.OrderBook
	updated time.Time

	// OnReconnect, if set, is called after every dropped connection.
	OnReconnect func()
}

// NewDepthStream builds a stream for symbol with levels in {5, 10, 20}.
// baseURL "" selects the production endpoint.
func NewDepthStream(symbol string, levels int, baseURL string) *DepthStream {
	if baseURL == "" {
		baseURL = binanceStreamURL
	}
	switch {
	case levels <= 5:
		levels = 5
	case levels <= 10:
		levels = 10
	default:
		levels = 20
	}
	stream := fmt.Sprintf("%s@depth%d@100ms", strings.ToLower(BinanceSymbol(symbol)), levels)
	return &DepthStream{
		symbol:         symbol,
		url:            strings.TrimRight(baseURL, "/") + "/ws/" + stream,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: 5 * time.Second,
		log:            slog.Default().With(slog.String("component", "depth_stream"), slog.String("symbol", symbol)),
	}
}

// Latest returns the newest snapshot if it is younger than maxAge.
func (s *DepthStream) Latest(maxAge time.Duration) (model.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updated.IsZero() || time.Since(s.updated) > maxAge {
		return model.OrderBook{}, false
	}
	return s.book, true
}

// Run connects and reads until ctx is cancelled, reconnecting after errors.
func (s *DepthStream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("depth stream disconnected", slog.String("error", fmt.Sprint(err)))
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *DepthStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	s.log.Info("depth stream connected", slog.String("url", s.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if err := s.handle(msg); err != nil {
			s.log.Warn("bad depth message", slog.String("error", err.Error()))
		}
	}
}

func (s *DepthStream) handle(msg []byte) error {
	var d binanceDepth
	if err := json.Unmarshal(msg, &d); err != nil {
		return err
	}
	book, err := d.book(s.symbol)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.book = book
	s.updated = time.Now()
	s.mu.Unlock()
	return nil
}
