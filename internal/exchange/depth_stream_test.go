package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthStream_URL(t *testing.T) {
	s := NewDepthStream("BTC/USDT", 10, "")
	assert.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@depth10@100ms", s.url)
	assert.True(t, strings.HasSuffix(NewDepthStream("BTC/USDT", 7, "").url, "@depth10@100ms"))
	assert.True(t, strings.HasSuffix(NewDepthStream("BTC/USDT", 50, "").url, "@depth20@100ms"))
}

func TestDepthStream_ReceivesSnapshots(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/btcusdt@depth10@100ms", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"lastUpdateId":7,"bids":[["10","4"]],"asks":[["11","1"]]}`))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewDepthStream("BTC/USDT", 10, "ws"+strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := s.Latest(time.Minute)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	book, _ := s.Latest(time.Minute)
	assert.InDelta(t, 0.6, book.Imbalance(10), 1e-12)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDepthStream_StaleSnapshotIgnored(t *testing.T) {
	s := NewDepthStream("BTC/USDT", 10, "")
	_, ok := s.Latest(time.Second)
	assert.False(t, ok)

	require.NoError(t, s.handle([]byte(`{"bids":[["1","1"]],"asks":[]}`)))
	s.mu.Lock()
	s.updated = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	_, ok = s.Latest(time.Second)
	assert.False(t, ok)
}
