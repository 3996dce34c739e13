package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanrev/internal/model"
)

func newTestBinance(t *testing.T, h http.HandlerFunc) *Binance {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b := NewBinance(Credentials{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
	b.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return b
}

func kline(openMs int64, o, h, l, c, v string) string {
	return fmt.Sprintf(`[%d,"%s","%s","%s","%s","%s",%d,"0",1,"0","0","0"]`, openMs, o, h, l, c, v, openMs+59999)
}

func TestBinanceSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", BinanceSymbol("BTC/USDT"))
	assert.Equal(t, "DOGEUSDT", BinanceSymbol("doge-usdt"))
	assert.Equal(t, "ETHBTC", BinanceSymbol("ETHBTC"))
}

func TestBinance_FetchCandles(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprintf(w, "[%s,%s]",
			kline(1700000000000, "100.5", "101", "99.5", "100.25", "12.5"),
			kline(1700000060000, "100.25", "100.3", "98", "98.1", "40"))
	})

	candles, err := b.FetchCandles(context.Background(), "BTC/USDT", "1m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].TS)
	assert.Equal(t, model.Candle{
		TS: time.UnixMilli(1700000060000).UTC(), Open: 100.25, High: 100.3, Low: 98, Close: 98.1, Volume: 40,
	}, candles[1])
}

func TestBinance_FetchCandlesPagesBackwards(t *testing.T) {
	const total = 1500
	base := int64(1700000000000)
	calls := 0

	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := base + int64(total-1)*60000
		if e := r.URL.Query().Get("endTime"); e != "" {
			endTime, _ := strconv.ParseInt(e, 10, 64)
			end = base + (endTime-base)/60000*60000 // latest open time at or before endTime
		}
		var rows []string
		for ts := end; len(rows) < limit && ts >= base; ts -= 60000 {
			rows = append([]string{kline(ts, "1", "1", "1", "1", "1")}, rows...)
		}
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	})

	candles, err := b.FetchCandles(context.Background(), "BTC/USDT", "1m", 5000)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, candles, total)
	for i := 1; i < len(candles); i++ {
		require.Equal(t, time.Minute, candles[i].TS.Sub(candles[i-1].TS), "index %d", i)
	}
}

func TestBinance_FetchOrderBook(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"lastUpdateId":1,"bids":[["100.0","3.0"],["99.5","1.0"]],"asks":[["100.5","2.0"]]}`)
	})

	book, err := b.FetchOrderBook(context.Background(), "BTC/USDT", 20)
	require.NoError(t, err)
	assert.Equal(t, []model.Level{{Price: 100, Volume: 3}, {Price: 99.5, Volume: 1}}, book.Bids)
	assert.Equal(t, []model.Level{{Price: 100.5, Volume: 2}}, book.Asks)
	assert.InDelta(t, (4.0-2.0)/6.0, book.Imbalance(10), 1e-12)
}

func TestBinance_PlaceMarketOrderSigned(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		require.NoError(t, r.ParseForm())

		form := r.PostForm
		assert.Equal(t, "BTCUSDT", form.Get("symbol"))
		assert.Equal(t, "SELL", form.Get("side"))
		assert.Equal(t, "MARKET", form.Get("type"))
		assert.Equal(t, "0.012345", form.Get("quantity"))
		assert.Equal(t, "1700000000000", form.Get("timestamp"))

		sig := form.Get("signature")
		form.Del("signature")
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(form.Encode()))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)

		fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":28,"status":"FILLED"}`)
	})

	id, err := b.PlaceMarketOrder(context.Background(), "BTC/USDT", model.Sell, 0.012345)
	require.NoError(t, err)
	assert.Equal(t, "28", id)
}

func TestBinance_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"code":-1003,"msg":"too many requests"}`, ErrTransient},
		{"server error", http.StatusBadGateway, `bad gateway`, ErrTransient},
		{"clock skew", http.StatusBadRequest, `{"code":-1021,"msg":"timestamp outside recvWindow"}`, ErrTransient},
		{"bad key", http.StatusUnauthorized, `{"code":-2015,"msg":"invalid api key"}`, ErrFatal},
		{"bad symbol", http.StatusBadRequest, `{"code":-1121,"msg":"invalid symbol"}`, ErrFatal},
		{"insufficient balance", http.StatusBadRequest, `{"code":-2010,"msg":"insufficient balance"}`, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := b.PlaceMarketOrder(context.Background(), "BTC/USDT", model.Buy, 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.class)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestBinance_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	u, _ := url.Parse(srv.URL)
	srv.Close()

	b := NewBinance(Credentials{BaseURL: "http://" + u.Host})
	_, err := b.FetchCandles(context.Background(), "BTC/USDT", "1m", 10)
	assert.True(t, IsTransient(err), "got %v", err)
}

func TestBinance_OrderWithoutCredentialsIsFatal(t *testing.T) {
	b := NewBinance(Credentials{BaseURL: "http://127.0.0.1:1"})
	_, err := b.PlaceMarketOrder(context.Background(), "BTC/USDT", model.Buy, 1)
	assert.True(t, IsFatal(err), "got %v", err)
}

func TestRegistry(t *testing.T) {
	c, err := New("Binance", Credentials{})
	require.NoError(t, err)
	assert.IsType(t, &Binance{}, c)
	assert.Contains(t, Venues(), "binance")

	_, err = New("kraken", Credentials{})
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

func TestRoundQty(t *testing.T) {
	assert.Equal(t, 0.123457, RoundQty(0.1234567, 6))
	assert.Equal(t, 20.0, RoundQty(20, 6))
	assert.Equal(t, 1.5, RoundQty(1.45, 1))
}
