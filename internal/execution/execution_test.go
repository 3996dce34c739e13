package execution

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanrev/internal/exchange"
	"meanrev/internal/model"
	"meanrev/internal/strategy"
)

var (
	_ strategy.Executor = (*PaperExecutor)(nil)
	_ strategy.Executor = (*LiveExecutor)(nil)
	_ model.TradeSink   = (*Journal)(nil)
)

type fakeClient struct {
	orders []model.Order
	err    error
}

func (f *fakeClient) FetchCandles(context.Context, string, string, int) ([]model.Candle, error) {
	return nil, nil
}

func (f *fakeClient) FetchOrderBook(context.Context, string, int) (model.OrderBook, error) {
	return model.OrderBook{}, nil
}

func (f *fakeClient) PlaceMarketOrder(_ context.Context, symbol string, side model.Side, qty float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.orders = append(f.orders, model.Order{Symbol: symbol, Side: side, Qty: qty})
	return "venue-1", nil
}

func TestPaperExecutor_UniqueIDs(t *testing.T) {
	p := NewPaperExecutor(-1, nil)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		f, err := p.Buy(context.Background(), "BTC/USDT", 1, 100)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(f.OrderID, "paper-"))
		assert.False(t, seen[f.OrderID], "duplicate id %s", f.OrderID)
		seen[f.OrderID] = true
	}
	assert.Len(t, p.Fills(), 100)
}

func TestPaperExecutor_FillsAtRequestedPrice(t *testing.T) {
	var sides []model.Side
	p := NewPaperExecutor(6, func(s model.Side, err error) {
		assert.NoError(t, err)
		sides = append(sides, s)
	})

	f, err := p.Sell(context.Background(), "BTC/USDT", 1000.0/3.0, 3)
	require.NoError(t, err)
	assert.Equal(t, 333.333333, f.Qty)
	assert.Equal(t, 3.0, f.Price)
	assert.True(t, f.Paper)
	assert.Equal(t, []model.Side{model.Sell}, sides)
}

func TestLiveExecutor_RoundsAndPlaces(t *testing.T) {
	c := &fakeClient{}
	var hooked int
	e := NewLiveExecutor(c, 4, func(model.Side, error) { hooked++ })

	f, err := e.Buy(context.Background(), "BTC/USDT", 1000.0/30000.0, 30000)
	require.NoError(t, err)
	assert.Equal(t, "venue-1", f.OrderID)
	assert.Equal(t, 0.0333, f.Qty)
	assert.Equal(t, 30000.0, f.Price)
	assert.False(t, f.Paper)
	require.Len(t, c.orders, 1)
	assert.Equal(t, model.Order{Symbol: "BTC/USDT", Side: model.Buy, Qty: 0.0333}, c.orders[0])
	assert.Equal(t, 1, hooked)
}

func TestLiveExecutor_Errors(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	c := &fakeClient{err: boom}
	var hookErr error
	e := NewLiveExecutor(c, 6, func(_ model.Side, err error) { hookErr = err })

	_, err := e.Sell(context.Background(), "BTC/USDT", 1, 100)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, hookErr, boom)

	c.err = nil
	_, err = e.Buy(context.Background(), "BTC/USDT", 0.0000001, 100)
	assert.ErrorIs(t, err, exchange.ErrRejected)
	assert.Empty(t, c.orders)
}

func TestJournal_RecordAndRead(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(ctx, model.TradeRecord{
		Kind: model.TradeEntry, Symbol: "BTC/USDT", PositionID: 1, Price: 100, Size: 10,
		OrderID: "paper-a", Tick: model.Tick{Index: 3, TS: ts},
	}))
	require.NoError(t, j.RecordTrade(ctx, model.TradeRecord{
		Kind: model.TradeExit, Symbol: "BTC/USDT", PositionID: 1, Price: 105, Size: 10, PnL: 50,
		Reason: "take_profit", OrderID: "paper-b", Tick: model.Tick{Index: 9, TS: ts.Add(6 * time.Minute)},
	}))
	require.NoError(t, j.RecordTrade(ctx, model.TradeRecord{
		Kind: model.TradeEntry, Symbol: "ETH/USDT", PositionID: 1, Price: 10, Size: 1,
	}))

	recs, err := j.Trades(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.TradeExit, recs[0].Kind)
	assert.Equal(t, "take_profit", recs[0].Reason)
	assert.Equal(t, ts.Add(6*time.Minute), recs[0].Tick.TS)
	assert.Equal(t, 3, recs[1].Tick.Index)

	pnl, err := j.RealizedPnL(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 50.0, pnl)
}
