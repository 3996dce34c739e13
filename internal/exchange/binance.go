package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"meanrev/internal/model"
)

const (
	binanceMainnet = "https://api.binance.com"
	binanceTestnet = "https://testnet.binance.vision"

	binanceMaxKlines  = 1000
	binanceRecvWindow = 5000
)

var binanceRoutes = map[string]string{
	"klines": "/api/v3/klines",
	"depth":  "/api/v3/depth",
	"order":  "/api/v3/order",
}

func init() {
	Register("binance", func(c Credentials) (Client, error) { return NewBinance(c), nil })
}

// Binance is a REST adapter for Binance spot.
type Binance struct {
	baseURL    string
	apiKey     string
	secret     string
	httpClient *http.Client
	now        func() time.Time
}

// NewBinance creates a Binance client. Testnet selects the spot test network
// unless BaseURL is set.
func NewBinance(c Credentials) *Binance {
	base := c.BaseURL
	if base == "" {
		base = binanceMainnet
		if c.Testnet {
			base = binanceTestnet
		}
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Binance{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     c.APIKey,
		secret:     c.APISecret,
		httpClient: &http.Client{Transport: tr, Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// APIError is a non-2xx response. It unwraps to ErrTransient, ErrRejected or
// ErrFatal.
type APIError struct {
	Status int
	Code   int
	Msg    string
	class  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d code %d: %s", e.Status, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return e.class }

// classify maps a Binance response to an error class.
// -2010 and -1013 are order-level rejections; -2015/-1022 are auth failures.
func classify(status, code int) error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || status >= 500:
		return ErrTransient
	case code == -1021: // timestamp outside recvWindow
		return ErrTransient
	case code == -2010 || code == -1013:
		return ErrRejected
	default:
		return ErrFatal
	}
}

// BinanceSymbol converts "BTC/USDT" or "BTC-USDT" to "BTCUSDT".
func BinanceSymbol(symbol string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "")
	return strings.ToUpper(r.Replace(symbol))
}

func (b *Binance) do(ctx context.Context, method, route string, params url.Values, signed bool) ([]byte, error) {
	path, ok := binanceRoutes[route]
	if !ok {
		return nil, fmt.Errorf("binance: unknown route %q", route)
	}
	if params == nil {
		params = url.Values{}
	}

	if signed {
		if b.apiKey == "" || b.secret == "" {
			return nil, fmt.Errorf("binance %s: missing API credentials: %w", route, ErrFatal)
		}
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(binanceRecvWindow))
	}
	payload := params.Encode()
	if signed {
		// the signature covers everything before it and must come last
		payload += "&signature=" + b.sign(payload)
	}

	reqURL := b.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		reqURL += "?" + payload
	} else {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("binance %s: %v: %w", route, err, ErrTransient)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance %s: read body: %v: %w", route, err, ErrTransient)
	}

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(raw))
		}
		return nil, &APIError{
			Status: resp.StatusCode,
			Code:   apiErr.Code,
			Msg:    apiErr.Msg,
			class:  classify(resp.StatusCode, apiErr.Code),
		}
	}
	return raw, nil
}

func (b *Binance) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(b.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// FetchCandles pages backwards through /api/v3/klines when limit exceeds the
// per-request maximum.
func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		out     []model.Candle
		endTime int64
	)
	for remaining := limit; remaining > 0; {
		n := remaining
		if n > binanceMaxKlines {
			n = binanceMaxKlines
		}
		params := url.Values{}
		params.Set("symbol", BinanceSymbol(symbol))
		params.Set("interval", timeframe)
		params.Set("limit", strconv.Itoa(n))
		if endTime > 0 {
			params.Set("endTime", strconv.FormatInt(endTime, 10))
		}

		raw, err := b.do(ctx, http.MethodGet, "klines", params, false)
		if err != nil {
			return nil, err
		}
		page, err := parseKlines(raw)
		if err != nil {
			return nil, fmt.Errorf("binance klines: %w", err)
		}
		out = append(page, out...)
		remaining -= len(page)
		if len(page) < n {
			break
		}
		endTime = page[0].TS.UnixMilli() - 1
	}
	return out, nil
}

// parseKlines decodes [[openTime,"o","h","l","c","v",closeTime,...],...].
func parseKlines(raw []byte) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: want at least 6 fields, got %d", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("row %d open time: %w", i, err)
		}
		var f [5]float64
		for j := 0; j < 5; j++ {
			v, err := decimalField(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("row %d field %d: %w", i, j+1, err)
			}
			f[j] = v
		}
		out = append(out, model.Candle{
			TS:     time.UnixMilli(openMs).UTC(),
			Open:   f[0],
			High:   f[1],
			Low:    f[2],
			Close:  f[3],
			Volume: f[4],
		})
	}
	return out, nil
}

func decimalField(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

type binanceDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (d *binanceDepth) book(symbol string) (model.OrderBook, error) {
	bids, err := levels(d.Bids)
	if err != nil {
		return model.OrderBook{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := levels(d.Asks)
	if err != nil {
		return model.OrderBook{}, fmt.Errorf("asks: %w", err)
	}
	return model.OrderBook{Symbol: symbol, Bids: bids, Asks: asks}, nil
}

func levels(in [][2]string) ([]model.Level, error) {
	out := make([]model.Level, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(l[0])
		if err != nil {
			return nil, err
		}
		q, err := decimal.NewFromString(l[1])
		if err != nil {
			return nil, err
		}
		pf, _ := p.Float64()
		qf, _ := q.Float64()
		out = append(out, model.Level{Price: pf, Volume: qf})
	}
	return out, nil
}

func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, limit int) (model.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", BinanceSymbol(symbol))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	raw, err := b.do(ctx, http.MethodGet, "depth", params, false)
	if err != nil {
		return model.OrderBook{}, err
	}
	var d binanceDepth
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.OrderBook{}, fmt.Errorf("binance depth: %w", err)
	}
	return d.book(symbol)
}

// PlaceMarketOrder submits a MARKET order for qty base units.
func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("binance order: quantity %v: %w", qty, ErrRejected)
	}
	params := url.Values{}
	params.Set("symbol", BinanceSymbol(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", decimal.NewFromFloat(qty).String())

	raw, err := b.do(ctx, http.MethodPost, "order", params, true)
	if err != nil {
		return "", err
	}
	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("binance order: %w", err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}
