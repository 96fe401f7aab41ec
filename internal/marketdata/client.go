// Package marketdata implements the rate-limited, circuit-broken, TTL-cached
// client over the upstream market-data HTTP provider. All upstream access in
// the engine goes through this package; callers receive immutable copies and
// never bypass the cache.
package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"signal-engine/internal/cache"
	"signal-engine/internal/circuit"
	"signal-engine/internal/instruments"
	"signal-engine/internal/logging"
	"signal-engine/internal/ratelimit"
)

// Config holds provider connection settings.
type Config struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"-"`
	CryptoExchange string        `json:"crypto_exchange"` // exchange hint for crypto symbols
	Timeout        time.Duration `json:"timeout"`
}

// Client is the provider HTTP client. Every call path is: cache lookup,
// rate-limiter acquire, circuit-broken HTTP request with retry, parse and
// sort oldest-first, cache store.
type Client struct {
	http    *resty.Client
	cfg     Config
	cache   *cache.TTLCache
	limiter *ratelimit.Limiter
	breaker *circuit.Breaker
	log     zerolog.Logger
}

// NewClient creates a provider client. Retries are handled by the HTTP layer:
// up to 3 attempts with exponential backoff on 429, 5xx, and network errors.
func NewClient(cfg Config, c *cache.TTLCache, limiter *ratelimit.Limiter, breaker *circuit.Breaker) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Authorization", "apikey "+cfg.APIKey)

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		cache:   c,
		limiter: limiter,
		breaker: breaker,
		log:     logging.Component("marketdata"),
	}
}

// ProviderSymbol converts an internal symbol to the provider's slash form:
// EURUSD -> EUR/USD, BTCUSD -> BTC/USD.
func ProviderSymbol(symbol string) string {
	if len(symbol) < 6 {
		return symbol
	}
	// Index/energy symbols are passed through unchanged.
	switch symbol {
	case "SPX500", "NAS100", "USOIL":
		return symbol
	}
	return symbol[:3] + "/" + symbol[3:]
}

// ProviderInterval maps internal interval codes to provider intervals.
func ProviderInterval(interval string) string {
	switch interval {
	case IntervalH1:
		return "1h"
	case IntervalH4:
		return "4h"
	case IntervalD1:
		return "1day"
	default:
		return interval
	}
}

// apiResponse is the provider's envelope for series endpoints.
type apiResponse struct {
	Values  []map[string]string `json:"values"`
	Status  string              `json:"status"`
	Message string              `json:"message"`
}

// TimeValue is one scalar indicator sample.
type TimeValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// baseParams builds the query parameters common to every endpoint.
func (c *Client) baseParams(symbol, interval string, outputSize int) map[string]string {
	params := map[string]string{
		"symbol":     ProviderSymbol(symbol),
		"interval":   ProviderInterval(interval),
		"outputsize": strconv.Itoa(outputSize),
	}
	if instruments.IsCrypto(symbol) {
		params["exchange"] = c.cfg.CryptoExchange
	}
	return params
}

// fetch runs one provider request through the limiter and breaker.
func (c *Client) fetch(ctx context.Context, path string, params map[string]string) (*apiResponse, error) {
	if _, err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("marketdata %s: %w", path, err)
	}

	var out apiResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&out).
			Get(path)
		if err != nil {
			return fmt.Errorf("request %s: %w", path, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode(), resp.String())
		}
		if out.Status == "error" {
			return fmt.Errorf("request %s: provider error: %s", path, out.Message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBars fetches OHLCV bars for a symbol/interval, oldest-first.
func (c *Client) GetBars(ctx context.Context, symbol, interval string, outputSize int) ([]Bar, error) {
	key := cache.Key(symbol, interval, "ohlcv", strconv.Itoa(outputSize))
	if v, ok := c.cache.Get(key); ok {
		return copyBars(v.([]Bar)), nil
	}

	resp, err := c.fetch(ctx, "/time_series", c.baseParams(symbol, interval, outputSize))
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(resp.Values))
	for _, row := range resp.Values {
		b, err := parseBar(row)
		if err != nil {
			c.log.Warn().Str("symbol", symbol).Err(err).Msg("dropping unparseable bar")
			continue
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	c.cache.Set(key, bars, cache.SeriesTTL(interval))
	return copyBars(bars), nil
}

// GetScalarIndicator fetches one scalar indicator series (ema, sma, rsi, atr,
// adx, cci, willr, obv), oldest-first. timePeriod <= 0 omits the parameter.
func (c *Client) GetScalarIndicator(ctx context.Context, symbol, interval, indicator string, timePeriod, outputSize int) ([]TimeValue, error) {
	periodStr := ""
	if timePeriod > 0 {
		periodStr = strconv.Itoa(timePeriod)
	}
	key := cache.Key(symbol, interval, indicator, periodStr)
	if v, ok := c.cache.Get(key); ok {
		return copyTimeValues(v.([]TimeValue)), nil
	}

	params := c.baseParams(symbol, interval, outputSize)
	if timePeriod > 0 {
		params["time_period"] = periodStr
	}
	resp, err := c.fetch(ctx, "/"+indicator, params)
	if err != nil {
		return nil, err
	}

	values := parseScalarSeries(resp.Values, indicator)
	c.cache.Set(key, values, cache.SeriesTTL(interval))
	return copyTimeValues(values), nil
}

// GetPrice fetches the current price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	key := cache.Key(symbol, "price")
	if v, ok := c.cache.Get(key); ok {
		return v.(float64), nil
	}

	if _, err := c.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	var out struct {
		Price   string `json:"price"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		params := map[string]string{"symbol": ProviderSymbol(symbol)}
		if instruments.IsCrypto(symbol) {
			params["exchange"] = c.cfg.CryptoExchange
		}
		resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).SetResult(&out).Get("/price")
		if err != nil {
			return fmt.Errorf("request /price: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("request /price: status %d", resp.StatusCode())
		}
		if out.Status == "error" {
			return fmt.Errorf("request /price: provider error: %s", out.Message)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", out.Price, err)
	}
	c.cache.Set(key, price, time.Minute)
	return price, nil
}

// parseBar parses one provider OHLCV row.
func parseBar(row map[string]string) (Bar, error) {
	ts, err := parseTimestamp(row["datetime"])
	if err != nil {
		return Bar{}, err
	}
	o, err1 := strconv.ParseFloat(row["open"], 64)
	h, err2 := strconv.ParseFloat(row["high"], 64)
	l, err3 := strconv.ParseFloat(row["low"], 64)
	cl, err4 := strconv.ParseFloat(row["close"], 64)
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			return Bar{}, fmt.Errorf("parse bar at %s: %w", row["datetime"], err)
		}
	}
	// Volume is absent for some forex feeds; treat missing as zero.
	vol := 0.0
	if vs, ok := row["volume"]; ok && vs != "" {
		vol, err = strconv.ParseFloat(vs, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("parse volume at %s: %w", row["datetime"], err)
		}
	}
	return Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: cl, Volume: vol}, nil
}

// parseScalarSeries extracts one scalar column from provider rows, sorted
// oldest-first. Unparseable rows become NaN samples so callers see them as
// undefined rather than zero.
func parseScalarSeries(rows []map[string]string, indicator string) []TimeValue {
	field := scalarField(indicator)
	out := make([]TimeValue, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(row["datetime"])
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(row[field], 64)
		if err != nil {
			v = math.NaN()
		}
		out = append(out, TimeValue{Timestamp: ts, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// scalarField maps an endpoint name to its value field in provider rows.
func scalarField(indicator string) string {
	switch indicator {
	case "willr":
		return "willr"
	default:
		return indicator
	}
}

// parseFloatOrNaN parses a provider numeric field, NaN when unparseable.
func parseFloatOrNaN(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

func copyBars(in []Bar) []Bar {
	out := make([]Bar, len(in))
	copy(out, in)
	return out
}

func copyTimeValues(in []TimeValue) []TimeValue {
	out := make([]TimeValue, len(in))
	copy(out, in)
	return out
}

// BatchRequestID builds a batch request ID. The :: delimiter is reserved and
// cannot collide with symbol names.
func BatchRequestID(symbol, indicator, interval string) string {
	return symbol + "::" + indicator + "::" + interval
}

// SplitBatchRequestID splits a batch request ID into its parts.
func SplitBatchRequestID(id string) (symbol, indicator, interval string, ok bool) {
	parts := strings.Split(id, "::")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
