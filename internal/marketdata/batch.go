package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"signal-engine/internal/cache"
)

// batchChunkSize bounds one POST /batch payload.
const batchChunkSize = 50

// BatchRequest describes one series inside a batch call. Indicator is the
// endpoint name ("time_series", "ema", "rsi", "stoch", "bbands", "macd", ...).
// Name disambiguates several requests against one endpoint, e.g. "ema8" vs
// "ema200"; it defaults to Indicator.
type BatchRequest struct {
	Symbol     string
	Indicator  string
	Name       string
	Interval   string
	TimePeriod int
	OutputSize int
	Extra      map[string]string
}

// ID returns the request's batch ID.
func (r BatchRequest) ID() string {
	name := r.Name
	if name == "" {
		name = r.Indicator
	}
	return BatchRequestID(r.Symbol, name, r.Interval)
}

// StochSample is one time-stamped stochastic sample.
type StochSample struct {
	Timestamp time.Time
	K, D      float64
}

// BollingerSample is one time-stamped Bollinger band sample.
type BollingerSample struct {
	Timestamp            time.Time
	Upper, Middle, Lower float64
}

// MACDSample is one time-stamped MACD sample.
type MACDSample struct {
	Timestamp               time.Time
	MACD, Signal, Histogram float64
}

// BatchResult maps batch request IDs to their parsed series. A request that
// failed appears in Errors and in none of the series maps; callers treat the
// missing series as empty and keep going.
type BatchResult struct {
	Bars      map[string][]Bar
	Scalars   map[string][]TimeValue
	Stoch     map[string][]StochSample
	Bollinger map[string][]BollingerSample
	MACD      map[string][]MACDSample
	Errors    map[string]error
}

func newBatchResult() *BatchResult {
	return &BatchResult{
		Bars:      make(map[string][]Bar),
		Scalars:   make(map[string][]TimeValue),
		Stoch:     make(map[string][]StochSample),
		Bollinger: make(map[string][]BollingerSample),
		MACD:      make(map[string][]MACDSample),
		Errors:    make(map[string]error),
	}
}

type batchItem struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Response apiResponse `json:"response"`
}

type batchEnvelope struct {
	Status  string               `json:"status"`
	Message string               `json:"message"`
	Data    map[string]batchItem `json:"data"`
}

// FetchBatch resolves many series in chunked POST /batch calls. Cached series
// are served locally and only misses go upstream. Individual request failures
// are recorded per ID and never abort the batch; a whole-chunk failure marks
// every ID in that chunk failed.
func (c *Client) FetchBatch(ctx context.Context, reqs []BatchRequest) *BatchResult {
	result := newBatchResult()

	pending := make([]BatchRequest, 0, len(reqs))
	for _, r := range reqs {
		if c.serveFromCache(r, result) {
			continue
		}
		pending = append(pending, r)
	}

	for start := 0; start < len(pending); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		c.fetchBatchChunk(ctx, pending[start:end], result)
	}
	return result
}

func (c *Client) fetchBatchChunk(ctx context.Context, chunk []BatchRequest, result *BatchResult) {
	body := make(map[string]map[string]string, len(chunk))
	byID := make(map[string]BatchRequest, len(chunk))
	for _, r := range chunk {
		body[r.ID()] = map[string]string{"url": c.requestURL(r)}
		byID[r.ID()] = r
	}

	if _, err := c.limiter.Acquire(ctx); err != nil {
		c.failChunk(chunk, result, err)
		return
	}

	var envelope batchEnvelope
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&envelope).
			Post("/batch")
		if err != nil {
			return fmt.Errorf("batch request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("batch request: status %d: %s", resp.StatusCode(), resp.String())
		}
		if envelope.Status == "error" {
			return fmt.Errorf("batch request: provider error: %s", envelope.Message)
		}
		return nil
	})
	if err != nil {
		c.failChunk(chunk, result, err)
		return
	}

	for id, r := range byID {
		item, ok := envelope.Data[id]
		if !ok {
			result.Errors[id] = fmt.Errorf("batch item %s: missing from response", id)
			c.log.Warn().Str("request_id", id).Msg("batch item missing")
			continue
		}
		if item.Status == "error" || item.Response.Status == "error" {
			msg := item.Message
			if msg == "" {
				msg = item.Response.Message
			}
			result.Errors[id] = fmt.Errorf("batch item %s: %s", id, msg)
			c.log.Warn().Str("request_id", id).Str("error", msg).Msg("batch item failed")
			continue
		}
		c.storeBatchItem(r, item.Response.Values, result)
	}
}

func (c *Client) failChunk(chunk []BatchRequest, result *BatchResult, err error) {
	for _, r := range chunk {
		result.Errors[r.ID()] = err
	}
	c.log.Warn().Int("requests", len(chunk)).Err(err).Msg("batch chunk failed")
}

// requestURL builds the relative provider URL embedded in a batch payload.
func (c *Client) requestURL(r BatchRequest) string {
	q := url.Values{}
	for k, v := range c.baseParams(r.Symbol, r.Interval, r.OutputSize) {
		q.Set(k, v)
	}
	if r.TimePeriod > 0 {
		q.Set("time_period", strconv.Itoa(r.TimePeriod))
	}
	for k, v := range r.Extra {
		q.Set(k, v)
	}
	return "/" + r.Indicator + "?" + q.Encode()
}

// storeBatchItem parses rows by request kind and fills result and cache.
func (c *Client) storeBatchItem(r BatchRequest, rows []map[string]string, result *BatchResult) {
	id := r.ID()
	switch r.Indicator {
	case "time_series":
		bars := make([]Bar, 0, len(rows))
		for _, row := range rows {
			b, err := parseBar(row)
			if err != nil {
				continue
			}
			bars = append(bars, b)
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		result.Bars[id] = bars
		c.cache.Set(c.barsKey(r), bars, cache.SeriesTTL(r.Interval))
	case "stoch":
		s := parseStochSeries(rows)
		result.Stoch[id] = s
		c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(r.Interval))
	case "bbands":
		s := parseBollingerSeries(rows)
		result.Bollinger[id] = s
		c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(r.Interval))
	case "macd":
		s := parseMACDSeries(rows)
		result.MACD[id] = s
		c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(r.Interval))
	default:
		s := parseScalarSeries(rows, r.Indicator)
		result.Scalars[id] = s
		c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(r.Interval))
	}
}

// serveFromCache fills a request from the TTL cache; reports whether it hit.
func (c *Client) serveFromCache(r BatchRequest, result *BatchResult) bool {
	id := r.ID()
	if r.Indicator == "time_series" {
		if v, ok := c.cache.Get(c.barsKey(r)); ok {
			result.Bars[id] = copyBars(v.([]Bar))
			return true
		}
		return false
	}
	v, ok := c.cache.Get(c.indicatorKey(r))
	if !ok {
		return false
	}
	switch r.Indicator {
	case "stoch":
		result.Stoch[id] = append([]StochSample(nil), v.([]StochSample)...)
	case "bbands":
		result.Bollinger[id] = append([]BollingerSample(nil), v.([]BollingerSample)...)
	case "macd":
		result.MACD[id] = append([]MACDSample(nil), v.([]MACDSample)...)
	default:
		result.Scalars[id] = copyTimeValues(v.([]TimeValue))
	}
	return true
}

func (c *Client) barsKey(r BatchRequest) string {
	return cache.Key(r.Symbol, r.Interval, "ohlcv", strconv.Itoa(r.OutputSize))
}

func (c *Client) indicatorKey(r BatchRequest) string {
	period := ""
	if r.TimePeriod > 0 {
		period = strconv.Itoa(r.TimePeriod)
	}
	return cache.Key(r.Symbol, r.Interval, r.Indicator, period)
}

// GetStoch fetches a stochastic oscillator series, oldest-first.
func (c *Client) GetStoch(ctx context.Context, symbol, interval string, outputSize int) ([]StochSample, error) {
	r := BatchRequest{Symbol: symbol, Indicator: "stoch", Interval: interval, OutputSize: outputSize}
	if v, ok := c.cache.Get(c.indicatorKey(r)); ok {
		return append([]StochSample(nil), v.([]StochSample)...), nil
	}
	resp, err := c.fetch(ctx, "/stoch", c.baseParams(symbol, interval, outputSize))
	if err != nil {
		return nil, err
	}
	s := parseStochSeries(resp.Values)
	c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(interval))
	return append([]StochSample(nil), s...), nil
}

// GetBollinger fetches a Bollinger band series, oldest-first.
func (c *Client) GetBollinger(ctx context.Context, symbol, interval string, timePeriod, outputSize int) ([]BollingerSample, error) {
	r := BatchRequest{Symbol: symbol, Indicator: "bbands", Interval: interval, TimePeriod: timePeriod, OutputSize: outputSize}
	if v, ok := c.cache.Get(c.indicatorKey(r)); ok {
		return append([]BollingerSample(nil), v.([]BollingerSample)...), nil
	}
	params := c.baseParams(symbol, interval, outputSize)
	if timePeriod > 0 {
		params["time_period"] = strconv.Itoa(timePeriod)
	}
	resp, err := c.fetch(ctx, "/bbands", params)
	if err != nil {
		return nil, err
	}
	s := parseBollingerSeries(resp.Values)
	c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(interval))
	return append([]BollingerSample(nil), s...), nil
}

// GetMACD fetches a MACD series, oldest-first.
func (c *Client) GetMACD(ctx context.Context, symbol, interval string, outputSize int) ([]MACDSample, error) {
	r := BatchRequest{Symbol: symbol, Indicator: "macd", Interval: interval, OutputSize: outputSize}
	if v, ok := c.cache.Get(c.indicatorKey(r)); ok {
		return append([]MACDSample(nil), v.([]MACDSample)...), nil
	}
	resp, err := c.fetch(ctx, "/macd", c.baseParams(symbol, interval, outputSize))
	if err != nil {
		return nil, err
	}
	s := parseMACDSeries(resp.Values)
	c.cache.Set(c.indicatorKey(r), s, cache.SeriesTTL(interval))
	return append([]MACDSample(nil), s...), nil
}

func parseStochSeries(rows []map[string]string) []StochSample {
	out := make([]StochSample, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(row["datetime"])
		if err != nil {
			continue
		}
		out = append(out, StochSample{
			Timestamp: ts,
			K:         parseFloatOrNaN(row["slow_k"]),
			D:         parseFloatOrNaN(row["slow_d"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func parseBollingerSeries(rows []map[string]string) []BollingerSample {
	out := make([]BollingerSample, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(row["datetime"])
		if err != nil {
			continue
		}
		out = append(out, BollingerSample{
			Timestamp: ts,
			Upper:     parseFloatOrNaN(row["upper_band"]),
			Middle:    parseFloatOrNaN(row["middle_band"]),
			Lower:     parseFloatOrNaN(row["lower_band"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func parseMACDSeries(rows []map[string]string) []MACDSample {
	out := make([]MACDSample, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(row["datetime"])
		if err != nil {
			continue
		}
		out = append(out, MACDSample{
			Timestamp: ts,
			MACD:      parseFloatOrNaN(row["macd"]),
			Signal:    parseFloatOrNaN(row["macd_signal"]),
			Histogram: parseFloatOrNaN(row["macd_hist"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
