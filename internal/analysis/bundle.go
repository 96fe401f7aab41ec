// Package analysis assembles per-symbol indicator bundles and derives the
// trend and volatility context that gates strategy evaluation.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"signal-engine/internal/indicators"
	"signal-engine/internal/logging"
	"signal-engine/internal/marketdata"
)

// ErrDataQuality marks a bundle whose series lengths disagree with its bars.
// Unlike a fetch failure, this is not transient: callers should treat it as a
// defect in the assembly path, not retry it away.
var ErrDataQuality = errors.New("data quality violation")

// Style selects the timeframe pair a strategy trades on.
type Style string

const (
	StyleIntraday Style = "intraday"
	StyleSwing    Style = "swing"
)

// EntryInterval returns the entry timeframe for a style.
func (s Style) EntryInterval() string {
	if s == StyleSwing {
		return marketdata.IntervalH4
	}
	return marketdata.IntervalH1
}

// TrendInterval returns the preferred trend timeframe for a style.
func (s Style) TrendInterval() string {
	if s == StyleSwing {
		return marketdata.IntervalD1
	}
	return marketdata.IntervalH4
}

const (
	entryBarCount = 500
	trendBarCount = 250
)

// Indicator periods used across the bundle.
const (
	periodRSI   = 14
	periodATR   = 14
	periodADX   = 14
	periodCCI   = 20
	periodWillR = 14
	periodBB    = 20
	periodSMA   = 20
)

var emaPeriods = []int{8, 20, 21, 50, 55, 200}

// Bundle is the per-symbol aggregate one scan iteration works from. Every
// scalar series has the same length as Bars, with NaN in warmup positions.
type Bundle struct {
	Symbol        string
	Style         Style
	EntryInterval string

	Bars []marketdata.Bar

	EMA   map[int][]float64 // keyed by period: 8, 20, 21, 50, 55, 200
	SMA20 []float64
	RSI   []float64
	WillR []float64
	CCI   []float64
	ATR   []float64
	ADX   []float64
	OBV   []float64

	Stoch     []marketdata.StochPoint
	Bollinger []marketdata.BollingerPoint
	MACD      []marketdata.MACDPoint

	TrendBars          []marketdata.Bar
	TrendEMA200        []float64
	TrendADX           []float64
	TrendTimeframeUsed string
	// TrendFallbackUsed reports degraded trend context: daily bars stood in
	// for the preferred timeframe, or a trend indicator fetch failed and the
	// series was computed locally.
	TrendFallbackUsed bool

	// Errors collects per-indicator fetch problems. Assembly never aborts on
	// them; the affected series are backfilled from local computation.
	Errors []string
}

// SignalIndex returns the index of the signal bar (last closed bar).
func (b *Bundle) SignalIndex() int {
	return len(b.Bars) - 2
}

// Assembler builds bundles from the market-data client, one batch call per
// symbol, backfilling failed indicator fetches by computing locally from bars.
type Assembler struct {
	client *marketdata.Client
	log    zerolog.Logger
}

func NewAssembler(client *marketdata.Client) *Assembler {
	return &Assembler{client: client, log: logging.Component("assembler")}
}

// Assemble fetches and aligns everything a strategy needs for one symbol.
// Missing bars are fatal; missing indicators are recorded and backfilled.
func (a *Assembler) Assemble(ctx context.Context, symbol string, style Style) (*Bundle, error) {
	entry := style.EntryInterval()
	trend := style.TrendInterval()

	result := a.client.FetchBatch(ctx, a.batchRequests(symbol, entry, trend))

	b := &Bundle{
		Symbol:             symbol,
		Style:              style,
		EntryInterval:      entry,
		EMA:                make(map[int][]float64, len(emaPeriods)),
		TrendTimeframeUsed: trend,
	}

	barsID := marketdata.BatchRequestID(symbol, "time_series", entry)
	bars, ok := result.Bars[barsID]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("assemble %s: no %s bars: %v", symbol, entry, result.Errors[barsID])
	}
	b.Bars = bars

	a.fillEntryIndicators(b, result)
	if err := a.fillTrend(ctx, b, result, trend); err != nil {
		return nil, err
	}

	if err := validateAlignment(b); err != nil {
		return nil, fmt.Errorf("assemble %s: %w", symbol, err)
	}
	return b, nil
}

// batchRequests lists every series needed for one symbol.
func (a *Assembler) batchRequests(symbol, entry, trend string) []marketdata.BatchRequest {
	reqs := []marketdata.BatchRequest{
		{Symbol: symbol, Indicator: "time_series", Interval: entry, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "time_series", Interval: trend, OutputSize: trendBarCount},
		{Symbol: symbol, Indicator: "sma", Name: "sma20", Interval: entry, TimePeriod: periodSMA, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "rsi", Interval: entry, TimePeriod: periodRSI, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "atr", Interval: entry, TimePeriod: periodATR, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "adx", Interval: entry, TimePeriod: periodADX, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "cci", Interval: entry, TimePeriod: periodCCI, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "willr", Interval: entry, TimePeriod: periodWillR, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "obv", Interval: entry, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "stoch", Interval: entry, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "bbands", Interval: entry, TimePeriod: periodBB, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "macd", Interval: entry, OutputSize: entryBarCount},
		{Symbol: symbol, Indicator: "ema", Name: "ema200", Interval: trend, TimePeriod: 200, OutputSize: trendBarCount},
		{Symbol: symbol, Indicator: "adx", Interval: trend, TimePeriod: periodADX, OutputSize: trendBarCount},
	}
	for _, p := range emaPeriods {
		reqs = append(reqs, marketdata.BatchRequest{
			Symbol: symbol, Indicator: "ema", Name: fmt.Sprintf("ema%d", p),
			Interval: entry, TimePeriod: p, OutputSize: entryBarCount,
		})
	}
	return reqs
}

// fillEntryIndicators aligns each fetched entry-timeframe series to the bars,
// computing locally from bars when the fetch failed.
func (a *Assembler) fillEntryIndicators(b *Bundle, result *marketdata.BatchResult) {
	entry := b.EntryInterval
	sym := b.Symbol

	scalar := func(name string, compute func() []float64) []float64 {
		id := marketdata.BatchRequestID(sym, name, entry)
		if samples, ok := result.Scalars[id]; ok {
			return alignScalar(b.Bars, samples)
		}
		b.recordError(name, result.Errors[id])
		return compute()
	}

	for _, p := range emaPeriods {
		p := p
		b.EMA[p] = scalar(fmt.Sprintf("ema%d", p), func() []float64 { return indicators.EMA(b.Bars, p) })
	}
	b.SMA20 = scalar("sma20", func() []float64 { return indicators.SMA(b.Bars, periodSMA) })
	b.RSI = scalar("rsi", func() []float64 { return indicators.RSI(b.Bars, periodRSI) })
	b.ATR = scalar("atr", func() []float64 { return indicators.ATR(b.Bars, periodATR) })
	b.ADX = scalar("adx", func() []float64 { return indicators.ADX(b.Bars, periodADX) })
	b.CCI = scalar("cci", func() []float64 { return indicators.CCI(b.Bars, periodCCI) })
	b.WillR = scalar("willr", func() []float64 { return indicators.WilliamsR(b.Bars, periodWillR) })
	b.OBV = scalar("obv", func() []float64 { return indicators.OBV(b.Bars) })

	stochID := marketdata.BatchRequestID(sym, "stoch", entry)
	if samples, ok := result.Stoch[stochID]; ok {
		b.Stoch = alignStoch(b.Bars, samples)
	} else {
		b.recordError("stoch", result.Errors[stochID])
		b.Stoch = indicators.Stochastic(b.Bars, 14, 3, 3)
	}

	bbID := marketdata.BatchRequestID(sym, "bbands", entry)
	if samples, ok := result.Bollinger[bbID]; ok {
		b.Bollinger = alignBollinger(b.Bars, samples)
	} else {
		b.recordError("bbands", result.Errors[bbID])
		b.Bollinger = indicators.Bollinger(b.Bars, periodBB, 2.0)
	}

	macdID := marketdata.BatchRequestID(sym, "macd", entry)
	if samples, ok := result.MACD[macdID]; ok {
		b.MACD = alignMACD(b.Bars, samples)
	} else {
		b.recordError("macd", result.Errors[macdID])
		b.MACD = indicators.MACD(b.Bars, 12, 26, 9)
	}
}

// fillTrend attaches the higher-timeframe series. A failed preferred-trend
// fetch falls back to daily bars; a failed trend indicator fetch is computed
// locally from the trend bars. Either path marks the trend context degraded.
func (a *Assembler) fillTrend(ctx context.Context, b *Bundle, result *marketdata.BatchResult, trend string) error {
	trendBarsID := marketdata.BatchRequestID(b.Symbol, "time_series", trend)
	trendBars, ok := result.Bars[trendBarsID]
	if !ok || len(trendBars) == 0 {
		if trend == marketdata.IntervalD1 {
			return fmt.Errorf("assemble %s: no %s trend bars: %v", b.Symbol, trend, result.Errors[trendBarsID])
		}
		a.log.Warn().Str("symbol", b.Symbol).Str("interval", trend).
			Msg("trend bars unavailable, falling back to daily")
		daily, err := a.client.GetBars(ctx, b.Symbol, marketdata.IntervalD1, trendBarCount)
		if err != nil || len(daily) == 0 {
			return fmt.Errorf("assemble %s: trend fallback failed: %w", b.Symbol, err)
		}
		trendBars = daily
		trend = marketdata.IntervalD1
		b.TrendFallbackUsed = true
	}
	b.TrendBars = trendBars
	b.TrendTimeframeUsed = trend

	// Fetched series only align with the batch's own bars, not daily
	// fallback bars.
	barsSubstituted := b.TrendFallbackUsed

	emaID := marketdata.BatchRequestID(b.Symbol, "ema200", trend)
	if samples, ok := result.Scalars[emaID]; ok && !barsSubstituted {
		b.TrendEMA200 = alignScalar(trendBars, samples)
	} else {
		b.recordError("trend-ema200", result.Errors[emaID])
		b.TrendEMA200 = indicators.EMA(trendBars, 200)
		b.TrendFallbackUsed = true
	}

	adxID := marketdata.BatchRequestID(b.Symbol, "adx", trend)
	if samples, ok := result.Scalars[adxID]; ok && !barsSubstituted {
		b.TrendADX = alignScalar(trendBars, samples)
	} else {
		b.recordError("trend-adx", result.Errors[adxID])
		b.TrendADX = indicators.ADX(trendBars, periodADX)
		b.TrendFallbackUsed = true
	}
	return nil
}

func (b *Bundle) recordError(indicator string, err error) {
	if err != nil {
		b.Errors = append(b.Errors, fmt.Sprintf("%s: %v", indicator, err))
	} else {
		b.Errors = append(b.Errors, fmt.Sprintf("%s: series missing", indicator))
	}
}

// alignScalar maps timestamped samples onto the bar grid. Bars without a
// sample (warmup, provider gaps) get NaN.
func alignScalar(bars []marketdata.Bar, samples []marketdata.TimeValue) []float64 {
	byTime := make(map[int64]float64, len(samples))
	for _, s := range samples {
		byTime[s.Timestamp.Unix()] = s.Value
	}
	out := make([]float64, len(bars))
	for i, bar := range bars {
		if v, ok := byTime[bar.Timestamp.Unix()]; ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func alignStoch(bars []marketdata.Bar, samples []marketdata.StochSample) []marketdata.StochPoint {
	byTime := make(map[int64]marketdata.StochSample, len(samples))
	for _, s := range samples {
		byTime[s.Timestamp.Unix()] = s
	}
	out := make([]marketdata.StochPoint, len(bars))
	for i, bar := range bars {
		if s, ok := byTime[bar.Timestamp.Unix()]; ok {
			out[i] = marketdata.StochPoint{K: s.K, D: s.D}
		} else {
			out[i] = marketdata.StochPoint{K: math.NaN(), D: math.NaN()}
		}
	}
	return out
}

func alignBollinger(bars []marketdata.Bar, samples []marketdata.BollingerSample) []marketdata.BollingerPoint {
	byTime := make(map[int64]marketdata.BollingerSample, len(samples))
	for _, s := range samples {
		byTime[s.Timestamp.Unix()] = s
	}
	out := make([]marketdata.BollingerPoint, len(bars))
	for i, bar := range bars {
		if s, ok := byTime[bar.Timestamp.Unix()]; ok {
			out[i] = marketdata.BollingerPoint{Upper: s.Upper, Middle: s.Middle, Lower: s.Lower}
		} else {
			out[i] = marketdata.BollingerPoint{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN()}
		}
	}
	return out
}

func alignMACD(bars []marketdata.Bar, samples []marketdata.MACDSample) []marketdata.MACDPoint {
	byTime := make(map[int64]marketdata.MACDSample, len(samples))
	for _, s := range samples {
		byTime[s.Timestamp.Unix()] = s
	}
	out := make([]marketdata.MACDPoint, len(bars))
	for i, bar := range bars {
		if s, ok := byTime[bar.Timestamp.Unix()]; ok {
			out[i] = marketdata.MACDPoint{MACD: s.MACD, Signal: s.Signal, Histogram: s.Histogram}
		} else {
			out[i] = marketdata.MACDPoint{MACD: math.NaN(), Signal: math.NaN(), Histogram: math.NaN()}
		}
	}
	return out
}

// validateAlignment enforces that every series matches its bar series length.
func validateAlignment(b *Bundle) error {
	n := len(b.Bars)
	check := func(name string, l int) error {
		if l != n {
			return fmt.Errorf("%w: series %s length %d != bars %d", ErrDataQuality, name, l, n)
		}
		return nil
	}
	for p, s := range b.EMA {
		if err := check(fmt.Sprintf("ema%d", p), len(s)); err != nil {
			return err
		}
	}
	for name, l := range map[string]int{
		"sma20": len(b.SMA20), "rsi": len(b.RSI), "willr": len(b.WillR),
		"cci": len(b.CCI), "atr": len(b.ATR), "adx": len(b.ADX), "obv": len(b.OBV),
		"stoch": len(b.Stoch), "bbands": len(b.Bollinger), "macd": len(b.MACD),
	} {
		if err := check(name, l); err != nil {
			return err
		}
	}
	tn := len(b.TrendBars)
	if len(b.TrendEMA200) != tn {
		return fmt.Errorf("%w: series trend-ema200 length %d != trend bars %d", ErrDataQuality, len(b.TrendEMA200), tn)
	}
	if len(b.TrendADX) != tn {
		return fmt.Errorf("%w: series trend-adx length %d != trend bars %d", ErrDataQuality, len(b.TrendADX), tn)
	}
	return nil
}
