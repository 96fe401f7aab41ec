package analysis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

func hourlyBars(closes []float64) []marketdata.Bar {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		bars[i] = marketdata.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c - 0.0002,
			High:      c + 0.0005,
			Low:       c - 0.0005,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

func TestAlignScalarPadsGapsWithNaN(t *testing.T) {
	bars := hourlyBars([]float64{1.1, 1.2, 1.3, 1.4})
	// Samples only for the last two bars, as a provider with warmup trim
	// would return them.
	samples := []marketdata.TimeValue{
		{Timestamp: bars[2].Timestamp, Value: 1.25},
		{Timestamp: bars[3].Timestamp, Value: 1.35},
	}

	aligned := alignScalar(bars, samples)
	if len(aligned) != len(bars) {
		t.Fatalf("aligned length %d, want %d", len(aligned), len(bars))
	}
	if !math.IsNaN(aligned[0]) || !math.IsNaN(aligned[1]) {
		t.Error("warmup positions must be NaN, not zero")
	}
	if aligned[2] != 1.25 || aligned[3] != 1.35 {
		t.Errorf("aligned tail = %v %v", aligned[2], aligned[3])
	}
}

func TestValidateAlignmentFlagsDataQuality(t *testing.T) {
	// An entry series shorter than the bars is a data quality violation.
	b := &Bundle{
		Bars:  hourlyBars([]float64{1.1, 1.2, 1.3, 1.4}),
		SMA20: []float64{1.1, 1.2},
	}
	err := validateAlignment(b)
	if err == nil {
		t.Fatal("misaligned series must fail validation")
	}
	if !errors.Is(err, ErrDataQuality) {
		t.Fatalf("err = %v, want data quality sentinel", err)
	}

	// Same for the trend side.
	b = &Bundle{
		TrendBars:   hourlyBars([]float64{1.1, 1.2, 1.3}),
		TrendEMA200: []float64{1.1, 1.2},
		TrendADX:    []float64{20, 20, 20},
	}
	if err := validateAlignment(b); !errors.Is(err, ErrDataQuality) {
		t.Fatalf("trend err = %v, want data quality sentinel", err)
	}
}

func TestFillTrendLocalBackfillMarksFallback(t *testing.T) {
	a := NewAssembler(nil)
	trendBars := hourlyBars([]float64{1.1, 1.2, 1.3, 1.4, 1.5})
	barsID := marketdata.BatchRequestID("EURUSD", "time_series", marketdata.IntervalH4)

	// Trend bars arrive but both trend indicators are missing from the batch.
	result := &marketdata.BatchResult{
		Bars:    map[string][]marketdata.Bar{barsID: trendBars},
		Scalars: map[string][]marketdata.TimeValue{},
		Errors:  map[string]error{},
	}
	b := &Bundle{Symbol: "EURUSD"}
	if err := a.fillTrend(context.Background(), b, result, marketdata.IntervalH4); err != nil {
		t.Fatalf("fillTrend: %v", err)
	}
	if !b.TrendFallbackUsed {
		t.Error("locally computed trend indicators must mark the fallback")
	}
	if len(b.TrendEMA200) != len(trendBars) || len(b.TrendADX) != len(trendBars) {
		t.Errorf("backfilled lengths = %d/%d, want %d", len(b.TrendEMA200), len(b.TrendADX), len(trendBars))
	}
	if len(b.Errors) != 2 {
		t.Errorf("recorded %d errors, want 2", len(b.Errors))
	}

	// With both indicators fetched, the trend context is not degraded.
	samples := make([]marketdata.TimeValue, len(trendBars))
	for i, bar := range trendBars {
		samples[i] = marketdata.TimeValue{Timestamp: bar.Timestamp, Value: bar.Close}
	}
	result.Scalars[marketdata.BatchRequestID("EURUSD", "ema200", marketdata.IntervalH4)] = samples
	result.Scalars[marketdata.BatchRequestID("EURUSD", "adx", marketdata.IntervalH4)] = samples

	b = &Bundle{Symbol: "EURUSD"}
	if err := a.fillTrend(context.Background(), b, result, marketdata.IntervalH4); err != nil {
		t.Fatalf("fillTrend: %v", err)
	}
	if b.TrendFallbackUsed {
		t.Error("fetched trend indicators must not mark the fallback")
	}
}

func TestStyleIntervals(t *testing.T) {
	if StyleIntraday.EntryInterval() != marketdata.IntervalH1 ||
		StyleIntraday.TrendInterval() != marketdata.IntervalH4 {
		t.Error("intraday must trade H1 against an H4 trend")
	}
	if StyleSwing.EntryInterval() != marketdata.IntervalH4 ||
		StyleSwing.TrendInterval() != marketdata.IntervalD1 {
		t.Error("swing must trade H4 against a D1 trend")
	}
}

func TestAnalyzeTrendBullish(t *testing.T) {
	// Steadily rising closes put price above a rising EMA-200.
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 1.0 + float64(i)*0.001
	}
	bars := hourlyBars(closes)
	b := &Bundle{
		Symbol:             "EURUSD",
		TrendBars:          bars,
		TrendEMA200:        indicators.EMA(bars, 200),
		TrendADX:           indicators.ADX(bars, 14),
		TrendTimeframeUsed: marketdata.IntervalH4,
	}

	tr := AnalyzeTrend(b)
	if tr.Direction != TrendBullish {
		t.Fatalf("direction = %s, want bullish", tr.Direction)
	}
	if !tr.Aligned("long") || tr.Aligned("short") {
		t.Error("bullish trend must align long only")
	}
	if !tr.Opposes("short") {
		t.Error("bullish trend must oppose short")
	}
}

func TestAnalyzeTrendTooShort(t *testing.T) {
	bars := hourlyBars([]float64{1.1, 1.2, 1.3})
	b := &Bundle{
		TrendBars:   bars,
		TrendEMA200: []float64{math.NaN(), math.NaN(), math.NaN()},
		TrendADX:    []float64{math.NaN(), math.NaN(), math.NaN()},
	}
	if tr := AnalyzeTrend(b); tr.Direction != TrendNone {
		t.Errorf("direction = %s, want none", tr.Direction)
	}
}

func TestAssessVolatilityExtremeBlocks(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 1.1
	}
	bars := hourlyBars(closes)
	atr := make([]float64, len(bars))
	for i := range atr {
		atr[i] = 0.0010
	}
	sig := len(bars) - 2
	atr[sig] = 0.0040 // 4x the trailing average

	b := &Bundle{Symbol: "EURUSD", Bars: bars, ATR: atr}
	v := AssessVolatility(b)
	if v.Level != VolExtreme || !v.Blocked {
		t.Errorf("level = %s blocked = %v, want extreme blocked", v.Level, v.Blocked)
	}
	if v.AllowsMeanReversion() {
		t.Error("extreme volatility must block mean reversion")
	}
}

func TestAssessVolatilityCryptoThresholdWider(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 40000
	}
	bars := hourlyBars(closes)
	atr := make([]float64, len(bars))
	for i := range atr {
		atr[i] = 100
	}
	sig := len(bars) - 2
	atr[sig] = 350 // 3.5x: extreme for forex, merely high for crypto (3.0*1.5)

	forex := AssessVolatility(&Bundle{Symbol: "EURUSD", Bars: bars, ATR: atr})
	crypto := AssessVolatility(&Bundle{Symbol: "BTCUSD", Bars: bars, ATR: atr})
	if forex.Level != VolExtreme {
		t.Errorf("forex level = %s, want extreme", forex.Level)
	}
	if crypto.Level != VolHigh || crypto.Blocked {
		t.Errorf("crypto level = %s blocked = %v, want high unblocked", crypto.Level, crypto.Blocked)
	}
}

func TestAssessVolatilityRegimePercentile(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 1.1
	}
	bars := hourlyBars(closes)
	// ATR ramps up, so the signal bar sits at the top of its window but the
	// ratio against the 20-bar average stays moderate.
	atr := make([]float64, len(bars))
	for i := range atr {
		atr[i] = 0.0010 + float64(i)*0.000005
	}

	v := AssessVolatility(&Bundle{Symbol: "EURUSD", Bars: bars, ATR: atr})
	if v.Regime != RegimeExpansion {
		t.Errorf("regime = %s (pct %.1f), want expansion", v.Regime, v.Percentile)
	}
	if v.StopScale() != 1.3 {
		t.Errorf("StopScale = %v, want 1.3", v.StopScale())
	}
	if v.AllowsMeanReversion() {
		t.Error("top-decile volatility must block mean reversion")
	}
}
