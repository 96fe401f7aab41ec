package strategy

import (
	"math"
	"testing"
	"time"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

func flatBars(n int, price float64, step time.Duration) []marketdata.Bar {
	start := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, n)
	for i := range bars {
		bars[i] = marketdata.Bar{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      price,
			High:      price + 0.0010,
			Low:       price - 0.0010,
			Close:     price + 0.0002,
			Volume:    100,
		}
	}
	return bars
}

func risingBars(n int, start float64, inc float64, step time.Duration) []marketdata.Bar {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, n)
	for i := range bars {
		c := start + float64(i)*inc
		bars[i] = marketdata.Bar{
			Timestamp: t0.Add(time.Duration(i) * step),
			Open:      c - inc/2,
			High:      c + inc,
			Low:       c - inc,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

func constSeries(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// newBundle fills every series with locally computed values so preflight
// finiteness checks pass, then lets tests override individual bars/series.
func newBundle(symbol string, bars, trendBars []marketdata.Bar) *analysis.Bundle {
	b := &analysis.Bundle{
		Symbol:        symbol,
		Style:         analysis.StyleIntraday,
		EntryInterval: marketdata.IntervalH1,
		Bars:          bars,
		EMA:           map[int][]float64{},
		SMA20:         indicators.SMA(bars, 20),
		RSI:           indicators.RSI(bars, 14),
		WillR:         indicators.WilliamsR(bars, 14),
		CCI:           indicators.CCI(bars, 20),
		ATR:           indicators.ATR(bars, 14),
		ADX:           indicators.ADX(bars, 14),
		OBV:           indicators.OBV(bars),
		Stoch:         indicators.Stochastic(bars, 14, 3, 3),
		Bollinger:     indicators.Bollinger(bars, 20, 2.0),
		MACD:          indicators.MACD(bars, 12, 26, 9),

		TrendBars:          trendBars,
		TrendEMA200:        indicators.EMA(trendBars, 200),
		TrendADX:           indicators.ADX(trendBars, 14),
		TrendTimeframeUsed: marketdata.IntervalH4,
	}
	for _, p := range []int{8, 20, 21, 50, 55, 200} {
		b.EMA[p] = indicators.EMA(bars, p)
	}
	return b
}

// e1Bundle builds the canonical mean-reversion long setup: signal bar probes
// the lower band and closes strong, RSI 32, bullish higher timeframe.
func e1Bundle(t *testing.T) *analysis.Bundle {
	t.Helper()
	bars := flatBars(260, 1.1000, time.Hour)
	sig := len(bars) - 2

	bars[sig] = marketdata.Bar{
		Timestamp: bars[sig].Timestamp,
		Open:      1.0975,
		High:      1.0995,
		Low:       1.0950,
		Close:     1.0990,
		Volume:    140,
	}
	bars[sig+1].Open = 1.0992

	trend := risingBars(300, 1.0500, 0.0005, 4*time.Hour)
	b := newBundle("EURUSD", bars, trend)

	n := len(bars)
	b.RSI = constSeries(n, 50)
	b.RSI[sig] = 32
	b.ATR = constSeries(n, 0.0010)
	b.Bollinger = make([]marketdata.BollingerPoint, n)
	for i := range b.Bollinger {
		b.Bollinger[i] = marketdata.BollingerPoint{Upper: 1.1130, Middle: 1.1070, Lower: 1.0950}
	}
	return b
}

func TestBollingerMRLongSetup(t *testing.T) {
	b := e1Bundle(t)
	d := NewBollingerMR().Analyze(b, decision.DefaultSettings())
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Direction != decision.Long {
		t.Fatalf("direction = %s, want long", d.Direction)
	}
	if d.Confidence < 75 {
		t.Errorf("confidence = %d, want >= 75", d.Confidence)
	}
	if d.Grade != decision.GradeA {
		t.Errorf("grade = %s, want A", d.Grade)
	}
	sig := b.SignalIndex()
	if d.StopLoss.Price >= b.Bars[sig].Low {
		t.Errorf("stop %.5f must sit below the signal bar low %.5f", d.StopLoss.Price, b.Bars[sig].Low)
	}
	if d.TakeProfitSource != decision.TPStructure {
		t.Errorf("tp source = %s, want structure (middle band)", d.TakeProfitSource)
	}
	if d.TakeProfit.RR < 1.5 {
		t.Errorf("RR = %.2f, want >= 1.5", d.TakeProfit.RR)
	}
	if d.StrategyID != "bollinger-mr" {
		t.Errorf("strategy id = %s", d.StrategyID)
	}
}

func TestBollingerMRStrongCounterTrendRejected(t *testing.T) {
	b := e1Bundle(t)
	// Same entry-timeframe setup under a strong bearish higher timeframe.
	decl := make([]marketdata.Bar, 300)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range decl {
		c := 1.4000 - float64(i)*0.0005
		decl[i] = marketdata.Bar{
			Timestamp: t0.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c + 0.00025,
			High:      c + 0.0005,
			Low:       c - 0.0005,
			Close:     c,
			Volume:    100,
		}
	}
	b.TrendBars = decl
	b.TrendEMA200 = indicators.EMA(decl, 200)
	b.TrendADX = indicators.ADX(decl, 14)

	if d := NewBollingerMR().Analyze(b, decision.DefaultSettings()); d != nil {
		t.Fatalf("strong counter-trend long must be rejected, got grade %s confidence %d",
			d.Grade, d.Confidence)
	}
}

func TestBollingerMRNoTouchNoSignal(t *testing.T) {
	bars := flatBars(260, 1.1000, time.Hour)
	b := newBundle("EURUSD", bars, risingBars(300, 1.0500, 0.0005, 4*time.Hour))
	b.ATR = constSeries(len(bars), 0.0010)
	b.Bollinger = make([]marketdata.BollingerPoint, len(bars))
	for i := range b.Bollinger {
		b.Bollinger[i] = marketdata.BollingerPoint{Upper: 1.1100, Middle: 1.1000, Lower: 1.0900}
	}
	if d := NewBollingerMR().Analyze(b, decision.DefaultSettings()); d != nil {
		t.Fatal("no band touch must yield nil")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	b := e1Bundle(t)
	s := NewBollingerMR()
	d1 := s.Analyze(b, decision.DefaultSettings())
	d2 := s.Analyze(b, decision.DefaultSettings())
	if d1 == nil || d2 == nil {
		t.Fatal("expected decisions")
	}
	if d1.Direction != d2.Direction || d1.Confidence != d2.Confidence ||
		d1.Grade != d2.Grade || d1.Entry != d2.Entry ||
		d1.StopLoss.Price != d2.StopLoss.Price || d1.TakeProfit.Price != d2.TakeProfit.Price {
		t.Error("repeated runs over the same bundle must agree")
	}
	if len(d1.ReasonCodes) != len(d2.ReasonCodes) {
		t.Error("reason codes must be stable")
	}
}

func TestOscReversalTieYieldsNothing(t *testing.T) {
	bars := flatBars(260, 1.1000, time.Hour)
	b := newBundle("EURUSD", bars, flatBars(300, 1.1000, 4*time.Hour))
	n := len(bars)
	sig := n - 2

	// One long vote (RSI oversold) against one short vote (Williams %R high).
	b.RSI = constSeries(n, 50)
	b.RSI[sig] = 25
	b.WillR = constSeries(n, -50)
	b.WillR[sig] = -10
	b.CCI = constSeries(n, 0)
	b.ATR = constSeries(n, 0.0010)
	for i := range b.Stoch {
		b.Stoch[i] = marketdata.StochPoint{K: 50, D: 50}
	}

	if d := NewOscReversal().Analyze(b, decision.DefaultSettings()); d != nil {
		t.Fatalf("1-1 oscillator tie must yield nil, got %s", d.Direction)
	}
}

func TestOscReversalLongConfirmations(t *testing.T) {
	bars := flatBars(260, 1.1000, time.Hour)
	sig := len(bars) - 2
	bars[sig] = marketdata.Bar{
		Timestamp: bars[sig].Timestamp,
		Open:      1.0970,
		High:      1.0992,
		Low:       1.0940,
		Close:     1.0988,
		Volume:    120,
	}
	b := newBundle("EURUSD", bars, flatBars(300, 1.1000, 4*time.Hour))
	n := len(bars)

	b.RSI = constSeries(n, 50)
	b.RSI[sig] = 24
	b.WillR = constSeries(n, -50)
	b.WillR[sig] = -92
	b.CCI = constSeries(n, 0)
	b.CCI[sig] = -160
	b.ATR = constSeries(n, 0.0010)
	for i := range b.Stoch {
		b.Stoch[i] = marketdata.StochPoint{K: 50, D: 50}
	}

	d := NewOscReversal().Analyze(b, decision.DefaultSettings())
	if d == nil {
		t.Fatal("expected a decision from three long confirmations")
	}
	if d.Direction != decision.Long {
		t.Fatalf("direction = %s, want long", d.Direction)
	}
	if d.Confidence < 60 {
		t.Errorf("confidence = %d, want >= 60 for three votes", d.Confidence)
	}
}

func TestMACDMomentumCross(t *testing.T) {
	// A long downtrend followed by a sharp rally produces a bullish cross
	// while price holds above the 200-EMA.
	n := 400
	bars := make([]marketdata.Bar, n)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 1.1000
	for i := range bars {
		switch {
		case i < 320:
			price += 0.0004 // long climb keeps price above the 200-EMA
		case i < 385:
			price -= 0.0005 // shallow pullback drags MACD under its signal
		default:
			price += 0.0025 // sharp rally forces the cross
		}
		bars[i] = marketdata.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      price - 0.0001,
			High:      price + 0.0005,
			Low:       price - 0.0005,
			Close:     price,
			Volume:    100,
		}
	}
	b := newBundle("EURUSD", bars, risingBars(300, 1.0000, 0.0005, 4*time.Hour))

	// Trim the series so the cross bar is the signal bar. Indicators are
	// causal, so slicing preserves every value.
	cross := -1
	for i := 260; i < n-1; i++ {
		cur, prev := b.MACD[i], b.MACD[i-1]
		if indicators.Defined(cur.MACD) && indicators.Defined(prev.MACD) &&
			cur.MACD > cur.Signal && prev.MACD <= prev.Signal {
			cross = i
		}
	}
	if cross < 0 {
		t.Fatal("synthetic series produced no bullish cross")
	}
	end := cross + 2
	b.Bars = b.Bars[:end]
	for p := range b.EMA {
		b.EMA[p] = b.EMA[p][:end]
	}
	b.SMA20, b.RSI, b.WillR, b.CCI = b.SMA20[:end], b.RSI[:end], b.WillR[:end], b.CCI[:end]
	b.ATR, b.ADX, b.OBV = b.ATR[:end], b.ADX[:end], b.OBV[:end]
	b.Stoch, b.Bollinger, b.MACD = b.Stoch[:end], b.Bollinger[:end], b.MACD[:end]

	d := NewMACDMomentum().Analyze(b, decision.DefaultSettings())
	if d == nil {
		t.Fatal("expected a decision on a bullish cross above the 200-EMA")
	}
	if d.Direction != decision.Long {
		t.Errorf("direction = %s, want long", d.Direction)
	}
}

func TestPreflightInsufficientBars(t *testing.T) {
	bars := flatBars(20, 1.1, time.Hour)
	b := newBundle("EURUSD", bars, flatBars(30, 1.1, 4*time.Hour))
	pf := RunPreflight(b, NewBollingerMR().Meta(), decision.Long)
	if pf.Passed {
		t.Fatal("20 bars must fail a 100-bar minimum")
	}
	if pf.Reason == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestPreflightUndefinedSeriesTail(t *testing.T) {
	bars := flatBars(260, 1.1, time.Hour)
	b := newBundle("EURUSD", bars, flatBars(300, 1.1, 4*time.Hour))
	b.ATR = constSeries(len(bars), 0.0010)
	b.RSI[b.SignalIndex()] = math.NaN()
	pf := RunPreflight(b, NewBollingerMR().Meta(), decision.Long)
	if pf.Passed {
		t.Fatal("NaN in a required series tail must fail pre-flight")
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	if len(r.All()) != 5 {
		t.Fatalf("fleet size = %d, want 5", len(r.All()))
	}
	if _, ok := r.Get("bollinger-mr"); !ok {
		t.Error("bollinger-mr missing from registry")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unknown id must miss")
	}
	intraday := r.ByStyle(analysis.StyleIntraday)
	swing := r.ByStyle(analysis.StyleSwing)
	if len(intraday)+len(swing) != 5 {
		t.Errorf("style partition %d+%d != 5", len(intraday), len(swing))
	}

	union := r.RequiredIndicators()
	seen := map[string]bool{}
	for _, ind := range union {
		if seen[ind] {
			t.Errorf("duplicate indicator %s in union", ind)
		}
		seen[ind] = true
	}
	for _, want := range []string{"bbands", "rsi", "atr", "macd", "obv"} {
		if !seen[want] {
			t.Errorf("union missing %s", want)
		}
	}
}
