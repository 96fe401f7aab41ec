package indicators

import (
	"math"
	"testing"
	"time"

	"signal-engine/internal/marketdata"
)

func barsFromCloses(closes []float64) []marketdata.Bar {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		bars[i] = marketdata.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func constantCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSeriesAlignment(t *testing.T) {
	bars := barsFromCloses(constantCloses(60, 100))

	scalar := map[string][]float64{
		"sma":   SMA(bars, 20),
		"ema":   EMA(bars, 20),
		"rsi":   RSI(bars, 14),
		"atr":   ATR(bars, 14),
		"adx":   ADX(bars, 14),
		"cci":   CCI(bars, 20),
		"willr": WilliamsR(bars, 14),
		"obv":   OBV(bars),
	}
	for name, s := range scalar {
		if len(s) != len(bars) {
			t.Errorf("%s: len %d, want %d", name, len(s), len(bars))
		}
	}
	if got := len(Stochastic(bars, 14, 3, 3)); got != len(bars) {
		t.Errorf("stoch: len %d, want %d", got, len(bars))
	}
	if got := len(Bollinger(bars, 20, 2)); got != len(bars) {
		t.Errorf("bollinger: len %d, want %d", got, len(bars))
	}
	if got := len(MACD(bars, 12, 26, 9)); got != len(bars) {
		t.Errorf("macd: len %d, want %d", got, len(bars))
	}
}

func TestWarmupIsNaN(t *testing.T) {
	bars := barsFromCloses(constantCloses(60, 100))

	sma := SMA(bars, 20)
	for i := 0; i < 19; i++ {
		if Defined(sma[i]) {
			t.Fatalf("sma[%d] = %v, want NaN during warmup", i, sma[i])
		}
	}
	if !Defined(sma[19]) {
		t.Error("sma must be defined once the window fills")
	}

	rsi := RSI(bars, 14)
	if Defined(rsi[5]) {
		t.Error("rsi warmup must be NaN")
	}
}

func TestSMAKnownValues(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	sma := SMA(barsFromCloses(closes), 3)

	want := []float64{math.NaN(), math.NaN(), 2, 3, 4, 5}
	for i := range want {
		switch {
		case math.IsNaN(want[i]):
			if Defined(sma[i]) {
				t.Errorf("sma[%d] = %v, want NaN", i, sma[i])
			}
		case math.Abs(sma[i]-want[i]) > 1e-9:
			t.Errorf("sma[%d] = %v, want %v", i, sma[i], want[i])
		}
	}
}

func TestRSIExtremes(t *testing.T) {
	// Monotonic rise: RSI saturates at 100.
	up := make([]float64, 40)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	rsi := RSI(barsFromCloses(up), 14)
	if last := rsi[len(rsi)-1]; math.Abs(last-100) > 1e-9 {
		t.Errorf("rising rsi = %v, want 100", last)
	}

	down := make([]float64, 40)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	rsi = RSI(barsFromCloses(down), 14)
	if last := rsi[len(rsi)-1]; math.Abs(last) > 1e-9 {
		t.Errorf("falling rsi = %v, want 0", last)
	}
}

func TestATRConstantRange(t *testing.T) {
	// Every bar spans exactly 1.0, so ATR converges to 1.0.
	bars := barsFromCloses(constantCloses(60, 100))
	atr := ATR(bars, 14)
	if last := atr[len(atr)-1]; math.Abs(last-1.0) > 1e-6 {
		t.Errorf("atr = %v, want 1.0", last)
	}
}

func TestBollingerFlatMarket(t *testing.T) {
	// Zero variance: all three bands collapse onto the mean.
	bb := Bollinger(barsFromCloses(constantCloses(40, 50)), 20, 2)
	last := bb[len(bb)-1]
	if last.Upper != 50 || last.Middle != 50 || last.Lower != 50 {
		t.Errorf("bands = %+v, want all 50", last)
	}
}

func TestOBVDirection(t *testing.T) {
	closes := []float64{100, 101, 102, 101, 103}
	bars := barsFromCloses(closes)
	obv := OBV(bars)

	// up, up, down, up from a zero base with volume 1000 per bar.
	want := []float64{0, 1000, 2000, 1000, 2000}
	for i := range want {
		if obv[i] != want[i] {
			t.Errorf("obv[%d] = %v, want %v", i, obv[i], want[i])
		}
	}
}

func TestLastDefined(t *testing.T) {
	s := []float64{math.NaN(), 1, 2, 3}
	if !LastDefined(s, 3) {
		t.Error("trailing three values are finite")
	}
	if LastDefined(s, 4) {
		t.Error("window including NaN must fail")
	}
	if LastDefined([]float64{1}, 2) {
		t.Error("window longer than series must fail")
	}
}
