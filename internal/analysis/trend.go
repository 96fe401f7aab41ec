package analysis

import (
	"signal-engine/internal/indicators"
)

// TrendDirection is the higher-timeframe bias.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNone    TrendDirection = "none"
)

// Trend is the higher-timeframe read used by pre-flight: price versus the
// 200-EMA, the EMA's slope over a lookback window, and ADX strength.
type Trend struct {
	Direction TrendDirection
	Timeframe string
	ADX       float64
	Slope     float64 // EMA-200 change over the lookback, in price units
	Strong    bool    // ADX >= strongADX and slope agrees with direction
}

const (
	trendSlopeLookback = 10
	strongADX          = 25.0
	moderateADX        = 20.0
)

// AnalyzeTrend derives the trend from the bundle's higher-timeframe series.
// It evaluates on the last closed trend bar and returns TrendNone whenever
// the series are too short or still in warmup.
func AnalyzeTrend(b *Bundle) Trend {
	t := Trend{Direction: TrendNone, Timeframe: b.TrendTimeframeUsed}
	i := len(b.TrendBars) - 2
	if i < trendSlopeLookback {
		return t
	}
	ema := b.TrendEMA200
	if !indicators.Defined(ema[i]) || !indicators.Defined(ema[i-trendSlopeLookback]) {
		return t
	}

	price := b.TrendBars[i].Close
	t.Slope = ema[i] - ema[i-trendSlopeLookback]
	if indicators.Defined(b.TrendADX[i]) {
		t.ADX = b.TrendADX[i]
	}

	switch {
	case price > ema[i] && t.Slope > 0:
		t.Direction = TrendBullish
	case price < ema[i] && t.Slope < 0:
		t.Direction = TrendBearish
	case price > ema[i] && t.ADX >= moderateADX:
		t.Direction = TrendBullish
	case price < ema[i] && t.ADX >= moderateADX:
		t.Direction = TrendBearish
	}

	if t.Direction != TrendNone && t.ADX >= strongADX {
		t.Strong = true
	}
	return t
}

// Opposes reports whether a signal direction runs against the trend.
// direction is "long" or "short".
func (t Trend) Opposes(direction string) bool {
	switch t.Direction {
	case TrendBullish:
		return direction == "short"
	case TrendBearish:
		return direction == "long"
	default:
		return false
	}
}

// Aligned reports whether a signal direction agrees with the trend.
func (t Trend) Aligned(direction string) bool {
	switch t.Direction {
	case TrendBullish:
		return direction == "long"
	case TrendBearish:
		return direction == "short"
	default:
		return false
	}
}
