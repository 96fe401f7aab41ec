package strategy

import (
	"fmt"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
)

// finiteTail is how many trailing values of each required series must be
// defined before a strategy may evaluate.
const finiteTail = 5

// Preflight is the quality-gate verdict for one candidate signal.
type Preflight struct {
	Passed bool
	Reason string

	// Strong marks a high-conviction context: aligned strong trend in a
	// non-degenerate volatility regime. Required for an A+ grade.
	Strong bool

	// CounterTrend is set for mean-reversion signals against the trend; the
	// strategy halves its confidence in response.
	CounterTrend bool

	Trend      analysis.Trend
	Volatility analysis.Volatility
}

// RunPreflight validates a candidate (bundle, strategy, direction) before any
// decision is built: bar depth, ATR sanity, required-series finiteness,
// higher-timeframe trend compatibility, and the volatility regime.
func RunPreflight(b *analysis.Bundle, meta Meta, dir decision.Direction) Preflight {
	pf := Preflight{}

	if len(b.Bars) < meta.MinBars {
		pf.Reason = fmt.Sprintf("insufficient bars: %d < %d", len(b.Bars), meta.MinBars)
		return pf
	}
	i := b.SignalIndex()
	if i < finiteTail {
		pf.Reason = "insufficient bars for finiteness check"
		return pf
	}
	if !indicators.Defined(b.ATR[i]) || b.ATR[i] <= 0 {
		pf.Reason = "atr undefined or non-positive at signal bar"
		return pf
	}
	for _, name := range meta.RequiredIndicators {
		if !seriesTailDefined(b, name, i) {
			pf.Reason = fmt.Sprintf("series %s not finite over last %d bars", name, finiteTail)
			return pf
		}
	}

	pf.Trend = analysis.AnalyzeTrend(b)
	pf.Volatility = analysis.AssessVolatility(b)

	if pf.Volatility.Blocked {
		pf.Reason = fmt.Sprintf("volatility %s blocks entries", pf.Volatility.Level)
		return pf
	}

	switch meta.Kind {
	case KindMeanReversion:
		if !pf.Volatility.AllowsMeanReversion() {
			pf.Reason = fmt.Sprintf("volatility percentile %.0f blocks mean reversion", pf.Volatility.Percentile)
			return pf
		}
		if pf.Trend.Opposes(string(dir)) {
			if pf.Trend.Strong {
				pf.Reason = "strong counter-trend"
				return pf
			}
			pf.CounterTrend = true
		}
	default:
		// Trend, momentum, and breakout entries never trade against the
		// higher timeframe.
		if pf.Trend.Opposes(string(dir)) {
			pf.Reason = "counter-trend rejected"
			return pf
		}
	}

	pf.Passed = true
	pf.Strong = pf.Trend.Aligned(string(dir)) && pf.Trend.Strong &&
		pf.Volatility.Level == analysis.VolNormal
	return pf
}

// seriesTailDefined checks the last finiteTail values of a named series
// ending at the signal bar.
func seriesTailDefined(b *analysis.Bundle, name string, i int) bool {
	tail := func(s []float64) bool {
		return indicators.LastDefined(s[:i+1], finiteTail)
	}
	switch name {
	case "ema8":
		return tail(b.EMA[8])
	case "ema20":
		return tail(b.EMA[20])
	case "ema21":
		return tail(b.EMA[21])
	case "ema50":
		return tail(b.EMA[50])
	case "ema55":
		return tail(b.EMA[55])
	case "ema200":
		return tail(b.EMA[200])
	case "sma20":
		return tail(b.SMA20)
	case "rsi":
		return tail(b.RSI)
	case "atr":
		return tail(b.ATR)
	case "adx":
		return tail(b.ADX)
	case "cci":
		return tail(b.CCI)
	case "willr":
		return tail(b.WillR)
	case "obv":
		return tail(b.OBV)
	case "stoch":
		for j := i - finiteTail + 1; j <= i; j++ {
			if j < 0 || !indicators.Defined(b.Stoch[j].K) || !indicators.Defined(b.Stoch[j].D) {
				return false
			}
		}
		return true
	case "bbands":
		for j := i - finiteTail + 1; j <= i; j++ {
			if j < 0 || !indicators.Defined(b.Bollinger[j].Upper) ||
				!indicators.Defined(b.Bollinger[j].Middle) || !indicators.Defined(b.Bollinger[j].Lower) {
				return false
			}
		}
		return true
	case "macd":
		for j := i - finiteTail + 1; j <= i; j++ {
			if j < 0 || !indicators.Defined(b.MACD[j].MACD) || !indicators.Defined(b.MACD[j].Signal) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
