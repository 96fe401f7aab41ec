package strategy

import (
	"fmt"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

// TrendRider buys pullbacks to the 21-EMA inside a stacked 8/21/55 EMA
// trend, entering when price resumes through the fast EMA.
type TrendRider struct {
	stopATRMult    float64
	swingLookback  int
	pullbackDepth  int
	adxFloor       float64
	rsiComfortLow  float64
	rsiComfortHigh float64
}

func NewTrendRider() *TrendRider {
	return &TrendRider{
		stopATRMult:    1.5,
		swingLookback:  8,
		pullbackDepth:  3,
		adxFloor:       20,
		rsiComfortLow:  40,
		rsiComfortHigh: 70,
	}
}

func (s *TrendRider) Meta() Meta {
	return Meta{
		ID:             "trend-rider",
		Name:           "Trend Rider",
		Description:    "EMA-stack pullback continuation: 8/21/55 stacked, pullback to the 21, resume through the 8.",
		Style:          analysis.StyleIntraday,
		Kind:           KindTrend,
		WinRate:        0.48,
		AvgRR:          2.4,
		SignalsPerWeek: 3,
		MinBars:        120,
		RequiredIndicators: []string{
			"ema8", "ema21", "ema55", "rsi", "adx", "atr",
		},
		Timeframes: Timeframes{Trend: marketdata.IntervalH4, Entry: marketdata.IntervalH1},
		Version:    "1.1.0",
	}
}

const (
	trStackWeight   = 30
	trPullbackWt    = 25
	trResumeWeight  = 15
	trADXWeight     = 10
	trAlignedWeight = 10
	trRSIWeight     = 10
)

func (s *TrendRider) Analyze(b *analysis.Bundle, settings decision.Settings) *decision.Decision {
	i := b.SignalIndex()
	if i < s.pullbackDepth+1 || i+1 >= len(b.Bars) {
		return nil
	}
	ema8, ema21, ema55 := b.EMA[8][i], b.EMA[21][i], b.EMA[55][i]
	if !indicators.Defined(ema8) || !indicators.Defined(ema21) || !indicators.Defined(ema55) {
		return nil
	}
	bar := b.Bars[i]

	var dir decision.Direction
	switch {
	case ema8 > ema21 && ema21 > ema55:
		dir = decision.Long
	case ema8 < ema21 && ema21 < ema55:
		dir = decision.Short
	default:
		return nil
	}

	// Pullback: one of the recent bars must have traded through the 21-EMA.
	pulledBack := false
	for j := i - s.pullbackDepth; j <= i; j++ {
		e21 := b.EMA[21][j]
		if !indicators.Defined(e21) {
			continue
		}
		if dir == decision.Long && b.Bars[j].Low <= e21 {
			pulledBack = true
		}
		if dir == decision.Short && b.Bars[j].High >= e21 {
			pulledBack = true
		}
	}
	// Resumption: the signal bar closes back through the fast EMA.
	resumed := (dir == decision.Long && bar.Close > ema8) ||
		(dir == decision.Short && bar.Close < ema8)
	if !pulledBack || !resumed {
		return nil
	}

	pf := RunPreflight(b, s.Meta(), dir)
	if !pf.Passed {
		return nil
	}

	confidence := trStackWeight + trPullbackWt + trResumeWeight
	triggers := []string{
		fmt.Sprintf("ema stack %s (8/21/55)", dir),
		"pullback to 21-ema",
		"resumption close through 8-ema",
	}
	reasons := []decision.ReasonCode{decision.ReasonEMAStack, decision.ReasonEMAPullback}

	if indicators.Defined(b.ADX[i]) && b.ADX[i] >= s.adxFloor {
		confidence += trADXWeight
		triggers = append(triggers, fmt.Sprintf("adx %.1f confirms trend", b.ADX[i]))
		reasons = append(reasons, decision.ReasonADXStrength)
	}
	if pf.Trend.Aligned(string(dir)) {
		confidence += trAlignedWeight
		triggers = append(triggers, fmt.Sprintf("%s trend aligned", pf.Trend.Timeframe))
		reasons = append(reasons, decision.ReasonTrendAligned)
	}
	if rsi := b.RSI[i]; indicators.Defined(rsi) {
		inComfort := (dir == decision.Long && rsi >= s.rsiComfortLow && rsi <= s.rsiComfortHigh) ||
			(dir == decision.Short && rsi >= 100-s.rsiComfortHigh && rsi <= 100-s.rsiComfortLow)
		if inComfort {
			confidence += trRSIWeight
			triggers = append(triggers, fmt.Sprintf("rsi %.1f leaves room to run", rsi))
		}
	}

	entry := b.Bars[i+1].Open
	atr := b.ATR[i]
	scale := pf.Volatility.StopScale()
	var stop float64
	if dir == decision.Long {
		stop = decision.StopForLong(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale)
	} else {
		stop = decision.StopForShort(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale)
	}

	return emit(s.Meta(), b, pf, dir, entry, stop, 0, atr, confidence, triggers, reasons, settings)
}
