package strategy

import (
	"fmt"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

// RangeBreakout trades closes beyond a tight consolidation range, with
// volume and OBV confirming participation. Swing style: H4 entries.
type RangeBreakout struct {
	rangeBars     int
	maxRangeATR   float64
	volumeSurge   float64
	obvLookback   int
	stopATRMult   float64
	swingLookback int
}

func NewRangeBreakout() *RangeBreakout {
	return &RangeBreakout{
		rangeBars:     20,
		maxRangeATR:   3.0,
		volumeSurge:   1.5,
		obvLookback:   5,
		stopATRMult:   1.0,
		swingLookback: 6,
	}
}

func (s *RangeBreakout) Meta() Meta {
	return Meta{
		ID:             "range-breakout",
		Name:           "Range Breakout",
		Description:    "Breakout close beyond a tight multi-bar range, confirmed by volume and OBV.",
		Style:          analysis.StyleSwing,
		Kind:           KindBreakout,
		WinRate:        0.44,
		AvgRR:          2.8,
		SignalsPerWeek: 2,
		MinBars:        150,
		RequiredIndicators: []string{
			"atr", "adx", "obv",
		},
		Timeframes: Timeframes{Trend: marketdata.IntervalD1, Entry: marketdata.IntervalH4},
		Version:    "1.0.0",
	}
}

const (
	rbBreakWeight   = 30
	rbVolumeWeight  = 20
	rbOBVWeight     = 15
	rbADXWeight     = 10
	rbAlignedWeight = 10
	rbCloseWeight   = 10
)

func (s *RangeBreakout) Analyze(b *analysis.Bundle, settings decision.Settings) *decision.Decision {
	i := b.SignalIndex()
	if i < s.rangeBars+s.obvLookback || i+1 >= len(b.Bars) {
		return nil
	}
	atr := b.ATR[i]
	if !indicators.Defined(atr) || atr <= 0 {
		return nil
	}
	bar := b.Bars[i]

	// The range is measured over the bars before the signal bar.
	rangeHigh, rangeLow := b.Bars[i-1].High, b.Bars[i-1].Low
	volSum := 0.0
	for j := i - s.rangeBars; j < i; j++ {
		if b.Bars[j].High > rangeHigh {
			rangeHigh = b.Bars[j].High
		}
		if b.Bars[j].Low < rangeLow {
			rangeLow = b.Bars[j].Low
		}
		volSum += b.Bars[j].Volume
	}
	if rangeHigh-rangeLow > s.maxRangeATR*atr {
		// Not a consolidation, just a wide market.
		return nil
	}

	var dir decision.Direction
	switch {
	case bar.Close > rangeHigh:
		dir = decision.Long
	case bar.Close < rangeLow:
		dir = decision.Short
	default:
		return nil
	}

	pf := RunPreflight(b, s.Meta(), dir)
	if !pf.Passed {
		return nil
	}

	confidence := rbBreakWeight
	triggers := []string{fmt.Sprintf("close %.5f broke %d-bar range [%.5f, %.5f]",
		bar.Close, s.rangeBars, rangeLow, rangeHigh)}
	reasons := []decision.ReasonCode{decision.ReasonRangeBreakout}

	avgVol := volSum / float64(s.rangeBars)
	if avgVol > 0 && bar.Volume >= s.volumeSurge*avgVol {
		confidence += rbVolumeWeight
		triggers = append(triggers, fmt.Sprintf("volume %.0f vs %.0f average", bar.Volume, avgVol))
		reasons = append(reasons, decision.ReasonVolumeSurge)
	}

	obvNow, obvThen := b.OBV[i], b.OBV[i-s.obvLookback]
	if indicators.Defined(obvNow) && indicators.Defined(obvThen) {
		if (dir == decision.Long && obvNow > obvThen) || (dir == decision.Short && obvNow < obvThen) {
			confidence += rbOBVWeight
			triggers = append(triggers, "obv confirms breakout direction")
			reasons = append(reasons, decision.ReasonOBVConfirm)
		}
	}
	if indicators.Defined(b.ADX[i]) && b.ADX[i] >= 20 {
		confidence += rbADXWeight
		triggers = append(triggers, fmt.Sprintf("adx %.1f", b.ADX[i]))
		reasons = append(reasons, decision.ReasonADXStrength)
	}
	if pf.Trend.Aligned(string(dir)) {
		confidence += rbAlignedWeight
		triggers = append(triggers, fmt.Sprintf("%s trend aligned", pf.Trend.Timeframe))
		reasons = append(reasons, decision.ReasonTrendAligned)
	}
	if !degenerate(bar) {
		rng := bar.High - bar.Low
		strongClose := (dir == decision.Long && bar.Close >= bar.High-0.3*rng) ||
			(dir == decision.Short && bar.Close <= bar.Low+0.3*rng)
		if strongClose {
			confidence += rbCloseWeight
			triggers = append(triggers, "close in the breakout third of the bar")
		}
	}

	entry := b.Bars[i+1].Open
	scale := pf.Volatility.StopScale()
	var stop float64
	if dir == decision.Long {
		// Failed breakouts die back inside the range; stop under its midpoint
		// capped by the ATR distance.
		stop = decision.StopForLong(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale)
		if mid := (rangeHigh + rangeLow) / 2; mid < entry && mid > stop {
			stop = mid
		}
	} else {
		stop = decision.StopForShort(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale)
		if mid := (rangeHigh + rangeLow) / 2; mid > entry && mid < stop {
			stop = mid
		}
	}

	return emit(s.Meta(), b, pf, dir, entry, stop, 0, atr, confidence, triggers, reasons, settings)
}
