package strategy

import (
	"fmt"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

// BollingerMR fades pushes into the outer Bollinger bands when an RSI
// extreme and a rejection candle agree, targeting the middle band.
type BollingerMR struct {
	rsiOversold   float64
	rsiOverbought float64
	stopATRMult   float64
	swingLookback int
}

func NewBollingerMR() *BollingerMR {
	return &BollingerMR{
		rsiOversold:   35,
		rsiOverbought: 65,
		stopATRMult:   1.0,
		swingLookback: 10,
	}
}

func (s *BollingerMR) Meta() Meta {
	return Meta{
		ID:             "bollinger-mr",
		Name:           "Bollinger Mean Reversion",
		Description:    "Fades band touches confirmed by RSI extremes and rejection candles, back to the middle band.",
		Style:          analysis.StyleIntraday,
		Kind:           KindMeanReversion,
		WinRate:        0.62,
		AvgRR:          1.6,
		SignalsPerWeek: 4,
		MinBars:        100,
		RequiredIndicators: []string{
			"bbands", "rsi", "atr",
		},
		Timeframes: Timeframes{Trend: marketdata.IntervalH4, Entry: marketdata.IntervalH1},
		Version:    "1.2.0",
	}
}

// Condition weights.
const (
	bmrTouchWeight     = 25
	bmrRejectionWeight = 20
	bmrRSIWeight       = 15
	bmrAlignedWeight   = 10
	bmrCounterPenalty  = 15
	bmrRRWeight        = 10
	bmrFavorableRR     = 1.5
)

func (s *BollingerMR) Analyze(b *analysis.Bundle, settings decision.Settings) *decision.Decision {
	i := b.SignalIndex()
	if i < 1 || i+1 >= len(b.Bars) {
		return nil
	}
	bar := b.Bars[i]
	bb := b.Bollinger[i]
	rsi := b.RSI[i]
	if !indicators.Defined(bb.Lower) || !indicators.Defined(bb.Upper) ||
		!indicators.Defined(bb.Middle) || !indicators.Defined(rsi) {
		return nil
	}

	var dir decision.Direction
	switch {
	case bar.Low <= bb.Lower:
		dir = decision.Long
	case bar.High >= bb.Upper:
		dir = decision.Short
	default:
		return nil
	}

	pf := RunPreflight(b, s.Meta(), dir)
	if !pf.Passed {
		return nil
	}

	entry := b.Bars[i+1].Open
	atr := b.ATR[i]
	scale := pf.Volatility.StopScale()

	confidence := bmrTouchWeight
	var triggers []string
	var reasons []decision.ReasonCode

	var stop, target float64
	if dir == decision.Long {
		triggers = append(triggers, fmt.Sprintf("low %.5f touched lower band %.5f", bar.Low, bb.Lower))
		reasons = append(reasons, decision.ReasonBBTouch)
		if bullishRejection(bar) {
			confidence += bmrRejectionWeight
			triggers = append(triggers, "bullish rejection candle at the band")
			reasons = append(reasons, decision.ReasonRejectionCandle)
		}
		if rsi <= s.rsiOversold {
			confidence += bmrRSIWeight
			triggers = append(triggers, fmt.Sprintf("rsi oversold at %.1f", rsi))
			reasons = append(reasons, decision.ReasonRSIExtreme)
		}
		stop = decision.StopForLong(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale) - 0.1*atr
		target = bb.Middle
	} else {
		triggers = append(triggers, fmt.Sprintf("high %.5f touched upper band %.5f", bar.High, bb.Upper))
		reasons = append(reasons, decision.ReasonBBTouch)
		if bearishRejection(bar) {
			confidence += bmrRejectionWeight
			triggers = append(triggers, "bearish rejection candle at the band")
			reasons = append(reasons, decision.ReasonRejectionCandle)
		}
		if rsi >= s.rsiOverbought {
			confidence += bmrRSIWeight
			triggers = append(triggers, fmt.Sprintf("rsi overbought at %.1f", rsi))
			reasons = append(reasons, decision.ReasonRSIExtreme)
		}
		stop = decision.StopForShort(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale) + 0.1*atr
		target = bb.Middle
	}

	if pf.Trend.Aligned(string(dir)) {
		confidence += bmrAlignedWeight
		triggers = append(triggers, fmt.Sprintf("%s trend aligned", pf.Trend.Timeframe))
		reasons = append(reasons, decision.ReasonTrendAligned)
	}
	if pf.CounterTrend {
		confidence = (confidence - bmrCounterPenalty) / 2
		reasons = append(reasons, decision.ReasonCounterTrend)
	}

	risk := entry - stop
	if dir == decision.Short {
		risk = stop - entry
	}
	if risk > 0 {
		reward := target - entry
		if dir == decision.Short {
			reward = entry - target
		}
		if reward/risk >= bmrFavorableRR {
			confidence += bmrRRWeight
			triggers = append(triggers, fmt.Sprintf("middle-band target offers %.1fR", reward/risk))
			reasons = append(reasons, decision.ReasonFavorableRR)
		}
	}

	return emit(s.Meta(), b, pf, dir, entry, stop, target, atr, confidence, triggers, reasons, settings)
}
