package strategy

import (
	"fmt"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

// MACDMomentum enters on a MACD signal-line cross backed by a growing
// histogram and price on the right side of the 200-EMA.
type MACDMomentum struct {
	histBars      int
	stopATRMult   float64
	swingLookback int
}

func NewMACDMomentum() *MACDMomentum {
	return &MACDMomentum{histBars: 3, stopATRMult: 1.5, swingLookback: 8}
}

func (s *MACDMomentum) Meta() Meta {
	return Meta{
		ID:             "macd-momentum",
		Name:           "MACD Momentum",
		Description:    "Signal-line cross with expanding histogram, traded only on the 200-EMA side of the market.",
		Style:          analysis.StyleIntraday,
		Kind:           KindMomentum,
		WinRate:        0.46,
		AvgRR:          2.2,
		SignalsPerWeek: 3,
		MinBars:        250,
		RequiredIndicators: []string{
			"macd", "ema200", "rsi", "adx", "atr",
		},
		Timeframes: Timeframes{Trend: marketdata.IntervalH4, Entry: marketdata.IntervalH1},
		Version:    "1.1.0",
	}
}

const (
	mmCrossWeight   = 30
	mmHistWeight    = 15
	mmEMAWeight     = 15
	mmRSIWeight     = 10
	mmADXWeight     = 10
	mmAlignedWeight = 10
)

func (s *MACDMomentum) Analyze(b *analysis.Bundle, settings decision.Settings) *decision.Decision {
	i := b.SignalIndex()
	if i < s.histBars+1 || i+1 >= len(b.Bars) {
		return nil
	}
	cur, prev := b.MACD[i], b.MACD[i-1]
	if !indicators.Defined(cur.MACD) || !indicators.Defined(cur.Signal) ||
		!indicators.Defined(prev.MACD) || !indicators.Defined(prev.Signal) {
		return nil
	}

	var dir decision.Direction
	switch {
	case cur.MACD > cur.Signal && prev.MACD <= prev.Signal:
		dir = decision.Long
	case cur.MACD < cur.Signal && prev.MACD >= prev.Signal:
		dir = decision.Short
	default:
		return nil
	}

	pf := RunPreflight(b, s.Meta(), dir)
	if !pf.Passed {
		return nil
	}

	bar := b.Bars[i]
	confidence := mmCrossWeight
	triggers := []string{fmt.Sprintf("macd crossed %s signal line", crossWord(dir))}
	reasons := []decision.ReasonCode{decision.ReasonMACDCross}

	histGrowing := true
	for j := i - s.histBars + 1; j <= i; j++ {
		h, hp := b.MACD[j].Histogram, b.MACD[j-1].Histogram
		if !indicators.Defined(h) || !indicators.Defined(hp) {
			histGrowing = false
			break
		}
		if dir == decision.Long && h <= hp {
			histGrowing = false
		}
		if dir == decision.Short && h >= hp {
			histGrowing = false
		}
	}
	if histGrowing {
		confidence += mmHistWeight
		triggers = append(triggers, fmt.Sprintf("histogram expanding %d bars", s.histBars))
		reasons = append(reasons, decision.ReasonMACDHistogram)
	}

	if ema200 := b.EMA[200][i]; indicators.Defined(ema200) {
		rightSide := (dir == decision.Long && bar.Close > ema200) ||
			(dir == decision.Short && bar.Close < ema200)
		if !rightSide {
			// Momentum against the 200-EMA is a fade, not a trade.
			return nil
		}
		confidence += mmEMAWeight
		triggers = append(triggers, "price on the trade side of the 200-ema")
		reasons = append(reasons, decision.ReasonEMAStack)
	}
	if rsi := b.RSI[i]; indicators.Defined(rsi) {
		if (dir == decision.Long && rsi > 50) || (dir == decision.Short && rsi < 50) {
			confidence += mmRSIWeight
			triggers = append(triggers, fmt.Sprintf("rsi %.1f supports momentum", rsi))
		}
	}
	if indicators.Defined(b.ADX[i]) && b.ADX[i] >= 20 {
		confidence += mmADXWeight
		triggers = append(triggers, fmt.Sprintf("adx %.1f", b.ADX[i]))
		reasons = append(reasons, decision.ReasonADXStrength)
	}
	if pf.Trend.Aligned(string(dir)) {
		confidence += mmAlignedWeight
		triggers = append(triggers, fmt.Sprintf("%s trend aligned", pf.Trend.Timeframe))
		reasons = append(reasons, decision.ReasonTrendAligned)
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

func crossWord(dir decision.Direction) string {
	if dir == decision.Long {
		return "above"
	}
	return "below"
}
