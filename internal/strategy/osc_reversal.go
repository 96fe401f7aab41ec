package strategy

import (
	"fmt"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/indicators"
	"signal-engine/internal/marketdata"
)

// OscReversal is a multi-oscillator mean-reversion strategy: RSI, stochastic,
// Williams %R, and CCI vote on an exhaustion reversal. The direction with
// strictly more confirmations wins; a tie emits nothing.
type OscReversal struct {
	stopATRMult   float64
	swingLookback int
}

func NewOscReversal() *OscReversal {
	return &OscReversal{stopATRMult: 1.2, swingLookback: 10}
}

func (s *OscReversal) Meta() Meta {
	return Meta{
		ID:             "osc-reversal",
		Name:           "Oscillator Reversal",
		Description:    "Exhaustion reversal where RSI, stochastic, Williams %R and CCI agree on an extreme.",
		Style:          analysis.StyleIntraday,
		Kind:           KindMeanReversion,
		WinRate:        0.58,
		AvgRR:          1.5,
		SignalsPerWeek: 5,
		MinBars:        100,
		RequiredIndicators: []string{
			"rsi", "stoch", "willr", "cci", "atr",
		},
		Timeframes: Timeframes{Trend: marketdata.IntervalH4, Entry: marketdata.IntervalH1},
		Version:    "1.0.1",
	}
}

const (
	oscConfirmWeight   = 20
	oscRejectionWeight = 15
	oscAlignedWeight   = 10
	oscCounterPenalty  = 15
)

// vote is one oscillator confirmation.
type vote struct {
	why  string
	code decision.ReasonCode
}

// confirmations tallies oversold/overbought votes at the signal bar.
func (s *OscReversal) confirmations(b *analysis.Bundle, i int) (longVotes, shortVotes []vote) {
	if rsi := b.RSI[i]; indicators.Defined(rsi) {
		if rsi <= 30 {
			longVotes = append(longVotes, vote{fmt.Sprintf("rsi oversold %.1f", rsi), decision.ReasonRSIExtreme})
		} else if rsi >= 70 {
			shortVotes = append(shortVotes, vote{fmt.Sprintf("rsi overbought %.1f", rsi), decision.ReasonRSIExtreme})
		}
	}
	st, prev := b.Stoch[i], b.Stoch[i-1]
	if indicators.Defined(st.K) && indicators.Defined(st.D) &&
		indicators.Defined(prev.K) && indicators.Defined(prev.D) {
		if st.K <= 25 && st.K > st.D && prev.K <= prev.D {
			longVotes = append(longVotes, vote{fmt.Sprintf("stoch bull cross at %.1f", st.K), decision.ReasonStochCross})
		} else if st.K >= 75 && st.K < st.D && prev.K >= prev.D {
			shortVotes = append(shortVotes, vote{fmt.Sprintf("stoch bear cross at %.1f", st.K), decision.ReasonStochCross})
		}
	}
	if wr := b.WillR[i]; indicators.Defined(wr) {
		if wr <= -80 {
			longVotes = append(longVotes, vote{fmt.Sprintf("williams %%R %.1f", wr), decision.ReasonWillRExtreme})
		} else if wr >= -20 {
			shortVotes = append(shortVotes, vote{fmt.Sprintf("williams %%R %.1f", wr), decision.ReasonWillRExtreme})
		}
	}
	if cci := b.CCI[i]; indicators.Defined(cci) {
		if cci <= -100 {
			longVotes = append(longVotes, vote{fmt.Sprintf("cci %.0f", cci), decision.ReasonCCIExtreme})
		} else if cci >= 100 {
			shortVotes = append(shortVotes, vote{fmt.Sprintf("cci %.0f", cci), decision.ReasonCCIExtreme})
		}
	}
	return
}

func (s *OscReversal) Analyze(b *analysis.Bundle, settings decision.Settings) *decision.Decision {
	i := b.SignalIndex()
	if i < 1 || i+1 >= len(b.Bars) {
		return nil
	}

	longVotes, shortVotes := s.confirmations(b, i)
	var dir decision.Direction
	var votes []vote
	switch {
	case len(longVotes) > len(shortVotes):
		dir, votes = decision.Long, longVotes
	case len(shortVotes) > len(longVotes):
		dir, votes = decision.Short, shortVotes
	default:
		// Tie, including zero-zero: no edge either way.
		return nil
	}
	if len(votes) < 2 {
		return nil
	}

	pf := RunPreflight(b, s.Meta(), dir)
	if !pf.Passed {
		return nil
	}

	bar := b.Bars[i]
	confidence := len(votes) * oscConfirmWeight
	var triggers []string
	var reasons []decision.ReasonCode
	for _, v := range votes {
		triggers = append(triggers, v.why)
		reasons = append(reasons, v.code)
	}

	if (dir == decision.Long && bullishRejection(bar)) ||
		(dir == decision.Short && bearishRejection(bar)) {
		confidence += oscRejectionWeight
		triggers = append(triggers, "rejection candle confirms exhaustion")
		reasons = append(reasons, decision.ReasonRejectionCandle)
	}
	if pf.Trend.Aligned(string(dir)) {
		confidence += oscAlignedWeight
		triggers = append(triggers, fmt.Sprintf("%s trend aligned", pf.Trend.Timeframe))
		reasons = append(reasons, decision.ReasonTrendAligned)
	}
	if pf.CounterTrend {
		confidence = (confidence - oscCounterPenalty) / 2
		reasons = append(reasons, decision.ReasonCounterTrend)
	}

	entry := b.Bars[i+1].Open
	atr := b.ATR[i]
	scale := pf.Volatility.StopScale()
	var stop, structTarget float64
	if dir == decision.Long {
		stop = decision.StopForLong(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale)
		structTarget = decision.StructureAbove(b.Bars, i, 30, entry)
	} else {
		stop = decision.StopForShort(b.Bars, i, s.swingLookback, entry, atr, s.stopATRMult, scale)
		structTarget = decision.StructureBelow(b.Bars, i, 30, entry)
	}

	return emit(s.Meta(), b, pf, dir, entry, stop, structTarget, atr, confidence, triggers, reasons, settings)
}
