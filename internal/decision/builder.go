package decision

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"signal-engine/internal/analysis"
	"signal-engine/internal/instruments"
	"signal-engine/internal/marketdata"
)

// Settings are the user-scoped knobs of decision construction.
type Settings struct {
	AccountSize        float64 `json:"account_size"`
	RiskPercent        float64 `json:"risk_percent"`
	MaxPositionPercent float64 `json:"max_position_percent"`
	RRTarget           float64 `json:"rr_target"`
}

// DefaultSettings mirrors a small retail account.
func DefaultSettings() Settings {
	return Settings{AccountSize: 10000, RiskPercent: 2, MaxPositionPercent: 10, RRTarget: 2.0}
}

// Input carries one strategy verdict into the builder.
type Input struct {
	Symbol    string
	Style     analysis.Style
	Direction Direction

	Entry           float64
	StopLoss        float64
	StructureTarget float64 // 0 when the strategy found no structure level
	ATR             float64

	Confidence      int
	PreflightStrong bool
	TrendAligned    bool

	Triggers    []string
	ReasonCodes []ReasonCode
	Warnings    []string

	Volatility analysis.Volatility
	Settings   Settings
	Now        time.Time
}

const (
	tp1RR       = 1.0
	tp2RR       = 2.0
	runnerRR    = 3.0
	trailR      = 0.5
	atrTPMult   = 2.0
	minStructRR = 1.0
)

// Build finalizes a strategy verdict into a Decision: target selection,
// order validation, pip math, sizing, tiered exits, and the validity window.
// Returns nil when the resulting order would be inconsistent.
func Build(in Input) *Decision {
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	if in.Settings == (Settings{}) {
		in.Settings = DefaultSettings()
	}
	risk := math.Abs(in.Entry - in.StopLoss)
	if risk <= 0 || math.IsNaN(risk) || math.IsInf(risk, 0) {
		return nil
	}

	tp, source := resolveTakeProfit(in, risk)
	if !orderValid(in.Direction, in.StopLoss, in.Entry, tp) {
		return nil
	}

	spec, _ := instruments.Lookup(in.Symbol)
	rr := math.Abs(tp-in.Entry) / risk

	d := &Decision{
		ID:             uuid.NewString(),
		Symbol:         in.Symbol,
		Style:          in.Style,
		Timestamp:      in.Now,
		Direction:      in.Direction,
		Grade:          GradeFor(in.Confidence, in.PreflightStrong, in.TrendAligned),
		Confidence:     in.Confidence,
		Entry:          in.Entry,
		EntryFormatted: formatPrice(in.Entry, spec),
		StopLoss: PriceLevel{
			Price:     in.StopLoss,
			Formatted: formatPrice(in.StopLoss, spec),
			Pips:      risk / spec.PipSize,
			RR:        1.0,
		},
		TakeProfit: PriceLevel{
			Price:     tp,
			Formatted: formatPrice(tp, spec),
			Pips:      math.Abs(tp-in.Entry) / spec.PipSize,
			RR:        rr,
		},
		TakeProfitSource: source,
		Triggers:         in.Triggers,
		ReasonCodes:      in.ReasonCodes,
		Warnings:         in.Warnings,
		FirstDetected:    in.Now,
	}

	validity, optimal := ValidityFor(in.Style)
	d.ValidUntil = in.Now.Add(validity)
	d.OptimalUntil = in.Now.Add(optimal)

	size := CalculateSize(SizeInput{
		Symbol:             in.Symbol,
		Entry:              in.Entry,
		Stop:               in.StopLoss,
		AccountSize:        in.Settings.AccountSize,
		RiskPercent:        in.Settings.RiskPercent,
		MaxPositionPercent: in.Settings.MaxPositionPercent,
	})
	if size.Valid {
		d.Position = Position{
			Lots:          size.Lots,
			Units:         size.Units,
			RiskAmount:    size.RiskAmount,
			IsApproximate: size.IsApproximate,
		}
		d.Warnings = append(d.Warnings, size.Warnings...)
	} else {
		d.Warnings = append(d.Warnings, "position sizing unavailable: "+size.Reason)
	}

	attachTieredExits(d, risk)
	return d
}

// resolveTakeProfit picks the target: structure level first, then the RR
// target, then an ATR multiple. Regime scaling shrinks targets in
// compression.
func resolveTakeProfit(in Input, risk float64) (float64, TakeProfitSource) {
	sign := 1.0
	if in.Direction == Short {
		sign = -1.0
	}
	if in.StructureTarget > 0 {
		structRR := sign * (in.StructureTarget - in.Entry) / risk
		if structRR >= minStructRR {
			return in.StructureTarget, TPStructure
		}
	}
	if in.Settings.RRTarget > 0 {
		return in.Entry + sign*in.Settings.RRTarget*in.Volatility.RRScale()*risk, TPRRTarget
	}
	if in.ATR > 0 {
		return in.Entry + sign*atrTPMult*in.ATR, TPATR
	}
	return in.Entry + sign*tp2RR*risk, TPRRTarget
}

func orderValid(dir Direction, stop, entry, tp float64) bool {
	for _, v := range []float64{stop, entry, tp} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	if dir == Long {
		return stop < entry && entry < tp
	}
	return stop > entry && entry > tp
}

// attachTieredExits writes the default exit plan: half off at 1R with stop
// to breakeven, half of the rest at 2R, runner to 3R with a 0.5R trail.
func attachTieredExits(d *Decision, risk float64) {
	sign := 1.0
	if d.Direction == Short {
		sign = -1.0
	}
	spec, _ := instruments.Lookup(d.Symbol)
	at := func(rr float64) float64 { return d.Entry + sign*rr*risk }

	d.TieredExits = []TieredExit{
		{Label: "TP1", Price: at(tp1RR), RR: tp1RR, Percent: 50, Action: "close 50%, move stop to breakeven"},
		{Label: "TP2", Price: at(tp2RR), RR: tp2RR, Percent: 25, Action: "close half of remainder"},
		{Label: "runner", Price: at(runnerRR), RR: runnerRR, Percent: 25, Action: fmt.Sprintf("trail stop %.1fR behind price", trailR)},
	}
	d.BreakEvenTrigger = at(tp1RR)
	d.TrailingStopR = trailR
	d.Instructions = []string{
		fmt.Sprintf("Enter %s at %s", d.Direction, formatPrice(d.Entry, spec)),
		fmt.Sprintf("Stop loss at %s (%.1f pips)", d.StopLoss.Formatted, d.StopLoss.Pips),
		fmt.Sprintf("Close 50%% at %s (1R) and move stop to breakeven", formatPrice(at(tp1RR), spec)),
		fmt.Sprintf("Close 25%% at %s (2R)", formatPrice(at(tp2RR), spec)),
		fmt.Sprintf("Let the rest run toward %s (3R), trailing %.1fR", formatPrice(at(runnerRR), spec), trailR),
	}
}

func formatPrice(p float64, spec instruments.Spec) string {
	return strconv.FormatFloat(p, 'f', spec.Digits, 64)
}

// StopForLong places the stop below the swing low of the trailing window,
// at least one ATR multiple under entry. scale comes from the regime.
func StopForLong(bars []marketdata.Bar, signalIdx, lookback int, entry, atr, mult, scale float64) float64 {
	low := entry
	for i := max(0, signalIdx-lookback+1); i <= signalIdx && i < len(bars); i++ {
		if bars[i].Low < low {
			low = bars[i].Low
		}
	}
	byATR := entry - atr*mult*scale
	return math.Min(low, byATR)
}

// StopForShort mirrors StopForLong above the swing high.
func StopForShort(bars []marketdata.Bar, signalIdx, lookback int, entry, atr, mult, scale float64) float64 {
	high := entry
	for i := max(0, signalIdx-lookback+1); i <= signalIdx && i < len(bars); i++ {
		if bars[i].High > high {
			high = bars[i].High
		}
	}
	byATR := entry + atr*mult*scale
	return math.Max(high, byATR)
}

// StructureAbove finds the most recent swing high above the entry within the
// lookback window; 0 when none exists.
func StructureAbove(bars []marketdata.Bar, signalIdx, lookback int, entry float64) float64 {
	best := 0.0
	for i := max(0, signalIdx-lookback+1); i <= signalIdx && i < len(bars); i++ {
		if bars[i].High > entry && (best == 0 || bars[i].High < best) {
			best = bars[i].High
		}
	}
	return best
}

// StructureBelow finds the nearest swing low below the entry within the
// lookback window; 0 when none exists.
func StructureBelow(bars []marketdata.Bar, signalIdx, lookback int, entry float64) float64 {
	best := 0.0
	for i := max(0, signalIdx-lookback+1); i <= signalIdx && i < len(bars); i++ {
		if bars[i].Low < entry && bars[i].Low > best {
			best = bars[i].Low
		}
	}
	return best
}
