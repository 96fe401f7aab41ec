// Package decision defines the immutable result of a strategy run and the
// builder that attaches levels, sizing, tiered exits, and validity to it.
package decision

import (
	"time"

	"signal-engine/internal/analysis"
)

// Direction of a trade signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the flipped direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Grade is the discrete quality label of a decision.
type Grade string

const (
	GradeAPlus   Grade = "A+"
	GradeA       Grade = "A"
	GradeBPlus   Grade = "B+"
	GradeB       Grade = "B"
	GradeC       Grade = "C"
	GradeNoTrade Grade = "no-trade"
)

// GradeRank orders grades: no-trade < C < B < B+ < A < A+.
func GradeRank(g Grade) int {
	switch g {
	case GradeAPlus:
		return 5
	case GradeA:
		return 4
	case GradeBPlus:
		return 3
	case GradeB:
		return 2
	case GradeC:
		return 1
	default:
		return 0
	}
}

// IsTrade reports whether the grade represents an emittable trade.
func (g Grade) IsTrade() bool {
	return GradeRank(g) > 0
}

// GradeFor maps a confidence score to a grade. A+ additionally requires a
// strong pre-flight and higher-timeframe alignment; grades are monotonic in
// confidence for fixed flags.
func GradeFor(confidence int, preflightStrong, trendAligned bool) Grade {
	switch {
	case confidence >= 85 && preflightStrong && trendAligned:
		return GradeAPlus
	case confidence >= 75:
		return GradeA
	case confidence >= 65:
		return GradeBPlus
	case confidence >= 55:
		return GradeB
	case confidence >= 50:
		return GradeC
	default:
		return GradeNoTrade
	}
}

// ReasonCode is a closed enum of decision triggers, so tests and consumers
// can assert exact sets instead of parsing free text.
type ReasonCode string

const (
	ReasonBBTouch         ReasonCode = "bb_touch"
	ReasonBBMidReversion  ReasonCode = "bb_mid_reversion"
	ReasonRejectionCandle ReasonCode = "rejection_candle"
	ReasonRSIExtreme      ReasonCode = "rsi_extreme"
	ReasonStochCross      ReasonCode = "stoch_cross"
	ReasonStochExtreme    ReasonCode = "stoch_extreme"
	ReasonWillRExtreme    ReasonCode = "willr_extreme"
	ReasonCCIExtreme      ReasonCode = "cci_extreme"
	ReasonEMAStack        ReasonCode = "ema_stack"
	ReasonEMAPullback     ReasonCode = "ema_pullback"
	ReasonMACDCross       ReasonCode = "macd_cross"
	ReasonMACDHistogram   ReasonCode = "macd_histogram"
	ReasonRangeBreakout   ReasonCode = "range_breakout"
	ReasonOBVConfirm      ReasonCode = "obv_confirm"
	ReasonVolumeSurge     ReasonCode = "volume_surge"
	ReasonADXStrength     ReasonCode = "adx_strength"
	ReasonTrendAligned    ReasonCode = "trend_aligned"
	ReasonCounterTrend    ReasonCode = "counter_trend"
	ReasonFavorableRR     ReasonCode = "favorable_rr"
)

// State of a decision relative to its validity window.
type State string

const (
	StateOptimal   State = "optimal"
	StateDegrading State = "degrading"
	StateExpired   State = "expired"
)

// PriceLevel is a stop or target with derived presentation fields.
type PriceLevel struct {
	Price     float64 `json:"price"`
	Formatted string  `json:"formatted"`
	Pips      float64 `json:"pips"`
	RR        float64 `json:"rr"`
}

// TakeProfitSource records which recipe produced the target.
type TakeProfitSource string

const (
	TPStructure TakeProfitSource = "structure"
	TPRRTarget  TakeProfitSource = "rr_target"
	TPATR       TakeProfitSource = "atr"
)

// Position is the sized trade.
type Position struct {
	Lots          float64 `json:"lots"`
	Units         float64 `json:"units"`
	RiskAmount    float64 `json:"risk_amount"`
	IsApproximate bool    `json:"is_approximate"`
}

// TieredExit is one leg of the exit plan.
type TieredExit struct {
	Label   string  `json:"label"` // TP1, TP2, runner
	Price   float64 `json:"price"`
	RR      float64 `json:"rr"`
	Percent int     `json:"percent"` // share of the position closed here
	Action  string  `json:"action"`
}

// Gating records why a decision was withheld from emission.
type Gating struct {
	CooldownBlocked   bool   `json:"cooldown_blocked"`
	VolatilityBlocked bool   `json:"volatility_blocked"`
	Reason            string `json:"reason,omitempty"`
}

// Decision is the immutable outcome of one strategy run on one bundle.
type Decision struct {
	ID           string         `json:"id"`
	Symbol       string         `json:"symbol"`
	StrategyID   string         `json:"strategy_id"`
	StrategyName string         `json:"strategy_name"`
	Style        analysis.Style `json:"style"`
	Timestamp    time.Time      `json:"timestamp"`

	Direction  Direction `json:"direction"`
	Grade      Grade     `json:"grade"`
	Confidence int       `json:"confidence"`

	Entry            float64          `json:"entry"`
	EntryFormatted   string           `json:"entry_formatted"`
	StopLoss         PriceLevel       `json:"stop_loss"`
	TakeProfit       PriceLevel       `json:"take_profit"`
	TakeProfitSource TakeProfitSource `json:"take_profit_source"`

	Position         Position     `json:"position"`
	TieredExits      []TieredExit `json:"tiered_exits"`
	BreakEvenTrigger float64      `json:"break_even_trigger"`
	TrailingStopR    float64      `json:"trailing_stop_r,omitempty"`
	Instructions     []string     `json:"instructions"`

	FirstDetected time.Time `json:"first_detected"`
	ValidUntil    time.Time `json:"valid_until"`
	OptimalUntil  time.Time `json:"optimal_until"`

	Triggers    []string     `json:"triggers"`
	ReasonCodes []ReasonCode `json:"reason_codes"`
	Warnings    []string     `json:"warnings,omitempty"`
	Gating      Gating       `json:"gating"`
}

// StateAt returns the decision's freshness state at a given time.
func (d *Decision) StateAt(now time.Time) State {
	switch {
	case now.After(d.ValidUntil):
		return StateExpired
	case now.After(d.OptimalUntil):
		return StateDegrading
	default:
		return StateOptimal
	}
}

// Key identifies the dedup/cooldown scope of a decision.
func (d *Decision) Key() string {
	return d.Symbol + ":" + d.StrategyID + ":" + string(d.Direction)
}

// Validity windows per style.
const (
	ValidityIntraday = 60 * time.Minute
	OptimalIntraday  = 30 * time.Minute
	ValiditySwing    = 240 * time.Minute
	OptimalSwing     = 120 * time.Minute
)

// ValidityFor returns (validity, optimal) windows for a style.
func ValidityFor(style analysis.Style) (time.Duration, time.Duration) {
	if style == analysis.StyleSwing {
		return ValiditySwing, OptimalSwing
	}
	return ValidityIntraday, OptimalIntraday
}
