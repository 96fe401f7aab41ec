// Package strategy holds the uniform strategy contract, the registry, the
// pre-flight quality gate, and the strategy fleet itself. Analyze
// implementations are pure over (bundle, settings) and perform no I/O.
package strategy

import (
	"sort"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
)

// Kind groups strategies for gating: counter-trend handling and volatility
// vetoes differ between mean-reversion and trend-following logic.
type Kind string

const (
	KindMeanReversion Kind = "mean-reversion"
	KindTrend         Kind = "trend"
	KindMomentum      Kind = "momentum"
	KindBreakout      Kind = "breakout"
)

// Timeframes names the trend/entry pair a strategy evaluates on.
type Timeframes struct {
	Trend string `json:"trend"`
	Entry string `json:"entry"`
}

// Meta describes a strategy to the registry, the scanner, and the API.
type Meta struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Style              analysis.Style `json:"style"`
	Kind               Kind           `json:"kind"`
	WinRate            float64        `json:"win_rate"`
	AvgRR              float64        `json:"avg_rr"`
	SignalsPerWeek     float64        `json:"signals_per_week"`
	MinBars            int            `json:"min_bars"`
	RequiredIndicators []string       `json:"required_indicators"`
	Timeframes         Timeframes     `json:"timeframes"`
	Version            string         `json:"version"`
}

// Strategy is the uniform contract. Analyze returns nil when no tradeable
// signal exists; it never returns errors and never performs I/O.
type Strategy interface {
	Meta() Meta
	Analyze(b *analysis.Bundle, settings decision.Settings) *decision.Decision
}

// Registry is the immutable process-wide strategy map, built once at startup.
type Registry struct {
	byID  map[string]Strategy
	order []string
}

// NewRegistry builds a registry; later duplicates of an ID are ignored.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byID: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		id := s.Meta().ID
		if _, exists := r.byID[id]; exists {
			continue
		}
		r.byID[id] = s
		r.order = append(r.order, id)
	}
	return r
}

// DefaultRegistry holds the production fleet.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewBollingerMR(),
		NewTrendRider(),
		NewOscReversal(),
		NewRangeBreakout(),
		NewMACDMomentum(),
	)
}

// Get returns the strategy for an ID.
func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// All returns the strategies in registration order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the registered strategy IDs in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// ByStyle filters the fleet by trading style.
func (r *Registry) ByStyle(style analysis.Style) []Strategy {
	var out []Strategy
	for _, id := range r.order {
		if r.byID[id].Meta().Style == style {
			out = append(out, r.byID[id])
		}
	}
	return out
}

// RequiredIndicators returns the sorted union of indicator requirements, used
// to prune upstream fetches.
func (r *Registry) RequiredIndicators() []string {
	set := make(map[string]struct{})
	for _, id := range r.order {
		for _, ind := range r.byID[id].Meta().RequiredIndicators {
			set[ind] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for ind := range set {
		out = append(out, ind)
	}
	sort.Strings(out)
	return out
}

// clampConfidence bounds a raw score to [0, 100].
func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// minConfidence is the emission floor; below it Analyze returns nil.
const minConfidence = 50

// emit runs the decision builder for a strategy verdict and stamps the
// strategy identity. Returns nil below the confidence floor or on an
// inconsistent order.
func emit(meta Meta, b *analysis.Bundle, pf Preflight, dir decision.Direction,
	entry, stop, structTarget, atr float64, confidence int,
	triggers []string, reasons []decision.ReasonCode, settings decision.Settings) *decision.Decision {

	confidence = clampConfidence(confidence)
	if confidence < minConfidence {
		return nil
	}
	d := decision.Build(decision.Input{
		Symbol:          b.Symbol,
		Style:           meta.Style,
		Direction:       dir,
		Entry:           entry,
		StopLoss:        stop,
		StructureTarget: structTarget,
		ATR:             atr,
		Confidence:      confidence,
		PreflightStrong: pf.Strong,
		TrendAligned:    pf.Trend.Aligned(string(dir)),
		Triggers:        triggers,
		ReasonCodes:     reasons,
		Volatility:      pf.Volatility,
		Settings:        settings,
	})
	if d == nil {
		return nil
	}
	d.StrategyID = meta.ID
	d.StrategyName = meta.Name
	return d
}
