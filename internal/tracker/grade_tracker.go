// Package tracker follows the best-known grade per (symbol, strategy) and
// emits upgrade events when a signal appears, improves, or flips direction.
package tracker

import (
	"sync"
	"time"

	"signal-engine/internal/decision"
)

// UpgradeType classifies why an upgrade event fired.
type UpgradeType string

const (
	UpgradeNewSignal        UpgradeType = "new-signal"
	UpgradeGradeImprovement UpgradeType = "grade-improvement"
	UpgradeDirectionFlip    UpgradeType = "direction-flip"
)

// Upgrade is one emitted grade-tracker event.
type Upgrade struct {
	Symbol       string             `json:"symbol"`
	StrategyID   string             `json:"strategy_id"`
	StrategyName string             `json:"strategy_name"`
	Type         UpgradeType        `json:"type"`
	From         decision.Grade     `json:"from"`
	To           decision.Grade     `json:"to"`
	Direction    decision.Direction `json:"direction"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Handler receives upgrade events after the tracker state has committed.
type Handler func(Upgrade)

// Entry is the tracked state for one (symbol, strategy).
type Entry struct {
	Grade     decision.Grade
	Direction decision.Direction
	Timestamp time.Time
}

const recentUpgrades = 50

// GradeTracker is a mutable singleton; updates per key are serialized by its
// lock and handlers run after the state change is visible.
type GradeTracker struct {
	mu       sync.Mutex
	state    map[string]Entry
	recent   []Upgrade // ring, newest last
	handlers []Handler
	now      func() time.Time
}

func NewGradeTracker() *GradeTracker {
	return &GradeTracker{
		state: make(map[string]Entry),
		now:   time.Now,
	}
}

// OnUpgrade registers a handler. Registration is expected at startup, before
// updates begin.
func (t *GradeTracker) OnUpgrade(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Update records the latest grade for a key and returns the upgrade event it
// produced, if any: a first trade-grade signal, a strict improvement in the
// same direction, or a direction flip from a prior trade grade.
func (t *GradeTracker) Update(symbol, strategyID, strategyName string, grade decision.Grade, dir decision.Direction) *Upgrade {
	t.mu.Lock()

	k := symbol + ":" + strategyID
	prev, existed := t.state[k]
	now := t.now()
	t.state[k] = Entry{Grade: grade, Direction: dir, Timestamp: now}

	var up *Upgrade
	switch {
	case !grade.IsTrade():
		// A no-trade read never upgrades anything.
	case !existed || !prev.Grade.IsTrade():
		up = &Upgrade{Type: UpgradeNewSignal, From: decision.GradeNoTrade}
	case prev.Direction != dir:
		up = &Upgrade{Type: UpgradeDirectionFlip, From: prev.Grade}
	case decision.GradeRank(grade) > decision.GradeRank(prev.Grade):
		up = &Upgrade{Type: UpgradeGradeImprovement, From: prev.Grade}
	}

	var handlers []Handler
	if up != nil {
		up.Symbol = symbol
		up.StrategyID = strategyID
		up.StrategyName = strategyName
		up.To = grade
		up.Direction = dir
		up.Timestamp = now

		t.recent = append(t.recent, *up)
		if len(t.recent) > recentUpgrades {
			t.recent = t.recent[len(t.recent)-recentUpgrades:]
		}
		handlers = append(handlers, t.handlers...)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(*up)
	}
	return up
}

// Get returns the tracked entry for a key.
func (t *GradeTracker) Get(symbol, strategyID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.state[symbol+":"+strategyID]
	return e, ok
}

// Recent returns the latest upgrades, newest first.
func (t *GradeTracker) Recent() []Upgrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Upgrade, len(t.recent))
	for i, u := range t.recent {
		out[len(t.recent)-1-i] = u
	}
	return out
}
