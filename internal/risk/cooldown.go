// Package risk holds the cooldown gate that suppresses re-emission of the
// same trade idea while a prior signal is still live.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/logging"
)

// Cooldown TTLs per style: a signal stays binding for the life of the idea.
const (
	TTLIntraday = 4 * time.Hour
	TTLSwing    = 24 * time.Hour
)

// TTLFor returns the cooldown TTL for a style.
func TTLFor(style analysis.Style) time.Duration {
	if style == analysis.StyleSwing {
		return TTLSwing
	}
	return TTLIntraday
}

type entry struct {
	Grade     decision.Grade
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Verdict is the outcome of one check-and-set.
type Verdict struct {
	Allowed   bool
	Reason    string
	Remaining time.Duration
}

// CooldownGate tracks active signals keyed (symbol, style, direction). Check
// and record are one atomic operation per key, so two concurrent attempts on
// the same key cannot both pass.
type CooldownGate struct {
	mu      sync.Mutex
	entries map[string]entry
	log     zerolog.Logger
	now     func() time.Time
}

func NewCooldownGate() *CooldownGate {
	return &CooldownGate{
		entries: make(map[string]entry),
		log:     logging.Component("cooldown"),
		now:     time.Now,
	}
}

func key(symbol string, style analysis.Style, dir decision.Direction) string {
	return symbol + ":" + string(style) + ":" + string(dir)
}

// Check admits a new signal if the key has no active entry, the entry has
// expired, or the new grade is strictly higher. A flipped direction lands on
// a different key and is therefore always admitted on its own merits. On
// admission the new signal is recorded with the style's TTL.
func (g *CooldownGate) Check(symbol string, style analysis.Style, dir decision.Direction, grade decision.Grade) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	k := key(symbol, style, dir)
	e, ok := g.entries[k]
	if ok && now.Before(e.ExpiresAt) && decision.GradeRank(grade) <= decision.GradeRank(e.Grade) {
		remaining := e.ExpiresAt.Sub(now)
		return Verdict{
			Allowed:   false,
			Reason:    fmt.Sprintf("cooldown active for %s (grade %s, %s remaining)", k, e.Grade, remaining.Round(time.Second)),
			Remaining: remaining,
		}
	}

	g.entries[k] = entry{
		Grade:     grade,
		CreatedAt: now,
		ExpiresAt: now.Add(TTLFor(style)),
	}
	if ok {
		g.log.Debug().Str("key", k).Str("grade", string(grade)).Msg("cooldown superseded")
	}
	return Verdict{Allowed: true}
}

// Active returns the number of unexpired cooldown entries.
func (g *CooldownGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for k, e := range g.entries {
		if now.Before(e.ExpiresAt) {
			n++
		} else {
			delete(g.entries, k)
		}
	}
	return n
}

// Clear drops every entry. Used by tests and manual resets.
func (g *CooldownGate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[string]entry)
}
