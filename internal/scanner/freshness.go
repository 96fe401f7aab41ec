package scanner

import (
	"sync"
	"time"

	"signal-engine/internal/decision"
)

type seenEntry struct {
	grade     decision.Grade
	expiresAt time.Time
}

// Freshness remembers which signals were surfaced recently so a signal that
// persists across consecutive scans is announced once, not every five
// minutes. Keys follow the decision key (symbol, strategy, direction); a
// sighting stays fresh-blocking for the signal's validity window.
type Freshness struct {
	mu   sync.Mutex
	seen map[string]seenEntry
	now  func() time.Time
}

func NewFreshness() *Freshness {
	return &Freshness{
		seen: make(map[string]seenEntry),
		now:  time.Now,
	}
}

// Observe reports whether the decision is new for its key: first sighting,
// an expired prior sighting, or a strictly better grade. The sighting is
// recorded either way, so a persisting signal keeps refreshing its window
// instead of re-announcing when the first one lapses mid-run.
func (f *Freshness) Observe(d *decision.Decision) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	k := d.Key()
	prev, ok := f.seen[k]
	isNew := !ok || now.After(prev.expiresAt) ||
		decision.GradeRank(d.Grade) > decision.GradeRank(prev.grade)

	validity, _ := decision.ValidityFor(d.Style)
	f.seen[k] = seenEntry{grade: d.Grade, expiresAt: now.Add(validity)}
	return isNew
}

// Prune drops expired sightings. Called opportunistically by the scanner.
func (f *Freshness) Prune() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, e := range f.seen {
		if now.After(e.expiresAt) {
			delete(f.seen, k)
		}
	}
}
