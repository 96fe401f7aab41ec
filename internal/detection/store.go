// Package detection owns the lifecycle of emitted trade ideas: a keyed state
// machine from cooling_down through eligible to a terminal outcome, with a
// background sweeper and filterable queries.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-engine/internal/decision"
	"signal-engine/internal/logging"
	"signal-engine/internal/risk"
)

// Status of a detection. cooling_down and eligible are active; the rest are
// terminal and can never transition again.
type Status string

const (
	StatusCoolingDown Status = "cooling_down"
	StatusEligible    Status = "eligible"
	StatusExecuted    Status = "executed"
	StatusDismissed   Status = "dismissed"
	StatusExpired     Status = "expired"
	StatusInvalidated Status = "invalidated"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCoolingDown, StatusEligible:
		return false
	}
	return true
}

var (
	ErrNotFound = errors.New("detection not found")
	ErrTerminal = errors.New("detection already terminal")
)

// Detection is the persistent lifecycle record for one (strategy, symbol,
// direction) trade idea.
type Detection struct {
	ID           string             `json:"id"`
	StrategyID   string             `json:"strategy_id"`
	StrategyName string             `json:"strategy_name"`
	Symbol       string             `json:"symbol"`
	Direction    decision.Direction `json:"direction"`
	Grade        decision.Grade     `json:"grade"`
	Confidence   int                `json:"confidence"`
	Status       Status             `json:"status"`

	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	FirstDetectedAt time.Time `json:"first_detected_at"`
	LastDetectedAt  time.Time `json:"last_detected_at"`
	DetectionCount  int       `json:"detection_count"`
	CooldownEndsAt  time.Time `json:"cooldown_ends_at"`
	ValidUntil      time.Time `json:"valid_until"`
	UpdatedAt       time.Time `json:"updated_at"`
	Notes           string    `json:"notes,omitempty"`
}

func (d *Detection) key() string {
	return d.StrategyID + ":" + d.Symbol + ":" + string(d.Direction)
}

// Persister saves detection mutations durably. Failures are logged and the
// in-memory store remains authoritative for the session.
type Persister interface {
	SaveDetection(ctx context.Context, d *Detection) error
}

// Config tunes the store.
type Config struct {
	CooldownMinutes int            `json:"cooldown_minutes"` // default 60
	MinGrade        decision.Grade `json:"min_grade"`        // default B
	SweepInterval   time.Duration  `json:"sweep_interval"`   // default 60s
}

func DefaultConfig() Config {
	return Config{CooldownMinutes: 60, MinGrade: decision.GradeB, SweepInterval: time.Minute}
}

// Store is the mutable detection singleton. All reads and transitions for a
// key happen under one lock, so no two active detections can share a key.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*Detection
	active map[string]string // key -> id of the active detection

	cfg       Config
	persister Persister
	log       zerolog.Logger
	now       func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewStore(cfg Config, persister Persister) *Store {
	if cfg.CooldownMinutes <= 0 {
		cfg.CooldownMinutes = 60
	}
	if cfg.MinGrade == "" {
		cfg.MinGrade = decision.GradeB
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Store{
		byID:      make(map[string]*Detection),
		active:    make(map[string]string),
		cfg:       cfg,
		persister: persister,
		log:       logging.Component("detection-store"),
		now:       time.Now,
	}
}

// Record folds one emitted decision into the store. Decisions below the
// persistence grade are ignored. An active opposite-direction detection on
// the same (strategy, symbol) is invalidated first. Returns the affected
// detection and whether it was newly created.
func (s *Store) Record(ctx context.Context, d *decision.Decision) (*Detection, bool) {
	if decision.GradeRank(d.Grade) < decision.GradeRank(s.cfg.MinGrade) {
		return nil, false
	}

	s.mu.Lock()
	now := s.now()

	oppositeKey := d.StrategyID + ":" + d.Symbol + ":" + string(d.Direction.Opposite())
	var toPersist []Detection
	if id, ok := s.active[oppositeKey]; ok {
		opp := s.byID[id]
		s.transitionLocked(opp, StatusInvalidated, "opposite-direction signal", now)
		toPersist = append(toPersist, *opp)
	}

	key := d.StrategyID + ":" + d.Symbol + ":" + string(d.Direction)
	var det *Detection
	created := false
	if id, ok := s.active[key]; ok {
		det = s.byID[id]
		det.LastDetectedAt = now
		det.DetectionCount++
		if decision.GradeRank(d.Grade) > decision.GradeRank(det.Grade) {
			det.Grade = d.Grade
			det.Confidence = d.Confidence
		} else if d.Grade == det.Grade && d.Confidence > det.Confidence {
			det.Confidence = d.Confidence
		}
		det.UpdatedAt = now
	} else {
		created = true
		det = &Detection{
			ID:              uuid.NewString(),
			StrategyID:      d.StrategyID,
			StrategyName:    d.StrategyName,
			Symbol:          d.Symbol,
			Direction:       d.Direction,
			Grade:           d.Grade,
			Confidence:      d.Confidence,
			Status:          StatusCoolingDown,
			Entry:           d.Entry,
			StopLoss:        d.StopLoss.Price,
			TakeProfit:      d.TakeProfit.Price,
			FirstDetectedAt: now,
			LastDetectedAt:  now,
			DetectionCount:  1,
			CooldownEndsAt:  now.Add(time.Duration(s.cfg.CooldownMinutes) * time.Minute),
			ValidUntil:      now.Add(risk.TTLFor(d.Style)),
			UpdatedAt:       now,
		}
		s.byID[det.ID] = det
		s.active[det.key()] = det.ID
	}
	snapshot := *det
	toPersist = append(toPersist, snapshot)
	s.mu.Unlock()

	s.persist(ctx, toPersist...)
	return &snapshot, created
}

// transitionLocked moves a detection to a new status. Caller holds the lock.
func (s *Store) transitionLocked(d *Detection, to Status, note string, now time.Time) {
	d.Status = to
	d.UpdatedAt = now
	if note != "" {
		d.Notes = note
	}
	if to.Terminal() {
		delete(s.active, d.key())
	}
	s.log.Info().
		Str("id", d.ID).
		Str("symbol", d.Symbol).
		Str("strategy", d.StrategyID).
		Str("status", string(to)).
		Msg("detection transition")
}

// Execute marks an active detection taken by the user.
func (s *Store) Execute(ctx context.Context, id, notes string) error {
	return s.userTransition(ctx, id, StatusExecuted, notes)
}

// Dismiss marks an active detection rejected by the user.
func (s *Store) Dismiss(ctx context.Context, id, notes string) error {
	return s.userTransition(ctx, id, StatusDismissed, notes)
}

func (s *Store) userTransition(ctx context.Context, id string, to Status, notes string) error {
	s.mu.Lock()
	d, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if d.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, d.Status)
	}
	s.transitionLocked(d, to, notes, s.now())
	snapshot := *d
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	return nil
}

// Sweep promotes cooled-down detections to eligible and expires those past
// validity. Runs periodically; also callable directly.
func (s *Store) Sweep(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var changed []Detection
	for _, id := range s.active {
		d := s.byID[id]
		switch {
		case now.After(d.ValidUntil):
			s.transitionLocked(d, StatusExpired, "", now)
			changed = append(changed, *d)
		case d.Status == StatusCoolingDown && !now.Before(d.CooldownEndsAt):
			s.transitionLocked(d, StatusEligible, "", now)
			changed = append(changed, *d)
		}
	}
	s.mu.Unlock()

	s.persist(ctx, changed...)
}

// Start launches the periodic sweeper. Idempotent.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweeper. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	stop, done := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Filter selects detections for queries. Zero values match everything.
type Filter struct {
	Status     Status
	StrategyID string
	Symbol     string
	MinGrade   decision.Grade
	Limit      int
	Offset     int
}

// Query returns matching detections, newest first.
func (s *Store) Query(f Filter) []Detection {
	s.mu.Lock()
	var out []Detection
	for _, d := range s.byID {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.StrategyID != "" && d.StrategyID != f.StrategyID {
			continue
		}
		if f.Symbol != "" && d.Symbol != f.Symbol {
			continue
		}
		if f.MinGrade != "" && decision.GradeRank(d.Grade) < decision.GradeRank(f.MinGrade) {
			continue
		}
		out = append(out, *d)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastDetectedAt.After(out[j].LastDetectedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Get returns a detection by ID.
func (s *Store) Get(id string) (Detection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return Detection{}, false
	}
	return *d, true
}

// Summary aggregates the store by status and strategy.
type Summary struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByStrategy map[string]int `json:"by_strategy"`
}

func (s *Store) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		ByStatus:   make(map[Status]int),
		ByStrategy: make(map[string]int),
	}
	for _, d := range s.byID {
		sum.Total++
		sum.ByStatus[d.Status]++
		sum.ByStrategy[d.StrategyID]++
	}
	return sum
}

// Load seeds the store from persisted records at startup. Active records
// re-enter the key index; duplicates for a key keep the most recent.
func (s *Store) Load(records []Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		d := records[i]
		copied := d
		s.byID[copied.ID] = &copied
		if !copied.Status.Terminal() {
			if existing, ok := s.active[copied.key()]; ok {
				if s.byID[existing].LastDetectedAt.After(copied.LastDetectedAt) {
					continue
				}
			}
			s.active[copied.key()] = copied.ID
		}
	}
}

// persist writes snapshots taken under the lock. Values, not the live
// records: the store keeps mutating those while the persister runs.
func (s *Store) persist(ctx context.Context, ds ...Detection) {
	if s.persister == nil {
		return
	}
	for _, d := range ds {
		if err := s.persister.SaveDetection(ctx, &d); err != nil {
			s.log.Warn().Err(err).Str("id", d.ID).Msg("detection persist failed")
		}
	}
}
