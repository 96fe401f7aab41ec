package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
)

func testDecision(grade decision.Grade, dir decision.Direction) *decision.Decision {
	return &decision.Decision{
		ID:           "d-1",
		Symbol:       "EURUSD",
		StrategyID:   "bollinger-mr",
		StrategyName: "Bollinger Mean Reversion",
		Style:        analysis.StyleIntraday,
		Direction:    dir,
		Grade:        grade,
		Confidence:   70,
		Entry:        1.1000,
		StopLoss:     decision.PriceLevel{Price: 1.0950},
		TakeProfit:   decision.PriceLevel{Price: 1.1100},
	}
}

func storeAt(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := NewStore(DefaultConfig(), nil)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestRecordBelowMinGradeIgnored(t *testing.T) {
	s, _ := storeAt(t)
	if d, _ := s.Record(context.Background(), testDecision(decision.GradeC, decision.Long)); d != nil {
		t.Fatal("grade C must not be persisted with a B floor")
	}
	if s.Summarize().Total != 0 {
		t.Error("store must stay empty")
	}
}

func TestRecordAndRedetect(t *testing.T) {
	s, now := storeAt(t)
	ctx := context.Background()

	first, created := s.Record(ctx, testDecision(decision.GradeA, decision.Long))
	if !created || first == nil {
		t.Fatal("first record must create")
	}
	if first.Status != StatusCoolingDown || first.DetectionCount != 1 {
		t.Fatalf("first = %s count %d", first.Status, first.DetectionCount)
	}
	if got := first.CooldownEndsAt.Sub(first.FirstDetectedAt); got != time.Hour {
		t.Errorf("cooldown window = %v, want 1h", got)
	}

	*now = now.Add(5 * time.Minute)
	second, created := s.Record(ctx, testDecision(decision.GradeA, decision.Long))
	if created {
		t.Fatal("redetection must not create a second active record")
	}
	if second.DetectionCount != 2 || second.Status != StatusCoolingDown {
		t.Errorf("redetect = %s count %d, want cooling_down count 2", second.Status, second.DetectionCount)
	}
	if second.ID != first.ID {
		t.Error("redetection must land on the same detection")
	}

	// Better grade upgrades in place.
	upgraded, _ := s.Record(ctx, testDecision(decision.GradeAPlus, decision.Long))
	if upgraded.Grade != decision.GradeAPlus {
		t.Errorf("grade = %s, want A+", upgraded.Grade)
	}
}

func TestOppositeDirectionInvalidates(t *testing.T) {
	s, _ := storeAt(t)
	ctx := context.Background()

	long, _ := s.Record(ctx, testDecision(decision.GradeA, decision.Long))
	short, created := s.Record(ctx, testDecision(decision.GradeA, decision.Short))
	if !created {
		t.Fatal("flip must create a new detection")
	}

	old, _ := s.Get(long.ID)
	if old.Status != StatusInvalidated {
		t.Errorf("old long = %s, want invalidated", old.Status)
	}
	// Only one active record per (strategy, symbol, direction) family.
	active := s.Query(Filter{Status: StatusCoolingDown})
	if len(active) != 1 || active[0].ID != short.ID {
		t.Errorf("active = %d, want just the short", len(active))
	}
}

func TestSweepPromotesAndExpires(t *testing.T) {
	s, now := storeAt(t)
	ctx := context.Background()

	d, _ := s.Record(ctx, testDecision(decision.GradeA, decision.Long))

	*now = now.Add(61 * time.Minute)
	s.Sweep(ctx)
	got, _ := s.Get(d.ID)
	if got.Status != StatusEligible {
		t.Fatalf("after cooldown = %s, want eligible", got.Status)
	}

	*now = now.Add(4 * time.Hour)
	s.Sweep(ctx)
	got, _ = s.Get(d.ID)
	if got.Status != StatusExpired {
		t.Fatalf("past validity = %s, want expired", got.Status)
	}

	// Expired is terminal; a fresh signal creates a new record.
	_, created := s.Record(ctx, testDecision(decision.GradeA, decision.Long))
	if !created {
		t.Error("terminal record must not absorb new detections")
	}
}

func TestExecuteAndDismiss(t *testing.T) {
	s, _ := storeAt(t)
	ctx := context.Background()

	d, _ := s.Record(ctx, testDecision(decision.GradeA, decision.Long))
	if err := s.Execute(ctx, d.ID, "took it at open"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, _ := s.Get(d.ID)
	if got.Status != StatusExecuted || got.Notes != "took it at open" {
		t.Errorf("executed = %+v", got.Status)
	}

	if err := s.Dismiss(ctx, d.ID, ""); !errors.Is(err, ErrTerminal) {
		t.Errorf("dismiss on terminal = %v, want ErrTerminal", err)
	}
	if err := s.Execute(ctx, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("execute unknown = %v, want ErrNotFound", err)
	}
}

func TestQueryAndSummary(t *testing.T) {
	s, now := storeAt(t)
	ctx := context.Background()

	s.Record(ctx, testDecision(decision.GradeA, decision.Long))
	*now = now.Add(time.Minute)

	other := testDecision(decision.GradeB, decision.Short)
	other.Symbol = "GBPUSD"
	other.StrategyID = "trend-rider"
	s.Record(ctx, other)

	if got := s.Query(Filter{Symbol: "GBPUSD"}); len(got) != 1 || got[0].StrategyID != "trend-rider" {
		t.Errorf("symbol filter returned %d", len(got))
	}
	if got := s.Query(Filter{MinGrade: decision.GradeA}); len(got) != 1 {
		t.Errorf("grade filter returned %d", len(got))
	}
	if got := s.Query(Filter{Limit: 1}); len(got) != 1 || got[0].Symbol != "GBPUSD" {
		t.Error("limit 1 must return the newest record")
	}
	if got := s.Query(Filter{Offset: 5}); got != nil {
		t.Error("offset past the end must return nothing")
	}

	sum := s.Summarize()
	if sum.Total != 2 || sum.ByStatus[StatusCoolingDown] != 2 || sum.ByStrategy["trend-rider"] != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

type capturingPersister struct {
	mu    sync.Mutex
	saves []Detection
}

func (p *capturingPersister) SaveDetection(_ context.Context, d *Detection) error {
	p.mu.Lock()
	p.saves = append(p.saves, *d)
	p.mu.Unlock()
	return nil
}

func TestPersistedSnapshotsAreStable(t *testing.T) {
	// The persister reads fields while the store keeps mutating the live
	// records; snapshots must be value copies taken under the lock.
	p := &capturingPersister{}
	s := NewStore(DefaultConfig(), p)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Record(ctx, testDecision(decision.GradeA, decision.Long))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 25; j++ {
			s.Sweep(ctx)
		}
	}()
	wg.Wait()

	got := s.Query(Filter{})
	if len(got) != 1 {
		t.Fatalf("detections = %d, want 1", len(got))
	}
	if got[0].DetectionCount != 100 {
		t.Fatalf("count = %d, want 100", got[0].DetectionCount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saves) != 100 {
		t.Fatalf("persisted %d snapshots, want one per record", len(p.saves))
	}
	maxCount := 0
	for _, d := range p.saves {
		if d.DetectionCount > maxCount {
			maxCount = d.DetectionCount
		}
	}
	if maxCount != 100 {
		t.Errorf("max persisted count = %d, want 100", maxCount)
	}
}

func TestLoadRestoresActiveIndex(t *testing.T) {
	s, now := storeAt(t)
	records := []Detection{
		{
			ID: "a", StrategyID: "s1", Symbol: "EURUSD", Direction: decision.Long,
			Grade: decision.GradeA, Status: StatusCoolingDown,
			LastDetectedAt: now.Add(-time.Minute),
			CooldownEndsAt: now.Add(30 * time.Minute),
			ValidUntil:     now.Add(3 * time.Hour),
		},
		{
			ID: "b", StrategyID: "s1", Symbol: "EURUSD", Direction: decision.Long,
			Grade: decision.GradeB, Status: StatusExpired,
			LastDetectedAt: now.Add(-2 * time.Hour),
		},
	}
	s.Load(records)

	// A redetection for the same key must land on the loaded active record.
	d := testDecision(decision.GradeA, decision.Long)
	d.StrategyID = "s1"
	got, created := s.Record(context.Background(), d)
	if created || got.ID != "a" {
		t.Fatalf("redetection after load created=%v id=%s, want existing a", created, got.ID)
	}
}
