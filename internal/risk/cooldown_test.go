package risk

import (
	"testing"
	"time"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
)

func gateAt(t *testing.T) (*CooldownGate, *time.Time) {
	t.Helper()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	g := NewCooldownGate()
	g.now = func() time.Time { return now }
	return g, &now
}

func TestCooldownBlocksEqualOrLowerGrade(t *testing.T) {
	g, _ := gateAt(t)

	if v := g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeA); !v.Allowed {
		t.Fatalf("first signal must pass: %s", v.Reason)
	}
	if v := g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeA); v.Allowed {
		t.Error("equal grade on the same key must be blocked")
	}
	v := g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeB)
	if v.Allowed {
		t.Error("lower grade on the same key must be blocked")
	}
	if v.Remaining <= 0 || v.Reason == "" {
		t.Error("blocked verdict must carry remaining time and reason")
	}
}

func TestCooldownAllowsStrictUpgradeAndFlip(t *testing.T) {
	g, _ := gateAt(t)

	g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeB)
	if v := g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeAPlus); !v.Allowed {
		t.Error("strictly higher grade must pass")
	}
	// After the upgrade was recorded, the old grade is no longer enough.
	if v := g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeA); v.Allowed {
		t.Error("grade below the recorded one must be blocked")
	}
	if v := g.Check("EURUSD", analysis.StyleIntraday, decision.Short, decision.GradeC); !v.Allowed {
		t.Error("flipped direction must pass")
	}
}

func TestCooldownExpiry(t *testing.T) {
	g, now := gateAt(t)

	g.Check("GBPUSD", analysis.StyleIntraday, decision.Long, decision.GradeA)
	*now = now.Add(TTLIntraday - time.Minute)
	if v := g.Check("GBPUSD", analysis.StyleIntraday, decision.Long, decision.GradeA); v.Allowed {
		t.Error("entry must still be active just before TTL")
	}
	*now = now.Add(2 * time.Minute)
	if v := g.Check("GBPUSD", analysis.StyleIntraday, decision.Long, decision.GradeA); !v.Allowed {
		t.Error("expired entry must admit the same grade")
	}
}

func TestCooldownStyleScoping(t *testing.T) {
	g, _ := gateAt(t)

	g.Check("XAUUSD", analysis.StyleIntraday, decision.Long, decision.GradeA)
	if v := g.Check("XAUUSD", analysis.StyleSwing, decision.Long, decision.GradeA); !v.Allowed {
		t.Error("different style is a different key")
	}
	if TTLFor(analysis.StyleSwing) != 24*time.Hour || TTLFor(analysis.StyleIntraday) != 4*time.Hour {
		t.Error("TTLs: intraday 4h, swing 24h")
	}
}

func TestCooldownActiveCount(t *testing.T) {
	g, now := gateAt(t)

	g.Check("EURUSD", analysis.StyleIntraday, decision.Long, decision.GradeA)
	g.Check("GBPUSD", analysis.StyleIntraday, decision.Short, decision.GradeB)
	if got := g.Active(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	*now = now.Add(TTLIntraday + time.Minute)
	if got := g.Active(); got != 0 {
		t.Fatalf("active after expiry = %d, want 0", got)
	}
}
