package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func failing(_ context.Context) error { return errUpstream }
func succeeding(_ context.Context) error { return nil }

func testConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: 30 * time.Millisecond}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("provider", testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := b.GetState(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	// Open circuit fails fast with OpenError, not the upstream error.
	err := b.Execute(ctx, failing)
	if !IsOpen(err) {
		t.Fatalf("err = %v, want OpenError", err)
	}
	if got := b.GetStats().TotalRejected; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("provider", testConfig())
	ctx := context.Background()

	b.Execute(ctx, failing)
	b.Execute(ctx, failing)
	b.Execute(ctx, succeeding)
	b.Execute(ctx, failing)
	b.Execute(ctx, failing)

	if got := b.GetState(); got != StateClosed {
		t.Errorf("state = %s, want closed after interleaved successes", got)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b := NewBreaker("provider", testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failing)
	}
	time.Sleep(40 * time.Millisecond)

	// First probe succeeds; still half-open until the success threshold.
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.GetState(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open after one probe", got)
	}
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := b.GetState(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("provider", testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failing)
	}
	time.Sleep(40 * time.Millisecond)

	if err := b.Execute(ctx, failing); !errors.Is(err, errUpstream) {
		t.Fatalf("probe: %v", err)
	}
	if got := b.GetState(); got != StateOpen {
		t.Fatalf("state = %s, want re-opened", got)
	}
	if err := b.Execute(ctx, succeeding); !IsOpen(err) {
		t.Errorf("err = %v, want fail-fast after re-open", err)
	}
}

func TestRegistrySingletons(t *testing.T) {
	r := NewRegistry(testConfig())

	a := r.Get("provider")
	if r.Get("provider") != a {
		t.Error("registry must return the same breaker per name")
	}
	r.Get("database")

	stats := r.AllStats()
	if len(stats) != 2 {
		t.Fatalf("stats = %d breakers, want 2", len(stats))
	}
	names := map[string]bool{}
	for _, s := range stats {
		names[s.Name] = true
	}
	if !names["provider"] || !names["database"] {
		t.Errorf("stats names = %v", names)
	}
}
