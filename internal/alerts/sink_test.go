package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/analysis"
	"signal-engine/internal/cache"
	"signal-engine/internal/decision"
	"signal-engine/internal/events"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []Alert
}

func (c *captureNotifier) Notify(_ context.Context, a Alert) error {
	c.mu.Lock()
	c.sent = append(c.sent, a)
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func alertDecision(grade decision.Grade, dir decision.Direction) *decision.Decision {
	return &decision.Decision{
		ID:             "d-1",
		Symbol:         "EURUSD",
		StrategyID:     "bollinger-mr",
		StrategyName:   "Bollinger Mean Reversion",
		Style:          analysis.StyleIntraday,
		Direction:      dir,
		Grade:          grade,
		Confidence:     80,
		Entry:          1.1000,
		EntryFormatted: "1.10000",
		StopLoss:       decision.PriceLevel{Price: 1.0950, Formatted: "1.09500"},
		TakeProfit:     decision.PriceLevel{Price: 1.1100, Formatted: "1.11000"},
		Triggers:       []string{"lower band touch"},
	}
}

func runSink(t *testing.T) (*Sink, *captureNotifier, *events.Broadcaster, func()) {
	t.Helper()
	suppress := cache.NewSuppressionCache(cache.RedisConfig{Enabled: false})
	notifier := &captureNotifier{}
	sink := NewSink(suppress, notifier, nil)
	bus := events.NewBroadcaster(16)

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx, bus)

	// Wait for the subscription to land before publishing.
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sink never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	cleanup := func() {
		cancel()
		sink.Stop()
		bus.Close()
		suppress.Close()
	}
	return sink, notifier, bus, cleanup
}

func waitForSent(t *testing.T, n *captureNotifier, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for n.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("sent = %d, want %d", n.count(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSinkSendsAndSuppresses(t *testing.T) {
	_, notifier, bus, cleanup := runSink(t)
	defer cleanup()

	bus.PublishSignal(alertDecision(decision.GradeA, decision.Long))
	waitForSent(t, notifier, 1)

	// Identical signal inside the validity window stays quiet.
	bus.PublishSignal(alertDecision(decision.GradeA, decision.Long))
	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, duplicate must be suppressed", notifier.count())
	}

	// A strictly better grade punches through.
	bus.PublishSignal(alertDecision(decision.GradeAPlus, decision.Long))
	waitForSent(t, notifier, 2)
}

func TestSinkGradeFloor(t *testing.T) {
	_, notifier, bus, cleanup := runSink(t)
	defer cleanup()

	bus.PublishSignal(alertDecision(decision.GradeBPlus, decision.Long))
	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 0 {
		t.Errorf("sent = %d, B+ is below the alert floor", notifier.count())
	}
}

func TestSinkDirectionFlipNotSuppressed(t *testing.T) {
	_, notifier, bus, cleanup := runSink(t)
	defer cleanup()

	bus.PublishSignal(alertDecision(decision.GradeA, decision.Long))
	waitForSent(t, notifier, 1)

	// Opposite direction is a different suppression key.
	bus.PublishSignal(alertDecision(decision.GradeA, decision.Short))
	waitForSent(t, notifier, 2)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.sent[1].Direction != decision.Short {
		t.Errorf("second alert direction = %s", notifier.sent[1].Direction)
	}
}
