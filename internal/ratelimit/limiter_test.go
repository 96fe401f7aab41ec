package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireFastPath(t *testing.T) {
	l := New(Config{MaxTokens: 5, RefillPerSec: 100, MinDelay: 0})

	for i := 0; i < 5; i++ {
		res, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if res.Backpressure {
			t.Errorf("acquire %d flagged with an empty queue", i)
		}
	}
	if got := l.GetStats().Granted; got != 5 {
		t.Errorf("granted = %d, want 5", got)
	}
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	l := New(Config{MaxTokens: 1, RefillPerSec: 50, MinDelay: 0})

	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	start := time.Now()
	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	// One token at 50/s accrues in 20ms.
	if waited := time.Since(start); waited < 10*time.Millisecond {
		t.Errorf("second acquire returned after %v, expected a refill wait", waited)
	}
}

func TestAcquireTimeout(t *testing.T) {
	l := New(Config{MaxTokens: 1, RefillPerSec: 0.01, MinDelay: 0})
	l.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitersServedFIFO(t *testing.T) {
	l := New(Config{MaxTokens: 1, RefillPerSec: 200, MinDelay: 0})
	l.Acquire(context.Background())

	const n = 8
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := l.Acquire(context.Background()); err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)
		// Stagger enqueues so queue order matches launch order.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("grant order %v is not FIFO", order)
		}
	}
}

func TestQueueOverflowRejects(t *testing.T) {
	l := New(Config{MaxTokens: 1, RefillPerSec: 0.001, MinDelay: 0})
	l.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < MaxQueueSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire(ctx)
		}()
	}

	// Wait for the queue to fill.
	deadline := time.Now().Add(2 * time.Second)
	for l.GetStats().QueueDepth < MaxQueueSize {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth = %d, never filled", l.GetStats().QueueDepth)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := l.Acquire(context.Background()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	if l.GetStats().Rejected != 1 {
		t.Errorf("rejected = %d, want 1", l.GetStats().Rejected)
	}

	cancel()
	wg.Wait()
}

func TestBackpressureFlag(t *testing.T) {
	l := New(Config{MaxTokens: 1, RefillPerSec: 0.001, MinDelay: 0})
	l.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < BackpressureThreshold+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire(ctx)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.GetStats().Flagged == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no acquire was ever backpressure-flagged")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	wg.Wait()
}

func TestResetCancelsWaiters(t *testing.T) {
	l := New(Config{MaxTokens: 1, RefillPerSec: 0.001, MinDelay: 0})
	l.Acquire(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background())
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for l.GetStats().QueueDepth == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never queued")
		}
		time.Sleep(2 * time.Millisecond)
	}

	l.Reset()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReset) {
			t.Errorf("err = %v, want ErrReset", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by reset")
	}

	// Bucket is full again after reset.
	if _, err := l.Acquire(context.Background()); err != nil {
		t.Errorf("acquire after reset: %v", err)
	}
}

func TestMinDelaySmoothing(t *testing.T) {
	l := New(Config{MaxTokens: 5, RefillPerSec: 100, MinDelay: 15 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	// Three grants with 15ms smoothing need at least two delays.
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("three acquires took %v, smoothing not applied", elapsed)
	}
}
