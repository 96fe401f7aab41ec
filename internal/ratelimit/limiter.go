// Package ratelimit implements the token-bucket admission control used in
// front of the market-data provider. Callers block in Acquire until a token
// is available; waiters are served strictly FIFO. When the waiter queue grows
// past the backpressure threshold, acquires still succeed but are flagged so
// callers can shed optional work. When the queue is full, new acquires are
// rejected immediately.
package ratelimit

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/logging"
)

const (
	// MaxQueueSize bounds the waiter queue. Acquires past this fail fast.
	MaxQueueSize = 100

	// BackpressureThreshold is the queue depth at which results are
	// flagged so background work can throttle itself.
	BackpressureThreshold = 50
)

var (
	// ErrQueueFull is returned when the waiter queue is at capacity.
	ErrQueueFull = errors.New("ratelimit: waiter queue full")

	// ErrTimeout is returned when the caller's deadline elapses while queued.
	ErrTimeout = errors.New("ratelimit: acquire timed out")

	// ErrReset is returned to queued waiters cancelled by Reset.
	ErrReset = errors.New("ratelimit: limiter reset")
)

// Config holds limiter configuration.
type Config struct {
	MaxTokens    float64       `json:"max_tokens"`
	RefillPerSec float64       `json:"refill_per_sec"`
	MinDelay     time.Duration `json:"min_delay"` // smoothing between fulfilled acquires
}

// DefaultConfig returns limits safe for the free provider tier.
func DefaultConfig() Config {
	return Config{
		MaxTokens:    8,
		RefillPerSec: 8.0 / 60.0, // 8 credits per minute
		MinDelay:     150 * time.Millisecond,
	}
}

// Result describes a fulfilled acquire.
type Result struct {
	Backpressure bool          // queue depth crossed the threshold when enqueued
	Waited       time.Duration // time spent queued
	QueueDepth   int           // depth observed at enqueue time
}

type waiter struct {
	ready        chan error // closed/sent when a token is assigned or the waiter is cancelled
	backpressure bool
	enqueuedAt   time.Time
}

// Limiter is a token bucket with a FIFO waiter queue.
type Limiter struct {
	mu         sync.Mutex
	cfg        Config
	tokens     float64
	lastRefill time.Time
	lastGrant  time.Time
	queue      *list.List // of *waiter
	log        zerolog.Logger

	// counters
	granted   int64
	rejected  int64
	timeouts  int64
	flagged   int64 // backpressure-flagged grants
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	if cfg.MaxTokens <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		cfg:        cfg,
		tokens:     cfg.MaxTokens,
		lastRefill: time.Now(),
		queue:      list.New(),
		log:        logging.Component("ratelimit"),
	}
}

// refill tops up the bucket from elapsed time. Caller holds mu.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.cfg.RefillPerSec
	if l.tokens > l.cfg.MaxTokens {
		l.tokens = l.cfg.MaxTokens
	}
	l.lastRefill = now
}

// minDelayRemaining returns how long until the smoothing delay since the
// last grant has passed. Caller holds mu.
func (l *Limiter) minDelayRemaining(now time.Time) time.Duration {
	if l.cfg.MinDelay <= 0 || l.lastGrant.IsZero() {
		return 0
	}
	remaining := l.cfg.MinDelay - now.Sub(l.lastGrant)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Acquire blocks until a token is available or ctx is done. A deadline on ctx
// yields ErrTimeout rather than ctx.Err so callers can distinguish limiter
// timeouts from tick cancellation.
func (l *Limiter) Acquire(ctx context.Context) (Result, error) {
	l.mu.Lock()
	now := time.Now()
	l.refill(now)

	// Fast path: token available, nobody queued ahead, smoothing satisfied.
	if l.queue.Len() == 0 && l.tokens >= 1 {
		if wait := l.minDelayRemaining(now); wait > 0 {
			l.mu.Unlock()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Result{}, mapCtxErr(ctx)
			}
			l.mu.Lock()
			now = time.Now()
			l.refill(now)
			// Re-check under lock; a Reset or burst may have queued others.
			if l.queue.Len() > 0 || l.tokens < 1 {
				return l.enqueue(ctx, now)
			}
		}
		l.tokens--
		l.lastGrant = now
		l.granted++
		l.mu.Unlock()
		return Result{}, nil
	}

	return l.enqueue(ctx, now)
}

// enqueue adds a waiter and blocks until served. Caller holds mu; it is
// released before blocking.
func (l *Limiter) enqueue(ctx context.Context, now time.Time) (Result, error) {
	depth := l.queue.Len()
	if depth >= MaxQueueSize {
		l.rejected++
		l.mu.Unlock()
		return Result{}, ErrQueueFull
	}

	w := &waiter{
		ready:        make(chan error, 1),
		backpressure: depth >= BackpressureThreshold,
		enqueuedAt:   now,
	}
	elem := l.queue.PushBack(w)
	if w.backpressure {
		l.flagged++
	}
	l.scheduleDrain()
	l.mu.Unlock()

	select {
	case err := <-w.ready:
		if err != nil {
			return Result{}, err
		}
		return Result{
			Backpressure: w.backpressure,
			Waited:       time.Since(w.enqueuedAt),
			QueueDepth:   depth,
		}, nil
	case <-ctx.Done():
		l.mu.Lock()
		// The drain loop may have served us concurrently; only remove if
		// still queued.
		served := true
		for e := l.queue.Front(); e != nil; e = e.Next() {
			if e == elem {
				l.queue.Remove(e)
				served = false
				break
			}
		}
		if !served {
			l.timeouts++
		}
		l.mu.Unlock()
		if served {
			// Token was already granted; honor it.
			return Result{Backpressure: w.backpressure, Waited: time.Since(w.enqueuedAt), QueueDepth: depth}, nil
		}
		return Result{}, mapCtxErr(ctx)
	}
}

// scheduleDrain kicks the background drain goroutine. Caller holds mu.
func (l *Limiter) scheduleDrain() {
	go l.drain()
}

// drain serves queued waiters FIFO as tokens refill.
func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		if l.queue.Len() == 0 {
			l.mu.Unlock()
			return
		}
		now := time.Now()
		l.refill(now)

		var sleep time.Duration
		if l.tokens >= 1 {
			sleep = l.minDelayRemaining(now)
		}

		if l.tokens >= 1 && sleep == 0 {
			front := l.queue.Front()
			w := front.Value.(*waiter)
			l.queue.Remove(front)
			l.tokens--
			l.lastGrant = now
			l.granted++
			w.ready <- nil
			l.mu.Unlock()
			continue
		}

		if sleep == 0 {
			// Not enough tokens: sleep until the next full token accrues.
			deficit := 1 - l.tokens
			sleep = time.Duration(deficit / l.cfg.RefillPerSec * float64(time.Second))
			if sleep < time.Millisecond {
				sleep = time.Millisecond
			}
		}
		l.mu.Unlock()
		time.Sleep(sleep)
	}
}

// Reset cancels all queued waiters with ErrReset and refills the bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	for e := l.queue.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).ready <- ErrReset
	}
	l.queue.Init()
	l.tokens = l.cfg.MaxTokens
	l.lastRefill = time.Now()
	l.mu.Unlock()
	l.log.Warn().Msg("limiter reset, queued waiters cancelled")
}

// Stats is a point-in-time limiter snapshot.
type Stats struct {
	Tokens     float64 `json:"tokens"`
	QueueDepth int     `json:"queue_depth"`
	Granted    int64   `json:"granted"`
	Rejected   int64   `json:"rejected"`
	Timeouts   int64   `json:"timeouts"`
	Flagged    int64   `json:"backpressure_flagged"`
}

// GetStats returns current limiter statistics.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return Stats{
		Tokens:     l.tokens,
		QueueDepth: l.queue.Len(),
		Granted:    l.granted,
		Rejected:   l.rejected,
		Timeouts:   l.timeouts,
		Flagged:    l.flagged,
	}
}

func mapCtxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
