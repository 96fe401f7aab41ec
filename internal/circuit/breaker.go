// Package circuit implements the fail-fast circuit breaker wrapped around
// each external dependency (market-data provider, database). One breaker is
// kept per dependency; callers go through Execute so that an unhealthy
// upstream is skipped instead of hammered.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/logging"
)

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // failing fast
	StateHalfOpen State = "half_open" // probing recovery
)

// Config holds per-circuit configuration.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `json:"success_threshold"` // successes in half-open before closing
	ResetTimeout     time.Duration `json:"reset_timeout"`     // open duration before probing
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// OpenError is returned by Execute while the breaker is open.
type OpenError struct {
	Name      string
	NextRetry time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open, next retry at %s", e.Name, e.NextRetry.Format(time.RFC3339))
}

// IsOpen reports whether err is a breaker OpenError.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// Breaker is a closed/open/half-open circuit breaker for one dependency.
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config
	log  zerolog.Logger

	state       State
	failures    int // consecutive failures while closed
	probeOKs    int // successes while half-open
	nextRetry   time.Time
	lastFailure time.Time
	lastSuccess time.Time

	totalCalls    int64
	totalFailures int64
	totalRejected int64
}

// NewBreaker creates a breaker for a named dependency.
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		log:   logging.Component("circuit").With().Str("circuit", name).Logger(),
	}
}

// Execute runs fn under the breaker. While open it fails fast with
// *OpenError; after the reset timeout the next call probes in half-open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow checks admission and handles the open -> half-open transition.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.state {
	case StateOpen:
		if time.Now().Before(b.nextRetry) {
			b.totalRejected++
			return &OpenError{Name: b.name, NextRetry: b.nextRetry}
		}
		b.state = StateHalfOpen
		b.probeOKs = 0
		b.log.Info().Msg("circuit half-open, probing")
		return nil
	default:
		return nil
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// open transitions to OPEN with a fresh retry deadline. Caller holds mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.failures = 0
	b.probeOKs = 0
	b.nextRetry = time.Now().Add(b.cfg.ResetTimeout)
	b.log.Warn().Time("next_retry", b.nextRetry).Msg("circuit opened")
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.probeOKs++
		if b.probeOKs >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.log.Info().Msg("circuit closed")
		}
	case StateClosed:
		b.failures = 0
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time breaker snapshot.
type Stats struct {
	Name          string    `json:"name"`
	State         State     `json:"state"`
	Failures      int       `json:"consecutive_failures"`
	NextRetry     time.Time `json:"next_retry,omitempty"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
	TotalCalls    int64     `json:"total_calls"`
	TotalFailures int64     `json:"total_failures"`
	TotalRejected int64     `json:"total_rejected"`
}

// GetStats returns current breaker statistics.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:          b.name,
		State:         b.state,
		Failures:      b.failures,
		NextRetry:     b.nextRetry,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		TotalCalls:    b.totalCalls,
		TotalFailures: b.totalFailures,
		TotalRejected: b.totalRejected,
	}
}

// Registry holds the per-dependency breaker singletons.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates a registry using cfg for new breakers.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for a dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// AllStats returns stats for every registered breaker.
func (r *Registry) AllStats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.GetStats())
	}
	return out
}
