// Package scanner drives the scheduled scan loop: every interval it fetches
// bundles for the watchlist, runs the strategy fleet, and routes qualifying
// decisions through the cooldown gate into the detection store and the event
// bus.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/analysis"
	"signal-engine/internal/decision"
	"signal-engine/internal/detection"
	"signal-engine/internal/events"
	"signal-engine/internal/logging"
	"signal-engine/internal/risk"
	"signal-engine/internal/strategy"
	"signal-engine/internal/tracker"
)

// BundleSource produces the per-symbol indicator bundle for one style.
type BundleSource interface {
	Assemble(ctx context.Context, symbol string, style analysis.Style) (*analysis.Bundle, error)
}

// Config is the scan-loop configuration, snapshotted once per tick.
type Config struct {
	Interval time.Duration    `json:"interval"`
	Workers  int              `json:"workers"`
	Symbols  []string         `json:"symbols"`
	Styles   []analysis.Style `json:"styles"`
	MinGrade decision.Grade   `json:"min_grade"`
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if len(c.Styles) == 0 {
		c.Styles = []analysis.Style{analysis.StyleIntraday, analysis.StyleSwing}
	}
	if c.MinGrade == "" {
		c.MinGrade = decision.GradeB
	}
	return c
}

// Status is the last-scan snapshot served by the API.
type Status struct {
	Running        bool      `json:"running"`
	ScannedAt      time.Time `json:"scanned_at"`
	DurationMS     int64     `json:"duration_ms"`
	SymbolsScanned int       `json:"symbols_scanned"`
	SignalsFound   int       `json:"signals_found"`
	NewSignals     int       `json:"new_signals"`
	Errors         []string  `json:"errors,omitempty"`
}

// Deps are the collaborators the scanner routes decisions through.
type Deps struct {
	Bundles    BundleSource
	Registry   *strategy.Registry
	Settings   decision.Settings
	Cooldown   *risk.CooldownGate
	Detections *detection.Store
	Tracker    *tracker.GradeTracker
	Bus        *events.Broadcaster
}

// Scanner owns the scan loop. Start and Stop are idempotent; a stop cancels
// the in-flight scan rather than waiting it out.
type Scanner struct {
	cfg   Config
	deps  Deps
	fresh *Freshness
	log   zerolog.Logger

	mu      sync.Mutex
	status  Status
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	kick    chan struct{}
}

func New(cfg Config, deps Deps) *Scanner {
	return &Scanner{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		fresh: NewFreshness(),
		log:   logging.Component("scanner"),
		kick:  make(chan struct{}, 1),
	}
}

// Start launches the loop: one scan immediately, then one per interval.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	s.status.Running = true
	s.mu.Unlock()

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("symbols", len(s.cfg.Symbols)).
		Int("workers", s.cfg.Workers).
		Msg("scanner started")

	go s.loop(ctx)
}

// Stop cancels the loop and any in-flight scan, then waits for it to exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.status.Running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info().Msg("scanner stopped")
}

// TriggerScan requests an immediate scan. It reports false when the loop is
// not running; a request while a kick is already pending coalesces.
func (s *Scanner) TriggerScan() bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return true
}

// Status returns a snapshot of the last scan.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Errors = append([]string(nil), s.status.Errors...)
	return st
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		case <-s.kick:
			s.Scan(ctx)
		}
	}
}

type tally struct {
	mu         sync.Mutex
	signals    int
	newSignals int
	errors     []string
}

func (t *tally) addError(msg string) {
	t.mu.Lock()
	t.errors = append(t.errors, msg)
	t.mu.Unlock()
}

// Scan runs one full pass over the watchlist with a bounded worker pool.
func (s *Scanner) Scan(ctx context.Context) Status {
	start := time.Now()
	var t tally

	symbolCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symbolCh {
				s.scanSymbol(ctx, sym, &t)
			}
		}()
	}
	for _, sym := range s.cfg.Symbols {
		select {
		case symbolCh <- sym:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(symbolCh)
	wg.Wait()

	s.fresh.Prune()

	s.mu.Lock()
	s.status = Status{
		Running:        s.running,
		ScannedAt:      start.UTC(),
		DurationMS:     time.Since(start).Milliseconds(),
		SymbolsScanned: len(s.cfg.Symbols),
		SignalsFound:   t.signals,
		NewSignals:     t.newSignals,
		Errors:         t.errors,
	}
	st := s.status
	s.mu.Unlock()

	s.log.Info().
		Int("symbols", st.SymbolsScanned).
		Int("signals", st.SignalsFound).
		Int("new", st.NewSignals).
		Int("errors", len(st.Errors)).
		Int64("duration_ms", st.DurationMS).
		Msg("scan complete")
	return st
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string, t *tally) {
	for _, style := range s.cfg.Styles {
		if ctx.Err() != nil {
			return
		}
		b, err := s.deps.Bundles.Assemble(ctx, symbol, style)
		if err != nil {
			msg := symbol + " " + string(style) + ": " + err.Error()
			t.addError(msg)
			s.deps.Bus.PublishError("scanner", "bundle assembly failed", msg)
			s.log.Warn().Err(err).Str("symbol", symbol).Str("style", string(style)).Msg("assemble failed")
			continue
		}
		for _, strat := range s.deps.Registry.ByStyle(style) {
			s.evaluate(ctx, strat, b, t)
		}
	}
}

func (s *Scanner) evaluate(ctx context.Context, strat strategy.Strategy, b *analysis.Bundle, t *tally) {
	meta := strat.Meta()
	d := strat.Analyze(b, s.deps.Settings)
	if d == nil || !d.Grade.IsTrade() {
		// Track the no-trade read so a later signal registers as new.
		s.deps.Tracker.Update(b.Symbol, meta.ID, meta.Name, decision.GradeNoTrade, "")
		return
	}

	t.mu.Lock()
	t.signals++
	t.mu.Unlock()

	// Upgrade handlers registered on the tracker publish from here.
	s.deps.Tracker.Update(d.Symbol, d.StrategyID, d.StrategyName, d.Grade, d.Direction)

	if decision.GradeRank(d.Grade) < decision.GradeRank(s.cfg.MinGrade) {
		return
	}

	verdict := s.deps.Cooldown.Check(d.Symbol, d.Style, d.Direction, d.Grade)
	if !verdict.Allowed {
		d.Gating.CooldownBlocked = true
		d.Gating.Reason = verdict.Reason
	}

	// Every qualifying decision reaches the store, so a redetection bumps
	// the detection count even when its broadcast is suppressed below.
	s.deps.Detections.Record(ctx, d)

	if !verdict.Allowed {
		s.log.Debug().Str("symbol", d.Symbol).Str("strategy", d.StrategyID).Str("reason", verdict.Reason).Msg("cooldown blocked")
		return
	}
	if !s.fresh.Observe(d) {
		return
	}

	s.deps.Bus.PublishSignal(d)

	t.mu.Lock()
	t.newSignals++
	t.mu.Unlock()

	s.log.Info().
		Str("symbol", d.Symbol).
		Str("strategy", d.StrategyID).
		Str("direction", string(d.Direction)).
		Str("grade", string(d.Grade)).
		Int("confidence", d.Confidence).
		Msg("signal")
}
