// Package alerts turns broadcast signal events into outbound notifications,
// with send-suppression so a symbol re-detected every scan does not spam the
// recipient.
package alerts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/cache"
	"signal-engine/internal/decision"
	"signal-engine/internal/events"
	"signal-engine/internal/logging"
)

// Notifier delivers a single alert to its destination.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// HistoryWriter persists sent alerts for the history endpoint.
type HistoryWriter interface {
	SaveAlert(ctx context.Context, a Alert) error
}

// Alert is one outbound notification.
type Alert struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	StrategyID string             `json:"strategy_id"`
	Strategy   string             `json:"strategy"`
	Direction  decision.Direction `json:"direction"`
	Grade      decision.Grade     `json:"grade"`
	Confidence int                `json:"confidence"`
	Entry      string             `json:"entry"`
	StopLoss   string             `json:"stop_loss"`
	TakeProfit string             `json:"take_profit"`
	Reason     string             `json:"reason"`
	SentAt     time.Time          `json:"sent_at"`
}

// minAlertGrade is the floor for outbound notifications. Lower grades still
// reach the detection store and websocket, just not the alert channel.
var minAlertGrade = decision.GradeA

// Sink consumes broadcaster events and forwards qualifying signals to the
// notifier. Suppression is keyed per (symbol, strategy, direction) with the
// signal's validity window as TTL; a direction flip or a strictly better
// grade punches through an active suppression.
type Sink struct {
	suppress *cache.SuppressionCache
	notifier Notifier
	history  HistoryWriter
	log      zerolog.Logger

	mu   sync.Mutex
	sent int

	stopOnce sync.Once
	cancel   func()
	done     chan struct{}
}

func NewSink(suppress *cache.SuppressionCache, notifier Notifier, history HistoryWriter) *Sink {
	return &Sink{
		suppress: suppress,
		notifier: notifier,
		history:  history,
		log:      logging.Component("alerts"),
		done:     make(chan struct{}),
	}
}

// Run subscribes to the broadcaster and forwards events until ctx is
// cancelled or Stop is called. Blocking; callers run it in a goroutine.
func (s *Sink) Run(ctx context.Context, b *events.Broadcaster) {
	ch, unsubscribe := b.Subscribe()
	s.mu.Lock()
	s.cancel = unsubscribe
	s.mu.Unlock()
	defer close(s.done)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == events.TypeSignal && ev.Signal != nil {
				s.handle(ctx, ev.Signal)
			}
		}
	}
}

// Stop unsubscribes the sink and waits for Run to exit.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	<-s.done
}

// Sent reports the number of alerts delivered since startup.
func (s *Sink) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Sink) handle(ctx context.Context, d *decision.Decision) {
	if decision.GradeRank(d.Grade) < decision.GradeRank(minAlertGrade) {
		return
	}

	key := cache.SuppressionKey(d.Symbol, d.StrategyID, string(d.Direction))
	if prev, ok := s.suppress.Get(ctx, key); ok && !bypassesSuppression(prev, d) {
		s.log.Debug().
			Str("symbol", d.Symbol).
			Str("strategy", d.StrategyID).
			Msg("alert suppressed")
		return
	}

	a := Alert{
		ID:         d.ID,
		Symbol:     d.Symbol,
		StrategyID: d.StrategyID,
		Strategy:   d.StrategyName,
		Direction:  d.Direction,
		Grade:      d.Grade,
		Confidence: d.Confidence,
		Entry:      d.EntryFormatted,
		StopLoss:   d.StopLoss.Formatted,
		TakeProfit: d.TakeProfit.Formatted,
		Reason:     strings.Join(d.Triggers, "; "),
		SentAt:     time.Now().UTC(),
	}

	if err := s.notifier.Notify(ctx, a); err != nil {
		s.log.Error().Err(err).Str("symbol", d.Symbol).Msg("alert delivery failed")
		return
	}

	ttl, _ := decision.ValidityFor(d.Style)
	s.suppress.Set(ctx, key, cache.SuppressionEntry{
		Grade:     string(d.Grade),
		Direction: string(d.Direction),
		SentAt:    a.SentAt,
	}, ttl)

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.SaveAlert(ctx, a); err != nil {
			s.log.Warn().Err(err).Msg("alert history write failed")
		}
	}
	s.log.Info().
		Str("symbol", d.Symbol).
		Str("strategy", d.StrategyID).
		Str("grade", string(d.Grade)).
		Str("direction", string(d.Direction)).
		Msg("alert sent")
}

// bypassesSuppression decides whether a new decision overrides the alert
// already sent for this key: only a strictly better grade does. Direction
// flips never collide here because direction is part of the key.
func bypassesSuppression(prev *cache.SuppressionEntry, d *decision.Decision) bool {
	return decision.GradeRank(d.Grade) > decision.GradeRank(decision.Grade(prev.Grade))
}
