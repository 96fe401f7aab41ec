// Package events is the in-process fan-out from the scan pipeline to
// subscribers: the alert sink, the websocket bridge, and anything else that
// wants live decisions.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/decision"
	"signal-engine/internal/logging"
	"signal-engine/internal/tracker"
)

// Type of a published event.
type Type string

const (
	TypeSignal  Type = "signal"
	TypeUpgrade Type = "upgrade"
	TypeError   Type = "error"
)

// ErrorPayload describes a pipeline error pushed to subscribers.
type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Event is the broadcast envelope. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Signal    *decision.Decision `json:"signal,omitempty"`
	Upgrade   *tracker.Upgrade  `json:"upgrade,omitempty"`
	Error     *ErrorPayload     `json:"error,omitempty"`
}

// defaultSlotSize is each subscriber's private buffer.
const defaultSlotSize = 32

// Broadcaster delivers events to subscribers over per-subscriber buffered
// channels. Sends never block: a subscriber whose slot is full is evicted.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	slot   int
	log    zerolog.Logger
}

func NewBroadcaster(slotSize int) *Broadcaster {
	if slotSize <= 0 {
		slotSize = defaultSlotSize
	}
	return &Broadcaster{
		subs: make(map[int]chan Event),
		slot: slotSize,
		log:  logging.Component("broadcaster"),
	}
}

// Subscribe returns a receive channel and its cancel function. The channel
// closes on cancel or on eviction.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.slot)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans an event out to every subscriber. A full slot means the
// subscriber stopped draining; it is closed and dropped.
func (b *Broadcaster) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			delete(b.subs, id)
			close(ch)
			b.log.Warn().Int("subscriber", id).Msg("evicted slow subscriber")
		}
	}
	b.mu.Unlock()
}

// PublishSignal publishes a new decision.
func (b *Broadcaster) PublishSignal(d *decision.Decision) {
	b.Publish(Event{Type: TypeSignal, Signal: d})
}

// PublishUpgrade publishes a grade-tracker upgrade.
func (b *Broadcaster) PublishUpgrade(u tracker.Upgrade) {
	b.Publish(Event{Type: TypeUpgrade, Upgrade: &u})
}

// PublishError publishes a pipeline error.
func (b *Broadcaster) PublishError(source, message, details string) {
	b.Publish(Event{Type: TypeError, Error: &ErrorPayload{Source: source, Message: message, Details: details}})
}

// SubscriberCount reports the live subscriber count.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close evicts every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}
