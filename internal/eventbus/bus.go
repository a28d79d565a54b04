// Package eventbus implements the append-only event journal plus
// in-process fan-out described in spec.md §4.2: events are persisted
// before publication so crash-recovery and live-subscriber views agree
// on ordering, and delivery to a given subscriber is FIFO in seq.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/store"
)

// Categories used by the core (spec.md §4.2).
const (
	CategoryTask     = "task"
	CategoryAgent    = "agent"
	CategoryTool     = "tool"
	CategoryArtifact = "artifact"
	CategoryUser     = "user"
)

// subscriberBuffer bounds how many undelivered events a slow subscriber
// may accumulate before it is dropped, matching "bus delivery is
// best-effort to live subscribers; durability is via the log."
const subscriberBuffer = 256

// Bus persists events via the store and fans them out to subscribers.
type Bus struct {
	store  *store.Store
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int64]chan *domain.Event
	next int64
}

// New creates a Bus backed by s.
func New(s *store.Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:  s,
		logger: logger,
		subs:   make(map[int64]chan *domain.Event),
	}
}

// Emit assigns the next seq, persists the event, then publishes it to
// every live subscriber. Persistence failure is fatal to the emit; the
// caller decides whether to mark the surrounding run failed.
func (b *Bus) Emit(ctx context.Context, category, eventType, runID string, payload any) (*domain.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ev, err := b.store.InsertEvent(ctx, uuid.NewString(), runID, category, eventType, raw, time.Now())
	if err != nil {
		return nil, err
	}

	b.publish(ev)
	return ev, nil
}

func (b *Bus) publish(ev *domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("eventbus: dropping slow subscriber", "subscriber_id", id, "event_type", ev.Type)
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Subscription is a live handle to the bus's fan-out channel.
type Subscription struct {
	id     int64
	bus    *Bus
	Events <-chan *domain.Event
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		close(ch)
		delete(s.bus.subs, s.id)
	}
}

// Subscribe registers a new live subscriber. A late subscriber may
// backfill missed events via BackfillAfter.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan *domain.Event, subscriberBuffer)
	b.subs[id] = ch
	return &Subscription{id: id, bus: b, Events: ch}
}

// BackfillAfter returns persisted events for a run after afterSeq, for a
// subscriber reconnecting after a gap.
func (b *Bus) BackfillAfter(ctx context.Context, runID string, afterSeq int64) ([]*domain.Event, error) {
	return b.store.GetEventsAfterSeq(ctx, runID, afterSeq)
}
