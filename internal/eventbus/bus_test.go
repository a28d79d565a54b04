package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/store"
)

func newTestBus(t *testing.T) (*Bus, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, nil), s
}

func seedRun(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := s.InsertTask(ctx, &domain.Task{ID: "t1", Prompt: "p", Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.InsertRun(ctx, &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunPlanning, StartedAt: now}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
}

func TestEmitPersistsBeforePublish(t *testing.T) {
	b, s := newTestBus(t)
	seedRun(t, s)

	sub := b.Subscribe()
	defer sub.Close()

	ev, err := b.Emit(context.Background(), CategoryAgent, "agent.step", "r1", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	persisted, err := s.GetEventsAfterSeq(context.Background(), "r1", ev.Seq-1)
	if err != nil {
		t.Fatalf("GetEventsAfterSeq: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != ev.ID {
		t.Fatalf("expected event persisted before publish, got %+v", persisted)
	}

	select {
	case got := <-sub.Events:
		if got.ID != ev.ID {
			t.Fatalf("subscriber got wrong event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received emitted event")
	}
}

func TestSlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	b, s := newTestBus(t)
	seedRun(t, s)

	sub := b.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		if _, err := b.Emit(context.Background(), CategoryAgent, "agent.step", "r1", i); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	b.mu.Lock()
	_, stillSubscribed := b.subs[sub.id]
	b.mu.Unlock()
	if stillSubscribed {
		t.Fatal("expected overflowing subscriber to be dropped")
	}
}

func TestBackfillAfterReturnsMissedEvents(t *testing.T) {
	b, s := newTestBus(t)
	seedRun(t, s)
	ctx := context.Background()

	var last *domain.Event
	for i := 0; i < 3; i++ {
		ev, err := b.Emit(ctx, CategoryTool, "tool.invoked", "r1", i)
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
		last = ev
	}

	missed, err := b.BackfillAfter(ctx, "r1", last.Seq-1)
	if err != nil {
		t.Fatalf("BackfillAfter: %v", err)
	}
	if len(missed) != 1 || missed[0].ID != last.ID {
		t.Fatalf("expected exactly the last event, got %+v", missed)
	}
}
