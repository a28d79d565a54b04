package store

import (
	"context"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskLifecycleAndCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	task := &domain.Task{ID: "t1", Prompt: "do the thing", Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	run := &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunPlanning, StartedAt: now}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	if _, err := s.InsertEvent(ctx, "e1", "r1", "task", "task.status_changed", []byte(`{}`), now); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	sa := &domain.SubAgent{ID: "sa1", RunID: "r1", StepIdx: 0, Name: "worker-0", Status: domain.SubAgentCreated, Contract: domain.Contract{MaxDelegationDepth: 2}}
	if err := s.InsertSubAgent(ctx, sa); err != nil {
		t.Fatalf("InsertSubAgent: %v", err)
	}

	if err := s.DeleteTaskCascade(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTaskCascade: %v", err)
	}

	if _, err := s.GetTask(ctx, "t1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after cascade delete, got %v", err)
	}
	if _, err := s.GetRun(ctx, "r1"); err != ErrNotFound {
		t.Fatalf("expected run deleted, got %v", err)
	}
	if _, err := s.GetSubAgent(ctx, "sa1"); err != ErrNotFound {
		t.Fatalf("expected sub-agent deleted, got %v", err)
	}
	events, err := s.GetEventsAfterSeq(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("GetEventsAfterSeq: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events deleted, got %d", len(events))
	}
}

func TestEventSeqMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	task := &domain.Task{ID: "t1", Prompt: "p", Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now}
	_ = s.InsertTask(ctx, task)
	run := &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunPlanning, StartedAt: now}
	_ = s.InsertRun(ctx, run)

	var last int64
	for i := 0; i < 5; i++ {
		ev, err := s.InsertEvent(ctx, uuidLike(i), "r1", "agent", "agent.step", nil, now)
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
		if ev.Seq <= last {
			t.Fatalf("seq not strictly increasing: got %d after %d", ev.Seq, last)
		}
		last = ev.Seq
	}
}

func TestApprovalResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	req := &domain.ApprovalRequest{ID: "ap1", RunID: "r1", TaskID: "t1", ToolName: "fs.write", CreatedAt: now}
	if err := s.InsertApprovalRequest(ctx, req); err != nil {
		t.Fatalf("InsertApprovalRequest: %v", err)
	}

	pending, err := s.ListPendingApprovals(ctx, "t1")
	if err != nil {
		t.Fatalf("ListPendingApprovals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}

	if err := s.ResolveApprovalRequest(ctx, "ap1", true, now); err != nil {
		t.Fatalf("ResolveApprovalRequest: %v", err)
	}

	pending, err = s.ListPendingApprovals(ctx, "t1")
	if err != nil {
		t.Fatalf("ListPendingApprovals after resolve: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending approvals after resolve, got %d", len(pending))
	}

	resolved, err := s.GetApprovalRequest(ctx, "ap1")
	if err != nil {
		t.Fatalf("GetApprovalRequest: %v", err)
	}
	if !resolved.Resolved || !resolved.Approved {
		t.Fatalf("expected resolved+approved, got %+v", resolved)
	}
}

func uuidLike(i int) string {
	return "evt-" + string(rune('a'+i))
}
