package worktree

import (
	"testing"
	"time"
)

func TestSchedulerRunsPruneStaleOnSchedule(t *testing.T) {
	dir := initTestRepo(t)
	mgr, _ := newTestManager(t, dir)

	sched := NewScheduler(mgr, nil)
	if err := sched.Start(t.Context(), "@every 10ms"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if runs, _ := sched.Status(); runs > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scheduler did not run prune_stale sweep in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	dir := initTestRepo(t)
	mgr, _ := newTestManager(t, dir)

	sched := NewScheduler(mgr, nil)
	if err := sched.Start(t.Context(), "@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(t.Context(), "@every 1h"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	dir := initTestRepo(t)
	mgr, _ := newTestManager(t, dir)

	sched := NewScheduler(mgr, nil)
	if err := sched.Start(t.Context(), "not a schedule"); err == nil {
		t.Fatal("expected error for invalid cron schedule")
	}
}
