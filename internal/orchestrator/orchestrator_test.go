package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/compaction"
	"github.com/ifBars/orchestrix/internal/delegation"
	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/planner"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/toolgate"
	"github.com/ifBars/orchestrix/internal/workerloop"
	"github.com/ifBars/orchestrix/internal/worktree"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, stderr.String())
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "README.md")
	run("commit", "-m", "initial")
	return dir
}

type fakePlannerModel struct{ markdown string }

func (f *fakePlannerModel) ModelID() string { return "fake-planner" }
func (f *fakePlannerModel) GeneratePlanMarkdown(ctx context.Context, prompt, context string) (string, error) {
	return f.markdown, nil
}

type scriptedWorkerModel struct {
	decisions []*workerloop.WorkerDecision
	i         int
}

func (m *scriptedWorkerModel) Decide(ctx context.Context, req *workerloop.WorkerActionRequest) (*workerloop.WorkerDecision, error) {
	if m.i >= len(m.decisions) {
		return &workerloop.WorkerDecision{Action: workerloop.ActionComplete, CompleteSummary: "fallback"}, nil
	}
	d := m.decisions[m.i]
	m.i++
	return d, nil
}

type stubSummarizer struct{}

func (stubSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	return "condensed", nil
}

type fakeModelResolver struct {
	plannerModel planner.Model
	workerModel  workerloop.Model
}

func (f *fakeModelResolver) PlannerModel(provider, model string) (planner.Model, error) { return f.plannerModel, nil }
func (f *fakeModelResolver) WorkerModel(provider, model string) (workerloop.Model, error) {
	return f.workerModel, nil
}
func (f *fakeModelResolver) Summarizer(provider, model string) (compaction.Summarizer, error) {
	return stubSummarizer{}, nil
}

type fakeMutatingTool struct{}

func (t *fakeMutatingTool) Name() string                              { return "fs.write" }
func (t *fakeMutatingTool) Classification() domain.ToolClassification { return domain.ToolMutating }
func (t *fakeMutatingTool) InputSchema() json.RawMessage              { return json.RawMessage(`{}`) }
func (t *fakeMutatingTool) Execute(ctx context.Context, input json.RawMessage) (*toolgate.Result, error) {
	return &toolgate.Result{Output: "wrote"}, nil
}

func newTestOrchestrator(t *testing.T, root string, resolver *fakeModelResolver) (*Orchestrator, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := eventbus.New(s, nil)
	registry := toolgate.NewRegistry()
	registry.Register(&fakeMutatingTool{})
	gate := toolgate.New(registry, s, bus)
	wm := worktree.New(s, bus, func() string { return root })
	pl := planner.New(s, bus, func() string { return root })
	delegateMgr := delegation.New(s, bus, wm, nil, 2)
	compactEngine := compaction.New(s, bus)

	o := New(s, bus, registry, gate, wm, pl, delegateMgr, compactEngine, nil, nil, resolver, root, nil, nil)
	return o, s
}

func waitForTaskStatus(t *testing.T, s *store.Store, taskID string, want domain.TaskStatus) *domain.Task {
	t.Helper()
	for i := 0; i < 200; i++ {
		task, err := s.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func TestStartTaskReachesAwaitingReview(t *testing.T) {
	root := initTestRepo(t)
	resolver := &fakeModelResolver{plannerModel: &fakePlannerModel{markdown: "# Plan\n\nDo it.\n"}}
	o, s := newTestOrchestrator(t, root, resolver)

	task, err := o.CreateTask(context.Background(), "build a thing", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := o.StartTask(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	waitForTaskStatus(t, s, task.ID, domain.TaskAwaitingReview)

	run, err := s.GetLatestRun(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetLatestRun: %v", err)
	}
	if run.Status != domain.RunAwaitingReview {
		t.Fatalf("expected run awaiting_review, got %s", run.Status)
	}
}

func TestApprovePlanCompletesTask(t *testing.T) {
	root := initTestRepo(t)
	worker := &scriptedWorkerModel{decisions: []*workerloop.WorkerDecision{
		{Action: workerloop.ActionComplete, CompleteSummary: "all done"},
	}}
	resolver := &fakeModelResolver{
		plannerModel: &fakePlannerModel{markdown: "# Plan\n"},
		workerModel:  worker,
	}
	o, s := newTestOrchestrator(t, root, resolver)

	task, err := o.CreateTask(context.Background(), "build a thing", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := o.StartTask(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitForTaskStatus(t, s, task.ID, domain.TaskAwaitingReview)

	if _, err := o.ApprovePlan(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}

	waitForTaskStatus(t, s, task.ID, domain.TaskCompleted)

	run, err := s.GetLatestRun(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetLatestRun: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected run completed, got %s", run.Status)
	}
}

func TestCancelTaskDeniesPendingApprovalAndMarksCancelled(t *testing.T) {
	root := initTestRepo(t)
	worker := &scriptedWorkerModel{decisions: []*workerloop.WorkerDecision{
		{Action: workerloop.ActionToolCall, ToolCall: &workerloop.ToolCallRequest{Name: "fs.write", Args: json.RawMessage(`{}`)}},
		{Action: workerloop.ActionComplete, CompleteSummary: "done"},
	}}
	resolver := &fakeModelResolver{
		plannerModel: &fakePlannerModel{markdown: "# Plan\n"},
		workerModel:  worker,
	}
	o, s := newTestOrchestrator(t, root, resolver)
	o.policy = toolgate.DefaultPolicy() // mutating tool requires approval

	task, err := o.CreateTask(context.Background(), "build a thing", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := o.StartTask(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitForTaskStatus(t, s, task.ID, domain.TaskAwaitingReview)

	if _, err := o.ApprovePlan(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}

	var found bool
	for i := 0; i < 200; i++ {
		if len(o.ListPendingApprovals(task.ID)) == 1 {
			found = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected a pending approval while the worker is suspended")
	}

	if err := o.CancelTask(context.Background(), task.ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	waitForTaskStatus(t, s, task.ID, domain.TaskCancelled)

	if len(o.ListPendingApprovals(task.ID)) != 0 {
		t.Fatal("expected CancelTask to resolve all pending approvals")
	}
}

func TestContinueTaskWithMessageRunsWorkerOnNewRun(t *testing.T) {
	root := initTestRepo(t)
	worker := &scriptedWorkerModel{decisions: []*workerloop.WorkerDecision{
		{Action: workerloop.ActionComplete, CompleteSummary: "handled the follow-up"},
	}}
	resolver := &fakeModelResolver{
		plannerModel: &fakePlannerModel{markdown: "# Plan\n"},
		workerModel:  worker,
	}
	o, s := newTestOrchestrator(t, root, resolver)

	task, err := o.CreateTask(context.Background(), "build a thing", "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := o.StartTask(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitForTaskStatus(t, s, task.ID, domain.TaskAwaitingReview)
	if _, err := o.ApprovePlan(context.Background(), task.ID, "fake", "fake-model"); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}
	waitForTaskStatus(t, s, task.ID, domain.TaskCompleted)

	worker.i = 0 // rearm for the follow-up run
	run, err := o.ContinueTaskWithMessage(context.Background(), task.ID, "one more thing", "fake", "fake-model")
	if err != nil {
		t.Fatalf("ContinueTaskWithMessage: %v", err)
	}

	for i := 0; i < 200; i++ {
		r, err := s.GetRun(context.Background(), run.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if r.Status == domain.RunCompleted {
			break
		}
		if i == 199 {
			t.Fatalf("follow-up run never completed, last status %s", r.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs, err := s.ListUserMessages(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ListUserMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "one more thing" {
		t.Fatalf("expected the continuation prompt recorded once, got %+v", msgs)
	}
}
