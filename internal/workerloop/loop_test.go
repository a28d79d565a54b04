package workerloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/toolgate"
)

type fakeReadTool struct{ calls int }

func (f *fakeReadTool) Name() string                              { return "fs.read" }
func (f *fakeReadTool) Classification() domain.ToolClassification { return domain.ToolReadOnly }
func (f *fakeReadTool) InputSchema() json.RawMessage              { return json.RawMessage(`{}`) }
func (f *fakeReadTool) Execute(ctx context.Context, input json.RawMessage) (*toolgate.Result, error) {
	f.calls++
	return &toolgate.Result{Output: "ok"}, nil
}

// scriptedModel plays back a fixed sequence of decisions, one per call.
type scriptedModel struct {
	decisions []*WorkerDecision
	i         int
}

func (m *scriptedModel) Decide(ctx context.Context, req *WorkerActionRequest) (*WorkerDecision, error) {
	if m.i >= len(m.decisions) {
		return &WorkerDecision{Action: ActionComplete, CompleteSummary: "fallback"}, nil
	}
	d := m.decisions[m.i]
	m.i++
	return d, nil
}

func newTestHandles(t *testing.T) (*store.Store, *eventbus.Bus, *toolgate.Registry, *toolgate.Gate) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now()
	ctx := context.Background()
	if err := s.InsertTask(ctx, &domain.Task{ID: "t1", Prompt: "p", Status: domain.TaskExecuting, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.InsertRun(ctx, &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunExecuting, StartedAt: now}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	reg := toolgate.NewRegistry()
	bus := eventbus.New(s, nil)
	gate := toolgate.New(reg, s, bus)
	return s, bus, reg, gate
}

func testSubAgent(maxTurns int) *domain.SubAgent {
	return &domain.SubAgent{
		ID: "sa1", RunID: "r1", Status: domain.SubAgentRunning,
		Contract: domain.Contract{MaxTurns: maxTurns, AllowedTools: []string{"fs.read"}},
	}
}

func TestLoopCompletesOnCompleteAction(t *testing.T) {
	s, _, reg, gate := newTestHandles(t)
	reg.Register(&fakeReadTool{})

	model := &scriptedModel{decisions: []*WorkerDecision{
		{Action: ActionComplete, CompleteSummary: "done"},
	}}
	loop := New(s, nil, reg, gate, model, nil, "", nil)

	status, summary, err := loop.Run(context.Background(), testSubAgent(5), "do the thing", "", toolgate.DefaultPolicy())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.SubAgentCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	if summary != "done" {
		t.Fatalf("expected summary 'done', got %q", summary)
	}
}

func TestLoopDispatchesToolCallThenCompletes(t *testing.T) {
	s, _, reg, gate := newTestHandles(t)
	tool := &fakeReadTool{}
	reg.Register(tool)

	model := &scriptedModel{decisions: []*WorkerDecision{
		{Action: ActionToolCall, ToolCall: &ToolCallRequest{Name: "fs.read", Args: json.RawMessage(`{}`)}},
		{Action: ActionComplete, CompleteSummary: "done"},
	}}
	loop := New(s, nil, reg, gate, model, nil, "", nil)

	status, _, err := loop.Run(context.Background(), testSubAgent(5), "read a file", "", toolgate.DefaultPolicy())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.SubAgentCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool to be called once, got %d", tool.calls)
	}
}

func TestLoopExhaustsTurnBudget(t *testing.T) {
	s, _, reg, gate := newTestHandles(t)
	reg.Register(&fakeReadTool{})

	decisions := make([]*WorkerDecision, 0, 3)
	for i := 0; i < 3; i++ {
		decisions = append(decisions, &WorkerDecision{
			Action: ActionToolCall, ToolCall: &ToolCallRequest{Name: "fs.read", Args: json.RawMessage(`{}`)},
		})
	}
	model := &scriptedModel{decisions: decisions}
	loop := New(s, nil, reg, gate, model, nil, "", nil)

	_, _, err := loop.Run(context.Background(), testSubAgent(3), "loop forever", "", toolgate.DefaultPolicy())
	if err != ErrStepBudgetExhausted {
		t.Fatalf("expected ErrStepBudgetExhausted, got %v", err)
	}
}

func TestTodoHeuristicBlocksPrematureCompletion(t *testing.T) {
	s, _, reg, gate := newTestHandles(t)
	reg.Register(&fakeReadTool{})

	model := &scriptedModel{decisions: []*WorkerDecision{
		{Action: ActionToolCall, ToolCall: &ToolCallRequest{Name: "agent.todo", Args: json.RawMessage(`{}`)}},
		{Action: ActionComplete, CompleteSummary: "too early"},
		{Action: ActionComplete, CompleteSummary: "actually done"},
	}}
	reg.Register(&todoReportingTool{})
	loop := New(s, nil, reg, gate, model, nil, "", nil)

	status, summary, err := loop.Run(context.Background(), testSubAgent(5), "finish the todo list", "", toolgate.DefaultPolicy())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.SubAgentCompleted || summary != "actually done" {
		t.Fatalf("expected the heuristic to defer completion by one turn, got status=%s summary=%q", status, summary)
	}
}

type todoReportingTool struct{}

func (t *todoReportingTool) Name() string                              { return "agent.todo" }
func (t *todoReportingTool) Classification() domain.ToolClassification { return domain.ToolReadOnly }
func (t *todoReportingTool) InputSchema() json.RawMessage              { return json.RawMessage(`{}`) }
func (t *todoReportingTool) Execute(ctx context.Context, input json.RawMessage) (*toolgate.Result, error) {
	return &toolgate.Result{Output: `[{"item":"a","state":"pending"}]`}, nil
}

func TestDelegateActionRejectedWhenNotPermitted(t *testing.T) {
	s, _, reg, gate := newTestHandles(t)
	reg.Register(&fakeReadTool{})

	model := &scriptedModel{decisions: []*WorkerDecision{
		{Action: ActionDelegate, DelegateObjective: "spin off a child"},
		{Action: ActionComplete, CompleteSummary: "done anyway"},
	}}
	loop := New(s, nil, reg, gate, model, nil, "", nil)

	sa := testSubAgent(5)
	sa.Contract.CanSpawnChildren = false

	status, summary, err := loop.Run(context.Background(), sa, "delegate", "", toolgate.DefaultPolicy())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.SubAgentCompleted || summary != "done anyway" {
		t.Fatalf("expected the worker to recover after a rejected delegation, got status=%s summary=%q", status, summary)
	}
}

func TestDelegateActionInvokesCallback(t *testing.T) {
	s, _, reg, gate := newTestHandles(t)
	reg.Register(&fakeReadTool{})

	var sawObjective string
	delegate := func(ctx context.Context, parent *domain.SubAgent, objective string) (*Observation, error) {
		sawObjective = objective
		return &Observation{ToolName: "subagent.spawn", Status: "succeeded", Output: "child finished"}, nil
	}

	model := &scriptedModel{decisions: []*WorkerDecision{
		{Action: ActionDelegate, DelegateObjective: "research the bug"},
		{Action: ActionComplete, CompleteSummary: "wrapped up"},
	}}
	loop := New(s, nil, reg, gate, model, delegate, "", nil)

	sa := testSubAgent(5)
	sa.Contract.CanSpawnChildren = true

	status, _, err := loop.Run(context.Background(), sa, "delegate", "", toolgate.DefaultPolicy())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.SubAgentCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	if sawObjective != "research the bug" {
		t.Fatalf("expected delegate callback to receive the objective, got %q", sawObjective)
	}
}
