package modelresolve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ifBars/orchestrix/internal/compaction"
	"github.com/ifBars/orchestrix/internal/workerloop"
)

// fakeProvider is a minimal LLMProvider stub driven by a
// preprogrammed reply or error, enough to exercise the adapters without
// a real network call.
type fakeProvider struct {
	name  string
	reply string
	err   error
}

func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) Models() []Model { return nil }
func (f *fakeProvider) SupportsTools() bool   { return false }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: f.reply, Done: true}
	close(ch)
	return ch, nil
}

func TestCollectText(t *testing.T) {
	ch := make(chan *CompletionChunk, 3)
	ch <- &CompletionChunk{Text: "hello "}
	ch <- &CompletionChunk{Text: "world"}
	ch <- &CompletionChunk{Done: true}
	close(ch)

	got, err := collectText(context.Background(), ch)
	if err != nil {
		t.Fatalf("collectText: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestCollectTextPropagatesChunkError(t *testing.T) {
	wantErr := errors.New("boom")
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Error: wantErr}
	close(ch)

	_, err := collectText(context.Background(), ch)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestPlannerAdapterGeneratePlanMarkdown(t *testing.T) {
	p := &plannerAdapter{provider: &fakeProvider{reply: "# Plan\n\n1. Do it"}, model: "claude-test"}
	if p.ModelID() != "claude-test" {
		t.Fatalf("ModelID: got %q", p.ModelID())
	}
	out, err := p.GeneratePlanMarkdown(context.Background(), "implement feature X", "some context")
	if err != nil {
		t.Fatalf("GeneratePlanMarkdown: %v", err)
	}
	if out != "# Plan\n\n1. Do it" {
		t.Fatalf("got %q", out)
	}
}

func TestSummarizerAdapterGenerateSummary(t *testing.T) {
	s := &summarizerAdapter{provider: &fakeProvider{reply: "condensed"}, model: "claude-test"}
	messages := []*compaction.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	out, err := s.GenerateSummary(context.Background(), messages, &compaction.SummarizationConfig{})
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if out != "condensed" {
		t.Fatalf("got %q", out)
	}
}

func TestSummarizerAdapterUsesConfigModelOverride(t *testing.T) {
	var seenModel string
	fp := &recordingProvider{onComplete: func(req *CompletionRequest) { seenModel = req.Model }, reply: "ok"}
	s := &summarizerAdapter{provider: fp, model: "default-model"}
	_, err := s.GenerateSummary(context.Background(), nil, &compaction.SummarizationConfig{Model: "override-model"})
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if seenModel != "override-model" {
		t.Fatalf("got model %q, want override-model", seenModel)
	}
}

func TestWorkerAdapterDecideParsesJSON(t *testing.T) {
	reply := `{"action":"tool_call","reasoning":"need to read the file","tool_call":{"name":"read_file","args":{"path":"a.go"},"rationale":"inspect"}}`
	w := &workerAdapter{provider: &fakeProvider{reply: reply}, model: "claude-test"}

	decision, err := w.Decide(context.Background(), &workerloop.WorkerActionRequest{
		TaskPrompt: "fix the bug",
		ToolDescriptors: []workerloop.ToolDescriptor{
			{Name: "read_file", Description: "reads a file", InputSchema: []byte(`{}`)},
		},
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != workerloop.ActionToolCall {
		t.Fatalf("got action %q", decision.Action)
	}
	if decision.ToolCall == nil || decision.ToolCall.Name != "read_file" {
		t.Fatalf("got tool call %+v", decision.ToolCall)
	}
}

func TestWorkerAdapterDecideStripsMarkdownFence(t *testing.T) {
	reply := "```json\n{\"action\":\"complete\",\"complete_summary\":\"done\"}\n```"
	w := &workerAdapter{provider: &fakeProvider{reply: reply}, model: "claude-test"}

	decision, err := w.Decide(context.Background(), &workerloop.WorkerActionRequest{TaskPrompt: "task"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != workerloop.ActionComplete || decision.CompleteSummary != "done" {
		t.Fatalf("got %+v", decision)
	}
}

func TestWorkerAdapterDecideRejectsMalformedJSON(t *testing.T) {
	w := &workerAdapter{provider: &fakeProvider{reply: "not json at all"}, model: "claude-test"}
	if _, err := w.Decide(context.Background(), &workerloop.WorkerActionRequest{TaskPrompt: "task"}); err == nil {
		t.Fatal("expected an error for malformed model output")
	}
}

func TestRenderTurnPromptIncludesSkillsAndObservations(t *testing.T) {
	req := &workerloop.WorkerActionRequest{
		TaskPrompt:    "ship the feature",
		GoalSummary:   "refactor the widget",
		SkillsContext: "## go-testing\nwrite table tests",
		ToolDescriptors: []workerloop.ToolDescriptor{
			{Name: "run_tests", Description: "runs the suite", InputSchema: []byte(`{}`)},
		},
		Observations: []workerloop.Observation{
			{ToolName: "run_tests", Status: "ok", Output: "all green"},
			{ToolName: "apply_patch", Status: "error", Error: "conflict"},
		},
	}
	out := renderTurnPrompt(req)
	for _, want := range []string{"ship the feature", "refactor the widget", "go-testing", "run_tests", "all green", "conflict"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered prompt missing %q:\n%s", want, out)
		}
	}
}

func TestResolverResolveFailsWithoutAPIKey(t *testing.T) {
	r := New(Config{}, nil)
	if _, err := r.PlannerModel("anthropic", ""); err == nil {
		t.Fatal("expected an error when no anthropic API key is configured")
	}
}

func TestResolverResolveDefaultsProviderAndModel(t *testing.T) {
	r := New(Config{AnthropicAPIKey: "test-key", DefaultProvider: "anthropic", DefaultModel: "claude-default"}, nil)
	m, err := r.WorkerModel("", "")
	if err != nil {
		t.Fatalf("WorkerModel: %v", err)
	}
	adapter, ok := m.(*workerAdapter)
	if !ok {
		t.Fatalf("got %T", m)
	}
	if adapter.model != "claude-default" {
		t.Fatalf("got model %q", adapter.model)
	}
}

// recordingProvider records the last CompletionRequest it was asked to
// complete, for assertions that don't care about the returned text.
type recordingProvider struct {
	onComplete func(req *CompletionRequest)
	reply      string
}

func (r *recordingProvider) Name() string          { return "recording" }
func (r *recordingProvider) Models() []Model { return nil }
func (r *recordingProvider) SupportsTools() bool   { return false }

func (r *recordingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if r.onComplete != nil {
		r.onComplete(req)
	}
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: r.reply, Done: true}
	close(ch)
	return ch, nil
}
