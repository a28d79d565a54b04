package compaction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
)

type stubSummarizer struct{ summary string }

func (s *stubSummarizer) GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error) {
	return s.summary, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now()
	ctx := context.Background()
	if err := s.InsertTask(ctx, &domain.Task{ID: "t1", Prompt: "build a thing", Status: domain.TaskExecuting, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.InsertRun(ctx, &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunExecuting, StartedAt: now}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	bus := eventbus.New(s, nil)
	return New(s, bus), s
}

func TestBuildFollowUpPromptSkipsCompactionUnderThreshold(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	if err := s.InsertUserMessage(ctx, &domain.UserMessage{ID: "u1", TaskID: "t1", RunID: "r1", Content: "hello", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("InsertUserMessage: %v", err)
	}

	prompt, err := e.BuildFollowUpPrompt(ctx, "t1", "r1", 100000, "what next?", &stubSummarizer{}, false)
	if err != nil {
		t.Fatalf("BuildFollowUpPrompt: %v", err)
	}
	if prompt.Compacted {
		t.Fatal("expected no compaction for a short transcript")
	}
	if !strings.Contains(prompt.Text, "hello") || !strings.Contains(prompt.Text, "what next?") {
		t.Fatalf("expected full transcript plus request, got %q", prompt.Text)
	}
}

func TestBuildFollowUpPromptCompactsOverThreshold(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// A tiny context window (threshold int(4*0.8) = 3 tokens) guarantees
	// the ten 40-char messages (10 tokens each, 100 in total) push the
	// assembled transcript over threshold.
	contextWindow := 4

	for i := 0; i < 10; i++ {
		if err := s.InsertUserMessage(ctx, &domain.UserMessage{
			ID: uuidFor(i), TaskID: "t1", RunID: "r1",
			Content:   strings.Repeat("x", 40),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}); err != nil {
			t.Fatalf("InsertUserMessage %d: %v", i, err)
		}
	}

	summarizer := &stubSummarizer{summary: "condensed history"}
	prompt, err := e.BuildFollowUpPrompt(ctx, "t1", "r1", contextWindow, "continue please", summarizer, false)
	if err != nil {
		t.Fatalf("BuildFollowUpPrompt: %v", err)
	}
	if !prompt.Compacted {
		t.Fatal("expected compaction to trigger over threshold")
	}
	if !strings.Contains(prompt.Text, "condensed history") {
		t.Fatalf("expected summary folded into prompt, got %q", prompt.Text)
	}
	if !strings.Contains(prompt.Text, "continue please") {
		t.Fatalf("expected current request appended, got %q", prompt.Text)
	}
	if len(prompt.RecentTail) != DefaultPreserveRecent {
		t.Fatalf("expected %d verbatim recent messages, got %d", DefaultPreserveRecent, len(prompt.RecentTail))
	}

	summary, err := s.GetLatestConversationSummary(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatestConversationSummary: %v", err)
	}
	if summary.Text != "condensed history" {
		t.Fatalf("expected persisted summary, got %q", summary.Text)
	}
}

func TestBuildFollowUpPromptReusesRecentSummary(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.InsertUserMessage(ctx, &domain.UserMessage{
			ID: uuidFor(i), TaskID: "t1", RunID: "r1",
			Content:   strings.Repeat("x", 40),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}); err != nil {
			t.Fatalf("InsertUserMessage %d: %v", i, err)
		}
	}

	first := &stubSummarizer{summary: "first summary"}
	if _, err := e.BuildFollowUpPrompt(ctx, "t1", "r1", 4, "continue", first, false); err != nil {
		t.Fatalf("first BuildFollowUpPrompt: %v", err)
	}

	second := &stubSummarizer{summary: "second summary (should not be used)"}
	prompt, err := e.BuildFollowUpPrompt(ctx, "t1", "r1", 4, "continue again", second, false)
	if err != nil {
		t.Fatalf("second BuildFollowUpPrompt: %v", err)
	}
	if !strings.Contains(prompt.Text, "first summary") {
		t.Fatalf("expected the recent summary to be reused, got %q", prompt.Text)
	}
	if strings.Contains(prompt.Text, "second summary") {
		t.Fatal("did not expect regeneration within the idempotence window")
	}
}

func uuidFor(i int) string {
	return "u" + string(rune('a'+i))
}
