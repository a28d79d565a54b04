package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
)

type fakeModel struct {
	id       string
	markdown string
	sawCtx   string
}

func (f *fakeModel) ModelID() string { return f.id }
func (f *fakeModel) GeneratePlanMarkdown(ctx context.Context, prompt, context string) (string, error) {
	f.sawCtx = context
	return f.markdown, nil
}

func newTestPlanner(t *testing.T, workspace string) (*Planner, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now()
	ctx := context.Background()
	if err := s.InsertTask(ctx, &domain.Task{ID: "t1", Prompt: "build a thing", Status: domain.TaskPlanning, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.InsertRun(ctx, &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunPlanning, StartedAt: now}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	bus := eventbus.New(s, nil)
	return New(s, bus, func() string { return workspace }), s
}

func TestGeneratePlanArtifactWritesFileAndTransitionsRun(t *testing.T) {
	workspace := t.TempDir()
	p, s := newTestPlanner(t, workspace)
	model := &fakeModel{id: "kimi-planner", markdown: "# Plan\n\nDo the thing.\n\n\n\n"}

	outcome, err := p.GeneratePlanArtifact(context.Background(), "t1", "r1", "build a thing", model, "")
	if err != nil {
		t.Fatalf("GeneratePlanArtifact: %v", err)
	}

	contents, err := os.ReadFile(outcome.ArtifactPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(contents) != "# Plan\n\nDo the thing.\n" {
		t.Fatalf("unexpected normalised markdown: %q", contents)
	}

	wantPath := filepath.Join(workspace, ".orchestrix", "runs", "r1", "plan.md")
	if outcome.ArtifactPath != wantPath {
		t.Fatalf("expected artifact path %q, got %q", wantPath, outcome.ArtifactPath)
	}

	run, err := s.GetRun(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != domain.RunAwaitingReview {
		t.Fatalf("expected run to transition to awaiting_review, got %s", run.Status)
	}

	artifacts, err := s.ListArtifactsForTaskByKind(context.Background(), "t1", "plan_markdown")
	if err != nil || len(artifacts) != 1 {
		t.Fatalf("expected one plan_markdown artifact, got %d (err=%v)", len(artifacts), err)
	}
}

func TestGeneratePlanArtifactFeedbackAppendsReviewerNote(t *testing.T) {
	workspace := t.TempDir()
	p, _ := newTestPlanner(t, workspace)
	first := &fakeModel{id: "kimi-planner", markdown: "# Plan v1"}
	if _, err := p.GeneratePlanArtifact(context.Background(), "t1", "r1", "build a thing", first, ""); err != nil {
		t.Fatalf("first GeneratePlanArtifact: %v", err)
	}

	second := &fakeModel{id: "kimi-planner", markdown: "# Plan v2"}
	if _, err := p.GeneratePlanArtifact(context.Background(), "t1", "r1", "build a thing", second, "use fewer steps"); err != nil {
		t.Fatalf("second GeneratePlanArtifact: %v", err)
	}

	if !contains(second.sawCtx, "# Plan v1") {
		t.Fatalf("expected prior plan markdown folded into context, got %q", second.sawCtx)
	}
	if !contains(second.sawCtx, "Reviewer feedback to incorporate") || !contains(second.sawCtx, "use fewer steps") {
		t.Fatalf("expected reviewer feedback appended, got %q", second.sawCtx)
	}
}

func TestTrimExcessiveBlankLines(t *testing.T) {
	in := "line1\n\n\n\n\nline2\n\n   \n"
	out := trimExcessiveBlankLines(in)
	want := "line1\n\n\nline2\n"
	if out != want {
		t.Fatalf("trimExcessiveBlankLines(%q) = %q, want %q", in, out, want)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (sub == "" || indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
