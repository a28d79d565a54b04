// Package planner generates the plan_markdown artifact that gates a
// Run's transition from planning to awaiting_review (spec.md §4.4),
// adapted from the original's runtime/planner.rs.
package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
)

// Model generates plan markdown from a task prompt plus accumulated
// context (prior plan revisions, reviewer feedback).
type Model interface {
	ModelID() string
	GeneratePlanMarkdown(ctx context.Context, prompt, context string) (string, error)
}

// Outcome is returned after a successful planning turn.
type Outcome struct {
	RunID        string
	ArtifactPath string
}

// Planner drives one planning turn for a task.
type Planner struct {
	store        *store.Store
	bus          *eventbus.Bus
	workspaceDir func() string
}

// New creates a Planner. workspaceDir is called lazily so the
// orchestrator's set_workspace_root affects subsequent planning turns.
func New(s *store.Store, bus *eventbus.Bus, workspaceDir func() string) *Planner {
	return &Planner{store: s, bus: bus, workspaceDir: workspaceDir}
}

// GeneratePlanArtifact runs one planning turn: it collects prior markdown
// artifacts for the task (optionally appending revisionNote as reviewer
// feedback), invokes model, normalises the result, writes it under
// .orchestrix/runs/<run_id>/plan.md, records a plan_markdown Artifact,
// transitions the Run to awaiting_review, and emits agent.plan_message.
func (p *Planner) GeneratePlanArtifact(ctx context.Context, taskID, runID, prompt string, model Model, revisionNote string) (*Outcome, error) {
	_, _ = p.bus.Emit(ctx, eventbus.CategoryAgent, "agent.planning_started", runID, map[string]string{"task_id": taskID})
	_, _ = p.bus.Emit(ctx, eventbus.CategoryAgent, "agent.plan_message", runID, map[string]string{
		"task_id": taskID,
		"content": "Got it. I am drafting a plan and will attach it as an artifact for your review.",
	})

	existing, err := p.collectExistingMarkdown(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("planner: collect existing markdown: %w", err)
	}
	planContext := existing
	if revisionNote != "" {
		planContext = fmt.Sprintf("%s\n\nReviewer feedback to incorporate:\n- %s", existing, revisionNote)
	}

	markdown, err := model.GeneratePlanMarkdown(ctx, prompt, planContext)
	if err != nil {
		return nil, fmt.Errorf("planner: generate plan markdown: %w", err)
	}

	if err := p.store.UpdateRunStatus(ctx, runID, domain.RunAwaitingReview, nil, ""); err != nil {
		return nil, fmt.Errorf("planner: update run status: %w", err)
	}

	trimmed := trimExcessiveBlankLines(markdown)

	artifactPath, err := p.writePlanArtifact(ctx, runID, taskID, model.ModelID(), trimmed)
	if err != nil {
		return nil, err
	}

	_, _ = p.bus.Emit(ctx, eventbus.CategoryAgent, "agent.plan_message", runID, map[string]string{
		"task_id": taskID,
		"content": fmt.Sprintf("I drafted a planning artifact for review.\n\nArtifact: `%s`", artifactPath),
	})

	return &Outcome{RunID: runID, ArtifactPath: artifactPath}, nil
}

// collectExistingMarkdown reads every plan_markdown artifact recorded for
// the task (across prior runs/revisions) back into one context blob.
func (p *Planner) collectExistingMarkdown(ctx context.Context, taskID string) (string, error) {
	artifacts, err := p.store.ListArtifactsForTaskByKind(ctx, taskID, "plan_markdown")
	if err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, a := range artifacts {
		content, err := os.ReadFile(a.URIOrContent)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n\n---\nArtifact: %s\n\n%s", a.URIOrContent, content)
	}
	return sb.String(), nil
}

func (p *Planner) writePlanArtifact(ctx context.Context, runID, taskID, plannerModel, markdown string) (string, error) {
	runDir := filepath.Join(p.workspaceDir(), ".orchestrix", "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("planner: create run dir: %w", err)
	}

	artifactPath := filepath.Join(runDir, "plan.md")
	if err := os.WriteFile(artifactPath, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("planner: write plan artifact: %w", err)
	}

	artifact := &domain.Artifact{
		ID:           uuid.NewString(),
		RunID:        runID,
		Kind:         "plan_markdown",
		URIOrContent: artifactPath,
		CreatedAt:    time.Now(),
	}
	if err := p.store.InsertArtifact(ctx, artifact); err != nil {
		return "", fmt.Errorf("planner: insert artifact: %w", err)
	}

	_, _ = p.bus.Emit(ctx, eventbus.CategoryArtifact, "artifact.created", runID, map[string]string{
		"task_id":     taskID,
		"artifact_id": artifact.ID,
		"kind":        artifact.Kind,
		"uri":         artifact.URIOrContent,
	})

	return artifactPath, nil
}

// trimExcessiveBlankLines trims trailing whitespace, collapses runs of
// blank lines to at most two, and ensures exactly one trailing newline.
func trimExcessiveBlankLines(markdown string) string {
	trimmed := strings.TrimRight(markdown, " \t\r\n")
	lines := strings.Split(trimmed, "\n")

	var out strings.Builder
	blankCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			if blankCount <= 2 {
				out.WriteByte('\n')
			}
			continue
		}
		blankCount = 0
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(line)
	}
	out.WriteByte('\n')
	return out.String()
}
