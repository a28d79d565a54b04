package modelresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ifBars/orchestrix/internal/workerloop"
)

// workerSystemPrompt fixes the JSON decision schema the model must
// reply with every turn. workerloop.Loop drives the rest of the state
// machine (spec.md §4.5); this adapter's only job is getting one
// well-formed WorkerDecision out of the model per call.
const workerSystemPrompt = `You are a sub-agent executing one step of a larger plan. Each turn you ` +
	`see the task, the running goal summary, the tools available to you, and the ` +
	`outcomes of your previous tool calls. Decide the single next action and reply ` +
	`with ONLY a JSON object (no markdown fences, no commentary) of this shape:

{
  "action": "tool_call" | "tool_calls" | "delegate" | "complete",
  "reasoning": "short rationale for this turn, optional",
  "tool_call": {"name": "...", "args": { }, "rationale": "..."},
  "tool_calls": [{"name": "...", "args": { }, "rationale": "..."}],
  "delegate_objective": "...",
  "complete_summary": "..."
}

Populate only the fields relevant to the chosen action. Use "tool_call" for a ` +
	`single tool invocation, "tool_calls" to run several independent calls in ` +
	`parallel, "delegate" to spawn a child sub-agent for a sub-objective, and ` +
	`"complete" once the task is genuinely finished.`

type workerAdapter struct {
	provider LLMProvider
	model    string
	logger   *slog.Logger
}

// decisionWire mirrors workerSystemPrompt's JSON schema; it exists
// because workerloop.WorkerDecision's Args field is already
// json.RawMessage and decodes directly, needing no extra conversion.
type decisionWire struct {
	Action            workerloop.Action `json:"action"`
	Reasoning         string            `json:"reasoning"`
	ToolCall          *toolCallWire     `json:"tool_call"`
	ToolCalls         []toolCallWire    `json:"tool_calls"`
	DelegateObjective string            `json:"delegate_objective"`
	CompleteSummary   string            `json:"complete_summary"`
}

type toolCallWire struct {
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Rationale string          `json:"rationale"`
}

func (a *workerAdapter) Decide(ctx context.Context, req *workerloop.WorkerActionRequest) (*workerloop.WorkerDecision, error) {
	chunks, err := a.provider.Complete(ctx, &CompletionRequest{
		Model:     a.model,
		System:    workerSystemPrompt,
		Messages:  []CompletionMessage{{Role: "user", Content: renderTurnPrompt(req)}},
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("modelresolve: worker complete: %w", err)
	}
	text, err := collectText(ctx, chunks)
	if err != nil {
		return nil, err
	}

	var wire decisionWire
	raw := extractJSON(text)
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("modelresolve: parse worker decision: %w: %s", err, text)
	}

	decision := &workerloop.WorkerDecision{
		Action:            wire.Action,
		DelegateObjective: wire.DelegateObjective,
		CompleteSummary:   wire.CompleteSummary,
		Reasoning:         wire.Reasoning,
		Raw:               json.RawMessage(raw),
	}
	if wire.ToolCall != nil {
		decision.ToolCall = &workerloop.ToolCallRequest{Name: wire.ToolCall.Name, Args: wire.ToolCall.Args, Rationale: wire.ToolCall.Rationale}
	}
	for _, tc := range wire.ToolCalls {
		decision.ToolCalls = append(decision.ToolCalls, workerloop.ToolCallRequest{Name: tc.Name, Args: tc.Args, Rationale: tc.Rationale})
	}
	return decision, nil
}

// renderTurnPrompt folds a WorkerActionRequest into the single user
// message the model sees this turn.
func renderTurnPrompt(req *workerloop.WorkerActionRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task:\n%s\n\n", req.TaskPrompt)
	if req.GoalSummary != "" {
		fmt.Fprintf(&b, "Goal summary:\n%s\n\n", req.GoalSummary)
	}
	if req.SkillsContext != "" {
		fmt.Fprintf(&b, "Active skills:\n%s\n\n", req.SkillsContext)
	}

	b.WriteString("Available tools:\n")
	for _, t := range req.ToolDescriptors {
		fmt.Fprintf(&b, "- %s (%s): %s\n  schema: %s\n", t.Name, t.Classification, t.Description, string(t.InputSchema))
	}
	b.WriteString("\n")

	if len(req.Observations) > 0 {
		b.WriteString("Previous tool outcomes this turn sequence:\n")
		for _, o := range req.Observations {
			if o.Error != "" {
				fmt.Fprintf(&b, "- %s: %s (error: %s)\n", o.ToolName, o.Status, o.Error)
			} else {
				fmt.Fprintf(&b, "- %s: %s: %s\n", o.ToolName, o.Status, o.Output)
			}
		}
	}

	return b.String()
}

// extractJSON strips a leading/trailing markdown code fence if the
// model wrapped its JSON reply in one, despite being told not to.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
