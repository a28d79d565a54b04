package modelresolve

import (
	"context"
	"fmt"
)

// plannerSystemPrompt instructs the model to produce the markdown plan
// artifact planner.GeneratePlanArtifact persists verbatim (spec.md
// §4.4).
const plannerSystemPrompt = `You are Orchestrix's planning agent. Given a task prompt and the ` +
	`surrounding workspace context, produce a complete implementation plan as ` +
	`Markdown: a short summary, then an ordered list of concrete steps. Write ` +
	`only the plan; do not include commentary about the plan itself.`

type plannerAdapter struct {
	provider LLMProvider
	model    string
}

func (a *plannerAdapter) ModelID() string { return a.model }

func (a *plannerAdapter) GeneratePlanMarkdown(ctx context.Context, prompt, planContext string) (string, error) {
	userContent := prompt
	if planContext != "" {
		userContent = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", planContext, prompt)
	}

	chunks, err := a.provider.Complete(ctx, &CompletionRequest{
		Model:     a.model,
		System:    plannerSystemPrompt,
		Messages:  []CompletionMessage{{Role: "user", Content: userContent}},
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("modelresolve: planner complete: %w", err)
	}
	return collectText(ctx, chunks)
}
