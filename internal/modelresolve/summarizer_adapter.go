package modelresolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/ifBars/orchestrix/internal/compaction"
)

const summarizerSystemPrompt = `You are condensing a long agent transcript so it fits a smaller ` +
	`context window. Preserve every decision, file path, and open question; drop ` +
	`only redundant back-and-forth. Respond with the condensed transcript only.`

type summarizerAdapter struct {
	provider LLMProvider
	model    string
}

// GenerateSummary implements compaction.Summarizer.
func (a *summarizerAdapter) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	model := a.model
	if config != nil && config.Model != "" {
		model = config.Model
	}

	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}

	chunks, err := a.provider.Complete(ctx, &CompletionRequest{
		Model:     model,
		System:    summarizerSystemPrompt,
		Messages:  []CompletionMessage{{Role: "user", Content: b.String()}},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", fmt.Errorf("modelresolve: summarizer complete: %w", err)
	}
	return collectText(ctx, chunks)
}
