// Package modelresolve owns Orchestrix's own LLMProvider clients
// (anthropic, openai) and adapts them into the three narrow model
// interfaces the rest of the system consumes: planner.Model,
// workerloop.Model, and compaction.Summarizer. The orchestrator never
// talks to an LLM provider directly (spec.md §4.3's "shared mutable
// state → explicit handles" extends to model access too) — it only
// holds a ModelResolver, and this package is the one concrete
// implementation the CLI wires in.
package modelresolve

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ifBars/orchestrix/internal/compaction"
	"github.com/ifBars/orchestrix/internal/planner"
	"github.com/ifBars/orchestrix/internal/workerloop"
)

// Config carries the credentials and defaults needed to construct a
// provider on first use. A field left blank simply means that
// provider can't be resolved; resolution fails with a clear error
// rather than falling back to some other provider silently.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string

	DefaultProvider string // "anthropic" or "openai"
	DefaultModel    string
}

// Resolver implements orchestrator.ModelResolver by lazily constructing
// and caching one LLMProvider per provider name.
type Resolver struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	providers map[string]LLMProvider
}

// New creates a Resolver. logger may be nil, in which case slog.Default
// is used.
func New(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger.With("component", "modelresolve"), providers: make(map[string]LLMProvider)}
}

func (r *Resolver) resolve(providerName, model string) (LLMProvider, string, error) {
	if providerName == "" {
		providerName = r.cfg.DefaultProvider
	}
	if providerName == "" {
		providerName = "anthropic"
	}
	if model == "" {
		model = r.cfg.DefaultModel
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[providerName]; ok {
		return p, model, nil
	}

	p, err := r.construct(providerName)
	if err != nil {
		return nil, "", err
	}
	r.providers[providerName] = p
	return p, model, nil
}

func (r *Resolver) construct(providerName string) (LLMProvider, error) {
	switch providerName {
	case "anthropic":
		if r.cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("modelresolve: anthropic provider requested but no API key configured")
		}
		return newAnthropicProvider(anthropicConfig{APIKey: r.cfg.AnthropicAPIKey})
	case "openai":
		if r.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("modelresolve: openai provider requested but no API key configured")
		}
		return newOpenAIProvider(r.cfg.OpenAIAPIKey), nil
	default:
		return nil, fmt.Errorf("modelresolve: unknown provider %q", providerName)
	}
}

// PlannerModel implements orchestrator.ModelResolver.
func (r *Resolver) PlannerModel(providerName, model string) (planner.Model, error) {
	p, m, err := r.resolve(providerName, model)
	if err != nil {
		return nil, err
	}
	return &plannerAdapter{provider: p, model: m}, nil
}

// WorkerModel implements orchestrator.ModelResolver.
func (r *Resolver) WorkerModel(providerName, model string) (workerloop.Model, error) {
	p, m, err := r.resolve(providerName, model)
	if err != nil {
		return nil, err
	}
	return &workerAdapter{provider: p, model: m, logger: r.logger}, nil
}

// Summarizer implements orchestrator.ModelResolver.
func (r *Resolver) Summarizer(providerName, model string) (compaction.Summarizer, error) {
	p, m, err := r.resolve(providerName, model)
	if err != nil {
		return nil, err
	}
	return &summarizerAdapter{provider: p, model: m}, nil
}

// collectText drains a CompletionChunk channel into its full text,
// failing fast on the first chunk error.
func collectText(ctx context.Context, chunks <-chan *CompletionChunk) (string, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return string(out), nil
			}
			if chunk.Error != nil {
				return "", chunk.Error
			}
			out = append(out, chunk.Text...)
			if chunk.Done {
				return string(out), nil
			}
		}
	}
}
