package modelresolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events a
// stream may emit before modelresolve gives up on it as malformed.
const maxEmptyStreamEvents = 50

// anthropicProvider implements LLMProvider against Anthropic's Claude
// API. It is a trimmed-down descendant of the teacher's
// internal/agent/providers.AnthropicProvider: same SDK, same
// streaming loop, but with tool-use, beta computer-use, and extended
// thinking stripped out, since modelresolve's adapters never populate
// those fields.
type anthropicProvider struct {
	client anthropic.Client

	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// anthropicConfig carries the credentials and defaults an
// anthropicProvider needs at construction time.
type anthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

func newAnthropicProvider(cfg anthropicConfig) (*anthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("modelresolve: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) SupportsTools() bool { return false }

func (p *anthropicProvider) Models() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *anthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	messages := convertAnthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)

		var stream *anthropicStream
		var lastErr error
		for attempt := 0; attempt < p.maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					chunks <- &CompletionChunk{Error: ctx.Err(), Done: true}
					return
				case <-time.After(p.retryDelay * time.Duration(attempt)):
				}
			}
			stream = &anthropicStream{inner: p.client.Messages.NewStreaming(ctx, params)}
			lastErr = nil
			break
		}
		if lastErr != nil {
			chunks <- &CompletionChunk{Error: fmt.Errorf("modelresolve: anthropic stream: %w", lastErr), Done: true}
			return
		}
		p.processStream(stream, chunks)
	}()
	return chunks, nil
}

// anthropicStream narrows the SDK's ssestream.Stream to the handful
// of methods processStream drives, so that type stays out of this
// file's exported surface.
type anthropicStream struct {
	inner interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
	}
}

func (p *anthropicProvider) processStream(stream *anthropicStream, chunks chan<- *CompletionChunk) {
	var inputTokens, outputTokens int
	emptyEvents := 0

	for stream.inner.Next() {
		event := stream.inner.Current()
		processed := false

		switch event.Type {
		case "message_start":
			if ms := event.AsMessageStart(); ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
			processed = true
		case "content_block_delta":
			if delta := event.AsContentBlockDelta().Delta; delta.Type == "text_delta" && delta.Text != "" {
				chunks <- &CompletionChunk{Text: delta.Text}
				processed = true
			}
		case "message_delta":
			if md := event.AsMessageDelta(); md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			processed = true
		case "message_stop":
			chunks <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return
		case "error":
			chunks <- &CompletionChunk{Error: errors.New("modelresolve: anthropic stream error"), Done: true}
			return
		}

		if processed {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			chunks <- &CompletionChunk{Error: fmt.Errorf("modelresolve: anthropic stream appears malformed after %d empty events", emptyEvents), Done: true}
			return
		}
	}

	if err := stream.inner.Err(); err != nil {
		chunks <- &CompletionChunk{Error: fmt.Errorf("modelresolve: anthropic stream: %w", err), Done: true}
	}
}

func (p *anthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *anthropicProvider) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return 4096
}

func convertAnthropicMessages(messages []CompletionMessage) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" || msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}
