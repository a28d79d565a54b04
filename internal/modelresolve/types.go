package modelresolve

import "context"

// LLMProvider is the narrow streaming-completion shape modelresolve
// needs from a model backend. It used to be internal/agent.LLMProvider;
// the planner/worker/summarizer adapters only ever drive it with plain
// text turns, so the shape re-declared here drops the tool-calling,
// attachment, and extended-thinking fields that package carried for
// the chat product's agent loop.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest is a single turn sent to a provider: a system
// prompt, the conversation so far, and a token budget.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	MaxTokens int
}

// CompletionMessage is one turn of conversation history. Role is
// "user" or "assistant"; modelresolve never sends or parses native
// tool_use blocks, since the worker loop's tool decisions travel as
// plain JSON text (see workerSystemPrompt).
type CompletionMessage struct {
	Role    string
	Content string
}

// CompletionChunk is one piece of a streamed completion.
type CompletionChunk struct {
	Text string
	Done bool
	// Error terminates the stream; the chunk carrying it is always last.
	Error error

	InputTokens  int
	OutputTokens int
}

// Model describes an available backend model.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}
