package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
)

// DefaultCompactionThreshold is the fraction of a model's context window
// that triggers compaction on the next follow-up message (spec.md §4.9).
const DefaultCompactionThreshold = 0.8

// DefaultPreserveRecent is the number of most-recent transcript messages
// kept verbatim instead of folded into the summary.
const DefaultPreserveRecent = 4

// recentSummaryWindow bounds the idempotence check: a summary generated
// within this window of "now" is reused rather than regenerated, unless
// forceRegenerate is set.
const recentSummaryWindow = 2 * time.Minute

// Engine assembles a task's transcript from the event journal and
// user-message table, decides whether compaction is due, and persists
// the resulting ConversationSummary.
type Engine struct {
	store *store.Store
	bus   *eventbus.Bus
}

// New creates an Engine wired to the shared store/bus handles.
func New(s *store.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: s, bus: bus}
}

// FollowUpPrompt is what ContinueTaskWithMessage hands to the build
// worker: either the full transcript concatenated, or (once compaction
// has fired) summary + verbatim recent tail + the new request.
type FollowUpPrompt struct {
	Text       string
	Compacted  bool
	SummaryID  string
	RecentTail []*Message
}

// AssembleTranscript reads every user message and agent.plan_message
// event for a task, in chronological order, tagged with role.
func (e *Engine) AssembleTranscript(ctx context.Context, taskID string) ([]*Message, error) {
	userMsgs, err := e.store.ListUserMessages(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("compaction: list user messages: %w", err)
	}
	events, err := e.store.ListEventsForTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("compaction: list events: %w", err)
	}

	transcript := make([]*Message, 0, len(userMsgs)+len(events))
	for _, m := range userMsgs {
		transcript = append(transcript, &Message{
			Role:      "user",
			Content:   m.Content,
			Timestamp: m.CreatedAt.Unix(),
			ID:        m.ID,
		})
	}
	for _, ev := range events {
		if ev.Category != eventbus.CategoryAgent || ev.Type != "agent.plan_message" {
			continue
		}
		var payload struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		content := payload.Content
		if content == "" {
			content = payload.Reasoning
		}
		if content == "" {
			continue
		}
		transcript = append(transcript, &Message{
			Role:      "assistant",
			Content:   content,
			Timestamp: ev.CreatedAt.Unix(),
			ID:        ev.ID,
		})
	}

	sortByTimestamp(transcript)
	return transcript, nil
}

// sortByTimestamp is a small stable insertion sort: transcripts are
// short enough (bounded by a single task's history) that this avoids
// importing sort for one call site.
func sortByTimestamp(msgs []*Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Timestamp < msgs[j-1].Timestamp; j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// ThresholdFor returns the token count above which compaction triggers
// for a model with the given context window.
func ThresholdFor(contextWindow int) int {
	window := ResolveContextWindowTokens(contextWindow, DefaultContextWindow)
	return int(float64(window) * DefaultCompactionThreshold)
}

// BuildFollowUpPrompt assembles the prompt for a follow-up message,
// compacting the transcript first if it is due. It is idempotent: a
// summary generated within recentSummaryWindow is reused unless
// forceRegenerate is set (spec.md §4.9's idempotence clause).
func (e *Engine) BuildFollowUpPrompt(ctx context.Context, taskID, runID string, contextWindow int, currentRequest string, summarizer Summarizer, forceRegenerate bool) (*FollowUpPrompt, error) {
	transcript, err := e.AssembleTranscript(ctx, taskID)
	if err != nil {
		return nil, err
	}

	estimated := EstimateMessagesTokens(transcript)
	threshold := ThresholdFor(contextWindow)

	if estimated <= threshold || len(transcript) == 0 {
		return &FollowUpPrompt{Text: FormatMessagesForSummary(transcript) + currentRequest}, nil
	}

	summary, err := e.maybeReuseSummary(ctx, taskID, forceRegenerate)
	if err != nil {
		return nil, err
	}

	preserveRecent := DefaultPreserveRecent
	if preserveRecent > len(transcript) {
		preserveRecent = len(transcript)
	}
	splitAt := len(transcript) - preserveRecent
	recentTail := transcript[splitAt:]

	if summary == nil {
		summary, err = e.compact(ctx, taskID, runID, transcript[:splitAt], summarizer)
		if err != nil {
			return nil, err
		}
	}

	text := fmt.Sprintf("%s\n\n%s%s", summary.Text, FormatMessagesForSummary(recentTail), currentRequest)
	return &FollowUpPrompt{Text: text, Compacted: true, SummaryID: summary.ID, RecentTail: recentTail}, nil
}

// maybeReuseSummary returns the task's most recent summary if it was
// generated within recentSummaryWindow and forceRegenerate is false.
func (e *Engine) maybeReuseSummary(ctx context.Context, taskID string, forceRegenerate bool) (*domain.ConversationSummary, error) {
	if forceRegenerate {
		return nil, nil
	}
	existing, err := e.store.GetLatestConversationSummary(ctx, taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if time.Since(existing.CreatedAt) > recentSummaryWindow {
		return nil, nil
	}
	return existing, nil
}

// compact summarises olderMessages, persists the result, and emits the
// compaction_started/compaction_completed event pair.
func (e *Engine) compact(ctx context.Context, taskID, runID string, olderMessages []*Message, summarizer Summarizer) (*domain.ConversationSummary, error) {
	_, _ = e.bus.Emit(ctx, eventbus.CategoryAgent, "agent.compaction_started", runID, map[string]any{
		"task_id": taskID, "message_count": len(olderMessages),
	})

	config := DefaultSummarizationConfig()
	if prior, err := e.store.GetLatestConversationSummary(ctx, taskID); err == nil {
		config.PreviousSummary = prior.Text
	}

	text, err := SummarizeInStages(ctx, olderMessages, summarizer, config)
	if err != nil {
		return nil, fmt.Errorf("compaction: summarize: %w", err)
	}

	summary := &domain.ConversationSummary{
		ID:            uuid.NewString(),
		TaskID:        taskID,
		RunID:         runID,
		Text:          text,
		MessageCount:  len(olderMessages),
		TokenEstimate: EstimateMessagesTokens(olderMessages),
		CreatedAt:     time.Now(),
	}
	if err := e.store.InsertConversationSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("compaction: insert summary: %w", err)
	}

	_, _ = e.bus.Emit(ctx, eventbus.CategoryAgent, "agent.compaction_completed", runID, map[string]any{
		"task_id": taskID, "summary_id": summary.ID, "message_count": summary.MessageCount,
	})

	return summary, nil
}
