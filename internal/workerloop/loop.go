// Package workerloop drives one sub-agent to completion for one plan
// step (spec.md §4.5): it assembles a WorkerActionRequest each turn,
// invokes the model, dispatches the returned WorkerDecision, and loops
// until Complete, a budget is exhausted, or an unrecoverable error
// occurs. Phases mirror the teacher's Init → Stream → ExecuteTools →
// Continue → Complete state machine (internal/agent/loop.go).
package workerloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/telemetry"
	"github.com/ifBars/orchestrix/internal/toolgate"
)

// Phase is one state in the per-turn state machine.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseContinue     Phase = "continue"
	PhaseComplete     Phase = "complete"
)

// Action is the kind of step a WorkerDecision requests.
type Action string

const (
	ActionToolCall  Action = "tool_call"
	ActionToolCalls Action = "tool_calls"
	ActionDelegate  Action = "delegate"
	ActionComplete  Action = "complete"
)

// ToolCallRequest is one tool invocation a WorkerDecision may request.
type ToolCallRequest struct {
	Name      string
	Args      json.RawMessage
	Rationale string
}

// WorkerDecision is the model's response to one WorkerActionRequest.
type WorkerDecision struct {
	Action            Action
	ToolCall          *ToolCallRequest
	ToolCalls         []ToolCallRequest
	DelegateObjective string
	CompleteSummary   string
	Reasoning         string
	Raw               json.RawMessage
}

// ToolDescriptor is what the model sees for one tool reachable under the
// sub-agent's contract.
type ToolDescriptor struct {
	Name           string
	Description    string
	InputSchema    json.RawMessage
	Classification domain.ToolClassification
}

// Observation is one past tool outcome folded into the running context.
type Observation struct {
	ToolName string
	Status   string
	Output   string
	Error    string
}

// WorkerActionRequest is assembled fresh each turn.
type WorkerActionRequest struct {
	TaskPrompt      string
	GoalSummary     string
	Observations    []Observation
	ToolDescriptors []ToolDescriptor
	SkillsContext   string
	MaxTokens       int
}

// Model decides the next action given the current turn's context.
type Model interface {
	Decide(ctx context.Context, req *WorkerActionRequest) (*WorkerDecision, error)
}

// ErrStepBudgetExhausted is returned when MaxTurns is reached without a
// Complete action.
var ErrStepBudgetExhausted = errors.New("workerloop: step budget exhausted")

// DelegateFunc spawns and runs a child sub-agent for a Delegate action,
// injected by the orchestrator to avoid a workerloop<->delegation import
// cycle (delegation.Manager.Delegate itself drives a child Loop).
type DelegateFunc func(ctx context.Context, parent *domain.SubAgent, objective string) (*Observation, error)

// Loop drives a single SubAgent through its bounded turn sequence.
type Loop struct {
	store         *store.Store
	bus           *eventbus.Bus
	registry      *toolgate.Registry
	gate          *toolgate.Gate
	model         Model
	delegate      DelegateFunc
	skillsContext string
	metrics       *telemetry.Metrics
}

// New creates a Loop wired to the shared handles every sub-agent worker
// receives (spec.md §4.3's "Shared mutable state → explicit handles").
// skillsContext is the concatenated enabled-skills markdown block
// (spec.md §4.11): it is assembled once at the top of the run and held
// fixed for every turn, never re-queried mid-run. metrics may be nil,
// in which case the loop records nothing.
func New(s *store.Store, bus *eventbus.Bus, registry *toolgate.Registry, gate *toolgate.Gate, model Model, delegate DelegateFunc, skillsContext string, metrics *telemetry.Metrics) *Loop {
	return &Loop{store: s, bus: bus, registry: registry, gate: gate, model: model, delegate: delegate, skillsContext: skillsContext, metrics: metrics}
}

// Run drives sa to completion for taskPrompt/goalSummary, returning the
// terminal SubAgentStatus and the Complete action's summary.
func (l *Loop) Run(ctx context.Context, sa *domain.SubAgent, taskPrompt, goalSummary string, policy *toolgate.Policy) (domain.SubAgentStatus, string, error) {
	maxTurns := sa.Contract.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 25
	}

	var cancel context.CancelFunc
	if sa.Contract.AttemptTimeoutMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sa.Contract.AttemptTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var observations []Observation
	allowed := allowedDescriptors(l.registry, sa.Contract.AllowedTools)

	for turn := 0; turn < maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return domain.SubAgentFailed, "", ctx.Err()
		default:
		}

		req := &WorkerActionRequest{
			TaskPrompt:      taskPrompt,
			GoalSummary:     goalSummary,
			Observations:    observations,
			ToolDescriptors: allowed,
			SkillsContext:   l.skillsContext,
			MaxTokens:       4096,
		}

		decision, err := l.model.Decide(ctx, req)
		if err != nil {
			return domain.SubAgentFailed, "", fmt.Errorf("workerloop: decide: %w", err)
		}

		if decision.Reasoning != "" && l.bus != nil {
			_, _ = l.bus.Emit(ctx, eventbus.CategoryAgent, "agent.plan_message", sa.RunID, map[string]string{
				"sub_agent_id": sa.ID, "reasoning": decision.Reasoning,
			})
		}

		if decision.Action == ActionComplete && todoBlocksCompletion(observations) {
			observations = append(observations, Observation{
				ToolName: "agent.todo", Status: "blocked",
				Error: "pending todo items remain; Complete is not permitted this turn",
			})
			continue
		}

		if l.metrics != nil {
			l.metrics.WorkerDecisions.WithLabelValues(string(decision.Action)).Inc()
		}

		switch decision.Action {
		case ActionComplete:
			if decision.CompleteSummary != "" {
				if err := l.emitArtifact(ctx, sa, decision.CompleteSummary); err != nil {
					return domain.SubAgentFailed, "", err
				}
			}
			return domain.SubAgentCompleted, decision.CompleteSummary, nil

		case ActionDelegate:
			if l.delegate == nil || !sa.Contract.CanSpawnChildren {
				observations = append(observations, Observation{ToolName: "subagent.spawn", Status: "rejected", Error: "delegation not permitted for this sub-agent"})
				continue
			}
			obs, err := l.delegate(ctx, sa, decision.DelegateObjective)
			if err != nil {
				observations = append(observations, Observation{ToolName: "subagent.spawn", Status: "failed", Error: err.Error()})
				continue
			}
			observations = append(observations, *obs)

		case ActionToolCall:
			if decision.ToolCall != nil {
				obs := l.invokeOne(ctx, sa, policy, *decision.ToolCall)
				observations = append(observations, obs)
			}

		case ActionToolCalls:
			observations = append(observations, l.invokeBatch(ctx, sa, policy, decision.ToolCalls)...)

		default:
			return domain.SubAgentFailed, "", fmt.Errorf("workerloop: unknown action %q", decision.Action)
		}
	}

	return domain.SubAgentFailed, "", ErrStepBudgetExhausted
}

// invokeBatch dispatches a parallel batch of tool calls concurrently,
// merging observations back in issue order (spec.md §4.5 step 3).
func (l *Loop) invokeBatch(ctx context.Context, sa *domain.SubAgent, policy *toolgate.Policy, calls []ToolCallRequest) []Observation {
	out := make([]Observation, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCallRequest) {
			defer wg.Done()
			out[i] = l.invokeOne(ctx, sa, policy, call)
		}(i, call)
	}
	wg.Wait()
	return out
}

func (l *Loop) invokeOne(ctx context.Context, sa *domain.SubAgent, policy *toolgate.Policy, call ToolCallRequest) Observation {
	toolCallID := uuid.NewString()
	if err := l.store.InsertToolCall(ctx, &domain.ToolCall{
		ID: toolCallID, RunID: sa.RunID, ToolName: call.Name, Input: call.Args, Status: domain.ToolCallPending,
	}); err != nil {
		return Observation{ToolName: call.Name, Status: "failed", Error: err.Error()}
	}

	started := time.Now()
	res, err := l.gate.Invoke(ctx, policy, sa.RunID, sa.TaskID, sa.ID, toolCallID, call.Name, call.Args)
	outcome := "success"
	if err != nil || (res != nil && res.IsError) {
		outcome = "error"
	}
	if l.metrics != nil {
		l.metrics.ToolCallDuration.WithLabelValues(call.Name, outcome).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return Observation{ToolName: call.Name, Status: "failed", Error: err.Error()}
	}
	if res.IsError {
		return Observation{ToolName: call.Name, Status: "failed", Output: res.Output, Error: res.Output}
	}
	return Observation{ToolName: call.Name, Status: "succeeded", Output: res.Output}
}

func (l *Loop) emitArtifact(ctx context.Context, sa *domain.SubAgent, summary string) error {
	return l.store.InsertArtifact(ctx, &domain.Artifact{
		ID: uuid.NewString(), RunID: sa.RunID, Kind: "completion_summary", URIOrContent: summary, CreatedAt: time.Now(),
	})
}

// todoBlocksCompletion implements the "todo heuristic": the worker may
// not emit Complete if the most recent observation is a successful
// agent.todo call reporting pending or in-progress items.
func todoBlocksCompletion(observations []Observation) bool {
	if len(observations) == 0 {
		return false
	}
	last := observations[len(observations)-1]
	if last.ToolName != "agent.todo" || last.Status != "succeeded" {
		return false
	}
	return containsAny(last.Output, "pending", "in_progress", "in-progress")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func allowedDescriptors(registry *toolgate.Registry, allowedTools []string) []ToolDescriptor {
	allowSet := make(map[string]struct{}, len(allowedTools))
	for _, t := range allowedTools {
		allowSet[t] = struct{}{}
	}
	var out []ToolDescriptor
	for _, t := range registry.List() {
		if len(allowSet) > 0 {
			if _, ok := allowSet[t.Name()]; !ok {
				continue
			}
		}
		out = append(out, ToolDescriptor{Name: t.Name(), InputSchema: t.InputSchema(), Classification: t.Classification()})
	}
	return out
}
