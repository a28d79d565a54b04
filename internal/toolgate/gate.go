package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
)

// ErrRequestNotFound is returned by Resolve for an unknown or already
// resolved approval id.
var ErrRequestNotFound = errors.New("toolgate: approval request not found or already resolved")

// pendingApproval is the one-shot completion signal spec.md §4.7 and
// §10 describe: "each approval request maps to a one-shot completion
// signal held in a shared map; no spin-waiting."
type pendingApproval struct {
	req      *domain.ApprovalRequest
	resultCh chan bool
}

// Gate is the chokepoint every mutating or delegation tool call passes
// through. It evaluates policy, and for calls that require a human
// decision it persists an ApprovalRequest, emits tool.approval_required,
// and suspends the caller on resultCh until Resolve (or cancellation)
// wakes it.
type Gate struct {
	registry *Registry
	store    *store.Store
	bus      *eventbus.Bus

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// New creates a Gate wired to the registry, store, and bus a run uses.
func New(registry *Registry, s *store.Store, bus *eventbus.Bus) *Gate {
	return &Gate{
		registry: registry,
		store:    s,
		bus:      bus,
		pending:  make(map[string]*pendingApproval),
	}
}

// Invoke dispatches toolName, routing through the approval gate first if
// policy requires it. It records a ToolCall row through every status
// transition (spec.md §4's "record a ToolCall row in every state
// transition").
func (g *Gate) Invoke(ctx context.Context, policy *Policy, runID, taskID, subAgentID, toolCallID, toolName string, input json.RawMessage) (*Result, error) {
	t, ok := g.registry.Get(toolName)
	if !ok {
		return &Result{Output: "tool not found: " + toolName, IsError: true}, nil
	}

	decision, reason := Evaluate(policy, toolName, t.Classification())

	switch decision {
	case DecisionDeny:
		now := time.Now()
		_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallRejected, nil, &now, reason)
		return &Result{Output: "denied: " + reason, IsError: true}, nil

	case DecisionRequiresApproval:
		approved, err := g.requestApproval(ctx, runID, taskID, subAgentID, toolCallID, toolName, input)
		if err != nil {
			return nil, err
		}
		if !approved {
			now := time.Now()
			_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallRejected, nil, &now, "denied by approval gate")
			return &Result{Output: "rejected by approval gate", IsError: true}, nil
		}
	}

	_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallRunning, nil, nil, "")
	if g.bus != nil {
		_, _ = g.bus.Emit(ctx, eventbus.CategoryTool, "tool.call_started", runID, map[string]string{"tool_call_id": toolCallID, "tool_name": toolName})
	}

	res, err := g.registry.dispatch(ctx, toolName, input)
	if err != nil {
		now := time.Now()
		_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallFailed, nil, &now, err.Error())
		if g.bus != nil {
			_, _ = g.bus.Emit(ctx, eventbus.CategoryTool, "tool.call_failed", runID, map[string]string{"tool_call_id": toolCallID, "error": err.Error()})
		}
		return nil, err
	}

	if res.IsError {
		now := time.Now()
		_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallFailed, []byte(res.Output), &now, res.Output)
		if g.bus != nil {
			_, _ = g.bus.Emit(ctx, eventbus.CategoryTool, "tool.call_failed", runID, map[string]string{"tool_call_id": toolCallID, "error": res.Output})
		}
		return res, nil
	}

	now := time.Now()
	_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallSucceeded, []byte(res.Output), &now, "")
	if g.bus != nil {
		_, _ = g.bus.Emit(ctx, eventbus.CategoryTool, "tool.call_succeeded", runID, map[string]string{"tool_call_id": toolCallID})
	}
	return res, nil
}

// requestApproval persists an ApprovalRequest, emits tool.approval_required,
// and blocks until Resolve is called or ctx is cancelled. Two concurrent
// calls for the same tool in one batch each get their own request rather
// than being deduplicated (spec.md §9 Open Question #2's conservative
// choice).
func (g *Gate) requestApproval(ctx context.Context, runID, taskID, subAgentID, toolCallID, toolName string, input json.RawMessage) (bool, error) {
	req := &domain.ApprovalRequest{
		ID:         uuid.NewString(),
		RunID:      runID,
		TaskID:     taskID,
		SubAgentID: subAgentID,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      input,
		CreatedAt:  time.Now(),
	}
	if err := g.store.InsertApprovalRequest(ctx, req); err != nil {
		return false, err
	}
	_ = g.store.UpdateToolCallStatus(ctx, toolCallID, domain.ToolCallAwaitingApproval, nil, nil, "")

	resultCh := make(chan bool, 1)
	g.mu.Lock()
	g.pending[req.ID] = &pendingApproval{req: req, resultCh: resultCh}
	g.mu.Unlock()

	if g.bus != nil {
		_, _ = g.bus.Emit(ctx, eventbus.CategoryTool, "tool.approval_required", runID, map[string]string{
			"approval_id": req.ID, "tool_call_id": toolCallID, "tool_name": toolName,
		})
	}

	// Approval waits block indefinitely by default (spec.md §4 "Timeouts");
	// only explicit resolution or cancellation wakes this select.
	select {
	case approved := <-resultCh:
		return approved, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
		_ = g.store.ResolveApprovalRequest(context.Background(), req.ID, false, time.Now())
		return false, ctx.Err()
	}
}

// Resolve wakes the worker suspended on approvalID with the user's
// decision, persists the resolution, and emits tool.approval_user_decision.
func (g *Gate) Resolve(ctx context.Context, approvalID string, approve bool) error {
	g.mu.Lock()
	p, ok := g.pending[approvalID]
	if !ok {
		g.mu.Unlock()
		return ErrRequestNotFound
	}
	delete(g.pending, approvalID)
	g.mu.Unlock()

	if err := g.store.ResolveApprovalRequest(ctx, approvalID, approve, time.Now()); err != nil {
		return err
	}

	if g.bus != nil {
		_, _ = g.bus.Emit(ctx, eventbus.CategoryTool, "tool.approval_user_decision", p.req.RunID, map[string]any{
			"approval_id": approvalID, "approved": approve,
		})
	}

	select {
	case p.resultCh <- approve:
	default:
	}
	return nil
}

// CancelAll auto-denies every pending approval, used by cancel_task
// (spec.md Testable Property #9, "pending approvals on cancelled tasks
// are auto-denied").
func (g *Gate) CancelAll(ctx context.Context, taskID string) {
	g.mu.Lock()
	var toCancel []string
	for id, p := range g.pending {
		if p.req.TaskID == taskID {
			toCancel = append(toCancel, id)
		}
	}
	g.mu.Unlock()

	for _, id := range toCancel {
		_ = g.Resolve(ctx, id, false)
	}
}

// ListPending returns a snapshot of every suspended approval request,
// scoped to a task if taskID is non-empty.
func (g *Gate) ListPending(taskID string) []*domain.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*domain.ApprovalRequest, 0, len(g.pending))
	for _, p := range g.pending {
		if taskID != "" && p.req.TaskID != taskID {
			continue
		}
		reqCopy := *p.req
		out = append(out, &reqCopy)
	}
	return out
}
