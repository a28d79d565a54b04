// Package delegation spawns and executes a child SubAgent on behalf of
// a worker's Delegate action (spec.md §4.6), bridging the worker loop
// to the orchestrator's store/bus/worktree handles without introducing
// a workerloop<->delegation import cycle: the orchestrator wires
// Manager.Delegate in as a workerloop.DelegateFunc at construction time.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/toolgate"
	"github.com/ifBars/orchestrix/internal/worktree"
)

// defaultAttemptTimeoutMs matches the teacher-adjacent original's
// SUB_AGENT_ATTEMPT_TIMEOUT_SECS constant for delegated children.
const defaultAttemptTimeoutMs = 300_000

var (
	ErrObjectiveRequired   = errors.New("delegation: objective is required")
	ErrDelegationDisabled  = errors.New("delegation: delegation disabled by contract")
	ErrMaxDepthReached     = errors.New("delegation: max delegation depth reached")
	ErrConcurrencyExceeded = errors.New("delegation: max concurrent delegated sub-agents reached")
)

// Result mirrors the original's SubAgentExecutionResult: what the
// parent worker needs to fold back into its own observation list.
type Result struct {
	Success      bool
	SubAgentID   string
	Summary      string
	Error        string
	MergeMessage string
}

// Executor runs a child SubAgent's worker loop to completion. The
// orchestrator implements this by adapting workerloop.Loop.Run.
type Executor interface {
	Execute(ctx context.Context, child *domain.SubAgent, objective, taskPrompt, goalSummary string, policy *toolgate.Policy) (domain.SubAgentStatus, string, error)
}

// Manager bounds concurrent delegated sub-agents and drives the
// spawn -> execute -> merge -> close -> cleanup lifecycle.
type Manager struct {
	store     *store.Store
	bus       *eventbus.Bus
	worktrees *worktree.Manager
	executor  atomic.Value // Executor

	maxActive   int64
	activeCount int64
}

// New creates a Manager. maxActive <= 0 defaults to 5, matching the
// teacher's subagent.Manager default. executor may be nil and set later
// via SetExecutor once a concrete worker model is resolved for a run.
func New(s *store.Store, bus *eventbus.Bus, worktrees *worktree.Manager, executor Executor, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	m := &Manager{store: s, bus: bus, worktrees: worktrees, maxActive: int64(maxActive)}
	if executor != nil {
		m.executor.Store(executor)
	}
	return m
}

// SetExecutor swaps the Executor used for subsequent Delegate calls.
// The orchestrator calls this once per run, after resolving the run's
// worker model, since the model is not known at Manager construction.
func (m *Manager) SetExecutor(executor Executor) {
	m.executor.Store(executor)
}

// Delegate spawns a child SubAgent restricted to parent's allowed tools
// minus subagent.spawn, executes it, merges its worktree back onto the
// parent's base ref, and unconditionally closes and cleans it up
// regardless of merge outcome.
func (m *Manager) Delegate(ctx context.Context, parent *domain.SubAgent, objective string) (*Result, error) {
	if objective == "" {
		return &Result{Error: ErrObjectiveRequired.Error()}, ErrObjectiveRequired
	}
	if !parent.Contract.CanSpawnChildren {
		return &Result{Error: ErrDelegationDisabled.Error()}, ErrDelegationDisabled
	}
	if parent.DelegationDep >= parent.Contract.MaxDelegationDepth {
		return &Result{Error: ErrMaxDepthReached.Error()}, ErrMaxDepthReached
	}

	if atomic.AddInt64(&m.activeCount, 1) > m.maxActive {
		atomic.AddInt64(&m.activeCount, -1)
		return &Result{Error: ErrConcurrencyExceeded.Error()}, ErrConcurrencyExceeded
	}
	defer atomic.AddInt64(&m.activeCount, -1)

	allowedTools := restrictTools(parent.Contract.AllowedTools)

	child := &domain.SubAgent{
		ID:       uuid.NewString(),
		RunID:    parent.RunID,
		TaskID:   parent.TaskID,
		ParentID: parent.ID,
		StepIdx:  parent.StepIdx,
		Name:     fmt.Sprintf("delegate-%s", uuid.NewString()[:8]),
		Status:   domain.SubAgentCreated,
		Contract: domain.Contract{
			AllowedTools:       allowedTools,
			CanSpawnChildren:   false,
			MaxDelegationDepth: 0,
			AttemptTimeoutMs:   defaultAttemptTimeoutMs,
			CloseOnCompletion:  true,
		},
		DelegationDep: parent.DelegationDep + 1,
	}

	if err := m.store.InsertSubAgent(ctx, child); err != nil {
		return &Result{Error: fmt.Sprintf("failed to insert sub-agent: %v", err)}, err
	}

	_, _ = m.bus.Emit(ctx, eventbus.CategoryAgent, "agent.subagent_created", parent.RunID, map[string]any{
		"sub_agent_id": child.ID,
		"parent_id":    parent.ID,
		"step_idx":     child.StepIdx,
		"name":         child.Name,
		"objective":    objective,
	})

	info, err := m.worktrees.Allocate(ctx, parent.RunID, child.ID, "HEAD", domain.StrategyBranch)
	if err != nil {
		finishedAt := time.Now()
		errMsg := fmt.Sprintf("failed to allocate worktree: %v", err)
		_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentFailed, nil, &finishedAt, errMsg)
		return &Result{SubAgentID: child.ID, Error: errMsg}, err
	}
	_ = m.store.UpdateSubAgentWorktreePath(ctx, child.ID, info.Path)
	child.WorktreePath = info.Path

	now := time.Now()
	_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentRunning, &now, nil, "")

	executor, _ := m.executor.Load().(Executor)
	if executor == nil {
		finishedAt := time.Now()
		errMsg := "no executor configured for delegated execution"
		_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentFailed, nil, &finishedAt, errMsg)
		return &Result{SubAgentID: child.ID, Error: errMsg}, errors.New(errMsg)
	}
	status, summary, execErr := executor.Execute(ctx, child, objective, objective, objective, toolgate.DefaultPolicy())

	result := &Result{SubAgentID: child.ID, Summary: summary, Success: status == domain.SubAgentCompleted}
	if execErr != nil {
		result.Error = execErr.Error()
	}

	if result.Success {
		m.mergeAndFinalize(ctx, parent, child, result)
	} else {
		finishedAt := time.Now()
		_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentFailed, nil, &finishedAt, result.Error)
		_, _ = m.bus.Emit(ctx, eventbus.CategoryAgent, "agent.subagent_failed", parent.RunID, map[string]any{
			"sub_agent_id": child.ID, "step_idx": child.StepIdx, "error": result.Error,
		})
	}

	m.closeAndCleanup(ctx, parent, child, result)

	if !result.Success && execErr == nil {
		execErr = errors.New(result.Error)
	}
	return result, execErr
}

func (m *Manager) mergeAndFinalize(ctx context.Context, parent, child *domain.SubAgent, result *Result) {
	outcome, err := m.worktrees.MergeWorktree(ctx, child.ID, "HEAD")
	now := time.Now()
	if err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("merge error: %v", err)
		result.MergeMessage = result.Error
		_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentFailed, nil, &now, result.Error)
		_, _ = m.bus.Emit(ctx, eventbus.CategoryAgent, "agent.subagent_failed", parent.RunID, map[string]any{
			"sub_agent_id": child.ID, "step_idx": child.StepIdx, "error": result.Error,
		})
		return
	}

	_, _ = m.bus.Emit(ctx, eventbus.CategoryAgent, "agent.worktree_merged", parent.RunID, map[string]any{
		"sub_agent_id":     child.ID,
		"step_idx":         child.StepIdx,
		"merge_success":    outcome.Success,
		"merge_strategy":   outcome.Strategy,
		"merge_message":    outcome.Message,
		"conflicted_files": outcome.ConflictedFiles,
	})
	result.MergeMessage = outcome.Message

	if outcome.Success {
		_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentCompleted, nil, &now, "")
		return
	}

	result.Success = false
	result.Error = fmt.Sprintf("merge failed: %s", outcome.Message)
	_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentFailed, nil, &now, outcome.Message)
	_, _ = m.bus.Emit(ctx, eventbus.CategoryAgent, "agent.subagent_failed", parent.RunID, map[string]any{
		"sub_agent_id": child.ID, "step_idx": child.StepIdx, "error": result.Error,
	})
}

func (m *Manager) closeAndCleanup(ctx context.Context, parent, child *domain.SubAgent, result *Result) {
	finalStatus := "completed"
	closeReason := "merged_and_integrated"
	if !result.Success {
		finalStatus = "failed"
		closeReason = "spawn_or_merge_failed"
	}

	now := time.Now()
	errMsg := result.Error
	_ = m.store.UpdateSubAgentStatus(ctx, child.ID, domain.SubAgentClosed, nil, &now, errMsg)
	_, _ = m.bus.Emit(ctx, eventbus.CategoryAgent, "agent.subagent_closed", parent.RunID, map[string]any{
		"sub_agent_id": child.ID, "step_idx": child.StepIdx,
		"final_status": finalStatus, "close_reason": closeReason,
	})

	_ = m.worktrees.RemoveWorktree(ctx, child.ID)
}

// restrictTools drops subagent.spawn so a delegated child cannot itself
// delegate, enforced defensively even though MaxDelegationDepth=0 and
// CanSpawnChildren=false already forbid it.
func restrictTools(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, name := range allowed {
		if name == "subagent.spawn" {
			continue
		}
		out = append(out, name)
	}
	return out
}

// ActiveCount reports the number of delegated sub-agents currently executing.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeCount))
}
