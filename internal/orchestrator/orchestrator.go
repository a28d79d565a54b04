// Package orchestrator implements the top-level task/run scheduler
// (spec.md §4.3): it owns the store, event bus, tool registry, worktree
// manager, and approval gate, and exposes the public contract the CLI
// (or any future shell) binds to.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ifBars/orchestrix/internal/compaction"
	"github.com/ifBars/orchestrix/internal/delegation"
	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/planner"
	"github.com/ifBars/orchestrix/internal/presets"
	"github.com/ifBars/orchestrix/internal/skills"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/telemetry"
	"github.com/ifBars/orchestrix/internal/toolgate"
	"github.com/ifBars/orchestrix/internal/workerloop"
	"github.com/ifBars/orchestrix/internal/worktree"
)

// defaultContextWindowTokens is used to size the compaction threshold
// when a ModelResolver cannot report a model's real context window.
const defaultContextWindowTokens = 100_000

var (
	ErrTaskNotPending       = errors.New("orchestrator: task is not pending")
	ErrRunNotAwaitingReview = errors.New("orchestrator: run is not awaiting review")
	ErrTaskTerminal         = errors.New("orchestrator: task has already reached a terminal state")
)

// ModelResolver resolves the provider/model pair named by a task
// command into concrete planner and worker-loop model adapters. The CLI
// layer supplies the real implementation; tests supply fakes.
type ModelResolver interface {
	PlannerModel(provider, model string) (planner.Model, error)
	WorkerModel(provider, model string) (workerloop.Model, error)

	// Summarizer resolves the model used to compact a task's transcript
	// once it crosses the context-window threshold (spec.md §4.9).
	Summarizer(provider, model string) (compaction.Summarizer, error)
}

// Orchestrator is the top-level scheduler described in spec.md §4.3.
type Orchestrator struct {
	store     *store.Store
	bus       *eventbus.Bus
	registry  *toolgate.Registry
	gate      *toolgate.Gate
	worktrees *worktree.Manager
	planner   *planner.Planner
	delegate  *delegation.Manager
	compact   *compaction.Engine
	skills    *skills.Manager
	presets   *presets.Manager
	models    ModelResolver
	policy    *toolgate.Policy

	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	workspaceRoot atomic.Value // string

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc // taskID -> active run cancel funcs
}

// New wires an Orchestrator from its component handles. workspaceRoot is
// the initial project root; SetWorkspaceRoot changes it for future runs.
// skillsMgr/presetsMgr may be nil, in which case a run carries no skills
// context and no @preset-id mention is ever resolved. metrics/tracer may
// be nil, in which case the orchestrator records nothing.
func New(s *store.Store, bus *eventbus.Bus, registry *toolgate.Registry, gate *toolgate.Gate, worktrees *worktree.Manager, pl *planner.Planner, delegate *delegation.Manager, compact *compaction.Engine, skillsMgr *skills.Manager, presetsMgr *presets.Manager, models ModelResolver, workspaceRoot string, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Orchestrator {
	o := &Orchestrator{
		store: s, bus: bus, registry: registry, gate: gate, worktrees: worktrees,
		planner: pl, delegate: delegate, compact: compact, skills: skillsMgr, presets: presetsMgr,
		models: models, policy: toolgate.DefaultPolicy(),
		metrics: metrics, tracer: tracer,
		cancels: make(map[string][]context.CancelFunc),
	}
	o.workspaceRoot.Store(workspaceRoot)
	return o
}

// activeSkillsContext assembles the enabled-skills markdown block for a
// run: the whole discovered+custom catalog, since Orchestrix has no
// per-task skill-selection state yet (spec.md §4.11 leaves "enabled
// subset" to the caller; absent one, every available skill is active).
func (o *Orchestrator) activeSkillsContext() string {
	if o.skills == nil {
		return ""
	}
	all := o.skills.ListAvailable()
	keys := make([]string, len(all))
	for i, e := range all {
		keys[i] = e.Key
	}
	return o.skills.ActiveContext(keys)
}

// resolvePreset extracts a leading "@preset-id" mention from prompt
// (spec.md §4.11). If found, it returns the mention-stripped prompt
// prefixed with the preset's rendered context, and the preset's
// provider/model as override candidates; callers only apply the
// override when the caller didn't already pick a provider/model
// explicitly.
func (o *Orchestrator) resolvePreset(prompt, provider, model string) (effectivePrompt, effectiveProvider, effectiveModel string) {
	effectivePrompt, effectiveProvider, effectiveModel = prompt, provider, model
	if o.presets == nil {
		return
	}
	preset, rest, ok := o.presets.ResolveMention(prompt)
	if !ok {
		return
	}
	presetContext, err := o.presets.GetContext(preset.ID)
	if err == nil && presetContext != "" {
		effectivePrompt = presetContext + "\n\n" + rest
	} else {
		effectivePrompt = rest
	}
	if effectiveProvider == "" && preset.Provider != "" {
		effectiveProvider = preset.Provider
	}
	if effectiveModel == "" && preset.Model != "" {
		effectiveModel = preset.Model
	}
	return
}

// SetWorkspaceRoot changes the project root used by runs started after
// this call; in-flight runs keep the root they started with.
func (o *Orchestrator) SetWorkspaceRoot(path string) {
	o.workspaceRoot.Store(path)
}

func (o *Orchestrator) WorkspaceRoot() string {
	return o.workspaceRoot.Load().(string)
}

// CreateTask inserts a new Task in the pending state.
func (o *Orchestrator) CreateTask(ctx context.Context, prompt, parentTaskID string) (*domain.Task, error) {
	now := time.Now()
	task := &domain.Task{
		ID: uuid.NewString(), Prompt: prompt, ParentTaskID: parentTaskID,
		Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := o.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("orchestrator: create task: %w", err)
	}
	return task, nil
}

// StartTask transitions a pending Task into planning and runs the
// planner in the background, returning the new Run immediately.
func (o *Orchestrator) StartTask(ctx context.Context, taskID, provider, model string) (*domain.Run, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskPending {
		return nil, ErrTaskNotPending
	}

	effectivePrompt, provider, model := o.resolvePreset(task.Prompt, provider, model)
	task.Prompt = effectivePrompt

	plannerModel, err := o.models.PlannerModel(provider, model)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &domain.Run{ID: uuid.NewString(), TaskID: taskID, Status: domain.RunPlanning, StartedAt: now}
	if err := o.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: insert run: %w", err)
	}
	if err := o.store.UpdateTaskStatus(ctx, taskID, domain.TaskPlanning, now); err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.TasksStarted.WithLabelValues("planning").Inc()
	}

	runCtx := o.registerRun(taskID)
	go o.runPlanningTurn(runCtx, task, run, plannerModel, "")

	return run, nil
}

// ApprovePlan transitions an awaiting_review Run into executing and
// spawns the build worker in the background.
func (o *Orchestrator) ApprovePlan(ctx context.Context, taskID, provider, model string) (*domain.Run, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	run, err := o.store.GetLatestRun(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunAwaitingReview {
		return nil, ErrRunNotAwaitingReview
	}

	effectivePrompt, provider, model := o.resolvePreset(task.Prompt, provider, model)

	workerModel, err := o.models.WorkerModel(provider, model)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := o.store.UpdateRunStatus(ctx, run.ID, domain.RunExecuting, nil, ""); err != nil {
		return nil, err
	}
	if err := o.store.UpdateTaskStatus(ctx, taskID, domain.TaskExecuting, now); err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.TasksStarted.WithLabelValues("executing").Inc()
	}

	runCtx := o.registerRun(taskID)
	go o.runBuildWorker(runCtx, task, run, workerModel, effectivePrompt)

	return run, nil
}

// ContinueTaskWithMessage opens a new Run in executing with the
// continuation prompt injected as conversation context, without
// re-running the planner.
func (o *Orchestrator) ContinueTaskWithMessage(ctx context.Context, taskID, continuationPrompt, provider, model string) (*domain.Run, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	// Completed/failed tasks may still be continued with a follow-up
	// message (that's the point of this operation); only a task the
	// user explicitly cancelled is closed to further continuation.
	if task.Status == domain.TaskCancelled {
		return nil, ErrTaskTerminal
	}

	effectivePrompt, provider, model := o.resolvePreset(continuationPrompt, provider, model)

	workerModel, err := o.models.WorkerModel(provider, model)
	if err != nil {
		return nil, err
	}
	summarizer, err := o.models.Summarizer(provider, model)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &domain.Run{ID: uuid.NewString(), TaskID: taskID, Status: domain.RunExecuting, StartedAt: now}
	if err := o.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: insert run: %w", err)
	}

	// Build the follow-up prompt against the transcript as it stood
	// before this message, so the new message is never counted twice.
	prompt, err := o.compact.BuildFollowUpPrompt(ctx, taskID, run.ID, defaultContextWindowTokens, effectivePrompt, summarizer, false)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build follow-up prompt: %w", err)
	}

	if err := o.store.InsertUserMessage(ctx, &domain.UserMessage{
		ID: uuid.NewString(), TaskID: taskID, RunID: run.ID, Content: continuationPrompt, CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := o.store.UpdateTaskStatus(ctx, taskID, domain.TaskExecuting, now); err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.TasksStarted.WithLabelValues("executing").Inc()
	}

	runCtx := o.registerRun(taskID)
	go o.runBuildWorker(runCtx, task, run, workerModel, prompt.Text)

	return run, nil
}

// CancelTask signals every descendant worker of every active run for
// this task and denies any approval requests left suspended. In-flight
// tool calls are not force-killed; they run to completion.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	o.mu.Lock()
	cancels := o.cancels[taskID]
	delete(o.cancels, taskID)
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	o.gate.CancelAll(ctx, taskID)

	now := time.Now()
	if err := o.store.UpdateTaskStatus(ctx, taskID, domain.TaskCancelled, now); err != nil {
		return err
	}
	if run, err := o.store.GetLatestRun(ctx, taskID); err == nil && !run.Status.IsTerminal() {
		_ = o.store.UpdateRunStatus(ctx, run.ID, domain.RunCancelled, &now, "cancelled by user")
		o.observeRunDuration(run, now, "cancelled")
	}
	return nil
}

// ListPendingApprovals returns every unresolved approval request,
// scoped to taskID if non-empty.
func (o *Orchestrator) ListPendingApprovals(taskID string) []*domain.ApprovalRequest {
	return o.gate.ListPending(taskID)
}

// ResolveApprovalRequest approves or denies a suspended tool call.
func (o *Orchestrator) ResolveApprovalRequest(ctx context.Context, approvalID string, approve bool) error {
	err := o.gate.Resolve(ctx, approvalID, approve)
	if err == nil && o.metrics != nil {
		decision := "denied"
		if approve {
			decision = "approved"
		}
		o.metrics.ApprovalsResolved.WithLabelValues(decision).Inc()
	}
	return err
}

// observeRunDuration records RunDuration for a run reaching a terminal
// status, labelled by the phase it was in (planning, still awaiting a
// worker, counts as executing since that's the phase CancelTask/failRun
// actually interrupt) and outcome.
func (o *Orchestrator) observeRunDuration(run *domain.Run, finishedAt time.Time, outcome string) {
	if o.metrics == nil {
		return
	}
	phase := "executing"
	if run.Status == domain.RunPlanning {
		phase = "planning"
	}
	o.metrics.RunDuration.WithLabelValues(phase, outcome).Observe(finishedAt.Sub(run.StartedAt).Seconds())
}

func (o *Orchestrator) registerRun(taskID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[taskID] = append(o.cancels[taskID], cancel)
	o.mu.Unlock()
	return ctx
}

func (o *Orchestrator) runPlanningTurn(ctx context.Context, task *domain.Task, run *domain.Run, model planner.Model, revisionNote string) {
	var err error
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "orchestrator.plan", attribute.String("task_id", task.ID), attribute.String("run_id", run.ID))
		defer func() { telemetry.End(span, err) }()
	}

	_, err = o.planner.GeneratePlanArtifact(ctx, task.ID, run.ID, task.Prompt, model, revisionNote)
	if ctx.Err() != nil {
		return
	}
	now := time.Now()
	if err != nil {
		_ = o.store.UpdateRunStatus(ctx, run.ID, domain.RunFailed, &now, err.Error())
		_ = o.store.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, now)
		o.observeRunDuration(run, now, "failed")
		return
	}
	_ = o.store.UpdateTaskStatus(ctx, task.ID, domain.TaskAwaitingReview, now)
}

// runBuildWorker drives the root SubAgent for a Run's execution phase
// through the worker loop, allocating its worktree first and tearing
// down task/run status on completion.
func (o *Orchestrator) runBuildWorker(ctx context.Context, task *domain.Task, run *domain.Run, model workerloop.Model, taskPrompt string) {
	var runErr error
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "orchestrator.execute", attribute.String("task_id", task.ID), attribute.String("run_id", run.ID))
		defer func() { telemetry.End(span, runErr) }()
	}

	root := &domain.SubAgent{
		ID:     uuid.NewString(),
		RunID:  run.ID,
		TaskID: task.ID,
		Name:   "root",
		Contract: domain.Contract{
			MaxTurns:           25,
			AllowedTools:       nil, // nil/empty AllowedTools means "every registered tool", see workerloop.allowedDescriptors
			CanSpawnChildren:   true,
			MaxDelegationDepth: 3,
		},
	}
	if err := o.store.InsertSubAgent(ctx, root); err != nil {
		runErr = err
		o.failRun(ctx, task, run, fmt.Sprintf("failed to create root sub-agent: %v", err))
		return
	}

	info, err := o.worktrees.Allocate(ctx, run.ID, root.ID, "HEAD", domain.StrategyBranch)
	if err != nil {
		runErr = err
		o.failRun(ctx, task, run, fmt.Sprintf("failed to allocate worktree: %v", err))
		return
	}
	_ = o.store.UpdateSubAgentWorktreePath(ctx, root.ID, info.Path)
	root.WorktreePath = info.Path

	now := time.Now()
	_ = o.store.UpdateSubAgentStatus(ctx, root.ID, domain.SubAgentRunning, &now, nil, "")

	skillsContext := o.activeSkillsContext()
	o.delegate.SetExecutor(&delegateExecutor{o: o, model: model, skillsContext: skillsContext})
	loop := workerloop.New(o.store, o.bus, o.registry, o.gate, model, o.delegateFunc(), skillsContext, o.metrics)
	status, _, err := loop.Run(ctx, root, taskPrompt, task.Prompt, o.policy)
	runErr = err

	finishedAt := time.Now()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	_ = o.store.UpdateSubAgentStatus(ctx, root.ID, status, nil, &finishedAt, errMsg)

	if status != domain.SubAgentCompleted {
		if errMsg == "" {
			errMsg = "worker loop did not complete"
		}
		o.failRun(ctx, task, run, errMsg)
		return
	}

	if ctx.Err() != nil {
		// CancelTask already wrote the run/task's terminal status; don't
		// race it with a completed write for a cancelled run.
		return
	}
	_ = o.store.UpdateRunStatus(ctx, run.ID, domain.RunCompleted, &finishedAt, "")
	_ = o.store.UpdateTaskStatus(ctx, task.ID, domain.TaskCompleted, finishedAt)
	o.observeRunDuration(run, finishedAt, "completed")
}

// failRun marks run/task as failed, unless ctx was already cancelled by
// CancelTask — which owns writing the cancelled terminal status itself.
func (o *Orchestrator) failRun(ctx context.Context, task *domain.Task, run *domain.Run, reason string) {
	if ctx.Err() != nil {
		return
	}
	now := time.Now()
	o.observeRunDuration(run, now, "failed")
	_ = o.store.UpdateRunStatus(ctx, run.ID, domain.RunFailed, &now, reason)
	_ = o.store.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, now)
}

// delegateExecutor adapts workerloop.Loop into delegation.Executor so a
// delegated child drives the same turn algorithm as the root sub-agent.
type delegateExecutor struct {
	o             *Orchestrator
	model         workerloop.Model
	skillsContext string
}

func (e *delegateExecutor) Execute(ctx context.Context, child *domain.SubAgent, objective, taskPrompt, goalSummary string, policy *toolgate.Policy) (domain.SubAgentStatus, string, error) {
	loop := workerloop.New(e.o.store, e.o.bus, e.o.registry, e.o.gate, e.model, e.o.delegateFunc(), e.skillsContext, e.o.metrics)
	return loop.Run(ctx, child, taskPrompt, goalSummary, policy)
}

// delegateFunc adapts delegation.Manager.Delegate into the
// workerloop.DelegateFunc callback, avoiding a workerloop<->delegation
// import cycle.
func (o *Orchestrator) delegateFunc() workerloop.DelegateFunc {
	return func(ctx context.Context, parent *domain.SubAgent, objective string) (*workerloop.Observation, error) {
		result, err := o.delegate.Delegate(ctx, parent, objective)
		if result == nil {
			return &workerloop.Observation{ToolName: "subagent.spawn", Status: "failed", Error: err.Error()}, err
		}
		obs := &workerloop.Observation{ToolName: "subagent.spawn", Output: result.Summary}
		if result.Success {
			obs.Status = "succeeded"
		} else {
			obs.Status = "failed"
			obs.Error = result.Error
		}
		return obs, err
	}
}
