// Package domain defines the entities and status enums shared across the
// orchestrator, store, worker loop, and every other component that needs
// to reason about a Task's lifecycle without importing the packages that
// implement it.
package domain

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending        TaskStatus = "pending"
	TaskPlanning       TaskStatus = "planning"
	TaskAwaitingReview TaskStatus = "awaiting_review"
	TaskExecuting      TaskStatus = "executing"
	TaskCompleted      TaskStatus = "completed"
	TaskFailed         TaskStatus = "failed"
	TaskCancelled      TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// RunStatus shadows TaskStatus for an individual run attempt.
type RunStatus string

const (
	RunPlanning       RunStatus = "planning"
	RunAwaitingReview RunStatus = "awaiting_review"
	RunExecuting      RunStatus = "executing"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
)

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// SubAgentStatus is the lifecycle state of a SubAgent.
type SubAgentStatus string

const (
	SubAgentCreated   SubAgentStatus = "created"
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentCompleted SubAgentStatus = "completed"
	SubAgentFailed    SubAgentStatus = "failed"
	SubAgentClosed    SubAgentStatus = "closed"
)

// ToolCallStatus is the lifecycle state of a ToolCall.
type ToolCallStatus string

const (
	ToolCallPending          ToolCallStatus = "pending"
	ToolCallAwaitingApproval ToolCallStatus = "awaiting_approval"
	ToolCallRunning          ToolCallStatus = "running"
	ToolCallSucceeded        ToolCallStatus = "succeeded"
	ToolCallFailed           ToolCallStatus = "failed"
	ToolCallRejected         ToolCallStatus = "rejected"
)

func (s ToolCallStatus) IsTerminal() bool {
	switch s {
	case ToolCallSucceeded, ToolCallFailed, ToolCallRejected:
		return true
	default:
		return false
	}
}

// ToolClassification determines default approval requirements.
type ToolClassification string

const (
	ToolReadOnly   ToolClassification = "read-only"
	ToolMutating   ToolClassification = "mutating"
	ToolDelegation ToolClassification = "delegation"
	ToolExternal   ToolClassification = "external"
)

// WorktreeStrategy selects how a sub-agent's isolated workspace is built.
type WorktreeStrategy string

const (
	StrategyBranch   WorktreeStrategy = "branch"
	StrategyDetached WorktreeStrategy = "detached"
	StrategyNone     WorktreeStrategy = "none"
)

// Task is a user-issued goal with a lifecycle spanning plan -> review -> build -> terminal.
type Task struct {
	ID           string
	Prompt       string
	ParentTaskID string
	Status       TaskStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Run is one lifecycle attempt of a Task.
type Run struct {
	ID            string
	TaskID        string
	Status        RunStatus
	PlanContext   string
	StartedAt     time.Time
	FinishedAt    *time.Time
	FailureReason string
}

// Contract freezes a SubAgent's permissions at creation time.
type Contract struct {
	MaxTurns           int
	AllowedTools       []string
	CanSpawnChildren   bool
	MaxDelegationDepth int
	AttemptTimeoutMs   int64
	CloseOnCompletion  bool
}

// SubAgent is a bounded worker that executes one step of a plan.
type SubAgent struct {
	ID    string
	RunID string
	// TaskID is carried in-memory only (not persisted on the sub_agents
	// row) so the worker loop can route approval requests and
	// cancellation to the right task without a store round trip.
	TaskID        string
	ParentID      string
	StepIdx       int
	Name          string
	Status        SubAgentStatus
	WorktreePath  string
	Contract      Contract
	DelegationDep int
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Error         string
}

// Event is one entry in the append-only journal.
type Event struct {
	ID        string
	RunID     string
	Seq       int64
	Category  string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Artifact is a durable output of a run (plan markdown, feedback, tool output).
type Artifact struct {
	ID          string
	RunID       string
	Kind        string
	URIOrContent string
	Metadata    []byte
	CreatedAt   time.Time
}

// ToolCall records one invocation of a registered tool.
type ToolCall struct {
	ID         string
	RunID      string
	StepIdx    int
	ToolName   string
	Input      []byte
	Output     []byte
	Status     ToolCallStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      string
}

// ApprovalRequest is created by the approval gate and resolved by the user.
type ApprovalRequest struct {
	ID         string
	RunID      string
	TaskID     string
	SubAgentID string
	ToolCallID string
	ToolName   string
	Input      []byte
	Scope      string
	CreatedAt  time.Time
	Resolved   bool
	Approved   bool
	ResolvedAt *time.Time
}

// WorktreeLog tracks the lifecycle of one sub-agent's isolated workspace.
type WorktreeLog struct {
	ID               string
	RunID            string
	SubAgentID       string
	Strategy         WorktreeStrategy
	Branch           string
	BaseRef          string
	Path             string
	MergeStrategy    string
	MergeSuccess     *bool
	MergeMessage     string
	ConflictedFiles  []string
	CreatedAt        time.Time
	MergedAt         *time.Time
	CleanedAt        *time.Time
}

// UserMessage is a follow-up message on a completed or in-progress task.
type UserMessage struct {
	ID        string
	TaskID    string
	RunID     string
	Content   string
	CreatedAt time.Time
}

// ConversationSummary is a generated replacement for older transcript messages.
type ConversationSummary struct {
	ID             string
	TaskID         string
	RunID          string
	Text           string
	MessageCount   int
	TokenEstimate  int
	CreatedAt      time.Time
}

// Checkpoint is a coarse-grained resume point for a Run.
type Checkpoint struct {
	RunID        string
	LastStepIdx  int
	RuntimeState []byte
	UpdatedAt    time.Time
}

// TaskLink is a symmetric link between two related tasks.
type TaskLink struct {
	TaskIDA   string
	TaskIDB   string
	CreatedAt time.Time
}

// ProviderConfig is stored provider credentials and defaults.
type ProviderConfig struct {
	ProviderID    string
	APIKey        string
	BaseURL       string
	DefaultModel  string
	UpdatedAt     time.Time
}
