// Package worktree implements the isolated-workspace lifecycle of
// spec.md §4.8: each sub-agent gets a working directory on its own git
// branch, materialised off a base revision, merged back into the run's
// parent workspace on success, and removed once its sub-agent closes.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/process"
	"github.com/ifBars/orchestrix/internal/store"
)

// ErrAllocationFailed is returned when the underlying git plumbing fails
// to materialise a working directory.
var ErrAllocationFailed = errors.New("worktree: allocation failed")

// Info describes a live worktree, the view returned to callers and
// serialized for the UI's list_active_worktrees surface.
type Info struct {
	Path       string
	Branch     string
	Strategy   domain.WorktreeStrategy
	RunID      string
	SubAgentID string
	BaseRef    string
}

// MergeOutcome is the result of merging a sub-agent's worktree back into
// its parent.
type MergeOutcome struct {
	Strategy        string
	Success         bool
	Message         string
	ConflictedFiles []string
}

// Manager allocates, merges, and removes git-worktree-backed workspaces.
// Subprocess invocations are serialized through a single-slot
// LaneSubagent command queue so overlapping git operations on the same
// checkout never race.
type Manager struct {
	store *store.Store
	bus   *eventbus.Bus
	queue *process.CommandQueue
	root  func() string // resolves the project's workspace root at call time
}

// New creates a Manager. root returns the configured workspace root
// (spec.md's process-wide app-data / workspace-root pointer, fixed at
// start but read lazily so tests can swap it).
func New(s *store.Store, bus *eventbus.Bus, root func() string) *Manager {
	q := process.NewCommandQueue()
	q.SetLaneConcurrency(process.LaneSubagent, 1)
	return &Manager{store: s, bus: bus, queue: q, root: root}
}

func (m *Manager) worktreesDir() string {
	return filepath.Join(m.root(), ".orchestrix", "worktrees")
}

// Allocate provisions an isolated workspace for a sub-agent. Strategy
// "none" reuses the parent workspace unchanged and is only valid for
// sub-agents whose allowed tools are strictly read-only.
func (m *Manager) Allocate(ctx context.Context, runID, subAgentID, baseRef string, strategy domain.WorktreeStrategy) (*Info, error) {
	if strategy == "" {
		strategy = domain.StrategyBranch
	}
	if strategy == domain.StrategyNone {
		info := &Info{Path: m.root(), Strategy: strategy, RunID: runID, SubAgentID: subAgentID, BaseRef: baseRef}
		if err := m.logAllocation(ctx, runID, subAgentID, info); err != nil {
			return nil, err
		}
		return info, nil
	}

	path := filepath.Join(m.worktreesDir(), subAgentID)
	branch := "orchestrix/" + subAgentID

	_, err := process.EnqueueInLane(m.queue, process.LaneSubagent, func(ctx context.Context) (struct{}, error) {
		if err := os.MkdirAll(m.worktreesDir(), 0o755); err != nil {
			return struct{}{}, err
		}
		args := []string{"worktree", "add"}
		if strategy == domain.StrategyDetached {
			args = append(args, "--detach", path, baseRef)
		} else {
			args = append(args, "-b", branch, path, baseRef)
		}
		return struct{}{}, runGit(ctx, m.root(), args...)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}

	info := &Info{Path: path, Branch: branch, Strategy: strategy, RunID: runID, SubAgentID: subAgentID, BaseRef: baseRef}
	if err := m.logAllocation(ctx, runID, subAgentID, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manager) logAllocation(ctx context.Context, runID, subAgentID string, info *Info) error {
	return m.store.InsertWorktreeLog(ctx, &domain.WorktreeLog{
		ID:         uuid.NewString(),
		RunID:      runID,
		SubAgentID: subAgentID,
		Strategy:   info.Strategy,
		Branch:     info.Branch,
		BaseRef:    info.BaseRef,
		Path:       info.Path,
		CreatedAt:  time.Now(),
	})
}

// MergeWorktree merges a completed sub-agent's branch back into baseRef.
// A fast-forward is attempted first; if the base has moved on, a
// three-way merge is attempted, and unresolved conflicts are reported
// rather than resolved automatically.
func (m *Manager) MergeWorktree(ctx context.Context, subAgentID, baseRef string) (*MergeOutcome, error) {
	log, err := m.store.GetWorktreeLogForSubAgent(ctx, subAgentID)
	if err != nil {
		return nil, err
	}
	if log.Strategy == domain.StrategyNone {
		outcome := &MergeOutcome{Strategy: "noop", Success: true, Message: "no-op strategy, nothing to merge"}
		_ = m.store.UpdateWorktreeLogMerge(ctx, subAgentID, outcome.Strategy, true, outcome.Message, nil, time.Now())
		return outcome, nil
	}

	outcome, err := process.EnqueueInLane(m.queue, process.LaneSubagent, func(ctx context.Context) (*MergeOutcome, error) {
		return m.mergeBranch(ctx, log.Branch, baseRef)
	}, nil)
	if err != nil {
		return nil, err
	}

	if err := m.store.UpdateWorktreeLogMerge(ctx, subAgentID, outcome.Strategy, outcome.Success, outcome.Message, outcome.ConflictedFiles, time.Now()); err != nil {
		return nil, err
	}
	// Event emission is owned by the caller (internal/delegation), which
	// has the richer step/objective context this package does not.
	return outcome, nil
}

func (m *Manager) mergeBranch(ctx context.Context, branch, baseRef string) (*MergeOutcome, error) {
	root := m.root()

	mergeBase, err := gitOutput(ctx, root, "merge-base", baseRef, branch)
	if err == nil {
		headRev, _ := gitOutput(ctx, root, "rev-parse", baseRef)
		if mergeBase == headRev {
			if err := runGit(ctx, root, "merge", "--ff-only", branch); err == nil {
				return &MergeOutcome{Strategy: "fast-forward", Success: true, Message: "fast-forwarded"}, nil
			}
		}
	}

	if err := runGit(ctx, root, "merge", "--no-ff", "-m", "merge "+branch, branch); err != nil {
		conflicted, _ := gitOutputLines(ctx, root, "diff", "--name-only", "--diff-filter=U")
		_ = runGit(ctx, root, "merge", "--abort")
		return &MergeOutcome{Strategy: "three-way", Success: false, Message: err.Error(), ConflictedFiles: conflicted}, nil
	}
	return &MergeOutcome{Strategy: "three-way", Success: true, Message: "merged"}, nil
}

// RemoveWorktree deletes the working directory and deallocates the
// branch. Must only be called once the owning sub-agent is no longer
// running (spec.md's "a sub-agent's worktree is never removed while its
// sub-agent status is running").
func (m *Manager) RemoveWorktree(ctx context.Context, subAgentID string) error {
	log, err := m.store.GetWorktreeLogForSubAgent(ctx, subAgentID)
	if err != nil {
		return err
	}
	if log.Strategy != domain.StrategyNone {
		_, err = process.EnqueueInLane(m.queue, process.LaneSubagent, func(ctx context.Context) (struct{}, error) {
			_ = runGit(ctx, m.root(), "worktree", "remove", "--force", log.Path)
			if log.Branch != "" {
				_ = runGit(ctx, m.root(), "branch", "-D", log.Branch)
			}
			return struct{}{}, nil
		}, nil)
		if err != nil {
			return err
		}
	}
	return m.store.UpdateWorktreeLogCleaned(ctx, subAgentID, time.Now())
}

// PruneStale removes worktree logs whose backing directories no longer
// exist, reconciling the log against the filesystem.
func (m *Manager) PruneStale(ctx context.Context) ([]string, error) {
	active, err := m.store.ListActiveWorktreeLogs(ctx)
	if err != nil {
		return nil, err
	}
	var pruned []string
	for _, log := range active {
		if log.Strategy == domain.StrategyNone {
			continue
		}
		if _, statErr := os.Stat(log.Path); os.IsNotExist(statErr) {
			if err := m.store.UpdateWorktreeLogCleaned(ctx, log.SubAgentID, time.Now()); err != nil {
				return pruned, err
			}
			pruned = append(pruned, log.SubAgentID)
		}
	}
	return pruned, nil
}

// CleanupRun bulk-removes every worktree belonging to a run, used at
// task deletion.
func (m *Manager) CleanupRun(ctx context.Context, runID string) ([]string, error) {
	logs, err := m.store.ListWorktreeLogsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var cleaned []string
	for _, log := range logs {
		if log.CleanedAt != nil {
			continue
		}
		if err := m.RemoveWorktree(ctx, log.SubAgentID); err != nil {
			return cleaned, err
		}
		cleaned = append(cleaned, log.SubAgentID)
	}
	return cleaned, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return trimNewline(string(out)), nil
}

func gitOutputLines(ctx context.Context, dir string, args ...string) ([]string, error) {
	out, err := gitOutput(ctx, dir, args...)
	if err != nil || out == "" {
		return nil, err
	}
	return splitLines(out), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, trimNewline(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, trimNewline(s[start:]))
	}
	return out
}
