package delegation

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/toolgate"
	"github.com/ifBars/orchestrix/internal/worktree"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := exec.Command("sh", "-c", "echo hello > "+filepath.Join(dir, "README.md")).Run(); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func newTestManager(t *testing.T, root string, executor Executor) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now()
	ctx := context.Background()
	if err := s.InsertTask(ctx, &domain.Task{ID: "t1", Prompt: "p", Status: domain.TaskExecuting, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.InsertRun(ctx, &domain.Run{ID: "r1", TaskID: "t1", Status: domain.RunExecuting, StartedAt: now}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	bus := eventbus.New(s, nil)
	wm := worktree.New(s, bus, func() string { return root })
	return New(s, bus, wm, executor, 2), s
}

type fakeExecutor struct {
	status domain.SubAgentStatus
	err    error
	writeFile bool
	root   string
}

func (f *fakeExecutor) Execute(ctx context.Context, child *domain.SubAgent, objective, taskPrompt, goalSummary string, policy *toolgate.Policy) (domain.SubAgentStatus, string, error) {
	if f.writeFile {
		path := filepath.Join(child.WorktreePath, "delegated.txt")
		if err := exec.Command("sh", "-c", "echo work > "+path).Run(); err != nil {
			return domain.SubAgentFailed, "", err
		}
		if out, err := exec.Command("git", "-C", child.WorktreePath, "add", ".").CombinedOutput(); err != nil {
			return domain.SubAgentFailed, string(out), err
		}
		commit := exec.Command("git", "-C", child.WorktreePath, "-c", "user.email=test@example.com", "-c", "user.name=test", "commit", "-m", "delegated work")
		if out, err := commit.CombinedOutput(); err != nil {
			return domain.SubAgentFailed, string(out), err
		}
	}
	return f.status, "delegated objective complete", f.err
}

func TestDelegateRejectsEmptyObjective(t *testing.T) {
	root := initTestRepo(t)
	m, _ := newTestManager(t, root, &fakeExecutor{status: domain.SubAgentCompleted})
	parent := &domain.SubAgent{ID: "p1", RunID: "r1", Contract: domain.Contract{CanSpawnChildren: true, MaxDelegationDepth: 1}}

	_, err := m.Delegate(context.Background(), parent, "")
	if err != ErrObjectiveRequired {
		t.Fatalf("expected ErrObjectiveRequired, got %v", err)
	}
}

func TestDelegateRejectsWhenDisabled(t *testing.T) {
	root := initTestRepo(t)
	m, _ := newTestManager(t, root, &fakeExecutor{status: domain.SubAgentCompleted})
	parent := &domain.SubAgent{ID: "p1", RunID: "r1", Contract: domain.Contract{CanSpawnChildren: false}}

	_, err := m.Delegate(context.Background(), parent, "do it")
	if err != ErrDelegationDisabled {
		t.Fatalf("expected ErrDelegationDisabled, got %v", err)
	}
}

func TestDelegateRejectsAtMaxDepth(t *testing.T) {
	root := initTestRepo(t)
	m, _ := newTestManager(t, root, &fakeExecutor{status: domain.SubAgentCompleted})
	parent := &domain.SubAgent{ID: "p1", RunID: "r1", Contract: domain.Contract{CanSpawnChildren: true, MaxDelegationDepth: 1}, DelegationDep: 1}

	_, err := m.Delegate(context.Background(), parent, "do it")
	if err != ErrMaxDepthReached {
		t.Fatalf("expected ErrMaxDepthReached, got %v", err)
	}
}

func TestDelegateChildToolsExcludeSpawn(t *testing.T) {
	root := initTestRepo(t)
	var capturedTools []string
	executor := &captureExecutor{status: domain.SubAgentCompleted}
	m, _ := newTestManager(t, root, executor)
	parent := &domain.SubAgent{
		ID: "p1", RunID: "r1",
		Contract: domain.Contract{CanSpawnChildren: true, MaxDelegationDepth: 2, AllowedTools: []string{"fs.read", "subagent.spawn", "fs.write"}},
	}

	_, err := m.Delegate(context.Background(), parent, "investigate")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	capturedTools = executor.seenTools
	for _, name := range capturedTools {
		if name == "subagent.spawn" {
			t.Fatal("expected subagent.spawn to be stripped from the child's allowed tools")
		}
	}
	if len(capturedTools) != 2 {
		t.Fatalf("expected 2 remaining tools, got %v", capturedTools)
	}
}

type captureExecutor struct {
	status    domain.SubAgentStatus
	seenTools []string
}

func (c *captureExecutor) Execute(ctx context.Context, child *domain.SubAgent, objective, taskPrompt, goalSummary string, policy *toolgate.Policy) (domain.SubAgentStatus, string, error) {
	c.seenTools = child.Contract.AllowedTools
	return c.status, "done", nil
}

func TestDelegateMergesAndClosesOnSuccess(t *testing.T) {
	root := initTestRepo(t)
	executor := &fakeExecutor{status: domain.SubAgentCompleted, writeFile: true, root: root}
	m, s := newTestManager(t, root, executor)
	parent := &domain.SubAgent{ID: "p1", RunID: "r1", Contract: domain.Contract{CanSpawnChildren: true, MaxDelegationDepth: 1}}

	result, err := m.Delegate(context.Background(), parent, "write a file")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if _, err := exec.Command("sh", "-c", "test -f "+filepath.Join(root, "delegated.txt")).CombinedOutput(); err != nil {
		t.Fatal("expected delegated.txt to be merged into the parent root")
	}

	sa, err := s.GetSubAgent(context.Background(), result.SubAgentID)
	if err != nil {
		t.Fatalf("GetSubAgent: %v", err)
	}
	if sa.Status != domain.SubAgentClosed {
		t.Fatalf("expected child to end Closed, got %s", sa.Status)
	}
}

func TestDelegateFailsWhenChildFails(t *testing.T) {
	root := initTestRepo(t)
	m, s := newTestManager(t, root, &fakeExecutor{status: domain.SubAgentFailed})
	parent := &domain.SubAgent{ID: "p1", RunID: "r1", Contract: domain.Contract{CanSpawnChildren: true, MaxDelegationDepth: 1}}

	result, err := m.Delegate(context.Background(), parent, "do something that fails")
	if err == nil {
		t.Fatal("expected an error for a failed child")
	}
	if result.Success {
		t.Fatal("expected Success=false")
	}

	sa, err := s.GetSubAgent(context.Background(), result.SubAgentID)
	if err != nil {
		t.Fatalf("GetSubAgent: %v", err)
	}
	if sa.Status != domain.SubAgentClosed {
		t.Fatalf("expected child to still end Closed even on failure, got %s", sa.Status)
	}
}
