package worktree

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Manager's background maintenance sweeps (spec.md
// §4.8's worktree lifecycle) on a cron schedule, the same
// cron.New/AddFunc/Start/Stop shape the rest of the example pack uses
// for its own background task runners.
type Scheduler struct {
	manager *Manager
	logger  *slog.Logger
	cron    *cron.Cron

	mu        sync.Mutex
	running   bool
	pruneID   cron.EntryID
	lastErr   error
	runsCount int
}

// NewScheduler creates a Scheduler bound to manager. logger may be nil,
// in which case slog.Default is used.
func NewScheduler(manager *Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		manager: manager,
		logger:  logger.With("component", "worktree.scheduler"),
		cron:    cron.New(),
	}
}

// Start registers the PruneStale sweep against schedule (a standard
// five-field cron expression, or a "@every 1h"-style descriptor) and
// starts the underlying cron runner. ctx is used only for the sweep
// runs themselves; Stop is what actually halts scheduling.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	id, err := s.cron.AddFunc(schedule, func() {
		pruned, err := s.manager.PruneStale(ctx)
		s.mu.Lock()
		s.runsCount++
		s.lastErr = err
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("prune_stale sweep failed", "error", err)
			return
		}
		if len(pruned) > 0 {
			s.logger.Info("prune_stale sweep reclaimed worktrees", "count", len(pruned))
		}
	})
	if err != nil {
		return err
	}

	s.pruneID = id
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the cron runner, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Status reports how many prune_stale sweeps have run and the most
// recent sweep's error, if any.
func (s *Scheduler) Status() (runs int, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runsCount, s.lastErr
}
