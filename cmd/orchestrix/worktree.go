package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ifBars/orchestrix/internal/worktree"
)

func buildWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Inspect and maintain the git-worktree pool (spec.md §4.8)",
	}
	cmd.AddCommand(buildWorktreeMaintainCmd())
	return cmd
}

// buildWorktreeMaintainCmd starts a long-running prune_stale sweep on a
// cron schedule and blocks until interrupted. Unlike every other
// orchestrix command, this one doesn't return until signalled — it's
// meant to run as a companion daemon alongside whatever process is
// driving tasks, not as a one-shot invocation.
func buildWorktreeMaintainCmd() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run the worktree prune_stale sweep on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := worktree.NewScheduler(a.worktrees, nil)
			if err := sched.Start(cmd.Context(), schedule); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "worktree maintain: running prune_stale on schedule %q (ctrl-c to stop)\n", schedule)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			runs, lastErr := sched.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "worktree maintain: stopping after %d sweep(s)\n", runs)
			return lastErr
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "@every 1h", "Cron expression or @every descriptor for the prune_stale sweep")
	return cmd
}
