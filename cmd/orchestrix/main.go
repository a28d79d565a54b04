// Package main is the orchestrix CLI entry point: a local desktop
// LLM-agent orchestrator driving task/run/sub-agent state machines
// through the durable event journal, tool-invocation pipeline, and
// isolated git-worktree lifecycle described by this repository's
// internal packages.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "orchestrix",
		Short:        "Orchestrix - local desktop LLM-agent orchestrator",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to orchestrix.yaml (default ./orchestrix.yaml)")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		currentConfig = cfg
		return nil
	}

	cmd.AddCommand(
		buildTaskCmd(),
		buildSkillsCmd(),
		buildPresetsCmd(),
		buildApprovalsCmd(),
		buildWorktreeCmd(),
	)
	return cmd
}

// currentConfig is populated by the root command's PersistentPreRunE
// and read by every subcommand's RunE; cobra doesn't thread request-
// scoped state through the command tree any other way without a lot
// more plumbing than a single-process local CLI needs.
var currentConfig *Config
