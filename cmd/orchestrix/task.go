package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func buildTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and drive tasks through plan/build/review",
	}
	cmd.AddCommand(
		buildTaskCreateCmd(),
		buildTaskStartCmd(),
		buildTaskApproveCmd(),
		buildTaskContinueCmd(),
		buildTaskCancelCmd(),
		buildTaskShowCmd(),
		buildTaskListCmd(),
		buildWorkspaceRootCmd(),
	)
	return cmd
}

func buildTaskCreateCmd() *cobra.Command {
	var parentTaskID string
	cmd := &cobra.Command{
		Use:   "create <prompt>",
		Short: "Create a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.orchestrator.CreateTask(cmd.Context(), args[0], parentTaskID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task created: %s\n", task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&parentTaskID, "parent", "", "Parent task ID, for a sub-task")
	return cmd
}

func buildTaskStartCmd() *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Transition a pending task into planning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orchestrator.StartTask(cmd.Context(), args[0], provider, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Planning run started: %s\n", run.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider override (anthropic, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	return cmd
}

func buildTaskApproveCmd() *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve the pending plan and start the build worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orchestrator.ApprovePlan(cmd.Context(), args[0], provider, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution run started: %s\n", run.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider override (anthropic, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	return cmd
}

func buildTaskContinueCmd() *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "continue <task-id> <message>",
		Short: "Continue a task with a follow-up message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orchestrator.ContinueTaskWithMessage(cmd.Context(), args[0], args[1], provider, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Continuation run started: %s\n", run.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider override (anthropic, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	return cmd
}

func buildTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel every active run of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orchestrator.CancelTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task cancelled: %s\n", args[0])
			return nil
		},
	}
}

func buildTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.store.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:     %s\n", task.ID)
			fmt.Fprintf(out, "Status: %s\n", task.Status)
			fmt.Fprintf(out, "Prompt: %s\n", task.Prompt)
			return nil
		},
	}
}

func buildTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every task",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.store.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks.")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(out, "%s  %-12s  %s\n", t.ID, t.Status, truncate(t.Prompt, 60))
			}
			return nil
		},
	}
}

func buildWorkspaceRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace [path]",
		Short: "Get or set the workspace root used by new runs",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.orchestrator.WorkspaceRoot())
				return nil
			}
			a.orchestrator.SetWorkspaceRoot(args[0])
			encoded, err := json.Marshal(args[0])
			if err != nil {
				return err
			}
			if err := a.store.UpsertSetting(cmd.Context(), settingWorkspaceRoot, string(encoded), time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workspace root set: %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
