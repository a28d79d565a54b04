package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and resolve pending tool-call approvals (spec.md §4.7)",
	}
	cmd.AddCommand(
		buildApprovalsListCmd(),
		buildApprovalsResolveCmd(),
	)
	return cmd
}

func buildApprovalsListCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests, optionally scoped to one task",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			pending := a.gate.ListPending(taskID)
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "No pending approvals.")
				return nil
			}
			for _, req := range pending {
				fmt.Fprintf(out, "%s  task=%s  run=%s  tool=%s  input=%s\n",
					req.ID, req.TaskID, req.RunID, req.ToolName, string(req.Input))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Restrict the listing to one task ID")
	return cmd
}

func buildApprovalsResolveCmd() *cobra.Command {
	var approve bool
	cmd := &cobra.Command{
		Use:   "resolve <approval-id>",
		Short: "Approve or deny a pending tool call, unblocking the waiting sub-agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.gate.Resolve(cmd.Context(), args[0], approve); err != nil {
				return err
			}
			verdict := "denied"
			if approve {
				verdict = "approved"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approval %s: %s\n", args[0], verdict)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the tool call (default: deny)")
	return cmd
}
