package main

import (
	"fmt"

	"github.com/ifBars/orchestrix/internal/presets"
	"github.com/spf13/cobra"
)

func buildPresetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect and manage agent presets (spec.md §4.11)",
	}
	cmd.AddCommand(
		buildPresetsListCmd(),
		buildPresetsShowCmd(),
		buildPresetsCreateCmd(),
		buildPresetsUpdateCmd(),
		buildPresetsDeleteCmd(),
		buildPresetsContextCmd(),
	)
	return cmd
}

func buildPresetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every agent preset",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			all := a.presets.List()
			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(out, "No presets.")
				return nil
			}
			for _, p := range all {
				fmt.Fprintf(out, "%-20s %-10s %s\n", p.ID, p.Mode, p.Description)
			}
			return nil
		},
	}
}

func buildPresetsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one agent preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			preset, ok := a.presets.Get(args[0])
			if !ok {
				return fmt.Errorf("preset not found: %s", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", preset.ID)
			fmt.Fprintf(out, "Name:        %s\n", preset.Name)
			fmt.Fprintf(out, "Mode:        %s\n", preset.Mode)
			fmt.Fprintf(out, "Provider:    %s\n", preset.Provider)
			fmt.Fprintf(out, "Model:       %s\n", preset.Model)
			fmt.Fprintf(out, "Constraints: %s\n", preset.ConstraintsSummary())
			fmt.Fprintf(out, "Prompt:\n%s\n", preset.Prompt)
			return nil
		},
	}
}

func buildPresetsCreateCmd() *cobra.Command {
	var description, promptPath, provider, model string
	cmd := &cobra.Command{
		Use:   "create <id> <name>",
		Short: "Create a new agent preset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			prompt, err := readContentFlag(promptPath)
			if err != nil {
				return err
			}
			created, err := a.presets.Create(&presets.Preset{
				ID:          args[0],
				Name:        args[1],
				Description: description,
				Mode:        presets.ModeSubagent,
				Provider:    provider,
				Model:       model,
				Prompt:      prompt,
				Enabled:     true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preset created: %s\n", created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Short description of the preset")
	cmd.Flags().StringVar(&promptPath, "prompt-file", "", "Path to the preset's prompt body (- for stdin)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider override this preset fills in when the caller leaves it blank")
	cmd.Flags().StringVar(&model, "model", "", "Model override this preset fills in when the caller leaves it blank")
	return cmd
}

func buildPresetsUpdateCmd() *cobra.Command {
	var description, promptPath, provider, model string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an existing agent preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			existing, ok := a.presets.Get(args[0])
			if !ok {
				return fmt.Errorf("preset not found: %s", args[0])
			}
			updated := *existing
			if description != "" {
				updated.Description = description
			}
			if provider != "" {
				updated.Provider = provider
			}
			if model != "" {
				updated.Model = model
			}
			if promptPath != "" {
				prompt, err := readContentFlag(promptPath)
				if err != nil {
					return err
				}
				updated.Prompt = prompt
			}
			saved, err := a.presets.Update(&updated)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preset updated: %s\n", saved.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&promptPath, "prompt-file", "", "Path to a replacement prompt body (- for stdin)")
	cmd.Flags().StringVar(&provider, "provider", "", "New provider override")
	cmd.Flags().StringVar(&model, "model", "", "New model override")
	return cmd
}

func buildPresetsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an agent preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.presets.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preset deleted: %s\n", args[0])
			return nil
		},
	}
}

func buildPresetsContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "context <id>",
		Short: "Render the markdown context block a preset injects into a task prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			context, err := a.presets.GetContext(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), context)
			return nil
		},
	}
}
