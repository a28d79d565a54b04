package main

import (
	"fmt"
	"strings"

	"github.com/ifBars/orchestrix/internal/skills"
	"github.com/spf13/cobra"
)

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect and manage skills (spec.md §4.11)",
	}
	cmd.AddCommand(
		buildSkillsListCmd(),
		buildSkillsWorkspaceCmd(),
		buildSkillsSearchCmd(),
		buildSkillsAddCmd(),
		buildSkillsRemoveCmd(),
		buildSkillsImportCmd(),
		buildSkillsActiveContextCmd(),
	)
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every available skill (workspace, global, and custom)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			printSkills(cmd, a.skills.ListAvailable())
			return nil
		},
	}
}

func buildSkillsWorkspaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workspace",
		Short: "List skills discovered under the current workspace only",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			printSkills(cmd, a.skills.ListWorkspaceSkills())
			return nil
		},
	}
}

func buildSkillsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search skills by name, description, and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			printSkills(cmd, a.skills.Search(args[0]))
			return nil
		},
	}
}

func buildSkillsAddCmd() *cobra.Command {
	var description, tags, contentPath string
	cmd := &cobra.Command{
		Use:   "add <key> <name>",
		Short: "Add a custom skill",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			content, err := readContentFlag(contentPath)
			if err != nil {
				return err
			}
			var tagList []string
			if tags != "" {
				tagList = strings.Split(tags, ",")
			}
			entry, err := a.skills.AddCustomSkill(args[0], args[1], description, tagList, content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skill added: %s\n", entry.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Short description of the skill")
	cmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags")
	cmd.Flags().StringVar(&contentPath, "content-file", "", "Path to the skill's markdown body (- for stdin)")
	return cmd
}

func buildSkillsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a custom skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.skills.RemoveCustomSkill(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skill removed: %s\n", args[0])
			return nil
		},
	}
}

func buildSkillsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <key> <archive-path>",
		Short: "Import a packaged skill (zip or tarball) under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := readContentFlag(args[1])
			if err != nil {
				return err
			}
			entry, err := a.skills.ImportSkill(args[0], []byte(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skill imported: %s\n", entry.Key)
			return nil
		},
	}
}

func buildSkillsActiveContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active-context <key>...",
		Short: "Render the markdown context block for the given skill keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), currentConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), a.skills.ActiveContext(args))
			return nil
		},
	}
}

func printSkills(cmd *cobra.Command, entries []*skills.Entry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No skills.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%-24s %s\n", e.Key, e.Description)
	}
}
