package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/render"
	"github.com/agentmux/agentmux/internal/worker"
)

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage agent profiles",
		Long: `List and inspect the agent profiles under ~/.agentmux/profiles
(AMX_HOME overrides the home).

A profile is a markdown file whose content becomes the agent's system
prompt at launch. The pipeline roles default to system_analyst,
peer_system_analyst, programmer, peer_programmer and tester; a missing
profile file launches the bare CLI.

Examples:
  agentmux profiles list
  agentmux profiles show programmer`,
	}

	// agentmux profiles list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		Run: func(cmd *cobra.Command, args []string) {
			dir := config.GetPaths().Profiles
			names, err := worker.ListProfiles(dir)
			if err != nil {
				exitOnError(err)
			}
			r := render.New(pretty)
			fmt.Print(r.Profiles(dir, names))
		},
	}

	// agentmux profiles show
	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a profile's system prompt",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := config.GetPaths().Profiles
			p, err := worker.LoadProfile(dir, args[0])
			if err != nil {
				exitOnError(err)
			}
			if p.SystemPrompt == "" {
				fmt.Printf("Profile %s has no prompt file under %s (bare CLI launch)\n", p.Name, dir)
				return
			}
			w := render.Stdout()
			w.Header("PROFILE %s", p.Name)
			w.Println("%s", p.SystemPrompt)
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}
