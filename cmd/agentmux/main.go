// Package main provides the agentmux CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	pretty  = true
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentmux",
		Short: "Multi-agent pipeline orchestrator over tmux",
		Long: `AgentMux drives a team of coding agent CLIs (claude, codex, kiro, q)
through an analyst -> programmer -> tester pipeline. Each agent runs in
its own tmux window; peer reviewers gate every handoff and a failed
test verdict retries from the programmer, not from scratch.

Start the terminal service with 'agentmux serve', then drive a pipeline
with 'agentmux run'. Use 'agentmux help <command>' for details.`,
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")

	// Define command groups
	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "service", Title: "Terminal service:"},
	)

	// Pipeline commands
	run := runCmd()
	run.GroupID = "pipeline"
	rootCmd.AddCommand(run)

	profiles := profilesCmd()
	profiles.GroupID = "pipeline"
	rootCmd.AddCommand(profiles)

	// Terminal service commands
	serve := serveCmd()
	serve.GroupID = "service"
	rootCmd.AddCommand(serve)

	launch := launchCmd()
	launch.GroupID = "service"
	rootCmd.AddCommand(launch)

	terminals := terminalsCmd()
	terminals.GroupID = "service"
	rootCmd.AddCommand(terminals)

	monitor := monitorCmd()
	monitor.GroupID = "service"
	rootCmd.AddCommand(monitor)

	// Ungrouped
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show agentmux version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentmux version %s\n", version)
		},
	}
}
