package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/render"
	"github.com/agentmux/agentmux/internal/term"
)

func terminalsCmd() *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:   "terminals",
		Short: "Manage registered worker terminals",
		Long: `Inspect and manage the worker terminals registered with the terminal
service.

Examples:
  agentmux terminals list
  agentmux terminals output 01J9ZK3V7R2M4Q8T6W0X1Y2Z3A --mode last
  agentmux terminals kill 01J9ZK3V7R2M4Q8T6W0X1Y2Z3A
  agentmux terminals prune`,
	}
	cmd.PersistentFlags().StringVar(&apiBase, "api", "", "Terminal service base URL")

	// agentmux terminals list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List terminals with live status",
		Run: func(cmd *cobra.Command, args []string) {
			client := requireService(apiBase)
			terminals, err := client.List(context.Background())
			if err != nil {
				exitOnError(err)
			}
			r := render.New(pretty)
			fmt.Print(r.Terminals(terminals))
		},
	}

	// agentmux terminals show
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one terminal in detail",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := requireService(apiBase)
			t, err := client.Get(context.Background(), args[0])
			if err != nil {
				exitOnError(err)
			}
			r := render.New(pretty)
			fmt.Print(r.Terminal(*t))
		},
	}

	// agentmux terminals output
	var mode string
	outputCmd := &cobra.Command{
		Use:   "output <id>",
		Short: "Print terminal text",
		Long: `Print captured terminal text. Mode 'full' dumps the pane history,
'tail' the visible tail used for status classification, and 'last' the
provider-extracted final response.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := requireService(apiBase)
			text, err := client.Output(context.Background(), args[0], term.OutputMode(mode))
			if err != nil {
				exitOnError(err)
			}
			fmt.Println(text)
		},
	}
	outputCmd.Flags().StringVarP(&mode, "mode", "m", "full", "Capture mode: full, last or tail")

	// agentmux terminals kill
	killCmd := &cobra.Command{
		Use:   "kill <id>",
		Short: "Exit a terminal and remove it from the registry",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := requireService(apiBase)
			if err := client.Exit(context.Background(), args[0]); err != nil {
				exitOnError(err)
			}
			fmt.Printf("✓ Terminal %s exited\n", args[0])
		},
	}

	// agentmux terminals prune
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: fmt.Sprintf("Remove terminals inactive for %d+ days", term.RetentionDays),
		Run: func(cmd *cobra.Command, args []string) {
			client := requireService(apiBase)
			pruned, err := client.Prune(context.Background())
			if err != nil {
				exitOnError(err)
			}
			if len(pruned) == 0 {
				fmt.Println("Nothing to prune")
				return
			}
			for _, id := range pruned {
				fmt.Printf("✓ Pruned %s\n", id)
			}
		},
	}

	cmd.AddCommand(listCmd, showCmd, outputCmd, killCmd, pruneCmd)
	return cmd
}
