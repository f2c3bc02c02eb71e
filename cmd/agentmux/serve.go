package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/exec"
	"github.com/agentmux/agentmux/internal/runtime"
	"github.com/agentmux/agentmux/internal/term"
)

func serveCmd() *cobra.Command {
	var (
		addr  string
		prune bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the terminal service",
		Long: `Start the HTTP terminal service that owns the tmux sessions, the
SQLite terminal registry and the per-terminal transcripts.

The service listens on 127.0.0.1:9889 by default and is addressed by
'agentmux run', 'agentmux terminals' and 'agentmux monitor'.

Examples:
  agentmux serve
  agentmux serve --addr 127.0.0.1:9900
  agentmux serve --prune=false`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(addr, prune); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("%s:%d", config.ServiceHost, config.ServicePort), "Listen address")
	cmd.Flags().BoolVar(&prune, "prune", true, "Prune stale terminals at startup")

	return cmd
}

func serve(addr string, prune bool) error {
	paths := config.GetPaths()
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	store, err := term.OpenStore(paths.DB)
	if err != nil {
		return err
	}
	mgr := term.NewManager(exec.Default, store)

	sm := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	sm.Register("registry", func(ctx context.Context) error {
		return store.Close()
	})
	sm.ListenForSignals()

	if prune {
		if pruned, err := mgr.Prune(sm.Context()); err == nil && len(pruned) > 0 {
			fmt.Printf("Pruned %d stale terminal(s)\n", len(pruned))
		}
	}

	fmt.Printf("Terminal service listening on %s\n", addr)
	fmt.Printf("  Registry:    %s\n", paths.DatabaseFile())
	fmt.Printf("  Transcripts: %s\n", paths.TerminalLogs)
	fmt.Printf("  Profiles:    %s\n", paths.Profiles)

	err = term.NewServer(mgr, addr).Serve(sm.Context())
	sm.Shutdown()
	return err
}
