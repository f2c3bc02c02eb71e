package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	xterm "golang.org/x/term"

	"github.com/agentmux/agentmux/internal/exec"
	"github.com/agentmux/agentmux/internal/term"
	"github.com/agentmux/agentmux/internal/worker"
)

func launchCmd() *cobra.Command {
	var (
		profile  string
		wd       string
		session  string
		apiBase  string
		yolo     bool
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "launch <provider>",
		Short: "Launch a worker terminal and attach to it",
		Long: `Create a tmux session with one worker terminal through the terminal
service and attach to it.

The provider CLI runs with its permission checks disabled inside the
workspace, so launching asks for confirmation first. Pass --yolo to
skip the question; a non-TTY stdin requires it.

Examples:
  agentmux launch claude_code
  agentmux launch codex --profile analyst --wd ~/src/app
  agentmux launch kiro_cli --headless --yolo`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			provider := args[0]
			if !worker.ValidKind(provider) {
				fmt.Fprintf(os.Stderr, "Error: unknown provider %q (valid: %v)\n", provider, worker.KindNames())
				os.Exit(1)
			}

			if wd == "" {
				wd = getCwd()
			}
			abs, err := filepath.Abs(wd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			wd = abs

			if !yolo {
				if !xterm.IsTerminal(int(os.Stdin.Fd())) {
					fmt.Fprintln(os.Stderr, "Error: stdin is not a TTY; pass --yolo to launch without confirmation")
					os.Exit(1)
				}
				prompt := fmt.Sprintf("Launch %s with permission checks disabled in %s?", provider, wd)
				if !askUserConfirmation(prompt) {
					fmt.Println("Aborted")
					return
				}
			}

			ctx := context.Background()
			client := term.NewClient(apiBase)
			if err := client.Health(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "Error: terminal service unreachable (start it with 'agentmux serve')")
				os.Exit(1)
			}

			fmt.Printf("Launching %s...\n", provider)
			t, err := client.StartSession(ctx, term.CreateRequest{
				Provider: provider,
				Profile:  profile,
				WD:       wd,
				Session:  session,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("✓ Terminal started: %s\n", t.ID)
			fmt.Printf("  Session: %s (window %s)\n", t.Session, t.Window)
			fmt.Printf("  Profile: %s\n", t.Profile)

			if headless {
				fmt.Printf("  Attach with: tmux attach -t %s\n", t.Session)
				return
			}
			if err := term.NewTmux(exec.Default).Attach(ctx, t.Session); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "worker", "Agent profile name (see 'agentmux profiles')")
	cmd.Flags().StringVarP(&wd, "wd", "w", "", "Working directory (default: current)")
	cmd.Flags().StringVar(&session, "session", "", "tmux session name (default: generated amx-*)")
	cmd.Flags().StringVar(&apiBase, "api", "", "Terminal service base URL")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Skip the trust confirmation")
	cmd.Flags().BoolVar(&headless, "headless", false, "Create without attaching")

	return cmd
}
