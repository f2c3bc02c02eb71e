package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/handoff"
	"github.com/agentmux/agentmux/internal/logging"
	"github.com/agentmux/agentmux/internal/pipeline"
	"github.com/agentmux/agentmux/internal/render"
	"github.com/agentmux/agentmux/internal/runtime"
	"github.com/agentmux/agentmux/internal/term"
)

// run exit codes
const (
	exitPass          = 0
	exitFail          = 1
	exitInvalidConfig = 2
	exitFatalHandoff  = 3
	exitTimeout       = 4
	exitSafetyCap     = 5
)

func runCmd() *cobra.Command {
	var (
		configFile string
		prompt     string
		promptFile string
		provider   string
		wd         string
		apiBase    string
		stateFile  string
		startAgent string
		maxRounds  int
		resume     bool
		cleanup    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the agent pipeline to a test verdict",
		Long: `Run the analyst -> programmer -> tester pipeline against the terminal
service until the scenario test passes or the round cap is hit.

The prompt must carry both section markers:

  *** ORIGINAL EXPLORE SUMMARY ***
  <what the repo is and what it does>
  *** SCENARIO TEST ***
  <the acceptance scenario to implement and verify>

Exit codes: 0 test passed, 1 test failed, 2 invalid configuration,
3 fatal handoff, 4 handoff timeout, 5 acknowledge safety cap,
128+n when interrupted by signal n.

Examples:
  agentmux run --prompt-file task.md
  agentmux run --config amx.json --resume
  AMX_PROVIDER=claude_code agentmux run -f task.md --cleanup-on-exit`,
		Run: func(cmd *cobra.Command, args []string) {
			// Flags layer onto the environment so they ride the normal
			// precedence chain (env beats file beats defaults).
			flags := cmd.Flags()
			setFlagEnv(flags, "prompt", "AMX_PROMPT", prompt)
			setFlagEnv(flags, "prompt-file", "AMX_PROMPT_FILE", promptFile)
			setFlagEnv(flags, "provider", "AMX_PROVIDER", provider)
			setFlagEnv(flags, "wd", "AMX_WD", wd)
			setFlagEnv(flags, "api", "AMX_API", apiBase)
			setFlagEnv(flags, "state-file", "AMX_STATE_FILE", stateFile)
			setFlagEnv(flags, "start-agent", "AMX_START_AGENT", startAgent)
			if flags.Changed("max-rounds") {
				os.Setenv("AMX_MAX_ROUNDS", strconv.Itoa(maxRounds))
			}
			if flags.Changed("resume") {
				os.Setenv("AMX_RESUME", boolEnv(resume))
			}
			if flags.Changed("cleanup-on-exit") {
				os.Setenv("AMX_CLEANUP_ON_EXIT", boolEnv(cleanup))
			}

			os.Exit(runPipeline(configFile))
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "JSON config file")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Inline task prompt")
	cmd.Flags().StringVarP(&promptFile, "prompt-file", "f", "", "Task prompt file")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Default worker provider (claude_code, codex, kiro_cli, q_cli)")
	cmd.Flags().StringVarP(&wd, "wd", "w", "", "Working directory the agents operate in")
	cmd.Flags().StringVar(&apiBase, "api", "", "Terminal service base URL")
	cmd.Flags().StringVar(&stateFile, "state-file", "", "Run state file path")
	cmd.Flags().StringVar(&startAgent, "start-agent", "", "Role to start from (seeds skipped upstream outputs)")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "Round cap")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from the saved state file")
	cmd.Flags().BoolVar(&cleanup, "cleanup-on-exit", false, "Exit all terminals when the run ends")

	return cmd
}

func runPipeline(configFile string) int {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitInvalidConfig
	}

	logPath := openRunLog()

	client := term.NewClient(cfg.API)
	if err := client.Health(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: terminal service unreachable at %s (start it with 'agentmux serve')\n", cfg.API)
		return exitFail
	}

	runner, err := pipeline.NewRunner(cfg, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitInvalidConfig
	}

	sm := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	sm.Register("pipeline", func(ctx context.Context) error {
		runner.Shutdown(ctx)
		return nil
	})
	sm.ListenForSignals()

	r := render.New(pretty)
	fmt.Print(r.RunHeader(cfg.Provider, cfg.WD, cfg.Limits.MaxRounds, cfg.Resume))
	if logPath != "" {
		fmt.Printf("  Log:        %s\n", logPath)
	}

	result, err := runner.Run(sm.Context())

	if sm.Signal() != nil {
		<-sm.Done()
		return sm.ExitCode()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case config.IsInvalid(err):
			return exitInvalidConfig
		case handoff.IsFatal(err):
			return exitFatalHandoff
		case handoff.IsTimeout(err):
			return exitTimeout
		case handoff.IsSafetyCap(err):
			return exitSafetyCap
		default:
			return exitFail
		}
	}

	fmt.Print(r.Verdict(result.Status, result.Rounds))
	if result.Passed() {
		return exitPass
	}
	return exitFail
}

// openRunLog redirects structured events from stderr to a timestamped
// file under the agentmux home, keeping the console free for human
// output. Best effort: on any failure events stay on stderr.
func openRunLog() string {
	paths := config.GetPaths()
	if err := paths.EnsureDirs(); err != nil {
		return ""
	}
	name := filepath.Join(paths.Logs, "run-"+time.Now().Format("20060102-150405")+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ""
	}
	logging.SetOutput(f)
	return name
}
