// Package term hosts worker terminals in tmux: a thin command wrapper,
// a SQLite registry, the session manager that launches provider CLIs
// inside panes, and the HTTP service plus its client.
package term

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmux/agentmux/internal/exec"
	"github.com/agentmux/agentmux/internal/worker"
)

// SessionPrefix namespaces generated tmux session names so admin
// commands can tell managed sessions from the user's own.
const SessionPrefix = "amx-"

// Tmux wraps the tmux binary behind the Runner seam.
type Tmux struct {
	runner exec.Runner
}

func NewTmux(runner exec.Runner) *Tmux {
	if runner == nil {
		runner = exec.Default
	}
	return &Tmux{runner: runner}
}

// Target addresses one window as session:window.
func Target(session, window string) string {
	return session + ":" + window
}

func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	out, err := t.runner.Run(ctx, "tmux", args...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return "", fmt.Errorf("tmux %s: %s: %w", args[0], msg, err)
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

// HasSession reports whether the named session exists. tmux signals
// absence (and a stopped server) through a non-zero exit.
func (t *Tmux) HasSession(ctx context.Context, session string) bool {
	_, err := t.runner.Run(ctx, "tmux", "has-session", "-t", session)
	return err == nil
}

// NewSession creates a detached session whose first window runs a shell
// in wd.
func (t *Tmux) NewSession(ctx context.Context, session, window, wd string) error {
	_, err := t.run(ctx, "new-session", "-d", "-s", session, "-n", window, "-c", wd)
	return err
}

// NewWindow adds a window to an existing session.
func (t *Tmux) NewWindow(ctx context.Context, session, window, wd string) error {
	_, err := t.run(ctx, "new-window", "-t", session, "-n", window, "-c", wd)
	return err
}

// SendText types text into the target pane literally, without pressing
// Enter. Interactive CLIs swallow text and keypress in one burst, so
// submission is a separate SendEnter after a short settle.
func (t *Tmux) SendText(ctx context.Context, target, text string) error {
	_, err := t.run(ctx, "send-keys", "-t", target, "-l", "--", text)
	return err
}

// SendEnter presses Enter in the target pane.
func (t *Tmux) SendEnter(ctx context.Context, target string) error {
	_, err := t.run(ctx, "send-keys", "-t", target, "Enter")
	return err
}

// CapturePane returns the pane contents including up to historyLines of
// scrollback. historyLines <= 0 captures the entire history.
func (t *Tmux) CapturePane(ctx context.Context, target string, historyLines int) (string, error) {
	start := "-"
	if historyLines > 0 {
		start = fmt.Sprintf("-%d", historyLines)
	}
	return t.run(ctx, "capture-pane", "-p", "-t", target, "-S", start)
}

// PipePane starts appending everything the pane renders to logFile.
func (t *Tmux) PipePane(ctx context.Context, target, logFile string) error {
	_, err := t.run(ctx, "pipe-pane", "-t", target, "-o", "cat >> "+worker.ShellQuote(logFile))
	return err
}

// StopPipePane stops an active pipe. A bare pipe-pane toggles off.
func (t *Tmux) StopPipePane(ctx context.Context, target string) error {
	_, err := t.run(ctx, "pipe-pane", "-t", target)
	return err
}

func (t *Tmux) KillWindow(ctx context.Context, target string) error {
	_, err := t.run(ctx, "kill-window", "-t", target)
	return err
}

func (t *Tmux) KillSession(ctx context.Context, session string) error {
	_, err := t.run(ctx, "kill-session", "-t", session)
	return err
}

// ListSessions returns all session names. A stopped tmux server means
// no sessions, not an error.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	out, err := t.runner.Run(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(string(out), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	return splitLines(string(out)), nil
}

// ListWindows returns the window names of a session.
func (t *Tmux) ListWindows(ctx context.Context, session string) ([]string, error) {
	out, err := t.run(ctx, "list-windows", "-t", session, "-F", "#{window_name}")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Attach replaces the CLI's foreground with the tmux client until the
// user detaches.
func (t *Tmux) Attach(ctx context.Context, session string) error {
	return t.runner.RunInteractive(ctx, "tmux", "attach-session", "-t", session)
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
