package term

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/exec"
	"github.com/agentmux/agentmux/internal/logging"
	"github.com/agentmux/agentmux/internal/worker"
)

// OutputMode selects how much of a terminal's scrollback to return.
type OutputMode string

const (
	// ModeFull returns the entire pane history.
	ModeFull OutputMode = "full"
	// ModeLast returns the provider-extracted final response from a
	// bounded history window.
	ModeLast OutputMode = "last"
	// ModeTail returns the raw visible tail used for classification.
	ModeTail OutputMode = "tail"
)

const (
	tailHistoryLines = 200
	lastHistoryLines = 2000

	// enterDelay lets the CLI's input widget absorb typed text before
	// the submit keypress arrives.
	enterDelay = 200 * time.Millisecond

	initPollInterval = 1 * time.Second

	// RetentionDays bounds how long inactive terminals and their
	// transcripts are kept before prune removes them.
	RetentionDays = 14
)

// Terminal is the API view of one registered worker terminal.
type Terminal struct {
	ID        string        `json:"terminal_id"`
	Session   string        `json:"session_name"`
	Window    string        `json:"window_name"`
	Provider  string        `json:"provider"`
	Profile   string        `json:"agent_profile"`
	WD        string        `json:"working_directory"`
	Status    worker.Status `json:"status,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// CreateRequest carries the parameters for a new worker terminal.
type CreateRequest struct {
	Provider string
	Profile  string
	WD       string
	// Session forces the tmux session name instead of generating one.
	// Only meaningful when creating a session.
	Session string
}

// Manager owns the worker terminal lifecycle: tmux sessions and
// windows, provider CLI launch and readiness, transcripts, and the
// registry rows that tie them together.
type Manager struct {
	tmux     *Tmux
	store    *Store
	profiles string
	logs     string
	log      *logging.Logger

	// injected for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewManager wires a manager over the given runner and registry. The
// profile and transcript directories come from the home layout.
func NewManager(runner exec.Runner, store *Store) *Manager {
	paths := config.GetPaths()
	return &Manager{
		tmux:     NewTmux(runner),
		store:    store,
		profiles: paths.Profiles,
		logs:     paths.TerminalLogs,
		log:      logging.New("term"),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// CreateSession creates a fresh tmux session whose first window hosts a
// new worker terminal. A failed launch tears the whole session down so
// no half-initialized window survives.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*Terminal, error) {
	kind, id, err := m.validate(req)
	if err != nil {
		return nil, err
	}

	session := req.Session
	if session == "" {
		session = SessionPrefix + uuid.NewString()[:8]
	}
	if m.tmux.HasSession(ctx, session) {
		return nil, fmt.Errorf("tmux session %q already exists", session)
	}

	window := windowName(req.Profile, id)
	if err := m.tmux.NewSession(ctx, session, window, req.WD); err != nil {
		return nil, err
	}

	t, err := m.initTerminal(ctx, kind, id, session, window, req)
	if err != nil {
		if kerr := m.tmux.KillSession(ctx, session); kerr != nil {
			m.log.Warn("teardown_failed", map[string]any{"session": session, "error": kerr.Error()})
		}
		return nil, err
	}
	return t, nil
}

// CreateTerminal adds a worker terminal as a new window in an existing
// session.
func (m *Manager) CreateTerminal(ctx context.Context, session string, req CreateRequest) (*Terminal, error) {
	kind, id, err := m.validate(req)
	if err != nil {
		return nil, err
	}
	if !m.tmux.HasSession(ctx, session) {
		return nil, fmt.Errorf("tmux session %q not found", session)
	}

	window := windowName(req.Profile, id)
	if err := m.tmux.NewWindow(ctx, session, window, req.WD); err != nil {
		return nil, err
	}

	t, err := m.initTerminal(ctx, kind, id, session, window, req)
	if err != nil {
		if kerr := m.tmux.KillWindow(ctx, Target(session, window)); kerr != nil {
			m.log.Warn("teardown_failed", map[string]any{"window": window, "error": kerr.Error()})
		}
		return nil, err
	}
	return t, nil
}

func (m *Manager) validate(req CreateRequest) (worker.Kind, string, error) {
	kind, err := worker.KindFor(req.Provider)
	if err != nil {
		return nil, "", err
	}
	if req.Profile == "" {
		return nil, "", fmt.Errorf("agent profile is required")
	}
	info, err := os.Stat(req.WD)
	if err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("working directory %q is not a directory", req.WD)
	}
	return kind, ulid.Make().String(), nil
}

// initTerminal starts the transcript, launches the provider CLI in the
// window, waits for readiness and registers the terminal.
func (m *Manager) initTerminal(ctx context.Context, kind worker.Kind, id, session, window string, req CreateRequest) (*Terminal, error) {
	target := Target(session, window)

	if err := m.tmux.PipePane(ctx, target, filepath.Join(m.logs, id+".log")); err != nil {
		m.log.Warn("transcript_unavailable", map[string]any{"terminal": id, "error": err.Error()})
	}

	profile, err := worker.LoadProfile(m.profiles, req.Profile)
	if err != nil {
		return nil, err
	}
	if err := m.send(ctx, target, kind.LaunchCommand(profile)); err != nil {
		return nil, fmt.Errorf("launch %s: %w", kind.Name(), err)
	}
	if err := m.awaitReady(ctx, kind, target); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	rec := &Record{
		ID: id, Session: session, Window: window,
		Provider: req.Provider, Profile: req.Profile, WD: req.WD,
		CreatedAt: now, LastActive: now,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("register terminal: %w", err)
	}

	m.log.Info("terminal_created", map[string]any{
		"terminal": id, "session": session, "window": window, "provider": req.Provider,
	})
	return recordTerminal(rec, worker.StatusIdle), nil
}

// awaitReady polls the pane until the provider CLI settles at its
// prompt, answering a workspace trust dialog along the way for kinds
// that show one.
func (m *Manager) awaitReady(ctx context.Context, kind worker.Kind, target string) error {
	trust, trusts := kind.(worker.TrustPrompter)
	deadline := m.now().Add(kind.InitTimeout())

	for m.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.sleep(initPollInterval)

		tail, err := m.tmux.CapturePane(ctx, target, tailHistoryLines)
		if err != nil {
			return err
		}
		if trusts && trust.TrustPrompt(tail) {
			m.log.Info("trust_prompt_accepted", map[string]any{"target": target})
			if err := m.send(ctx, target, kind.AcceptAnswer()); err != nil {
				return err
			}
			continue
		}
		if kind.Classify(tail).Settled() {
			return nil
		}
	}
	return fmt.Errorf("%s not ready within %s", kind.Name(), kind.InitTimeout())
}

// send types a message followed by Enter after a settle delay.
func (m *Manager) send(ctx context.Context, target, message string) error {
	if message != "" {
		if err := m.tmux.SendText(ctx, target, message); err != nil {
			return err
		}
		m.sleep(enterDelay)
	}
	return m.tmux.SendEnter(ctx, target)
}

// Get returns one terminal with its live classified status.
func (m *Manager) Get(ctx context.Context, id string) (*Terminal, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordTerminal(rec, m.status(ctx, rec)), nil
}

// List returns all registered terminals with live status.
func (m *Manager) List(ctx context.Context) ([]*Terminal, error) {
	recs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Terminal, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordTerminal(rec, m.status(ctx, rec)))
	}
	return out, nil
}

// status classifies the pane tail. A terminal whose window is gone
// reads as error rather than failing the whole listing.
func (m *Manager) status(ctx context.Context, rec *Record) worker.Status {
	kind, err := worker.KindFor(rec.Provider)
	if err != nil {
		return worker.StatusError
	}
	tail, err := m.tmux.CapturePane(ctx, Target(rec.Session, rec.Window), tailHistoryLines)
	if err != nil {
		return worker.StatusError
	}
	return kind.Classify(tail)
}

// SendInput delivers a message to a terminal's CLI.
func (m *Manager) SendInput(ctx context.Context, id, message string) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.send(ctx, Target(rec.Session, rec.Window), message); err != nil {
		return err
	}
	if err := m.store.Touch(ctx, id, m.now().UTC()); err != nil {
		m.log.Warn("touch_failed", map[string]any{"terminal": id, "error": err.Error()})
	}
	return nil
}

// Output returns terminal text in the requested mode.
func (m *Manager) Output(ctx context.Context, id string, mode OutputMode) (string, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	target := Target(rec.Session, rec.Window)

	switch mode {
	case ModeFull, "":
		return m.tmux.CapturePane(ctx, target, 0)
	case ModeTail:
		return m.tmux.CapturePane(ctx, target, tailHistoryLines)
	case ModeLast:
		kind, err := worker.KindFor(rec.Provider)
		if err != nil {
			return "", err
		}
		text, err := m.tmux.CapturePane(ctx, target, lastHistoryLines)
		if err != nil {
			return "", err
		}
		return kind.ExtractLastResponse(text)
	default:
		return "", fmt.Errorf("unknown output mode %q", mode)
	}
}

// Exit stops the transcript, kills the terminal's window (the session
// too when it is the last window) and removes the registry row.
func (m *Manager) Exit(ctx context.Context, id string) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	target := Target(rec.Session, rec.Window)

	if err := m.tmux.StopPipePane(ctx, target); err != nil {
		m.log.Debug("stop_pipe_failed", map[string]any{"terminal": id, "error": err.Error()})
	}

	windows, err := m.tmux.ListWindows(ctx, rec.Session)
	switch {
	case err != nil:
		// Session already gone; registry cleanup below still applies.
		m.log.Warn("session_missing_on_exit", map[string]any{"terminal": id, "session": rec.Session})
	case len(windows) <= 1:
		if err := m.tmux.KillSession(ctx, rec.Session); err != nil {
			return err
		}
	default:
		if err := m.tmux.KillWindow(ctx, target); err != nil {
			return err
		}
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.log.Info("terminal_exited", map[string]any{"terminal": id, "session": rec.Session})
	return nil
}

// Prune exits terminals inactive past the retention window and sweeps
// orphaned transcripts. Returns the ids of removed terminals.
func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	cutoff := m.now().UTC().AddDate(0, 0, -RetentionDays)
	stale, err := m.store.Stale(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, rec := range stale {
		if err := m.Exit(ctx, rec.ID); err != nil {
			m.log.Warn("prune_failed", map[string]any{"terminal": rec.ID, "error": err.Error()})
			continue
		}
		pruned = append(pruned, rec.ID)
	}

	m.sweepSessions(ctx)
	m.sweepTranscripts(ctx, cutoff)
	return pruned, nil
}

// sweepSessions kills managed tmux sessions no registry row references,
// which survive when rows are removed out of band. Sessions without the
// managed prefix are never touched.
func (m *Manager) sweepSessions(ctx context.Context) {
	sessions, err := m.tmux.ListSessions(ctx)
	if err != nil {
		m.log.Warn("session_sweep_failed", map[string]any{"error": err.Error()})
		return
	}
	recs, err := m.store.List(ctx)
	if err != nil {
		return
	}
	live := make(map[string]bool, len(recs))
	for _, rec := range recs {
		live[rec.Session] = true
	}
	for _, session := range sessions {
		if !strings.HasPrefix(session, SessionPrefix) || live[session] {
			continue
		}
		if err := m.tmux.KillSession(ctx, session); err != nil {
			m.log.Warn("orphan_session_kill_failed", map[string]any{"session": session, "error": err.Error()})
			continue
		}
		m.log.Info("orphan_session_killed", map[string]any{"session": session})
	}
}

// sweepTranscripts deletes transcript logs older than the cutoff whose
// terminal is no longer registered.
func (m *Manager) sweepTranscripts(ctx context.Context, cutoff time.Time) {
	matches, err := doublestar.FilepathGlob(filepath.Join(m.logs, "*.log"))
	if err != nil {
		m.log.Warn("transcript_sweep_failed", map[string]any{"error": err.Error()})
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), ".log")
		if _, err := m.store.Get(ctx, id); err == nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.log.Warn("transcript_remove_failed", map[string]any{"file": path, "error": err.Error()})
		}
	}
}

func recordTerminal(rec *Record, status worker.Status) *Terminal {
	return &Terminal{
		ID:        rec.ID,
		Session:   rec.Session,
		Window:    rec.Window,
		Provider:  rec.Provider,
		Profile:   rec.Profile,
		WD:        rec.WD,
		Status:    status,
		CreatedAt: rec.CreatedAt,
	}
}

// windowName labels a window with its profile and a short id suffix so
// tmux status lines stay readable.
func windowName(profile, id string) string {
	name := strings.NewReplacer("/", "-", ".", "-", ":", "-").Replace(profile)
	return fmt.Sprintf("%s-%s", name, strings.ToLower(id[len(id)-4:]))
}
