package term

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/exec"
	"github.com/agentmux/agentmux/internal/worker"
)

const (
	idleTail       = "> \n"
	processingTail = "✻ Cooking… (3s · thinking)\n"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time        { return c.t }
func (c *fakeClock) Sleep(d time.Duration) { c.t = c.t.Add(d) }

func testManager(t *testing.T, mock *exec.MockRunner) *Manager {
	t.Helper()
	m := NewManager(mock, testStore(t))
	m.logs = t.TempDir()
	m.profiles = t.TempDir()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clock.Now
	m.sleep = clock.Sleep
	return m
}

// sessionAbsent makes has-session report no such session, which is the
// normal state before a create.
func sessionAbsent(mock *exec.MockRunner) {
	mock.AddResponse("tmux has-session", exec.MockResponse{
		Stdout: []byte("can't find session"),
		Err:    errors.New("exit status 1"),
	})
}

func TestCreateSessionLaunchSequence(t *testing.T) {
	mock := exec.NewMockRunner()
	sessionAbsent(mock)
	mock.AddResponse("tmux capture-pane", exec.MockResponse{Stdout: []byte(idleTail)})
	m := testManager(t, mock)
	wd := t.TempDir()

	term, err := m.CreateSession(context.Background(), CreateRequest{
		Provider: "claude_code", Profile: "analyst", WD: wd,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(term.Session, SessionPrefix), "session %q", term.Session)
	assert.True(t, strings.HasPrefix(term.Window, "analyst-"), "window %q", term.Window)
	assert.NotEmpty(t, term.ID)
	assert.Equal(t, worker.StatusIdle, term.Status)

	lines := mock.CommandLines()
	require.GreaterOrEqual(t, len(lines), 6)
	assert.Contains(t, lines[0], "has-session")
	assert.Contains(t, lines[1], "new-session -d -s "+term.Session)
	assert.Contains(t, lines[2], "pipe-pane")
	assert.Contains(t, lines[2], term.ID+".log")
	assert.Contains(t, lines[3], "claude --dangerously-skip-permissions")
	assert.Contains(t, lines[4], "Enter")
	assert.Contains(t, lines[5], "capture-pane")

	// The terminal is registered once ready.
	rec, err := m.store.Get(context.Background(), term.ID)
	require.NoError(t, err)
	assert.Equal(t, term.Session, rec.Session)
}

func TestCreateSessionInjectsProfilePrompt(t *testing.T) {
	mock := exec.NewMockRunner()
	sessionAbsent(mock)
	mock.AddResponse("tmux capture-pane", exec.MockResponse{Stdout: []byte(idleTail)})
	m := testManager(t, mock)

	require.NoError(t, os.WriteFile(filepath.Join(m.profiles, "analyst.md"), []byte("You explore code."), 0o644))

	_, err := m.CreateSession(context.Background(), CreateRequest{
		Provider: "claude_code", Profile: "analyst", WD: t.TempDir(),
	})
	require.NoError(t, err)

	launch := strings.Join(mock.CommandLines(), "\n")
	assert.Contains(t, launch, "--append-system-prompt")
	assert.Contains(t, launch, "You explore code.")
}

func TestCreateSessionTearsDownOnInitTimeout(t *testing.T) {
	mock := exec.NewMockRunner()
	sessionAbsent(mock)
	mock.AddResponse("tmux capture-pane", exec.MockResponse{Stdout: []byte(processingTail)})
	m := testManager(t, mock)

	_, err := m.CreateSession(context.Background(), CreateRequest{
		Provider: "claude_code", Profile: "analyst", WD: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")

	lines := mock.CommandLines()
	assert.Contains(t, lines[len(lines)-1], "kill-session")

	recs, err := m.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCreateSessionRejectsUnknownProvider(t *testing.T) {
	mock := exec.NewMockRunner()
	m := testManager(t, mock)

	_, err := m.CreateSession(context.Background(), CreateRequest{
		Provider: "gpt", Profile: "analyst", WD: t.TempDir(),
	})
	require.Error(t, err)
	assert.Empty(t, mock.Calls, "no tmux calls on validation failure")
}

func TestCreateSessionRejectsExistingName(t *testing.T) {
	mock := exec.NewMockRunner() // has-session succeeds by default
	m := testManager(t, mock)

	_, err := m.CreateSession(context.Background(), CreateRequest{
		Provider: "claude_code", Profile: "analyst", WD: t.TempDir(), Session: "amx-busy",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateSessionRejectsMissingWorkdir(t *testing.T) {
	mock := exec.NewMockRunner()
	m := testManager(t, mock)

	_, err := m.CreateSession(context.Background(), CreateRequest{
		Provider: "claude_code", Profile: "analyst", WD: "/does/not/exist",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "working directory")
}

func TestCreateTerminalRequiresSession(t *testing.T) {
	mock := exec.NewMockRunner()
	sessionAbsent(mock)
	m := testManager(t, mock)

	_, err := m.CreateTerminal(context.Background(), "amx-gone", CreateRequest{
		Provider: "claude_code", Profile: "tester", WD: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSendInputTypesThenSubmits(t *testing.T) {
	mock := exec.NewMockRunner()
	m := testManager(t, mock)
	ctx := context.Background()

	created := m.now().UTC().Add(-time.Hour)
	rec := testRecord("01TESTTERMINAL0000000000AB", created)
	require.NoError(t, m.store.Create(ctx, rec))

	require.NoError(t, m.SendInput(ctx, rec.ID, "run the tests"))

	require.Len(t, mock.Calls, 2)
	assert.Equal(t, []string{"send-keys", "-t", Target(rec.Session, rec.Window), "-l", "--", "run the tests"}, mock.Calls[0].Args)
	assert.Equal(t, []string{"send-keys", "-t", Target(rec.Session, rec.Window), "Enter"}, mock.Calls[1].Args)

	got, err := m.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActive.After(created), "last_active should be bumped")
}

func TestOutputModes(t *testing.T) {
	mock := exec.NewMockRunner()
	mock.AddResponse("tmux capture-pane", exec.MockResponse{Stdout: []byte("⏺ All tests pass.\n> \n")})
	m := testManager(t, mock)
	ctx := context.Background()

	rec := testRecord("01TESTTERMINAL0000000000CD", m.now().UTC())
	require.NoError(t, m.store.Create(ctx, rec))

	full, err := m.Output(ctx, rec.ID, ModeFull)
	require.NoError(t, err)
	assert.Contains(t, full, "All tests pass.")
	assert.Contains(t, mock.CommandLines()[0], "-S -")

	_, err = m.Output(ctx, rec.ID, ModeTail)
	require.NoError(t, err)
	assert.Contains(t, mock.CommandLines()[1], "-S -200")

	last, err := m.Output(ctx, rec.ID, ModeLast)
	require.NoError(t, err)
	assert.Equal(t, "All tests pass.", last)
	assert.Contains(t, mock.CommandLines()[2], "-S -2000")

	_, err = m.Output(ctx, rec.ID, OutputMode("head"))
	require.Error(t, err)
}

func TestOutputUnknownTerminal(t *testing.T) {
	mock := exec.NewMockRunner()
	m := testManager(t, mock)

	_, err := m.Output(context.Background(), "missing", ModeFull)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExitKillsSessionWhenLastWindow(t *testing.T) {
	mock := exec.NewMockRunner()
	mock.AddResponse("tmux list-windows", exec.MockResponse{Stdout: []byte("analyst-00ab\n")})
	m := testManager(t, mock)
	ctx := context.Background()

	rec := testRecord("01TESTTERMINAL0000000000EF", m.now().UTC())
	require.NoError(t, m.store.Create(ctx, rec))

	require.NoError(t, m.Exit(ctx, rec.ID))

	lines := strings.Join(mock.CommandLines(), "\n")
	assert.Contains(t, lines, "kill-session -t "+rec.Session)
	assert.NotContains(t, lines, "kill-window")

	_, err := m.store.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExitKillsWindowWhenOthersRemain(t *testing.T) {
	mock := exec.NewMockRunner()
	mock.AddResponse("tmux list-windows", exec.MockResponse{Stdout: []byte("analyst-00ab\ntester-11cd\n")})
	m := testManager(t, mock)
	ctx := context.Background()

	rec := testRecord("01TESTTERMINAL0000000000GH", m.now().UTC())
	require.NoError(t, m.store.Create(ctx, rec))

	require.NoError(t, m.Exit(ctx, rec.ID))

	lines := strings.Join(mock.CommandLines(), "\n")
	assert.Contains(t, lines, "kill-window -t "+Target(rec.Session, rec.Window))
	assert.NotContains(t, lines, "kill-session")
}

func TestPruneRemovesStaleTerminalsAndOrphanLogs(t *testing.T) {
	mock := exec.NewMockRunner()
	m := testManager(t, mock)
	ctx := context.Background()
	now := m.now().UTC()

	stale := testRecord("OLD000000000000000000000AA", now.AddDate(0, 0, -20))
	fresh := testRecord("NEW000000000000000000000BB", now)
	require.NoError(t, m.store.Create(ctx, stale))
	require.NoError(t, m.store.Create(ctx, fresh))

	old := now.AddDate(0, 0, -20)
	orphan := filepath.Join(m.logs, "GONE00.log")
	kept := filepath.Join(m.logs, fresh.ID+".log")
	for _, path := range []string{orphan, kept} {
		require.NoError(t, os.WriteFile(path, []byte("transcript"), 0o644))
		require.NoError(t, os.Chtimes(path, old, old))
	}

	pruned, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, pruned)

	_, err = m.store.Get(ctx, stale.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.store.Get(ctx, fresh.ID)
	require.NoError(t, err)

	assert.NoFileExists(t, orphan)
	assert.FileExists(t, kept, "registered terminal keeps its transcript")
}

func TestPruneKillsOrphanSessions(t *testing.T) {
	mock := exec.NewMockRunner()
	mock.AddResponse("tmux list-sessions", exec.MockResponse{
		Stdout: []byte("amx-test\namx-orphan\nuser-shell\n"),
	})
	m := testManager(t, mock)
	ctx := context.Background()

	require.NoError(t, m.store.Create(ctx, testRecord("LIVE00000000000000000000AA", m.now().UTC())))

	_, err := m.Prune(ctx)
	require.NoError(t, err)

	lines := strings.Join(mock.CommandLines(), "\n")
	assert.Contains(t, lines, "kill-session -t amx-orphan")
	assert.NotContains(t, lines, "kill-session -t amx-test", "registered session survives")
	assert.NotContains(t, lines, "user-shell", "unmanaged sessions are never touched")
}

func TestWindowNameSanitizesProfile(t *testing.T) {
	name := windowName("team/reviewer", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.Equal(t, "team-reviewer-5fav", name)
}
