package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/handoff"
)

// Deliverable fixtures for scripted runs.
const analystOut = `ANALYST_SUMMARY
- OpenSpec artifacts: proposal.md, design.md, tasks.md
- Implementation notes: extend the converter export path
- Risks: schema drift
- Downstream impact: planner consumes the new field`

const programmerOut = `PROGRAMMER_SUMMARY
Files changed:
- internal/export/writer.go
Behavior implemented:
- atomic write of the revised document
Known limitations:
- none`

const testerPassOut = `RESULT: PASS
EVIDENCE:
- Commands run: make check
- Criteria checked: export file present and complete`

const testerFailOut = `RESULT: FAIL
EVIDENCE:
- Commands run: make check
- Failed criteria: export file truncated
- Recommended next fix: flush before rename`

// fakeWorkers satisfies Workers without tmux: terminal ids are handed
// out sequentially and every tail shows an idle prompt.
type fakeWorkers struct {
	mu      sync.Mutex
	n       int
	failAt  int // creation ordinal that errors, 0 for never
	created []string
	exited  []string
	sent    map[string][]string
	tailErr map[string]error
}

func newFakeWorkers() *fakeWorkers {
	return &fakeWorkers{
		sent:    make(map[string][]string),
		tailErr: make(map[string]error),
	}
}

func (f *fakeWorkers) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.failAt > 0 && f.n == f.failAt {
		return "", fmt.Errorf("window creation failed")
	}
	id := fmt.Sprintf("t%d", f.n)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeWorkers) CreateSession(ctx context.Context, profile, provider, wd string) (TerminalInfo, error) {
	id, err := f.next()
	if err != nil {
		return TerminalInfo{}, err
	}
	return TerminalInfo{ID: id, SessionName: "amx-test"}, nil
}

func (f *fakeWorkers) CreateTerminal(ctx context.Context, session, profile, provider, wd string) (TerminalInfo, error) {
	id, err := f.next()
	if err != nil {
		return TerminalInfo{}, err
	}
	return TerminalInfo{ID: id, SessionName: session}, nil
}

func (f *fakeWorkers) SendInput(ctx context.Context, terminalID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[terminalID] = append(f.sent[terminalID], message)
	return nil
}

func (f *fakeWorkers) TailText(ctx context.Context, terminalID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tailErr[terminalID]; err != nil {
		return "", err
	}
	return "> \n", nil
}

func (f *fakeWorkers) LastOutput(ctx context.Context, terminalID string) (string, error) {
	return "", nil
}

func (f *fakeWorkers) Exit(ctx context.Context, terminalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = append(f.exited, terminalID)
	return nil
}

// reply scripts one SendAndWait exchange for an expected role.
type reply struct {
	role domain.Role
	out  string
	err  error
}

type scriptDispatcher struct {
	t       *testing.T
	script  []reply
	roles   []domain.Role
	prompts []string
}

func (d *scriptDispatcher) SendAndWait(ctx context.Context, term handoff.Terminal, message string) (string, error) {
	d.roles = append(d.roles, term.Role)
	d.prompts = append(d.prompts, message)
	i := len(d.roles) - 1
	require.Less(d.t, i, len(d.script), "unexpected dispatch to %s", term.Role)
	entry := d.script[i]
	require.Equal(d.t, entry.role, term.Role, "dispatch %d", i)
	return entry.out, entry.err
}

type loopClock struct {
	mu sync.Mutex
	t  time.Time
}

func newLoopClock() *loopClock {
	return &loopClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *loopClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *loopClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func loopConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Provider = "claude_code"
	cfg.WD = t.TempDir()
	cfg.StateFile = filepath.Join(cfg.WD, ".tmp", "orchestrator_state.json")
	cfg.Prompt = testPrompt
	cfg.Limits.MaxRounds = 3
	cfg.Limits.MaxReviewCycles = 2
	cfg.Limits.MinReviewCyclesBeforeApproval = 1
	return cfg
}

func loopRunner(t *testing.T, cfg *config.Config, script []reply) (*Runner, *fakeWorkers, *scriptDispatcher) {
	t.Helper()
	fake := newFakeWorkers()
	r, err := NewRunner(cfg, fake)
	require.NoError(t, err)
	d := &scriptDispatcher{t: t, script: script}
	clock := newLoopClock()
	r.dispatch = d
	r.out = io.Discard
	r.now = clock.Now
	r.sleep = clock.Sleep
	return r, fake, d
}

func TestRunPassFirstRound(t *testing.T) {
	cfg := loopConfig(t)
	r, fake, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: analystApproved},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, 1, res.Rounds)

	require.Len(t, fake.created, 5)
	assert.Equal(t, []string{"/rename analyst-t1"}, fake.sent["t1"])
	assert.Equal(t, []string{"/rename tester-t5"}, fake.sent["t5"])
	assert.Contains(t, d.prompts[0], "planner and a converter")
	assert.Contains(t, d.prompts[0], "analyst_summary.md")

	// terminals stay up for inspection unless cleanup_on_exit is set
	assert.Empty(t, fake.exited)

	st, err := NewStore(cfg.StateFile).Load()
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDone, st.Phase)
	assert.Equal(t, StatusPass, st.FinalStatus)
	assert.Equal(t, "amx-test", st.SessionName)
	assert.Equal(t, "t3", st.Terminals[domain.RoleProgrammer].ID)
}

func TestRunShortcutRetrySkipsAnalyst(t *testing.T) {
	cfg := loopConfig(t)
	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: analystApproved},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerFailOut},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, 2, res.Rounds)

	assert.Equal(t, []domain.Role{
		domain.RoleAnalyst, domain.RolePeerAnalyst,
		domain.RoleProgrammer, domain.RolePeerProgrammer, domain.RoleTester,
		domain.RoleProgrammer, domain.RolePeerProgrammer, domain.RoleTester,
	}, d.roles)

	// the retry programmer sees the tester evidence and the previous
	// round's change summary, with the analyst handoff still in place
	retry := d.prompts[5]
	assert.Contains(t, retry, "RESULT: FAIL")
	assert.Contains(t, retry, "export file truncated")
	assert.Contains(t, retry, "Previous round programmer changes (context only):")
	assert.Contains(t, retry, "internal/export/writer.go")
	assert.Contains(t, retry, "extend the converter export path")
}

func TestRunRetryExhaustsRounds(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Limits.MaxRounds = 2
	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: analystApproved},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerFailOut},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerFailOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Passed())
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, 2, res.Rounds)
	assert.Len(t, d.roles, 8)

	st, err := NewStore(cfg.StateFile).Load()
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDone, st.Phase)
	assert.Equal(t, StatusFail, st.FinalStatus)
}

func TestReviewCyclesExhaustedProceedsWithFeedback(t *testing.T) {
	cfg := loopConfig(t)
	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: reviseReview},
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: reviseReview},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())

	// cycle 2 analyst sees the condensed revise notes
	assert.Contains(t, d.prompts[2], "Downstream impact section is missing")
	// the programmer is told review never approved
	assert.Contains(t, d.prompts[4], "Peer analyst did not approve after max review cycles.")
}

func TestStrictGateOverridesBareApproval(t *testing.T) {
	cfg := loopConfig(t)
	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: analystApprovedNoEvidence},
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: analystApproved},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	// the unsupported approval was treated as a revise
	assert.Contains(t, d.prompts[2], "Looks good to me")
}

func TestStartAgentSeedsPlaceholder(t *testing.T) {
	cfg := loopConfig(t)
	cfg.StartAgent = "programmer"
	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Contains(t, d.prompts[0], UpstreamPlaceholder)
}

func TestStartAgentPeerSkipsPrimaryOnce(t *testing.T) {
	cfg := loopConfig(t)
	cfg.StartAgent = "peer_programmer"
	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, []domain.Role{domain.RolePeerProgrammer, domain.RoleTester}, d.roles)
	// the review covers the seeded placeholder output
	assert.Contains(t, d.prompts[0], UpstreamPlaceholder)
}

func TestCleanupOnExit(t *testing.T) {
	cfg := loopConfig(t)
	cfg.CleanupOnExit = true
	r, fake, _ := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, out: analystOut},
		{role: domain.RolePeerAnalyst, out: analystApproved},
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3", "t4", "t5"}, fake.exited)
}

func TestCreateFailureTearsDownPartialSession(t *testing.T) {
	cfg := loopConfig(t)
	r, fake, _ := loopRunner(t, cfg, nil)
	fake.failAt = 3

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal creation failed")
	assert.Equal(t, []string{"t1", "t2"}, fake.exited)
}

func TestDispatchFailureAbortsResumable(t *testing.T) {
	cfg := loopConfig(t)
	fatal := &handoff.FatalError{Role: domain.RoleAnalyst, TerminalID: "t1", Reason: "terminal entered error state"}
	r, _, _ := loopRunner(t, cfg, []reply{
		{role: domain.RoleAnalyst, err: fatal},
	})

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, handoff.IsFatal(err))

	// the interrupted run stays resumable
	st, err := NewStore(cfg.StateFile).Load()
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.FinalStatus)
	assert.True(t, ShouldAutoResume(cfg.StateFile))
}

func TestRunRejectsUnstructuredPrompt(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Prompt = "do the thing"
	r, _, _ := loopRunner(t, cfg, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, config.IsInvalid(err))
}

func seedResumeState(t *testing.T, cfg *config.Config, mutate func(*State)) {
	t.Helper()
	st := NewState()
	st.API = cfg.API
	st.Provider = cfg.Provider
	st.WD = cfg.WD
	st.Prompt = testPrompt
	st.SessionName = "amx-test"
	for i, role := range domain.Roles() {
		st.Terminals[role] = TerminalRef{ID: fmt.Sprintf("t%d", i+1), Provider: cfg.Provider}
	}
	if mutate != nil {
		mutate(st)
	}
	require.NoError(t, NewStore(cfg.StateFile).Save(st))
}

func TestRunAutoResumesInProgressState(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Prompt = "" // prompt comes from the state file
	seedResumeState(t, cfg, func(st *State) {
		st.Phase = domain.PhaseTester
		st.Outputs[domain.OutputAnalyst] = analystOut
		st.Outputs[domain.OutputProgrammer] = programmerOut
	})

	r, fake, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Empty(t, fake.created)
	assert.Equal(t, []domain.Role{domain.RoleTester}, d.roles)
}

func TestRunResumeRequiresStateFile(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Resume = true
	r, _, _ := loopRunner(t, cfg, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no state file found")
}

func TestRunResumeRejectsIncompleteTerminals(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Resume = true
	seedResumeState(t, cfg, func(st *State) {
		st.Terminals[domain.RoleTester] = TerminalRef{}
	})
	r, _, _ := loopRunner(t, cfg, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing terminal ID")
}

func TestRunResumeRejectsUnreachableTerminal(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Resume = true
	seedResumeState(t, cfg, nil)
	r, fake, _ := loopRunner(t, cfg, nil)
	fake.tailErr["t3"] = fmt.Errorf("404: terminal not found")

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestRunResumeFallsBackWhenOutputsMissing(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Resume = true
	seedResumeState(t, cfg, func(st *State) {
		st.Phase = domain.PhaseTester // saved before the programmer delivered
		st.Outputs[domain.OutputAnalyst] = analystOut
	})

	r, _, d := loopRunner(t, cfg, []reply{
		{role: domain.RoleProgrammer, out: programmerOut},
		{role: domain.RolePeerProgrammer, out: programmerApproved},
		{role: domain.RoleTester, out: testerPassOut},
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, []domain.Role{
		domain.RoleProgrammer, domain.RolePeerProgrammer, domain.RoleTester,
	}, d.roles)
}

func TestRunAlreadyCompletedReturnsVerdict(t *testing.T) {
	cfg := loopConfig(t)
	cfg.Resume = true
	seedResumeState(t, cfg, func(st *State) {
		st.Phase = domain.PhaseDone
		st.FinalStatus = StatusPass
		st.Round = 2
	})

	r, fake, d := loopRunner(t, cfg, nil)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, 2, res.Rounds)
	assert.Empty(t, fake.created)
	assert.Empty(t, d.roles)
}
