// Package pipeline drives five cooperating agent terminals through the
// explore, review, implement, review, test workflow, retrying on a
// failed test verdict until the round cap.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/handoff"
	"github.com/agentmux/agentmux/internal/logging"
	"github.com/agentmux/agentmux/internal/worker"
)

// Workers is the terminal lifecycle surface the pipeline drives. Both the
// in-process manager and the HTTP client satisfy it.
type Workers interface {
	handoff.Sessions
	CreateSession(ctx context.Context, profile, provider, wd string) (TerminalInfo, error)
	CreateTerminal(ctx context.Context, session, profile, provider, wd string) (TerminalInfo, error)
	Exit(ctx context.Context, terminalID string) error
}

// TerminalInfo is the result of creating a terminal.
type TerminalInfo struct {
	ID          string
	SessionName string
}

// dispatcher is the handoff surface the loop sends through (the poller
// in production).
type dispatcher interface {
	SendAndWait(ctx context.Context, t handoff.Terminal, message string) (string, error)
}

// Result is the terminal outcome of a completed run.
type Result struct {
	Status string
	Rounds int
}

// Passed reports a PASS outcome.
func (res *Result) Passed() bool { return res.Status == StatusPass }

// Runner owns the orchestration loop: phase and round bookkeeping,
// dispatches through the handoff poller, review gating, the shortcut
// retry, and state persistence after every mutation.
type Runner struct {
	cfg      *config.Config
	workers  Workers
	dispatch dispatcher
	mailbox  *handoff.Mailbox
	prompts  *Prompts
	gate     *Gate
	cond     *Condenser
	store    *Store
	state    *State
	kinds    map[domain.Role]worker.Kind
	log      *logging.Logger
	out      io.Writer
	prompt   string

	// startAtPeer skips exactly one primary dispatch when start_agent is
	// a peer role.
	startAtPeer bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewRunner wires a runner over the given worker surface.
func NewRunner(cfg *config.Config, workers Workers) (*Runner, error) {
	kinds := make(map[domain.Role]worker.Kind, len(domain.Roles()))
	for _, role := range domain.Roles() {
		kind, err := worker.KindFor(cfg.AgentFor(role).Provider)
		if err != nil {
			return nil, err
		}
		kinds[role] = kind
	}
	mailbox := handoff.NewMailbox(cfg.WD)
	return &Runner{
		cfg:      cfg,
		workers:  workers,
		dispatch: handoff.NewPoller(workers, mailbox, cfg.Handoff, cfg.Limits.PollInterval()),
		mailbox:  mailbox,
		gate:     NewGate(cfg.Limits),
		cond:     NewCondenser(cfg.Condensation),
		store:    NewStore(cfg.StateFile),
		kinds:    kinds,
		log:      logging.New("pipeline"),
		out:      os.Stdout,
		now:      time.Now,
		sleep:    time.Sleep,
	}, nil
}

// Run resolves the prompt, initializes or resumes the run, and drives
// the loop to a final verdict. The returned error is nil for both PASS
// and rounds-exhausted FAIL; it is non-nil for aborts (handoff failures,
// invalid prompt, unreachable terminals).
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	resume := r.cfg.Resume
	if !resume && ShouldAutoResume(r.cfg.StateFile) {
		r.log.Info("auto_resume", map[string]any{"state_file": r.cfg.StateFile})
		resume = true
	}

	prompt, err := r.cfg.LoadPrompt()
	if err != nil {
		return nil, config.Invalidf("prompt_file", "%v", err)
	}
	if strings.TrimSpace(prompt) == "" && resume {
		if saved := r.store.SavedPrompt(); strings.TrimSpace(saved) != "" {
			prompt = saved
			r.log.Info("prompt_loaded_from_state", nil)
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, config.Invalidf("prompt", "empty; set prompt or prompt_file")
	}
	explore, scenario, err := SplitPrompt(prompt)
	if err != nil {
		return nil, config.Invalidf("prompt", "%v", err)
	}
	r.prompt = prompt
	r.prompts = NewPrompts(r.cfg, r.mailbox, r.cond, explore, scenario)

	if err := r.mailbox.Ensure(); err != nil {
		return nil, err
	}

	if resume {
		st, err := r.store.Load()
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("resume requested but no state file found: %s", r.cfg.StateFile)
			}
			return nil, err
		}
		r.state = st
		if err := r.verifyResumeTerminals(ctx); err != nil {
			return nil, err
		}
		r.log.Info("resumed", map[string]any{"round": st.Round, "phase": string(st.Phase)})
		r.logTerminals()
	} else {
		if err := r.initNewRun(ctx); err != nil {
			return nil, err
		}
	}

	if r.state.Phase == domain.PhaseDone {
		r.log.Info("already_completed", map[string]any{"final_status": r.state.FinalStatus})
		return &Result{Status: r.state.FinalStatus, Rounds: r.state.Round}, nil
	}

	return r.loop(ctx)
}

// Shutdown persists state and, when cleanup_on_exit is set, exits all
// terminals. Registered as a signal handler by the CLI.
func (r *Runner) Shutdown(ctx context.Context) {
	r.cleanup(ctx, true)
}

func (r *Runner) initNewRun(ctx context.Context) error {
	r.state = NewState()
	st := r.state

	var created []string
	teardown := func() {
		for _, id := range created {
			if err := r.workers.Exit(ctx, id); err != nil {
				r.log.Warn("teardown_failed", map[string]any{"terminal": id, "error": err.Error()})
			}
		}
	}

	roles := domain.Roles()
	first := r.cfg.AgentFor(roles[0])
	info, err := r.workers.CreateSession(ctx, first.Profile, first.Provider, r.cfg.WD)
	if err != nil {
		return fmt.Errorf("terminal creation failed: %w", err)
	}
	st.SessionName = info.SessionName
	st.Terminals[roles[0]] = TerminalRef{ID: info.ID, Provider: first.Provider}
	created = append(created, info.ID)
	r.renameTerminal(ctx, roles[0], info.ID)

	for _, role := range roles[1:] {
		agent := r.cfg.AgentFor(role)
		info, err := r.workers.CreateTerminal(ctx, st.SessionName, agent.Profile, agent.Provider, r.cfg.WD)
		if err != nil {
			teardown()
			return fmt.Errorf("terminal creation failed: %w", err)
		}
		st.Terminals[role] = TerminalRef{ID: info.ID, Provider: agent.Provider}
		created = append(created, info.ID)
		r.renameTerminal(ctx, role, info.ID)
	}

	start := domain.Role(r.cfg.StartAgent)
	st.Phase = start.Phase()
	switch start {
	case domain.RolePeerAnalyst, domain.RoleProgrammer, domain.RolePeerProgrammer, domain.RoleTester:
		st.Outputs[domain.OutputAnalyst] = UpstreamPlaceholder
	}
	if start == domain.RolePeerProgrammer || start == domain.RoleTester {
		st.Outputs[domain.OutputProgrammer] = UpstreamPlaceholder
	}
	if start.IsPeer() {
		r.startAtPeer = true
	}

	if err := r.persist(); err != nil {
		teardown()
		return err
	}
	r.log.Info("run_initialized", map[string]any{"state_file": r.cfg.StateFile, "start_agent": string(start)})
	r.logTerminals()
	return nil
}

func (r *Runner) verifyResumeTerminals(ctx context.Context) error {
	for _, role := range domain.Roles() {
		ref := r.state.Terminals[role]
		if ref.ID == "" {
			return fmt.Errorf("cannot resume: missing terminal ID for %q in state file (%s)", role, r.cfg.StateFile)
		}
		if _, err := r.workers.TailText(ctx, ref.ID); err != nil {
			return fmt.Errorf("cannot resume: terminal %q (%s) is unreachable from API %q: %w",
				ref.ID, role, r.cfg.API, err)
		}
		want := r.cfg.AgentFor(role).Provider
		if ref.Provider != "" && ref.Provider != want {
			r.log.Warn("provider_mismatch", map[string]any{
				"role": string(role), "state": ref.Provider, "config": want,
			})
		}
	}
	return nil
}

// renameTerminal labels a terminal with its role, best effort: the
// /rename command is advisory and some CLIs ignore it.
func (r *Runner) renameTerminal(ctx context.Context, role domain.Role, id string) {
	if err := r.workers.SendInput(ctx, id, fmt.Sprintf("/rename %s-%s", role, id)); err != nil {
		r.log.Warn("rename_failed", map[string]any{"role": string(role), "error": err.Error()})
		return
	}
	kind := r.kinds[role]
	deadline := r.now().Add(5 * time.Second)
	for r.now().Before(deadline) {
		tail, err := r.workers.TailText(ctx, id)
		if err == nil && kind.Classify(tail).Settled() {
			return
		}
		r.sleep(500 * time.Millisecond)
	}
	r.log.Warn("rename_not_settled", map[string]any{"role": string(role)})
}

func (r *Runner) loop(ctx context.Context) (*Result, error) {
	st := r.state
	for st.Round <= r.cfg.Limits.MaxRounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		round := st.Round
		r.log.Info("round_start", map[string]any{"round": round})

		if st.Phase == domain.PhaseAnalyst {
			if err := r.analystPhase(ctx, round); err != nil {
				return nil, err
			}
		}
		if st.Phase == domain.PhaseProgrammer {
			retry, err := r.programmerPhase(ctx, round)
			if err != nil {
				return nil, err
			}
			if retry {
				continue
			}
		}
		if st.Phase == domain.PhaseTester {
			res, retry, err := r.testerPhase(ctx, round)
			if err != nil {
				return nil, err
			}
			if retry {
				continue
			}
			if res != nil {
				return res, nil
			}
		}
	}

	st.Phase = domain.PhaseDone
	st.FinalStatus = StatusFail
	r.saveState()
	r.log.Info("rounds_exhausted", map[string]any{"max_rounds": r.cfg.Limits.MaxRounds})
	fmt.Fprintf(r.out, "\nFINAL: FAIL (reached max rounds %d without PASS)\n", r.cfg.Limits.MaxRounds)
	r.cleanup(ctx, false)
	return &Result{Status: StatusFail, Rounds: r.cfg.Limits.MaxRounds}, nil
}

func (r *Runner) analystPhase(ctx context.Context, round int) error {
	st := r.state
	log := r.log.WithPhase(string(domain.PhaseAnalyst), round)

	if strings.TrimSpace(st.AnalystFeedback) == "" {
		st.AnalystFeedback = "None yet."
	}
	if !r.startAtPeer {
		st.Outputs[domain.OutputAnalyst] = ""
	}
	st.Outputs[domain.OutputAnalystReview] = ""
	r.saveState()

	approved := false
	for cycle := 1; cycle <= r.cfg.Limits.MaxReviewCycles; cycle++ {
		if r.startAtPeer {
			log.Info("skip_primary_dispatch", map[string]any{"start_agent": r.cfg.StartAgent})
			r.startAtPeer = false
		} else {
			log.Info("dispatch", map[string]any{"role": "analyst", "cycle": cycle})
			out, err := r.dispatch.SendAndWait(ctx, r.terminal(domain.RoleAnalyst), r.prompts.Analyst(st, cycle))
			if err != nil {
				return err
			}
			st.Outputs[domain.OutputAnalyst] = out
			r.saveState()
		}

		log.Info("dispatch", map[string]any{"role": "peer_analyst", "cycle": cycle})
		review, err := r.dispatch.SendAndWait(ctx, r.terminal(domain.RolePeerAnalyst), r.prompts.AnalystReview(st))
		if err != nil {
			return err
		}
		st.Outputs[domain.OutputAnalystReview] = review
		r.saveState()

		if r.gate.Approved(review, cycle, ReviewAnalyst) {
			log.Info("review_approved", map[string]any{"cycle": cycle})
			approved = true
			st.AnalystFeedback = "None yet."
			r.saveState()
			break
		}
		if HasApprovalToken(review) {
			log.Info("approval_ignored_by_strict_gate", map[string]any{"cycle": cycle})
		}
		log.Info("review_revise", map[string]any{"cycle": cycle})
		st.AnalystFeedback = r.cond.ReviewNotes(review)
		r.saveState()
	}

	if !approved {
		log.Warn("review_cycles_exhausted", nil)
		st.Feedback = "Peer analyst did not approve after max review cycles. Latest review:\n" +
			r.cond.ReviewNotes(st.Outputs[domain.OutputAnalystReview])
		r.saveState()
	}

	st.Phase = domain.PhaseProgrammer
	if strings.TrimSpace(st.ProgrammerFeedback) == "" {
		st.ProgrammerFeedback = "None yet."
	}
	r.saveState()
	return nil
}

// programmerPhase returns retry=true when a resume landed here without
// an analyst output and the loop must fall back a phase.
func (r *Runner) programmerPhase(ctx context.Context, round int) (bool, error) {
	st := r.state
	log := r.log.WithPhase(string(domain.PhaseProgrammer), round)

	if strings.TrimSpace(st.Outputs[domain.OutputAnalyst]) == "" {
		log.Warn("missing_analyst_output", nil)
		st.Phase = domain.PhaseAnalyst
		r.saveState()
		return true, nil
	}

	if strings.TrimSpace(st.ProgrammerFeedback) == "" {
		st.ProgrammerFeedback = "None yet."
	}
	if !r.startAtPeer {
		st.Outputs[domain.OutputProgrammer] = ""
	}
	st.Outputs[domain.OutputProgrammerReview] = ""
	r.saveState()

	approved := false
	for cycle := 1; cycle <= r.cfg.Limits.MaxReviewCycles; cycle++ {
		if r.startAtPeer {
			log.Info("skip_primary_dispatch", map[string]any{"start_agent": r.cfg.StartAgent})
			r.startAtPeer = false
		} else {
			log.Info("dispatch", map[string]any{"role": "programmer", "cycle": cycle})
			out, err := r.dispatch.SendAndWait(ctx, r.terminal(domain.RoleProgrammer), r.prompts.Programmer(st, cycle))
			if err != nil {
				return false, err
			}
			st.Outputs[domain.OutputProgrammer] = out
			r.saveState()
		}

		log.Info("dispatch", map[string]any{"role": "peer_programmer", "cycle": cycle})
		review, err := r.dispatch.SendAndWait(ctx, r.terminal(domain.RolePeerProgrammer), r.prompts.ProgrammerReview(st))
		if err != nil {
			return false, err
		}
		st.Outputs[domain.OutputProgrammerReview] = review
		r.saveState()

		if r.gate.Approved(review, cycle, ReviewProgrammer) {
			log.Info("review_approved", map[string]any{"cycle": cycle})
			approved = true
			st.ProgrammerFeedback = "None yet."
			r.saveState()
			break
		}
		if HasApprovalToken(review) {
			log.Info("approval_ignored_by_strict_gate", map[string]any{"cycle": cycle})
		}
		log.Info("review_revise", map[string]any{"cycle": cycle})
		st.ProgrammerFeedback = r.cond.ReviewNotes(review)
		r.saveState()
	}

	if !approved {
		log.Warn("review_cycles_exhausted", nil)
		st.Feedback = "Peer programmer did not approve after max review cycles. Latest review:\n" +
			r.cond.ReviewNotes(st.Outputs[domain.OutputProgrammerReview])
		r.saveState()
	}

	st.Phase = domain.PhaseTester
	r.saveState()
	return false, nil
}

// testerPhase returns a non-nil Result on PASS. retry=true means a
// resume landed here without a programmer output. A FAIL verdict takes
// the shortcut: the next round re-enters at the programmer phase with
// the analyst outputs preserved, carrying condensed test evidence and
// the previous round's change summary.
func (r *Runner) testerPhase(ctx context.Context, round int) (*Result, bool, error) {
	st := r.state
	log := r.log.WithPhase(string(domain.PhaseTester), round)

	if strings.TrimSpace(st.Outputs[domain.OutputProgrammer]) == "" {
		log.Warn("missing_programmer_output", nil)
		st.Phase = domain.PhaseProgrammer
		r.saveState()
		return nil, true, nil
	}

	log.Info("dispatch", map[string]any{"role": "tester"})
	out, err := r.dispatch.SendAndWait(ctx, r.terminal(domain.RoleTester), r.prompts.Tester(st))
	if err != nil {
		return nil, false, err
	}
	st.Outputs[domain.OutputTester] = out
	r.saveState()

	fmt.Fprintln(r.out, out)

	if TestPassed(out) {
		st.Phase = domain.PhaseDone
		st.FinalStatus = StatusPass
		r.saveState()
		log.Info("final", map[string]any{"status": StatusPass, "round": round})
		fmt.Fprintln(r.out, "\nFINAL: PASS")
		r.cleanup(ctx, false)
		return &Result{Status: StatusPass, Rounds: round}, false, nil
	}

	st.Feedback = r.cond.TestEvidence(out)
	st.ProgrammerContextForRetry = r.cond.ProgrammerForTester(st.Outputs[domain.OutputProgrammer])
	log.Info("test_failed_retrying", map[string]any{"next_round": round + 1})
	fmt.Fprintln(r.out, "\nFINAL: FAIL (retrying)")

	st.Round++
	st.Phase = domain.PhaseProgrammer
	st.AnalystFeedback = "None yet."
	st.ProgrammerFeedback = "None yet."
	st.Outputs[domain.OutputProgrammer] = ""
	st.Outputs[domain.OutputProgrammerReview] = ""
	st.Outputs[domain.OutputTester] = ""
	r.saveState()
	return nil, false, nil
}

func (r *Runner) terminal(role domain.Role) handoff.Terminal {
	return handoff.Terminal{ID: r.state.Terminals[role].ID, Role: role, Kind: r.kinds[role]}
}

func (r *Runner) persist() error {
	st := r.state
	st.API = r.cfg.API
	st.Provider = r.cfg.Provider
	st.WD = r.cfg.WD
	st.Prompt = r.prompt
	return r.store.Save(st)
}

// saveState persists with a warning on failure: a transient write error
// must not kill five working agents mid-round.
func (r *Runner) saveState() {
	if err := r.persist(); err != nil {
		r.log.Warn("state_save_failed", map[string]any{"error": err.Error()})
	}
}

func (r *Runner) cleanup(ctx context.Context, save bool) {
	if save && r.state != nil {
		r.saveState()
	}
	if !r.cfg.CleanupOnExit || r.state == nil {
		return
	}
	for _, role := range domain.Roles() {
		if id := r.state.Terminals[role].ID; id != "" {
			if err := r.workers.Exit(ctx, id); err != nil {
				r.log.Warn("terminal_exit_failed", map[string]any{"terminal": id, "error": err.Error()})
			}
		}
	}
}

func (r *Runner) logTerminals() {
	r.log.Info("session", map[string]any{"session_name": r.state.SessionName})
	for _, role := range domain.Roles() {
		ref := r.state.Terminals[role]
		r.log.Info("terminal_bound", map[string]any{
			"role": string(role), "terminal": ref.ID, "provider": ref.Provider,
		})
	}
}
