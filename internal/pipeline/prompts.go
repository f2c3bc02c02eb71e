package pipeline

import (
	"fmt"
	"strings"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/handoff"
)

// Header lines the run prompt must contain, verbatim, each on its own
// line. They delimit the explore summary and the scenario test.
const (
	ExploreHeader  = "*** ORIGINAL EXPLORE SUMMARY ***"
	ScenarioHeader = "*** SCENARIO TEST ***"
)

// UpstreamPlaceholder seeds skipped upstream outputs when start_agent
// enters the pipeline mid-way.
const UpstreamPlaceholder = "(No upstream output — START_AGENT skipped this phase. " +
	"Use codebase and prompt for context.)"

const exploreRepeatNote = "(Same as initial turn -- refer to your conversation history.)"
const upstreamRepeatNote = "(Same analyst output as previous cycle -- refer to conversation history.)"

// SplitPrompt validates the run prompt structure and returns the explore
// summary and scenario test sections.
func SplitPrompt(prompt string) (explore, scenario string, err error) {
	lines := splitLines(prompt)
	if !containsLine(lines, ExploreHeader) {
		return "", "", fmt.Errorf("prompt must include header: %s", ExploreHeader)
	}
	if !containsLine(lines, ScenarioHeader) {
		return "", "", fmt.Errorf("prompt must include header: %s", ScenarioHeader)
	}
	explore = sectionBetween(lines, ExploreHeader, ScenarioHeader)
	scenario = sectionBetween(lines, ScenarioHeader, "")
	if strings.TrimSpace(explore) == "" {
		return "", "", fmt.Errorf("ORIGINAL EXPLORE SUMMARY section is empty")
	}
	if strings.TrimSpace(scenario) == "" {
		return "", "", fmt.Errorf("SCENARIO TEST section is empty")
	}
	return explore, scenario, nil
}

func containsLine(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}

// sectionBetween collects the lines after the start header, stopping
// before the end header (when given). Headers match whole lines only.
func sectionBetween(lines []string, start, end string) string {
	var out []string
	capturing := false
	for _, line := range lines {
		if line == start {
			capturing = true
			continue
		}
		if end != "" && line == end {
			break
		}
		if capturing {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Prompts assembles the per-role dispatch messages. It tracks which
// terminals have already received the full explore summary so repeats
// can refer to conversation history instead.
type Prompts struct {
	cfg      *config.Config
	mailbox  *handoff.Mailbox
	condense *Condenser
	explore  string
	scenario string
	sent     map[string]bool
}

func NewPrompts(cfg *config.Config, mailbox *handoff.Mailbox, condense *Condenser, explore, scenario string) *Prompts {
	return &Prompts{
		cfg:      cfg,
		mailbox:  mailbox,
		condense: condense,
		explore:  explore,
		scenario: scenario,
		sent:     make(map[string]bool),
	}
}

func (p *Prompts) exploreBlock(terminalID string) string {
	if p.cfg.Condensation.CondenseExploreOnRepeat && p.sent[terminalID] {
		return ExploreHeader + "\n" + exploreRepeatNote
	}
	p.sent[terminalID] = true
	return ExploreHeader + "\n" + p.explore
}

func (p *Prompts) testCommandInstruction() string {
	if strings.TrimSpace(p.cfg.ProjectTestCmd) != "" {
		return "Use this project test command when validating locally: " + p.cfg.ProjectTestCmd
	}
	return "Use project-specific test command from AGENTS.md (do not assume plain pytest)."
}

// Analyst builds the analyst dispatch. Later rounds steer the analyst at
// the reported test failure instead of a fresh exploration.
func (p *Prompts) Analyst(st *State, cycle int) string {
	parts := []string{
		p.exploreBlock(st.Terminals[domain.RoleAnalyst].ID),
		"",
		fmt.Sprintf("Round: %d", st.Round),
		fmt.Sprintf("Analyst review cycle: %d", cycle),
		"Latest tester feedback:",
		st.Feedback,
	}
	if st.Round > 1 && st.ProgrammerContextForRetry != "" {
		parts = append(parts,
			"Previous round programmer changes (context only):",
			st.ProgrammerContextForRetry,
		)
	}
	parts = append(parts,
		"Latest peer analyst feedback:",
		st.AnalystFeedback,
		"",
		"Guard lines:",
		"system anaylist: dont do testing, dont implement code",
		"",
		"Task:",
	)
	if st.Round > 1 {
		parts = append(parts,
			"1) Use the OpenSpec explore skill to investigate the test failure described in the tester feedback above.",
			"2) Based on your findings, use the OpenSpec fast-forward skill to update the artifacts.",
		)
	} else {
		parts = append(parts,
			"1) Explore the codebase.",
			"2) Create/update all OpenSpec artifacts using the OpenSpec fast-forward skill.",
		)
	}
	parts = append(parts,
		"3) Return ANALYST_SUMMARY exactly as profile format.",
		"4) Include mandatory sections in ANALYST_SUMMARY:",
		"   - Artifact review per file: proposal.md, design.md, tasks.md, specs/* (PASS|REVISE + evidence).",
		"   - P1-P4 traceability: map each scenario requirement to artifact sections.",
		"   - Phased delivery coverage: phase-by-phase completeness/gaps.",
		"   - Downstream contract impact: planner/API/converter/revised_document implications.",
		"   - Explicit handoff: concrete actions for programmer.",
		p.mailbox.Instruction(domain.OutputAnalyst),
	)
	return strings.Join(parts, "\n")
}

// AnalystReview builds the peer analyst dispatch over the latest analyst
// output. The default stance is REVISE.
func (p *Prompts) AnalystReview(st *State) string {
	parts := []string{
		p.exploreBlock(st.Terminals[domain.RolePeerAnalyst].ID),
		"",
		"System analyst output to review:",
		st.Outputs[domain.OutputAnalyst],
		"",
		"Guard lines:",
		"peer system analyst: review only, dont do testing, dont implement code",
		"",
		"Task: Your default stance is REVISE. Only approve when ALL criteria below pass.",
		"",
		"Rejection criteria — REVISE if ANY fail:",
		"1. Scope: must reference specific file paths or module names. Reject if vague.",
		"2. OpenSpec artifacts: must list artifact filenames (proposal.md, design.md, etc). Reject if none listed.",
		"3. Implementation notes: must contain at least 3 concrete action items. Reject if vague or fewer than 3.",
		"4. Risks/assumptions: must not be 'none' or single-line without mitigation. Reject if missing or unmitigated.",
		"5. Downstream impact: must not be 'N/A' or missing. Reject if absent.",
		"",
		"Codebase verification: pick at least 2 file paths from the analyst output and verify they exist using ls. Report what you checked.",
		"",
		"Return REVIEW_RESULT: APPROVED or REVIEW_RESULT: REVISE with REVIEW_NOTES covering each criterion.",
		p.mailbox.Instruction(domain.OutputAnalystReview),
	}
	return strings.Join(parts, "\n")
}

// Programmer builds the programmer dispatch. The shortcut retry path
// skips the analyst, so the tester feedback and the previous round's
// change summary ride along here.
func (p *Prompts) Programmer(st *State, cycle int) string {
	analystBlock := p.condense.AnalystForProgrammer(st.Outputs[domain.OutputAnalyst])
	if p.cfg.Condensation.CondenseUpstreamOnRepeat && cycle > 1 {
		analystBlock = upstreamRepeatNote
	}

	parts := []string{
		p.exploreBlock(st.Terminals[domain.RoleProgrammer].ID),
		"",
		"System analyst handoff:",
		analystBlock,
		"",
		fmt.Sprintf("Programmer review cycle: %d", cycle),
		"Latest tester feedback:",
		st.Feedback,
	}
	if st.Round > 1 && st.ProgrammerContextForRetry != "" {
		parts = append(parts,
			"Previous round programmer changes (context only):",
			st.ProgrammerContextForRetry,
		)
	}
	parts = append(parts,
		"Latest peer programmer feedback:",
		st.ProgrammerFeedback,
		"",
		"Guard lines:",
		"programmer: dont do scenario test",
		"Autonomy rules: do not run destructive commands in repo paths (rm, git clean, git reset --hard, overwrite moves)",
		"Autonomy rules: do not delete tests/fixtures/**",
		"Autonomy rules: write temporary artifacts only under .tmp/ or /tmp/",
		"",
		"Task:",
		"1) Apply OpenSpec changes using openspec-apply-change skill.",
		"2) Implement required code changes.",
		"3) Return PROGRAMMER_SUMMARY exactly as profile format.",
		"4) For optional local validation, do not assume plain pytest.",
		"5) "+p.testCommandInstruction(),
		p.mailbox.Instruction(domain.OutputProgrammer),
	)
	return strings.Join(parts, "\n")
}

// ProgrammerReview builds the peer programmer dispatch.
func (p *Prompts) ProgrammerReview(st *State) string {
	parts := []string{
		p.exploreBlock(st.Terminals[domain.RolePeerProgrammer].ID),
		"",
		"Programmer output to review:",
		st.Outputs[domain.OutputProgrammer],
		"",
		"Guard lines:",
		"peer programmer: review only, dont do scenario test, dont implement code",
		"peer programmer: enforce non-destructive repo operations and no fixture deletion",
		"",
		"Task:",
		"Review implementation completeness and quality.",
		"Do not require plain pytest command.",
		p.testCommandInstruction(),
		"If no runnable command exists, report Validation run status: NOT_RUN with reason and continue review.",
		"Return REVIEW_RESULT: APPROVED or REVIEW_RESULT: REVISE with REVIEW_NOTES.",
		p.mailbox.Instruction(domain.OutputProgrammerReview),
	}
	return strings.Join(parts, "\n")
}

// Tester builds the tester dispatch: scenario test plus the condensed
// programmer changes, with a strict observe-and-report contract.
func (p *Prompts) Tester(st *State) string {
	parts := []string{
		p.mailbox.Instruction(domain.OutputTester),
		"",
		"Guard lines:",
		"tester: Do NOT implement code, Do NOT fix bugs, Do NOT modify any files.",
		"tester: Do NOT run git commands. Do NOT take action after reporting.",
		"tester: Your ONLY job is: run tests, observe, report PASS/FAIL, write response file, STOP.",
		"",
		ScenarioHeader,
		p.scenario,
		"",
		"Programmer changes:",
		p.condense.ProgrammerForTester(st.Outputs[domain.OutputProgrammer]),
		"",
		"Task:",
		"1) Run tests based on SCENARIO TEST only.",
		"2) Write your result to the response file above. Use this exact format:",
		"RESULT: PASS or RESULT: FAIL",
		"EVIDENCE:",
		"- Commands run:",
		"- Criteria checked (list EVERY expected condition from the scenario):",
		"  - <criterion from prompt>: <observed value or matched content>",
		"- Failed criteria (if any):",
		"- Recommended next fix:",
		"3) STOP. Do not take any further action after writing the response file.",
	}
	return strings.Join(parts, "\n")
}
