// Package domain defines the core workflow entities of the orchestrator:
// the five cooperating roles, the pipeline phases and the deliverable
// slots they hand off through.
package domain

// Role identifies one of the five cooperating agents. Each role owns one
// terminal session for the whole run.
type Role string

const (
	RoleAnalyst        Role = "analyst"
	RolePeerAnalyst    Role = "peer_analyst"
	RoleProgrammer     Role = "programmer"
	RolePeerProgrammer Role = "peer_programmer"
	RoleTester         Role = "tester"
)

// Phase is a pipeline position. Phases advance analyst → programmer →
// tester; done is terminal.
type Phase string

const (
	PhaseAnalyst    Phase = "analyst"
	PhaseProgrammer Phase = "programmer"
	PhaseTester     Phase = "tester"
	PhaseDone       Phase = "done"
)

// Output identifies a deliverable slot. Review roles write to the review
// slot of the phase they audit, so slots and roles are related but not
// identical.
type Output string

const (
	OutputAnalyst          Output = "analyst"
	OutputAnalystReview    Output = "analyst_review"
	OutputProgrammer       Output = "programmer"
	OutputProgrammerReview Output = "programmer_review"
	OutputTester           Output = "tester"
)

// roleMeta maps each role to its behavior (extend via map, not switch).
var roleMeta = map[Role]struct {
	Phase   Phase
	Output  Output
	Profile string
}{
	RoleAnalyst:        {PhaseAnalyst, OutputAnalyst, "system_analyst"},
	RolePeerAnalyst:    {PhaseAnalyst, OutputAnalystReview, "peer_system_analyst"},
	RoleProgrammer:     {PhaseProgrammer, OutputProgrammer, "programmer"},
	RolePeerProgrammer: {PhaseProgrammer, OutputProgrammerReview, "peer_programmer"},
	RoleTester:         {PhaseTester, OutputTester, "tester"},
}

var outputFiles = map[Output]string{
	OutputAnalyst:          "analyst_summary.md",
	OutputAnalystReview:    "analyst_review.md",
	OutputProgrammer:       "programmer_summary.md",
	OutputProgrammerReview: "programmer_review.md",
	OutputTester:           "test_result.md",
}

// Roles returns all roles in creation order. The analyst comes first
// because its terminal anchors the shared session.
func Roles() []Role {
	return []Role{RoleAnalyst, RolePeerAnalyst, RoleProgrammer, RolePeerProgrammer, RoleTester}
}

// Outputs returns all deliverable slots in pipeline order.
func Outputs() []Output {
	return []Output{OutputAnalyst, OutputAnalystReview, OutputProgrammer, OutputProgrammerReview, OutputTester}
}

// ValidRole reports whether name is a known role.
func ValidRole(name string) bool {
	_, ok := roleMeta[Role(name)]
	return ok
}

// Phase returns the pipeline phase this role works in. Peer reviewers
// share their primary's phase.
func (r Role) Phase() Phase {
	return roleMeta[r].Phase
}

// Output returns the deliverable slot this role writes.
func (r Role) Output() Output {
	return roleMeta[r].Output
}

// DefaultProfile returns the agent profile used when the configuration
// does not override it.
func (r Role) DefaultProfile() string {
	return roleMeta[r].Profile
}

// IsPeer reports whether the role reviews another role's work.
func (r Role) IsPeer() bool {
	return r == RolePeerAnalyst || r == RolePeerProgrammer
}

// Filename returns the mailbox file name for this slot.
func (o Output) Filename() string {
	return outputFiles[o]
}

// ValidPhase reports whether name is a known phase.
func ValidPhase(name string) bool {
	switch Phase(name) {
	case PhaseAnalyst, PhaseProgrammer, PhaseTester, PhaseDone:
		return true
	}
	return false
}
