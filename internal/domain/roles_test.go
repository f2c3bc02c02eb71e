package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleMetadata(t *testing.T) {
	tests := []struct {
		role    Role
		phase   Phase
		output  Output
		profile string
	}{
		{RoleAnalyst, PhaseAnalyst, OutputAnalyst, "system_analyst"},
		{RolePeerAnalyst, PhaseAnalyst, OutputAnalystReview, "peer_system_analyst"},
		{RoleProgrammer, PhaseProgrammer, OutputProgrammer, "programmer"},
		{RolePeerProgrammer, PhaseProgrammer, OutputProgrammerReview, "peer_programmer"},
		{RoleTester, PhaseTester, OutputTester, "tester"},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.phase, tt.role.Phase())
			assert.Equal(t, tt.output, tt.role.Output())
			assert.Equal(t, tt.profile, tt.role.DefaultProfile())
		})
	}
}

func TestPeerRolesShareTheirPrimaryPhase(t *testing.T) {
	assert.True(t, RolePeerAnalyst.IsPeer())
	assert.True(t, RolePeerProgrammer.IsPeer())
	assert.False(t, RoleAnalyst.IsPeer())

	assert.Equal(t, RoleAnalyst.Phase(), RolePeerAnalyst.Phase())
	assert.Equal(t, RoleProgrammer.Phase(), RolePeerProgrammer.Phase())
}

func TestOutputFilenames(t *testing.T) {
	assert.Equal(t, "analyst_summary.md", OutputAnalyst.Filename())
	assert.Equal(t, "analyst_review.md", OutputAnalystReview.Filename())
	assert.Equal(t, "programmer_summary.md", OutputProgrammer.Filename())
	assert.Equal(t, "programmer_review.md", OutputProgrammerReview.Filename())
	assert.Equal(t, "test_result.md", OutputTester.Filename())
}

func TestValidation(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, ValidRole(string(r)))
	}
	assert.False(t, ValidRole("architect"))

	assert.True(t, ValidPhase("analyst"))
	assert.True(t, ValidPhase("done"))
	assert.False(t, ValidPhase("review"))
}
