package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/internal/domain"
)

func stateStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), ".tmp", "orchestrator_state.json"))
}

func writeStateDoc(t *testing.T, store *Store, doc string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte(doc), 0o644))
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	store := stateStore(t)

	st := NewState()
	st.API = "http://localhost:9889"
	st.Provider = "claude_code"
	st.WD = "/work/repo"
	st.Prompt = "prompt text with\nmultiple lines"
	st.Round = 2
	st.Phase = domain.PhaseProgrammer
	st.SessionName = "amx-a1b2c3d4"
	for i, role := range domain.Roles() {
		st.Terminals[role] = TerminalRef{ID: fmt.Sprintf("t%d", i+1), Provider: "claude_code"}
	}
	st.Outputs[domain.OutputAnalyst] = "ANALYST_SUMMARY\n- OpenSpec artifacts: proposal.md"
	st.Feedback = "RESULT: FAIL\nEVIDENCE:\n- export truncated"
	st.ProgrammerContextForRetry = "Files changed:\n- writer.go"

	require.NoError(t, store.Save(st))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, st.API, got.API)
	assert.Equal(t, st.Provider, got.Provider)
	assert.Equal(t, st.WD, got.WD)
	assert.Equal(t, st.Prompt, got.Prompt)
	assert.Equal(t, 2, got.Round)
	assert.Equal(t, domain.PhaseProgrammer, got.Phase)
	assert.Equal(t, StatusRunning, got.FinalStatus)
	assert.Equal(t, st.SessionName, got.SessionName)
	assert.Equal(t, st.Terminals, got.Terminals)
	assert.Equal(t, st.Outputs, got.Outputs)
	assert.Equal(t, st.Feedback, got.Feedback)
	assert.Equal(t, st.ProgrammerContextForRetry, got.ProgrammerContextForRetry)
}

func TestStateFileSchema(t *testing.T) {
	store := stateStore(t)
	require.NoError(t, store.Save(NewState()))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.EqualValues(t, 1, doc["version"])
	assert.NotEmpty(t, doc["updated_at"])
	assert.Equal(t, "analyst", doc["current_phase"])
	assert.Equal(t, StatusRunning, doc["final_status"])

	outputs, ok := doc["outputs"].(map[string]any)
	require.True(t, ok)
	for _, slot := range domain.Outputs() {
		assert.Contains(t, outputs, string(slot))
	}
}

func TestLoadUpgradesBareTerminalIDs(t *testing.T) {
	store := stateStore(t)
	writeStateDoc(t, store, `{
  "version": 1,
  "provider": "kiro_cli",
  "current_round": "3",
  "current_phase": "tester",
  "final_status": "RUNNING",
  "terminals": {
    "analyst": "t1",
    "peer_analyst": "t2",
    "programmer": {"id": "t3", "provider": "codex"},
    "peer_programmer": "t4",
    "tester": "t5"
  },
  "outputs": {"analyst": "plan"}
}`)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Round)
	assert.Equal(t, domain.PhaseTester, st.Phase)
	assert.Equal(t, TerminalRef{ID: "t1", Provider: "kiro_cli"}, st.Terminals[domain.RoleAnalyst])
	assert.Equal(t, TerminalRef{ID: "t3", Provider: "codex"}, st.Terminals[domain.RoleProgrammer])
	assert.Equal(t, "plan", st.Outputs[domain.OutputAnalyst])
	assert.Equal(t, "None yet.", st.Feedback)
	assert.Equal(t, "None yet.", st.AnalystFeedback)
}

func TestLoadToleratesMalformedFields(t *testing.T) {
	store := stateStore(t)
	writeStateDoc(t, store, `{
  "current_round": "not a number",
  "current_phase": "deploy",
  "terminals": {"analyst": 17}
}`)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Round)
	assert.Equal(t, domain.PhaseAnalyst, st.Phase)
	assert.Equal(t, TerminalRef{}, st.Terminals[domain.RoleAnalyst])
	assert.Equal(t, StatusRunning, st.FinalStatus)
}

func TestLoadFractionalRound(t *testing.T) {
	store := stateStore(t)
	writeStateDoc(t, store, `{"current_round": 2.0}`)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Round)
}

func TestLoadMissingFile(t *testing.T) {
	store := stateStore(t)
	_, err := store.Load()
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadBrokenJSON(t *testing.T) {
	store := stateStore(t)
	writeStateDoc(t, store, "{broken")
	_, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse state file")
}

func TestShouldAutoResume(t *testing.T) {
	store := stateStore(t)
	assert.False(t, ShouldAutoResume(store.Path()))

	st := NewState()
	require.NoError(t, store.Save(st))
	assert.True(t, ShouldAutoResume(store.Path()))

	st.FinalStatus = StatusPass
	require.NoError(t, store.Save(st))
	assert.False(t, ShouldAutoResume(store.Path()))

	writeStateDoc(t, store, "{broken")
	assert.False(t, ShouldAutoResume(store.Path()))
}

func TestSavedPrompt(t *testing.T) {
	store := stateStore(t)
	assert.Empty(t, store.SavedPrompt())

	st := NewState()
	st.Prompt = "saved prompt text"
	require.NoError(t, store.Save(st))
	assert.Equal(t, "saved prompt text", store.SavedPrompt())
}
