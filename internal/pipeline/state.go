package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/domain"
)

// Run outcome markers persisted in the state file.
const (
	StatusRunning = "RUNNING"
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
)

// TerminalRef ties a role to its terminal and the provider it was
// created with.
type TerminalRef struct {
	ID       string
	Provider string
}

// State is the orchestrator's full mutable state. It is persisted after
// every mutation so an interrupted run resumes at the last completed
// step instead of repeating approved work.
type State struct {
	API      string
	Provider string
	WD       string
	Prompt   string

	Round       int
	Phase       domain.Phase
	FinalStatus string
	SessionName string
	Terminals   map[domain.Role]TerminalRef
	Outputs     map[domain.Output]string

	Feedback                  string // latest tester feedback carried into retries
	AnalystFeedback           string
	ProgrammerFeedback        string
	ProgrammerContextForRetry string
}

// NewState returns the state of a fresh round-1 run.
func NewState() *State {
	outputs := make(map[domain.Output]string, len(domain.Outputs()))
	for _, slot := range domain.Outputs() {
		outputs[slot] = ""
	}
	return &State{
		Round:              1,
		Phase:              domain.PhaseAnalyst,
		FinalStatus:        StatusRunning,
		Terminals:          make(map[domain.Role]TerminalRef),
		Outputs:            outputs,
		Feedback:           "None yet.",
		AnalystFeedback:    "None yet.",
		ProgrammerFeedback: "None yet.",
	}
}

// stateFile is the persisted JSON shape, schema version 1. Field order
// here fixes the order in the document.
type stateFile struct {
	Version                   int                        `json:"version"`
	UpdatedAt                 string                     `json:"updated_at"`
	API                       string                     `json:"api"`
	Provider                  string                     `json:"provider"`
	WD                        string                     `json:"wd"`
	Prompt                    string                     `json:"prompt"`
	CurrentRound              int                        `json:"current_round"`
	CurrentPhase              string                     `json:"current_phase"`
	FinalStatus               string                     `json:"final_status"`
	SessionName               string                     `json:"session_name"`
	Terminals                 map[string]terminalRecord  `json:"terminals"`
	Feedback                  string                     `json:"feedback"`
	AnalystFeedback           string                     `json:"analyst_feedback"`
	ProgrammerFeedback        string                     `json:"programmer_feedback"`
	ProgrammerContextForRetry string                     `json:"programmer_context_for_retry"`
	Outputs                   map[string]string          `json:"outputs"`
}

type terminalRecord struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// Store persists State as an indented JSON document at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Save writes the state document atomically enough for a single-writer
// process: parent dir created on demand, full rewrite each time.
func (s *Store) Save(st *State) error {
	doc := stateFile{
		Version:                   1,
		UpdatedAt:                 time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		API:                       st.API,
		Provider:                  st.Provider,
		WD:                        st.WD,
		Prompt:                    st.Prompt,
		CurrentRound:              st.Round,
		CurrentPhase:              string(st.Phase),
		FinalStatus:               st.FinalStatus,
		SessionName:               st.SessionName,
		Terminals:                 make(map[string]terminalRecord, len(domain.Roles())),
		Feedback:                  st.Feedback,
		AnalystFeedback:           st.AnalystFeedback,
		ProgrammerFeedback:        st.ProgrammerFeedback,
		ProgrammerContextForRetry: st.ProgrammerContextForRetry,
		Outputs:                   make(map[string]string, len(domain.Outputs())),
	}
	for _, role := range domain.Roles() {
		ref := st.Terminals[role]
		doc.Terminals[string(role)] = terminalRecord{ID: ref.ID, Provider: ref.Provider}
	}
	for _, slot := range domain.Outputs() {
		doc.Outputs[string(slot)] = st.Outputs[slot]
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load reads and normalizes a state document. Tolerated legacy shapes: a
// terminal recorded as a bare id string upgrades to {id, provider} using
// the document-level provider; a non-integer round falls back to 1; an
// unknown phase falls back to analyst; absent feedback keys default to
// "None yet.".
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		API                       *string                    `json:"api"`
		Provider                  string                     `json:"provider"`
		WD                        *string                    `json:"wd"`
		Prompt                    *string                    `json:"prompt"`
		CurrentRound              json.RawMessage            `json:"current_round"`
		CurrentPhase              string                     `json:"current_phase"`
		FinalStatus               *string                    `json:"final_status"`
		SessionName               string                     `json:"session_name"`
		Terminals                 map[string]json.RawMessage `json:"terminals"`
		Feedback                  *string                    `json:"feedback"`
		AnalystFeedback           *string                    `json:"analyst_feedback"`
		ProgrammerFeedback        *string                    `json:"programmer_feedback"`
		ProgrammerContextForRetry *string                    `json:"programmer_context_for_retry"`
		Outputs                   map[string]string          `json:"outputs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}

	st := NewState()
	st.API = stringOr(raw.API, "")
	st.Provider = raw.Provider
	st.WD = stringOr(raw.WD, "")
	st.Prompt = stringOr(raw.Prompt, "")
	st.Round = parseRound(raw.CurrentRound)
	if domain.ValidPhase(raw.CurrentPhase) {
		st.Phase = domain.Phase(raw.CurrentPhase)
	}
	st.FinalStatus = stringOr(raw.FinalStatus, StatusRunning)
	st.SessionName = raw.SessionName
	st.Feedback = stringOr(raw.Feedback, "None yet.")
	st.AnalystFeedback = stringOr(raw.AnalystFeedback, "None yet.")
	st.ProgrammerFeedback = stringOr(raw.ProgrammerFeedback, "None yet.")
	st.ProgrammerContextForRetry = stringOr(raw.ProgrammerContextForRetry, "")

	for _, role := range domain.Roles() {
		st.Terminals[role] = parseTerminal(raw.Terminals[string(role)], raw.Provider)
	}
	for _, slot := range domain.Outputs() {
		st.Outputs[slot] = raw.Outputs[string(slot)]
	}
	return st, nil
}

// SavedPrompt reads only the prompt field, best effort. Used when a
// resume is requested without a prompt in the environment.
func (s *Store) SavedPrompt() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var raw struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ""
	}
	return raw.Prompt
}

// ShouldAutoResume reports whether the state file records an in-progress
// run, which a fresh invocation picks up without an explicit resume flag.
func ShouldAutoResume(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var raw struct {
		FinalStatus string `json:"final_status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return false
	}
	return raw.FinalStatus == StatusRunning
}

func parseTerminal(raw json.RawMessage, stateProvider string) TerminalRef {
	if len(raw) == 0 {
		return TerminalRef{}
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		// legacy shape: bare terminal id
		if id == "" {
			return TerminalRef{}
		}
		return TerminalRef{ID: id, Provider: stateProvider}
	}
	var rec terminalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return TerminalRef{}
	}
	return TerminalRef{ID: rec.ID, Provider: rec.Provider}
}

func parseRound(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 1
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
			return v
		}
		return 1
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	return 1
}

func stringOr(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}
