// Package config loads orchestrator configuration from a JSON file and the
// environment. Precedence is env var > file > default; an empty env var
// counts as unset, including for booleans. Unknown top-level keys, roles
// and providers are fatal at load time, before any terminal exists.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/worker"
)

// DefaultAPIBase is the terminal service the orchestrator talks to.
const DefaultAPIBase = "http://localhost:9889"

// Config is the resolved orchestrator configuration.
type Config struct {
	API            string
	Provider       string
	WD             string
	Prompt         string
	PromptFile     string
	ProjectTestCmd string
	CleanupOnExit  bool
	Resume         bool
	StateFile      string
	StartAgent     string
	Agents         map[string]Agent
	Limits         Limits
	Condensation   Condensation
	Handoff        Handoff
}

// Agent overrides provider and profile for one role.
type Agent struct {
	Provider string `json:"provider"`
	Profile  string `json:"profile"`
}

// Limits bounds the pipeline loop.
type Limits struct {
	MaxRounds                     int
	MaxReviewCycles               int
	MinReviewCyclesBeforeApproval int
	PollSeconds                   int
	RequireReviewEvidence         bool
	ReviewEvidenceMinMatch        int
}

// Condensation controls cross-phase output shrinking.
type Condensation struct {
	CondenseCrossPhase       bool
	MaxCrossPhaseLines       int
	CondenseUpstreamOnRepeat bool
	CondenseExploreOnRepeat  bool
	CondenseReviewFeedback   bool
	MaxFeedbackLines         int
	MaxTestEvidenceLines     int
}

// Handoff controls the response poller.
type Handoff struct {
	StrictFileHandoff      bool
	IdleGraceSeconds       int
	ResponseTimeoutSeconds int
	StartupGraceMultiplier float64
	AutoAcknowledge        bool
	AckCooldownSeconds     int
	MaxAcknowledge         int
}

// PollInterval is the delay between terminal status checks.
func (l Limits) PollInterval() time.Duration {
	return time.Duration(l.PollSeconds) * time.Second
}

// IdleGrace is how long a settled terminal may sit without a response
// file before the poller gives up on it.
func (h Handoff) IdleGrace() time.Duration {
	return time.Duration(h.IdleGraceSeconds) * time.Second
}

// ResponseTimeout bounds a single handoff end to end.
func (h Handoff) ResponseTimeout() time.Duration {
	return time.Duration(h.ResponseTimeoutSeconds) * time.Second
}

// AckCooldown is the minimum spacing between auto-acknowledgements.
func (h Handoff) AckCooldown() time.Duration {
	return time.Duration(h.AckCooldownSeconds) * time.Second
}

// StartupGrace is how long the poller holds the startup guard before
// force-releasing it.
func (h Handoff) StartupGrace() time.Duration {
	return time.Duration(float64(h.IdleGrace()) * h.StartupGraceMultiplier)
}

// Default returns the built-in configuration.
func Default() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		API:        DefaultAPIBase,
		Provider:   "codex",
		WD:         wd,
		StartAgent: string(domain.RoleAnalyst),
		Agents:     map[string]Agent{},
		Limits: Limits{
			MaxRounds:                     8,
			MaxReviewCycles:               3,
			MinReviewCyclesBeforeApproval: 2,
			PollSeconds:                   2,
			RequireReviewEvidence:         true,
			ReviewEvidenceMinMatch:        3,
		},
		Condensation: Condensation{
			CondenseCrossPhase:       true,
			MaxCrossPhaseLines:       40,
			CondenseUpstreamOnRepeat: true,
			CondenseExploreOnRepeat:  true,
			CondenseReviewFeedback:   true,
			MaxFeedbackLines:         30,
			MaxTestEvidenceLines:     120,
		},
		Handoff: Handoff{
			StrictFileHandoff:      true,
			IdleGraceSeconds:       30,
			ResponseTimeoutSeconds: 1800,
			StartupGraceMultiplier: 1.0,
			AckCooldownSeconds:     10,
			MaxAcknowledge:         5,
		},
	}
}

// fileConfig mirrors the JSON document. Pointers distinguish "absent"
// from zero values so a file can override any subset of the defaults.
type fileConfig struct {
	API            *string          `json:"api"`
	Provider       *string          `json:"provider"`
	WD             *string          `json:"wd"`
	Prompt         *string          `json:"prompt"`
	PromptFile     *string          `json:"prompt_file"`
	ProjectTestCmd *string          `json:"project_test_cmd"`
	CleanupOnExit  *bool            `json:"cleanup_on_exit"`
	Resume         *bool            `json:"resume"`
	StateFile      *string          `json:"state_file"`
	StartAgent     *string          `json:"start_agent"`
	Agents         map[string]Agent `json:"agents"`
	Limits         *fileLimits      `json:"limits"`
	Condensation   *fileCondense    `json:"condensation"`
	Handoff        *fileHandoff     `json:"handoff"`
}

type fileLimits struct {
	MaxRounds                     *int  `json:"max_rounds"`
	MaxReviewCycles               *int  `json:"max_review_cycles"`
	MinReviewCyclesBeforeApproval *int  `json:"min_review_cycles_before_approval"`
	PollSeconds                   *int  `json:"poll_seconds"`
	RequireReviewEvidence         *bool `json:"require_review_evidence"`
	ReviewEvidenceMinMatch        *int  `json:"review_evidence_min_match"`
}

type fileCondense struct {
	CondenseCrossPhase       *bool `json:"condense_cross_phase"`
	MaxCrossPhaseLines       *int  `json:"max_cross_phase_lines"`
	CondenseUpstreamOnRepeat *bool `json:"condense_upstream_on_repeat"`
	CondenseExploreOnRepeat  *bool `json:"condense_explore_on_repeat"`
	CondenseReviewFeedback   *bool `json:"condense_review_feedback"`
	MaxFeedbackLines         *int  `json:"max_feedback_lines"`
	MaxTestEvidenceLines     *int  `json:"max_test_evidence_lines"`
}

type fileHandoff struct {
	StrictFileHandoff      *bool    `json:"strict_file_handoff"`
	IdleGraceSeconds       *int     `json:"idle_grace_seconds"`
	ResponseTimeout        *int     `json:"response_timeout"`
	StartupGraceMultiplier *float64 `json:"startup_grace_multiplier"`
	AutoAcknowledge        *bool    `json:"auto_acknowledge"`
	AckCooldownSeconds     *int     `json:"ack_cooldown_seconds"`
	MaxAcknowledge         *int     `json:"max_acknowledge"`
}

var validTopLevelKeys = map[string]bool{
	"api": true, "provider": true, "wd": true, "prompt": true,
	"prompt_file": true, "project_test_cmd": true, "agents": true,
	"limits": true, "condensation": true, "handoff": true,
	"cleanup_on_exit": true, "resume": true, "state_file": true,
	"start_agent": true,
}

// Load resolves the configuration: defaults, then the JSON file at path
// (skipped when path is empty), then environment overrides, then
// validation.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.finalize()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return Invalidf("file", "cannot read %s: %v", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Invalidf("file", "%s is not valid JSON: %v", path, err)
	}
	for key := range raw {
		if !validTopLevelKeys[key] {
			return Invalidf("file", "unknown key %q in %s", key, path)
		}
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return Invalidf("file", "cannot parse %s: %v", path, err)
	}

	setString(&c.API, fc.API)
	setString(&c.Provider, fc.Provider)
	setString(&c.WD, fc.WD)
	setString(&c.Prompt, fc.Prompt)
	setString(&c.PromptFile, fc.PromptFile)
	setString(&c.ProjectTestCmd, fc.ProjectTestCmd)
	setBool(&c.CleanupOnExit, fc.CleanupOnExit)
	setBool(&c.Resume, fc.Resume)
	setString(&c.StateFile, fc.StateFile)
	setString(&c.StartAgent, fc.StartAgent)
	for role, agent := range fc.Agents {
		c.Agents[role] = agent
	}
	if l := fc.Limits; l != nil {
		setInt(&c.Limits.MaxRounds, l.MaxRounds)
		setInt(&c.Limits.MaxReviewCycles, l.MaxReviewCycles)
		setInt(&c.Limits.MinReviewCyclesBeforeApproval, l.MinReviewCyclesBeforeApproval)
		setInt(&c.Limits.PollSeconds, l.PollSeconds)
		setBool(&c.Limits.RequireReviewEvidence, l.RequireReviewEvidence)
		setInt(&c.Limits.ReviewEvidenceMinMatch, l.ReviewEvidenceMinMatch)
	}
	if cd := fc.Condensation; cd != nil {
		setBool(&c.Condensation.CondenseCrossPhase, cd.CondenseCrossPhase)
		setInt(&c.Condensation.MaxCrossPhaseLines, cd.MaxCrossPhaseLines)
		setBool(&c.Condensation.CondenseUpstreamOnRepeat, cd.CondenseUpstreamOnRepeat)
		setBool(&c.Condensation.CondenseExploreOnRepeat, cd.CondenseExploreOnRepeat)
		setBool(&c.Condensation.CondenseReviewFeedback, cd.CondenseReviewFeedback)
		setInt(&c.Condensation.MaxFeedbackLines, cd.MaxFeedbackLines)
		setInt(&c.Condensation.MaxTestEvidenceLines, cd.MaxTestEvidenceLines)
	}
	if h := fc.Handoff; h != nil {
		setBool(&c.Handoff.StrictFileHandoff, h.StrictFileHandoff)
		setInt(&c.Handoff.IdleGraceSeconds, h.IdleGraceSeconds)
		setInt(&c.Handoff.ResponseTimeoutSeconds, h.ResponseTimeout)
		setFloat(&c.Handoff.StartupGraceMultiplier, h.StartupGraceMultiplier)
		setBool(&c.Handoff.AutoAcknowledge, h.AutoAcknowledge)
		setInt(&c.Handoff.AckCooldownSeconds, h.AckCooldownSeconds)
		setInt(&c.Handoff.MaxAcknowledge, h.MaxAcknowledge)
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString("AMX_API", &c.API)
	envString("AMX_PROVIDER", &c.Provider)
	envString("AMX_WD", &c.WD)
	envString("AMX_PROMPT", &c.Prompt)
	envString("AMX_PROMPT_FILE", &c.PromptFile)
	envString("AMX_PROJECT_TEST_CMD", &c.ProjectTestCmd)
	envBool("AMX_CLEANUP_ON_EXIT", &c.CleanupOnExit)
	envBool("AMX_RESUME", &c.Resume)
	envString("AMX_STATE_FILE", &c.StateFile)
	envString("AMX_START_AGENT", &c.StartAgent)

	ints := []struct {
		key    string
		target *int
	}{
		{"AMX_MAX_ROUNDS", &c.Limits.MaxRounds},
		{"AMX_MAX_REVIEW_CYCLES", &c.Limits.MaxReviewCycles},
		{"AMX_MIN_REVIEW_CYCLES_BEFORE_APPROVAL", &c.Limits.MinReviewCyclesBeforeApproval},
		{"AMX_POLL_SECONDS", &c.Limits.PollSeconds},
		{"AMX_REVIEW_EVIDENCE_MIN_MATCH", &c.Limits.ReviewEvidenceMinMatch},
		{"AMX_MAX_CROSS_PHASE_LINES", &c.Condensation.MaxCrossPhaseLines},
		{"AMX_MAX_FEEDBACK_LINES", &c.Condensation.MaxFeedbackLines},
		{"AMX_MAX_TEST_EVIDENCE_LINES", &c.Condensation.MaxTestEvidenceLines},
		{"AMX_IDLE_GRACE_SECONDS", &c.Handoff.IdleGraceSeconds},
		{"AMX_RESPONSE_TIMEOUT", &c.Handoff.ResponseTimeoutSeconds},
		{"AMX_ACK_COOLDOWN_SECONDS", &c.Handoff.AckCooldownSeconds},
		{"AMX_MAX_ACKNOWLEDGE", &c.Handoff.MaxAcknowledge},
	}
	for _, e := range ints {
		if err := envInt(e.key, e.target); err != nil {
			return err
		}
	}

	envBool("AMX_REQUIRE_REVIEW_EVIDENCE", &c.Limits.RequireReviewEvidence)
	envBool("AMX_CONDENSE_CROSS_PHASE", &c.Condensation.CondenseCrossPhase)
	envBool("AMX_CONDENSE_UPSTREAM_ON_REPEAT", &c.Condensation.CondenseUpstreamOnRepeat)
	envBool("AMX_CONDENSE_EXPLORE_ON_REPEAT", &c.Condensation.CondenseExploreOnRepeat)
	envBool("AMX_CONDENSE_REVIEW_FEEDBACK", &c.Condensation.CondenseReviewFeedback)
	envBool("AMX_STRICT_FILE_HANDOFF", &c.Handoff.StrictFileHandoff)
	envBool("AMX_AUTO_ACKNOWLEDGE", &c.Handoff.AutoAcknowledge)

	return envFloat("AMX_STARTUP_GRACE_MULTIPLIER", &c.Handoff.StartupGraceMultiplier)
}

func (c *Config) finalize() {
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.WD, ".tmp", "orchestrator_state.json")
	}
}

func (c *Config) validate() error {
	if !worker.ValidKind(c.Provider) {
		return Invalidf("provider", "unknown provider %q (valid: %v)", c.Provider, worker.KindNames())
	}
	for role, agent := range c.Agents {
		if !domain.ValidRole(role) {
			return Invalidf("agents", "unknown role %q (valid: %v)", role, domain.Roles())
		}
		if agent.Provider != "" && !worker.ValidKind(agent.Provider) {
			return Invalidf("agents."+role, "unknown provider %q", agent.Provider)
		}
	}
	if !domain.ValidRole(c.StartAgent) {
		return Invalidf("start_agent", "unknown role %q (valid: %v)", c.StartAgent, domain.Roles())
	}
	return nil
}

// AgentFor resolves the provider and profile for a role, falling back to
// the top-level provider and the role's default profile.
func (c *Config) AgentFor(role domain.Role) Agent {
	a := c.Agents[string(role)]
	if a.Provider == "" {
		a.Provider = c.Provider
	}
	if a.Profile == "" {
		a.Profile = role.DefaultProfile()
	}
	return a
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envBool treats an empty variable as unset; any other value is compared
// against "1".
func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1"
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return Invalidf(key, "not an integer: %q", v)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return Invalidf(key, "not a number: %q", v)
	}
	*dst = f
	return nil
}

// LoadPrompt returns the run prompt, preferring inline prompt text over a
// prompt file.
func (c *Config) LoadPrompt() (string, error) {
	if c.Prompt != "" {
		return c.Prompt, nil
	}
	if c.PromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PromptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(data), nil
}
