package pipeline

import (
	"regexp"
	"strings"

	"github.com/agentmux/agentmux/internal/config"
)

// Section markers in agent deliverables. All are matched at line start,
// case-insensitively, so condensation survives loose agent formatting.
var (
	reviewNotesRE  = regexp.MustCompile(`(?i)^\s*REVIEW_NOTES:`)
	resultLineRE   = regexp.MustCompile(`(?i)^\s*RESULT:`)
	evidenceRE     = regexp.MustCompile(`(?i)^\s*EVIDENCE:`)
	openSpecRE     = regexp.MustCompile(`(?i)^\s*-?\s*OpenSpec artifacts`)
	implNotesRE    = regexp.MustCompile(`(?i)^\s*-?\s*Implementation notes`)
	risksRE        = regexp.MustCompile(`(?i)^\s*-?\s*Risks`)
	downstreamRE   = regexp.MustCompile(`(?i)^\s*-?\s*Downstream impact`)
	filesChangedRE = regexp.MustCompile(`(?i)^\s*-?\s*Files changed`)
	behaviorRE     = regexp.MustCompile(`(?i)^\s*-?\s*Behavior implemented`)
	knownLimitsRE  = regexp.MustCompile(`(?i)^\s*-?\s*Known limitations`)
)

// Condenser shrinks agent deliverables before they cross a phase
// boundary, so downstream prompts stay within a useful size.
type Condenser struct {
	cfg config.Condensation
}

func NewCondenser(cfg config.Condensation) *Condenser {
	return &Condenser{cfg: cfg}
}

// ReviewNotes keeps the REVIEW_NOTES section of a peer review, capped at
// max_feedback_lines. When the marker is missing the head of the full
// review is kept instead.
func (c *Condenser) ReviewNotes(review string) string {
	if !c.cfg.CondenseReviewFeedback {
		return review
	}
	lines := headLines(extractSection(review, reviewNotesRE, nil), c.cfg.MaxFeedbackLines)
	if strings.TrimSpace(strings.Join(lines, "")) == "" {
		lines = headLines(review, c.cfg.MaxFeedbackLines)
	}
	return strings.Join(lines, "\n")
}

// TestEvidence keeps every RESULT: line plus the EVIDENCE: section of a
// tester deliverable, capped at max_test_evidence_lines, falling back to
// the head of the full text.
func (c *Condenser) TestEvidence(test string) string {
	if !c.cfg.CondenseReviewFeedback {
		return test
	}
	var resultLines []string
	for _, line := range splitLines(test) {
		if resultLineRE.MatchString(line) {
			resultLines = append(resultLines, line)
		}
	}
	combined := strings.Join(resultLines, "\n")
	if section := extractSection(test, evidenceRE, nil); section != "" {
		combined += "\n" + section
	}
	lines := headLines(combined, c.cfg.MaxTestEvidenceLines)
	if strings.TrimSpace(strings.Join(lines, "")) == "" {
		lines = headLines(test, c.cfg.MaxTestEvidenceLines)
	}
	return strings.Join(lines, "\n")
}

// AnalystForProgrammer reduces the analyst handoff to its OpenSpec
// artifacts, implementation notes and risks sections, capped at
// max_cross_phase_lines. Missing markers fall back to a head truncation.
func (c *Condenser) AnalystForProgrammer(analystOut string) string {
	if !c.cfg.CondenseCrossPhase {
		return analystOut
	}
	spans := []struct{ start, stop *regexp.Regexp }{
		{openSpecRE, implNotesRE},
		{implNotesRE, risksRE},
		{risksRE, downstreamRE},
	}
	var sections []string
	for _, span := range spans {
		if chunk := extractSection(analystOut, span.start, span.stop); strings.TrimSpace(chunk) != "" {
			sections = append(sections, chunk)
		}
	}
	if len(sections) == 0 {
		return strings.Join(headLines(analystOut, c.cfg.MaxCrossPhaseLines), "\n")
	}
	return strings.Join(headLines(strings.Join(sections, "\n"), c.cfg.MaxCrossPhaseLines), "\n")
}

// ProgrammerForTester reduces the programmer handoff to its files-changed
// and behavior-implemented sections under the same cap.
func (c *Condenser) ProgrammerForTester(programmerOut string) string {
	if !c.cfg.CondenseCrossPhase {
		return programmerOut
	}
	var sections []string
	if chunk := extractSection(programmerOut, filesChangedRE, behaviorRE); strings.TrimSpace(chunk) != "" {
		sections = append(sections, chunk)
	}
	if chunk := extractSection(programmerOut, behaviorRE, knownLimitsRE); strings.TrimSpace(chunk) != "" {
		sections = append(sections, chunk)
	}
	if len(sections) == 0 {
		return strings.Join(headLines(programmerOut, c.cfg.MaxCrossPhaseLines), "\n")
	}
	return strings.Join(headLines(strings.Join(sections, "\n"), c.cfg.MaxCrossPhaseLines), "\n")
}

// extractSection returns the lines from the first one matching start
// through the end of text, or up to (excluding) the first later line
// matching stop. Empty when start never matches.
func extractSection(text string, start, stop *regexp.Regexp) string {
	lines := splitLines(text)
	startIdx := -1
	for i, line := range lines {
		if startIdx == -1 {
			if start.MatchString(line) {
				startIdx = i
			}
		} else if stop != nil && stop.MatchString(line) {
			return strings.Join(lines[startIdx:i], "\n")
		}
	}
	if startIdx >= 0 {
		return strings.Join(lines[startIdx:], "\n")
	}
	return ""
}

// splitLines splits without keeping a trailing empty element for a final
// newline; an empty string yields no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func headLines(s string, n int) []string {
	lines := splitLines(s)
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}
