package pipeline

import (
	"regexp"
	"strings"

	"github.com/agentmux/agentmux/internal/config"
)

// Verdict tokens. Reviews answer REVIEW_RESULT, the tester answers
// RESULT; both are matched per line, case-insensitively.
var (
	approvedRE   = regexp.MustCompile(`(?mi)^\s*REVIEW_RESULT:\s*APPROVED\b`)
	passResultRE = regexp.MustCompile(`(?mi)^\s*RESULT:\s*PASS\b`)
	testResultRE = regexp.MustCompile(`(?mi)^\s*RESULT:\s*(PASS|FAIL)\b`)
)

// ReviewClass selects which evidence pattern set a review is held to.
type ReviewClass string

const (
	ReviewAnalyst    ReviewClass = "analyst"
	ReviewProgrammer ReviewClass = "programmer"
)

// Analyst reviews must ground their notes in artifact verdicts,
// traceability language, downstream contract references and concrete
// handoff items. Each pattern pairs a topic word with nearby evidence
// wording so a bare "APPROVED, looks good" cannot pass.
var analystEvidence = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(artifact|proposal|design|tasks|spec)\w*\s.{0,30}(verified|missing|incomplete|correct|present|created|updated)`),
	regexp.MustCompile(`(?i)(P[1-4]|traceability|phase)\w*\s.{0,30}(coverage|gap|confirmed|traced|missing|complete)`),
	regexp.MustCompile(`(?i)(downstream|contract)\w*\s.{0,40}(\w+\.\w{2,4}|module|service|component|endpoint)`),
	regexp.MustCompile(`(?i)(handoff|action\s?item)\w*\s.{0,30}(\d+\s*(action|step|item|concrete)|includes|contains|lists)`),
}

// Programmer reviews are held to looser topical coverage: change scope,
// validation, quality risk and defect language.
var programmerEvidence = []*regexp.Regexp{
	regexp.MustCompile(`(?i)implementation|code|task|change|diff|file`),
	regexp.MustCompile(`(?i)validation|test|command|run|not_run|pytest|conda`),
	regexp.MustCompile(`(?i)risk|regression|quality|coverage|evidence`),
	regexp.MustCompile(`(?i)fix|issue|defect|gap|failure`),
}

// Gate decides whether a peer review actually approves. The verdict
// token alone is not enough: approval needs a minimum number of review
// cycles and, by default, evidence-bearing review notes.
type Gate struct {
	cfg config.Limits
}

func NewGate(cfg config.Limits) *Gate {
	return &Gate{cfg: cfg}
}

// Approved reports whether review passes the full gate at the given
// cycle. It never errors; a malformed review is simply not approved.
func (g *Gate) Approved(review string, cycle int, class ReviewClass) bool {
	if !approvedRE.MatchString(review) {
		return false
	}
	if cycle < g.cfg.MinReviewCyclesBeforeApproval {
		return false
	}
	if !g.cfg.RequireReviewEvidence {
		return true
	}
	notes := extractSection(review, reviewNotesRE, nil)
	if strings.TrimSpace(notes) == "" {
		return false
	}
	patterns := analystEvidence
	if class == ReviewProgrammer {
		patterns = programmerEvidence
	}
	hits := 0
	for _, p := range patterns {
		if p.MatchString(notes) {
			hits++
		}
	}
	return hits >= g.cfg.ReviewEvidenceMinMatch
}

// HasApprovalToken reports a raw APPROVED verdict regardless of the
// gate, used to log when the strict gate overrides one.
func HasApprovalToken(review string) bool {
	return approvedRE.MatchString(review)
}

// TestPassed reports a PASS verdict in a tester deliverable.
func TestPassed(testOut string) bool {
	return passResultRE.MatchString(testOut)
}

// TestVerdict returns the tester's explicit verdict token, or "" when the
// deliverable carries none.
func TestVerdict(testOut string) string {
	m := testResultRE.FindStringSubmatch(testOut)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}
