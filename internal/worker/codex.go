package worker

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// codexCLI drives the Codex CLI. The UI has changed across releases: older
// builds print a ❯ or codex> prompt, v0.104+ renders a › composer with a
// "for shortcuts" hint and a "NN% context left" footer, and long commands
// show a "Working (12s • esc to interrupt)" ribbon. The rules below accept
// both generations; only UI-anchored strings count as work indicators,
// never narrative verbs inside assistant text.
type codexCLI struct{}

func init() { register(codexCLI{}) }

var (
	// A › only starts user input when horizontal whitespace and content
	// follow on the same line. A bare › with the footer on the next line
	// is the empty composer, not input.
	codexUserRE      = regexp.MustCompile(`^\s*(?:You\b|›[ \t]+\S)`)
	codexAssistantRE = regexp.MustCompile(`^\s*(?:(?:assistant|codex|agent)\s*:|•\s+)`)
	codexIdleLineRE  = regexp.MustCompile(`^\s*(?:❯|›|codex>)\s*$`)
	codexHintRE      = regexp.MustCompile(`^\s*›\s+.*for shortcuts`)
	codexFooterRE    = regexp.MustCompile(`^\s*\d+%\s+context left\s*$`)
	codexIdleAtEndRE = regexp.MustCompile(`(?:^|\n)\s*(?:(?:❯|›|codex>)\s*|›\s+.*for shortcuts.*)\s*\z`)
	codexWaitingRE   = regexp.MustCompile(`(?i)^\s*(?:Approve|Allow)\b.*\b(?:y/n|yes/no|yes|no)\b`)
	codexSelectRE    = regexp.MustCompile(`^\s*›?\s*\d+\.\s+`)
	codexConfirmRE   = regexp.MustCompile(`(?i)press enter to confirm`)
	codexErrorRE     = regexp.MustCompile(`^(?:Error:|ERROR:|Traceback \(most recent call last\):|panic:)`)
	codexWorkingRE   = regexp.MustCompile(`esc to interrupt|Working\s*\(\d+s`)
)

const codexTailLines = 25

type codexView struct {
	tail      string
	tailLines []string
	// scope is the region waiting/error/assistant checks run over: the
	// lines after the last user input, or the whole tail without one.
	scope          []string
	lastUser       int
	assistantAfter bool
	idleSignal     bool
}

func newCodexView(text string) codexView {
	clean := stripAllEscapes(text)
	v := codexView{tail: lastLines(clean, codexTailLines)}
	v.tailLines = strings.Split(v.tail, "\n")

	v.lastUser = -1
	for i, line := range v.tailLines {
		if codexUserRE.MatchString(line) && !codexHintRE.MatchString(line) {
			v.lastUser = i
		}
	}
	v.scope = v.tailLines
	if v.lastUser >= 0 {
		v.scope = v.tailLines[v.lastUser+1:]
	}
	for _, line := range v.scope {
		if codexAssistantRE.MatchString(line) {
			v.assistantAfter = true
			break
		}
	}

	v.idleSignal = codexIdleAtEndRE.MatchString(v.tail) ||
		strings.Contains(strings.ToLower(v.tail), "context left")
	if !v.idleSignal {
		for _, line := range v.tailLines {
			if codexIdleLineRE.MatchString(line) || codexHintRE.MatchString(line) {
				v.idleSignal = true
				break
			}
		}
	}
	return v
}

func (v codexView) anyScopeLine(re *regexp.Regexp) bool {
	for _, line := range v.scope {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (v codexView) anyTailLine(re *regexp.Regexp) bool {
	for _, line := range v.tailLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

var codexRules = []rule[codexView]{
	{"working", func(v codexView) bool {
		return codexWorkingRE.MatchString(v.tail)
	}, StatusProcessing},
	{"selection-prompt", func(v codexView) bool {
		return v.anyTailLine(codexConfirmRE) && v.anyTailLine(codexSelectRE)
	}, StatusWaiting},
	{"approval-prompt", func(v codexView) bool {
		return !v.assistantAfter && v.anyScopeLine(codexWaitingRE)
	}, StatusWaiting},
	{"errored", func(v codexView) bool {
		return !v.assistantAfter && v.anyScopeLine(codexErrorRE)
	}, StatusError},
	{"completed", func(v codexView) bool {
		return v.idleSignal && v.lastUser >= 0 && v.assistantAfter
	}, StatusCompleted},
	{"idle-prompt", func(v codexView) bool {
		return v.idleSignal
	}, StatusIdle},
}

func (codexCLI) Name() string { return "codex" }

func (codexCLI) Classify(text string) Status {
	if strings.TrimSpace(text) == "" {
		return StatusError
	}
	return classify(newCodexView(text), codexRules, StatusProcessing)
}

func (codexCLI) ExtractLastResponse(text string) (string, error) {
	lines := strings.Split(stripAllEscapes(text), "\n")
	last := -1
	for i, line := range lines {
		if codexAssistantRE.MatchString(line) {
			last = i
		}
	}
	if last < 0 {
		return "", errors.New("no codex response marker in terminal output")
	}

	// The marker line itself always belongs to the response; boundary
	// checks start on the following lines.
	collected := []string{codexAssistantRE.ReplaceAllString(lines[last], "")}
	for _, line := range lines[last+1:] {
		if codexUserRE.MatchString(line) || codexIdleLineRE.MatchString(line) || codexFooterRE.MatchString(line) {
			break
		}
		collected = append(collected, line)
	}
	out := strings.TrimSpace(strings.Join(collected, "\n"))
	if out == "" {
		return "", errors.New("empty codex response after marker")
	}
	return out, nil
}

func (codexCLI) LaunchCommand(Profile) string { return "codex" }

func (codexCLI) AcceptAnswer() string { return "y" }

func (codexCLI) InitTimeout() time.Duration { return 180 * time.Second }
