package worker

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// kiroCLI drives the Kiro CLI. Its prompt renders a profile badge with a
// context percentage, e.g. "[developer] 98% λ >", assistant turns start
// with "> " at column zero, and tool permission questions read
// "Allow this action? ... [y/n/t]:".
//
// Carriage returns are preserved while classifying: the CLI re-renders the
// permission line in place with \r, so a prompt redrawn many times still
// occupies one physical line. Staleness of a permission question is
// measured in physical lines containing an idle prompt after it.
type kiroCLI struct{}

func init() {
	register(kiroCLI{})
	register(qCLI{})
}

var (
	kiroIdleRE     = regexp.MustCompile(`\[[^\]]+\]\s*\d+%\s*(?:λ\s*)?>`)
	kiroResponseRE = regexp.MustCompile(`(?m)^> `)
	kiroPermRE     = regexp.MustCompile(`(?s)Allow this action\?.*?\[.*?y.*?/.*?n.*?/.*?t.*?\]:`)
)

const kiroToolMarker = "(using tool:"

type kiroView struct {
	clean string
	// active is everything after the line holding the last idle prompt.
	// Text typed on the prompt line itself stays out of it.
	active  string
	hasIdle bool
}

func newKiroView(text string) kiroView {
	v := kiroView{clean: stripCSI(text)}
	locs := kiroIdleRE.FindAllStringIndex(v.clean, -1)
	if len(locs) == 0 {
		return v
	}
	v.hasIdle = true
	rest := v.clean[locs[len(locs)-1][1]:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		v.active = rest[nl+1:]
	}
	return v
}

// pendingPermission reports whether the latest permission question is
// still waiting for input. After an answer the CLI prints fresh prompt
// lines below the question; two or more such physical lines mean the
// question is stale, while in-place \r redraws never add lines.
func (v kiroView) pendingPermission() bool {
	locs := kiroPermRE.FindAllStringIndex(v.clean, -1)
	if len(locs) == 0 {
		return false
	}
	after := v.clean[locs[len(locs)-1][1]:]
	promptLines := 0
	for _, line := range strings.Split(after, "\n") {
		if kiroIdleRE.MatchString(line) {
			promptLines++
		}
	}
	return promptLines < 2
}

var kiroRules = []rule[kiroView]{
	{"no-prompt", func(v kiroView) bool {
		return !v.hasIdle
	}, StatusProcessing},
	{"permission", func(v kiroView) bool {
		return v.pendingPermission()
	}, StatusWaiting},
	{"tool-running", func(v kiroView) bool {
		return strings.Contains(v.active, kiroToolMarker)
	}, StatusProcessing},
	{"rendering", func(v kiroView) bool {
		return strings.TrimSpace(v.active) != ""
	}, StatusProcessing},
	{"completed", func(v kiroView) bool {
		last := kiroResponseRE.FindAllStringIndex(v.clean, -1)
		if len(last) == 0 {
			return false
		}
		return kiroIdleRE.MatchString(v.clean[last[len(last)-1][1]:])
	}, StatusCompleted},
}

func (kiroCLI) Name() string { return "kiro_cli" }

func (kiroCLI) Classify(text string) Status {
	if strings.TrimSpace(text) == "" {
		return StatusError
	}
	return classify(newKiroView(text), kiroRules, StatusIdle)
}

func (kiroCLI) ExtractLastResponse(text string) (string, error) {
	return kiroExtract(text)
}

func kiroExtract(text string) (string, error) {
	clean := stripCSI(text)
	locs := kiroResponseRE.FindAllStringIndex(clean, -1)
	if len(locs) == 0 {
		return "", errors.New("no kiro response marker in terminal output")
	}
	rest := clean[locs[len(locs)-1][1]:]

	var lines []string
	for i, line := range strings.Split(rest, "\n") {
		if i > 0 && kiroIdleRE.MatchString(line) {
			break
		}
		lines = append(lines, line)
	}
	out := strings.TrimSpace(strings.Join(lines, "\n"))
	if out == "" {
		return "", errors.New("empty kiro response after marker")
	}
	return out, nil
}

func (kiroCLI) LaunchCommand(p Profile) string {
	return shellJoin([]string{"kiro-cli", "chat", "--agent", p.Name})
}

func (kiroCLI) AcceptAnswer() string { return "y" }

func (kiroCLI) InitTimeout() time.Duration { return 120 * time.Second }

// qCLI drives the Amazon Q CLI, which shares Kiro's terminal grammar and
// differs only in its binary name.
type qCLI struct{ kiroCLI }

func (qCLI) Name() string { return "q_cli" }

func (qCLI) LaunchCommand(p Profile) string {
	return shellJoin([]string{"q", "chat", "--agent", p.Name})
}
