package worker

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// claudeCode drives the Claude Code CLI. Its UI renders a ⏺ marker before
// assistant messages, a > (or ❯) input prompt, a glyph spinner while
// working and ❯-highlighted numbered menus for interactive questions.
type claudeCode struct{}

func init() { register(claudeCode{}) }

var (
	claudeResponseRE   = regexp.MustCompile(`⏺(?:\x1b\[[0-9;]*m)*\s+`)
	claudeSpinnerRE    = regexp.MustCompile(`[✶✢✽✻·✳].*….*\(.*\)`)
	claudeIdleRE       = regexp.MustCompile(`(?m)^[>❯]\s`)
	claudeSelectionRE  = regexp.MustCompile(`❯.*\d+\.`)
	claudeErrorRE      = regexp.MustCompile(`Error:|error:|ERROR|FATAL|Traceback \(most recent`)
	claudePermissionRE = []*regexp.Regexp{
		regexp.MustCompile(`Would you like to run`),
		regexp.MustCompile(`Do you want to .* outside`),
		regexp.MustCompile(`Allow .* to run`),
	}
)

const (
	claudeTrustPrompt = "Yes, I trust this folder"
	claudeTailLines   = 15
)

type claudeView struct {
	clean      string
	tail       string
	livePrompt bool
}

func newClaudeView(text string) claudeView {
	v := claudeView{clean: stripCSI(text)}
	v.tail = lastLines(v.clean, claudeTailLines)
	// The prompt is live when nothing was rendered after it: a response
	// marker after the last prompt means a fresh turn is in flight.
	if locs := claudeIdleRE.FindAllStringIndex(v.tail, -1); len(locs) > 0 {
		after := v.tail[locs[len(locs)-1][1]:]
		v.livePrompt = !claudeResponseRE.MatchString(after)
	}
	return v
}

// pendingPermission finds the latest permission question in the tail and
// reports whether it is still unanswered. Once answered the CLI prints a
// fresh input prompt below it, which marks the question stale.
func (v claudeView) pendingPermission() bool {
	end := -1
	for _, re := range claudePermissionRE {
		for _, loc := range re.FindAllStringIndex(v.tail, -1) {
			if loc[1] > end {
				end = loc[1]
			}
		}
	}
	if end < 0 {
		return false
	}
	return !claudeIdleRE.MatchString(v.tail[end:])
}

var claudeRules = []rule[claudeView]{
	{"spinner", func(v claudeView) bool {
		return claudeSpinnerRE.MatchString(v.tail)
	}, StatusProcessing},
	{"selection-menu", func(v claudeView) bool {
		return claudeSelectionRE.MatchString(v.tail) && !strings.Contains(v.tail, claudeTrustPrompt)
	}, StatusWaiting},
	{"permission", func(v claudeView) bool {
		return v.pendingPermission()
	}, StatusWaiting},
	{"completed", func(v claudeView) bool {
		return v.livePrompt && claudeResponseRE.MatchString(v.clean)
	}, StatusCompleted},
	{"idle-prompt", func(v claudeView) bool {
		return v.livePrompt
	}, StatusIdle},
	{"errored", func(v claudeView) bool {
		return claudeErrorRE.MatchString(v.tail)
	}, StatusError},
}

func (claudeCode) Name() string { return "claude_code" }

func (claudeCode) Classify(text string) Status {
	if strings.TrimSpace(text) == "" {
		return StatusError
	}
	return classify(newClaudeView(text), claudeRules, StatusProcessing)
}

func (claudeCode) ExtractLastResponse(text string) (string, error) {
	locs := claudeResponseRE.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return "", errors.New("no claude response marker in terminal output")
	}
	rest := text[locs[len(locs)-1][1]:]

	var lines []string
	for _, line := range strings.Split(rest, "\n") {
		probe := stripCSI(line)
		if claudeIdleRE.MatchString(probe) || strings.Contains(probe, "────────") {
			break
		}
		lines = append(lines, line)
	}
	out := strings.TrimSpace(stripCSI(strings.Join(lines, "\n")))
	if out == "" {
		return "", errors.New("empty claude response after marker")
	}
	return out, nil
}

func (claudeCode) LaunchCommand(p Profile) string {
	// CLAUDECODE leaks in when the orchestrator itself runs under the CLI
	// and makes the child refuse to start interactively.
	args := []string{"env", "-u", "CLAUDECODE", "claude", "--dangerously-skip-permissions"}
	if p.SystemPrompt != "" {
		esc := strings.ReplaceAll(p.SystemPrompt, `\`, `\\`)
		esc = strings.ReplaceAll(esc, "\n", `\n`)
		args = append(args, "--append-system-prompt", esc)
	}
	return shellJoin(args)
}

// AcceptAnswer returns an empty message: a bare Enter picks the
// highlighted (approve) option in Claude Code menus.
func (claudeCode) AcceptAnswer() string { return "" }

func (claudeCode) InitTimeout() time.Duration { return 30 * time.Second }

// TrustPrompt detects the one-time workspace trust dialog, which the
// selection-menu rule deliberately ignores so launch code can answer it.
func (claudeCode) TrustPrompt(text string) bool {
	return strings.Contains(stripCSI(text), claudeTrustPrompt)
}
