package worker

import (
	"regexp"
	"strings"
)

// Terminal emulators interleave CSI (cursor/color) and OSC (title) escape
// sequences with the visible text. Each kind strips what its CLI emits;
// carriage-return handling differs per kind because kiro's staleness
// counting depends on \r redraws staying on one physical line.
var (
	csiRE     = regexp.MustCompile(`\x1b\[[\d;?]*[a-zA-Z]`)
	csiFullRE = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	oscRE     = regexp.MustCompile(`\x1b\][^\x07]*(?:\x07|\x1b\\)`)
)

// stripCSI removes cursor and color control sequences, keeping \r.
func stripCSI(s string) string {
	return csiRE.ReplaceAllString(s, "")
}

// stripAllEscapes removes OSC then the full CSI range and normalizes
// carriage returns to newlines.
func stripAllEscapes(s string) string {
	s = oscRE.ReplaceAllString(s, "")
	s = csiFullRE.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "\n")
}

// lastLines returns the trailing n lines of s joined back together.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// ShellQuote quotes a single argument for POSIX shells.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>(){}[]*?~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin joins arguments into one shell command line.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}
