// Package worker models the CLI agents hosted inside terminal sessions.
// Each supported CLI family (a "kind") contributes a status classifier, a
// final-response extractor and a launch command. Classification is pure
// text analysis over the terminal buffer: the agents expose no API.
package worker

import (
	"fmt"
	"sort"
	"time"
)

// Status is a worker's lifecycle state, derived fresh from terminal text on
// every poll. It is never cached between polls.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusWaiting    Status = "waiting_user_answer"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Settled reports whether the worker has stopped producing output on its
// own (prompt visible, nothing running).
func (s Status) Settled() bool {
	return s == StatusIdle || s == StatusCompleted
}

// Kind is the capability set of one CLI family. Implementations are
// stateless; all methods are safe for concurrent use.
type Kind interface {
	// Name returns the provider identifier (e.g. "codex").
	Name() string

	// Classify derives the worker status from raw terminal text. It never
	// fails: an empty buffer is StatusError, an unrecognized one defaults
	// to StatusProcessing.
	Classify(text string) Status

	// ExtractLastResponse returns the final assistant message from raw
	// terminal text.
	ExtractLastResponse(text string) (string, error)

	// LaunchCommand builds the shell command that starts the CLI with the
	// given agent profile.
	LaunchCommand(profile Profile) string

	// AcceptAnswer is the input that approves a pending interactive
	// prompt (sent with a trailing Enter).
	AcceptAnswer() string

	// InitTimeout bounds how long the CLI may take to reach an idle
	// prompt after launch.
	InitTimeout() time.Duration
}

// TrustPrompter is implemented by kinds that show a one-time workspace
// trust dialog on first launch in a directory.
type TrustPrompter interface {
	TrustPrompt(text string) bool
}

// rule is one step of a kind's ordered classification chain. The first
// rule whose predicate holds decides the status.
type rule[V any] struct {
	name string
	when func(V) bool
	then Status
}

func classify[V any](v V, rules []rule[V], fallback Status) Status {
	for _, r := range rules {
		if r.when(v) {
			return r.then
		}
	}
	return fallback
}

var kinds = map[string]Kind{}

func register(k Kind) {
	kinds[k.Name()] = k
}

// KindFor resolves a provider name to its Kind.
func KindFor(name string) (Kind, error) {
	k, ok := kinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (valid: %v)", name, KindNames())
	}
	return k, nil
}

// ValidKind reports whether name is a registered provider.
func ValidKind(name string) bool {
	_, ok := kinds[name]
	return ok
}

// KindNames returns the registered provider names, sorted.
func KindNames() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
