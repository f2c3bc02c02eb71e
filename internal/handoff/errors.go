package handoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/worker"
)

// Sentinel errors for handoff failures. Callers branch on these to pick
// an exit code; the typed wrappers below carry the details.
var (
	ErrFatal     = errors.New("fatal handoff failure")
	ErrTimeout   = errors.New("handoff timeout")
	ErrSafetyCap = errors.New("acknowledge safety cap reached")
)

// FatalError means the worker cannot produce a deliverable this dispatch:
// it entered an error state, or settled without writing its mailbox file
// under strict handoff.
type FatalError struct {
	Role       domain.Role
	TerminalID string
	Reason     string
	Snippet    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("[%s] %s (terminal %s)", e.Role, e.Reason, e.TerminalID)
}

func (e *FatalError) Unwrap() error { return ErrFatal }

// TimeoutError means the overall response timeout elapsed while the
// worker was still visibly busy.
type TimeoutError struct {
	Role       domain.Role
	TerminalID string
	Status     worker.Status
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("[%s] no response after %s (terminal %s, status=%s)",
		e.Role, e.Elapsed, e.TerminalID, e.Status)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// SafetyCapError means auto-acknowledge hit its per-dispatch cap, which
// signals a prompt loop rather than a one-off confirmation.
type SafetyCapError struct {
	Role       domain.Role
	TerminalID string
	Count      int
}

func (e *SafetyCapError) Error() string {
	return fmt.Sprintf("[%s] acknowledged %d prompts without progress (terminal %s)",
		e.Role, e.Count, e.TerminalID)
}

func (e *SafetyCapError) Unwrap() error { return ErrSafetyCap }

// IsFatal reports whether err is a fatal handoff failure.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }

// IsTimeout reports whether err is an overall handoff timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsSafetyCap reports whether err is an acknowledge cap violation.
func IsSafetyCap(err error) bool { return errors.Is(err, ErrSafetyCap) }
