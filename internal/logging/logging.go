// Package logging provides structured JSON event logging.
// Events go to stderr as single JSON lines so orchestrator runs can be
// audited after the fact without parsing console output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level indicates event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single structured log entry.
type Event struct {
	Timestamp  string         `json:"ts"`
	Level      Level          `json:"level"`
	Component  string         `json:"component"`
	Event      string         `json:"event"`
	Role       string         `json:"role,omitempty"`
	Terminal   string         `json:"terminal,omitempty"`
	Round      int            `json:"round,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Logger emits events for one component. With* methods return copies so
// role/terminal context can be attached without mutating the parent.
type Logger struct {
	component string
	role      string
	terminal  string
	round     int
	phase     string
	debug     bool
}

var (
	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

// SetOutput redirects event output. The run command points it at the run
// log file; tests point it at a buffer.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

// New creates a logger for a component. Debug events are emitted only
// when AMX_LOG_LEVEL=debug.
func New(component string) *Logger {
	return &Logger{
		component: component,
		debug:     os.Getenv("AMX_LOG_LEVEL") == string(LevelDebug),
	}
}

// WithRole returns a copy carrying a role.
func (l *Logger) WithRole(role string) *Logger {
	c := *l
	c.role = role
	return &c
}

// WithTerminal returns a copy carrying a terminal id.
func (l *Logger) WithTerminal(id string) *Logger {
	c := *l
	c.terminal = id
	return &c
}

// WithPhase returns a copy carrying the pipeline position.
func (l *Logger) WithPhase(phase string, round int) *Logger {
	c := *l
	c.phase = phase
	c.round = round
	return &c
}

func (l *Logger) emit(level Level, event string, err error, extra map[string]any) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Role:      l.role,
		Terminal:  l.terminal,
		Round:     l.round,
		Phase:     l.phase,
		Extra:     extra,
	}
	if err != nil {
		e.Error = err.Error()
	}
	data, merr := json.Marshal(e)
	if merr != nil {
		return
	}
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(data))
}

// Debug logs a debug event (suppressed unless AMX_LOG_LEVEL=debug).
func (l *Logger) Debug(event string, extra map[string]any) {
	if !l.debug {
		return
	}
	l.emit(LevelDebug, event, nil, extra)
}

// Info logs an informational event.
func (l *Logger) Info(event string, extra map[string]any) {
	l.emit(LevelInfo, event, nil, extra)
}

// Warn logs a warning event.
func (l *Logger) Warn(event string, extra map[string]any) {
	l.emit(LevelWarn, event, nil, extra)
}

// Error logs an error event.
func (l *Logger) Error(event string, err error, extra map[string]any) {
	l.emit(LevelError, event, err, extra)
}

// Timed returns a completion func that logs the event with its duration.
//
//	defer log.Timed("dispatch")(nil)
func (l *Logger) Timed(event string) func(err error) {
	start := time.Now()
	return func(err error) {
		e := Event{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Level:      LevelInfo,
			Component:  l.component,
			Event:      event,
			Role:       l.role,
			Terminal:   l.terminal,
			Round:      l.round,
			Phase:      l.phase,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			e.Level = LevelError
			e.Error = err.Error()
		}
		data, merr := json.Marshal(e)
		if merr != nil {
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(out, string(data))
	}
}
