// Package exec provides a testable command execution abstraction.
// All tmux invocations go through a Runner so the terminal layer can be
// exercised without a live tmux server.
package exec

import (
	"context"
	"os"
	osexec "os/exec"
	"strings"
)

// Runner defines the interface for executing external commands.
// Inject this instead of calling exec.Command directly.
type Runner interface {
	// Run executes a command and returns combined stdout/stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInteractive executes a command wired to the caller's terminal,
	// blocking until it exits. Used for tmux attach.
	RunInteractive(ctx context.Context, name string, args ...string) error
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes a command and returns combined output.
func (r *OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd.CombinedOutput()
}

// RunInteractive executes a command attached to this process's terminal.
func (r *OSRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	cmd := osexec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// MockRunner implements Runner for testing.
type MockRunner struct {
	// Calls records all command invocations
	Calls []MockCall

	// Responses maps "name subcommand" (falling back to "name") to the
	// canned response for that invocation.
	Responses map[string]MockResponse
}

// MockCall records a single command invocation.
type MockCall struct {
	Name string
	Args []string
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Err    error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]MockResponse),
	}
}

// AddResponse sets the response for a command pattern, either a bare
// command name or "name subcommand" for finer routing.
func (m *MockRunner) AddResponse(pattern string, resp MockResponse) {
	m.Responses[pattern] = resp
}

func (m *MockRunner) lookup(name string, args []string) MockResponse {
	if len(args) > 0 {
		if resp, ok := m.Responses[name+" "+args[0]]; ok {
			return resp
		}
	}
	return m.Responses[name]
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args})
	resp := m.lookup(name, args)
	return resp.Stdout, resp.Err
}

func (m *MockRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args})
	return m.lookup(name, args).Err
}

// CommandLines renders recorded calls as "name arg arg" strings, one per
// call, for assertions on invocation order.
func (m *MockRunner) CommandLines() []string {
	lines := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		lines[i] = strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	}
	return lines
}

// Default is the default runner used when none is injected.
var Default Runner = NewOSRunner()
