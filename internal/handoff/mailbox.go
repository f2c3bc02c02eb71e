// Package handoff implements the file mailbox protocol between the
// orchestrator and its worker terminals: each role writes its deliverable
// to a well-known path, and a poller watches terminal status and the
// mailbox until the deliverable lands or a timeout fires.
package handoff

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/logging"
	"github.com/agentmux/agentmux/internal/worker"
)

// Mailbox manages the per-role response files under
// <wd>/.tmp/agent-responses. Consumed files are never deleted; they move
// to a per-run archive directory <wd>/.tmp/<run-timestamp>/ with a
// three-digit sequence prefix, so a run leaves a complete paper trail.
type Mailbox struct {
	dir     string
	archive string
	seq     int
	log     *logging.Logger
}

// NewMailbox returns a mailbox rooted in wd. The archive directory name
// is fixed at construction so one run archives into one place.
func NewMailbox(wd string) *Mailbox {
	runTS := time.Now().Format("2006-01-02T15-04-05")
	return &Mailbox{
		dir:     filepath.Join(wd, ".tmp", "agent-responses"),
		archive: filepath.Join(wd, ".tmp", runTS),
		log:     logging.New("mailbox"),
	}
}

// Ensure creates the response directory.
func (m *Mailbox) Ensure() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create response dir: %w", err)
	}
	return nil
}

// Path returns the response file path for a deliverable slot.
func (m *Mailbox) Path(slot domain.Output) string {
	return filepath.Join(m.dir, slot.Filename())
}

// ArchiveDir returns this run's archive directory.
func (m *Mailbox) ArchiveDir() string {
	return m.archive
}

// Clear archives a leftover response file from a previous dispatch so it
// cannot be mistaken for the next answer. Archived stale entries carry a
// "-stale" suffix.
func (m *Mailbox) Clear(slot domain.Output) error {
	p := m.Path(slot)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return nil
	}
	return m.archiveFile(p, string(slot)+"-stale")
}

// Read consumes the response file for slot: the trimmed content is
// returned and the file moves to the archive. ok is false when no file
// exists. An empty file still archives and returns ok with empty content.
func (m *Mailbox) Read(slot domain.Output) (content string, ok bool, err error) {
	p := m.Path(slot)
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read response file: %w", err)
	}
	if err := m.archiveFile(p, string(slot)); err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (m *Mailbox) archiveFile(p, label string) error {
	m.seq++
	if err := os.MkdirAll(m.archive, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	dest := filepath.Join(m.archive, fmt.Sprintf("%03d-%s.md", m.seq, label))
	if err := os.Rename(p, dest); err != nil {
		return fmt.Errorf("archive response file: %w", err)
	}
	m.log.Info("response_archived", map[string]any{"file": filepath.Base(dest)})
	return nil
}

// Instruction returns the prompt block telling an agent to write its
// final answer to the slot's mailbox file via a single heredoc command.
func (m *Mailbox) Instruction(slot domain.Output) string {
	p := m.Path(slot)
	return fmt.Sprintf(`

--- RESPONSE FILE INSTRUCTION ---
After you finish your analysis, write your COMPLETE final response (everything from the summary marker onward) to this file:
%s
Use a single shell command:
cat << 'AGENT_EOF' > %s
...your full response...
AGENT_EOF
This is MANDATORY. The orchestrator reads your response from this file.
--- END RESPONSE FILE INSTRUCTION ---`, p, worker.ShellQuote(p))
}
