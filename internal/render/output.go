// Package render provides output formatting for CLI commands.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/agentmux/agentmux/internal/term"
	"github.com/agentmux/agentmux/internal/worker"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Terminals formats the terminal registry listing.
func (r *Renderer) Terminals(terminals []term.Terminal) string {
	if len(terminals) == 0 {
		return "No terminals registered\n"
	}

	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Terminals (%d)\n", len(terminals)))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for _, t := range terminals {
		r.formatTerminal(&sb, t)
	}

	return sb.String()
}

func (r *Renderer) formatTerminal(sb *strings.Builder, t term.Terminal) {
	created := t.CreatedAt.Local().Format("01-02 15:04")

	if r.pretty {
		fmt.Fprintf(sb, "%s %s  %s  %s  %s\n",
			StatusIcon(t.Status),
			t.ID,
			color.HiBlackString("%s/%s", t.Provider, Truncate(t.Profile, 16)),
			t.Session,
			r.StatusText(t.Status),
		)
	} else {
		fmt.Fprintf(sb, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, created, t.Provider, t.Profile, t.Session)
	}
}

// Terminal formats a single terminal in detail.
func (r *Renderer) Terminal(t term.Terminal) string {
	var sb strings.Builder

	if r.pretty {
		fmt.Fprintf(&sb, "%s %s\n", StatusIcon(t.Status), color.CyanString(t.ID))
	} else {
		fmt.Fprintf(&sb, "%s\n", t.ID)
	}
	fmt.Fprintf(&sb, "  Session:  %s (window %s)\n", t.Session, t.Window)
	fmt.Fprintf(&sb, "  Provider: %s\n", t.Provider)
	if t.Profile != "" {
		fmt.Fprintf(&sb, "  Profile:  %s\n", t.Profile)
	}
	fmt.Fprintf(&sb, "  Workdir:  %s\n", t.WD)
	fmt.Fprintf(&sb, "  Status:   %s\n", r.StatusText(t.Status))
	fmt.Fprintf(&sb, "  Created:  %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	return sb.String()
}

// Profiles formats the discovered agent profile names.
func (r *Renderer) Profiles(dir string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("No profiles found under %s\n", dir)
	}

	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Profiles (%d)\n", len(names)))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for _, name := range names {
		fmt.Fprintf(&sb, "  %s\n", name)
	}

	if r.pretty {
		sb.WriteString(color.HiBlackString("from %s\n", dir))
	}

	return sb.String()
}

// RunHeader formats the pipeline startup summary.
func (r *Renderer) RunHeader(provider, wd string, maxRounds int, resume bool) string {
	var sb strings.Builder

	title := "Starting pipeline"
	if resume {
		title = "Resuming pipeline"
	}
	if r.pretty {
		sb.WriteString(color.CyanString(title) + "\n")
	} else {
		sb.WriteString(title + "\n")
	}
	fmt.Fprintf(&sb, "  Provider:   %s\n", provider)
	fmt.Fprintf(&sb, "  Workdir:    %s\n", wd)
	fmt.Fprintf(&sb, "  Max rounds: %d\n", maxRounds)

	return sb.String()
}

// Verdict formats the final run outcome.
func (r *Renderer) Verdict(status string, rounds int) string {
	text := fmt.Sprintf("%s after %d round(s)", status, rounds)
	if !r.pretty {
		return text + "\n"
	}
	if status == "PASS" {
		return color.GreenString("✓ "+text) + "\n"
	}
	return color.RedString("✗ "+text) + "\n"
}

// StatusText renders a classified status with its severity color.
func (r *Renderer) StatusText(s worker.Status) string {
	if !r.pretty {
		return string(s)
	}
	switch s {
	case worker.StatusIdle, worker.StatusCompleted:
		return color.GreenString(string(s))
	case worker.StatusProcessing:
		return color.YellowString(string(s))
	case worker.StatusWaiting:
		return color.CyanString(string(s))
	case worker.StatusError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

// StatusIcon returns the icon for a classified worker status.
func StatusIcon(s worker.Status) string {
	switch s {
	case worker.StatusIdle:
		return "○"
	case worker.StatusProcessing:
		return "◐"
	case worker.StatusWaiting:
		return "?"
	case worker.StatusCompleted:
		return "✓"
	case worker.StatusError:
		return "✗"
	default:
		return "•"
	}
}

// Truncate shortens a string to max length.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// Writer wraps an io.Writer with indentation helpers for plain
// structured output.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer that writes to the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Stdout returns a Writer that writes to os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Print writes formatted text.
func (w *Writer) Print(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}

// Println writes formatted text with newline.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Line writes a blank line.
func (w *Writer) Line() {
	fmt.Fprintln(w.out)
}

// Header writes a header line.
func (w *Writer) Header(title string, args ...any) {
	if len(args) > 0 {
		title = fmt.Sprintf(title, args...)
	}
	fmt.Fprintln(w.out, strings.ToUpper(title))
	fmt.Fprintln(w.out)
}

// Item writes an indented item line.
func (w *Writer) Item(format string, args ...any) {
	fmt.Fprintf(w.out, "  "+format+"\n", args...)
}

// SubItem writes a double-indented sub-item.
func (w *Writer) SubItem(format string, args ...any) {
	fmt.Fprintf(w.out, "    "+format+"\n", args...)
}

// Empty writes an empty state message.
func (w *Writer) Empty(msg string) {
	fmt.Fprintln(w.out, msg)
}
