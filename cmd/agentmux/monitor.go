package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/render"
	"github.com/agentmux/agentmux/internal/term"
	"github.com/agentmux/agentmux/internal/worker"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	waitStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

const monitorPollInterval = 2 * time.Second

// Message types
type terminalsMsg []term.Terminal
type killedMsg string
type errMsg error
type tickMsg time.Time

// monitorModel is the live terminal dashboard.
type monitorModel struct {
	client      *term.Client
	terminals   []term.Terminal
	selectedIdx int
	err         error
	ready       bool
	quitting    bool
	spinner     spinner.Model
}

func newMonitorModel(client *term.Client) monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return monitorModel{client: client, spinner: s}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch, tickCmd())
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.selectedIdx < len(m.terminals)-1 {
				m.selectedIdx++
			}
		case "r":
			return m, m.fetch
		case "x":
			if m.selectedIdx < len(m.terminals) {
				return m, m.kill(m.terminals[m.selectedIdx].ID)
			}
		}

	case terminalsMsg:
		m.terminals = msg
		m.ready = true
		m.err = nil
		if m.selectedIdx >= len(m.terminals) && len(m.terminals) > 0 {
			m.selectedIdx = len(m.terminals) - 1
		}

	case killedMsg:
		return m, m.fetch

	case errMsg:
		m.err = msg

	case tickMsg:
		cmds = append(cmds, m.fetch, tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Connecting to terminal service...", m.spinner.View())
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("AgentMux Monitor") + "\n\n")

	status := fmt.Sprintf("%s Terminals: %d", m.spinner.View(), len(m.terminals))
	if m.err != nil {
		status += "  " + errorStyle.Render(m.err.Error())
	}
	b.WriteString(infoStyle.Render(status) + "\n\n")

	if len(m.terminals) == 0 {
		b.WriteString(infoStyle.Render("  No terminals registered") + "\n")
	}
	for i, t := range m.terminals {
		cursor := "  "
		if i == m.selectedIdx {
			cursor = "▶ "
		}
		line := fmt.Sprintf("%s%s %s  %-11s %-18s %-13s up %s",
			cursor,
			render.StatusIcon(t.Status),
			t.ID,
			t.Provider,
			render.Truncate(t.Profile, 18),
			t.Session,
			render.FormatDuration(time.Since(t.CreatedAt)),
		)
		b.WriteString(statusStyle(t.Status).Render(line) + "\n")
	}

	b.WriteString(helpStyle.Render("  j/k: navigate │ x: kill │ r: refresh │ q: quit"))

	return b.String()
}

func statusStyle(s worker.Status) lipgloss.Style {
	switch s {
	case worker.StatusProcessing:
		return busyStyle
	case worker.StatusWaiting:
		return waitStyle
	case worker.StatusError:
		return errorStyle
	default:
		return idleStyle
	}
}

// Commands

func (m monitorModel) fetch() tea.Msg {
	terminals, err := m.client.List(context.Background())
	if err != nil {
		return errMsg(err)
	}
	return terminalsMsg(terminals)
}

func (m monitorModel) kill(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.client.Exit(context.Background(), id); err != nil {
			return errMsg(err)
		}
		return killedMsg(id)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(monitorPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func monitorCmd() *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live terminal dashboard",
		Long: `Start the Bubble Tea powered dashboard over the terminal service:
one row per worker terminal with its live classified status, refreshed
every two seconds.`,
		Run: func(cmd *cobra.Command, args []string) {
			client := requireService(apiBase)
			p := tea.NewProgram(newMonitorModel(client), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&apiBase, "api", "", "Terminal service base URL")

	return cmd
}
