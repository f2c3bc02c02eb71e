package handoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/domain"
	"github.com/agentmux/agentmux/internal/logging"
	"github.com/agentmux/agentmux/internal/worker"
)

// Sessions is the terminal surface the poller needs: deliver a message,
// read the visible tail for classification, and fetch the last response
// as a lenient fallback.
type Sessions interface {
	SendInput(ctx context.Context, terminalID, message string) error
	TailText(ctx context.Context, terminalID string) (string, error)
	LastOutput(ctx context.Context, terminalID string) (string, error)
}

// Terminal identifies one worker for a dispatch.
type Terminal struct {
	ID   string
	Role domain.Role
	Kind worker.Kind
}

// Poller drives one request/response cycle against one worker terminal.
type Poller struct {
	sessions Sessions
	mailbox  *Mailbox
	cfg      config.Handoff
	interval time.Duration
	log      *logging.Logger

	// injected for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewPoller wires a poller over the given terminal surface and mailbox.
// interval is the status poll spacing (limits.poll_seconds).
func NewPoller(sessions Sessions, mailbox *Mailbox, cfg config.Handoff, interval time.Duration) *Poller {
	return &Poller{
		sessions: sessions,
		mailbox:  mailbox,
		cfg:      cfg,
		interval: interval,
		log:      logging.New("handoff"),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Dispatch archives any stale mailbox entry for the terminal's slot and
// sends the message.
func (p *Poller) Dispatch(ctx context.Context, t Terminal, message string) error {
	if err := p.mailbox.Clear(t.Role.Output()); err != nil {
		return err
	}
	if err := p.sessions.SendInput(ctx, t.ID, message); err != nil {
		return fmt.Errorf("send to %s terminal: %w", t.Role, err)
	}
	return nil
}

// SendAndWait is Dispatch followed by AwaitResponse.
func (p *Poller) SendAndWait(ctx context.Context, t Terminal, message string) (string, error) {
	done := p.log.WithRole(string(t.Role)).WithTerminal(t.ID).Timed("handoff")
	if err := p.Dispatch(ctx, t, message); err != nil {
		done(err)
		return "", err
	}
	out, err := p.AwaitResponse(ctx, t)
	done(err)
	return out, err
}

// AwaitResponse polls terminal status and the mailbox until the worker's
// deliverable lands.
//
// The startup guard keeps a stale Idle/Completed screen left over from
// the previous turn from counting as "already done": the idle-grace timer
// only runs once the worker has been seen Processing or WaitingForAnswer
// since dispatch. If that observation never comes within
// idle_grace_seconds x startup_grace_multiplier the guard force-releases
// with a warning.
//
// After release, idle-grace accumulates across consecutive settled polls
// without a mailbox file. On expiry, strict handoff fails the dispatch;
// lenient mode falls back to the worker's last visible output.
func (p *Poller) AwaitResponse(ctx context.Context, t Terminal) (string, error) {
	slot := t.Role.Output()
	log := p.log.WithRole(string(t.Role)).WithTerminal(t.ID)

	start := p.now()
	var (
		started    bool
		idleSince  time.Time
		lastStatus worker.Status
		acks       int
		lastAck    time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		tail, err := p.sessions.TailText(ctx, t.ID)
		if err != nil {
			return "", fmt.Errorf("poll %s terminal: %w", t.Role, err)
		}
		status := t.Kind.Classify(tail)
		if status != lastStatus {
			log.Debug("status", map[string]any{"status": string(status)})
			lastStatus = status
		}

		if status == worker.StatusError {
			return "", &FatalError{
				Role: t.Role, TerminalID: t.ID,
				Reason:  "terminal entered error state",
				Snippet: snippet(tail),
			}
		}

		// A present file on a settled terminal wins over everything,
		// including the startup guard. Empty files archive and the wait
		// continues.
		if status.Settled() {
			content, ok, err := p.mailbox.Read(slot)
			if err != nil {
				return "", err
			}
			if ok && content != "" {
				log.Info("response_received", map[string]any{"bytes": len(content)})
				return content, nil
			}
			if ok {
				log.Warn("empty_response_file", map[string]any{"file": p.mailbox.Path(slot)})
			}
		}

		switch status {
		case worker.StatusProcessing:
			started = true
			idleSince = time.Time{}

		case worker.StatusWaiting:
			started = true
			idleSince = time.Time{}
			if p.cfg.AutoAcknowledge {
				if lastAck.IsZero() || p.now().Sub(lastAck) >= p.cfg.AckCooldown() {
					if acks >= p.cfg.MaxAcknowledge {
						return "", &SafetyCapError{Role: t.Role, TerminalID: t.ID, Count: acks}
					}
					if err := p.sessions.SendInput(ctx, t.ID, t.Kind.AcceptAnswer()); err != nil {
						return "", fmt.Errorf("acknowledge %s prompt: %w", t.Role, err)
					}
					acks++
					lastAck = p.now()
					log.Info("auto_acknowledge", map[string]any{"count": acks, "cap": p.cfg.MaxAcknowledge})
				}
			}

		default: // settled without a usable file
			if !started && p.now().Sub(start) > p.cfg.StartupGrace() {
				started = true
				log.Warn("startup_guard_forced", map[string]any{
					"after_seconds": int(p.now().Sub(start).Seconds()),
				})
			}
			if started {
				if idleSince.IsZero() {
					idleSince = p.now()
				} else if p.now().Sub(idleSince) > p.cfg.IdleGrace() {
					if p.cfg.StrictFileHandoff {
						return "", &FatalError{
							Role: t.Role, TerminalID: t.ID,
							Reason: fmt.Sprintf("settled %ds without writing %s",
								p.cfg.IdleGraceSeconds, p.mailbox.Path(slot)),
						}
					}
					log.Warn("falling_back_to_terminal_output", nil)
					return p.lastOutput(ctx, t)
				}
			}
		}

		if p.now().Sub(start) > p.cfg.ResponseTimeout() {
			if status.Settled() {
				if p.cfg.StrictFileHandoff {
					return "", &FatalError{
						Role: t.Role, TerminalID: t.ID,
						Reason: fmt.Sprintf("response file not written after %ds",
							p.cfg.ResponseTimeoutSeconds),
					}
				}
				log.Warn("falling_back_to_terminal_output", nil)
				return p.lastOutput(ctx, t)
			}
			return "", &TimeoutError{
				Role: t.Role, TerminalID: t.ID,
				Status: status, Elapsed: p.cfg.ResponseTimeout(),
			}
		}

		p.sleep(p.interval)
	}
}

func (p *Poller) lastOutput(ctx context.Context, t Terminal) (string, error) {
	out, err := p.sessions.LastOutput(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("fallback output for %s: %w", t.Role, err)
	}
	return strings.TrimSpace(out), nil
}

// snippet keeps the last few terminal lines for error reporting.
func snippet(tail string) string {
	lines := strings.Split(strings.TrimRight(tail, "\n"), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	s := strings.Join(lines, "\n")
	if len(s) > 400 {
		s = s[:397] + "..."
	}
	return s
}
