// Package runtime provides graceful shutdown handling for agentmux
// processes: cleanup handlers run once, last registered first, when
// Shutdown is called or a termination signal arrives.
package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agentmux/agentmux/internal/logging"
)

// ShutdownFunc is one cleanup step run during shutdown.
type ShutdownFunc func(ctx context.Context) error

// DefaultShutdownTimeout bounds the whole cleanup pass.
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownManager coordinates cleanup for a process. The run command
// registers state persistence and worker teardown; the serve command
// registers server and registry close.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	sig      os.Signal
	log      *logging.Logger
}

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("shutdown"),
	}
}

// Register adds a cleanup handler. Handlers run in reverse registration
// order so dependents clean up before what they depend on.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// Context returns a context cancelled when shutdown begins. Long-running
// work takes this as its parent so a signal interrupts it.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Done is closed when all handlers have finished (or timed out).
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// ListenForSignals watches SIGINT and SIGTERM and triggers shutdown on
// the first one. Non-blocking; call once at startup.
func (m *ShutdownManager) ListenForSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		m.mu.Lock()
		m.sig = sig
		m.mu.Unlock()
		m.log.Info("signal_received", map[string]any{"signal": sig.String()})
		m.Shutdown()
	}()
}

// Signal returns the signal that triggered shutdown, or nil when
// shutdown was not signal-driven.
func (m *ShutdownManager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sig
}

// ExitCode maps the triggering signal to the conventional 128+n exit
// status. It returns -1 when no signal arrived.
func (m *ShutdownManager) ExitCode() int {
	m.mu.Lock()
	sig := m.sig
	m.mu.Unlock()
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return -1
}

// Shutdown cancels the context and runs all handlers exactly once.
// Safe to call from any goroutine, including after a signal fired it.
func (m *ShutdownManager) Shutdown() {
	m.once.Do(m.runHandlers)
	<-m.done
}

func (m *ShutdownManager) runHandlers() {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			m.log.Warn("handler_skipped", map[string]any{"handler": h.name, "reason": "shutdown timeout"})
			continue
		}
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.log.Error("handler_failed", err, map[string]any{
				"handler": h.name, "duration_ms": time.Since(start).Milliseconds(),
			})
			continue
		}
		m.log.Info("handler_done", map[string]any{
			"handler": h.name, "duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
