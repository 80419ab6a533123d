package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

var (
	// ErrBusy is returned when a task start is already switching sessions.
	ErrBusy = errors.New("engine is busy starting another task")
	// ErrEmptyRequest is returned for a request without text.
	ErrEmptyRequest = errors.New("task request is empty")
	// ErrUnsupportedMode is returned for modes other than act.
	ErrUnsupportedMode = errors.New("unsupported mode")
)

// Runner executes one session to completion.
type Runner interface {
	Run(s *Session) State
}

// Manager hosts at most one active session and routes UI commands to it.
type Manager struct {
	runner        Runner
	sink          Sink
	restartSettle time.Duration
	defaults      config.Settings
	logger        *zap.Logger

	mu       sync.Mutex
	current  *Session
	starting bool
	wg       sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultSettings fills settings fields a request leaves empty.
func WithDefaultSettings(def config.Settings) ManagerOption {
	return func(m *Manager) { m.defaults = def }
}

// NewManager creates a Manager. Every session's events go to sink.
func NewManager(runner Runner, sink Sink, restartSettle time.Duration, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	m := &Manager{
		runner:        runner,
		sink:          sink,
		restartSettle: restartSettle,
		logger:        logger.Named("manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartTask stops the active session, if any, waits for it to finish and
// settle, then starts req in the background. ctx bounds the lifetime of the
// new session. The returned session can be awaited through Done.
func (m *Manager) StartTask(ctx context.Context, req Request) (*Session, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, ErrEmptyRequest
	}
	if req.Mode != "" && !strings.EqualFold(req.Mode, ModeAct) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, req.Mode)
	}
	req.Settings = req.Settings.WithDefaults(m.defaults)

	m.mu.Lock()
	if m.starting {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.starting = true
	prev := m.current
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	if prev != nil && !isDone(prev) {
		m.logger.Info("Stopping active task before starting a new one.", zap.String("session_id", prev.ID))
		prev.Stop()
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := sleepCtx(ctx, m.restartSettle); err != nil {
			return nil, err
		}
	}

	s := NewSession(ctx, req, m.sink)
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runner.Run(s)
	}()
	return s, nil
}

// StopTask requests cancellation of the active session. It reports whether
// a running session was found.
func (m *Manager) StopTask() bool {
	s := m.Current()
	if s == nil || isDone(s) {
		return false
	}
	m.logger.Info("Stop requested.", zap.String("session_id", s.ID))
	s.Stop()
	return true
}

// HandleConfirmation answers the active session's pending confirmation.
func (m *Manager) HandleConfirmation(approved bool) bool {
	s := m.Current()
	if s == nil {
		return false
	}
	if !s.Resolve(approved) {
		m.logger.Warn("Confirmation received with nothing pending.", zap.Bool("approved", approved))
		return false
	}
	return true
}

// Current returns the most recently started session.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Shutdown stops the active session and waits for every session goroutine.
func (m *Manager) Shutdown() {
	m.StopTask()
	m.wg.Wait()
}

func isDone(s *Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
