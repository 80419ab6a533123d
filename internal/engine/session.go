package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/deskpilot/internal/confirm"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// State is the position of a session in the execution state machine.
type State string

const (
	StateIdle       State = "idle"
	StatePerceiving State = "perceiving"
	StatePlanning   State = "planning"
	StateActing     State = "acting"
	StateDone       State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// ModeAct is the only mode this engine runs.
const ModeAct = "act"

// Request is what the UI submits to start a task.
type Request struct {
	Text        string          `json:"text"`
	Mode        string          `json:"mode,omitempty"`
	Settings    config.Settings `json:"settings"`
	Attachments []string        `json:"attachments,omitempty"`
	APIKey      string          `json:"api_key,omitempty"`
}

// Session is the engine state for one user request. All per-request state
// lives here, never on the Loop or Manager.
type Session struct {
	ID      string
	Request Request

	// parent outlives Stop so in-flight model calls complete and are
	// discarded rather than aborted.
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	sink    Sink
	slot    *confirm.Slot
	stopped atomic.Bool
	done    chan struct{}

	mu         sync.Mutex
	state      State
	iterations int
	lastNotes  string
}

// NewSession creates an idle session whose events go to sink.
func NewSession(parent context.Context, req Request, sink Sink) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:      uuid.NewString(),
		Request: req,
		parent:  context.WithoutCancel(parent),
		ctx:     ctx,
		cancel:  cancel,
		sink:    sink,
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	s.slot = confirm.NewSlot(func(r confirm.Request) { s.emit(EventRequestConfirmation, r) })
	return s
}

// Stop requests cooperative cancellation. Pending confirmations are denied.
func (s *Session) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		s.slot.Release()
		s.cancel()
	}
}

// Stopped reports whether Stop was called or the parent context ended.
func (s *Session) Stopped() bool {
	return s.stopped.Load() || s.ctx.Err() != nil
}

// Resolve answers the pending confirmation, if any.
func (s *Session) Resolve(approved bool) bool { return s.slot.Resolve(approved) }

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Iterations is the number of perceive-plan-act cycles started so far.
func (s *Session) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// LastNotes is the verification summary fed into the next prompt.
func (s *Session) LastNotes() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotes
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) nextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	return s.iterations
}

func (s *Session) setNotes(notes string) {
	s.mu.Lock()
	s.lastNotes = notes
	s.mu.Unlock()
}

func (s *Session) emit(t EventType, data interface{}) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(Event{Type: t, Data: data, Timestamp: time.Now()})
}
