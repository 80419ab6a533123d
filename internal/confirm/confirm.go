// Package confirm gates high-risk actions behind an explicit user decision.
//
// Each session owns one Slot. A pending confirmation holds the slot's single
// resolver until the UI answers, the wait times out, or the session is
// cancelled. The last two resolve to deny.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// DefaultTimeout is used when the gate is built with a non-positive timeout.
const DefaultTimeout = 60 * time.Second

// Request is the payload sent to the UI when a decision is needed.
type Request struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Action      string                 `json:"action"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Notifier delivers a confirmation request to the UI.
type Notifier func(Request)

// Slot is the per-session single-slot resolver.
type Slot struct {
	mu       sync.Mutex
	id       string
	resolver chan bool
	notify   Notifier
}

// NewSlot creates a slot whose requests are announced through notify.
func NewSlot(notify Notifier) *Slot {
	return &Slot{notify: notify}
}

// install replaces any pending resolver, denying it, and returns the new one.
func (s *Slot) install(id string) chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolver != nil {
		s.resolver <- false
	}
	s.id = id
	s.resolver = make(chan bool, 1)
	return s.resolver
}

// clear drops resolver if it is still the installed one.
func (s *Slot) clear(resolver chan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolver == resolver {
		s.resolver = nil
		s.id = ""
	}
}

// Resolve answers the pending confirmation. It reports false when nothing
// was pending.
func (s *Slot) Resolve(approved bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolver == nil {
		return false
	}
	s.resolver <- approved
	s.resolver = nil
	s.id = ""
	return true
}

// Release denies any pending confirmation. Used on cancel.
func (s *Slot) Release() { s.Resolve(false) }

// Pending returns the ID of the outstanding request, if any.
func (s *Slot) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.resolver != nil
}

// Gate decides whether an action may run.
type Gate struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewGate creates a Gate that denies after timeout.
func NewGate(timeout time.Duration, logger *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{timeout: timeout, logger: logger.Named("confirm")}
}

// MaybeConfirm returns true at once for low-risk actions or when the
// settings waive confirmation. Otherwise it announces a request on slot and
// blocks until it is answered. Timeout and cancellation both deny.
func (g *Gate) MaybeConfirm(ctx context.Context, slot *Slot, act action.Action, settings config.Settings) bool {
	if settings.ProceedWithoutConfirmation || !act.HighRisk() {
		return true
	}

	req := Request{
		ID:          uuid.NewString(),
		Description: act.Label(),
		Action:      string(act.Kind),
		Parameters:  act.Parameters,
	}
	if req.Parameters == nil {
		req.Parameters = map[string]interface{}{}
	}

	resolver := slot.install(req.ID)
	defer slot.clear(resolver)

	logger := g.logger.With(zap.String("request_id", req.ID), zap.String("action", req.Action))
	logger.Info("Awaiting confirmation.")
	if slot.notify != nil {
		slot.notify(req)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-resolver:
		logger.Info("Confirmation resolved.", zap.Bool("approved", approved))
		return approved
	case <-timer.C:
		logger.Warn("Confirmation timed out, denying.", zap.Duration("timeout", g.timeout))
		return false
	case <-ctx.Done():
		logger.Info("Confirmation cancelled, denying.")
		return false
	}
}
