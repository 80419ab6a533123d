// Package engine runs the perceive-plan-act-verify loop for one task at a
// time and reports progress as structured events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/actuator"
	"github.com/xkilldash9x/deskpilot/internal/capture"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/confirm"
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/plan"
	"github.com/xkilldash9x/deskpilot/internal/store"
	"github.com/xkilldash9x/deskpilot/internal/verifier"
)

// DefaultMaxLoops bounds iterations when the config leaves it unset.
const DefaultMaxLoops = 15

// User-visible messages.
const (
	MsgQuotaRotating = "quota exceeded, rotating key"
	MsgTaskPaused    = "Task paused: confirmation was not given for %q."
	MsgLoopExhausted = "Stopped after %d iterations without completing the task."
)

// -- Collaborators --

// Capturer takes screenshots.
type Capturer interface {
	Capture(ctx context.Context, markCursor bool) (*capture.Screenshot, error)
}

// Executor performs one action against the desktop.
type Executor interface {
	Execute(ctx context.Context, act action.Action, geo coords.Geometry) actuator.Result
}

// ClientFactory builds the model client for the current settings and key.
type ClientFactory interface {
	InitialState(requestKey string) llmclient.State
	NewClient(ctx context.Context, settings config.Settings, state llmclient.State) (llmclient.Client, error)
}

// Snapshots supplies the preference and library documents for the prompt.
type Snapshots interface {
	ReadPreferences() (map[string]interface{}, error)
	ReadLibraries() (*store.Libraries, error)
}

// Verifier checks an executed action.
type Verifier interface {
	Verify(ctx context.Context, act action.Action, res actuator.Result) verifier.Result
}

// VerifierFactory binds a Verifier to the model client of an iteration.
type VerifierFactory func(client llmclient.Client) Verifier

// Dependencies groups what a Loop needs.
type Dependencies struct {
	Capturer    Capturer
	Executor    Executor
	Factory     ClientFactory
	Snapshots   Snapshots
	Gate        *confirm.Gate
	NewVerifier VerifierFactory
}

// Loop drives sessions through the execution state machine. A Loop holds no
// per-session state and may run sessions back to back.
type Loop struct {
	cfg     config.EngineConfig
	capture config.CaptureConfig
	deps    Dependencies
	goos    string
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopSleep replaces the settle sleep, mainly for tests.
func WithLoopSleep(fn func(ctx context.Context, d time.Duration) error) LoopOption {
	return func(l *Loop) { l.sleep = fn }
}

// WithLoopOS overrides the operating system reported to the model.
func WithLoopOS(goos string) LoopOption {
	return func(l *Loop) { l.goos = goos }
}

// NewLoop validates the dependencies and creates a Loop.
func NewLoop(cfg config.EngineConfig, capCfg config.CaptureConfig, deps Dependencies, logger *zap.Logger, opts ...LoopOption) (*Loop, error) {
	if deps.Capturer == nil {
		return nil, errors.New("capturer cannot be nil")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if deps.Factory == nil {
		return nil, errors.New("client factory cannot be nil")
	}
	if deps.Gate == nil {
		return nil, errors.New("confirmation gate cannot be nil")
	}
	if deps.NewVerifier == nil {
		return nil, errors.New("verifier factory cannot be nil")
	}
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = DefaultMaxLoops
	}

	l := &Loop{
		cfg:     cfg,
		capture: capCfg,
		deps:    deps,
		goos:    runtime.GOOS,
		sleep:   sleepCtx,
		logger:  logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// outcome ends a session with a terminal state and its closing events.
type outcome struct {
	state   State
	message string
}

// Run executes the session to a terminal state and returns it. Run emits
// events in order on the session's sink and closes s.Done when it returns.
func (l *Loop) Run(s *Session) State {
	defer close(s.done)
	defer s.cancel()

	logger := l.logger.With(zap.String("session_id", s.ID))
	logger.Info("Task started.", zap.String("task", s.Request.Text))
	s.emit(EventTaskStart, TaskStart{Task: s.Request.Text, ShowEffects: true})

	out := l.iterate(s, logger)

	switch out.state {
	case StateCancelled:
		s.emit(EventTaskStopped, TaskStopped{Task: s.Request.Text})
	case StateFailed:
		s.emit(EventError, ErrorMessage{Message: out.message})
		s.emit(EventTaskComplete, TaskComplete{Task: s.Request.Text, Success: false})
	}
	s.setState(out.state)
	logger.Info("Task finished.",
		zap.String("state", string(out.state)),
		zap.Int("iterations", s.Iterations()),
		zap.String("reason", out.message))
	return out.state
}

func (l *Loop) iterate(s *Session, logger *zap.Logger) outcome {
	cancelled := outcome{state: StateCancelled}
	keys := l.deps.Factory.InitialState(s.Request.APIKey)
	settings := s.Request.Settings

	for s.Iterations() < l.cfg.MaxLoops {
		if s.Stopped() {
			return cancelled
		}
		n := s.nextIteration()
		iterLogger := logger.With(zap.Int("iteration", n))

		if err := l.sleep(s.ctx, l.cfg.SettleDelay); err != nil || s.Stopped() {
			return cancelled
		}

		// PERCEIVING
		s.setState(StatePerceiving)
		shot, err := l.deps.Capturer.Capture(s.ctx, l.capture.MarkCursor)
		if err != nil {
			if s.Stopped() {
				return cancelled
			}
			iterLogger.Error("Screenshot failed.", zap.Error(err))
			return outcome{state: StateFailed, message: fmt.Sprintf("screenshot failed: %v", err)}
		}

		// PLANNING
		s.setState(StatePlanning)
		client, err := l.deps.Factory.NewClient(s.parent, settings, keys)
		if err != nil {
			iterLogger.Error("Model client unavailable.", zap.Error(err))
			return outcome{state: StateFailed, message: err.Error()}
		}

		resp, err := client.Generate(s.parent, l.request(s, shot, n))
		if s.Stopped() {
			iterLogger.Debug("Discarding model reply after stop.")
			return cancelled
		}
		if err != nil {
			if pe, ok := llmclient.AsProviderError(err); ok && pe.Rotatable() {
				iterLogger.Warn("Provider quota hit, rotating key.", zap.String("kind", string(pe.Kind)), zap.Error(err))
				s.emit(EventAIResponse, AIResponse{Text: MsgQuotaRotating})
				keys = llmclient.Rotate(keys)
				continue
			}
			iterLogger.Error("Model request failed.", zap.Error(err))
			return outcome{state: StateFailed, message: fmt.Sprintf("model request failed: %v", err)}
		}

		parsed, err := plan.Parse(resp.Text)
		if err != nil {
			iterLogger.Error("Model reply could not be parsed.", zap.Error(err))
			return outcome{state: StateFailed, message: err.Error()}
		}
		if parsed.Thought() {
			iterLogger.Debug("Commentary-only reply, re-iterating.")
			s.emit(EventAIResponse, AIResponse{Text: parsed.Commentary})
			continue
		}

		p := parsed.Plan
		s.emit(EventAIResponse, AIResponse{Text: narrative(p, parsed.Commentary), IsAction: !p.Done()})

		if p.Done() {
			s.emit(EventTaskComplete, TaskComplete{Task: s.Request.Text, Success: true})
			if text := afterMessage(p, parsed.Commentary); text != "" {
				s.emit(EventAfterMessage, AfterMessage{Text: text})
			}
			return outcome{state: StateDone}
		}

		// ACTING
		s.setState(StateActing)
		if stop := l.act(s, p.Actions, shot.Geometry, l.deps.NewVerifier(client), iterLogger); stop {
			return cancelled
		}
	}

	logger.Warn("Iteration limit reached.", zap.Int("max_loops", l.cfg.MaxLoops))
	return outcome{state: StateFailed, message: fmt.Sprintf(MsgLoopExhausted, l.cfg.MaxLoops)}
}

// act runs the plan's actions in order. It returns true when the session
// must stop.
func (l *Loop) act(s *Session, actions []action.Action, geo coords.Geometry, v Verifier, logger *zap.Logger) bool {
	for i, act := range actions {
		if s.Stopped() {
			return true
		}

		if !l.deps.Gate.MaybeConfirm(s.ctx, s.slot, act, s.Request.Settings) {
			if !s.Stopped() {
				logger.Info("High-risk action not confirmed, pausing task.", zap.String("action", string(act.Kind)))
				s.emit(EventAIResponse, AIResponse{Text: fmt.Sprintf(MsgTaskPaused, act.Label())})
				s.Stop()
			}
			return true
		}

		s.emit(EventActionStart, ActionStart{Description: act.Label(), Status: StatusRunning})
		res := l.deps.Executor.Execute(s.ctx, act, geo)
		vr := v.Verify(s.ctx, act, res)
		s.setNotes(verificationNotes(string(act.Kind), res.Success, vr.Notes))

		success := res.Success && vr.Verified
		s.emit(EventActionComplete, completion(act, res, vr, success))
		logger.Debug("Action finished.",
			zap.Int("index", i),
			zap.String("action", string(act.Kind)),
			zap.Bool("executed", res.Success),
			zap.Bool("verified", vr.Verified))

		if s.Stopped() {
			return true
		}
		if !success {
			return false
		}
	}
	return false
}

func (l *Loop) request(s *Session, shot *capture.Screenshot, iteration int) llmclient.Request {
	pc := promptContext{
		Task:      s.Request.Text,
		OS:        l.goos,
		Shot:      shot,
		LastNotes: s.LastNotes(),
		Iteration: iteration,
		MaxLoops:  l.cfg.MaxLoops,
	}
	if l.deps.Snapshots != nil {
		if prefs, err := l.deps.Snapshots.ReadPreferences(); err == nil {
			pc.Preferences = prefs
		} else {
			l.logger.Warn("Preferences unavailable for prompt.", zap.Error(err))
		}
		if libs, err := l.deps.Snapshots.ReadLibraries(); err == nil {
			pc.Libraries = libs
		} else {
			l.logger.Warn("Libraries unavailable for prompt.", zap.Error(err))
		}
	}
	return llmclient.Request{
		System:      SystemPrompt,
		Text:        buildPrompt(pc),
		Screenshot:  shot.PNG,
		Attachments: s.Request.Attachments,
		SearchTool:  !s.Request.Settings.DisableSearchTool,
		JSON:        true,
	}
}

// narrative is the text shown for a plan: its thought, else its analysis,
// else the prose around the JSON.
func narrative(p *action.Plan, commentary string) string {
	for _, s := range []string{p.Thought, p.Analysis, commentary} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// afterMessage is the plan's closing text. Prose around the JSON stands in
// for it when the plan carries neither after_message nor thought.
func afterMessage(p *action.Plan, commentary string) string {
	if p.AfterMessage != "" {
		return p.AfterMessage
	}
	if strings.TrimSpace(p.Thought) == "" {
		return strings.TrimSpace(commentary)
	}
	return ""
}

func completion(act action.Action, res actuator.Result, vr verifier.Result, success bool) ActionComplete {
	details := res.Message
	if !vr.Verified && vr.Notes != "" {
		details = strings.TrimSpace(details + " (verification: " + vr.Notes + ")")
	}
	ac := ActionComplete{
		Description: act.Label(),
		Success:     success,
		Details:     details,
		Status:      StatusCompleted,
		Code:        res.Code,
		Language:    res.Language,
	}
	if !success {
		ac.Status = StatusFailed
	}
	if c, ok := act.Confidence(); ok {
		ac.Confidence = &c
	}
	return ac
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
