// Package actuator performs a single planned action against the desktop and
// reports a structured Result. It never returns an error and never panics.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/desktop"
	"github.com/xkilldash9x/deskpilot/internal/humanoid"
	"github.com/xkilldash9x/deskpilot/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// handler runs one kind of action. Parameters are already validated.
type handler func(ctx context.Context, a action.Action, geo coords.Geometry) Result

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Actuator dispatches actions to per-kind handlers.
type Actuator struct {
	cfg       config.InputConfig
	waitSlice time.Duration
	goos      string

	backend desktop.Backend
	human   *humanoid.Humanoid
	store   Store
	logger  *zap.Logger
	sleep   SleepFunc

	handlers map[action.Kind]handler
}

// Option customizes an Actuator.
type Option func(*Actuator)

// WithSleep replaces the sleeper used for pauses, waits and pointer pacing.
func WithSleep(fn SleepFunc) Option { return func(a *Actuator) { a.sleep = fn } }

// WithOS overrides the platform used for select-all and similar choices.
func WithOS(goos string) Option { return func(a *Actuator) { a.goos = goos } }

// New builds an Actuator over a desktop backend and a preference store.
func New(cfg config.InputConfig, waitSlice time.Duration, backend desktop.Backend, st Store, logger *zap.Logger, opts ...Option) *Actuator {
	if waitSlice <= 0 || waitSlice > 100*time.Millisecond {
		waitSlice = 100 * time.Millisecond
	}
	a := &Actuator{
		cfg:       cfg,
		waitSlice: waitSlice,
		goos:      runtime.GOOS,
		backend:   backend,
		store:     st,
		logger:    logger.Named("actuator"),
		sleep:     sleepCtx,
		handlers:  make(map[action.Kind]handler),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.human = humanoid.New(cfg.Humanoid, pointer{backend: backend, sleep: a.sleep}, logger)
	a.registerHandlers()
	return a
}

func (a *Actuator) registerHandlers() {
	a.handlers[action.KindScreenshot] = a.handleScreenshot
	a.handlers[action.KindClick] = a.handlePointer
	a.handlers[action.KindDoubleClick] = a.handlePointer
	a.handlers[action.KindMouseMove] = a.handlePointer
	a.handlers[action.KindType] = a.handleType
	a.handlers[action.KindKeyPress] = a.handleKeyPress
	a.handlers[action.KindDrag] = a.handleDrag
	a.handlers[action.KindScroll] = a.handleScroll
	a.handlers[action.KindFocusWindow] = a.handleFocusWindow
	a.handlers[action.KindTerminal] = a.handleTerminal
	a.handlers[action.KindWait] = a.handleWait
	a.handlers[action.KindResearchPackage] = a.handleResearchPackage
	a.handlers[action.KindDisplayCode] = a.handleDisplayCode
	a.handlers[action.KindReadPreferences] = a.handleReadPreferences
	a.handlers[action.KindWritePreferences] = a.handleWritePreferences
	a.handlers[action.KindReadLibraries] = a.handleReadLibraries
	a.handlers[action.KindWriteLibraries] = a.handleWriteLibraries
}

// Execute runs act using geo to map normalized positions.
func (a *Actuator) Execute(ctx context.Context, act action.Action, geo coords.Geometry) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Panic recovered while executing action.",
				zap.String("action", string(act.Kind)),
				zap.Any("panic_value", r),
				zap.Stack("stack"))
			res = fail(ErrCodeExecutorPanic, fmt.Sprintf("internal error while executing %s: %v", act.Kind, r))
		}
	}()

	h, found := a.handlers[act.Kind]
	if !found {
		return fail(ErrCodeUnknownAction, fmt.Sprintf("unknown action %q", act.Kind))
	}
	if err := action.Validate(act.Kind, act.Params); err != nil {
		return fail(ErrCodeInvalidParameters, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return fail(ErrCodeCancelled, "action cancelled before it started")
	}

	res = h(ctx, act, geo)
	fields := []zap.Field{
		zap.String("action", string(act.Kind)),
		zap.Bool("success", res.Success),
		zap.Duration("elapsed", time.Since(start)),
	}
	if res.Success {
		a.logger.Info("Action executed.", fields...)
	} else {
		a.logger.Warn("Action failed.", append(fields, zap.String("error_code", string(res.ErrorCode)), zap.String("message", res.Message))...)
	}
	return res
}

// -- Pointer --

func (a *Actuator) handlePointer(ctx context.Context, act action.Action, geo coords.Geometry) Result {
	p := act.Params.(action.Pointer)
	pt, err := coords.MapTarget(p.Target, geo)
	if err != nil {
		return fail(ErrCodeGeometryInvalid, err.Error())
	}
	if err := a.glide(ctx, pt); err != nil {
		return a.failure(err, "pointer move failed")
	}

	var verb string
	switch act.Kind {
	case action.KindClick:
		err, verb = a.backend.Click(ctx, 1), "Clicked"
	case action.KindDoubleClick:
		err, verb = a.backend.Click(ctx, 2), "Double-clicked"
	default:
		verb = "Moved pointer"
	}
	if err != nil {
		return a.failure(err, strings.ToLower(verb)+" failed")
	}
	res := ok(fmt.Sprintf("%s at %s", verb, pt))
	if act.Kind == action.KindMouseMove {
		res.Message = fmt.Sprintf("%s to %s", verb, pt)
	}
	if p.Label != "" {
		res.Message += fmt.Sprintf(" (%s)", p.Label)
	}
	res.Point = &pt
	return res
}

func (a *Actuator) handleDrag(ctx context.Context, act action.Action, geo coords.Geometry) Result {
	p := act.Params.(action.Drag)
	from, err := coords.MapTarget(p.Start, geo)
	if err != nil {
		return fail(ErrCodeGeometryInvalid, "start: "+err.Error())
	}
	to, err := coords.MapTarget(p.End, geo)
	if err != nil {
		return fail(ErrCodeGeometryInvalid, "end: "+err.Error())
	}
	if err := a.human.Drag(ctx, a.cursor(ctx, from), humanoid.V(from.X, from.Y), humanoid.V(to.X, to.Y)); err != nil {
		return a.failure(err, "drag failed")
	}
	res := ok(fmt.Sprintf("Dragged from %s to %s", from, to))
	res.Point = &to
	return res
}

func (a *Actuator) handleScroll(ctx context.Context, act action.Action, geo coords.Geometry) Result {
	p := act.Params.(action.Scroll)
	var at *coords.Point
	if !p.Target.IsZero() {
		pt, err := coords.MapTarget(p.Target, geo)
		if err != nil {
			return fail(ErrCodeGeometryInvalid, err.Error())
		}
		if err := a.glide(ctx, pt); err != nil {
			return a.failure(err, "pointer move failed")
		}
		at = &pt
	}
	units := p.Amount * desktop.WheelNotch
	if p.Direction == action.ScrollUp {
		units = -units
	}
	if err := a.backend.Scroll(ctx, units); err != nil {
		return a.failure(err, "scroll failed")
	}
	res := ok(fmt.Sprintf("Scrolled %s by %d", p.Direction, p.Amount))
	if at != nil {
		res.Message += " at " + at.String()
		res.Point = at
	}
	return res
}

// glide moves the pointer to pt along a humanoid path from the current
// cursor position.
func (a *Actuator) glide(ctx context.Context, pt coords.Point) error {
	return a.human.MoveTo(ctx, a.cursor(ctx, pt), humanoid.V(pt.X, pt.Y))
}

// cursor returns the current pointer position, or fallback when the
// backend cannot report it.
func (a *Actuator) cursor(ctx context.Context, fallback coords.Point) humanoid.Vector2D {
	x, y, err := a.backend.CursorPosition(ctx)
	if err != nil {
		a.logger.Debug("Cursor position unavailable, moving directly.", zap.Error(err))
		return humanoid.V(fallback.X, fallback.Y)
	}
	return humanoid.V(x, y)
}

// -- Keyboard --

func (a *Actuator) handleType(ctx context.Context, act action.Action, geo coords.Geometry) Result {
	p := act.Params.(action.Type)
	res := Result{}
	if !p.Target.IsZero() {
		pt, err := coords.MapTarget(p.Target, geo)
		if err != nil {
			return fail(ErrCodeGeometryInvalid, err.Error())
		}
		if err := a.glide(ctx, pt); err != nil {
			return a.failure(err, "pointer move failed")
		}
		if err := a.backend.Click(ctx, 1); err != nil {
			return a.failure(err, "focus click failed")
		}
		min := time.Duration(a.cfg.TypeDelayMinMs) * time.Millisecond
		max := time.Duration(a.cfg.TypeDelayMaxMs) * time.Millisecond
		if err := a.human.Pause(ctx, min, max); err != nil {
			return a.failure(err, "typing interrupted")
		}
		res.Point = &pt
	}

	if p.ClearFirst {
		selectAll := []string{humanoid.SelectAllModifier(a.goos), "a"}
		if err := humanoid.Chord(ctx, a.backend, selectAll); err != nil {
			return a.failure(err, "select-all failed")
		}
		if err := a.backend.Tap(ctx, humanoid.KeyBackspace); err != nil {
			return a.failure(err, "clearing field failed")
		}
	}

	if p.Text != "" {
		if err := a.backend.TypeText(ctx, p.Text); err != nil {
			return a.failure(err, "typing failed")
		}
	}

	res.Success = true
	res.Message = fmt.Sprintf("Typed %d characters", len([]rune(p.Text)))
	if p.ClearFirst {
		res.Message += " after clearing the field"
	}
	if res.Point != nil {
		res.Message += " at " + res.Point.String()
	}
	return res
}

func (a *Actuator) handleKeyPress(ctx context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.KeyPress)
	keys, err := humanoid.NormalizeKeys(p.Keys)
	if err != nil {
		return fail(ErrCodeInvalidParameters, err.Error())
	}
	if p.Combo {
		err = humanoid.Chord(ctx, a.backend, keys)
	} else {
		err = humanoid.Sequence(ctx, a.backend, keys)
	}
	if err != nil {
		return a.failure(err, "key press failed")
	}
	if p.Combo {
		return ok("Pressed " + strings.Join(keys, "+"))
	}
	return ok("Pressed " + strings.Join(keys, ", "))
}

// -- System --

func (a *Actuator) handleFocusWindow(ctx context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.FocusWindow)
	if err := a.backend.FocusWindow(ctx, p.AppName); err != nil {
		return a.failure(err, fmt.Sprintf("could not focus %s", p.AppName))
	}
	return ok("Focused " + p.AppName)
}

func (a *Actuator) handleTerminal(ctx context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.Terminal)
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.TerminalTimeout)
	defer cancel()

	out, err := a.backend.Shell(runCtx, p.Command)
	output := strings.TrimSpace(string(out))
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res := fail(ErrCodeTimeoutError, fmt.Sprintf("Command timed out after %s", a.cfg.TerminalTimeout))
		res.Output = output
		return res
	case ctx.Err() != nil:
		return fail(ErrCodeCancelled, "command cancelled")
	}

	res := Result{Success: err == nil, Output: output, ExitCode: desktop.ExitCode(err)}
	if output == "" {
		res.Message = fmt.Sprintf("Command exited with code %d", res.ExitCode)
	} else {
		res.Message = llmutil.Truncate(output, a.cfg.TerminalOutputLimit)
	}
	if err != nil {
		res.ErrorCode = ErrCodeExecutionFailure
		if res.ExitCode < 0 {
			res.Message = llmutil.Truncate(err.Error(), a.cfg.TerminalOutputLimit)
		}
	}
	return res
}

// handleWait sleeps in slices so a stop request is seen within one slice.
func (a *Actuator) handleWait(ctx context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.Wait)
	remaining := p.Duration
	for remaining > 0 {
		slice := a.waitSlice
		if remaining < slice {
			slice = remaining
		}
		if err := a.sleep(ctx, slice); err != nil {
			return fail(ErrCodeCancelled, fmt.Sprintf("wait interrupted after %s", p.Duration-remaining))
		}
		remaining -= slice
	}
	return ok(fmt.Sprintf("Waited %s", p.Duration))
}

func (a *Actuator) handleScreenshot(context.Context, action.Action, coords.Geometry) Result {
	return ok("Screenshot will be taken on the next iteration")
}

// -- Informational --

func (a *Actuator) handleResearchPackage(_ context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.ResearchPackage)
	msg := "Researching package"
	if p.Name != "" {
		msg += " " + p.Name
	}
	if p.Ecosystem != "" {
		msg += " (" + p.Ecosystem + ")"
	}
	res := ok(msg)
	res.Data = act.Parameters
	return res
}

func (a *Actuator) handleDisplayCode(_ context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.DisplayCode)
	res := ok("Displayed code snippet")
	if p.Language != "" {
		res.Message = fmt.Sprintf("Displayed %s code snippet", p.Language)
	}
	res.Code = p.Code
	res.Language = p.Language
	return res
}

// -- Store --

func (a *Actuator) handleReadPreferences(context.Context, action.Action, coords.Geometry) Result {
	doc, err := a.store.ReadPreferences()
	if err != nil {
		return fail(ErrCodeStoreFailure, err.Error())
	}
	return document("Preferences", doc)
}

func (a *Actuator) handleWritePreferences(_ context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.WritePreferences)
	doc, err := a.store.WritePreferences(p.Updates)
	if err != nil {
		return fail(ErrCodeStoreFailure, err.Error())
	}
	keys := make([]string, 0, len(p.Updates))
	for k := range p.Updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	res := ok("Updated preferences: " + strings.Join(keys, ", "))
	res.Data = doc
	return res
}

func (a *Actuator) handleReadLibraries(context.Context, action.Action, coords.Geometry) Result {
	libs, err := a.store.ReadLibraries()
	if err != nil {
		return fail(ErrCodeStoreFailure, err.Error())
	}
	return document("Libraries", libs)
}

func (a *Actuator) handleWriteLibraries(_ context.Context, act action.Action, _ coords.Geometry) Result {
	p := act.Params.(action.WriteLibraries)
	libs, err := a.store.WriteLibrary(p.Type, p.Name, p.Version)
	if err != nil {
		return fail(ErrCodeStoreFailure, err.Error())
	}
	res := ok(fmt.Sprintf("Recorded %s library %s %s", p.Type, p.Name, p.Version))
	res.Message = strings.TrimSpace(res.Message)
	res.Data = libs
	return res
}

// document renders doc as the message so the model sees it in the next prompt.
func document(label string, doc interface{}) Result {
	data, err := json.Marshal(doc)
	if err != nil {
		return fail(ErrCodeStoreFailure, fmt.Sprintf("encode %s: %v", strings.ToLower(label), err))
	}
	res := ok(label + ": " + string(data))
	res.Data = doc
	return res
}

// failure classifies err into a Result.
func (a *Actuator) failure(err error, msg string) Result {
	switch {
	case errors.Is(err, context.Canceled):
		return fail(ErrCodeCancelled, msg+": cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return fail(ErrCodeTimeoutError, msg+": timed out")
	case errors.Is(err, desktop.ErrUnsupportedKey):
		return fail(ErrCodeInvalidParameters, msg+": "+err.Error())
	}
	return fail(ErrCodeExecutionFailure, msg+": "+err.Error())
}

// pointer adapts a desktop backend to the humanoid executor.
type pointer struct {
	backend desktop.Backend
	sleep   SleepFunc
}

func (p pointer) Sleep(ctx context.Context, d time.Duration) error { return p.sleep(ctx, d) }

func (p pointer) MoveMouse(ctx context.Context, x, y int) error {
	return p.backend.MoveMouse(ctx, x, y)
}

func (p pointer) Press(ctx context.Context) error   { return p.backend.MouseDown(ctx) }
func (p pointer) Release(ctx context.Context) error { return p.backend.MouseUp(ctx) }

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
