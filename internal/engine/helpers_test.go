package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/internal/actuator"
	"github.com/xkilldash9x/deskpilot/internal/capture"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/confirm"
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/mocks"
	"github.com/xkilldash9x/deskpilot/internal/store"
	"github.com/xkilldash9x/deskpilot/internal/verifier"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fullHD = coords.Geometry{Width: 1920, Height: 1080, PixelWidth: 1920, PixelHeight: 1080}

// -- Scripted model --

// scriptedModel answers plan requests from plans and verification requests
// from verdicts, repeating the last entry of each once exhausted.
type scriptedModel struct {
	mu          sync.Mutex
	plans       []string
	planErrs    []error
	verdicts    []string
	planCalls   int
	verifyCalls int
	requests    []llmclient.Request
}

func (m *scriptedModel) Generate(ctx context.Context, req llmclient.Request) (*llmclient.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.Contains(req.Text, "VERIFICATION TASK") {
		m.verifyCalls++
		verdict := `{"verification_status":"success","observations":"as expected"}`
		if len(m.verdicts) > 0 {
			verdict = m.verdicts[min(m.verifyCalls, len(m.verdicts))-1]
		}
		return &llmclient.Response{Text: verdict}, nil
	}

	m.planCalls++
	m.requests = append(m.requests, req)
	if m.planCalls <= len(m.planErrs) && m.planErrs[m.planCalls-1] != nil {
		return nil, m.planErrs[m.planCalls-1]
	}
	return &llmclient.Response{Text: m.plans[min(m.planCalls, len(m.plans))-1]}, nil
}

func (m *scriptedModel) counts() (plans, verifies int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planCalls, m.verifyCalls
}

// fakeFactory hands out the scripted model and records the key state of
// every client it builds.
type fakeFactory struct {
	mu     sync.Mutex
	model  *scriptedModel
	states []llmclient.State
	err    error
}

func (f *fakeFactory) InitialState(requestKey string) llmclient.State {
	return llmclient.State{Keys: []string{"key-a", "key-b"}}
}

func (f *fakeFactory) NewClient(_ context.Context, _ config.Settings, state llmclient.State) (llmclient.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

// fakeScreen returns a fixed screenshot.
type fakeScreen struct {
	mu    sync.Mutex
	geo   coords.Geometry
	err   error
	calls int
}

func (f *fakeScreen) Capture(ctx context.Context, _ bool) (*capture.Screenshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &capture.Screenshot{PNG: []byte("png"), Geometry: f.geo, CursorX: 5, CursorY: 5, CursorKnown: true}, nil
}

// -- Event recording --

type recorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) setHook(h func(Event)) {
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) of(t EventType) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// -- Harness --

type harness struct {
	loop    *Loop
	model   *scriptedModel
	factory *fakeFactory
	screen  *fakeScreen
	desk    *mocks.Desktop
	events  *recorder
}

type harnessOptions struct {
	geo       coords.Geometry
	maxLoops  int
	realSleep bool
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newHarness(t *testing.T, opts harnessOptions, plans ...string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if opts.geo == (coords.Geometry{}) {
		opts.geo = fullHD
	}
	if opts.maxLoops == 0 {
		opts.maxLoops = 15
	}

	st, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)

	desk := mocks.NewDesktop()
	actOpts := []actuator.Option{actuator.WithOS("linux")}
	if !opts.realSleep {
		actOpts = append(actOpts, actuator.WithSleep(noSleep))
	}
	act := actuator.New(config.InputConfig{
		TerminalTimeout:     time.Second,
		TerminalOutputLimit: 200,
		TypeDelayMinMs:      1,
		TypeDelayMaxMs:      2,
		Humanoid:            config.HumanoidConfig{Enabled: false, Seed: 1},
	}, 100*time.Millisecond, desk, st, logger, actOpts...)

	model := &scriptedModel{plans: plans}
	factory := &fakeFactory{model: model}
	screen := &fakeScreen{geo: opts.geo}

	loop, err := NewLoop(config.EngineConfig{
		MaxLoops:       opts.maxLoops,
		SettleDelay:    400 * time.Millisecond,
		ConfirmTimeout: time.Second,
		RestartSettle:  10 * time.Millisecond,
		WaitSlice:      100 * time.Millisecond,
	}, config.CaptureConfig{MarkCursor: true}, Dependencies{
		Capturer:  screen,
		Executor:  act,
		Factory:   factory,
		Snapshots: st,
		Gate:      confirm.NewGate(time.Second, logger),
		NewVerifier: func(c llmclient.Client) Verifier {
			return verifier.New(c, screen, desk, time.Second, 2000, logger)
		},
	}, logger, WithLoopSleep(noSleep), WithLoopOS("linux"))
	require.NoError(t, err)

	return &harness{loop: loop, model: model, factory: factory, screen: screen, desk: desk, events: &recorder{}}
}

func (h *harness) session(text string, settings config.Settings) *Session {
	return NewSession(context.Background(), Request{Text: text, Settings: settings}, h.events)
}

// run executes a session synchronously.
func (h *harness) run(t *testing.T, text string, settings config.Settings) (*Session, State) {
	t.Helper()
	s := h.session(text, settings)
	return s, h.loop.Run(s)
}
