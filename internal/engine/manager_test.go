package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// blockingRunner parks every session until it is stopped.
type blockingRunner struct {
	mu      sync.Mutex
	started []*Session
}

func (r *blockingRunner) Run(s *Session) State {
	r.mu.Lock()
	r.started = append(r.started, s)
	r.mu.Unlock()
	defer close(s.done)
	<-s.ctx.Done()
	s.setState(StateCancelled)
	return StateCancelled
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestManager_StartTaskValidation(t *testing.T) {
	m, err := NewManager(&blockingRunner{}, &recorder{}, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = m.StartTask(context.Background(), Request{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = m.StartTask(context.Background(), Request{Text: "hi", Mode: "ask"})
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	_, err = NewManager(nil, &recorder{}, 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestManager_NewTaskStopsActiveOne(t *testing.T) {
	runner := &blockingRunner{}
	m, err := NewManager(runner, &recorder{}, 20*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Shutdown()

	first, err := m.StartTask(context.Background(), Request{Text: "first", Mode: "act"})
	require.NoError(t, err)

	start := time.Now()
	second, err := m.StartTask(context.Background(), Request{Text: "second"})
	require.NoError(t, err)

	assert.True(t, isDone(first), "previous session finished before the new one started")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "restart settle is honored")
	assert.Same(t, second, m.Current())
	assert.NotEqual(t, first.ID, second.ID)

	assert.True(t, m.StopTask())
	waitDone(t, second)
	assert.False(t, m.StopTask(), "nothing left to stop")
}

func TestManager_DefaultSettings(t *testing.T) {
	m, err := NewManager(&blockingRunner{}, &recorder{}, 0, zaptest.NewLogger(t),
		WithDefaultSettings(config.Settings{ModelProvider: "gemini", SelectedModel: "gemini-2.5-flash", OllamaURL: "http://localhost:11434"}))
	require.NoError(t, err)
	defer m.Shutdown()

	s, err := m.StartTask(context.Background(), Request{Text: "x", Settings: config.Settings{ModelProvider: "ollama", ProceedWithoutConfirmation: true}})
	require.NoError(t, err)

	assert.Equal(t, config.Settings{
		ModelProvider:              "ollama",
		SelectedModel:              "gemini-2.5-flash",
		OllamaURL:                  "http://localhost:11434",
		ProceedWithoutConfirmation: true,
	}, s.Request.Settings)
}

func TestManager_BusyWhileSwitching(t *testing.T) {
	m, err := NewManager(&blockingRunner{}, &recorder{}, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	m.starting = true

	_, err = m.StartTask(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestManager_HandleConfirmation(t *testing.T) {
	h := newHarness(t, harnessOptions{}, `{"actions":[{"action":"write_preferences","description":"Save theme","parameters":{"preferences":{"theme":"dark"}}}]}`, `{"actions":[]}`)
	m, err := NewManager(h.loop, h.events, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Shutdown()

	assert.False(t, m.HandleConfirmation(true), "no session yet")

	asked := make(chan struct{}, 1)
	h.events.setHook(func(e Event) {
		if e.Type == EventRequestConfirmation {
			asked <- struct{}{}
		}
	})

	s, err := m.StartTask(context.Background(), Request{Text: "use dark theme", Settings: config.Settings{}})
	require.NoError(t, err)

	select {
	case <-asked:
	case <-time.After(5 * time.Second):
		t.Fatal("no confirmation requested")
	}
	assert.True(t, m.HandleConfirmation(true))
	waitDone(t, s)

	assert.Equal(t, StateDone, s.State())
	completes := h.events.of(EventActionComplete)
	require.Len(t, completes, 1)
	ac := completes[0].Data.(ActionComplete)
	assert.True(t, ac.Success)
	assert.Equal(t, "Updated preferences: theme", ac.Details)
}

func TestManager_StopDeniesPendingConfirmation(t *testing.T) {
	h := newHarness(t, harnessOptions{}, `{"actions":[{"action":"terminal","parameters":{"command":"shutdown now"}}]}`)
	m, err := NewManager(h.loop, h.events, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Shutdown()

	asked := make(chan struct{}, 1)
	h.events.setHook(func(e Event) {
		if e.Type == EventRequestConfirmation {
			asked <- struct{}{}
		}
	})

	s, err := m.StartTask(context.Background(), Request{Text: "turn it off"})
	require.NoError(t, err)
	<-asked
	require.True(t, m.StopTask())
	waitDone(t, s)

	assert.Equal(t, StateCancelled, s.State())
	assert.Empty(t, h.desk.CallsWithPrefix("shell"))
	types := h.events.types()
	assert.Equal(t, EventTaskStopped, types[len(types)-1])
	for _, e := range h.events.of(EventAIResponse) {
		assert.NotContains(t, e.Data.(AIResponse).Text, "Task paused", "a stop is not a denial")
	}
}
