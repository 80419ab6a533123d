package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeController records every call. onStart runs inside StartTask.
type fakeController struct {
	mu        sync.Mutex
	starts    []engine.Request
	stops     int
	decisions []bool
	startErr  error
	onStart   func(engine.Request)
	started   chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{started: make(chan struct{}, 8)}
}

func (f *fakeController) StartTask(ctx context.Context, req engine.Request) (*engine.Session, error) {
	f.mu.Lock()
	f.starts = append(f.starts, req)
	err, hook := f.startErr, f.onStart
	f.mu.Unlock()
	defer func() { f.started <- struct{}{} }()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(req)
	}
	return engine.NewSession(ctx, req, nil), nil
}

func (f *fakeController) StopTask() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return true
}

func (f *fakeController) HandleConfirmation(approved bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, approved)
	return true
}

// syncBuffer is a goroutine-safe output sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// messages decodes every FRONTEND_MESSAGE line written so far.
func (b *syncBuffer) messages(t *testing.T) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, MessagePrefix), line)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, MessagePrefix)), &m))
		out = append(out, m)
	}
	return out
}

func lines(ls ...string) io.Reader {
	return strings.NewReader(strings.Join(ls, "\n") + "\n")
}

func TestInbound_Task(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		text    string
		files   []string
		wantErr bool
	}{
		{"object", `{"type":"execute_task","request":{"text":"open notes","attachments":[{"path":"/a.png","name":"a.png"},{"name":"no path"}]}}`, "open notes", []string{"/a.png"}, false},
		{"string", `{"type":"execute_task","request":"open notes"}`, "open notes", nil, false},
		{"missing", `{"type":"execute_task"}`, "", nil, true},
		{"blank", `{"type":"execute_task","request":{"text":"  "}}`, "", nil, true},
		{"wrong shape", `{"type":"execute_task","request":[1,2]}`, "", nil, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tc.raw))
			require.NoError(t, err)
			req, err := in.Task()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.text, req.Text)
			assert.Equal(t, tc.files, req.Attachments)
		})
	}
}

func TestInbound_SettingsAndDecision(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"execute_task","request":"x","mode":"act","api_key":"k","settings":{"modelProvider":"ollama","proceedWithoutConfirmation":true}}`))
	require.NoError(t, err)
	req, err := in.Task()
	require.NoError(t, err)
	assert.Equal(t, "act", req.Mode)
	assert.Equal(t, "k", req.APIKey)
	assert.Equal(t, config.Settings{ModelProvider: "ollama", ProceedWithoutConfirmation: true}, req.Settings)

	yes, no := true, false
	assert.True(t, Inbound{Confirmed: &yes}.Decision())
	assert.True(t, Inbound{Approved: &yes}.Decision())
	assert.False(t, Inbound{Confirmed: &no, Approved: &yes}.Decision())
	assert.False(t, Inbound{}.Decision(), "missing answer denies")
}

func TestParseRequestLine(t *testing.T) {
	_, ok, err := ParseRequestLine("[INFO] starting up")
	assert.False(t, ok)
	assert.NoError(t, err)

	in, ok, err := ParseRequestLine(`  FRONTEND_REQUEST: {"type":"cancel_task"}`)
	assert.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, TypeCancelTask, in.Type)

	_, ok, err = ParseRequestLine(`FRONTEND_REQUEST:{not json`)
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, _, err = ParseRequestLine(`FRONTEND_REQUEST:{"request":"x"}`)
	assert.ErrorIs(t, err, ErrMalformedRequest, "type is required")
}

func TestEncodeLine(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	line, err := EncodeLine(NewMessage(engine.Event{
		Type:      engine.EventActionStart,
		Data:      engine.ActionStart{Description: "Open menu", Status: engine.StatusRunning},
		Timestamp: ts,
	}))
	require.NoError(t, err)
	assert.Equal(t,
		`FRONTEND_MESSAGE:{"type":"action_start","data":{"description":"Open menu","status":"running"},"timestamp":"2026-01-02T03:04:05Z"}`+"\n",
		string(line))
}

func TestStdio_DispatchesRequests(t *testing.T) {
	ctrl := newFakeController()
	out := &syncBuffer{}
	b := NewStdio(lines(
		"Control backend ready",
		`FRONTEND_REQUEST:{"type":"execute_task","request":{"text":"open calculator","attachments":[]},"settings":{"modelProvider":"gemini"}}`,
		`FRONTEND_REQUEST:{"type":"confirmation","confirmed":true}`,
		`FRONTEND_REQUEST:{"type":"confirmation"}`,
		`FRONTEND_REQUEST:{"type":"cancel_task"}`,
		`FRONTEND_REQUEST:{broken`,
		`FRONTEND_REQUEST:{"type":"reboot"}`,
		"",
	), out, zaptest.NewLogger(t))

	require.NoError(t, b.Serve(context.Background(), ctrl))

	require.Len(t, ctrl.starts, 1)
	assert.Equal(t, "open calculator", ctrl.starts[0].Text)
	assert.Equal(t, "gemini", ctrl.starts[0].Settings.ModelProvider)
	assert.Equal(t, []bool{true, false}, ctrl.decisions)
	assert.Equal(t, 1, ctrl.stops)

	msgs := out.messages(t)
	require.Len(t, msgs, 2, "one error per bad request")
	for _, m := range msgs {
		assert.Equal(t, "error", m["type"])
		assert.NotEmpty(t, m["timestamp"])
	}
	assert.Contains(t, msgs[0]["data"].(map[string]interface{})["message"], "malformed request")
	assert.Contains(t, msgs[1]["data"].(map[string]interface{})["message"], `unknown type "reboot"`)
}

func TestStdio_EventsKeepOrder(t *testing.T) {
	ctrl := newFakeController()
	out := &syncBuffer{}
	b := NewStdio(lines(`FRONTEND_REQUEST:{"type":"execute_task","request":"go"}`), out, zaptest.NewLogger(t))
	ctrl.onStart = func(req engine.Request) {
		b.Emit(engine.Event{Type: engine.EventTaskStart, Data: engine.TaskStart{Task: req.Text, ShowEffects: true}})
		for i := 0; i < 50; i++ {
			b.Emit(engine.Event{Type: engine.EventAIResponse, Data: engine.AIResponse{Text: strings.Repeat("x", i)}})
		}
		b.Emit(engine.Event{Type: engine.EventTaskComplete, Data: engine.TaskComplete{Task: req.Text, Success: true}})
	}

	require.NoError(t, b.Serve(context.Background(), ctrl))

	msgs := out.messages(t)
	require.Len(t, msgs, 52)
	assert.Equal(t, "task_start", msgs[0]["type"])
	assert.Equal(t, true, msgs[0]["data"].(map[string]interface{})["show_effects"])
	for i := 1; i <= 50; i++ {
		assert.Equal(t, strings.Repeat("x", i-1), msgs[i]["data"].(map[string]interface{})["text"])
	}
	assert.Equal(t, "task_complete", msgs[51]["type"])
}

func TestStdio_QuitStopsReading(t *testing.T) {
	ctrl := newFakeController()
	b := NewStdio(lines("quit", `FRONTEND_REQUEST:{"type":"cancel_task"}`), io.Discard, zaptest.NewLogger(t))
	require.NoError(t, b.Serve(context.Background(), ctrl))
	assert.Zero(t, ctrl.stops)

	done := make(chan struct{})
	go func() {
		b.Emit(engine.Event{Type: engine.EventTaskStopped})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked after shutdown")
	}
}

func TestStdio_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	b := NewStdio(pr, io.Discard, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Serve(ctx, newFakeController()) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	// Unblocks the scanner goroutine.
	pw.Close()
}

func TestStdio_WriteFailure(t *testing.T) {
	b := NewStdio(lines(`FRONTEND_REQUEST:{broken`), failingWriter{}, zaptest.NewLogger(t))
	err := b.Serve(context.Background(), newFakeController())
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestDispatcher_StartFailureReported(t *testing.T) {
	ctrl := newFakeController()
	ctrl.startErr = engine.ErrBusy
	var replies []Message
	d := &dispatcher{ctrl: ctrl, reply: func(m Message) { replies = append(replies, m) }, logger: zaptest.NewLogger(t)}

	d.handle(context.Background(), Inbound{Type: TypeExecuteTask, Request: []byte(`"go"`)})
	require.Len(t, replies, 1)
	assert.Equal(t, "error", replies[0].Type)
	assert.Contains(t, replies[0].Data.(engine.ErrorMessage).Message, "busy")
}
