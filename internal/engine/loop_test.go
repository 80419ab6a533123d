package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/internal/capture"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/confirm"
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/verifier"
)

const clickPlan = `{"actions":[{"action":"click","description":"Press the button","parameters":{"box2d":[100,100,200,200],"label":"btn","confidence":99}}]}`

func TestRun_PureAnswer(t *testing.T) {
	h := newHarness(t, harnessOptions{}, `{"actions":[], "after_message":"You have a terminal open."}`)

	s, state := h.run(t, "What is on my screen?", config.Settings{})
	assert.Equal(t, StateDone, state)
	assert.Equal(t, StateDone, s.State())

	want := []Event{
		{Type: EventTaskStart, Data: TaskStart{Task: "What is on my screen?", ShowEffects: true}},
		{Type: EventAIResponse, Data: AIResponse{Text: ""}},
		{Type: EventTaskComplete, Data: TaskComplete{Task: "What is on my screen?", Success: true}},
		{Type: EventAfterMessage, Data: AfterMessage{Text: "You have a terminal open."}},
	}
	ignoreTime := cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".Timestamp" }, cmp.Ignore())
	if diff := cmp.Diff(want, h.events.all(), ignoreTime); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.desk.Calls())
}

func TestRun_AfterMessageFallsBackToCommentary(t *testing.T) {
	testCases := []struct {
		name  string
		reply string
		want  []string
	}{
		{"commentary without thought", "All done, the file is saved.\n{\"actions\":[]}", []string{"All done, the file is saved."}},
		{"after_message wins", "Saved.\n{\"actions\":[],\"after_message\":\"The file is in Documents.\"}", []string{"The file is in Documents."}},
		{"thought suppresses commentary", "Saved.\n{\"thought\":\"Nothing left to do.\",\"actions\":[]}", nil},
		{"nothing to say", `{"actions":[]}`, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{}, tc.reply)
			_, state := h.run(t, "Save the file", config.Settings{})
			require.Equal(t, StateDone, state)

			var got []string
			for _, e := range h.events.of(EventAfterMessage) {
				got = append(got, e.Data.(AfterMessage).Text)
			}
			assert.Equal(t, tc.want, got)
			types := h.events.types()
			assert.Equal(t, EventTaskComplete, types[len(types)-1-len(tc.want)])
		})
	}
}

func TestRun_ClickMapping(t *testing.T) {
	testCases := []struct {
		name string
		geo  coords.Geometry
		want string
		move string
	}{
		{"primary display", fullHD, "(288, 162)", "move 288 162"},
		{"offset display", coords.Geometry{Width: 1920, Height: 1080, PixelWidth: 1920, PixelHeight: 1080, OriginX: 1000, OriginY: 500}, "(1288, 662)", "move 1288 662"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{geo: tc.geo}, clickPlan, `{"actions":[]}`)
			s, state := h.run(t, "Press the button", config.Settings{})
			require.Equal(t, StateDone, state)

			assert.Contains(t, h.desk.Calls(), "click 1")
			moves := h.desk.CallsWithPrefix("move")
			require.NotEmpty(t, moves)
			assert.Equal(t, tc.move, moves[len(moves)-1])

			completes := h.events.of(EventActionComplete)
			require.Len(t, completes, 1)
			ac := completes[0].Data.(ActionComplete)
			assert.True(t, ac.Success)
			assert.Equal(t, StatusCompleted, ac.Status)
			assert.Contains(t, ac.Details, tc.want)
			require.NotNil(t, ac.Confidence)
			assert.Equal(t, 99.0, *ac.Confidence)

			assert.Equal(t, "Action: click, Success: true, Notes: no verification needed", s.LastNotes())
		})
	}
}

func TestRun_HighRiskDenied(t *testing.T) {
	h := newHarness(t, harnessOptions{}, `{"actions":[{"action":"terminal","description":"Clean up","parameters":{"command":"rm -rf /tmp/x"}}]}`)
	s := h.session("Clean up temp files", config.Settings{ProceedWithoutConfirmation: false})
	h.events.setHook(func(e Event) {
		if e.Type == EventRequestConfirmation {
			s.Resolve(false)
		}
	})

	state := h.loop.Run(s)
	assert.Equal(t, StateCancelled, state)
	assert.Empty(t, h.desk.CallsWithPrefix("shell"), "denied command must not run")
	assert.Empty(t, h.events.of(EventActionStart))

	reqs := h.events.of(EventRequestConfirmation)
	require.Len(t, reqs, 1)
	rc := reqs[0].Data.(confirm.Request)
	assert.Equal(t, "terminal", rc.Action)
	assert.Equal(t, "rm -rf /tmp/x", rc.Parameters["command"])

	responses := h.events.of(EventAIResponse)
	assert.Contains(t, responses[len(responses)-1].Data.(AIResponse).Text, "Task paused")
	types := h.events.types()
	assert.Equal(t, EventTaskStopped, types[len(types)-1])
	assert.NotContains(t, types, EventError)
}

func TestRun_HighRiskApprovedOrWaived(t *testing.T) {
	terminalPlan := `{"actions":[{"action":"terminal","description":"List","parameters":{"command":"ls"}}]}`

	t.Run("approved", func(t *testing.T) {
		h := newHarness(t, harnessOptions{}, terminalPlan, `{"actions":[]}`)
		s := h.session("list files", config.Settings{})
		h.events.setHook(func(e Event) {
			if e.Type == EventRequestConfirmation {
				s.Resolve(true)
			}
		})
		assert.Equal(t, StateDone, h.loop.Run(s))
		assert.Equal(t, []string{"shell ls"}, h.desk.CallsWithPrefix("shell"))
	})

	t.Run("waived by settings", func(t *testing.T) {
		h := newHarness(t, harnessOptions{}, terminalPlan, `{"actions":[]}`)
		_, state := h.run(t, "list files", config.Settings{ProceedWithoutConfirmation: true})
		assert.Equal(t, StateDone, state)
		assert.Empty(t, h.events.of(EventRequestConfirmation))
		assert.Equal(t, []string{"shell ls"}, h.desk.CallsWithPrefix("shell"))
	})
}

func TestRun_VerificationCommandMustBeReadOnly(t *testing.T) {
	destructive := `{"actions":[{"action":"click","description":"Open menu","parameters":{"box2d":[100,100,200,200]},
		"verification":{"expected_outcome":"menu opens","method":"terminal_output","verification_command":"rm -rf ~/Documents"}}]}`
	h := newHarness(t, harnessOptions{}, destructive, `{"actions":[]}`)

	_, state := h.run(t, "open the menu", config.Settings{})
	require.Equal(t, StateDone, state)

	assert.Empty(t, h.desk.CallsWithPrefix("shell"))
	assert.Empty(t, h.events.of(EventRequestConfirmation))
	_, verifies := h.model.counts()
	assert.Zero(t, verifies)

	completes := h.events.of(EventActionComplete)
	require.Len(t, completes, 1)
	ac := completes[0].Data.(ActionComplete)
	assert.False(t, ac.Success)
	assert.Contains(t, ac.Details, verifier.CommandRejected)
}

func TestRun_VerificationFailureAbortsPlan(t *testing.T) {
	twoClicks := `{"actions":[
		{"action":"click","description":"first","parameters":{"box2d":[100,100,200,200]},"verification":{"expected_outcome":"menu opens"}},
		{"action":"click","description":"second","parameters":{"box2d":[500,500,600,600]},"verification":{"expected_outcome":"item selected"}}
	]}`
	h := newHarness(t, harnessOptions{}, twoClicks, `{"actions":[]}`)
	h.model.verdicts = []string{`{"verification_status":"failure","observations":"menu did not open"}`}

	s, state := h.run(t, "open the menu", config.Settings{})
	assert.Equal(t, StateDone, state)
	assert.Equal(t, 2, s.Iterations(), "second iteration re-perceives")

	starts := h.events.of(EventActionStart)
	require.Len(t, starts, 1, "second action never starts")
	assert.Equal(t, "first", starts[0].Data.(ActionStart).Description)
	assert.Len(t, h.desk.CallsWithPrefix("click"), 1)

	ac := h.events.of(EventActionComplete)[0].Data.(ActionComplete)
	assert.False(t, ac.Success)
	assert.Equal(t, StatusFailed, ac.Status)
	assert.Contains(t, ac.Details, "menu did not open")

	plans, _ := h.model.counts()
	require.Equal(t, 2, plans)
	assert.Contains(t, h.model.requests[1].Text, "Action: click, Success: true, Notes: menu did not open")
}

func TestRun_LoopBound(t *testing.T) {
	never := `{"actions":[{"action":"click","parameters":{"box2d":[10,10,20,20]},"verification":{"expected_outcome":"never happens"}}]}`
	h := newHarness(t, harnessOptions{maxLoops: 15}, never)
	h.model.verdicts = []string{`{"verification_status":"failure","observations":"nothing"}`}

	s, state := h.run(t, "impossible", config.Settings{})
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, 15, s.Iterations())
	plans, _ := h.model.counts()
	assert.Equal(t, 15, plans)

	types := h.events.types()
	assert.Equal(t, EventTaskComplete, types[len(types)-1])
	last := h.events.of(EventTaskComplete)
	assert.False(t, last[len(last)-1].Data.(TaskComplete).Success)
}

func TestRun_QuotaRotatesKey(t *testing.T) {
	h := newHarness(t, harnessOptions{}, `{"actions":[]}`)
	h.model.planErrs = []error{&llmclient.ProviderError{Kind: llmclient.KindQuota, Provider: "gemini", Err: errors.New("429 exhausted")}}

	_, state := h.run(t, "hello", config.Settings{})
	assert.Equal(t, StateDone, state)

	require.Len(t, h.factory.states, 2)
	assert.Equal(t, "key-a", h.factory.states[0].Key())
	assert.Equal(t, "key-b", h.factory.states[1].Key(), "rotation applies to the next request")
	assert.Equal(t, AIResponse{Text: MsgQuotaRotating}, h.events.of(EventAIResponse)[0].Data)
}

func TestRun_Failures(t *testing.T) {
	t.Run("screenshot", func(t *testing.T) {
		h := newHarness(t, harnessOptions{}, `{"actions":[]}`)
		h.screen.err = capture.ErrNoDisplay
		_, state := h.run(t, "x", config.Settings{})
		assert.Equal(t, StateFailed, state)
		assert.Equal(t, []EventType{EventTaskStart, EventError, EventTaskComplete}, h.events.types())
		plans, _ := h.model.counts()
		assert.Zero(t, plans)
	})

	t.Run("model error", func(t *testing.T) {
		h := newHarness(t, harnessOptions{}, `{"actions":[]}`)
		h.model.planErrs = []error{&llmclient.ProviderError{Kind: llmclient.KindOther, Provider: "gemini", Err: errors.New("bad request")}}
		_, state := h.run(t, "x", config.Settings{})
		assert.Equal(t, StateFailed, state)
		assert.Contains(t, h.events.of(EventError)[0].Data.(ErrorMessage).Message, "bad request")
	})

	t.Run("empty reply", func(t *testing.T) {
		h := newHarness(t, harnessOptions{}, "   ")
		_, state := h.run(t, "x", config.Settings{})
		assert.Equal(t, StateFailed, state)
	})

	t.Run("client unavailable", func(t *testing.T) {
		h := newHarness(t, harnessOptions{}, `{"actions":[]}`)
		h.factory.err = errors.New("no api key configured")
		_, state := h.run(t, "x", config.Settings{})
		assert.Equal(t, StateFailed, state)
	})
}

func TestRun_CommentaryOnlyReiterates(t *testing.T) {
	h := newHarness(t, harnessOptions{}, "I searched the docs; the setting is under Preferences.", `{"thought":"done","actions":[]}`)
	s, state := h.run(t, "find the setting", config.Settings{})
	assert.Equal(t, StateDone, state)
	assert.Equal(t, 2, s.Iterations())

	responses := h.events.of(EventAIResponse)
	require.Len(t, responses, 2)
	assert.Equal(t, "I searched the docs; the setting is under Preferences.", responses[0].Data.(AIResponse).Text)
	assert.Equal(t, "done", responses[1].Data.(AIResponse).Text)
}

func TestRun_PromptContents(t *testing.T) {
	h := newHarness(t, harnessOptions{}, `{"actions":[]}`)
	s := NewSession(context.Background(), Request{
		Text:        "rename the file",
		Settings:    config.Settings{DisableSearchTool: true},
		Attachments: []string{"/tmp/notes.pdf"},
	}, h.events)
	require.Equal(t, StateDone, h.loop.Run(s))

	req := h.model.requests[0]
	assert.Equal(t, SystemPrompt, req.System)
	assert.Equal(t, []byte("png"), req.Screenshot)
	assert.Equal(t, []string{"/tmp/notes.pdf"}, req.Attachments)
	assert.False(t, req.SearchTool)
	assert.True(t, req.JSON)
	for _, want := range []string{
		"- Operating System: Linux",
		"- Screen Resolution: 1920x1080",
		"- Current Cursor Position: (5, 5)",
		"USER TASK:\nrename the file",
		"USER PREFERENCES:",
		"INSTALLED LIBRARIES:",
		"Iteration 1 of 15",
	} {
		assert.Contains(t, req.Text, want)
	}
	assert.NotContains(t, req.Text, "PREVIOUS STEP VERIFICATION")
}

func TestRun_StopDuringWait(t *testing.T) {
	h := newHarness(t, harnessOptions{realSleep: true},
		`{"actions":[{"action":"wait","description":"long wait","parameters":{"duration":10}},{"action":"click","parameters":{"box2d":[1,1,2,2]}}]}`)
	s := h.session("wait a while", config.Settings{})

	started := make(chan struct{})
	var once sync.Once
	h.events.setHook(func(e Event) {
		if e.Type == EventActionStart {
			once.Do(func() { close(started) })
		}
	})

	result := make(chan State, 1)
	go func() { result <- h.loop.Run(s) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("wait action never started")
	}
	stopAt := time.Now()
	s.Stop()

	select {
	case state := <-result:
		assert.Equal(t, StateCancelled, state)
		assert.Less(t, time.Since(stopAt), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	assert.Len(t, h.events.of(EventActionStart), 1, "no action starts after stop")
	assert.Empty(t, h.desk.CallsWithPrefix("click"))
	types := h.events.types()
	assert.Equal(t, EventTaskStopped, types[len(types)-1])
}

func TestRun_StopBeforeStart(t *testing.T) {
	h := newHarness(t, harnessOptions{}, clickPlan)
	s := h.session("x", config.Settings{})
	s.Stop()

	assert.Equal(t, StateCancelled, h.loop.Run(s))
	assert.Equal(t, []EventType{EventTaskStart, EventTaskStopped}, h.events.types())
	assert.Zero(t, h.screen.calls)
}

func TestNewLoop_RequiresDependencies(t *testing.T) {
	_, err := NewLoop(config.EngineConfig{}, config.CaptureConfig{}, Dependencies{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
