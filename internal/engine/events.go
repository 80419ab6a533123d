package engine

import (
	"time"

	"github.com/xkilldash9x/deskpilot/internal/confirm"
)

// EventType names a UI-facing event.
type EventType string

const (
	EventTaskStart           EventType = "task_start"
	EventAIResponse          EventType = "ai_response"
	EventActionStart         EventType = "action_start"
	EventActionComplete      EventType = "action_complete"
	EventRequestConfirmation EventType = "request_confirmation"
	EventAfterMessage        EventType = "after_message"
	EventTaskComplete        EventType = "task_complete"
	EventTaskStopped         EventType = "task_stopped"
	EventError               EventType = "error"
)

// Action status values carried by action events.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one structured message to the UI. Data holds one of the payload
// types below.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type TaskStart struct {
	Task        string `json:"task"`
	ShowEffects bool   `json:"show_effects"`
}

type AIResponse struct {
	Text     string `json:"text"`
	IsAction bool   `json:"is_action"`
}

type ActionStart struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

type ActionComplete struct {
	Description string   `json:"description"`
	Success     bool     `json:"success"`
	Details     string   `json:"details"`
	Status      string   `json:"status"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Code        string   `json:"code,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// RequestConfirmation is the payload of a confirmation prompt.
type RequestConfirmation = confirm.Request

type AfterMessage struct {
	Text string `json:"text"`
}

type TaskComplete struct {
	Task    string `json:"task"`
	Success bool   `json:"success"`
}

type TaskStopped struct {
	Task string `json:"task"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Sink receives events in emission order. Implementations must not block
// for long; the session goroutine waits on every Emit.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }
