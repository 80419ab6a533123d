// internal/action/models.go
package action

import (
	"fmt"
	"strings"
)

// Kind is the discriminant of the Action variant. The set is closed: a kind
// not listed here is rejected when a plan is decoded.
type Kind string

const (
	// -- Perception --
	KindScreenshot Kind = "screenshot" // Re-capture the screen; no side effect.

	// -- Pointer --
	KindClick       Kind = "click"        // Left click at a mapped point.
	KindDoubleClick Kind = "double_click" // One OS-level double click.
	KindMouseMove   Kind = "mouse_move"   // Move without pressing.
	KindDrag        Kind = "drag"         // Press at start, move, release at end.
	KindScroll      Kind = "scroll"       // Wheel up or down, optionally at a point.

	// -- Keyboard --
	KindType     Kind = "type"      // Type text, optionally after clicking a field.
	KindKeyPress Kind = "key_press" // Press keys as a chord or one by one.

	// -- System --
	KindFocusWindow Kind = "focus_window" // Bring an application to the foreground.
	KindTerminal    Kind = "terminal"     // Run a shell command.
	KindWait        Kind = "wait"         // Cooperative sleep.

	// -- Informational --
	KindResearchPackage Kind = "research_package" // Echo package details to the UI.
	KindDisplayCode     Kind = "display_code"     // Hand a code snippet to the UI.

	// -- Store --
	KindReadPreferences  Kind = "read_preferences"
	KindWritePreferences Kind = "write_preferences"
	KindReadLibraries    Kind = "read_libraries"
	KindWriteLibraries   Kind = "write_libraries"
)

// kinds is the closed set of recognized discriminants.
var kinds = map[Kind]struct{}{
	KindScreenshot: {}, KindClick: {}, KindDoubleClick: {}, KindMouseMove: {},
	KindType: {}, KindKeyPress: {}, KindDrag: {}, KindScroll: {},
	KindFocusWindow: {}, KindTerminal: {}, KindWait: {},
	KindResearchPackage: {}, KindDisplayCode: {},
	KindReadPreferences: {}, KindWritePreferences: {},
	KindReadLibraries: {}, KindWriteLibraries: {},
}

// highRisk lists the kinds that need user confirmation before they run.
var highRisk = map[Kind]struct{}{
	KindTerminal:         {},
	KindWritePreferences: {},
	KindWriteLibraries:   {},
}

// ParseKind normalizes s and checks it against the closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// HighRisk reports whether actions of this kind are gated by confirmation.
func (k Kind) HighRisk() bool {
	_, ok := highRisk[k]
	return ok
}

// Method says how an expected outcome should be checked.
type Method string

const (
	MethodVisual         Method = "visual"
	MethodTerminalOutput Method = "terminal_output"
	MethodWindowCheck    Method = "window_check"
)

// Verification is the optional post-condition attached to an action.
type Verification struct {
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
	Method          Method `json:"method,omitempty"`
	Command         string `json:"verification_command,omitempty"`
}

// Action is a single step of a plan. Params always holds the variant matching
// Kind; Parameters keeps the raw record for UI events.
type Action struct {
	Kind         Kind
	Description  string
	Params       Params
	Parameters   map[string]interface{}
	Verification *Verification
}

// HighRisk reports whether the action must pass the confirmation gate.
func (a Action) HighRisk() bool { return a.Kind.HighRisk() }

// Confidence returns the model's self-reported confidence when present.
// It is surfaced to the UI only and never gates execution.
func (a Action) Confidence() (float64, bool) {
	if p, ok := a.Params.(Pointer); ok && p.Confidence != nil {
		return *p.Confidence, true
	}
	if v, ok := toFloat(a.Parameters["confidence"]); ok {
		return v, true
	}
	return 0, false
}

// Label returns a short human name for logs and events.
func (a Action) Label() string {
	if a.Description != "" {
		return a.Description
	}
	return string(a.Kind)
}

// NeedsVerification reports whether an expected outcome was declared.
func (a Action) NeedsVerification() bool {
	return a.Verification != nil && strings.TrimSpace(a.Verification.ExpectedOutcome) != ""
}

// Plan is the decoded model reply. An empty Actions slice means the task is done.
type Plan struct {
	Type         string
	Thought      string
	Analysis     string
	Actions      []Action
	AfterMessage string
}

// Done reports whether the plan ends the task.
func (p Plan) Done() bool { return len(p.Actions) == 0 }
