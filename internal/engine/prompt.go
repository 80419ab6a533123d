package engine

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/deskpilot/internal/capture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SystemPrompt instructs the model on its role and the plan format.
const SystemPrompt = `You are DeskPilot (Act Mode), an agent that executes tasks on the user's computer by looking at screenshots and driving the mouse, keyboard and terminal.

ROLE:
- Execute the user's task. Plan, decide and adapt until it is done.
- Every turn you receive a fresh screenshot. Plan only what can be done from the current screen.
- When the task is complete, or the request needs no action, return an empty "actions" list and put your answer for the user in "after_message".

OS-AWARE NAVIGATION:
- The operating system is given in the screen context. Use its shortcuts (Ctrl on Windows and Linux, Cmd on macOS) and its shell (PowerShell on Windows, sh on macOS and Linux).

COORDINATES:
- Positions use a normalized 0-1000 grid over the whole screenshot, origin at the top left.
- Give targets as "box2d": [ymin, xmin, ymax, xmax] around the element. The center of the box is used.
- Add a short "label" naming the element and a "confidence" from 0 to 100.

WORK LIKE A HUMAN:
1. Click an input field before typing into it.
2. Make sure the target application is focused before interacting with it.
3. Prefer keyboard shortcuts and terminal commands when they are more reliable than clicking.
4. Re-read the previous verification notes and change strategy when something failed.

RESPONSE FORMAT:
Respond with one JSON object:
{
  "type": "task",
  "thought": "What you see and what you will do next (1-2 sentences)",
  "actions": [
    {
      "action": "click",
      "description": "Human-readable step",
      "parameters": {"box2d": [ymin, xmin, ymax, xmax], "label": "OK button", "confidence": 90},
      "verification": {
        "expected_outcome": "Specific change that should be visible",
        "method": "visual|terminal_output|window_check",
        "verification_command": "optional read-only command for terminal_output"
      }
    }
  ],
  "after_message": "Message for the user once actions is empty"
}

ACTIONS:
- screenshot: {} re-capture the screen
- click, double_click, mouse_move: {"box2d": [...], "label": "...", "confidence": 0-100}
- type: {"text": "...", "box2d": [...] optional, "clear_first": true|false}
- key_press: {"keys": ["ctrl", "c"], "combo": true}
- drag: {"box2d": [...], "end_box2d": [...]}
- scroll: {"direction": "up|down", "amount": 3, "box2d": [...] optional}
- focus_window: {"app_name": "Calculator"}
- terminal: {"command": "..."}
- wait: {"duration": seconds}
- research_package: {"package": "name", "type": "python|node"}
- display_code: {"code": "...", "language": "..."}
- read_preferences: {}
- write_preferences: {"preferences": {"key": "value"}}
- read_libraries: {}
- write_libraries: {"type": "python|node", "name": "...", "version": "..."}

SAFETY:
- terminal, write_preferences and write_libraries need the user's approval and may be denied. Prefer GUI steps for destructive operations only when a command is not clearly safer.
`

// promptContext is everything the per-iteration prompt is built from.
type promptContext struct {
	Task        string
	OS          string
	Shot        *capture.Screenshot
	Preferences map[string]interface{}
	Libraries   interface{}
	LastNotes   string
	Iteration   int
	MaxLoops    int
}

// osName renders a GOOS value the way users name their system.
func osName(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	}
	return goos
}

func buildPrompt(pc promptContext) string {
	var b strings.Builder

	geo := pc.Shot.Geometry
	b.WriteString("SCREEN CONTEXT:\n")
	fmt.Fprintf(&b, "- Operating System: %s\n", osName(pc.OS))
	fmt.Fprintf(&b, "- Screen Resolution: %dx%d\n", geo.Width, geo.Height)
	if geo.OriginX != 0 || geo.OriginY != 0 {
		fmt.Fprintf(&b, "- Display Origin: (%d, %d)\n", geo.OriginX, geo.OriginY)
	}
	if pc.Shot.CursorKnown {
		fmt.Fprintf(&b, "- Current Cursor Position: (%d, %d)\n", pc.Shot.CursorX, pc.Shot.CursorY)
		b.WriteString("- The cursor is marked with a red cross on the screenshot\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "USER TASK:\n%s\n\n", pc.Task)

	if pc.Preferences != nil {
		if doc, err := json.Marshal(pc.Preferences); err == nil {
			fmt.Fprintf(&b, "USER PREFERENCES:\n%s\n\n", doc)
		}
	}
	if pc.Libraries != nil {
		if doc, err := json.Marshal(pc.Libraries); err == nil {
			fmt.Fprintf(&b, "INSTALLED LIBRARIES:\n%s\n\n", doc)
		}
	}

	if pc.LastNotes != "" {
		fmt.Fprintf(&b, "PREVIOUS STEP VERIFICATION:\n%s\n\n", pc.LastNotes)
	}

	fmt.Fprintf(&b, "Iteration %d of %d. Look at the screenshot and respond with the JSON plan for the next steps, or an empty actions list if the task is complete.", pc.Iteration, pc.MaxLoops)
	return b.String()
}

// verificationNotes is the one-line summary of an executed action.
func verificationNotes(kind string, success bool, notes string) string {
	return fmt.Sprintf("Action: %s, Success: %t, Notes: %s", kind, success, notes)
}
