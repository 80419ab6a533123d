// Package verifier asks the model whether an executed action had its
// expected effect, using a fresh screenshot and optional command output as
// evidence.
package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/actuator"
	"github.com/xkilldash9x/deskpilot/internal/capture"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// NoVerificationNeeded is the note for actions without an expected outcome.
	NoVerificationNeeded = "no verification needed"
	// CommandRejected is the note when the evidence command could change
	// the system. The command is not run and the action counts as unverified.
	CommandRejected = "verification command rejected"
)

// Status values the model may answer with.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusPartial = "partial"
)

// Result is the verdict for one action.
type Result struct {
	Verified bool   `json:"verified"`
	Notes    string `json:"notes"`
	// Status is the raw model verdict, empty when no model call was made.
	Status string `json:"status,omitempty"`
}

// Capturer takes the evidence screenshot.
type Capturer interface {
	Capture(ctx context.Context, markCursor bool) (*capture.Screenshot, error)
}

// Shell runs the evidence command.
type Shell interface {
	Shell(ctx context.Context, command string) ([]byte, error)
}

// verdict is the JSON object the model is asked for.
type verdict struct {
	Status       string `json:"verification_status"`
	Observations string `json:"observations"`
}

// Verifier checks expected outcomes. It is bound to the model client of
// the current iteration.
type Verifier struct {
	client       llmclient.Client
	capturer     Capturer
	shell        Shell
	shellTimeout time.Duration
	outputLimit  int
	logger       *zap.Logger
}

// New creates a Verifier. shell may be nil, in which case no command
// evidence is gathered.
func New(client llmclient.Client, capturer Capturer, shell Shell, shellTimeout time.Duration, outputLimit int, logger *zap.Logger) *Verifier {
	return &Verifier{
		client:       client,
		capturer:     capturer,
		shell:        shell,
		shellTimeout: shellTimeout,
		outputLimit:  outputLimit,
		logger:       logger.Named("verifier"),
	}
}

// Verify never returns an error: any failure yields Verified=false with the
// error text as notes.
func (v *Verifier) Verify(ctx context.Context, act action.Action, res actuator.Result) Result {
	if !act.NeedsVerification() {
		return Result{Verified: true, Notes: NoVerificationNeeded}
	}

	command := strings.TrimSpace(act.Verification.Command)
	if act.Verification.Method != action.MethodTerminalOutput {
		command = ""
	}
	if command != "" && !ReadOnlyCommand(command) {
		v.logger.Warn("Refusing verification command that is not read-only.",
			zap.String("action", string(act.Kind)),
			zap.String("command", command))
		return Result{Verified: false, Notes: CommandRejected}
	}

	shot, err := v.capturer.Capture(ctx, true)
	if err != nil {
		return v.failed(act, fmt.Errorf("verification screenshot failed: %w", err))
	}

	var output string
	if command != "" && v.shell != nil {
		output = v.runEvidence(ctx, command)
	}

	resp, err := v.client.Generate(ctx, llmclient.Request{
		Text:       v.buildPrompt(act, res, shot, output),
		Screenshot: shot.PNG,
		JSON:       true,
	})
	if err != nil {
		return v.failed(act, fmt.Errorf("verification request failed: %w", err))
	}

	parsed, err := llmutil.ParseJSONResponse[verdict](resp.Text)
	if err != nil {
		return v.failed(act, fmt.Errorf("unreadable verification reply: %w", err))
	}

	status := strings.ToLower(strings.TrimSpace(parsed.Status))
	out := Result{Status: status, Notes: parsed.Observations, Verified: status == StatusSuccess}
	if out.Notes == "" {
		out.Notes = "verification status: " + status
	}
	v.logger.Info("Action verified.",
		zap.String("action", string(act.Kind)),
		zap.String("status", status),
		zap.Bool("verified", out.Verified))
	return out
}

func (v *Verifier) failed(act action.Action, err error) Result {
	v.logger.Warn("Verification failed.", zap.String("action", string(act.Kind)), zap.Error(err))
	return Result{Verified: false, Notes: err.Error()}
}

// runEvidence runs the verification command and returns its output, or the
// error text when it could not run.
func (v *Verifier) runEvidence(ctx context.Context, command string) string {
	runCtx, cancel := context.WithTimeout(ctx, v.shellTimeout)
	defer cancel()
	out, err := v.shell.Shell(runCtx, command)
	text := strings.TrimSpace(string(out))
	if err != nil {
		v.logger.Debug("Verification command failed.", zap.String("command", command), zap.Error(err))
		if text == "" {
			text = "error: " + err.Error()
		}
	}
	if v.outputLimit > 0 {
		text = llmutil.Truncate(text, v.outputLimit)
	}
	return text
}

func (v *Verifier) buildPrompt(act action.Action, res actuator.Result, shot *capture.Screenshot, output string) string {
	params, _ := json.Marshal(act.Parameters)
	if act.Parameters == nil {
		params = []byte("{}")
	}
	method := act.Verification.Method
	if method == "" {
		method = action.MethodVisual
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SCREEN CONTEXT:\n- Screen: %dx%d\n", shot.Geometry.Width, shot.Geometry.Height)
	if shot.CursorKnown {
		fmt.Fprintf(&b, "- Cursor: (%d, %d)\n", shot.CursorX, shot.CursorY)
	}
	b.WriteString("\nVERIFICATION TASK:\n\n")
	fmt.Fprintf(&b, "Action executed: %s\n", act.Kind)
	fmt.Fprintf(&b, "Description: %s\n", act.Description)
	fmt.Fprintf(&b, "Parameters: %s\n\n", params)
	fmt.Fprintf(&b, "Expected outcome: %s\n", act.Verification.ExpectedOutcome)
	fmt.Fprintf(&b, "Verification method: %s\n\n", method)
	fmt.Fprintf(&b, "Execution result: %s\n", res.Message)
	if output != "" {
		fmt.Fprintf(&b, "\nTerminal output of `%s`:\n%s\n", act.Verification.Command, output)
	}
	b.WriteString(`
Analyze the current screenshot and determine if the action was successful.

Respond ONLY with JSON in this exact format:
{
  "verification_status": "success|failure|partial",
  "observations": "What you see that confirms or contradicts the expected outcome"
}`)
	return b.String()
}
