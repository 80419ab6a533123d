// Package plan turns free-form model output into an action.Plan.
//
// The reply is expected to hold one JSON object, possibly wrapped in prose or
// a markdown fence. The object is located with a greedy outer-brace match and
// everything outside it is kept as commentary. A reply with commentary but no
// object is a "thought" step: the model searched or reasoned and will act on
// the next iteration.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/llmutil"
)

var (
	// ErrNoPlan is returned when the reply is empty of both JSON and prose.
	ErrNoPlan = errors.New("model reply contains no plan and no commentary")
	// ErrMalformedPlan wraps decoding failures of the located JSON span.
	ErrMalformedPlan = errors.New("malformed plan")
)

// Result is the outcome of Parse. Plan is nil for a thought step.
type Result struct {
	Plan       *action.Plan
	Commentary string
}

// Thought reports whether the reply is commentary only.
func (r *Result) Thought() bool { return r.Plan == nil }

// wirePlan is the on-the-wire plan object. Unknown keys are ignored.
type wirePlan struct {
	Type         string                   `json:"type"`
	Thought      string                   `json:"thought"`
	Analysis     string                   `json:"analysis"`
	Actions      []map[string]interface{} `json:"actions"`
	AfterMessage string                   `json:"after_message"`
}

// Parse extracts the plan from a model reply.
func Parse(text string) (*Result, error) {
	span, commentary, found := llmutil.Split(text)
	if !found {
		if commentary == "" {
			return nil, ErrNoPlan
		}
		return &Result{Commentary: commentary}, nil
	}

	var w wirePlan
	if err := llmutil.DecodeObject(span, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	p := &action.Plan{
		Type:         w.Type,
		Thought:      strings.TrimSpace(w.Thought),
		Analysis:     strings.TrimSpace(w.Analysis),
		AfterMessage: strings.TrimSpace(w.AfterMessage),
		Actions:      make([]action.Action, 0, len(w.Actions)),
	}
	for i, raw := range w.Actions {
		a, err := decodeAction(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: action %d: %w", ErrMalformedPlan, i, err)
		}
		p.Actions = append(p.Actions, a)
	}
	return &Result{Plan: p, Commentary: commentary}, nil
}

// envelopeKeys are the keys of an action object that are not parameters.
var envelopeKeys = map[string]struct{}{
	"action": {}, "type": {}, "description": {}, "verification": {}, "step": {}, "parameters": {},
}

func decodeAction(raw map[string]interface{}) (action.Action, error) {
	name, _ := raw["action"].(string)
	if name == "" {
		name, _ = raw["type"].(string)
	}
	if name == "" {
		return action.Action{}, fmt.Errorf("%w: missing \"action\"", action.ErrUnknownKind)
	}
	kind, err := action.ParseKind(name)
	if err != nil {
		return action.Action{}, err
	}

	params, ok := raw["parameters"].(map[string]interface{})
	if !ok {
		// Some replies inline the parameters next to the envelope keys.
		params = map[string]interface{}{}
		for k, v := range raw {
			if _, envelope := envelopeKeys[k]; !envelope {
				params[k] = v
			}
		}
	}

	decoded, err := action.DecodeParams(kind, params)
	if err != nil {
		return action.Action{}, err
	}

	a := action.Action{
		Kind:       kind,
		Params:     decoded,
		Parameters: params,
	}
	a.Description, _ = raw["description"].(string)
	a.Description = strings.TrimSpace(a.Description)
	if v, ok := raw["verification"].(map[string]interface{}); ok {
		a.Verification = decodeVerification(v)
	}
	return a, nil
}

func decodeVerification(v map[string]interface{}) *action.Verification {
	out := &action.Verification{}
	out.ExpectedOutcome, _ = v["expected_outcome"].(string)
	method, _ := v["method"].(string)
	if method == "" {
		method, _ = v["verification_method"].(string)
	}
	out.Method = action.Method(strings.ToLower(strings.TrimSpace(method)))
	if out.Method == "" {
		out.Method = action.MethodVisual
	}
	out.Command, _ = v["verification_command"].(string)
	if out.Command == "" {
		out.Command, _ = v["command"].(string)
	}
	return out
}
