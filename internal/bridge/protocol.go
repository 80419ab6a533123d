// Package bridge connects a UI host to the engine. Requests come in as JSON
// objects and engine events go out as JSON messages, either as prefixed lines
// on stdio or as WebSocket frames.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Line prefixes of the stdio protocol.
const (
	RequestPrefix = "FRONTEND_REQUEST:"
	MessagePrefix = "FRONTEND_MESSAGE:"
)

// RequestType is the discriminant of an inbound request.
type RequestType string

const (
	TypeExecuteTask  RequestType = "execute_task"
	TypeCancelTask   RequestType = "cancel_task"
	TypeConfirmation RequestType = "confirmation"
)

// ErrMalformedRequest wraps every decoding failure of an inbound request.
var ErrMalformedRequest = errors.New("malformed request")

// Inbound is a request from the UI. Request holds the task either as a
// string or as {"text", "attachments"}.
type Inbound struct {
	Type      RequestType         `json:"type"`
	Request   jsoniter.RawMessage `json:"request,omitempty"`
	Mode      string              `json:"mode,omitempty"`
	Settings  config.Settings     `json:"settings"`
	APIKey    string              `json:"api_key,omitempty"`
	Confirmed *bool               `json:"confirmed,omitempty"`
	Approved  *bool               `json:"approved,omitempty"`
}

type attachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type taskBody struct {
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

// Task converts an execute_task request into an engine request.
func (in Inbound) Task() (engine.Request, error) {
	req := engine.Request{Mode: in.Mode, Settings: in.Settings, APIKey: in.APIKey}

	raw := strings.TrimSpace(string(in.Request))
	switch {
	case raw == "" || raw == "null":
	case strings.HasPrefix(raw, `"`):
		if err := json.Unmarshal(in.Request, &req.Text); err != nil {
			return req, fmt.Errorf("%w: request text: %v", ErrMalformedRequest, err)
		}
	default:
		var body taskBody
		if err := json.Unmarshal(in.Request, &body); err != nil {
			return req, fmt.Errorf("%w: request body: %v", ErrMalformedRequest, err)
		}
		req.Text = body.Text
		for _, a := range body.Attachments {
			if a.Path != "" {
				req.Attachments = append(req.Attachments, a.Path)
			}
		}
	}

	if strings.TrimSpace(req.Text) == "" {
		return req, fmt.Errorf("%w: task text is empty", ErrMalformedRequest)
	}
	return req, nil
}

// Decision returns the answer carried by a confirmation request. A missing
// answer denies.
func (in Inbound) Decision() bool {
	if in.Confirmed != nil {
		return *in.Confirmed
	}
	if in.Approved != nil {
		return *in.Approved
	}
	return false
}

// DecodeInbound parses one JSON request object.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if in.Type == "" {
		return in, fmt.Errorf("%w: missing type", ErrMalformedRequest)
	}
	return in, nil
}

// ParseRequestLine parses a stdio line. ok is false for lines that do not
// carry the request prefix.
func ParseRequestLine(line string) (in Inbound, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, RequestPrefix) {
		return Inbound{}, false, nil
	}
	in, err = DecodeInbound([]byte(strings.TrimSpace(strings.TrimPrefix(line, RequestPrefix))))
	return in, true, err
}

// Message is the outbound wire form of an engine event.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// NewMessage converts an engine event.
func NewMessage(e engine.Event) Message {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{Type: string(e.Type), Data: e.Data, Timestamp: ts.Format(time.RFC3339Nano)}
}

// errorMessage builds an error message not tied to a session.
func errorMessage(text string) Message {
	return NewMessage(engine.Event{Type: engine.EventError, Data: engine.ErrorMessage{Message: text}})
}

// EncodeLine renders m as a prefixed stdio line including the newline.
func EncodeLine(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	line := make([]byte, 0, len(MessagePrefix)+len(body)+1)
	line = append(line, MessagePrefix...)
	line = append(line, body...)
	return append(line, '\n'), nil
}
