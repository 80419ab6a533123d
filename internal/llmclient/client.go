// Package llmclient sends multimodal prompts to a vision model and returns
// the raw reply text. Three providers are supported: Gemini through the genai
// SDK, OpenRouter chat completions and a local Ollama server.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Client is a single model provider.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is one prompt. Parts are sent in the order screenshot, attachments,
// text.
type Request struct {
	System string
	Text   string
	// Screenshot is a PNG of the current display. Empty means text only.
	Screenshot []byte
	// Attachments are file paths. Images and PDFs are inlined; other files
	// are skipped.
	Attachments []string
	// SearchTool enables the provider's web search grounding when it has one.
	SearchTool bool
	// JSON asks the provider for a JSON object reply when it supports it.
	JSON bool
}

// Usage is the token accounting of one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model reply.
type Response struct {
	Text     string
	Usage    *Usage
	Provider string
	Model    string
}

// ErrorKind tags a provider failure.
type ErrorKind string

const (
	// KindQuota means the key ran out of quota or was rate limited. The
	// caller rotates to the next key for its next request.
	KindQuota ErrorKind = "quota"
	// KindToolConfig means the provider rejected the tool configuration,
	// typically search grounding on a key or model without access.
	KindToolConfig ErrorKind = "tool_config"
	KindOther      ErrorKind = "other"
)

// ErrEmptyResponse is returned when the provider answered with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ProviderError is the tagged failure every provider returns.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%s, status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Rotatable reports whether the error calls for switching API keys.
func (e *ProviderError) Rotatable() bool {
	return e.Kind == KindQuota || e.Kind == KindToolConfig
}

// AsProviderError extracts a ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var (
	quotaMarkers = []string{"quota", "exceeded", "429", "resource_exhausted", "resource exhausted", "rate limit", "rate-limit", "too many requests"}
	toolMarkers  = []string{"tool", "google_search", "googlesearch", "search grounding", "function calling"}
)

// classify builds a ProviderError from a status code and message. A 429 or
// a quota marker on any non-2xx reply is a quota error. Timeouts are never
// read as quota even though their text says "exceeded".
func classify(provider string, status int, err error) *ProviderError {
	if pe, ok := AsProviderError(err); ok {
		return pe
	}
	msg := ""
	if err != nil && !isTimeout(err) {
		msg = strings.ToLower(err.Error())
	}
	kind := KindOther
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindQuota
	case containsAny(msg, quotaMarkers):
		kind = KindQuota
	case (status == http.StatusBadRequest || status == http.StatusForbidden || status == 0) && containsAny(msg, toolMarkers):
		kind = KindToolConfig
	}
	return &ProviderError{Kind: kind, Provider: provider, Status: status, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyGenAI reads the status from a genai API error when present.
func classifyGenAI(err error) *ProviderError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("%s: %s", apiErr.Status, apiErr.Message)
		if strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return &ProviderError{Kind: KindQuota, Provider: ProviderGemini, Status: apiErr.Code, Err: wrapped}
		}
		return classify(ProviderGemini, apiErr.Code, wrapped)
	}
	return classify(ProviderGemini, 0, err)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// State is the API key ring of a provider.
type State struct {
	Keys  []string
	Index int
}

// Key returns the active key, or "" when the ring is empty.
func (s State) Key() string {
	if len(s.Keys) == 0 {
		return ""
	}
	return s.Keys[s.index()]
}

func (s State) index() int {
	n := len(s.Keys)
	return ((s.Index % n) + n) % n
}

// Rotate returns the state advanced to the next key. The input is not
// modified.
func Rotate(s State) State {
	if len(s.Keys) == 0 {
		return State{}
	}
	keys := append([]string(nil), s.Keys...)
	return State{Keys: keys, Index: (s.index() + 1) % len(keys)}
}
