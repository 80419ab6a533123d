// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// objectSpanRegex is a greedy outer-brace match: from the first "{" to the
	// last "}" in the text.
	objectSpanRegex = regexp.MustCompile(`\{[\s\S]*\}`)

	// fenceRegex matches markdown fence markers left behind once the JSON
	// between them is cut out. \x60 is a backtick.
	fenceRegex = regexp.MustCompile("\x60\x60\x60[a-zA-Z]*")
)

// ErrNoObject is returned when the text holds no brace-delimited span.
var ErrNoObject = errors.New("no JSON object in response")

// Split locates the first greedy {...} span in text. Commentary is everything
// outside the span with fence markers removed and whitespace trimmed.
func Split(text string) (span string, commentary string, found bool) {
	loc := objectSpanRegex.FindStringIndex(text)
	if loc == nil {
		return "", cleanCommentary(text), false
	}
	before, after := text[:loc[0]], text[loc[1]:]
	return text[loc[0]:loc[1]], cleanCommentary(before + "\n" + after), true
}

func cleanCommentary(s string) string {
	s = fenceRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// DecodeObject unmarshals span into v. When strict decoding fails the span is
// run through jsonrepair (trailing commas, single quotes, unquoted keys) and
// decoded once more. The strict error is returned if both attempts fail.
func DecodeObject(span string, v interface{}) error {
	err := json.Unmarshal([]byte(span), v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(span)
	if repairErr != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w. Extracted JSON (truncated): %s", err, Truncate(span, 500))
	}
	if err2 := json.Unmarshal([]byte(repaired), v); err2 != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w. Extracted JSON (truncated): %s", err, Truncate(span, 500))
	}
	return nil
}

// ParseJSONResponse decodes the first object found in an LLM response into T.
// It tolerates markdown fences and conversational text around the object.
func ParseJSONResponse[T any](response string) (*T, error) {
	span, _, found := Split(response)
	if !found {
		return nil, fmt.Errorf("%w (response: %s)", ErrNoObject, Truncate(strings.TrimSpace(response), 200))
	}
	var result T
	if err := DecodeObject(span, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
