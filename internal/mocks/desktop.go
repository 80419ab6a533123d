// internal/mocks/desktop.go
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/deskpilot/internal/desktop"
)

// Desktop is a recording desktop.Backend. Every call is appended to Calls
// as a short string such as "move 288 162", "click 1" or "type hello".
// Errors keyed by verb ("move", "click", "shell", ...) are returned from
// the matching call.
type Desktop struct {
	mu    sync.Mutex
	calls []string

	// X and Y are the tracked pointer position.
	X, Y int

	// CursorErr makes CursorPosition fail.
	CursorErr error
	// Errors maps a verb to the error its call returns.
	Errors map[string]error
	// ShellFunc answers Shell. When nil, Shell returns no output.
	ShellFunc func(ctx context.Context, command string) ([]byte, error)
}

var _ desktop.Backend = (*Desktop)(nil)

// NewDesktop returns an empty recording backend.
func NewDesktop() *Desktop {
	return &Desktop{Errors: map[string]error{}}
}

func (d *Desktop) record(verb string, format string, args ...interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry := verb
	if format != "" {
		entry += " " + fmt.Sprintf(format, args...)
	}
	d.calls = append(d.calls, entry)
	return d.Errors[verb]
}

// Calls returns a copy of the recorded calls.
func (d *Desktop) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CallsWithPrefix returns recorded calls starting with prefix.
func (d *Desktop) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded calls.
func (d *Desktop) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *Desktop) Name() string { return "recording" }

func (d *Desktop) MoveMouse(_ context.Context, x, y int) error {
	if err := d.record("move", "%d %d", x, y); err != nil {
		return err
	}
	d.mu.Lock()
	d.X, d.Y = x, y
	d.mu.Unlock()
	return nil
}

func (d *Desktop) MouseDown(context.Context) error { return d.record("down", "") }
func (d *Desktop) MouseUp(context.Context) error   { return d.record("up", "") }

func (d *Desktop) Click(_ context.Context, count int) error {
	return d.record("click", "%d", count)
}

func (d *Desktop) Scroll(_ context.Context, units int) error {
	return d.record("scroll", "%d", units)
}

func (d *Desktop) CursorPosition(context.Context) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CursorErr != nil {
		return 0, 0, d.CursorErr
	}
	return d.X, d.Y, nil
}

func (d *Desktop) KeyDown(_ context.Context, key string) error {
	return d.record("keydown", "%s", key)
}

func (d *Desktop) KeyUp(_ context.Context, key string) error {
	return d.record("keyup", "%s", key)
}

func (d *Desktop) Tap(_ context.Context, key string) error {
	return d.record("tap", "%s", key)
}

func (d *Desktop) TypeText(_ context.Context, text string) error {
	return d.record("type", "%s", text)
}

func (d *Desktop) FocusWindow(_ context.Context, app string) error {
	return d.record("focus", "%s", app)
}

func (d *Desktop) Shell(ctx context.Context, command string) ([]byte, error) {
	if err := d.record("shell", "%s", command); err != nil {
		return nil, err
	}
	if d.ShellFunc == nil {
		return nil, nil
	}
	return d.ShellFunc(ctx, command)
}
