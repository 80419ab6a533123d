// Package desktop drives the operating system's pointer, keyboard, windows and
// shell. Each platform backend shells out to the native automation tool of
// that platform: xdotool on Linux, osascript (JavaScript for Automation) on
// macOS and PowerShell with user32 on Windows.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WheelNotch is the number of wheel units in one scroll notch.
const WheelNotch = 100

// ErrUnsupportedKey is returned when a backend has no mapping for a
// canonical key name.
var ErrUnsupportedKey = errors.New("key not supported by backend")

// Backend is the OS input surface. Coordinates are absolute logical screen
// units. Keys are canonical names from the humanoid key table. Pointer button
// operations act on the left button.
type Backend interface {
	Name() string

	MoveMouse(ctx context.Context, x, y int) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error
	// Click issues count clicks as one OS-level gesture, so count 2 is a
	// native double click.
	Click(ctx context.Context, count int) error
	// Scroll turns the wheel by units; positive scrolls down.
	Scroll(ctx context.Context, units int) error
	CursorPosition(ctx context.Context) (int, int, error)

	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	Tap(ctx context.Context, key string) error
	TypeText(ctx context.Context, text string) error

	FocusWindow(ctx context.Context, app string) error
	// Shell runs command through the platform shell and returns the
	// combined stdout and stderr.
	Shell(ctx context.Context, command string) ([]byte, error)
}

// Runner executes an external program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// killGrace bounds how long output pipes may stay open after the process
// is killed, for example when a shell left a background child behind.
const killGrace = 500 * time.Millisecond

// ExecRunner runs programs with os/exec. Cancelling ctx kills the program
// and, where the platform allows, every process it started.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = killGrace
	killProcessGroup(cmd)
	return cmd.CombinedOutput()
}

// New returns the backend for the running OS.
func New(runner Runner, logger *zap.Logger) (Backend, error) {
	return NewFor(runtime.GOOS, runner, logger)
}

// NewFor returns the backend for goos.
func NewFor(goos string, runner Runner, logger *zap.Logger) (Backend, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	log := logger.Named("desktop")
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return &xdotool{runner: runner, log: log}, nil
	case "darwin":
		return &macOS{runner: runner, log: log}, nil
	case "windows":
		return &windows{runner: runner, log: log}, nil
	}
	return nil, fmt.Errorf("desktop: unsupported platform %q", goos)
}

// ExitCode extracts the process exit status from an error returned by a
// Runner. It is 0 for a nil error and -1 when the process never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// run invokes the tool and folds its output into the error on failure.
func run(ctx context.Context, r Runner, name string, args ...string) ([]byte, error) {
	out, err := r.Run(ctx, name, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return out, fmt.Errorf("%s: %w", name, err)
		}
		return out, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return out, nil
}

// parsePair reads "x,y" as printed by the cursor position scripts.
func parsePair(s string) (int, int, error) {
	var x, y int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d,%d", &x, &y); err != nil {
		return 0, 0, fmt.Errorf("desktop: unreadable cursor position %q: %w", s, err)
	}
	return x, y, nil
}

func notches(units int) int {
	if units < 0 {
		units = -units
	}
	n := (units + WheelNotch - 1) / WheelNotch
	if n < 1 {
		n = 1
	}
	return n
}
