package desktop

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// xdotoolKeys maps canonical key names to X keysyms.
var xdotoolKeys = map[string]string{
	"ctrl": "ctrl", "shift": "shift", "alt": "alt", "win": "super", "cmd": "super",
	"enter": "Return", "tab": "Tab", "esc": "Escape", "backspace": "BackSpace",
	"delete": "Delete", "space": "space",
	"up": "Up", "down": "Down", "left": "Left", "right": "Right",
}

// xdotool drives an X11 session.
type xdotool struct {
	runner Runner
	log    *zap.Logger
}

func (b *xdotool) Name() string { return "xdotool" }

func (b *xdotool) do(ctx context.Context, args ...string) error {
	_, err := run(ctx, b.runner, "xdotool", args...)
	return err
}

func (b *xdotool) MoveMouse(ctx context.Context, x, y int) error {
	return b.do(ctx, "mousemove", "--", strconv.Itoa(x), strconv.Itoa(y))
}

func (b *xdotool) MouseDown(ctx context.Context) error { return b.do(ctx, "mousedown", "1") }

func (b *xdotool) MouseUp(ctx context.Context) error { return b.do(ctx, "mouseup", "1") }

func (b *xdotool) Click(ctx context.Context, count int) error {
	if count < 1 {
		count = 1
	}
	return b.do(ctx, "click", "--repeat", strconv.Itoa(count), "--delay", "80", "1")
}

func (b *xdotool) Scroll(ctx context.Context, units int) error {
	button := "5"
	if units < 0 {
		button = "4"
	}
	return b.do(ctx, "click", "--repeat", strconv.Itoa(notches(units)), button)
}

func (b *xdotool) CursorPosition(ctx context.Context) (int, int, error) {
	out, err := run(ctx, b.runner, "xdotool", "getmouselocation", "--shell")
	if err != nil {
		return 0, 0, err
	}
	var x, y int
	var gotX, gotY bool
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			continue
		}
		switch k {
		case "X":
			x, gotX = n, true
		case "Y":
			y, gotY = n, true
		}
	}
	if !gotX || !gotY {
		return 0, 0, fmt.Errorf("desktop: unreadable cursor position %q", strings.TrimSpace(string(out)))
	}
	return x, y, nil
}

func (b *xdotool) key(k string) (string, error) {
	if sym, ok := xdotoolKeys[k]; ok {
		return sym, nil
	}
	if len(k) == 1 {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKey, k)
}

func (b *xdotool) KeyDown(ctx context.Context, key string) error {
	sym, err := b.key(key)
	if err != nil {
		return err
	}
	return b.do(ctx, "keydown", sym)
}

func (b *xdotool) KeyUp(ctx context.Context, key string) error {
	sym, err := b.key(key)
	if err != nil {
		return err
	}
	return b.do(ctx, "keyup", sym)
}

func (b *xdotool) Tap(ctx context.Context, key string) error {
	sym, err := b.key(key)
	if err != nil {
		return err
	}
	return b.do(ctx, "key", sym)
}

func (b *xdotool) TypeText(ctx context.Context, text string) error {
	return b.do(ctx, "type", "--delay", "12", "--", text)
}

// FocusWindow activates the first visible window whose class, then name,
// matches app.
func (b *xdotool) FocusWindow(ctx context.Context, app string) error {
	err := b.do(ctx, "search", "--onlyvisible", "--class", app, "windowactivate")
	if err == nil {
		return nil
	}
	b.log.Debug("No window matched by class, trying name.", zap.String("app", app), zap.Error(err))
	return b.do(ctx, "search", "--onlyvisible", "--name", app, "windowactivate")
}

func (b *xdotool) Shell(ctx context.Context, command string) ([]byte, error) {
	return b.runner.Run(ctx, "sh", "-c", command)
}
