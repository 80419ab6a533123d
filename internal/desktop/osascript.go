package desktop

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// macKeyCodes maps canonical key names to macOS virtual key codes. The
// Windows key has no Mac equivalent and maps to Command.
var macKeyCodes = map[string]int{
	"a": 0, "s": 1, "d": 2, "f": 3, "h": 4, "g": 5, "z": 6, "x": 7, "c": 8, "v": 9,
	"b": 11, "q": 12, "w": 13, "e": 14, "r": 15, "y": 16, "t": 17,
	"1": 18, "2": 19, "3": 20, "4": 21, "6": 22, "5": 23, "9": 25, "7": 26, "8": 28, "0": 29,
	"o": 31, "u": 32, "i": 34, "p": 35, "l": 37, "j": 38, "k": 40, "n": 45, "m": 46,
	"enter": 36, "tab": 48, "space": 49, "backspace": 51, "esc": 53,
	"cmd": 55, "win": 55, "shift": 56, "alt": 58, "ctrl": 59,
	"delete": 117, "left": 123, "right": 124, "down": 125, "up": 126,
}

const jxaPrelude = "ObjC.import('CoreGraphics');" +
	"function here(){return $.CGEventGetLocation($.CGEventCreate(null));}" +
	"function post(type,p){var e=$.CGEventCreateMouseEvent(null,type,p,$.kCGMouseButtonLeft);$.CGEventPost($.kCGHIDEventTap,e);return e;}"

// macOS posts Quartz events through osascript's JavaScript bridge.
type macOS struct {
	runner Runner
	log    *zap.Logger

	mu   sync.Mutex
	held bool
}

func (b *macOS) Name() string { return "osascript" }

func (b *macOS) jxa(ctx context.Context, body string) ([]byte, error) {
	return run(ctx, b.runner, "osascript", "-l", "JavaScript", "-e", jxaPrelude+body)
}

func (b *macOS) do(ctx context.Context, body string) error {
	_, err := b.jxa(ctx, body)
	return err
}

func (b *macOS) MoveMouse(ctx context.Context, x, y int) error {
	b.mu.Lock()
	event := "$.kCGEventMouseMoved"
	if b.held {
		event = "$.kCGEventLeftMouseDragged"
	}
	b.mu.Unlock()
	return b.do(ctx, fmt.Sprintf("post(%s,{x:%d,y:%d});", event, x, y))
}

func (b *macOS) MouseDown(ctx context.Context) error {
	if err := b.do(ctx, "post($.kCGEventLeftMouseDown,here());"); err != nil {
		return err
	}
	b.mu.Lock()
	b.held = true
	b.mu.Unlock()
	return nil
}

func (b *macOS) MouseUp(ctx context.Context) error {
	b.mu.Lock()
	b.held = false
	b.mu.Unlock()
	return b.do(ctx, "post($.kCGEventLeftMouseUp,here());")
}

// Click stamps each down/up pair with its click state so the system sees a
// native multi-click.
func (b *macOS) Click(ctx context.Context, count int) error {
	if count < 1 {
		count = 1
	}
	script := fmt.Sprintf("var p=here();for(var i=1;i<=%d;i++){"+
		"var d=$.CGEventCreateMouseEvent(null,$.kCGEventLeftMouseDown,p,$.kCGMouseButtonLeft);"+
		"$.CGEventSetIntegerValueField(d,$.kCGMouseEventClickState,i);$.CGEventPost($.kCGHIDEventTap,d);"+
		"var u=$.CGEventCreateMouseEvent(null,$.kCGEventLeftMouseUp,p,$.kCGMouseButtonLeft);"+
		"$.CGEventSetIntegerValueField(u,$.kCGMouseEventClickState,i);$.CGEventPost($.kCGHIDEventTap,u);}", count)
	return b.do(ctx, script)
}

func (b *macOS) Scroll(ctx context.Context, units int) error {
	lines := notches(units)
	if units > 0 {
		lines = -lines
	}
	return b.do(ctx, fmt.Sprintf(
		"$.CGEventPost($.kCGHIDEventTap,$.CGEventCreateScrollWheelEvent(null,$.kCGScrollEventUnitLine,1,%d));", lines))
}

func (b *macOS) CursorPosition(ctx context.Context) (int, int, error) {
	out, err := b.jxa(ctx, "var p=here();Math.round(p.x)+','+Math.round(p.y);")
	if err != nil {
		return 0, 0, err
	}
	return parsePair(string(out))
}

func (b *macOS) keyCode(k string) (int, error) {
	code, ok := macKeyCodes[k]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKey, k)
	}
	return code, nil
}

func (b *macOS) keyEvent(ctx context.Context, key string, down bool) error {
	code, err := b.keyCode(key)
	if err != nil {
		return err
	}
	return b.do(ctx, fmt.Sprintf(
		"$.CGEventPost($.kCGHIDEventTap,$.CGEventCreateKeyboardEvent(null,%d,%s));", code, strconv.FormatBool(down)))
}

func (b *macOS) KeyDown(ctx context.Context, key string) error { return b.keyEvent(ctx, key, true) }

func (b *macOS) KeyUp(ctx context.Context, key string) error { return b.keyEvent(ctx, key, false) }

func (b *macOS) Tap(ctx context.Context, key string) error {
	if err := b.keyEvent(ctx, key, true); err != nil {
		return err
	}
	return b.keyEvent(ctx, key, false)
}

func (b *macOS) TypeText(ctx context.Context, text string) error {
	literal, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(text)
	if err != nil {
		return fmt.Errorf("desktop: encode text: %w", err)
	}
	return b.do(ctx, "Application('System Events').keystroke("+literal+");")
}

func (b *macOS) FocusWindow(ctx context.Context, app string) error {
	_, err := run(ctx, b.runner, "open", "-a", app)
	return err
}

func (b *macOS) Shell(ctx context.Context, command string) ([]byte, error) {
	return b.runner.Run(ctx, "sh", "-c", command)
}
