package desktop

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// winVirtualKeys maps canonical key names to Win32 virtual-key codes. The
// Command key maps to the Windows key.
var winVirtualKeys = map[string]int{
	"ctrl": 0x11, "shift": 0x10, "alt": 0x12, "win": 0x5B, "cmd": 0x5B,
	"enter": 0x0D, "tab": 0x09, "esc": 0x1B, "backspace": 0x08, "delete": 0x2E,
	"space": 0x20, "left": 0x25, "up": 0x26, "right": 0x27, "down": 0x28,
}

const user32Prelude = `Add-Type -Namespace DeskPilot -Name U -MemberDefinition '` +
	`[DllImport("user32.dll")] public static extern bool SetCursorPos(int x, int y);` +
	`[DllImport("user32.dll")] public static extern void mouse_event(uint f, uint x, uint y, int d, System.UIntPtr e);` +
	`[DllImport("user32.dll")] public static extern void keybd_event(byte v, byte s, uint f, System.UIntPtr e);';`

const (
	mouseLeftDown = 0x0002
	mouseLeftUp   = 0x0004
	mouseWheel    = 0x0800
	keyEventUp    = 0x0002
	wheelDelta    = 120
)

// windows drives user32 through PowerShell.
type windows struct {
	runner Runner
	log    *zap.Logger
}

func (b *windows) Name() string { return "powershell" }

func (b *windows) ps(ctx context.Context, script string) ([]byte, error) {
	return run(ctx, b.runner, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

func (b *windows) user32(ctx context.Context, body string) error {
	_, err := b.ps(ctx, user32Prelude+body)
	return err
}

func (b *windows) MoveMouse(ctx context.Context, x, y int) error {
	return b.user32(ctx, fmt.Sprintf("[DeskPilot.U]::SetCursorPos(%d, %d) | Out-Null", x, y))
}

func (b *windows) MouseDown(ctx context.Context) error {
	return b.user32(ctx, fmt.Sprintf("[DeskPilot.U]::mouse_event(%d, 0, 0, 0, [System.UIntPtr]::Zero)", mouseLeftDown))
}

func (b *windows) MouseUp(ctx context.Context) error {
	return b.user32(ctx, fmt.Sprintf("[DeskPilot.U]::mouse_event(%d, 0, 0, 0, [System.UIntPtr]::Zero)", mouseLeftUp))
}

// Click sends every down/up pair in one script so they land inside the
// system double-click interval.
func (b *windows) Click(ctx context.Context, count int) error {
	if count < 1 {
		count = 1
	}
	pair := fmt.Sprintf("[DeskPilot.U]::mouse_event(%d, 0, 0, 0, [System.UIntPtr]::Zero);[DeskPilot.U]::mouse_event(%d, 0, 0, 0, [System.UIntPtr]::Zero);",
		mouseLeftDown, mouseLeftUp)
	return b.user32(ctx, strings.Repeat(pair, count))
}

// Scroll converts wheel units to WHEEL_DELTA multiples. Windows treats a
// positive delta as scrolling up.
func (b *windows) Scroll(ctx context.Context, units int) error {
	delta := units * wheelDelta / WheelNotch
	return b.user32(ctx, fmt.Sprintf("[DeskPilot.U]::mouse_event(%d, 0, 0, %d, [System.UIntPtr]::Zero)", mouseWheel, -delta))
}

func (b *windows) CursorPosition(ctx context.Context) (int, int, error) {
	out, err := b.ps(ctx, `Add-Type -AssemblyName System.Windows.Forms; $p = [System.Windows.Forms.Cursor]::Position; "$($p.X),$($p.Y)"`)
	if err != nil {
		return 0, 0, err
	}
	return parsePair(string(out))
}

func (b *windows) vk(k string) (int, error) {
	if code, ok := winVirtualKeys[k]; ok {
		return code, nil
	}
	if len(k) == 1 {
		c := k[0]
		switch {
		case c >= 'a' && c <= 'z':
			return int(c-'a') + 0x41, nil
		case c >= '0' && c <= '9':
			return int(c-'0') + 0x30, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedKey, k)
}

func (b *windows) keyEvent(ctx context.Context, key string, flags int) error {
	code, err := b.vk(key)
	if err != nil {
		return err
	}
	return b.user32(ctx, fmt.Sprintf("[DeskPilot.U]::keybd_event(%d, 0, %d, [System.UIntPtr]::Zero)", code, flags))
}

func (b *windows) KeyDown(ctx context.Context, key string) error { return b.keyEvent(ctx, key, 0) }

func (b *windows) KeyUp(ctx context.Context, key string) error {
	return b.keyEvent(ctx, key, keyEventUp)
}

func (b *windows) Tap(ctx context.Context, key string) error {
	code, err := b.vk(key)
	if err != nil {
		return err
	}
	return b.user32(ctx, fmt.Sprintf(
		"[DeskPilot.U]::keybd_event(%d, 0, 0, [System.UIntPtr]::Zero);[DeskPilot.U]::keybd_event(%d, 0, %d, [System.UIntPtr]::Zero)",
		code, code, keyEventUp))
}

func (b *windows) TypeText(ctx context.Context, text string) error {
	_, err := b.ps(ctx, "Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait("+
		psQuote(escapeSendKeys(text))+")")
	return err
}

func (b *windows) FocusWindow(ctx context.Context, app string) error {
	out, err := b.ps(ctx, "(New-Object -ComObject WScript.Shell).AppActivate("+psQuote(app)+")")
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(string(out)), "true") {
		return fmt.Errorf("desktop: no window matched %q", app)
	}
	return nil
}

func (b *windows) Shell(ctx context.Context, command string) ([]byte, error) {
	return b.runner.Run(ctx, "cmd", "/C", command)
}

// psQuote wraps s in a single-quoted PowerShell literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// escapeSendKeys brace-quotes the characters SendKeys treats as syntax.
func escapeSendKeys(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '+', '^', '%', '~', '(', ')', '{', '}', '[', ']':
			sb.WriteString("{" + string(r) + "}")
		case '\n':
			sb.WriteString("{ENTER}")
		case '\r':
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
