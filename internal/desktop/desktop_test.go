package desktop

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingRunner captures invocations and replays canned output.
type recordingRunner struct {
	calls  [][]string
	output map[string]string // keyed by the joined argument list
	errs   map[string]error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	key := strings.Join(call, " ")
	return []byte(r.output[key]), r.errs[key]
}

func (r *recordingRunner) last() []string {
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func newBackend(t *testing.T, goos string) (Backend, *recordingRunner) {
	t.Helper()
	r := &recordingRunner{output: map[string]string{}, errs: map[string]error{}}
	b, err := NewFor(goos, r, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b, r
}

func TestNewFor(t *testing.T) {
	for goos, want := range map[string]string{"linux": "xdotool", "darwin": "osascript", "windows": "powershell"} {
		b, _ := newBackend(t, goos)
		assert.Equal(t, want, b.Name())
	}
	_, err := NewFor("plan9", nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestXdotool(t *testing.T) {
	ctx := context.Background()
	b, r := newBackend(t, "linux")

	require.NoError(t, b.MoveMouse(ctx, 1288, 662))
	assert.Equal(t, []string{"xdotool", "mousemove", "--", "1288", "662"}, r.last())

	require.NoError(t, b.Click(ctx, 2))
	assert.Equal(t, []string{"xdotool", "click", "--repeat", "2", "--delay", "80", "1"}, r.last())

	require.NoError(t, b.Scroll(ctx, 300))
	assert.Equal(t, []string{"xdotool", "click", "--repeat", "3", "5"}, r.last())
	require.NoError(t, b.Scroll(ctx, -100))
	assert.Equal(t, []string{"xdotool", "click", "--repeat", "1", "4"}, r.last())

	require.NoError(t, b.KeyDown(ctx, "enter"))
	assert.Equal(t, []string{"xdotool", "keydown", "Return"}, r.last())
	require.NoError(t, b.Tap(ctx, "win"))
	assert.Equal(t, []string{"xdotool", "key", "super"}, r.last())
	assert.ErrorIs(t, b.KeyUp(ctx, "f13"), ErrUnsupportedKey)

	require.NoError(t, b.TypeText(ctx, "-rf hello"))
	assert.Equal(t, []string{"xdotool", "type", "--delay", "12", "--", "-rf hello"}, r.last())

	out, err := b.Shell(ctx, "echo hi")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"sh", "-c", "echo hi"}, r.last())
}

func TestXdotool_CursorPosition(t *testing.T) {
	b, r := newBackend(t, "linux")
	r.output["xdotool getmouselocation --shell"] = "X=640\nY=480\nSCREEN=0\nWINDOW=1234\n"
	x, y, err := b.CursorPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 640, x)
	assert.Equal(t, 480, y)

	r.output["xdotool getmouselocation --shell"] = "garbage"
	_, _, err = b.CursorPosition(context.Background())
	assert.Error(t, err)
}

func TestXdotool_FocusFallsBackToName(t *testing.T) {
	b, r := newBackend(t, "linux")
	r.errs["xdotool search --onlyvisible --class Firefox windowactivate"] = errors.New("exit status 1")

	require.NoError(t, b.FocusWindow(context.Background(), "Firefox"))
	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"xdotool", "search", "--onlyvisible", "--name", "Firefox", "windowactivate"}, r.last())
}

func TestRun_FoldsOutputIntoError(t *testing.T) {
	b, r := newBackend(t, "linux")
	r.output["xdotool mousedown 1"] = "Can't open display"
	r.errs["xdotool mousedown 1"] = errors.New("exit status 1")

	err := b.MouseDown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't open display")
}

func TestOsascript(t *testing.T) {
	ctx := context.Background()
	b, r := newBackend(t, "darwin")

	require.NoError(t, b.MoveMouse(ctx, 10, 20))
	script := r.last()[len(r.last())-1]
	assert.Equal(t, []string{"osascript", "-l", "JavaScript", "-e"}, r.last()[:4])
	assert.Contains(t, script, "post($.kCGEventMouseMoved,{x:10,y:20});")

	// While the button is held, moves become drags.
	require.NoError(t, b.MouseDown(ctx))
	require.NoError(t, b.MoveMouse(ctx, 30, 40))
	assert.Contains(t, r.last()[4], "kCGEventLeftMouseDragged")
	require.NoError(t, b.MouseUp(ctx))
	require.NoError(t, b.MoveMouse(ctx, 50, 60))
	assert.Contains(t, r.last()[4], "kCGEventMouseMoved")

	require.NoError(t, b.KeyDown(ctx, "cmd"))
	assert.Contains(t, r.last()[4], "CGEventCreateKeyboardEvent(null,55,true)")

	require.NoError(t, b.TypeText(ctx, `say "hi"`))
	assert.Contains(t, r.last()[4], `keystroke("say \"hi\"")`)

	require.NoError(t, b.FocusWindow(ctx, "Safari"))
	assert.Equal(t, []string{"open", "-a", "Safari"}, r.last())
}

func TestOsascript_CursorPosition(t *testing.T) {
	b, r := newBackend(t, "darwin")
	r.output["osascript -l JavaScript -e "+jxaPrelude+"var p=here();Math.round(p.x)+','+Math.round(p.y);"] = "100,200\n"
	x, y, err := b.CursorPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, x)
	assert.Equal(t, 200, y)
}

func TestPowershell(t *testing.T) {
	ctx := context.Background()
	b, r := newBackend(t, "windows")

	require.NoError(t, b.MoveMouse(ctx, -1280, 5))
	assert.Contains(t, r.last()[len(r.last())-1], "SetCursorPos(-1280, 5)")

	require.NoError(t, b.Scroll(ctx, 300))
	assert.Contains(t, r.last()[len(r.last())-1], "mouse_event(2048, 0, 0, -360,")

	require.NoError(t, b.Tap(ctx, "a"))
	assert.Contains(t, r.last()[len(r.last())-1], "keybd_event(65, 0, 0,")

	require.NoError(t, b.TypeText(ctx, "it's 100%"))
	assert.Contains(t, r.last()[len(r.last())-1], "SendWait('it''s 100{%}')")

	_, err := b.Shell(ctx, "dir")
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", "/C", "dir"}, r.last())
}

func TestPowershell_FocusRequiresMatch(t *testing.T) {
	b, r := newBackend(t, "windows")
	script := "powershell -NoProfile -NonInteractive -Command (New-Object -ComObject WScript.Shell).AppActivate('Notepad')"

	r.output[script] = "False\r\n"
	assert.Error(t, b.FocusWindow(context.Background(), "Notepad"))

	r.output[script] = "True\r\n"
	assert.NoError(t, b.FocusWindow(context.Background(), "Notepad"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, -1, ExitCode(errors.New("not started")))

	err := exec.Command("sh", "-c", "exit 3").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Skip("sh not available")
	}
	assert.Equal(t, 3, ExitCode(err))
}

func TestExecRunner_CancelStopsChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix only")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := ExecRunner{}.Run(ctx, "sh", "-c", "sleep 3; echo done")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotContains(t, string(out), "done")
}
