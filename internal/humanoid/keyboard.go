package humanoid

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKey is returned for a key name outside the key table.
var ErrUnknownKey = errors.New("unknown key")

// Canonical key names. Backends translate these to their own vocabulary.
const (
	KeyCtrl      = "ctrl"
	KeyShift     = "shift"
	KeyAlt       = "alt"
	KeyWin       = "win"
	KeyCmd       = "cmd"
	KeyEnter     = "enter"
	KeyTab       = "tab"
	KeyEsc       = "esc"
	KeyBackspace = "backspace"
	KeyDelete    = "delete"
	KeySpace     = "space"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyLeft      = "left"
	KeyRight     = "right"
)

// keyAliases maps accepted spellings onto canonical names.
var keyAliases = map[string]string{
	"ctrl": KeyCtrl, "control": KeyCtrl,
	"shift": KeyShift,
	"alt":   KeyAlt,
	"win":   KeyWin,
	"cmd":   KeyCmd, "command": KeyCmd,
	"enter": KeyEnter, "return": KeyEnter,
	"tab": KeyTab,
	"esc": KeyEsc, "escape": KeyEsc,
	"backspace": KeyBackspace,
	"delete":    KeyDelete,
	"space":     KeySpace,
	"up":        KeyUp,
	"down":      KeyDown,
	"left":      KeyLeft,
	"right":     KeyRight,
}

// NormalizeKey maps a key name onto the key table. Single letters a..z and
// digits 0..9 are accepted as themselves.
func NormalizeKey(name string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := keyAliases[k]; ok {
		return canonical, nil
	}
	if len(k) == 1 && ((k[0] >= 'a' && k[0] <= 'z') || (k[0] >= '0' && k[0] <= '9')) {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// NormalizeKeys normalizes every key, failing on the first unknown one.
func NormalizeKeys(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		k, err := NormalizeKey(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// SelectAllModifier is the modifier that pairs with "a" for select-all.
func SelectAllModifier(goos string) string {
	if goos == "darwin" {
		return KeyCmd
	}
	return KeyCtrl
}

// KeySender is the keyboard surface used by Chord and Sequence.
type KeySender interface {
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	Tap(ctx context.Context, key string) error
}

// Chord presses keys in order and releases them in reverse. Keys already
// pressed are released even when a later press fails.
func Chord(ctx context.Context, s KeySender, keys []string) (err error) {
	pressed := make([]string, 0, len(keys))
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(pressed) - 1; i >= 0; i-- {
			if upErr := s.KeyUp(releaseCtx, pressed[i]); upErr != nil && err == nil {
				err = fmt.Errorf("release %s: %w", pressed[i], upErr)
			}
		}
	}()
	for _, k := range keys {
		if err := s.KeyDown(ctx, k); err != nil {
			return fmt.Errorf("press %s: %w", k, err)
		}
		pressed = append(pressed, k)
	}
	return nil
}

// Sequence taps keys one after another.
func Sequence(ctx context.Context, s KeySender, keys []string) error {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Tap(ctx, k); err != nil {
			return fmt.Errorf("tap %s: %w", k, err)
		}
	}
	return nil
}
