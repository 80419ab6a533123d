package action

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnknownKind is returned for a discriminant outside the closed set.
	ErrUnknownKind = errors.New("unknown action")
	// ErrInvalidParameters marks a parameter record that cannot drive its kind.
	ErrInvalidParameters = errors.New("invalid parameters")
)

const (
	// DefaultScrollAmount is used when a scroll omits amount.
	DefaultScrollAmount = 3
	// DefaultWait is used when a wait omits duration.
	DefaultWait = time.Second
	// MaxWait caps a single wait.
	MaxWait = 5 * time.Minute
)

// Params is the per-kind parameter variant. Only this package implements it.
type Params interface {
	params()
}

// Target is a normalized position on the 0..1000 grid: either a box2d
// [ymin, xmin, ymax, xmax] or a point. Validation happens at mapping time so
// a malformed box fails only its own action.
type Target struct {
	Box  []float64
	X, Y *float64
}

// IsZero reports whether no position was given.
func (t Target) IsZero() bool { return t.Box == nil && (t.X == nil || t.Y == nil) }

// Screenshot re-captures the screen.
type Screenshot struct{}

// Pointer drives click, double_click and mouse_move.
type Pointer struct {
	Target     Target
	Label      string
	Confidence *float64
}

// Type enters text, optionally clicking Target first.
type Type struct {
	Text       string
	Target     Target
	ClearFirst bool
}

// KeyPress presses Keys together when Combo is set, otherwise one after another.
type KeyPress struct {
	Keys  []string
	Combo bool
}

// Drag moves from Start to End with the left button held.
type Drag struct {
	Start Target
	End   Target
}

// Direction of a scroll.
type Direction string

const (
	ScrollUp   Direction = "up"
	ScrollDown Direction = "down"
)

// Scroll turns the wheel Amount notches, at Target when one is given.
type Scroll struct {
	Direction Direction
	Target    Target
	Amount    int
}

// FocusWindow brings AppName to the foreground.
type FocusWindow struct {
	AppName string
}

// Terminal runs Command through the platform shell.
type Terminal struct {
	Command string
}

// Wait sleeps for Duration.
type Wait struct {
	Duration time.Duration
}

// ResearchPackage carries package details for the UI.
type ResearchPackage struct {
	Name      string
	Ecosystem string
}

// DisplayCode carries a code snippet for the UI.
type DisplayCode struct {
	Code     string
	Language string
}

// ReadPreferences returns the preferences document.
type ReadPreferences struct{}

// WritePreferences shallow-merges Updates into the preferences document.
type WritePreferences struct {
	Updates map[string]interface{}
}

// ReadLibraries returns the library registry.
type ReadLibraries struct{}

// WriteLibraries upserts one package record.
type WriteLibraries struct {
	Type    string
	Name    string
	Version string
}

func (Screenshot) params()       {}
func (Pointer) params()          {}
func (Type) params()             {}
func (KeyPress) params()         {}
func (Drag) params()             {}
func (Scroll) params()           {}
func (FocusWindow) params()      {}
func (Terminal) params()         {}
func (Wait) params()             {}
func (ResearchPackage) params()  {}
func (DisplayCode) params()      {}
func (ReadPreferences) params()  {}
func (WritePreferences) params() {}
func (ReadLibraries) params()    {}
func (WriteLibraries) params()   {}

// DecodeParams builds the variant for kind from a raw parameter record.
// Extra keys are ignored. Values are coerced leniently; required values that
// are missing are reported by Validate, not here.
func DecodeParams(kind Kind, raw map[string]interface{}) (Params, error) {
	switch kind {
	case KindScreenshot:
		return Screenshot{}, nil
	case KindClick, KindDoubleClick, KindMouseMove:
		p := Pointer{Target: decodeTarget(raw, "box2d", "x", "y", "coordinates")}
		p.Label, _ = toString(raw["label"])
		if c, ok := toFloat(raw["confidence"]); ok {
			p.Confidence = &c
		}
		return p, nil
	case KindType:
		p := Type{Target: decodeTarget(raw, "box2d", "x", "y", "coordinates")}
		p.Text, _ = toString(raw["text"])
		p.ClearFirst, _ = toBool(raw["clear_first"])
		return p, nil
	case KindKeyPress:
		p := KeyPress{Keys: toStrings(raw["keys"])}
		p.Combo, _ = toBool(raw["combo"])
		return p, nil
	case KindDrag:
		return Drag{
			Start: decodeTarget(raw, "box2d", "x", "y", "coordinates"),
			End:   decodeTarget(raw, "end_box2d", "end_x", "end_y", "end_coordinates"),
		}, nil
	case KindScroll:
		p := Scroll{Target: decodeTarget(raw, "box2d", "x", "y", "coordinates"), Amount: DefaultScrollAmount}
		dir, _ := toString(raw["direction"])
		p.Direction = Direction(strings.ToLower(strings.TrimSpace(dir)))
		if a, ok := toFloat(raw["amount"]); ok {
			p.Amount = int(math.Round(a))
		}
		return p, nil
	case KindFocusWindow:
		name, _ := toString(raw["app_name"])
		return FocusWindow{AppName: name}, nil
	case KindTerminal:
		cmd, _ := toString(raw["command"])
		return Terminal{Command: cmd}, nil
	case KindWait:
		p := Wait{Duration: DefaultWait}
		if d, ok := toFloat(raw["duration"]); ok && d >= 0 && !math.IsInf(d, 0) {
			if d > MaxWait.Seconds() {
				p.Duration = MaxWait
			} else {
				p.Duration = time.Duration(d * float64(time.Second))
			}
		}
		return p, nil
	case KindResearchPackage:
		p := ResearchPackage{}
		p.Name, _ = firstString(raw, "package", "name", "package_name")
		p.Ecosystem, _ = firstString(raw, "type", "ecosystem", "manager")
		return p, nil
	case KindDisplayCode:
		p := DisplayCode{}
		p.Code, _ = toString(raw["code"])
		p.Language, _ = toString(raw["language"])
		return p, nil
	case KindReadPreferences:
		return ReadPreferences{}, nil
	case KindWritePreferences:
		updates := map[string]interface{}{}
		if nested, ok := raw["preferences"].(map[string]interface{}); ok {
			for k, v := range nested {
				updates[k] = v
			}
		} else {
			for k, v := range raw {
				updates[k] = v
			}
		}
		return WritePreferences{Updates: updates}, nil
	case KindReadLibraries:
		return ReadLibraries{}, nil
	case KindWriteLibraries:
		p := WriteLibraries{}
		p.Type, _ = firstString(raw, "type", "ecosystem", "language")
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		p.Name, _ = firstString(raw, "name", "package")
		p.Version, _ = toString(raw["version"])
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Validate checks that the variant carries everything its kind needs.
func Validate(kind Kind, p Params) error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidParameters, kind, fmt.Sprintf(format, args...))
	}
	switch v := p.(type) {
	case Pointer:
		if v.Target.IsZero() {
			return invalid("box2d or x/y is required")
		}
	case Type:
		if v.Text == "" && !v.ClearFirst {
			return invalid("text is required")
		}
	case KeyPress:
		if len(v.Keys) == 0 {
			return invalid("keys must be a non-empty list")
		}
	case Drag:
		if v.Start.IsZero() || v.End.IsZero() {
			return invalid("start and end positions are required")
		}
	case Scroll:
		if v.Direction != ScrollUp && v.Direction != ScrollDown {
			return invalid("direction must be up or down, got %q", v.Direction)
		}
		if v.Amount <= 0 {
			return invalid("amount must be positive")
		}
	case FocusWindow:
		if strings.TrimSpace(v.AppName) == "" {
			return invalid("app_name is required")
		}
	case Terminal:
		if strings.TrimSpace(v.Command) == "" {
			return invalid("command is required")
		}
	case WritePreferences:
		if len(v.Updates) == 0 {
			return invalid("no preference keys given")
		}
	case WriteLibraries:
		if v.Type != "python" && v.Type != "node" {
			return invalid("type must be python or node, got %q", v.Type)
		}
		if strings.TrimSpace(v.Name) == "" {
			return invalid("name is required")
		}
	case nil:
		return invalid("missing parameters")
	}
	return nil
}

// decodeTarget reads a box under boxKey, else a point from xKey/yKey, else a
// two-element list under listKey.
func decodeTarget(raw map[string]interface{}, boxKey, xKey, yKey, listKey string) Target {
	var t Target
	if v, ok := raw[boxKey]; ok && v != nil {
		t.Box = toBox(v)
	}
	x, okX := toFloat(raw[xKey])
	y, okY := toFloat(raw[yKey])
	if okX && okY {
		t.X, t.Y = &x, &y
		return t
	}
	if list, ok := raw[listKey].([]interface{}); ok && len(list) == 2 {
		lx, okX := toFloat(list[0])
		ly, okY := toFloat(list[1])
		if okX && okY {
			t.X, t.Y = &lx, &ly
		}
	}
	return t
}

// toBox keeps the box's length as given and turns non-numeric entries into
// NaN, so the mapper reports the box as malformed.
func toBox(v interface{}) []float64 {
	list, ok := v.([]interface{})
	if !ok {
		return []float64{math.NaN()}
	}
	box := make([]float64, len(list))
	for i, e := range list {
		f, ok := toFloat(e)
		if !ok {
			f = math.NaN()
		}
		box[i] = f
	}
	return box
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func firstString(raw map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := toString(raw[k]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	case float64:
		return b != 0, true
	}
	return false, false
}

// toStrings accepts a list of strings or a single "ctrl+c" style string.
func toStrings(v interface{}) []string {
	switch list := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := toString(e); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return list
	case string:
		var out []string
		for _, s := range strings.Split(list, "+") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
