// Package coords maps positions on the model's normalized 0..1000 grid onto
// absolute logical screen coordinates of the primary display.
package coords

import (
	"errors"
	"fmt"
	"math"

	"github.com/xkilldash9x/deskpilot/internal/action"
)

// GridMax is the upper bound of the normalized grid on both axes.
const GridMax = 1000.0

var (
	// ErrMalformedBox is returned for a box2d that is not four finite,
	// in-range, ordered values. Boxes are never clamped.
	ErrMalformedBox = errors.New("malformed box2d")
	// ErrMalformedPoint is returned for an x/y pair outside the grid.
	ErrMalformedPoint = errors.New("malformed point")
	// ErrNoTarget is returned when neither a box nor a point was given.
	ErrNoTarget = errors.New("no target position")
	// ErrNoGeometry is returned when the display size is unknown.
	ErrNoGeometry = errors.New("display geometry unavailable")
)

// Geometry describes the primary display as captured alongside a screenshot.
// Width and Height are logical (DPI-scaled) units, PixelWidth and PixelHeight
// are raster pixels, OriginX and OriginY place the display in the virtual desktop.
type Geometry struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	PixelWidth  int `json:"pixel_width"`
	PixelHeight int `json:"pixel_height"`
	OriginX     int `json:"origin_x"`
	OriginY     int `json:"origin_y"`
}

// Valid reports whether the logical size is usable.
func (g Geometry) Valid() bool { return g.Width > 0 && g.Height > 0 }

// Scale returns the raster-per-logical factors. They are 1 when sizes agree
// or the raster size is unknown.
func (g Geometry) Scale() (float64, float64) {
	sx, sy := 1.0, 1.0
	if g.Width > 0 && g.PixelWidth > 0 {
		sx = float64(g.PixelWidth) / float64(g.Width)
	}
	if g.Height > 0 && g.PixelHeight > 0 {
		sy = float64(g.PixelHeight) / float64(g.Height)
	}
	return sx, sy
}

// Point is an absolute logical screen position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// MapTarget resolves a target to a screen point. A box wins over a point
// when both are present.
func MapTarget(t action.Target, g Geometry) (Point, error) {
	if t.Box != nil {
		return MapBox(t.Box, g)
	}
	if t.X != nil && t.Y != nil {
		return MapPoint(*t.X, *t.Y, g)
	}
	return Point{}, ErrNoTarget
}

// MapBox maps the center of a [ymin, xmin, ymax, xmax] box.
func MapBox(box []float64, g Geometry) (Point, error) {
	if err := ValidateBox(box); err != nil {
		return Point{}, err
	}
	ymin, xmin, ymax, xmax := box[0], box[1], box[2], box[3]
	return project(xmin+(xmax-xmin)/2, ymin+(ymax-ymin)/2, g)
}

// MapPoint maps a normalized x/y pair.
func MapPoint(x, y float64, g Geometry) (Point, error) {
	if !inGrid(x) || !inGrid(y) {
		return Point{}, fmt.Errorf("%w: (%v, %v) outside [0, %v]", ErrMalformedPoint, x, y, GridMax)
	}
	return project(x, y, g)
}

// ValidateBox checks length, finiteness, range and ordering.
func ValidateBox(box []float64) error {
	if len(box) != 4 {
		return fmt.Errorf("%w: want 4 values [ymin, xmin, ymax, xmax], got %d", ErrMalformedBox, len(box))
	}
	for i, v := range box {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: value %d is not a finite number", ErrMalformedBox, i)
		}
		if !inGrid(v) {
			return fmt.Errorf("%w: value %d (%v) outside [0, %v]", ErrMalformedBox, i, v, GridMax)
		}
	}
	if box[2] < box[0] || box[3] < box[1] {
		return fmt.Errorf("%w: max edge before min edge in %v", ErrMalformedBox, box)
	}
	return nil
}

// project applies round(c/1000 * size) + origin on each axis. The origin is
// added after rounding.
func project(cx, cy float64, g Geometry) (Point, error) {
	if !g.Valid() {
		return Point{}, ErrNoGeometry
	}
	x := int(math.Round(cx/GridMax*float64(g.Width))) + g.OriginX
	y := int(math.Round(cy/GridMax*float64(g.Height))) + g.OriginY
	return Point{X: x, Y: y}, nil
}

// ToRaster converts a logical position relative to the display origin into
// raster pixel coordinates of the captured image.
func ToRaster(x, y int, g Geometry) (int, int) {
	sx, sy := g.Scale()
	return int(math.Round(float64(x) * sx)), int(math.Round(float64(y) * sy))
}

func inGrid(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= GridMax
}
