// Package capture grabs the primary display, overlays a cursor marker and
// keeps a rolling set of PNG files on disk.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/coords"
)

const (
	// MarkerSize is the span of the cursor cross in raster pixels.
	MarkerSize      = 30
	markerThickness = 3

	filePrefix = "screenshot_"
	fileSuffix = ".png"
)

var (
	// ErrNoDisplay is returned when no active display is attached.
	ErrNoDisplay = errors.New("no active display")
	// ErrCaptureFailed wraps every failure to produce a screenshot.
	ErrCaptureFailed = errors.New("screen capture failed")
)

var markerColor = color.RGBA{R: 255, A: 255}

// Screenshot is one capture of the primary display.
type Screenshot struct {
	PNG      []byte
	Geometry coords.Geometry
	// CursorX and CursorY are absolute logical coordinates, valid when
	// CursorKnown is set.
	CursorX     int
	CursorY     int
	CursorKnown bool
	Timestamp   time.Time
	// Path is the file the capture was saved to, empty when not persisted.
	Path string
}

// Grabber reads pixels from the primary display.
type Grabber interface {
	// Grab returns the raster image and the display bounds in logical units.
	Grab(ctx context.Context) (*image.RGBA, image.Rectangle, error)
}

// CursorLocator reports the pointer position in absolute logical units.
type CursorLocator interface {
	CursorPosition(ctx context.Context) (int, int, error)
}

// ScreenGrabber captures display 0 with kbinani/screenshot.
type ScreenGrabber struct{}

func (ScreenGrabber) Grab(ctx context.Context) (*image.RGBA, image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, image.Rectangle{}, err
	}
	if screenshot.NumActiveDisplays() < 1 {
		return nil, image.Rectangle{}, ErrNoDisplay
	}
	bounds := screenshot.GetDisplayBounds(0)
	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return img, bounds, nil
}

// Capturer produces Screenshots.
type Capturer struct {
	cfg     config.CaptureConfig
	grabber Grabber
	cursor  CursorLocator
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Capturer. cursor may be nil, in which case the cursor is
// never marked.
func New(cfg config.CaptureConfig, grabber Grabber, cursor CursorLocator, logger *zap.Logger) *Capturer {
	if grabber == nil {
		grabber = ScreenGrabber{}
	}
	return &Capturer{
		cfg:     cfg,
		grabber: grabber,
		cursor:  cursor,
		logger:  logger.Named("capture"),
		now:     time.Now,
	}
}

// Capture grabs the primary display. With markCursor set, a red cross is
// drawn at the cursor's raster position.
func (c *Capturer) Capture(ctx context.Context, markCursor bool) (*Screenshot, error) {
	img, bounds, err := c.grabber.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if img == nil || bounds.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrCaptureFailed)
	}

	shot := &Screenshot{
		Geometry: coords.Geometry{
			Width:       bounds.Dx(),
			Height:      bounds.Dy(),
			PixelWidth:  img.Bounds().Dx(),
			PixelHeight: img.Bounds().Dy(),
			OriginX:     bounds.Min.X,
			OriginY:     bounds.Min.Y,
		},
		Timestamp: c.now(),
	}

	if c.cursor != nil {
		x, y, err := c.cursor.CursorPosition(ctx)
		if err != nil {
			c.logger.Debug("Cursor position unavailable.", zap.Error(err))
		} else {
			shot.CursorX, shot.CursorY, shot.CursorKnown = x, y, true
		}
	}

	if markCursor && shot.CursorKnown {
		mx, my := coords.ToRaster(shot.CursorX-shot.Geometry.OriginX, shot.CursorY-shot.Geometry.OriginY, shot.Geometry)
		img = drawCross(img, mx, my)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", ErrCaptureFailed, err)
	}
	shot.PNG = buf.Bytes()

	if c.cfg.Dir != "" {
		path, err := c.save(shot)
		if err != nil {
			// A save failure does not fail the capture.
			c.logger.Warn("Failed to save screenshot.", zap.Error(err))
		} else {
			shot.Path = path
		}
	}

	c.logger.Debug("Captured display.",
		zap.Int("width", shot.Geometry.Width),
		zap.Int("height", shot.Geometry.Height),
		zap.Int("pixel_width", shot.Geometry.PixelWidth),
		zap.Int("pixel_height", shot.Geometry.PixelHeight),
		zap.Bool("cursor_marked", markCursor && shot.CursorKnown))
	return shot, nil
}

// drawCross returns a copy of src with an axis-aligned cross centered on
// (x, y), clipped to the image.
func drawCross(src *image.RGBA, x, y int) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	half := MarkerSize / 2
	thick := markerThickness / 2
	x += b.Min.X
	y += b.Min.Y
	fill := image.NewUniform(markerColor)
	horizontal := image.Rect(x-half, y-thick, x+half+1, y+thick+1).Intersect(b)
	vertical := image.Rect(x-thick, y-half, x+thick+1, y+half+1).Intersect(b)
	draw.Draw(dst, horizontal, fill, image.Point{}, draw.Src)
	draw.Draw(dst, vertical, fill, image.Point{}, draw.Src)
	return dst
}

// FileName renders screenshot_YYYYMMDD_HHMMSS_ffffff.png for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s%s_%06d%s", filePrefix, t.Format("20060102_150405"), t.Nanosecond()/1000, fileSuffix)
}

func (c *Capturer) save(shot *Screenshot) (string, error) {
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}
	path := filepath.Join(c.cfg.Dir, FileName(shot.Timestamp))
	if err := os.WriteFile(path, shot.PNG, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if c.cfg.Keep > 0 {
		if err := c.prune(); err != nil {
			c.logger.Warn("Failed to prune old screenshots.", zap.Error(err))
		}
	}
	return path, nil
}

// prune removes all but the newest Keep screenshot files. Names sort
// chronologically.
func (c *Capturer) prune() error {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	if len(names) <= c.cfg.Keep {
		return nil
	}
	sort.Strings(names)
	var errs []error
	for _, n := range names[:len(names)-c.cfg.Keep] {
		if err := os.Remove(filepath.Join(c.cfg.Dir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
