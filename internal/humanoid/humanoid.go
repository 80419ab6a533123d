// Package humanoid renders pointer motion the way a hand on a mouse would:
// eased cubic Bezier paths with a small lateral bow and Perlin drift, timed
// by Fitts's law. It also owns the canonical key table used by the actuator.
package humanoid

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// targetWidth is the assumed target width (W) in pixels for Fitts's law.
const targetWidth = 30.0

// Executor is the low-level surface a Humanoid drives. Press and Release act
// on the left button.
type Executor interface {
	// Sleep pauses execution, respecting context cancellation.
	Sleep(ctx context.Context, d time.Duration) error
	MoveMouse(ctx context.Context, x, y int) error
	Press(ctx context.Context) error
	Release(ctx context.Context) error
}

// Humanoid generates and plays back pointer trajectories.
type Humanoid struct {
	cfg      config.HumanoidConfig
	executor Executor
	logger   *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// New creates a Humanoid. A zero cfg.Seed seeds from the clock.
func New(cfg config.HumanoidConfig, executor Executor, logger *zap.Logger) *Humanoid {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.MaxSteps < 2 {
		cfg.MaxSteps = 2
	}

	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)

	return &Humanoid{
		cfg:      cfg,
		executor: executor,
		logger:   logger.Named("humanoid"),
		rng:      rand.New(rand.NewSource(seed)),
		noiseX:   perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:   perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// MoveTo glides the pointer from start to end. The last event always lands
// exactly on end.
func (h *Humanoid) MoveTo(ctx context.Context, start, end Vector2D) error {
	if !h.cfg.Enabled {
		x, y := end.Round()
		return h.executor.MoveMouse(ctx, x, y)
	}

	path := h.Path(start, end)
	duration := h.movementTime(start.Dist(end))
	step := time.Duration(0)
	if len(path) > 1 {
		step = duration / time.Duration(len(path)-1)
	}

	for i, p := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && step > 0 {
			if err := h.executor.Sleep(ctx, step); err != nil {
				return err
			}
		}
		x, y := p.Round()
		if err := h.executor.MoveMouse(ctx, x, y); err != nil {
			return fmt.Errorf("humanoid: pointer move to (%d, %d) failed: %w", x, y, err)
		}
	}
	return nil
}

// Drag moves to start, presses the left button, glides to end and releases.
// The button is released even when the glide fails.
func (h *Humanoid) Drag(ctx context.Context, from, start, end Vector2D) (err error) {
	if err := h.MoveTo(ctx, from, start); err != nil {
		return err
	}
	if err := h.executor.Press(ctx); err != nil {
		return fmt.Errorf("humanoid: button press failed: %w", err)
	}
	defer func() {
		// Release on a fresh context so a cancelled drag never leaves the button held.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if relErr := h.executor.Release(releaseCtx); relErr != nil {
			h.logger.Warn("Failed to release button after drag.", zap.Error(relErr))
			if err == nil {
				err = fmt.Errorf("humanoid: button release failed: %w", relErr)
			}
		}
	}()

	if err := h.executor.Sleep(ctx, h.cfg.PressPause); err != nil {
		return err
	}
	if err := h.MoveTo(ctx, start, end); err != nil {
		return err
	}
	return h.executor.Sleep(ctx, h.cfg.PressPause)
}

// Pause sleeps for a uniformly random duration in [min, max].
func (h *Humanoid) Pause(ctx context.Context, min, max time.Duration) error {
	if max < min {
		min, max = max, min
	}
	d := min
	if span := max - min; span > 0 {
		h.mu.Lock()
		d += time.Duration(h.rng.Int63n(int64(span) + 1))
		h.mu.Unlock()
	}
	return h.executor.Sleep(ctx, d)
}

// Path returns the sampled trajectory from start to end, excluding start and
// ending exactly at end.
func (h *Humanoid) Path(start, end Vector2D) []Vector2D {
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	steps := h.stepCount(dist)
	if dist < 1.0 || steps <= 1 {
		return []Vector2D{end}
	}

	dir := mainVec.Normalize()
	normal := dir.Perp()

	h.mu.Lock()
	dev1 := (h.rng.Float64()*2 - 1) * h.cfg.CurveDeviation * dist
	dev2 := (h.rng.Float64()*2 - 1) * h.cfg.CurveDeviation * dist
	phase := h.rng.Float64() * 100
	h.mu.Unlock()

	p0, p3 := start, end
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(normal.Mul(dev1))
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(normal.Mul(dev2))

	path := make([]Vector2D, 0, steps)
	for i := 1; i <= steps; i++ {
		if i == steps {
			path = append(path, end)
			break
		}
		t := computeEaseInOutCubic(float64(i) / float64(steps))
		omt := 1.0 - t
		p := p0.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * t)).
			Add(p2.Mul(3 * omt * t * t)).
			Add(p3.Mul(t * t * t))

		// Drift fades out at both ends of the path.
		envelope := math.Sin(math.Pi * t)
		drift := Vector2D{
			X: h.noiseX.Noise1D(phase+t*4) * h.cfg.PerlinAmplitude * envelope,
			Y: h.noiseY.Noise1D(phase+t*4) * h.cfg.PerlinAmplitude * envelope,
		}
		path = append(path, p.Add(drift))
	}
	return path
}

func (h *Humanoid) stepCount(dist float64) int {
	steps := int(h.movementTime(dist) / (10 * time.Millisecond))
	if steps < 2 {
		steps = 2
	}
	if steps > h.cfg.MaxSteps {
		steps = h.cfg.MaxSteps
	}
	return steps
}

// movementTime is MT = A + B * log2(1 + D/W) with +/- 15% jitter.
func (h *Humanoid) movementTime(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/targetWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id

	h.mu.Lock()
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	h.mu.Unlock()

	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// computeEaseInOutCubic gives a smooth acceleration and deceleration profile.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
