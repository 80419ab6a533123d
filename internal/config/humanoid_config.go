// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, the tunables for pointer motion.
// Moves are rendered as eased Bezier paths whose duration follows Fitts's law,
// so drags and long jumps look like a hand on a mouse rather than a teleport.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// HumanoidConfig controls how the actuator moves the pointer between points.
type HumanoidConfig struct {
	// Enabled switches smooth motion on. When false the pointer jumps directly.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// FittsA and FittsB are the intercept and slope (ms) of the movement time
	// model MT = A + B * log2(1 + D/W).
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`

	// MaxSteps caps the number of intermediate pointer events per move.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`

	// CurveDeviation is the lateral control point offset as a fraction of distance.
	CurveDeviation float64 `mapstructure:"curve_deviation" yaml:"curve_deviation"`

	// PerlinAmplitude is the peak drift (pixels) added to intermediate points.
	PerlinAmplitude float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`

	// PressPause is held between pressing a button and starting a drag, and
	// again before release.
	PressPause time.Duration `mapstructure:"press_pause" yaml:"press_pause"`

	// Seed fixes the jitter source. Zero seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// setHumanoidDefaults registers the motion defaults with viper.
func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("input.humanoid.enabled", true)
	v.SetDefault("input.humanoid.fitts_a", 80.0)
	v.SetDefault("input.humanoid.fitts_b", 90.0)
	v.SetDefault("input.humanoid.max_steps", 40)
	v.SetDefault("input.humanoid.curve_deviation", 0.08)
	v.SetDefault("input.humanoid.perlin_amplitude", 1.5)
	v.SetDefault("input.humanoid.press_pause", "80ms")
	v.SetDefault("input.humanoid.seed", 0)
}
