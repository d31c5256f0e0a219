// SPDX-License-Identifier: MIT
/*
Package visual maps feature vectors into renderable parameter sets and
publishes them through a single atomically swapped snapshot.

ParameterSet is a tagged variant over the two visualization modes. The
mapping logic switches exhaustively on the mode; there is deliberately
no open-ended renderer hierarchy behind it.
*/
package visual

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects the active visualization.
type Mode int

const (
	ModeEqualizer Mode = iota
	ModeFractal
)

// String returns the mode's configuration name.
func (m Mode) String() string {
	switch m {
	case ModeEqualizer:
		return "equalizer"
	case ModeFractal:
		return "fractal"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string (case-insensitive) to a
// Mode. Returns ModeEqualizer and an error if the name is unknown.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "equalizer", "eq":
		return ModeEqualizer, nil
	case "fractal":
		return ModeFractal, nil
	default:
		return ModeEqualizer, fmt.Errorf("unknown visualization mode: %q", name)
	}
}

// Stable ranges for the fractal coefficients. Values outside these
// produce degenerate (blank or divergent) renders, so the mapper clamps
// every transfer function against them.
const (
	FractalMinIterations  = 8
	FractalBaseIterations = 24
	FractalMaxIterations  = 96

	FractalMinZoom  = 0.5
	FractalBaseZoom = 1.0
	FractalMaxZoom  = 2.5

	FractalMinDeform  = 0.0
	FractalBaseDeform = 0.0
	FractalMaxDeform  = 0.6

	// Phase advance per frame: a slow base drift plus a treble-driven
	// component, with an extra kick on onsets.
	fractalPhaseDrift = 0.01
	fractalPhaseRate  = 0.12
	fractalPhaseKick  = math.Pi / 8
)

// EqualizerParams holds one normalized height in [0,1] per visual bar.
type EqualizerParams struct {
	Bars []float64 `json:"bars"`
}

// FractalParams holds the fractal coefficients, each inside its
// documented stable range.
type FractalParams struct {
	Iterations int     `json:"iterations"` // [FractalMinIterations, FractalMaxIterations]
	Zoom       float64 `json:"zoom"`       // [FractalMinZoom, FractalMaxZoom]
	Phase      float64 `json:"phase"`      // [0, 2π)
	Deform     float64 `json:"deform"`     // [FractalMinDeform, FractalMaxDeform]
}

// ParameterSet is the tagged variant handed to renderers. Both payloads
// are always present on the wire; only the one matching Mode is
// meaningful. Published sets are immutable: the mapper allocates a
// fresh bar slice per set and never writes to a set after publishing.
type ParameterSet struct {
	Mode      Mode            `json:"mode"`
	Timestamp time.Time       `json:"timestamp"`
	Equalizer EqualizerParams `json:"equalizer"`
	Fractal   FractalParams   `json:"fractal"`
}

// IdleParameterSet returns the documented resting set for a mode: all
// bars at zero, fractal coefficients at their base values.
func IdleParameterSet(mode Mode, barCount int) ParameterSet {
	ps := ParameterSet{Mode: mode, Timestamp: time.Time{}}
	switch mode {
	case ModeFractal:
		ps.Fractal = FractalParams{
			Iterations: FractalBaseIterations,
			Zoom:       FractalBaseZoom,
			Phase:      0,
			Deform:     FractalBaseDeform,
		}
	default:
		ps.Equalizer = EqualizerParams{Bars: make([]float64, barCount)}
	}
	return ps
}
