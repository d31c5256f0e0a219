// SPDX-License-Identifier: MIT
package visual

import (
	"math"
	"time"

	"visualizer/internal/config"
	"visualizer/internal/dsp"
)

// Mapper turns feature vectors into ParameterSets for the active mode.
// All transfer functions are fixed, monotonic in their input feature
// and clamped to the documented ranges: louder input can never push a
// coefficient out of its stable range.
//
// Mapper is confined to the pipeline goroutine; it is not safe for
// concurrent use.
type Mapper struct {
	mode        Mode
	barCount    int
	sensitivity float64

	// settleFactor is the per-tick decay applied by MapIdle, derived so
	// a value settles to ~1% of its distance from idle over the
	// configured settle duration.
	settleFactor float64

	phase float64
	last  ParameterSet
}

// NewMapper builds a mapper from the visual configuration. idleTick is
// the cadence at which MapIdle will be called while capture is
// unavailable.
func NewMapper(cfg *config.Config, mode Mode, idleTick time.Duration) *Mapper {
	settle := cfg.Visual.Settle
	if settle <= 0 {
		settle = config.DefaultSettle
	}
	factor := math.Pow(0.01, float64(idleTick)/float64(settle))

	return &Mapper{
		mode:         mode,
		barCount:     cfg.Visual.BarCount,
		sensitivity:  cfg.Visual.Sensitivity,
		settleFactor: factor,
		last:         IdleParameterSet(mode, cfg.Visual.BarCount),
	}
}

// Mode returns the mode this mapper produces parameters for.
func (m *Mapper) Mode() Mode {
	return m.mode
}

// Idle returns the resting ParameterSet for this mapper's mode.
func (m *Mapper) Idle() ParameterSet {
	return IdleParameterSet(m.mode, m.barCount)
}

// Map produces the ParameterSet for one feature vector.
func (m *Mapper) Map(fv dsp.FeatureVector) ParameterSet {
	ps := ParameterSet{Mode: m.mode, Timestamp: fv.Timestamp}
	switch m.mode {
	case ModeFractal:
		ps.Fractal = m.mapFractal(fv)
	default:
		ps.Equalizer = m.mapEqualizer(fv)
	}
	m.last = ps
	return ps
}

// mapEqualizer maps bands onto bars: one-to-one when the counts match,
// otherwise by linear interpolation across band indices. Deterministic,
// no randomness.
func (m *Mapper) mapEqualizer(fv dsp.FeatureVector) EqualizerParams {
	bars := make([]float64, m.barCount)
	bands := fv.Bands

	switch {
	case len(bands) == 0:
		// Leave bars at zero.
	case len(bands) == m.barCount:
		for i, v := range bands {
			bars[i] = clamp01(v * m.sensitivity)
		}
	default:
		step := 0.0
		if m.barCount > 1 {
			step = float64(len(bands)-1) / float64(m.barCount-1)
		}
		for i := range bars {
			pos := float64(i) * step
			lo := int(pos)
			frac := pos - float64(lo)
			v := bands[lo]
			if frac > 0 && lo+1 < len(bands) {
				v = bands[lo]*(1-frac) + bands[lo+1]*frac
			}
			bars[i] = clamp01(v * m.sensitivity)
		}
	}
	return EqualizerParams{Bars: bars}
}

// mapFractal drives the fractal coefficients from loudness and the
// low/high aggregate band magnitudes:
//   - iteration depth rises with loudness
//   - zoom rises with bass energy
//   - deformation rises with treble energy
//   - rotation phase drifts continuously, faster with treble, with a
//     kick on onsets
func (m *Mapper) mapFractal(fv dsp.FeatureVector) FractalParams {
	loud := clamp01(fv.Loudness * m.sensitivity)
	low := clamp01(bandAverage(fv.Bands, 0, len(fv.Bands)/3) * m.sensitivity)
	high := clamp01(bandAverage(fv.Bands, (2*len(fv.Bands))/3, len(fv.Bands)) * m.sensitivity)

	iter := FractalBaseIterations + int(loud*float64(FractalMaxIterations-FractalBaseIterations))
	zoom := FractalBaseZoom + low*(FractalMaxZoom-FractalBaseZoom)
	deform := FractalBaseDeform + high*(FractalMaxDeform-FractalBaseDeform)

	m.phase += fractalPhaseDrift + high*fractalPhaseRate
	if fv.Onset {
		m.phase += fractalPhaseKick
	}
	m.phase = math.Mod(m.phase, 2*math.Pi)

	return FractalParams{
		Iterations: clampInt(iter, FractalMinIterations, FractalMaxIterations),
		Zoom:       clamp(zoom, FractalMinZoom, FractalMaxZoom),
		Phase:      m.phase,
		Deform:     clamp(deform, FractalMinDeform, FractalMaxDeform),
	}
}

// MapIdle produces the next step of the decaying-to-idle stream used
// while capture is unavailable. Values trend toward the resting set by
// settleFactor per tick instead of freezing or snapping to zero.
func (m *Mapper) MapIdle(now time.Time) ParameterSet {
	ps := ParameterSet{Mode: m.mode, Timestamp: now}

	switch m.mode {
	case ModeFractal:
		f := m.last.Fractal
		ps.Fractal = FractalParams{
			Iterations: settleInt(f.Iterations, FractalBaseIterations, m.settleFactor),
			Zoom:       settleToward(f.Zoom, FractalBaseZoom, m.settleFactor),
			Phase:      f.Phase, // Rotation holds still at rest.
			Deform:     settleToward(f.Deform, FractalBaseDeform, m.settleFactor),
		}
	default:
		bars := make([]float64, m.barCount)
		for i := range bars {
			if i < len(m.last.Equalizer.Bars) {
				bars[i] = settleToward(m.last.Equalizer.Bars[i], 0, m.settleFactor)
			}
		}
		ps.Equalizer = EqualizerParams{Bars: bars}
	}

	m.last = ps
	return ps
}

// bandAverage averages bands[lo:hi), clamped to the slice bounds.
func bandAverage(bands []float64, lo, hi int) float64 {
	if lo < 0 {
		lo = 0
	}
	if hi > len(bands) {
		hi = len(bands)
	}
	if hi <= lo {
		return 0
	}
	var sum float64
	for _, v := range bands[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}

// settleToward moves v toward target by the settle factor, snapping
// once the distance is visually negligible.
func settleToward(v, target, factor float64) float64 {
	d := (v - target) * factor
	if math.Abs(d) < 1e-4 {
		return target
	}
	return target + d
}

func settleInt(v, target int, factor float64) int {
	d := float64(v-target) * factor
	if math.Abs(d) < 0.5 {
		return target
	}
	return target + int(d)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
