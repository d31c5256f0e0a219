// SPDX-License-Identifier: MIT
/*
Package dsp transforms capture frames into bounded feature vectors:
- Windowed FFT magnitude spectrum (gonum dsp/fourier, dsp/window)
- Aggregation into logarithmically spaced frequency bands
- RMS loudness normalized against a configured reference level
- Peak-hold decay smoothing: rises are instantaneous, falls decay at
  decayFactor per frame

All buffers are pre-allocated; Process performs no allocations.
*/
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"visualizer/internal/config"
	applog "visualizer/internal/log"
)

// FeatureVector is the per-frame output of the extractor. Bands has a
// fixed length for the lifetime of the extractor; every value and the
// loudness are in [0,1], never NaN. The slice aliases internal state
// and is valid until the next Process call.
type FeatureVector struct {
	Bands     []float64
	Loudness  float64
	Onset     bool
	Timestamp time.Time
}

// bandRange is the half-open FFT bin range [lo, hi) aggregated into one
// band.
type bandRange struct {
	lo, hi int
}

// workspace holds the pre-allocated buffers for extraction.
type workspace struct {
	input     []float64    // Windowed input signal
	fftOutput []complex128 // FFT complex results
	magnitude []float64    // Calculated magnitudes
	window    []float64    // Pre-calculated window coefficients
	raw       []float64    // Per-band raw values before smoothing
	smoothed  []float64    // Per-band values after peak-hold decay
}

// Extractor computes FeatureVectors from capture frames.
type Extractor struct {
	fftCalculator *fourier.FFT
	fftSize       int
	sampleRate    float64
	decayFactor   float64
	refLevel      float64
	bands         []bandRange
	workspace     workspace
	beats         *BeatDetector
}

// NewExtractor builds an extractor for the configured band count,
// decay factor and reference level. fftSize must be a power of 2 and
// at least the capture buffer size.
func NewExtractor(cfg *config.Config, fftSize int) (*Extractor, error) {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}

	windowType, err := ParseWindowFunc(cfg.Visual.Window)
	if err != nil {
		return nil, err
	}

	sampleRate := cfg.Audio.SampleRate
	bandCount := cfg.Visual.BandCount

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	// FFT output size for real input is N/2 + 1 complex values.
	magnitudeSize := fftSize/2 + 1

	applog.Infof("DSP: initializing extractor (FFT: %d, %.1f Hz, %d bands, decay %.2f)",
		fftSize, sampleRate, bandCount, cfg.Visual.DecayFactor)

	e := &Extractor{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		decayFactor:   cfg.Visual.DecayFactor,
		refLevel:      cfg.Visual.ReferenceLevel,
		bands:         bandEdges(bandCount, fftSize, sampleRate),
		workspace: workspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    windowCoeffs,
			raw:       make([]float64, bandCount),
			smoothed:  make([]float64, bandCount),
		},
		beats: NewBeatDetector(0.15, 1.5),
	}
	return e, nil
}

// bandEdges precomputes the FFT bin range for each logarithmically
// spaced band between BandLowHz and min(BandHighHz, Nyquist). Bin 0
// (DC) is excluded.
func bandEdges(bandCount, fftSize int, sampleRate float64) []bandRange {
	freqRes := sampleRate / float64(fftSize)
	maxBin := fftSize / 2

	low := config.BandLowHz
	high := math.Min(sampleRate/2, config.BandHighHz)

	edges := make([]bandRange, bandCount)
	for i := range edges {
		f0 := low * math.Pow(high/low, float64(i)/float64(bandCount))
		f1 := low * math.Pow(high/low, float64(i+1)/float64(bandCount))

		lo := int(f0 / freqRes)
		hi := int(f1 / freqRes)
		if lo < 1 {
			lo = 1
		}
		if hi > maxBin {
			hi = maxBin
		}
		if hi <= lo {
			hi = lo + 1
		}
		edges[i] = bandRange{lo: lo, hi: hi}
	}
	return edges
}

// Process extracts a FeatureVector from one frame. If discontinuity is
// true (underrun, timeout, session resume) the smoothing state resets
// first, so the returned bands equal the raw values exactly rather than
// decaying from a stale high-water mark.
func (e *Extractor) Process(samples []float64, ts time.Time, discontinuity bool) FeatureVector {
	if discontinuity {
		e.Reset()
	}

	ws := &e.workspace

	// --- 1. Window the input, zero-padding to fftSize ---
	inputLen := len(samples)
	var sumSquare float64
	for i := range e.fftSize {
		if i < inputLen {
			s := samples[i]
			ws.input[i] = s * ws.window[i]
			sumSquare += s * s
		} else {
			ws.input[i] = 0
		}
	}

	// --- 2. FFT and magnitudes ---
	e.fftCalculator.Coefficients(ws.fftOutput, ws.input)
	for i, c := range ws.fftOutput {
		ws.magnitude[i] = cmplx.Abs(c)
	}

	// --- 3. Aggregate magnitudes into bands, normalize, clamp ---
	// Magnitudes scale with fftSize/2 for a full-scale sine, so 2/N
	// brings the average back to signal amplitude before the reference
	// level normalization and the perceptual log curve.
	ampScale := 2.0 / float64(e.fftSize)
	for i, band := range e.bands {
		var sum float64
		for bin := band.lo; bin < band.hi; bin++ {
			sum += ws.magnitude[bin]
		}
		avg := sum / float64(band.hi-band.lo)

		linear := avg * ampScale / e.refLevel
		ws.raw[i] = clampUnit(math.Log10(1 + linear*9))
	}

	// --- 4. Peak-hold decay smoothing ---
	// Rises are instantaneous; falls decay at decayFactor per frame.
	for i, raw := range ws.raw {
		decayed := ws.smoothed[i] * e.decayFactor
		if raw > decayed {
			ws.smoothed[i] = raw
		} else {
			ws.smoothed[i] = decayed
		}
	}

	// --- 5. Loudness and onset ---
	var rms float64
	if inputLen > 0 {
		rms = math.Sqrt(sumSquare / float64(inputLen))
	}
	loudness := clampUnit(rms / e.refLevel)

	return FeatureVector{
		Bands:     ws.smoothed,
		Loudness:  loudness,
		Onset:     e.beats.Detect(loudness),
		Timestamp: ts,
	}
}

// Reset clears the smoothing and onset state. Called on discontinuities
// and on session resume so the next frame shows raw values.
func (e *Extractor) Reset() {
	for i := range e.workspace.smoothed {
		e.workspace.smoothed[i] = 0
	}
	e.beats.Reset()
}

// BandCount returns the fixed number of bands for this extractor.
func (e *Extractor) BandCount() int {
	return len(e.bands)
}

// FrequencyForBin returns the center frequency (Hz) for an FFT bin.
func (e *Extractor) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(e.workspace.fftOutput) {
		return 0
	}
	return float64(binIndex) * (e.sampleRate / float64(e.fftSize))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
