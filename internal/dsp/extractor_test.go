// SPDX-License-Identifier: MIT
package dsp

import (
	"math"
	"testing"
	"time"

	"visualizer/internal/config"
	"visualizer/pkg/wavegen"
)

const (
	testFFTSize    = 1024
	testSampleRate = 44100.0
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Audio.SampleRate = testSampleRate
	cfg.Audio.FramesPerBuffer = testFFTSize
	cfg.Visual.BandCount = 16
	cfg.Visual.DecayFactor = 0.8
	return cfg
}

func newTestExtractor(t *testing.T, cfg *config.Config) *Extractor {
	t.Helper()
	e, err := NewExtractor(cfg, testFFTSize)
	if err != nil {
		t.Fatalf("NewExtractor() error = %v", err)
	}
	return e
}

func TestNewExtractorRejectsBadFFTSize(t *testing.T) {
	tests := []struct {
		name    string
		fftSize int
	}{
		{"Zero", 0},
		{"Negative", -4},
		{"Not power of two", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExtractor(testConfig(), tt.fftSize); err == nil {
				t.Errorf("NewExtractor(fftSize=%d) expected error, got nil", tt.fftSize)
			}
		})
	}
}

func TestProcessBoundedOutput(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	buffers := [][]float64{
		wavegen.Silence(testFFTSize),
		wavegen.Sine(testFFTSize, testSampleRate, 440),
		wavegen.Complex(testFFTSize, testSampleRate),
	}
	// A buffer hot enough to push every normalization stage past 1.
	loud := make([]float64, testFFTSize)
	for i := range loud {
		loud[i] = 0.999
	}
	buffers = append(buffers, loud)

	for _, buf := range buffers {
		fv := e.Process(buf, time.Now(), false)

		if len(fv.Bands) != 16 {
			t.Fatalf("band count = %d, want 16", len(fv.Bands))
		}
		for i, v := range fv.Bands {
			if math.IsNaN(v) || v < 0 || v > 1 {
				t.Errorf("band[%d] = %f out of [0,1]", i, v)
			}
		}
		if math.IsNaN(fv.Loudness) || fv.Loudness < 0 || fv.Loudness > 1 {
			t.Errorf("loudness = %f out of [0,1]", fv.Loudness)
		}
	}
}

func TestSineEnergyLandsInExpectedBand(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	// 440Hz should dominate a low-middle band, not the top ones.
	fv := e.Process(wavegen.Sine(testFFTSize, testSampleRate, 440), time.Now(), false)
	peak := wavegen.PeakIndex(fv.Bands, 0, len(fv.Bands)-1)

	if peak >= len(fv.Bands)/2 {
		t.Errorf("440Hz peak band = %d, expected below %d", peak, len(fv.Bands)/2)
	}
	if fv.Bands[peak] == 0 {
		t.Error("expected non-zero energy in peak band")
	}
}

func TestDecayMonotonicity(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	// Drive smoothing state up with a loud frame, then feed silence and
	// verify each band falls by exactly decayFactor per frame.
	e.Process(wavegen.Complex(testFFTSize, testSampleRate), time.Now(), false)

	prev := make([]float64, 16)
	copy(prev, e.workspace.smoothed)

	fv := e.Process(wavegen.Silence(testFFTSize), time.Now(), false)
	for i, v := range fv.Bands {
		want := prev[i] * 0.8
		if math.Abs(v-want) > 1e-12 {
			t.Errorf("band[%d] = %.15f after silent frame, want %.15f", i, v, want)
		}
	}
}

func TestRiseImmediacy(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	// From empty smoothing state, a frame's smoothed values must equal
	// its raw values exactly: rises never lag.
	fv := e.Process(wavegen.Complex(testFFTSize, testSampleRate), time.Now(), false)
	for i, v := range fv.Bands {
		if v != e.workspace.raw[i] {
			t.Errorf("band[%d] = %f, want raw value %f", i, v, e.workspace.raw[i])
		}
	}
}

func TestIdleConvergence(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	// Start all bands at 1 and run 10 idle frames with decayFactor 0.8:
	// every band must sit at 0.8^10 ≈ 0.107.
	for i := range e.workspace.smoothed {
		e.workspace.smoothed[i] = 1.0
	}

	var fv FeatureVector
	for range 10 {
		fv = e.Process(wavegen.Silence(testFFTSize), time.Now(), false)
	}

	want := math.Pow(0.8, 10)
	for i, v := range fv.Bands {
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("band[%d] = %f after 10 idle frames, want %f", i, v, want)
		}
	}

	// And convergence to zero within a bounded number of frames.
	for range 200 {
		fv = e.Process(wavegen.Silence(testFFTSize), time.Now(), false)
	}
	for i, v := range fv.Bands {
		if v > 1e-9 {
			t.Errorf("band[%d] = %g, expected convergence to 0", i, v)
		}
	}
}

func TestDiscontinuityResetsSmoothing(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	// High-water mark from a loud frame.
	e.Process(wavegen.Complex(testFFTSize, testSampleRate), time.Now(), false)

	// A quiet frame after an underrun must show its raw values exactly,
	// not values decayed from the stale mark.
	quiet := wavegen.Sine(testFFTSize, testSampleRate, 440)
	for i := range quiet {
		quiet[i] *= 0.05
	}
	fv := e.Process(quiet, time.Now(), true)

	for i, v := range fv.Bands {
		if v != e.workspace.raw[i] {
			t.Errorf("band[%d] = %f after discontinuity, want raw %f", i, v, e.workspace.raw[i])
		}
	}
}

func TestProcessHotPath(t *testing.T) {
	e := newTestExtractor(t, testConfig())
	buf := wavegen.Complex(testFFTSize, testSampleRate)
	ts := time.Now()

	// Warm-up call so one-time setup does not count.
	e.Process(buf, ts, false)

	allocs := testing.AllocsPerRun(100, func() {
		e.Process(buf, ts, false)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Process hot path, got %.1f", allocs)
	}
}

func TestFrequencyForBin(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	tests := []struct {
		bin  int
		want float64
	}{
		{-1, 0},
		{0, 0},
		{1, testSampleRate / testFFTSize},
		{testFFTSize / 2, testSampleRate / 2},
		{testFFTSize, 0}, // Past the magnitude buffer
	}

	for _, tt := range tests {
		if got := e.FrequencyForBin(tt.bin); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FrequencyForBin(%d) = %f, want %f", tt.bin, got, tt.want)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	cfg := testConfig()
	e, err := NewExtractor(cfg, testFFTSize)
	if err != nil {
		b.Fatal(err)
	}
	buf := wavegen.Complex(testFFTSize, testSampleRate)
	ts := time.Now()

	b.ReportAllocs()
	for b.Loop() {
		e.Process(buf, ts, false)
	}
}
