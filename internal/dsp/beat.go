// SPDX-License-Identifier: MIT
package dsp

// BeatDetector flags frames whose loudness jumps sharply relative to
// the previous frame. The onset flag rides on the FeatureVector and
// lets the fractal mapper kick its rotation phase on hits.
type BeatDetector struct {
	threshold  float64 // Minimum loudness for any detection
	minRatio   float64 // Minimum loudness ratio increase to trigger
	lastEnergy float64
}

// NewBeatDetector creates a detector. Typical values: threshold 0.15,
// minRatio 1.5.
func NewBeatDetector(threshold, minRatio float64) *BeatDetector {
	return &BeatDetector{
		threshold: threshold,
		minRatio:  minRatio,
	}
}

// Detect reports whether this frame's loudness constitutes an onset.
func (d *BeatDetector) Detect(energy float64) bool {
	onset := energy > d.threshold &&
		(d.lastEnergy == 0 || energy/d.lastEnergy > d.minRatio)
	d.lastEnergy = energy
	return onset
}

// Reset clears the energy history, e.g. across a capture discontinuity.
func (d *BeatDetector) Reset() {
	d.lastEnergy = 0
}
