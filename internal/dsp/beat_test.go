// SPDX-License-Identifier: MIT
package dsp

import "testing"

func TestBeatDetector(t *testing.T) {
	tests := []struct {
		name     string
		energies []float64
		want     []bool
	}{
		{"Silence", []float64{0, 0, 0}, []bool{false, false, false}},
		{"First loud frame", []float64{0.5}, []bool{true}},
		{"Sustained level no retrigger", []float64{0.5, 0.5, 0.5}, []bool{true, false, false}},
		{"Jump retriggers", []float64{0.2, 0.8}, []bool{true, true}},
		{"Below threshold never triggers", []float64{0.05, 0.1, 0.14}, []bool{false, false, false}},
		{"Slow swell no trigger", []float64{0.3, 0.35, 0.4}, []bool{true, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewBeatDetector(0.15, 1.5)
			for i, e := range tt.energies {
				got := d.Detect(e)
				if got != tt.want[i] {
					t.Errorf("Detect(%f) [frame %d] = %v, want %v", e, i, got, tt.want[i])
				}
			}
		})
	}
}

func TestBeatDetectorReset(t *testing.T) {
	d := NewBeatDetector(0.15, 1.5)

	d.Detect(0.5)
	if d.Detect(0.5) {
		t.Fatal("sustained level should not retrigger")
	}

	// After a reset the same level counts as a fresh onset again.
	d.Reset()
	if !d.Detect(0.5) {
		t.Error("expected onset after Reset")
	}
}
