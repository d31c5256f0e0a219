// SPDX-License-Identifier: MIT

// Package wavegen generates synthetic audio buffers for tests and for
// driving the pipeline without a live input device.
package wavegen

import "math"

// Sine fills a buffer of the given size with a single sine tone,
// normalized to [-0.9, 0.9].
func Sine(size int, sampleRate, frequency float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * 0.9
	}
	return buffer
}

// Complex fills a buffer with a 440Hz fundamental plus two harmonics,
// a signal with energy spread across several bands.
func Complex(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*t)*0.5 +
			math.Sin(2*math.Pi*880*t)*0.3 +
			math.Sin(2*math.Pi*1320*t)*0.2
		buffer[i] = signal * 0.9
	}
	return buffer
}

// Silence returns a zeroed buffer of the given size.
func Silence(size int) []float64 {
	return make([]float64, size)
}

// PeakIndex returns the index of the largest value in values[start:end].
// Out-of-range bounds are clamped; an empty slice returns 0.
func PeakIndex(values []float64, start, end int) int {
	if len(values) == 0 {
		return 0
	}
	if start < 0 {
		start = 0
	}
	if end >= len(values) {
		end = len(values) - 1
	}

	peak := start
	peakValue := values[start]
	for i := start + 1; i <= end; i++ {
		if values[i] > peakValue {
			peakValue = values[i]
			peak = i
		}
	}
	return peak
}
