// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the visualization pipeline.
const (
	// Default values for the audio capture configuration.
	DefaultChannels        = 1           // Mono input
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultFramesPerBuffer = 1024        // Balanced latency/FFT resolution
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 44100       // CD-quality audio

	// Default values for the feature extraction and mapping stages.
	DefaultBandCount      = 16     // Log-spaced frequency bands
	DefaultBarCount       = 16     // Visual equalizer bars
	DefaultDecayFactor    = 0.8    // Per-frame fall rate, (0,1)
	DefaultSensitivity    = 1.0    // Feature-to-coefficient gain
	DefaultReferenceLevel = 0.25   // Full-scale RMS reference
	DefaultWindow         = "hann" // FFT window function
	DefaultMode           = "equalizer"

	// Settle duration for the idle decay when capture is unavailable.
	DefaultSettle = 1500 * time.Millisecond

	// Hardware and processing limits.
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxBandCount    = 256    // Upper bound on configured bands/bars
)

// Band frequency range aggregated by the extractor. The upper edge is
// additionally capped at the Nyquist frequency of the capture rate.
const (
	BandLowHz  = 30.0
	BandHighHz = 18000.0
)
