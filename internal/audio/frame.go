// SPDX-License-Identifier: MIT
package audio

import "time"

// Frame is one capture buffer handed from the source to the extraction
// stage. Samples are mono, normalized to [-1, 1). A frame is immutable
// once produced and owned by whichever stage last received it; when the
// consumer is done it should hand the frame back via Source.Recycle.
//
// Seq increases by exactly 1 per captured buffer. A gap between
// consecutive frames seen by the consumer means buffers were dropped
// (underrun) and smoothing state must treat the next frame as a
// discontinuity.
type Frame struct {
	Samples    []float64
	SampleRate float64
	Seq        uint64
	Timestamp  time.Time
}
