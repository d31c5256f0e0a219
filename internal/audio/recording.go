// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"sync/atomic"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "visualizer/internal/log"
)

// Tap writes the raw capture stream to a WAV file while the pipeline
// runs, for offline tuning of band and decay constants. It is fed from
// the capture callback, so write buffers are pre-allocated.
type Tap struct {
	file    *os.File
	encoder *wav.Encoder
	buf     *gaudio.IntBuffer
}

// StartRecording attaches a WAV tap to the capture stream.
// Returns an error if a tap is already active.
func (s *Source) StartRecording(filename string) error {
	if atomic.LoadInt32(&s.recording) == 1 {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	bitDepth := s.cfg.Recording.BitDepth
	if bitDepth == 0 {
		bitDepth = 32
	}

	channels := s.cfg.Audio.Channels
	sampleRate := int(s.cfg.Audio.SampleRate)

	s.tap = &Tap{
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, bitDepth, channels, 1),
		buf: &gaudio.IntBuffer{
			Format: &gaudio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data: make([]int, s.cfg.Audio.FramesPerBuffer*channels),
		},
	}

	atomic.StoreInt32(&s.recording, 1)
	applog.Infof("Audio: recording capture tap to %s", filename)
	return nil
}

// StopRecording detaches the tap and finalizes the WAV file.
// A no-op when no tap is active.
func (s *Source) StopRecording() error {
	if atomic.SwapInt32(&s.recording, 0) == 0 {
		return nil
	}

	tap := s.tap
	s.tap = nil
	if tap == nil {
		return nil
	}

	if err := tap.encoder.Close(); err != nil {
		return err
	}
	return tap.file.Close()
}

// write appends one capture buffer to the WAV file. Runs inside the
// capture callback.
func (t *Tap) write(in []int32) {
	t.buf.Data = t.buf.Data[:cap(t.buf.Data)]
	n := len(in)
	if n > len(t.buf.Data) {
		n = len(t.buf.Data)
	}
	for i := 0; i < n; i++ {
		t.buf.Data[i] = int(in[i])
	}
	t.buf.Data = t.buf.Data[:n]

	if err := t.encoder.Write(t.buf); err != nil {
		applog.Errorf("Audio: error writing capture tap: %v", err)
	}
}
