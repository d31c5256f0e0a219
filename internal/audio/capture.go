// SPDX-License-Identifier: MIT
/*
Package audio implements the microphone capture source:
- PortAudio input stream with a pre-allocated callback hot path
- Frames handed to the processing stage through a small buffered channel
- Sequence numbering so consumers can detect dropped buffers
- Optional WAV tap of the raw input stream

Thread safety: the PortAudio callback runs on its own OS thread; the
only shared structures are the frame channel, a sync.Pool of sample
buffers and atomic counters.
*/
package audio

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"visualizer/internal/config"
	applog "visualizer/internal/log"
)

// frameChanDepth bounds how many frames can queue between the capture
// callback and the consumer. Only the latest values matter downstream,
// so this stays small; overflow drops the newest buffer and the
// sequence gap surfaces as an underrun.
const frameChanDepth = 4

// Source owns the microphone input stream and produces Frames.
type Source struct {
	cfg *config.Config

	device  *portaudio.DeviceInfo
	latency time.Duration
	stream  *portaudio.Stream

	frames chan Frame
	quit   chan struct{}

	started  atomic.Bool
	stopOnce sync.Once

	seq     atomic.Uint64
	dropped atomic.Uint64

	// waitTimeout is the bounded wait for NextFrame, derived from the
	// frame duration at startup.
	waitTimeout time.Duration

	bufPool sync.Pool

	// Recording state (capture tap).
	recording int32 // Atomic flag for thread-safe state
	tap       *Tap

	// Pre-allocated mono downmix scratch, used only inside the callback.
	monoScratch []float64
}

// NewSource resolves the configured input device and prepares a capture
// source. The stream is not opened until Start.
func NewSource(cfg *config.Config) (*Source, error) {
	device, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	latency := device.DefaultHighInputLatency
	if cfg.Audio.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	frameDur := time.Duration(float64(cfg.Audio.FramesPerBuffer) / cfg.Audio.SampleRate * float64(time.Second))
	waitTimeout := 8 * frameDur
	if waitTimeout < 100*time.Millisecond {
		waitTimeout = 100 * time.Millisecond
	}
	if waitTimeout > time.Second {
		waitTimeout = time.Second
	}

	frames := cfg.Audio.FramesPerBuffer
	s := &Source{
		cfg:         cfg,
		device:      device,
		latency:     latency,
		frames:      make(chan Frame, frameChanDepth),
		quit:        make(chan struct{}),
		waitTimeout: waitTimeout,
		monoScratch: make([]float64, frames),
	}
	s.bufPool.New = func() any {
		buf := make([]float64, frames)
		return &buf
	}

	applog.Infof("Audio: capture source ready (device %q, %.0f Hz, %d frames, latency %s)",
		device.Name, cfg.Audio.SampleRate, frames, latency)
	return s, nil
}

// Start opens the input stream and begins delivering frames. The first
// successful Start marks the beginning of the capture hot path.
func (s *Source) Start() error {
	if s.started.Load() {
		return nil
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: s.cfg.Audio.Channels,
			Device:   s.device,
			Latency:  s.latency,
		},
		FramesPerBuffer: s.cfg.Audio.FramesPerBuffer,
		SampleRate:      s.cfg.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.processInput)
	if err != nil {
		return fmt.Errorf("%w: open stream: %v", ErrDeviceUnavailable, err)
	}
	s.stream = stream

	if err := s.stream.Start(); err != nil {
		s.stream.Close()
		s.stream = nil
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}

	s.started.Store(true)
	return nil
}

// Stop closes the input stream and cancels any outstanding NextFrame
// call. Safe to call concurrently with NextFrame and more than once.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})

	if !s.started.Swap(false) {
		return
	}

	// Finalize the WAV tap before the stream closes so the header gets
	// written even when the source is discarded mid-session.
	if err := s.StopRecording(); err != nil {
		applog.Warnf("Audio: error finalizing recording: %v", err)
	}

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			applog.Warnf("Audio: error stopping stream: %v", err)
		}
		if err := s.stream.Close(); err != nil {
			applog.Warnf("Audio: error closing stream: %v", err)
		}
		s.stream = nil
	}

	if dropped := s.dropped.Load(); dropped > 0 {
		applog.Infof("Audio: %d frames dropped during capture", dropped)
	}
}

// NextFrame blocks until the next captured frame is available, the wait
// times out, or the source is stopped. Frames come out in strict
// sequence order; a Seq gap means intermediate buffers were dropped.
func (s *Source) NextFrame() (Frame, error) {
	// Fast path first so a pending Stop still drains buffered frames
	// deterministically in tests.
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}

	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()

	select {
	case f := <-s.frames:
		return f, nil
	case <-s.quit:
		return Frame{}, ErrCancelled
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

// Recycle returns a consumed frame's buffer to the pool. Callers must
// not touch the frame after recycling it.
func (s *Source) Recycle(f Frame) {
	if f.Samples == nil || cap(f.Samples) != s.cfg.Audio.FramesPerBuffer {
		return
	}
	buf := f.Samples[:cap(f.Samples)]
	s.bufPool.Put(&buf)
}

// Dropped reports how many captured buffers were discarded because the
// consumer fell behind.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// processInput is the PortAudio capture callback.
// Performance critical:
// - Runs on a dedicated OS thread (LockOSThread)
// - Uses the buffer pool and pre-allocated scratch only
// - Never blocks on the consumer; overflow drops the buffer
func (s *Source) processInput(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	const normFactor = 1.0 / float64(math.MaxInt32+1) // int32 → [-1.0, 1.0)

	frames := s.cfg.Audio.FramesPerBuffer
	channels := s.cfg.Audio.Channels

	mono := s.monoScratch
	if channels == 1 {
		for i := range mono {
			if i < len(in) {
				mono[i] = float64(in[i]) * normFactor
			} else {
				mono[i] = 0
			}
		}
	} else {
		// Downmix interleaved stereo by averaging the channel pair.
		for i := range frames {
			base := i * channels
			if base+1 < len(in) {
				mono[i] = (float64(in[base]) + float64(in[base+1])) * 0.5 * normFactor
			} else {
				mono[i] = 0
			}
		}
	}

	if atomic.LoadInt32(&s.recording) == 1 && s.tap != nil {
		s.tap.write(in)
	}

	bufPtr := s.bufPool.Get().(*[]float64)
	buf := (*bufPtr)[:frames]
	copy(buf, mono)

	f := Frame{
		Samples:    buf,
		SampleRate: s.cfg.Audio.SampleRate,
		Seq:        s.seq.Add(1),
		Timestamp:  time.Now(),
	}

	select {
	case s.frames <- f:
	default:
		// Consumer behind; drop this buffer. The sequence gap tells the
		// extractor to reset smoothing.
		s.dropped.Add(1)
		s.bufPool.Put(bufPtr)
	}
}
