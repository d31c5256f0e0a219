// SPDX-License-Identifier: MIT
package pipeline

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"visualizer/internal/audio"
	"visualizer/internal/config"
	"visualizer/internal/dsp"
	applog "visualizer/internal/log"
	"visualizer/internal/session"
	"visualizer/internal/visual"
	"visualizer/pkg/wavegen"
)

func init() {
	applog.SetOutput(io.Discard)
}

const (
	testBufferSize = 1024
	testIdleTick   = 5 * time.Millisecond
)

// fakeSource is a scripted capture source. It hands out its frames in
// order; once exhausted it returns exhaustErr, or blocks until Stop if
// exhaustErr is nil. A non-nil gate makes delivery stepwise: each frame
// waits for one Release, letting tests observe every published set
// before the feed overwrites it.
type fakeSource struct {
	frames     []audio.Frame
	exhaustErr error
	startErr   error
	gate       chan struct{}

	quit     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	idx int
}

func newFakeSource(frames ...audio.Frame) *fakeSource {
	return &fakeSource{frames: frames, quit: make(chan struct{})}
}

// Release lets a gated source deliver its next frame.
func (s *fakeSource) Release() {
	s.gate <- struct{}{}
}

func (s *fakeSource) Start() error { return s.startErr }

func (s *fakeSource) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

func (s *fakeSource) NextFrame() (audio.Frame, error) {
	select {
	case <-s.quit:
		return audio.Frame{}, audio.ErrCancelled
	default:
	}

	s.mu.Lock()
	hasFrame := s.idx < len(s.frames)
	s.mu.Unlock()

	if hasFrame && s.gate != nil {
		select {
		case <-s.gate:
		case <-s.quit:
			return audio.Frame{}, audio.ErrCancelled
		}
	}

	s.mu.Lock()
	if s.idx < len(s.frames) {
		f := s.frames[s.idx]
		s.idx++
		s.mu.Unlock()
		return f, nil
	}
	err := s.exhaustErr
	s.mu.Unlock()

	if err != nil {
		return audio.Frame{}, err
	}
	<-s.quit
	return audio.Frame{}, audio.ErrCancelled
}

func (s *fakeSource) Recycle(audio.Frame) {}

// frame builds a test frame with a deterministic timestamp derived from
// its sequence number, so tests can match published sets to frames.
func frame(seq uint64, samples []float64) audio.Frame {
	return audio.Frame{
		Samples:    samples,
		SampleRate: config.DefaultSampleRate,
		Seq:        seq,
		Timestamp:  time.Unix(0, int64(seq)),
	}
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Visual.BandCount = 8
	cfg.Visual.BarCount = 8
	cfg.Visual.DecayFactor = 0.8
	cfg.Visual.Settle = 200 * time.Millisecond
	return cfg
}

// harness wires a pipeline around a fake source factory with the real
// extractor, mapper and feed.
type harness struct {
	p     *Pipeline
	feed  *visual.Feed
	guard *session.Guard
	m     *visual.Mapper
}

func newHarness(t *testing.T, factory SourceFactory) *harness {
	t.Helper()
	cfg := testConfig()

	ext, err := dsp.NewExtractor(cfg, testBufferSize)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	m := visual.NewMapper(cfg, visual.ModeEqualizer, testIdleTick)
	feed := visual.NewFeed(visual.ModeEqualizer, cfg.Visual.BarCount)
	guard := session.NewGuard()

	return &harness{
		p:     New(factory, ext, m, feed, guard, testIdleTick),
		feed:  feed,
		guard: guard,
		m:     m,
	}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	go h.p.Run()
	t.Cleanup(h.p.Stop)
}

// waitForFrame polls the feed until a set derived from the given frame
// sequence number appears.
func (h *harness) waitForFrame(t *testing.T, seq uint64) visual.ParameterSet {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ps := h.feed.Latest()
		if ps.Timestamp.Equal(time.Unix(0, int64(seq))) {
			return ps
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no parameter set published for frame %d", seq)
	return visual.ParameterSet{}
}

func maxBar(ps visual.ParameterSet) float64 {
	max := 0.0
	for _, v := range ps.Equalizer.Bars {
		if v > max {
			max = v
		}
	}
	return max
}

func TestPipelinePublishesCapturedAudio(t *testing.T) {
	tone := wavegen.Sine(testBufferSize, config.DefaultSampleRate, 440)
	src := newFakeSource(frame(1, tone), frame(2, tone))
	h := newHarness(t, func() (Source, error) { return src, nil })

	h.guard.Activate()
	h.guard.OnPermission(true)
	h.run(t)

	ps := h.waitForFrame(t, 2)
	if maxBar(ps) < 0.3 {
		t.Errorf("max bar = %f for a loud tone, want substantial energy", maxBar(ps))
	}
	for i, v := range ps.Equalizer.Bars {
		if v < 0 || v > 1 {
			t.Errorf("bar[%d] = %f out of [0,1]", i, v)
		}
	}
}

// Without a gap, a silent frame after a loud one decays from the
// previous level instead of dropping to zero.
func TestPipelineDecaysAcrossFrames(t *testing.T) {
	tone := wavegen.Sine(testBufferSize, config.DefaultSampleRate, 440)
	src := newFakeSource(
		frame(1, tone),
		frame(2, wavegen.Silence(testBufferSize)),
	)
	src.gate = make(chan struct{}, 2)
	h := newHarness(t, func() (Source, error) { return src, nil })

	h.guard.Activate()
	h.guard.OnPermission(true)
	h.run(t)

	src.Release()
	loud := h.waitForFrame(t, 1)
	src.Release()
	after := h.waitForFrame(t, 2)

	if maxBar(after) < maxBar(loud)*0.7 {
		t.Errorf("silent frame level = %f, want decayed residue near %f", maxBar(after), maxBar(loud)*0.8)
	}
}

// A sequence gap is an underrun: smoothing resets and the frame after
// the gap shows raw values with no decayed residue.
func TestPipelineUnderrunResetsSmoothing(t *testing.T) {
	tone := wavegen.Sine(testBufferSize, config.DefaultSampleRate, 440)
	src := newFakeSource(
		frame(1, tone),
		frame(3, wavegen.Silence(testBufferSize)), // gap: seq 2 dropped
	)
	src.gate = make(chan struct{}, 2)
	h := newHarness(t, func() (Source, error) { return src, nil })

	h.guard.Activate()
	h.guard.OnPermission(true)
	h.run(t)

	src.Release()
	loud := h.waitForFrame(t, 1)
	if maxBar(loud) < 0.3 {
		t.Fatalf("setup: loud frame level = %f", maxBar(loud))
	}

	src.Release()
	after := h.waitForFrame(t, 3)
	if maxBar(after) > 0.01 {
		t.Errorf("level after underrun = %f, want raw silence (no decay residue)", maxBar(after))
	}
}

// Permission denied: the pipeline keeps publishing, trending to idle
// within the settle duration, without blocking or touching the factory.
func TestPipelinePermissionDeniedTrendsToIdle(t *testing.T) {
	factoryCalls := 0
	h := newHarness(t, func() (Source, error) {
		factoryCalls++
		return nil, audio.ErrDeviceUnavailable
	})

	// Pre-load the mapper with a loud set so the idle trend is visible.
	bands := make([]float64, 8)
	for i := range bands {
		bands[i] = 1
	}
	h.m.Map(dsp.FeatureVector{Bands: bands, Loudness: 1, Timestamp: time.Now()})

	h.guard.Activate()
	h.guard.OnPermission(false)
	h.run(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if maxBar(h.feed.Latest()) < 0.02 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := maxBar(h.feed.Latest()); got >= 0.02 {
		t.Errorf("level = %f after settle duration, want near idle 0", got)
	}

	if s, r := h.guard.State(); s != session.Degraded || r != session.ReasonPermissionDenied {
		t.Errorf("state = %v (%v), want degraded (permission-denied)", s, r)
	}
	if factoryCalls != 0 {
		t.Errorf("factory called %d times while permission denied, want 0", factoryCalls)
	}
}

// A device failure mid-capture degrades the session; the pipeline
// reopens the device and the guard resumes capturing.
func TestPipelineDeviceRecovery(t *testing.T) {
	tone := wavegen.Sine(testBufferSize, config.DefaultSampleRate, 440)

	first := newFakeSource(frame(1, tone))
	first.exhaustErr = audio.ErrDeviceUnavailable
	second := newFakeSource(frame(1, tone), frame(2, tone))

	var mu sync.Mutex
	calls := 0
	h := newHarness(t, func() (Source, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	})

	h.guard.Activate()
	h.guard.OnPermission(true)
	h.run(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.guard.Capturing() {
			mu.Lock()
			c := calls
			mu.Unlock()
			if c >= 2 {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !h.guard.Capturing() {
		s, r := h.guard.State()
		t.Fatalf("state = %v (%v), want capturing after device recovery", s, r)
	}

	// Frames from the replacement source flow end to end.
	h.waitForFrame(t, 2)
}

// Stop cancels an outstanding NextFrame instead of hanging on it.
func TestPipelineStopCancelsBlockedRead(t *testing.T) {
	src := newFakeSource() // no frames: NextFrame blocks until Stop
	h := newHarness(t, func() (Source, error) { return src, nil })

	h.guard.Activate()
	h.guard.OnPermission(true)
	go h.p.Run()

	// Let the loop reach the blocking read.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		h.p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the blocked NextFrame")
	}
}

func TestPipelineStoppedGuardExitsRun(t *testing.T) {
	src := newFakeSource()
	h := newHarness(t, func() (Source, error) { return src, nil })

	h.guard.Activate()
	h.guard.OnPermission(false)
	h.guard.Stop()

	ran := make(chan struct{})
	go func() {
		h.p.Run()
		close(ran)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on a stopped session")
	}
}

func TestPipelineStartFailureDegrades(t *testing.T) {
	src := newFakeSource()
	src.startErr = audio.ErrDeviceUnavailable
	h := newHarness(t, func() (Source, error) { return src, nil })

	h.guard.Activate()
	h.guard.OnPermission(true)
	h.run(t)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, _ := h.guard.State(); s == session.Degraded {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s, r := h.guard.State()
	if s != session.Degraded || r != session.ReasonDeviceUnavailable {
		t.Fatalf("state = %v (%v), want degraded (device-unavailable)", s, r)
	}

	if !errors.Is(src.startErr, audio.ErrDeviceUnavailable) {
		t.Fatal("sanity: start error lost its sentinel")
	}
}
