// SPDX-License-Identifier: MIT
/*
Package pipeline runs the capture/processing loop: frames from the
capture source go through feature extraction and parameter mapping and
land in the visualization feed as complete ParameterSets.

The loop is one goroutine. It never blocks on the render side (the feed
swap is wait-free) and it reads the session state at the top of every
cycle, so guard transitions take effect with the next frame. While the
session is degraded or awaiting permission, the loop ticks at the idle
cadence and publishes decaying-to-idle sets instead, so the renderer
always sees motion toward rest rather than a frozen frame.
*/
package pipeline

import (
	"errors"
	"sync"
	"time"

	"visualizer/internal/audio"
	"visualizer/internal/dsp"
	applog "visualizer/internal/log"
	"visualizer/internal/session"
	"visualizer/internal/visual"
)

// DefaultIdleTick is the publish cadence while capture is unavailable,
// roughly a 30 Hz render refresh.
const DefaultIdleTick = 33 * time.Millisecond

// Source is the capture dependency of the pipeline. *audio.Source
// satisfies it; tests substitute scripted fakes.
//
// A Source is single-use: once stopped it is discarded and the factory
// builds a fresh one for the next capture attempt.
type Source interface {
	Start() error
	Stop()
	NextFrame() (audio.Frame, error)
	Recycle(audio.Frame)
}

// SourceFactory creates a capture source. Called on session start and
// again on every device-retry attempt.
type SourceFactory func() (Source, error)

// Extractor is the feature-extraction stage. *dsp.Extractor satisfies
// it.
type Extractor interface {
	Process(samples []float64, ts time.Time, discontinuity bool) dsp.FeatureVector
	Reset()
}

// Pipeline owns the capture/processing goroutine.
type Pipeline struct {
	newSource SourceFactory
	extract   Extractor
	mapper    *visual.Mapper
	feed      *visual.Feed
	guard     *session.Guard

	idleTick time.Duration

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// srcMu guards src, which Stop pokes from outside the loop.
	srcMu sync.Mutex
	src   Source

	// Loop-local capture state.
	lastSeq    uint64
	pendingCut bool
	nextRetry  time.Time
}

// New assembles a pipeline. Run must be called to start it.
func New(factory SourceFactory, extract Extractor, mapper *visual.Mapper, feed *visual.Feed, guard *session.Guard, idleTick time.Duration) *Pipeline {
	if idleTick <= 0 {
		idleTick = DefaultIdleTick
	}
	return &Pipeline{
		newSource: factory,
		extract:   extract,
		mapper:    mapper,
		feed:      feed,
		guard:     guard,
		idleTick:  idleTick,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run executes the loop until Stop is called or the session reaches its
// terminal state. Blocks; callers run it in a goroutine.
func (p *Pipeline) Run() {
	defer close(p.done)
	defer p.releaseSource()

	for {
		select {
		case <-p.quit:
			return
		default:
		}

		state, reason := p.guard.State()
		switch state {
		case session.Capturing:
			p.stepCapture()
		case session.AwaitingPermission, session.Degraded:
			p.stepIdle(state, reason)
		case session.Stopped:
			return
		default:
			// Uninitialized: nothing to publish yet.
			if !p.sleep(p.idleTick) {
				return
			}
		}
	}
}

// Stop cancels the loop and waits for it to exit. Safe to call more
// than once and concurrently with an outstanding NextFrame, which fails
// fast with a cancellation rather than hanging.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		// Unblock an in-flight NextFrame immediately.
		p.srcMu.Lock()
		if p.src != nil {
			p.src.Stop()
		}
		p.srcMu.Unlock()
	})
	<-p.done
}

// current returns the active source, if any.
func (p *Pipeline) current() Source {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()
	return p.src
}

func (p *Pipeline) setSource(src Source) {
	p.srcMu.Lock()
	p.src = src
	p.srcMu.Unlock()
}

// stepCapture consumes one frame while the session is capturing.
func (p *Pipeline) stepCapture() {
	src := p.current()
	if src == nil {
		if !p.acquireSource() {
			return
		}
		src = p.current()
	}

	f, err := src.NextFrame()
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrCancelled):
			// Source shut down under us; drop it and let the guard state
			// decide what happens next cycle.
			p.releaseSource()
		case errors.Is(err, audio.ErrTimeout):
			// Bounded wait expired: treat as an underrun and mark the
			// next frame as a discontinuity.
			p.pendingCut = true
		default:
			applog.Errorf("Pipeline: capture error: %v", err)
			p.guard.OnCaptureError(err)
			p.releaseSource()
		}
		return
	}

	discontinuity := p.pendingCut
	if p.lastSeq != 0 && f.Seq != p.lastSeq+1 {
		applog.Debugf("Pipeline: sequence gap %d -> %d, resetting smoothing", p.lastSeq, f.Seq)
		discontinuity = true
	}
	p.lastSeq = f.Seq
	p.pendingCut = false

	fv := p.extract.Process(f.Samples, f.Timestamp, discontinuity)
	p.feed.Publish(p.mapper.Map(fv))
	src.Recycle(f)
}

// stepIdle publishes one decaying-to-idle set and handles device
// retries while capture is unavailable.
func (p *Pipeline) stepIdle(state session.State, reason session.DegradedReason) {
	p.releaseSource()

	if !p.sleep(p.idleTick) {
		return
	}
	p.feed.Publish(p.mapper.MapIdle(time.Now()))

	if state == session.Degraded && p.guard.ShouldRetryDevice() {
		p.retryDevice(reason)
	}
}

// retryDevice attempts to reopen the capture device, backing off
// between failures.
func (p *Pipeline) retryDevice(reason session.DegradedReason) {
	now := time.Now()
	if now.Before(p.nextRetry) {
		return
	}

	if p.acquireSource() {
		applog.Infof("Pipeline: capture device recovered after %s", reason)
		p.guard.OnDeviceRecovered()
		p.nextRetry = time.Time{}
		return
	}
	p.nextRetry = now.Add(p.guard.NextRetryDelay())
}

// acquireSource builds and starts a fresh capture source. On failure
// the error goes to the guard and false is returned.
func (p *Pipeline) acquireSource() bool {
	src, err := p.newSource()
	if err == nil {
		err = src.Start()
		if err != nil {
			src.Stop()
		}
	}
	if err != nil {
		if p.guard.Capturing() {
			applog.Errorf("Pipeline: cannot start capture: %v", err)
			p.guard.OnCaptureError(err)
		}
		return false
	}

	p.setSource(src)
	p.lastSeq = 0
	// The first frame after any (re)start is a discontinuity: smoothing
	// must not decay from the previous session's high-water marks.
	p.pendingCut = true
	p.guard.ResetBackoff()
	return true
}

// releaseSource stops and drops the current source, if any.
func (p *Pipeline) releaseSource() {
	src := p.current()
	if src == nil {
		return
	}
	src.Stop()
	p.setSource(nil)
}

// sleep waits for d or until Stop. Returns false when stopping.
func (p *Pipeline) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.quit:
		return false
	}
}
