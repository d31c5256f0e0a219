// SPDX-License-Identifier: MIT
/*
Package session owns the capture-session state machine. One Guard
instance is threaded explicitly through the pipeline; there is no
hidden process-wide singleton behind it.

Permission results, app lifecycle events and capture errors may arrive
on arbitrary goroutines. Every transition is applied under one mutex;
the pipeline reads the state at the top of each cycle, so a transition
takes effect with the next frame rather than racing an in-flight
publish.
*/
package session

import (
	"errors"
	"sync"
	"time"

	"visualizer/internal/audio"
	applog "visualizer/internal/log"
)

// State is the capture-session lifecycle state.
type State int

const (
	Uninitialized State = iota
	AwaitingPermission
	Capturing
	Degraded
	Stopped
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case AwaitingPermission:
		return "awaiting-permission"
	case Capturing:
		return "capturing"
	case Degraded:
		return "degraded"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DegradedReason qualifies the Degraded state. It decides which event
// may resume capture: a permission denial is only cleared by a grant,
// everything else by returning to the foreground.
type DegradedReason int

const (
	ReasonNone DegradedReason = iota
	ReasonPermissionDenied
	ReasonDeviceUnavailable
	ReasonRouteChanged
	ReasonBackgrounded
	ReasonCaptureError
)

// String returns the reason name for logging.
func (r DegradedReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPermissionDenied:
		return "permission-denied"
	case ReasonDeviceUnavailable:
		return "device-unavailable"
	case ReasonRouteChanged:
		return "route-changed"
	case ReasonBackgrounded:
		return "backgrounded"
	case ReasonCaptureError:
		return "capture-error"
	default:
		return "unknown"
	}
}

// Retry backoff bounds for reopening an unavailable device while
// foregrounded.
const (
	initialRetryDelay = 250 * time.Millisecond
	maxRetryDelay     = 4 * time.Second
)

// Guard applies the session state machine. The zero value is not
// usable; construct with NewGuard.
type Guard struct {
	mu           sync.Mutex
	state        State
	reason       DegradedReason
	foreground   bool
	wasCapturing bool
	retryDelay   time.Duration
}

// NewGuard returns a guard in the Uninitialized state. The session
// starts foregrounded; background is an explicit event.
func NewGuard() *Guard {
	return &Guard{
		state:      Uninitialized,
		foreground: true,
		retryDelay: initialRetryDelay,
	}
}

// State returns the current state and, when Degraded, its reason.
func (g *Guard) State() (State, DegradedReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Degraded {
		return g.state, ReasonNone
	}
	return g.state, g.reason
}

// Capturing reports whether the pipeline should be consuming frames.
func (g *Guard) Capturing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == Capturing
}

// Activate begins the session: Uninitialized becomes AwaitingPermission.
// Ignored in any other state.
func (g *Guard) Activate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Uninitialized {
		return
	}
	g.transition(AwaitingPermission, ReasonNone)
}

// OnPermission applies a permission result. A grant starts capture from
// AwaitingPermission, and is the only event that clears
// Degraded(permission-denied): immediately when foregrounded, otherwise
// on the next foreground event. A denial degrades from any active state.
func (g *Guard) OnPermission(granted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Stopped || g.state == Uninitialized {
		return
	}

	if !granted {
		if g.state == Capturing {
			g.wasCapturing = true
		}
		g.transition(Degraded, ReasonPermissionDenied)
		return
	}

	switch g.state {
	case AwaitingPermission:
		g.transition(Capturing, ReasonNone)
	case Degraded:
		if g.reason != ReasonPermissionDenied {
			return
		}
		if !g.foreground {
			// Grant while hidden: record it by downgrading the reason,
			// so the next foreground event resumes capture.
			g.wasCapturing = true
			g.transition(Degraded, ReasonBackgrounded)
			return
		}
		g.transition(Capturing, ReasonNone)
	}
}

// OnForeground records the app returning to the foreground and resumes
// capture if the session was capturing before it degraded. A denied
// permission is never cleared by foregrounding alone.
func (g *Guard) OnForeground() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.foreground = true

	if g.state != Degraded || !g.wasCapturing {
		return
	}
	if g.reason == ReasonPermissionDenied {
		return
	}
	g.transition(Capturing, ReasonNone)
}

// OnBackground degrades an active capture while the app is hidden.
func (g *Guard) OnBackground() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.foreground = false

	if g.state != Capturing {
		return
	}
	g.wasCapturing = true
	g.transition(Degraded, ReasonBackgrounded)
}

// OnCaptureError degrades the session according to the error taxonomy.
// ErrCancelled and nil are ignored: cancellation is an expected part of
// shutdown, not a degradation.
func (g *Guard) OnCaptureError(err error) {
	if err == nil || errors.Is(err, audio.ErrCancelled) {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Capturing {
		return
	}
	g.wasCapturing = true

	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		g.transition(Degraded, ReasonPermissionDenied)
	case errors.Is(err, audio.ErrDeviceUnavailable):
		g.transition(Degraded, ReasonDeviceUnavailable)
	case errors.Is(err, audio.ErrRouteChanged):
		g.transition(Degraded, ReasonRouteChanged)
	default:
		g.transition(Degraded, ReasonCaptureError)
	}
}

// ShouldRetryDevice reports whether the pipeline should attempt to
// reopen the capture device: degraded by a device-level failure, app in
// the foreground, and capture was previously active. Permission denials
// are never retried; only a grant clears them.
func (g *Guard) ShouldRetryDevice() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Degraded || !g.foreground || !g.wasCapturing {
		return false
	}
	switch g.reason {
	case ReasonDeviceUnavailable, ReasonRouteChanged, ReasonCaptureError:
		return true
	default:
		return false
	}
}

// OnDeviceRecovered resumes capture after the pipeline successfully
// reopened the device. Ignored unless a device retry was in order.
func (g *Guard) OnDeviceRecovered() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Degraded || !g.foreground {
		return
	}
	switch g.reason {
	case ReasonDeviceUnavailable, ReasonRouteChanged, ReasonCaptureError:
		g.retryDelay = initialRetryDelay
		g.transition(Capturing, ReasonNone)
	}
}

// Stop ends the session. Terminal: no event leaves Stopped.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Stopped {
		return
	}
	g.transition(Stopped, ReasonNone)
}

// NextRetryDelay returns the backoff to wait before the next attempt to
// reopen an unavailable device, doubling per call up to a ceiling.
func (g *Guard) NextRetryDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.retryDelay
	g.retryDelay *= 2
	if g.retryDelay > maxRetryDelay {
		g.retryDelay = maxRetryDelay
	}
	return d
}

// ResetBackoff restores the initial retry delay after a successful
// device open.
func (g *Guard) ResetBackoff() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retryDelay = initialRetryDelay
}

// transition applies the state change. Callers hold g.mu.
func (g *Guard) transition(to State, reason DegradedReason) {
	from, fromReason := g.state, g.reason
	g.state, g.reason = to, reason

	if to == Degraded {
		applog.Warnf("Session: %s -> %s (%s)", from, to, reason)
		return
	}
	if from == Degraded {
		applog.Infof("Session: %s (%s) -> %s", from, fromReason, to)
		return
	}
	applog.Debugf("Session: %s -> %s", from, to)
}
