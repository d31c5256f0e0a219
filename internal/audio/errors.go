// SPDX-License-Identifier: MIT
package audio

import "errors"

// Capture error taxonomy. None of these is fatal to the process: the
// session guard reacts by degrading to the idle parameter stream.
var (
	// ErrPermissionDenied: microphone access was refused. Recoverable
	// on a later permission grant.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable: the input device could not be opened or
	// disappeared mid-stream. Retried with backoff when foregrounded.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrRouteChanged: the active input route changed (device unplug,
	// default switch). Handled by a local smoothing reset.
	ErrRouteChanged = errors.New("audio: route changed")

	// ErrTimeout: NextFrame waited longer than the bounded wait.
	// Treated as an underrun by the consumer.
	ErrTimeout = errors.New("audio: frame wait timed out")

	// ErrCancelled: Stop was called while NextFrame was outstanding.
	// Expected during shutdown, not surfaced to the user.
	ErrCancelled = errors.New("audio: capture cancelled")
)
