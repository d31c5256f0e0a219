// SPDX-License-Identifier: MIT
/*
Package transport pushes published parameter sets to out-of-process
renderers. Transports are optional: the in-process feed remains the
primary consumer surface, and every transport reads from it rather than
tapping the pipeline directly.

Implementations must be thread-safe and must never block the publisher.
*/
package transport

import (
	applog "visualizer/internal/log"
	"visualizer/internal/visual"
)

// Transport delivers parameter sets to an external consumer.
type Transport interface {
	Send(ps visual.ParameterSet) error
	Close() error
}

// LoggingTransport is a diagnostic Transport that logs each set at
// debug level. Useful when bringing up a new renderer without a real
// endpoint.
type LoggingTransport struct{}

// NewLoggingTransport creates a LoggingTransport.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: using logging transport")
	return &LoggingTransport{}
}

// Send logs the set. Never fails.
func (lt *LoggingTransport) Send(ps visual.ParameterSet) error {
	switch ps.Mode {
	case visual.ModeFractal:
		applog.Debugf("Transport: %s iter=%d zoom=%.2f phase=%.2f deform=%.2f",
			ps.Mode, ps.Fractal.Iterations, ps.Fractal.Zoom, ps.Fractal.Phase, ps.Fractal.Deform)
	default:
		applog.Debugf("Transport: %s bars=%d", ps.Mode, len(ps.Equalizer.Bars))
	}
	return nil
}

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
