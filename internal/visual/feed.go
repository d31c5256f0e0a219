// SPDX-License-Identifier: MIT
package visual

import (
	"sync/atomic"
	"time"
)

// Snapshot pairs a ParameterSet with the moment it was published.
type Snapshot struct {
	Params      ParameterSet
	PublishedAt time.Time
}

// Feed is the publication point between the capture/processing thread
// and the render side. One writer publishes complete ParameterSets; any
// number of readers poll Latest at their own cadence.
//
// Publish and Latest swap a single pointer atomically, so readers never
// observe a partially written set and never block the writer (and vice
// versa). Intermediate sets are simply replaced: only the latest value
// matters to a renderer, and queuing would add latency.
type Feed struct {
	cur atomic.Pointer[Snapshot]
}

// NewFeed creates a feed pre-loaded with the idle default for the given
// mode, so Latest has a well-defined answer before the first publish.
func NewFeed(mode Mode, barCount int) *Feed {
	f := &Feed{}
	f.cur.Store(&Snapshot{Params: IdleParameterSet(mode, barCount)})
	return f
}

// Publish makes ps the new latest set. The caller must not modify ps
// (or its bar slice) afterwards.
func (f *Feed) Publish(ps ParameterSet) {
	f.cur.Store(&Snapshot{Params: ps, PublishedAt: time.Now()})
}

// Latest returns the most recently published complete ParameterSet.
// Never blocks.
func (f *Feed) Latest() ParameterSet {
	return f.cur.Load().Params
}

// LatestSnapshot returns the latest set along with its publish time,
// for consumers that want to show staleness.
func (f *Feed) LatestSnapshot() Snapshot {
	return *f.cur.Load()
}
