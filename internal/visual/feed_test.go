// SPDX-License-Identifier: MIT
package visual

import (
	"sync"
	"testing"
	"time"
)

func TestLatestBeforeFirstPublish(t *testing.T) {
	f := NewFeed(ModeEqualizer, 8)

	ps := f.Latest()
	if ps.Mode != ModeEqualizer {
		t.Errorf("mode = %v, want equalizer", ps.Mode)
	}
	if len(ps.Equalizer.Bars) != 8 {
		t.Fatalf("bar count = %d, want 8", len(ps.Equalizer.Bars))
	}
	for i, v := range ps.Equalizer.Bars {
		if v != 0 {
			t.Errorf("pre-publish bar[%d] = %f, want idle 0", i, v)
		}
	}
}

func TestPublishThenLatest(t *testing.T) {
	f := NewFeed(ModeFractal, 0)

	want := ParameterSet{
		Mode:      ModeFractal,
		Timestamp: time.Now(),
		Fractal:   FractalParams{Iterations: 42, Zoom: 1.5, Phase: 1.0, Deform: 0.2},
	}
	f.Publish(want)

	got := f.Latest()
	if got.Fractal != want.Fractal {
		t.Errorf("Latest() = %+v, want %+v", got.Fractal, want.Fractal)
	}

	snap := f.LatestSnapshot()
	if snap.PublishedAt.IsZero() {
		t.Error("LatestSnapshot() publish time not set")
	}
}

// TestReadAtomicity hammers the feed with one writer and several
// readers. Every published set has all bars equal to one value, so a
// reader seeing two different values in one set has observed a torn
// snapshot.
func TestReadAtomicity(t *testing.T) {
	const (
		barCount = 32
		writes   = 5000
		readers  = 4
	)

	f := NewFeed(ModeEqualizer, barCount)
	done := make(chan struct{})

	var wg sync.WaitGroup
	errCh := make(chan string, readers)

	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				ps := f.Latest()
				bars := ps.Equalizer.Bars
				if len(bars) != barCount {
					errCh <- "reader saw wrong bar count"
					return
				}
				first := bars[0]
				for _, v := range bars[1:] {
					if v != first {
						errCh <- "reader saw mixed values from two publishes"
						return
					}
				}
			}
		}()
	}

	for i := range writes {
		bars := make([]float64, barCount)
		v := float64(i%100) / 100
		for j := range bars {
			bars[j] = v
		}
		f.Publish(ParameterSet{
			Mode:      ModeEqualizer,
			Timestamp: time.Now(),
			Equalizer: EqualizerParams{Bars: bars},
		})
	}
	close(done)
	wg.Wait()

	select {
	case msg := <-errCh:
		t.Fatal(msg)
	default:
	}
}

func TestLatestHotPath(t *testing.T) {
	f := NewFeed(ModeEqualizer, 16)

	allocs := testing.AllocsPerRun(100, func() {
		_ = f.Latest()
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Latest, got %.1f", allocs)
	}
}

func BenchmarkFeed(b *testing.B) {
	f := NewFeed(ModeEqualizer, 16)
	bars := make([]float64, 16)
	ps := ParameterSet{Mode: ModeEqualizer, Equalizer: EqualizerParams{Bars: bars}}

	b.Run("Publish", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			f.Publish(ps)
		}
	})

	b.Run("Latest", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			_ = f.Latest()
		}
	})
}
