// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	applog "visualizer/internal/log"
	"visualizer/internal/visual"
)

// DefaultSendInterval paces the publisher at roughly a 60 Hz render
// refresh.
const DefaultSendInterval = 16 * time.Millisecond

/*
Packet layout (BigEndian):

	| Field     | Type      | Size  |
	|-----------|-----------|-------|
	| Sequence  | uint32    | 4     |
	| Timestamp | int64     | 8     | nanoseconds since epoch
	| Mode      | uint8     | 1     | 0 equalizer, 1 fractal
	| Count     | uint16    | 2     | number of values (N)
	| Values    | []float32 | N * 4 |

For equalizer mode the values are the bar heights in order. For fractal
mode N is 4: iterations, zoom, phase, deform.
*/

// Publisher periodically reads the latest parameter set from the feed,
// packs it and sends it through a Sender. Runs in its own goroutine
// between Start and Stop.
type Publisher struct {
	sender   *Sender
	feed     *visual.Feed
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	seq uint32

	// Reused across packets; the publisher goroutine is the only writer.
	packetBuffer *bytes.Buffer
	valueBuffer  []float32
}

// NewPublisher creates a publisher over the given sender and feed. An
// interval <= 0 falls back to DefaultSendInterval.
func NewPublisher(interval time.Duration, sender *Sender, feed *visual.Feed) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if feed == nil {
		return nil, fmt.Errorf("udp publisher: feed cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultSendInterval
	}

	applog.Infof("Transport: UDP publisher ready (interval %s)", interval)
	return &Publisher{
		sender:       sender,
		feed:         feed,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publisher goroutine. No-op if already running.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.sendLatest()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop terminates the publisher goroutine and waits for it to exit.
// Safe to call more than once.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Close implements io.Closer.
func (p *Publisher) Close() error {
	return p.Stop()
}

// sendLatest packs the feed's current set and sends one packet.
func (p *Publisher) sendLatest() {
	ps := p.feed.Latest()
	p.seq++

	if err := encodePacket(p.packetBuffer, &p.valueBuffer, p.seq, time.Now().UnixNano(), ps); err != nil {
		applog.Errorf("Transport: UDP packet encode error: %v", err)
		return
	}
	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		applog.Debugf("Transport: UDP send error: %v", err)
	}
}

// encodePacket writes one packet into buf, reusing *values as the
// float32 staging slice.
func encodePacket(buf *bytes.Buffer, values *[]float32, seq uint32, timestamp int64, ps visual.ParameterSet) error {
	vals := (*values)[:0]
	switch ps.Mode {
	case visual.ModeFractal:
		f := ps.Fractal
		vals = append(vals, float32(f.Iterations), float32(f.Zoom), float32(f.Phase), float32(f.Deform))
	default:
		for _, v := range ps.Equalizer.Bars {
			vals = append(vals, float32(v))
		}
	}
	*values = vals

	buf.Reset()
	err := binary.Write(buf, binary.BigEndian, seq)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, timestamp)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint8(ps.Mode))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint16(len(vals)))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, vals)
	}
	return err
}
