// Package transport is the client-facing edge: SSH and WebSocket
// front-ends plus the backpressure-aware output pump that sits between
// the supervisor's frame stream and each slow network connection.
package transport

import (
	"errors"
	"io"
	"sync"
)

// ErrPumpDestroyed is returned by WriteImmediate after Destroy.
var ErrPumpDestroyed = errors.New("transport: pump destroyed")

// PumpStats is a point-in-time snapshot of one pump's accounting.
type PumpStats struct {
	QueuedBytes       int
	MaxQueuedBytes    int
	DroppedFrames     uint64
	DrainCount        uint64
	TotalBytesWritten uint64
}

// Pump delivers frames to one connection from a dedicated writer
// goroutine so a stalled client never blocks the supervisor's event
// fan-out. Queued bytes are capped; full frames are dropped whole rather
// than truncated, since a partial ANSI frame corrupts the terminal.
type Pump struct {
	// wmu serializes the writer goroutine against WriteImmediate.
	wmu sync.Mutex
	w   io.Writer

	mu        sync.Mutex
	queue     [][]byte
	queued    int
	maxQueued int
	dropped   uint64
	drains    uint64
	written   uint64
	destroyed bool

	wake chan struct{}
	done chan struct{}

	// onWrite observes delivered byte counts, for metrics.
	onWrite func(n int)
}

// NewPump starts the writer goroutine. maxQueued caps buffered bytes.
func NewPump(w io.Writer, maxQueued int) *Pump {
	if maxQueued <= 0 {
		maxQueued = 256 << 10
	}
	p := &Pump{
		w:         w,
		maxQueued: maxQueued,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// OnWrite installs a delivery observer. Call before the first Enqueue.
func (p *Pump) OnWrite(fn func(n int)) { p.onWrite = fn }

// Enqueue buffers one frame. Returns false, counting a drop, when the
// frame would push the queue past its cap or the pump is destroyed.
func (p *Pump) Enqueue(b []byte) bool {
	p.mu.Lock()
	if p.destroyed || p.queued+len(b) > p.maxQueued {
		if !p.destroyed {
			p.dropped++
		}
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, b)
	p.queued += len(b)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// ShouldSkipFrame reports whether queued bytes are at or past threshold.
// Callers use it to drop frames early, before paying for an encode.
func (p *Pump) ShouldSkipFrame(threshold int) bool {
	if threshold <= 0 {
		threshold = p.maxQueued / 2
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued >= threshold
}

// WriteImmediate bypasses the queue. Used for urgent bytes that must not
// wait behind buffered frames, like the reload overlay.
func (p *Pump) WriteImmediate(b []byte) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPumpDestroyed
	}
	p.mu.Unlock()

	p.wmu.Lock()
	defer p.wmu.Unlock()
	n, err := p.w.Write(b)
	p.recordWrite(n)
	return err
}

// Destroy stops the writer goroutine and rejects further frames. Safe to
// call twice.
func (p *Pump) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.queue = nil
	p.queued = 0
	close(p.done)
	p.mu.Unlock()
}

// Stats snapshots the pump's counters.
func (p *Pump) Stats() PumpStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PumpStats{
		QueuedBytes:       p.queued,
		MaxQueuedBytes:    p.maxQueued,
		DroppedFrames:     p.dropped,
		DrainCount:        p.drains,
		TotalBytesWritten: p.written,
	}
}

func (p *Pump) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if p.destroyed || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			batch := p.queue
			p.queue = nil
			p.queued = 0
			p.drains++
			p.mu.Unlock()

			for _, frame := range batch {
				p.wmu.Lock()
				n, err := p.w.Write(frame)
				p.wmu.Unlock()
				p.recordWrite(n)
				if err != nil {
					// The connection is gone; the read side will notice
					// and close the session.
					p.Destroy()
					return
				}
			}
		}
	}
}

func (p *Pump) recordWrite(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.written += uint64(n)
	p.mu.Unlock()
	if p.onWrite != nil {
		p.onWrite(n)
	}
}
