package ipc

import (
	"errors"
	"sync"
	"time"
)

// ErrRequestTimeout is delivered when the worker does not answer a request
// within its deadline. A late response is silently discarded.
var ErrRequestTimeout = errors.New("ipc: request timed out")

// DefaultRequestTimeout applies when a caller passes a non-positive
// timeout to Request.
const DefaultRequestTimeout = 5 * time.Second

type result struct {
	msg Message
	err error
}

type pendingRequest struct {
	done chan result // buffered(1): resolver never blocks
}

// Correlator pairs requests with their responses over a Channel. Each
// Request gets a unique ID and settles exactly once: on the matching
// response, on timeout, or on Shutdown.
type Correlator struct {
	ch *Channel

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	nextID  uint64
	shut    bool
}

// NewCorrelator builds a correlator for one channel. The channel's receive
// pump must feed responses back through Resolve.
func NewCorrelator(ch *Channel) *Correlator {
	return &Correlator{
		ch:      ch,
		pending: make(map[uint64]*pendingRequest),
	}
}

// Send forwards a fire-and-forget message to the channel.
func (c *Correlator) Send(m Message) error {
	return c.ch.Send(m)
}

// Request assigns an ID to req, sends it, and blocks until the matching
// response arrives or the timeout fires. timeout <= 0 means
// DefaultRequestTimeout; snapshot requests pass a longer explicit value.
func (c *Correlator) Request(req Request, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.nextID++
	id := c.nextID
	req.SetRequestID(id)
	p := &pendingRequest{done: make(chan result, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.ch.Send(req); err != nil {
		c.remove(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.msg, r.err
	case <-timer.C:
		// The resolver may have won the race between the timer firing and
		// this removal; if the entry is already gone, take its result.
		if c.remove(id) {
			return nil, ErrRequestTimeout
		}
		r := <-p.done
		return r.msg, r.err
	}
}

// Resolve settles the pending request matching resp's ID. Responses with
// unknown IDs (late after timeout, or stale across a worker respawn) are
// dropped silently.
func (c *Correlator) Resolve(resp Response) {
	c.mu.Lock()
	p, ok := c.pending[resp.RequestID()]
	if ok {
		delete(c.pending, resp.RequestID())
	}
	c.mu.Unlock()
	if ok {
		p.done <- result{msg: resp}
	}
}

// Shutdown rejects every outstanding request with ErrChannelClosed and
// leaves the pending map empty. Further Requests fail immediately.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	c.shut = true
	outstanding := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range outstanding {
		p.done <- result{err: ErrChannelClosed}
	}
}

// PendingCount reports how many requests are still awaiting settlement.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// remove deletes a pending entry, reporting whether it was still present.
func (c *Correlator) remove(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}
