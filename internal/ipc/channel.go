package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrChannelClosed is returned for sends and receives on a closed channel,
// and delivered to every request still pending when a correlator shuts down.
var ErrChannelClosed = errors.New("ipc: channel closed")

// maxFrameSize bounds a single message on the wire. A frame larger than
// this indicates a corrupt length prefix, not a real message.
const maxFrameSize = 16 << 20

// Channel is a duplex, ordered, reliable message pipe between the
// supervisor and exactly one worker. Frames are a 4-byte big-endian length
// followed by a msgpack envelope. Send is safe for concurrent use; Recv
// must be driven by a single reader goroutine.
type Channel struct {
	rw     io.ReadWriteCloser
	br     *bufio.Reader
	wmu    sync.Mutex
	bw     *bufio.Writer
	closed atomic.Bool
}

// NewChannel wraps a duplex byte stream. In production rw is the worker's
// stdin/stdout pair; tests use net.Pipe.
func NewChannel(rw io.ReadWriteCloser) *Channel {
	return &Channel{
		rw: rw,
		br: bufio.NewReaderSize(rw, 64<<10),
		bw: bufio.NewWriterSize(rw, 64<<10),
	}
}

// Send frames and writes one message. A write failure closes the channel;
// callers that treat the worker as eventually consistent may ignore the
// error, since the supervisor detects the dead pipe through Recv.
func (c *Channel) Send(m Message) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("ipc: frame too large (%d bytes)", len(data))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if _, err := c.bw.Write(hdr[:]); err != nil {
		c.closed.Store(true)
		return fmt.Errorf("ipc: write frame header: %w", err)
	}
	if _, err := c.bw.Write(data); err != nil {
		c.closed.Store(true)
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	if err := c.bw.Flush(); err != nil {
		c.closed.Store(true)
		return fmt.Errorf("ipc: flush frame: %w", err)
	}
	return nil
}

// Recv blocks until the next message arrives or the pipe fails.
func (c *Channel) Recv() (Message, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil, ErrChannelClosed
		}
		return nil, fmt.Errorf("ipc: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameSize {
		return nil, fmt.Errorf("ipc: bad frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.br, body); err != nil {
		return nil, fmt.Errorf("ipc: read frame body: %w", err)
	}
	return decodeMessage(body)
}

// Close tears the pipe down. Safe to call more than once.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rw.Close()
}

// Connected reports whether the channel can still carry messages.
func (c *Channel) Connected() bool { return !c.closed.Load() }
