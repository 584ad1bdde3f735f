package transport

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncWriter is a threadsafe buffer target.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(b)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// blockedWriter never completes a write until released.
type blockedWriter struct {
	release chan struct{}
}

func (w *blockedWriter) Write(b []byte) (int, error) {
	<-w.release
	return len(b), nil
}

func TestPumpDeliversInOrder(t *testing.T) {
	w := &syncWriter{}
	p := NewPump(w, 1024)
	defer p.Destroy()

	require.True(t, p.Enqueue([]byte("one ")))
	require.True(t, p.Enqueue([]byte("two ")))
	require.True(t, p.Enqueue([]byte("three")))

	require.Eventually(t, func() bool { return w.String() == "one two three" },
		time.Second, time.Millisecond)

	stats := p.Stats()
	assert.Zero(t, stats.QueuedBytes)
	assert.Equal(t, uint64(13), stats.TotalBytesWritten)
	assert.Zero(t, stats.DroppedFrames)
}

func TestPumpNeverExceedsMaxQueuedBytes(t *testing.T) {
	blocked := &blockedWriter{release: make(chan struct{})}
	p := NewPump(blocked, 10)
	defer p.Destroy()
	defer close(blocked.release)

	assert.True(t, p.Enqueue([]byte("12345")))
	// Give the writer goroutine a moment to take the first frame; queue
	// accounting may briefly hold it either way, so size against the cap.
	assert.True(t, p.Enqueue([]byte("1234")))

	// This frame would push queued bytes past the cap.
	assert.False(t, p.Enqueue([]byte("1234567")))

	stats := p.Stats()
	assert.LessOrEqual(t, stats.QueuedBytes, 10)
	assert.Equal(t, uint64(1), stats.DroppedFrames)
}

func TestPumpShouldSkipFrame(t *testing.T) {
	blocked := &blockedWriter{release: make(chan struct{})}
	p := NewPump(blocked, 1024)
	defer p.Destroy()
	defer close(blocked.release)

	assert.False(t, p.ShouldSkipFrame(10))
	p.Enqueue(bytes.Repeat([]byte("x"), 64))

	require.Eventually(t, func() bool {
		// Queue drains into the blocked writer; enqueue more until the
		// threshold trips.
		p.Enqueue(bytes.Repeat([]byte("x"), 64))
		return p.ShouldSkipFrame(10)
	}, time.Second, time.Millisecond)
}

func TestPumpWriteImmediateBypassesQueue(t *testing.T) {
	w := &syncWriter{}
	p := NewPump(w, 1024)
	defer p.Destroy()

	require.NoError(t, p.WriteImmediate([]byte("urgent")))
	assert.Equal(t, "urgent", w.String())
	assert.Equal(t, uint64(6), p.Stats().TotalBytesWritten)
}

func TestPumpDestroyIdempotent(t *testing.T) {
	w := &syncWriter{}
	p := NewPump(w, 1024)

	p.Destroy()
	p.Destroy()

	assert.False(t, p.Enqueue([]byte("late")))
	assert.ErrorIs(t, p.WriteImmediate([]byte("late")), ErrPumpDestroyed)
	assert.Zero(t, p.Stats().QueuedBytes)
}

// failWriter errors on every write.
type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPumpWriteErrorStopsDelivery(t *testing.T) {
	p := NewPump(failWriter{}, 1024)
	p.Enqueue([]byte("doomed"))

	require.Eventually(t, func() bool { return !p.Enqueue([]byte("x")) },
		time.Second, time.Millisecond)
}
