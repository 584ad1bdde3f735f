package supervisor

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tileworld/internal/ipc"
)

// OutputSink is where a proxy puts bytes bound for one client. The
// transport's output pump implements it.
type OutputSink interface {
	// Enqueue buffers a frame for asynchronous delivery. False means the
	// frame was rejected because the queue is full.
	Enqueue(b []byte) bool

	// ShouldSkipFrame reports whether the queue is at or past the
	// high-water threshold, in bytes.
	ShouldSkipFrame(threshold int) bool

	// WriteImmediate bypasses the queue for urgent bytes such as the
	// reload overlay.
	WriteImmediate(b []byte) error

	// Destroy stops delivery. Must be safe to call twice.
	Destroy()
}

// ConnectOpts describes one incoming client connection.
type ConnectOpts struct {
	Username    string
	Fingerprint string
	Cols, Rows  int
	Sink        OutputSink

	// OnClosed fires once when the session ends from the server side, so
	// the transport can close the underlying connection.
	OnClosed func()
}

// ConnectionProxy pairs one client connection with its worker session.
// It survives worker replacement: the proxy and its registry entry live
// in the supervisor while workers come and go underneath.
type ConnectionProxy struct {
	sup  *Supervisor
	sess *ConnectedSession
	sink OutputSink
	log  *zap.Logger

	onClosed func()
	unsubs   []func()
	closed   atomic.Bool
	mu       sync.Mutex
	muted    bool
}

// Connect registers a new session and returns its proxy. The worker is
// told immediately when one is alive; otherwise registration happens on
// the next spawn via the registry replay.
func (s *Supervisor) Connect(opts ConnectOpts) (*ConnectionProxy, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.mu.Unlock()

	cs := &ConnectedSession{
		SessionID:   uuid.NewString(),
		Username:    opts.Username,
		Fingerprint: opts.Fingerprint,
		Cols:        opts.Cols,
		Rows:        opts.Rows,
	}
	s.sessions.add(cs)
	s.metrics.SessionConnected()

	p := &ConnectionProxy{
		sup:      s,
		sess:     cs,
		sink:     opts.Sink,
		log:      s.log.With(zap.String("session", cs.SessionID)),
		onClosed: opts.OnClosed,
	}

	p.unsubs = append(p.unsubs,
		s.events.sessionOutput.Subscribe(p.onOutput),
		s.events.sessionEnded.Subscribe(p.onEnded),
		s.events.reload.Subscribe(p.onReloadPhase),
	)

	if s.Phase() == PhaseReloading {
		p.setMuted(true)
		_ = opts.Sink.WriteImmediate(renderOverlay(cs.Cols, cs.Rows))
		// The reload's registry replay will register this session.
	} else {
		s.Send(&ipc.CreateSession{
			SessionID:   cs.SessionID,
			Fingerprint: cs.Fingerprint,
			Username:    cs.Username,
			Cols:        cs.Cols,
			Rows:        cs.Rows,
		})
	}

	p.log.Info("session connected", zap.String("user", cs.Username))
	return p, nil
}

// SessionID identifies this connection across worker generations.
func (p *ConnectionProxy) SessionID() string { return p.sess.SessionID }

// Input forwards raw terminal bytes to the worker.
func (p *ConnectionProxy) Input(data []byte) {
	if p.closed.Load() {
		return
	}
	p.sup.Send(&ipc.SessionInput{SessionID: p.sess.SessionID, Data: data})
}

// Resize records the new geometry and tells the worker. The registry copy
// matters as much as the worker: it is what the next worker gets told.
func (p *ConnectionProxy) Resize(cols, rows int) {
	if p.closed.Load() {
		return
	}
	p.sup.sessions.setSize(p.sess.SessionID, cols, rows)
	p.sup.Send(&ipc.SessionResize{SessionID: p.sess.SessionID, Cols: cols, Rows: rows})
}

// Close tears the session down: unsubscribes, deregisters, tells the
// worker, and stops the sink. Idempotent, and safe from both the
// transport side and the worker-ended side.
func (p *ConnectionProxy) Close() {
	if p.closed.Swap(true) {
		return
	}
	for _, unsub := range p.unsubs {
		unsub()
	}
	if p.sup.sessions.remove(p.sess.SessionID) {
		p.sup.metrics.SessionDisconnected()
	}
	p.sup.Send(&ipc.DestroySession{SessionID: p.sess.SessionID})
	p.sink.Destroy()
	if p.onClosed != nil {
		p.onClosed()
	}
	p.log.Info("session closed")
}

func (p *ConnectionProxy) onOutput(m *ipc.SessionOutput) {
	if m.SessionID != p.sess.SessionID || p.closed.Load() || p.isMuted() {
		return
	}
	if p.sink.ShouldSkipFrame(p.sup.cfg.HighWaterBytes) {
		p.sup.metrics.RecordDroppedFrame()
		return
	}
	if !p.sink.Enqueue(m.Output) {
		p.sup.metrics.RecordDroppedFrame()
	}
}

func (p *ConnectionProxy) onEnded(m *ipc.SessionEnded) {
	if m.SessionID == p.sess.SessionID {
		p.Close()
	}
}

// onReloadPhase freezes the session under the overlay while the worker is
// being swapped, then clears for the fresh worker's first frame.
func (p *ConnectionProxy) onReloadPhase(phase ReloadPhase) {
	if p.closed.Load() {
		return
	}
	switch phase {
	case PhaseReloading:
		p.setMuted(true)
		cs := p.currentSize()
		_ = p.sink.WriteImmediate(renderOverlay(cs.Cols, cs.Rows))
	case PhaseRunning:
		p.setMuted(false)
		_ = p.sink.WriteImmediate([]byte(clearScreen))
	}
}

func (p *ConnectionProxy) currentSize() ConnectedSession {
	if s, ok := p.sup.sessions.get(p.sess.SessionID); ok {
		return s
	}
	return *p.sess
}

func (p *ConnectionProxy) setMuted(v bool) {
	p.mu.Lock()
	p.muted = v
	p.mu.Unlock()
}

func (p *ConnectionProxy) isMuted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}
