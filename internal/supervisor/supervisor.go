// Package supervisor owns worker processes and the client connections
// that outlive them. It spawns the worker, proxies session traffic over
// IPC, respawns after crashes, and performs live worker replacement
// without dropping a single connection: clients are tracked here, in the
// parent, so a worker is always reconstructible from the registry plus
// the snapshots the old worker handed over.
package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tileworld/internal/ipc"
	"tileworld/internal/metrics"
)

var (
	ErrAlreadyStarted   = errors.New("supervisor: already started")
	ErrStopped          = errors.New("supervisor: stopped")
	ErrWorkerStartup    = errors.New("supervisor: worker failed to become ready")
	ErrReloadInProgress = errors.New("supervisor: reload already in progress")
)

// State is the worker lifecycle as seen from outside.
type State string

const (
	StateIdle       State = "idle"
	StateSpawning   State = "spawning"
	StateReady      State = "ready"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

// ReloadPhase gates output delivery: during PhaseReloading proxies show
// the overlay and suppress worker frames.
type ReloadPhase string

const (
	PhaseRunning   ReloadPhase = "running"
	PhaseReloading ReloadPhase = "reloading"
)

// Config carries everything the supervisor passes to workers plus its own
// lifecycle timings.
type Config struct {
	WorldSeed      int64
	TickRate       int
	ChunkCacheSize int

	RequestTimeout  time.Duration
	SnapshotTimeout time.Duration
	StartupTimeout  time.Duration
	RestartBackoff  time.Duration
	SettleDelay     time.Duration

	HighWaterBytes int
}

func (c *Config) applyDefaults() {
	if c.TickRate <= 0 {
		c.TickRate = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = ipc.DefaultRequestTimeout
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 30 * time.Second
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 100 * time.Millisecond
	}
	if c.HighWaterBytes <= 0 {
		c.HighWaterBytes = 128 << 10
	}
}

// workerHandle bundles one live worker's process and channel. The handle
// pointer doubles as the generation token: lifecycle callbacks compare it
// against the current handle and stand down when they lost the race.
type workerHandle struct {
	proc Process
	ch   *ipc.Channel
	corr *ipc.Correlator

	// exited closes after the exit watcher has fully processed Done.
	exited chan struct{}
}

type workerEvents struct {
	sessionOutput Feed[*ipc.SessionOutput]
	sessionEnded  Feed[*ipc.SessionEnded]
	sessionUserID Feed[*ipc.SessionUserID]
	spriteReload  Feed[*ipc.SpriteReload]
	reload        Feed[ReloadPhase]
}

// Supervisor is the parent-process side of the worker protocol.
type Supervisor struct {
	log     *zap.Logger
	cfg     Config
	spawn   Spawner
	metrics *metrics.Collector

	sessions *sessionRegistry
	events   workerEvents

	mu      sync.Mutex
	handle  *workerHandle
	state   State
	phase   ReloadPhase
	stopped bool

	// reloading is the single-flight guard for Reload. It is distinct
	// from phase, which is client-facing and flips back to running
	// before the registry replay finishes.
	reloading bool
}

// New builds a supervisor. A nil collector gets a private one, which is
// what tests want.
func New(cfg Config, spawn Spawner, logger *zap.Logger, m *metrics.Collector) *Supervisor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Supervisor{
		log:      logger,
		cfg:      cfg,
		spawn:    spawn,
		metrics:  m,
		sessions: newSessionRegistry(),
		state:    StateIdle,
		phase:    PhaseRunning,
	}
}

// Start spawns the first worker and blocks until it is ready. Failure to
// become ready within the startup timeout is fatal here; only later
// crashes get the respawn treatment.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.handle != nil || s.state == StateSpawning {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateSpawning
	s.mu.Unlock()

	h, err := s.startWorker()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		return err
	}
	s.handle = h
	s.state = StateReady
	go s.watchExit(h)
	return nil
}

// startWorker spawns a process, starts its receive loop, sends init, and
// waits for ready.
func (s *Supervisor) startWorker() (*workerHandle, error) {
	proc, err := s.spawn()
	if err != nil {
		return nil, fmt.Errorf("supervisor: spawn: %w", err)
	}
	ch := ipc.NewChannel(proc.IO())
	h := &workerHandle{
		proc:   proc,
		ch:     ch,
		corr:   ipc.NewCorrelator(ch),
		exited: make(chan struct{}),
	}

	ready := make(chan struct{}, 1)
	go s.recvLoop(h, ready)

	init := &ipc.Init{
		WorldSeed:      s.cfg.WorldSeed,
		TickRate:       s.cfg.TickRate,
		ChunkCacheSize: s.cfg.ChunkCacheSize,
	}
	if err := ch.Send(init); err != nil {
		s.teardownHandle(h, true)
		return nil, fmt.Errorf("supervisor: send init: %w", err)
	}
	s.metrics.RecordIPCMessage("supervisor_to_worker")

	select {
	case <-ready:
		return h, nil
	case st := <-proc.Done():
		s.teardownHandle(h, false)
		return nil, fmt.Errorf("%w: exited with code %d before ready", ErrWorkerStartup, st.Code)
	case <-time.After(s.cfg.StartupTimeout):
		s.teardownHandle(h, true)
		return nil, fmt.Errorf("%w: no ready within %s", ErrWorkerStartup, s.cfg.StartupTimeout)
	}
}

func (s *Supervisor) teardownHandle(h *workerHandle, kill bool) {
	if kill {
		_ = h.proc.Kill()
	}
	h.corr.Shutdown()
	_ = h.ch.Close()
}

// recvLoop is the single reader of one worker's channel. Responses route
// to the correlator; everything else fans out on the event feeds.
func (s *Supervisor) recvLoop(h *workerHandle, ready chan<- struct{}) {
	defer h.corr.Shutdown()
	for {
		msg, err := h.ch.Recv()
		if err != nil {
			if !errors.Is(err, ipc.ErrChannelClosed) {
				s.log.Warn("worker channel read failed", zap.Error(err))
			}
			return
		}
		s.metrics.RecordIPCMessage("worker_to_supervisor")

		switch m := msg.(type) {
		case *ipc.Ready:
			select {
			case ready <- struct{}{}:
			default:
			}
		case *ipc.VisiblePlayers:
			h.corr.Resolve(m)
		case *ipc.AllPlayers:
			h.corr.Resolve(m)
		case *ipc.AllSessionStates:
			h.corr.Resolve(m)
		case *ipc.SessionOutput:
			s.events.sessionOutput.publish(m)
		case *ipc.SessionUserID:
			s.sessions.setUserID(m.SessionID, m.UserID)
			s.events.sessionUserID.publish(m)
		case *ipc.SessionEnded:
			s.events.sessionEnded.publish(m)
		case *ipc.SpriteReload:
			s.events.spriteReload.publish(m)
		case *ipc.Error:
			s.log.Warn("worker reported error", zap.String("message", m.Message))
		default:
			s.log.Warn("unexpected worker message", zap.String("kind", string(msg.Kind())))
		}
	}
}

// watchExit waits for the worker to die and decides whether that death
// gets a respawn. Replaced handles and reload-owned deaths stand down.
func (s *Supervisor) watchExit(h *workerHandle) {
	st := <-h.proc.Done()
	defer close(h.exited)

	s.mu.Lock()
	if s.handle != h {
		// Replaced during reload or shutdown; that path owns cleanup.
		s.mu.Unlock()
		return
	}
	s.handle = nil
	stopped := s.stopped
	reloading := s.phase == PhaseReloading
	if !stopped && !reloading {
		s.state = StateRestarting
	}
	s.mu.Unlock()

	h.corr.Shutdown()
	_ = h.ch.Close()

	if stopped || reloading {
		return
	}

	s.log.Warn("worker exited unexpectedly",
		zap.Int("code", st.Code),
		zap.Error(st.Err),
		zap.Duration("backoff", s.cfg.RestartBackoff))
	time.AfterFunc(s.cfg.RestartBackoff, s.respawn)
}

// respawn replaces a crashed worker and re-registers every connected
// session cold: positions resume from the deterministic world plus the
// worker's own retained-player logic, since a dead worker cannot be asked
// for snapshots.
func (s *Supervisor) respawn() {
	s.mu.Lock()
	if s.stopped || s.handle != nil || s.phase == PhaseReloading {
		s.mu.Unlock()
		return
	}
	s.state = StateSpawning
	s.mu.Unlock()

	h, err := s.startWorker()
	if err != nil {
		s.log.Error("respawn failed, retrying",
			zap.Error(err),
			zap.Duration("backoff", s.cfg.RestartBackoff))
		s.mu.Lock()
		s.state = StateRestarting
		s.mu.Unlock()
		time.AfterFunc(s.cfg.RestartBackoff, s.respawn)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.teardownHandle(h, true)
		return
	}
	s.handle = h
	s.state = StateReady
	s.mu.Unlock()
	go s.watchExit(h)

	s.metrics.RecordRespawn()
	s.registerSessions(nil)
	s.log.Info("worker respawned", zap.Int("sessions", s.sessions.count()))
}

// registerSessions replays every connected session into the current
// worker, attaching restored snapshots where available. Worker-side
// create is idempotent, so replaying an already-known session is safe.
func (s *Supervisor) registerSessions(snaps map[string]ipc.SessionSnapshot) {
	for _, cs := range s.sessions.list() {
		msg := &ipc.CreateSession{
			SessionID:   cs.SessionID,
			Fingerprint: cs.Fingerprint,
			Username:    cs.Username,
			UserID:      cs.UserID,
			Cols:        cs.Cols,
			Rows:        cs.Rows,
		}
		if snap, ok := snaps[cs.SessionID]; ok {
			snap := snap
			msg.RestoredState = &snap
		}
		s.Send(msg)
	}
}

// Send delivers a fire-and-forget message to the current worker. With no
// worker alive the message is silently dropped; the next worker will be
// rebuilt from the session registry instead.
func (s *Supervisor) Send(m ipc.Message) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.ch.Send(m); err != nil && !errors.Is(err, ipc.ErrChannelClosed) {
		s.log.Warn("send to worker failed",
			zap.String("kind", string(m.Kind())), zap.Error(err))
		return
	}
	s.metrics.RecordIPCMessage("supervisor_to_worker")
}

// Request performs a correlated round-trip against the current worker.
func (s *Supervisor) Request(req ipc.Request, timeout time.Duration) (ipc.Message, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil, ErrStopped
	}
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}
	s.metrics.SetPendingRequests(h.corr.PendingCount() + 1)
	resp, err := h.corr.Request(req, timeout)
	s.metrics.SetPendingRequests(h.corr.PendingCount())
	if errors.Is(err, ipc.ErrRequestTimeout) {
		s.metrics.RecordRequestTimeout()
	}
	return resp, err
}

// Stop shuts the worker down and rejects everything in flight. Safe to
// call twice.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	h := s.handle
	s.handle = nil
	s.state = StateStopped
	s.mu.Unlock()

	if h == nil {
		return
	}
	s.stopWorker(h)
	s.log.Info("supervisor stopped")
}

// stopWorker performs the graceful kill ladder: shutdown message, then
// SIGTERM, then SIGKILL when the process lingers.
func (s *Supervisor) stopWorker(h *workerHandle) {
	_ = h.ch.Send(&ipc.Shutdown{})
	_ = h.proc.Terminate()
	select {
	case <-h.exited:
	case <-time.After(2 * time.Second):
		_ = h.proc.Kill()
		select {
		case <-h.exited:
		case <-time.After(time.Second):
		}
	}
	h.corr.Shutdown()
	_ = h.ch.Close()
}

// State reports the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase reports whether a reload is in progress.
func (s *Supervisor) Phase() ReloadPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SessionCount is the number of connected clients.
func (s *Supervisor) SessionCount() int { return s.sessions.count() }
