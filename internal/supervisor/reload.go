package supervisor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tileworld/internal/ipc"
)

// Reload swaps the live worker for a fresh one without dropping a single
// connection. Sequence: freeze output behind the overlay, snapshot every
// session out of the old worker, stop it, let the pipe settle, start the
// replacement, then replay the session registry with snapshots attached.
// A snapshot failure degrades to a cold handoff rather than aborting;
// positions then come from the worker's retained-player state.
func (s *Supervisor) Reload() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.reloading {
		s.mu.Unlock()
		return ErrReloadInProgress
	}
	s.reloading = true
	s.phase = PhaseReloading
	old := s.handle
	s.mu.Unlock()

	start := time.Now()
	s.events.reload.publish(PhaseReloading)
	defer func() {
		s.mu.Lock()
		s.phase = PhaseRunning
		s.reloading = false
		s.mu.Unlock()
		s.events.reload.publish(PhaseRunning)
	}()

	return s.swapWorker(old, start)
}

// swapWorker is the body of a reload once the phase is held. It flips the
// phase back to running itself, in the same critical section that installs
// the new handle: a Connect that still observes PhaseReloading is therefore
// guaranteed to have entered the registry before the replay lists it, and a
// Connect that observes PhaseRunning has a live handle to send to. Either
// way no session can fall between the replay and the phase flip.
func (s *Supervisor) swapWorker(old *workerHandle, start time.Time) error {
	snaps := s.collectSnapshots(old)

	if old != nil {
		s.mu.Lock()
		if s.handle == old {
			s.handle = nil
		}
		s.mu.Unlock()
		s.stopWorker(old)
	}
	time.Sleep(s.cfg.SettleDelay)

	h, err := s.startWorker()
	if err != nil {
		// One more attempt before giving up; a reload must not leave the
		// server dead when the old worker was healthy a moment ago.
		s.log.Error("replacement worker failed, retrying once", zap.Error(err))
		h, err = s.startWorker()
		if err != nil {
			return fmt.Errorf("supervisor: reload: %w", err)
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.teardownHandle(h, true)
		return ErrStopped
	}
	s.handle = h
	s.state = StateReady
	s.phase = PhaseRunning
	s.mu.Unlock()
	go s.watchExit(h)

	s.registerSessions(snaps)

	elapsed := time.Since(start)
	s.metrics.RecordReload(elapsed.Seconds())
	s.log.Info("worker reloaded",
		zap.Duration("took", elapsed),
		zap.Int("sessions", s.sessions.count()),
		zap.Int("snapshots", len(snaps)))
	return nil
}

// collectSnapshots asks the outgoing worker for every session's handoff
// state. Any failure returns an empty map; reload then proceeds cold.
func (s *Supervisor) collectSnapshots(h *workerHandle) map[string]ipc.SessionSnapshot {
	snaps := make(map[string]ipc.SessionSnapshot)
	if h == nil || s.sessions.count() == 0 {
		return snaps
	}
	resp, err := h.corr.Request(&ipc.GetAllSessionStates{}, s.cfg.SnapshotTimeout)
	if err != nil {
		s.metrics.RecordSnapshotFailure()
		s.log.Warn("session snapshot failed, continuing cold", zap.Error(err))
		return snaps
	}
	states, ok := resp.(*ipc.AllSessionStates)
	if !ok {
		s.metrics.RecordSnapshotFailure()
		s.log.Warn("unexpected snapshot response",
			zap.String("kind", string(resp.Kind())))
		return snaps
	}
	for _, st := range states.States {
		snaps[st.SessionID] = st
	}
	return snaps
}
