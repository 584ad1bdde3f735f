package supervisor

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileworld/internal/ipc"
)

func TestReloadKeepsEveryConnection(t *testing.T) {
	sup, spawner := startSupervisor(t)

	proxies := make([]*ConnectionProxy, 0, 3)
	sinks := make([]*fakeSink, 0, 3)
	for _, name := range []string{"ada", "brook", "cleo"} {
		p, s := connect(t, sup, name)
		proxies = append(proxies, p)
		sinks = append(sinks, s)
	}
	require.Equal(t, 3, sup.SessionCount())

	require.NoError(t, sup.Reload())

	// Same number of spawns as worker generations, same sessions, no
	// sink torn down.
	assert.Equal(t, 2, spawner.count())
	assert.Equal(t, 3, sup.SessionCount())
	assert.Equal(t, PhaseRunning, sup.Phase())
	assert.Equal(t, StateReady, sup.State())
	for _, s := range sinks {
		assert.False(t, s.isDestroyed())
	}

	// The replacement worker knows all three sessions.
	resp, err := sup.Request(&ipc.GetAllSessionStates{}, 0)
	require.NoError(t, err)
	states := resp.(*ipc.AllSessionStates)
	ids := make([]string, 0, len(states.States))
	for _, st := range states.States {
		ids = append(ids, st.SessionID)
	}
	want := make([]string, 0, 3)
	for _, p := range proxies {
		want = append(want, p.SessionID())
	}
	assert.ElementsMatch(t, want, ids)
}

func TestReloadPreservesPlayerPosition(t *testing.T) {
	sup, _ := startSupervisor(t)
	proxy, _ := connect(t, sup, "ada")

	cs, ok := sup.sessions.get(proxy.SessionID())
	require.True(t, ok)
	sup.Send(&ipc.UpdatePosition{UserID: cs.UserID, X: 7, Y: 9})

	require.NoError(t, sup.Reload())

	resp, err := sup.Request(&ipc.GetAllPlayers{}, 0)
	require.NoError(t, err)
	players := resp.(*ipc.AllPlayers)
	require.Len(t, players.Players, 1)
	assert.Equal(t, 7, players.Players[0].X)
	assert.Equal(t, 9, players.Players[0].Y)
	assert.Equal(t, cs.UserID, players.Players[0].UserID,
		"identity is stable across worker generations")
}

func TestReloadShowsOverlayThenClears(t *testing.T) {
	sup, _ := startSupervisor(t)
	_, sink := connect(t, sup, "ada")

	require.NoError(t, sup.Reload())

	require.GreaterOrEqual(t, sink.immediateCount(), 2)
	sink.mu.Lock()
	first := sink.immediates[0]
	last := sink.immediates[len(sink.immediates)-1]
	sink.mu.Unlock()

	assert.Contains(t, string(first), "updating")
	assert.True(t, bytes.Equal(last, []byte(clearScreen)),
		"reload must end with a cleared screen for the fresh frame")

	// Frames from the new worker resume.
	before := sink.frameCount()
	require.Eventually(t, func() bool { return sink.frameCount() > before },
		2*time.Second, time.Millisecond)
}

func TestReloadWithNoSessions(t *testing.T) {
	sup, spawner := startSupervisor(t)
	require.NoError(t, sup.Reload())
	assert.Equal(t, 2, spawner.count())
	assert.Equal(t, StateReady, sup.State())
}

func TestReloadSingleFlight(t *testing.T) {
	sup, _ := startSupervisor(t)

	sup.mu.Lock()
	sup.reloading = true
	sup.mu.Unlock()

	assert.ErrorIs(t, sup.Reload(), ErrReloadInProgress)

	sup.mu.Lock()
	sup.reloading = false
	sup.mu.Unlock()
	require.NoError(t, sup.Reload())
}

func TestReloadAfterStopFails(t *testing.T) {
	sup, _ := startSupervisor(t)
	sup.Stop()
	assert.ErrorIs(t, sup.Reload(), ErrStopped)
}

func TestNoConnectionFallsThroughReloadTail(t *testing.T) {
	sup, _ := startSupervisor(t)
	connect(t, sup, "anchor")

	// Connect continuously while a reload runs, so sessions land in every
	// segment of the swap, including between the registry replay and the
	// phase going back to running. Each one must reach the worker: a
	// session the replay missed and the phase check skipped would never
	// get a user ID.
	done := make(chan error, 1)
	go func() { done <- sup.Reload() }()

	var proxies []*ConnectionProxy
	for i := 0; ; i++ {
		sink := &fakeSink{}
		p, err := sup.Connect(ConnectOpts{
			Username: fmt.Sprintf("mid%d", i),
			Cols:     40, Rows: 12,
			Sink: sink,
		})
		require.NoError(t, err)
		proxies = append(proxies, p)

		select {
		case err := <-done:
			require.NoError(t, err)
		default:
			continue
		}
		break
	}

	for _, p := range proxies {
		p := p
		require.Eventually(t, func() bool {
			cs, ok := sup.sessions.get(p.SessionID())
			return ok && cs.UserID != ""
		}, 2*time.Second, time.Millisecond,
			"session %s never reached the worker", p.SessionID())
	}
}

func TestConnectDuringReloadIsRegisteredAfter(t *testing.T) {
	sup, _ := startSupervisor(t)

	// Freeze in the reloading phase, connect, then run a real reload to
	// let the replay pick the new session up.
	sup.mu.Lock()
	sup.phase = PhaseReloading
	sup.mu.Unlock()

	sink := &fakeSink{}
	proxy, err := sup.Connect(ConnectOpts{Username: "late", Cols: 40, Rows: 12, Sink: sink})
	require.NoError(t, err)
	require.GreaterOrEqual(t, sink.immediateCount(), 1, "overlay shown immediately mid-reload")

	sup.mu.Lock()
	sup.phase = PhaseRunning
	sup.mu.Unlock()
	require.NoError(t, sup.Reload())

	require.Eventually(t, func() bool {
		cs, ok := sup.sessions.get(proxy.SessionID())
		return ok && cs.UserID != ""
	}, 2*time.Second, time.Millisecond, "late session never reached a worker")
}
