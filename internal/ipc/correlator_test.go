package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoResponder answers every GetAllPlayers request on peer with an
// AllPlayers response carrying the same request ID.
func echoResponder(t *testing.T, peer *Channel) {
	t.Helper()
	go func() {
		for {
			msg, err := peer.Recv()
			if err != nil {
				return
			}
			req, ok := msg.(Request)
			if !ok {
				continue
			}
			peer.Send(&AllPlayers{Correlated: Correlated{ReqID: req.RequestID()}})
		}
	}()
}

func TestCorrelatorRoundTrip(t *testing.T) {
	a, b := pipePair(t)
	echoResponder(t, b)

	corr := NewCorrelator(a)
	go pumpResponses(a, corr)

	resp, err := corr.Request(&GetAllPlayers{}, time.Second)
	require.NoError(t, err)
	_, ok := resp.(*AllPlayers)
	assert.True(t, ok, "got %T", resp)
	assert.Equal(t, 0, corr.PendingCount())
}

// pumpResponses feeds a's incoming messages into the correlator, the way
// the supervisor's receive loop does.
func pumpResponses(a *Channel, corr *Correlator) {
	for {
		msg, err := a.Recv()
		if err != nil {
			corr.Shutdown()
			return
		}
		if resp, ok := msg.(Response); ok {
			corr.Resolve(resp)
		}
	}
}

func TestCorrelatorConcurrentExactlyOnce(t *testing.T) {
	a, b := pipePair(t)
	echoResponder(t, b)

	corr := NewCorrelator(a)
	go pumpResponses(a, corr)

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = corr.Request(&GetAllPlayers{}, 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	// Every waiter settled exactly once: nothing may remain pending.
	assert.Equal(t, 0, corr.PendingCount())
}

// discardResponder drains peer without ever answering. net.Pipe has no
// buffer, so an unread peer would block the send itself.
func discardResponder(t *testing.T, peer *Channel) {
	t.Helper()
	go func() {
		for {
			if _, err := peer.Recv(); err != nil {
				return
			}
		}
	}()
}

func TestCorrelatorTimeout(t *testing.T) {
	a, b := pipePair(t)
	discardResponder(t, b)
	corr := NewCorrelator(a)

	const timeout = 100 * time.Millisecond
	start := time.Now()
	_, err := corr.Request(&GetAllPlayers{}, timeout)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+100*time.Millisecond)
	assert.Equal(t, 0, corr.PendingCount())
}

func TestCorrelatorLateResponseDropped(t *testing.T) {
	a, b := pipePair(t)
	discardResponder(t, b)
	corr := NewCorrelator(a)

	_, err := corr.Request(&GetAllPlayers{}, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrRequestTimeout)

	// A response arriving after the timeout settled must be a no-op.
	corr.Resolve(&AllPlayers{Correlated: Correlated{ReqID: 1}})
	assert.Equal(t, 0, corr.PendingCount())
}

func TestCorrelatorShutdownRejectsInFlight(t *testing.T) {
	a, b := pipePair(t)
	discardResponder(t, b)
	corr := NewCorrelator(a)

	done := make(chan error, 1)
	go func() {
		_, err := corr.Request(&GetAllPlayers{}, 5*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool { return corr.PendingCount() == 1 },
		time.Second, time.Millisecond)
	corr.Shutdown()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("in-flight request not rejected")
	}
	assert.Equal(t, 0, corr.PendingCount())
}
