package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileworld/internal/ipc"
)

// fakeClock is a hand-cranked Clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// flatGenerator makes every tile the same.
type flatGenerator struct {
	tile Tile
}

func (g flatGenerator) GenerateChunk(cx, cy int) *Chunk {
	ch := &Chunk{CX: cx, CY: cy}
	for y := range ch.Tiles {
		for x := range ch.Tiles[y] {
			ch.Tiles[y][x] = g.tile
		}
	}
	return ch
}

func newTestWorld(t *testing.T, clk Clock) *World {
	t.Helper()
	if clk == nil {
		clk = &fakeClock{now: time.Unix(1000, 0)}
	}
	return New(Options{
		Seed:      1,
		NPCCount:  -1, // no NPCs unless the test wants them
		Clock:     clk,
		Generator: flatGenerator{tile: TileGrass},
	})
}

func moveEvent(userID, dir string, ts int64) ipc.InputEvent {
	return ipc.InputEvent{
		UserID:    userID,
		Kind:      "move",
		Payload:   []byte(dir),
		Timestamp: ts,
	}
}

func TestInputAppliedInTimestampOrder(t *testing.T) {
	w := newTestWorld(t, nil)
	w.ConnectPlayer("u1", "s1", "ada")

	start, _ := w.PlayerInfo("u1")

	// Arrival order 5, 2, 8; the tick must apply 2, 5, 8. Two rights and
	// one down: final position is deterministic either way, so assert
	// order through the drained batch as well.
	w.QueueInput(moveEvent("u1", "right", 5))
	w.QueueInput(moveEvent("u1", "down", 2))
	w.QueueInput(moveEvent("u1", "right", 8))

	batch := w.inputs.Drain()
	require.Len(t, batch, 3)
	assert.Equal(t, []int64{2, 5, 8},
		[]int64{batch[0].Timestamp, batch[1].Timestamp, batch[2].Timestamp})

	// Re-queue and let the tick consume them.
	for _, ev := range batch {
		w.QueueInput(ev)
	}
	w.Tick()

	p, ok := w.PlayerInfo("u1")
	require.True(t, ok)
	assert.Equal(t, start.X+2, p.X)
	assert.Equal(t, start.Y+1, p.Y)
	assert.Equal(t, "right", p.Direction)
}

func TestStableOrderForEqualTimestamps(t *testing.T) {
	q := NewInputQueue()
	q.Push(ipc.InputEvent{UserID: "a", Timestamp: 7, Sequence: 1})
	q.Push(ipc.InputEvent{UserID: "b", Timestamp: 7, Sequence: 2})
	q.Push(ipc.InputEvent{UserID: "c", Timestamp: 3, Sequence: 3})

	batch := q.Drain()
	require.Len(t, batch, 3)
	assert.Equal(t, "c", batch[0].UserID)
	assert.Equal(t, "a", batch[1].UserID)
	assert.Equal(t, "b", batch[2].UserID)
	assert.Zero(t, q.Len())
}

func TestInputForOfflineOrUnknownUserIsNoOp(t *testing.T) {
	w := newTestWorld(t, nil)
	w.ConnectPlayer("u1", "s1", "ada")
	before, _ := w.PlayerInfo("u1")

	w.DisconnectPlayer("u1")
	w.QueueInput(moveEvent("u1", "right", 1))
	w.QueueInput(moveEvent("ghost", "left", 2))
	w.Tick()

	p, ok := w.PlayerInfo("u1")
	require.True(t, ok, "offline player entry must be retained")
	assert.Equal(t, before.X, p.X)
	assert.Equal(t, before.Y, p.Y)
	assert.False(t, p.Online)
}

func TestBlockedMoveKeepsPosition(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	w := New(Options{
		Seed:      1,
		NPCCount:  -1,
		Clock:     clk,
		Generator: flatGenerator{tile: TileRock},
	})
	w.ConnectPlayer("u1", "s1", "ada")
	before, _ := w.PlayerInfo("u1")

	w.QueueInput(moveEvent("u1", "right", 1))
	w.Tick()

	p, _ := w.PlayerInfo("u1")
	assert.Equal(t, before.X, p.X)
	assert.Equal(t, before.Y, p.Y)
	// The attempt still counts as movement: facing and animation react
	// even against a wall.
	assert.Equal(t, "right", p.Direction)
	assert.True(t, p.Moving)
}

func TestMoveSilenceStopsAnimation(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	w := newTestWorld(t, clk)
	w.ConnectPlayer("u1", "s1", "ada")

	w.QueueInput(moveEvent("u1", "right", 1))
	w.Tick()
	p, _ := w.PlayerInfo("u1")
	require.True(t, p.Moving)

	// Still inside the silence window: animation keeps running.
	clk.Advance(100 * time.Millisecond)
	w.Tick()
	p, _ = w.PlayerInfo("u1")
	assert.True(t, p.Moving)

	// Past the silence window with no further input: movement stops.
	clk.Advance(150 * time.Millisecond)
	w.Tick()
	p, _ = w.PlayerInfo("u1")
	assert.False(t, p.Moving)
}

func TestTickSurvivesPanic(t *testing.T) {
	w := newTestWorld(t, nil)
	w.ConnectPlayer("u1", "s1", "ada")

	calls := 0
	w.SetPostTick(func(uint64) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	})

	w.Tick()
	require.Equal(t, 1, calls)

	// The next tick must run normally with state intact.
	w.QueueInput(moveEvent("u1", "right", 1))
	w.Tick()
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), w.TickCount())

	p, ok := w.PlayerInfo("u1")
	require.True(t, ok)
	assert.True(t, p.Online)
}

func TestReconnectKeepsPosition(t *testing.T) {
	w := newTestWorld(t, nil)
	w.ConnectPlayer("u1", "s1", "ada")
	w.QueueInput(moveEvent("u1", "down", 1))
	w.Tick()
	moved, _ := w.PlayerInfo("u1")

	w.DisconnectPlayer("u1")
	w.ConnectPlayer("u1", "s2", "")

	p, ok := w.PlayerInfo("u1")
	require.True(t, ok)
	assert.True(t, p.Online)
	assert.Equal(t, moved.X, p.X)
	assert.Equal(t, moved.Y, p.Y)
	assert.Equal(t, "s2", p.SessionID)
	assert.Equal(t, "ada", p.Username, "username survives an empty reconnect")
}

func TestUpdatePlayerPositionBypassesTick(t *testing.T) {
	w := newTestWorld(t, nil)
	w.ConnectPlayer("u1", "s1", "ada")

	w.UpdatePlayerPosition("u1", 7, 9)
	p, _ := w.PlayerInfo("u1")
	assert.Equal(t, 7, p.X)
	assert.Equal(t, 9, p.Y)

	// Unknown user is a no-op, not a create.
	w.UpdatePlayerPosition("ghost", 1, 1)
	_, ok := w.PlayerInfo("ghost")
	assert.False(t, ok)
}

func TestVisiblePlayersViewport(t *testing.T) {
	w := newTestWorld(t, nil)
	w.ConnectPlayer("near", "s1", "a")
	w.ConnectPlayer("far", "s2", "b")
	w.ConnectPlayer("me", "s3", "c")
	w.UpdatePlayerPosition("me", 0, 0)
	w.UpdatePlayerPosition("near", 3, 2)
	w.UpdatePlayerPosition("far", 500, 500)

	vis := w.VisiblePlayers(0, 0, 80, 24, "me")
	require.Len(t, vis, 1)
	assert.Equal(t, "near", vis[0].UserID)
}
