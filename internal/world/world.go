// Package world implements the authoritative simulation that runs inside
// the worker process: a fixed-cadence tick loop that drains queued input
// in timestamp order, advances player animation, and drives NPC behavior
// against procedurally cached terrain. One World hosts every session the
// worker owns; all mutation happens inside a tick or through a small set
// of single-writer update calls.
package world

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"tileworld/internal/ipc"
)

// moveSilence is how long a player may go without movement input before
// isMoving clears and animation stops.
const moveSilence = 200 * time.Millisecond

// animationFrames is the walk-cycle length.
const animationFrames = 4

// defaultNPCCount is how many ambient NPCs spawn with a fresh world.
const defaultNPCCount = 8

// Player is the simulation's view of one user. The entry is retained with
// Online=false on disconnect so a returning player keeps their position.
type Player struct {
	UserID    string
	SessionID string
	Username  string

	X, Y           int
	Direction      string
	AnimationFrame int
	Online         bool
	Moving         bool
	LastMoveTime   time.Time
}

// Options configures a World.
type Options struct {
	Seed           int64
	ChunkCacheSize int
	NPCCount       int
	Clock          Clock
	Generator      TerrainGenerator
	Logger         *zap.Logger
}

// World is the single-instance simulation service. Construct with New,
// drive with Run or Tick, tear down by stopping the tick source.
type World struct {
	log   *zap.Logger
	clock Clock
	rng   *rand.Rand

	mu      sync.Mutex
	players map[string]*Player
	npcs    []*NPC
	tick    uint64

	spatial *SpatialIndex
	chunks  *ChunkCache
	inputs  *InputQueue

	postTick func(tick uint64)
}

// New builds a world from a seed. NPC placement and terrain both derive
// from the seed, so a respawned worker reconstructs the same map.
func New(opts Options) *World {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Generator == nil {
		opts.Generator = SeedGenerator{Seed: opts.Seed}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NPCCount == 0 {
		opts.NPCCount = defaultNPCCount
	}

	w := &World{
		log:     opts.Logger,
		clock:   opts.Clock,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		players: make(map[string]*Player),
		spatial: NewSpatialIndex(),
		chunks:  NewChunkCache(opts.Generator, opts.ChunkCacheSize),
		inputs:  NewInputQueue(),
	}
	for i := 0; i < opts.NPCCount; i++ {
		x, y := w.findWalkable(w.rng.Intn(81)-40, w.rng.Intn(81)-40)
		w.npcs = append(w.npcs, &NPC{
			ID:       fmt.Sprintf("npc-%d", i),
			X:        x,
			Y:        y,
			Affinity: w.rng.Intn(101),
			State:    NPCIdle,
		})
	}
	return w
}

// Run drives ticks from src until stop closes. Blocks.
func (w *World) Run(src TickSource, stop <-chan struct{}) {
	defer src.Stop()
	for {
		select {
		case <-stop:
			return
		case <-src.C():
			w.Tick()
		}
	}
}

// Tick executes one simulation step: drain and apply input in timestamp
// order, advance animation, step NPCs, then fire the post-tick hook. A
// panicking tick is logged with its number and never stops the loop.
func (w *World) Tick() {
	w.mu.Lock()
	w.tick++
	tick := w.tick
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("tick failed",
				zap.Uint64("tick", tick),
				zap.Any("reason", r))
		}
	}()

	w.runTick()

	if hook := w.postTick; hook != nil {
		hook(tick)
	}
}

func (w *World) runTick() {
	batch := w.inputs.Drain()
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ev := range batch {
		w.applyInputLocked(ev, now)
	}
	w.advanceAnimationsLocked(now)
	w.stepNPCsLocked(now)
}

// SetPostTick installs the broadcast hook invoked after every successful
// tick. The hook runs outside the world lock and must not block.
func (w *World) SetPostTick(hook func(tick uint64)) {
	w.postTick = hook
}

// TickCount returns the number of completed tick attempts.
func (w *World) TickCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// QueueInput buffers an input event for the next tick.
func (w *World) QueueInput(ev ipc.InputEvent) {
	w.inputs.Push(ev)
}

// applyInputLocked applies one event. Input for an offline or unknown
// user is a silent no-op.
func (w *World) applyInputLocked(ev ipc.InputEvent, now time.Time) {
	p, ok := w.players[ev.UserID]
	if !ok || !p.Online {
		return
	}
	switch ev.Kind {
	case "move":
		dir := string(ev.Payload)
		dx, dy, ok := directionDelta(dir)
		if !ok {
			return
		}
		p.Direction = dir
		p.Moving = true
		p.LastMoveTime = now
		nx, ny := p.X+dx, p.Y+dy
		if w.chunks.IsWalkable(nx, ny) {
			p.X, p.Y = nx, ny
			w.spatial.Upsert(p.UserID, nx, ny)
		}
	default:
		// Unknown input kinds are dropped; the transport already echoed
		// the sequence number back to the client.
	}
}

func directionDelta(dir string) (int, int, bool) {
	switch dir {
	case "up":
		return 0, -1, true
	case "down":
		return 0, 1, true
	case "left":
		return -1, 0, true
	case "right":
		return 1, 0, true
	}
	return 0, 0, false
}

// advanceAnimationsLocked steps the walk cycle for moving players and
// clears isMoving after the move-silence window.
func (w *World) advanceAnimationsLocked(now time.Time) {
	for _, p := range w.players {
		if !p.Online || !p.Moving {
			continue
		}
		if now.Sub(p.LastMoveTime) > moveSilence {
			p.Moving = false
			continue
		}
		p.AnimationFrame = (p.AnimationFrame + 1) % animationFrames
	}
}

// ConnectPlayer registers a user, reviving the retained entry when they
// reconnect.
func (w *World) ConnectPlayer(userID, sessionID, username string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.players[userID]; ok {
		p.Online = true
		p.SessionID = sessionID
		if username != "" {
			p.Username = username
		}
		return
	}
	x, y := w.findWalkable(0, 0)
	p := &Player{
		UserID:    userID,
		SessionID: sessionID,
		Username:  username,
		X:         x,
		Y:         y,
		Direction: "down",
		Online:    true,
	}
	w.players[userID] = p
	w.spatial.Upsert(userID, x, y)
}

// DisconnectPlayer marks a user offline. The entry is kept so position
// survives a reconnect.
func (w *World) DisconnectPlayer(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.players[userID]; ok {
		p.Online = false
		p.Moving = false
	}
}

// UpdatePlayerPosition is the direct single-writer update path: it touches
// one player's row and the spatial index, no tick synchronization needed.
func (w *World) UpdatePlayerPosition(userID string, x, y int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[userID]
	if !ok {
		return
	}
	p.X, p.Y = x, y
	w.spatial.Upsert(userID, x, y)
}

// PlayerInfo returns the wire form of one player.
func (w *World) PlayerInfo(userID string) (ipc.PlayerInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[userID]
	if !ok {
		return ipc.PlayerInfo{}, false
	}
	return infoOf(p), true
}

// VisiblePlayers returns every online player inside a cols×rows viewport
// centered on (x, y), excluding excludeID.
func (w *World) VisiblePlayers(x, y, cols, rows int, excludeID string) []ipc.PlayerInfo {
	minX, minY := x-cols/2, y-rows/2
	maxX, maxY := x+cols/2, y+rows/2
	ids := w.spatial.QueryRect(minX, minY, maxX, maxY)

	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ipc.PlayerInfo, 0, len(ids))
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		p, ok := w.players[id]
		if !ok || !p.Online {
			continue
		}
		out = append(out, infoOf(p))
	}
	return out
}

// AllPlayers returns every player, online or not.
func (w *World) AllPlayers() []ipc.PlayerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ipc.PlayerInfo, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, infoOf(p))
	}
	return out
}

// VisibleNPCs returns NPCs inside a cols×rows viewport centered on (x, y).
func (w *World) VisibleNPCs(x, y, cols, rows int) []NPCView {
	minX, minY := x-cols/2, y-rows/2
	maxX, maxY := x+cols/2, y+rows/2

	w.mu.Lock()
	defer w.mu.Unlock()
	var out []NPCView
	for _, n := range w.npcs {
		if n.X >= minX && n.X <= maxX && n.Y >= minY && n.Y <= maxY {
			out = append(out, NPCView{ID: n.ID, X: n.X, Y: n.Y, State: n.State})
		}
	}
	return out
}

// TileAt exposes terrain for rendering.
func (w *World) TileAt(x, y int) Tile {
	cx := floorDiv(x, ChunkSize)
	cy := floorDiv(y, ChunkSize)
	return w.chunks.Chunk(cx, cy).At(x, y)
}

func infoOf(p *Player) ipc.PlayerInfo {
	return ipc.PlayerInfo{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Username:  p.Username,
		X:         p.X,
		Y:         p.Y,
		Direction: p.Direction,
		Frame:     p.AnimationFrame,
		Online:    p.Online,
		Moving:    p.Moving,
	}
}

// findWalkable returns the nearest walkable tile to (x, y), scanning in
// growing rings the way players are placed around a spawn point.
func (w *World) findWalkable(x, y int) (int, int) {
	if w.chunks.IsWalkable(x, y) {
		return x, y
	}
	for r := 1; r <= 16; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if w.chunks.IsWalkable(x+dx, y+dy) {
					return x + dx, y + dy
				}
			}
		}
	}
	return x, y
}
