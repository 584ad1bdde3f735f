// Package worker is the runtime that lives inside the worker process. It
// speaks the IPC protocol over the pipe the supervisor hands it, owns the
// world simulation, and renders one frame per session per tick. The
// supervisor may kill and respawn this process at any moment; everything
// the worker needs to resume is either re-derivable from the world seed
// or replayed through create_session.
package worker

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tileworld/internal/ipc"
	"tileworld/internal/render"
	"tileworld/internal/world"
)

// Options configures a Runtime. Zero values are fine for production; the
// knobs exist so tests can inject clocks and tick sources.
type Options struct {
	Logger   *zap.Logger
	Renderer render.FrameRenderer
	Clock    world.Clock

	// TickSource overrides the wall-clock ticker built from init's tick
	// rate. Tests drive ticks by hand through it.
	TickSource world.TickSource

	// NPCCount seeds the world's ambient NPC population; zero means the
	// world default, negative disables NPCs.
	NPCCount int
}

// Runtime is one worker process's brain: a single-goroutine dispatch loop
// over the supervisor channel plus the world tick loop it starts on init.
type Runtime struct {
	log      *zap.Logger
	ch       *ipc.Channel
	renderer render.FrameRenderer
	clock    world.Clock
	tickSrc  world.TickSource
	npcCount int

	sessions *sessionRegistry

	w         *world.World
	stopTicks chan struct{}
	ticksDone chan struct{}
	stopped   atomic.Bool
}

// New builds a runtime over rw, which carries the supervisor protocol
// (stdin+stdout in production, a pipe in tests).
func New(rw io.ReadWriteCloser, opts Options) *Runtime {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Renderer == nil {
		opts.Renderer = render.ANSI{}
	}
	if opts.Clock == nil {
		opts.Clock = world.SystemClock{}
	}
	return &Runtime{
		log:      opts.Logger,
		ch:       ipc.NewChannel(rw),
		renderer: opts.Renderer,
		clock:    opts.Clock,
		tickSrc:  opts.TickSource,
		npcCount: opts.NPCCount,
		sessions: newSessionRegistry(),
	}
}

// Run processes messages until shutdown or channel loss. A closed channel
// means the supervisor is gone, which is a normal way to die.
func (r *Runtime) Run() error {
	defer r.stopWorld()
	for {
		msg, err := r.ch.Recv()
		if err != nil {
			if errors.Is(err, ipc.ErrChannelClosed) {
				return nil
			}
			return fmt.Errorf("worker: recv: %w", err)
		}
		if done, err := r.dispatch(msg); err != nil {
			return err
		} else if done {
			return nil
		}
	}
}

// dispatch handles one supervisor message. Every request produces exactly
// one response; fire-and-forget kinds produce none.
func (r *Runtime) dispatch(msg ipc.Message) (done bool, err error) {
	switch m := msg.(type) {
	case *ipc.Init:
		r.handleInit(m)

	case *ipc.PlayerConnect:
		if r.w != nil {
			r.w.ConnectPlayer(m.UserID, m.SessionID, m.Username)
		}
	case *ipc.PlayerDisconnect:
		if r.w != nil {
			r.w.DisconnectPlayer(m.UserID)
		}
	case *ipc.PlayerInput:
		if r.w != nil {
			r.w.QueueInput(m.Input)
		}
	case *ipc.UpdatePosition:
		if r.w != nil {
			r.w.UpdatePlayerPosition(m.UserID, m.X, m.Y)
		}

	case *ipc.GetVisiblePlayers:
		resp := &ipc.VisiblePlayers{Correlated: ipc.Correlated{ReqID: m.RequestID()}}
		if r.w != nil {
			resp.Players = r.w.VisiblePlayers(m.X, m.Y, m.Cols, m.Rows, m.ExcludeID)
		}
		r.send(resp)
	case *ipc.GetAllPlayers:
		resp := &ipc.AllPlayers{Correlated: ipc.Correlated{ReqID: m.RequestID()}}
		if r.w != nil {
			resp.Players = r.w.AllPlayers()
		}
		r.send(resp)

	case *ipc.CreateSession:
		r.handleCreateSession(m)
	case *ipc.DestroySession:
		r.handleDestroySession(m)
	case *ipc.SessionInput:
		r.handleSessionInput(m)
	case *ipc.SessionResize:
		if s := r.sessions.get(m.SessionID); s != nil {
			s.update(func(v *viewState) { v.Cols, v.Rows = m.Cols, m.Rows })
			r.emitFrame(s)
		}
	case *ipc.GetAllSessionStates:
		r.send(&ipc.AllSessionStates{
			Correlated: ipc.Correlated{ReqID: m.RequestID()},
			States:     r.snapshotSessions(),
		})

	case *ipc.Shutdown:
		r.log.Info("shutdown requested")
		return true, nil

	default:
		r.send(&ipc.Error{Message: fmt.Sprintf("unexpected message kind %q", msg.Kind())})
	}
	return false, nil
}

func (r *Runtime) handleInit(m *ipc.Init) {
	if r.w != nil {
		// Re-init from a confused supervisor; acknowledge and keep the
		// running world.
		r.send(&ipc.Ready{})
		return
	}
	r.w = world.New(world.Options{
		Seed:           m.WorldSeed,
		ChunkCacheSize: m.ChunkCacheSize,
		NPCCount:       r.npcCount,
		Clock:          r.clock,
		Logger:         r.log.Named("world"),
	})
	r.w.SetPostTick(func(uint64) { r.emitFrames() })

	src := r.tickSrc
	if src == nil {
		rate := m.TickRate
		if rate <= 0 {
			rate = 10
		}
		src = world.NewTicker(time.Second / time.Duration(rate))
	}
	r.stopTicks = make(chan struct{})
	r.ticksDone = make(chan struct{})
	go func() {
		defer close(r.ticksDone)
		r.w.Run(src, r.stopTicks)
	}()

	r.log.Info("world started",
		zap.Int64("seed", m.WorldSeed),
		zap.Int("tick_rate", m.TickRate))
	r.send(&ipc.Ready{})
}

func (r *Runtime) handleCreateSession(m *ipc.CreateSession) {
	if r.w == nil {
		r.send(&ipc.Error{Message: "create_session before init"})
		r.send(&ipc.SessionEnded{SessionID: m.SessionID})
		return
	}
	s, created := r.sessions.create(m)
	if !created {
		return
	}
	r.w.ConnectPlayer(s.UserID, s.ID, s.Username)
	if m.RestoredState != nil {
		r.w.UpdatePlayerPosition(s.UserID, m.RestoredState.PositionX, m.RestoredState.PositionY)
	}
	r.send(&ipc.SessionUserID{SessionID: s.ID, UserID: s.UserID})
	// First frame goes out immediately so the client is not blank until
	// the next tick.
	r.emitFrame(s)
}

func (r *Runtime) handleDestroySession(m *ipc.DestroySession) {
	s := r.sessions.destroy(m.SessionID)
	if s == nil {
		return
	}
	if r.w != nil {
		r.w.DisconnectPlayer(s.UserID)
	}
	r.send(&ipc.SessionEnded{SessionID: s.ID})
}

// handleSessionInput decodes raw terminal bytes. Movement becomes queued
// input events stamped at arrival time; presentation keys mutate session
// view state directly since they never touch the simulation.
func (r *Runtime) handleSessionInput(m *ipc.SessionInput) {
	s := r.sessions.get(m.SessionID)
	if s == nil || r.w == nil {
		return
	}
	now := r.clock.Now().UnixMilli()
	redraw := false
	for _, key := range decodeKeys(m.Data) {
		switch key {
		case keyUp, keyDown, keyLeft, keyRight:
			r.w.QueueInput(ipc.InputEvent{
				UserID:    s.UserID,
				SessionID: s.ID,
				Kind:      "move",
				Payload:   []byte(key),
				Timestamp: now,
				Sequence:  s.nextSeq(),
			})
		default:
			s.update(func(v *viewState) { applyViewKey(v, key) })
			redraw = true
		}
	}
	if redraw {
		r.emitFrame(s)
	}
}

// snapshotSessions captures the handoff state for every session: world
// position plus view settings.
func (r *Runtime) snapshotSessions() []ipc.SessionSnapshot {
	list := r.sessions.list()
	out := make([]ipc.SessionSnapshot, 0, len(list))
	for _, s := range list {
		v := s.snapshot()
		snap := ipc.SessionSnapshot{
			SessionID:  s.ID,
			PositionX:  v.CamX,
			PositionY:  v.CamY,
			ZoomLevel:  v.Zoom,
			RenderMode: v.RenderMode,
			CameraMode: v.CameraMode,
		}
		if r.w != nil {
			if p, ok := r.w.PlayerInfo(s.UserID); ok {
				snap.PositionX, snap.PositionY = p.X, p.Y
			}
		}
		out = append(out, snap)
	}
	return out
}

func (r *Runtime) emitFrames() {
	for _, s := range r.sessions.list() {
		r.emitFrame(s)
	}
}

// emitFrame renders one session's viewport and ships it. Send errors are
// ignored; a dead channel ends the dispatch loop on its own.
func (r *Runtime) emitFrame(s *Session) {
	if r.w == nil {
		return
	}
	p, ok := r.w.PlayerInfo(s.UserID)
	if !ok {
		return
	}
	var v viewState
	s.update(func(vs *viewState) {
		if vs.CameraMode == "follow" {
			vs.CamX, vs.CamY = p.X, p.Y
		}
		v = *vs
	})

	viewW := v.Cols
	if v.Zoom > 1 {
		viewW = v.Cols / v.Zoom
	}
	viewH := v.Rows

	scene := render.Scene{
		Cols:    v.Cols,
		Rows:    v.Rows,
		CenterX: v.CamX,
		CenterY: v.CamY,
		Zoom:    v.Zoom,
		TileGlyph: func(x, y int) rune {
			return tileGlyph(r.w.TileAt(x, y))
		},
		Status: fmt.Sprintf(" %s  (%d,%d)  zoom %dx  tick %d ",
			s.Username, p.X, p.Y, v.Zoom, r.w.TickCount()),
		Mono: v.RenderMode == "mono",
	}
	scene.Sprites = append(scene.Sprites, render.Sprite{X: p.X, Y: p.Y, Glyph: playerGlyph(p, true)})
	for _, other := range r.w.VisiblePlayers(v.CamX, v.CamY, viewW, viewH, s.UserID) {
		scene.Sprites = append(scene.Sprites, render.Sprite{X: other.X, Y: other.Y, Glyph: playerGlyph(other, false)})
	}
	for _, n := range r.w.VisibleNPCs(v.CamX, v.CamY, viewW, viewH) {
		scene.Sprites = append(scene.Sprites, render.Sprite{X: n.X, Y: n.Y, Glyph: npcGlyph(n.State)})
	}

	frame := r.renderer.Render(scene)
	if len(frame) == 0 {
		return
	}
	r.send(&ipc.SessionOutput{SessionID: s.ID, Output: frame})
}

func tileGlyph(t world.Tile) rune {
	switch t {
	case world.TileGrass:
		return '.'
	case world.TileDirt:
		return ','
	case world.TileWater:
		return '~'
	case world.TileRock:
		return '#'
	}
	return ' '
}

func playerGlyph(p ipc.PlayerInfo, self bool) rune {
	if self {
		return '@'
	}
	if !p.Moving {
		return 'o'
	}
	// Walk cycle alternates glyphs so movement reads at a glance.
	if p.Frame%2 == 0 {
		return 'o'
	}
	return 'O'
}

func npcGlyph(state world.NPCState) rune {
	switch state {
	case world.NPCFollowing:
		return 'f'
	case world.NPCFleeing:
		return '!'
	case world.NPCWandering:
		return 'w'
	}
	return 'n'
}

func (r *Runtime) send(m ipc.Message) {
	if err := r.ch.Send(m); err != nil && !errors.Is(err, ipc.ErrChannelClosed) {
		r.log.Warn("send failed", zap.String("kind", string(m.Kind())), zap.Error(err))
	}
}

func (r *Runtime) stopWorld() {
	if r.stopped.Swap(true) {
		return
	}
	if r.stopTicks != nil {
		close(r.stopTicks)
		<-r.ticksDone
	}
	r.ch.Close()
}
