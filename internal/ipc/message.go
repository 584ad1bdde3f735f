// Package ipc carries the supervisor↔worker protocol: a framed duplex
// channel over the worker's stdin/stdout, a tagged-union message model
// decoded at a single dispatch point, and a request correlator that turns
// one-way messages into request/response pairs.
package ipc

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind discriminates message types on the wire.
type Kind string

// Supervisor → worker.
const (
	KindInit            Kind = "init"
	KindPlayerConnect   Kind = "player_connect"
	KindPlayerDisc      Kind = "player_disconnect"
	KindPlayerInput     Kind = "player_input"
	KindUpdatePosition  Kind = "update_position"
	KindGetVisible      Kind = "get_visible_players"
	KindGetAllPlayers   Kind = "get_all_players"
	KindCreateSession   Kind = "create_session"
	KindDestroySession  Kind = "destroy_session"
	KindSessionInput    Kind = "session_input"
	KindSessionResize   Kind = "session_resize"
	KindGetAllSessions  Kind = "get_all_session_states"
	KindShutdown        Kind = "shutdown"
)

// Worker → supervisor.
const (
	KindReady           Kind = "ready"
	KindVisiblePlayers  Kind = "visible_players"
	KindAllPlayers      Kind = "all_players"
	KindSpriteReload    Kind = "sprite_reload"
	KindSessionOutput   Kind = "session_output"
	KindSessionUserID   Kind = "session_user_id"
	KindSessionEnded    Kind = "session_ended"
	KindAllSessions     Kind = "all_session_states"
	KindError           Kind = "error"
)

// ErrUnknownKind is returned when a frame carries a kind this build does
// not recognize.
var ErrUnknownKind = errors.New("ipc: unknown message kind")

// Message is the closed set of protocol messages. Adding a kind requires a
// constant above, a struct below, and a case in decodePayload, so the
// exhaustive decode switch keeps the three in sync.
type Message interface {
	Kind() Kind
}

// Request is a message that expects a correlated response. The correlator
// assigns the ID; handlers echo it back on the matching Response.
type Request interface {
	Message
	RequestID() uint64
	SetRequestID(id uint64)
}

// Response is a worker reply carrying the request ID it settles.
type Response interface {
	Message
	RequestID() uint64
}

// Correlated is embedded by every request/response pair.
type Correlated struct {
	ReqID uint64 `msgpack:"rid"`
}

func (c *Correlated) RequestID() uint64      { return c.ReqID }
func (c *Correlated) SetRequestID(id uint64) { c.ReqID = id }

// InputEvent is one unit of queued player input. Sequence numbers are
// per-session monotonic and exist for client acknowledgment only; the
// simulation orders strictly by Timestamp.
type InputEvent struct {
	UserID    string `msgpack:"uid"`
	SessionID string `msgpack:"sid"`
	Kind      string `msgpack:"k"`
	Payload   []byte `msgpack:"p"`
	Timestamp int64  `msgpack:"ts"` // unix milliseconds
	Sequence  uint64 `msgpack:"seq"`
}

// PlayerInfo is the wire form of one simulation player.
type PlayerInfo struct {
	UserID    string `msgpack:"uid"`
	SessionID string `msgpack:"sid"`
	Username  string `msgpack:"name"`
	X         int    `msgpack:"x"`
	Y         int    `msgpack:"y"`
	Direction string `msgpack:"dir"`
	Frame     int    `msgpack:"frame"`
	Online    bool   `msgpack:"online"`
	Moving    bool   `msgpack:"moving"`
}

// SessionSnapshot is the presentation state that must survive a worker
// respawn: restored into the new worker at session re-creation.
type SessionSnapshot struct {
	SessionID  string `msgpack:"sid"`
	PositionX  int    `msgpack:"x"`
	PositionY  int    `msgpack:"y"`
	ZoomLevel  int    `msgpack:"zoom"`
	RenderMode string `msgpack:"render"`
	CameraMode string `msgpack:"camera"`
}

// ─── Supervisor → worker ────────────────────────────────────────────────────

type Init struct {
	WorldSeed      int64 `msgpack:"seed"`
	TickRate       int   `msgpack:"tick_rate"`
	ChunkCacheSize int   `msgpack:"chunk_cache"`
}

type PlayerConnect struct {
	UserID    string `msgpack:"uid"`
	SessionID string `msgpack:"sid"`
	Username  string `msgpack:"name"`
}

type PlayerDisconnect struct {
	UserID string `msgpack:"uid"`
}

type PlayerInput struct {
	Input InputEvent `msgpack:"input"`
}

type UpdatePosition struct {
	UserID string `msgpack:"uid"`
	X      int    `msgpack:"x"`
	Y      int    `msgpack:"y"`
}

type GetVisiblePlayers struct {
	Correlated `msgpack:",inline"`
	X          int    `msgpack:"x"`
	Y          int    `msgpack:"y"`
	Cols       int    `msgpack:"cols"`
	Rows       int    `msgpack:"rows"`
	ExcludeID  string `msgpack:"exclude"`
}

type GetAllPlayers struct {
	Correlated `msgpack:",inline"`
}

type CreateSession struct {
	SessionID     string           `msgpack:"sid"`
	Fingerprint   string           `msgpack:"fp"`
	Username      string           `msgpack:"name"`
	UserID        string           `msgpack:"uid"`
	Cols          int              `msgpack:"cols"`
	Rows          int              `msgpack:"rows"`
	RestoredState *SessionSnapshot `msgpack:"restored,omitempty"`
}

type DestroySession struct {
	SessionID string `msgpack:"sid"`
}

type SessionInput struct {
	SessionID string `msgpack:"sid"`
	Data      []byte `msgpack:"data"`
}

type SessionResize struct {
	SessionID string `msgpack:"sid"`
	Cols      int    `msgpack:"cols"`
	Rows      int    `msgpack:"rows"`
}

type GetAllSessionStates struct {
	Correlated `msgpack:",inline"`
}

type Shutdown struct{}

// ─── Worker → supervisor ────────────────────────────────────────────────────

type Ready struct{}

type VisiblePlayers struct {
	Correlated `msgpack:",inline"`
	Players    []PlayerInfo `msgpack:"players"`
}

type AllPlayers struct {
	Correlated `msgpack:",inline"`
	Players    []PlayerInfo `msgpack:"players"`
}

// SpriteReload is broadcast with no request ID: best-effort, at-most-once.
type SpriteReload struct {
	UserID string `msgpack:"uid"`
}

type SessionOutput struct {
	SessionID string `msgpack:"sid"`
	Output    []byte `msgpack:"output"`
}

type SessionUserID struct {
	SessionID string `msgpack:"sid"`
	UserID    string `msgpack:"uid"`
}

type SessionEnded struct {
	SessionID string `msgpack:"sid"`
}

type AllSessionStates struct {
	Correlated `msgpack:",inline"`
	States     []SessionSnapshot `msgpack:"states"`
}

type Error struct {
	Message string `msgpack:"message"`
}

func (*Init) Kind() Kind                { return KindInit }
func (*PlayerConnect) Kind() Kind       { return KindPlayerConnect }
func (*PlayerDisconnect) Kind() Kind    { return KindPlayerDisc }
func (*PlayerInput) Kind() Kind         { return KindPlayerInput }
func (*UpdatePosition) Kind() Kind      { return KindUpdatePosition }
func (*GetVisiblePlayers) Kind() Kind   { return KindGetVisible }
func (*GetAllPlayers) Kind() Kind       { return KindGetAllPlayers }
func (*CreateSession) Kind() Kind       { return KindCreateSession }
func (*DestroySession) Kind() Kind      { return KindDestroySession }
func (*SessionInput) Kind() Kind        { return KindSessionInput }
func (*SessionResize) Kind() Kind       { return KindSessionResize }
func (*GetAllSessionStates) Kind() Kind { return KindGetAllSessions }
func (*Shutdown) Kind() Kind            { return KindShutdown }
func (*Ready) Kind() Kind               { return KindReady }
func (*VisiblePlayers) Kind() Kind      { return KindVisiblePlayers }
func (*AllPlayers) Kind() Kind          { return KindAllPlayers }
func (*SpriteReload) Kind() Kind        { return KindSpriteReload }
func (*SessionOutput) Kind() Kind       { return KindSessionOutput }
func (*SessionUserID) Kind() Kind       { return KindSessionUserID }
func (*SessionEnded) Kind() Kind        { return KindSessionEnded }
func (*AllSessionStates) Kind() Kind    { return KindAllSessions }
func (*Error) Kind() Kind               { return KindError }

// envelope is the outer wire frame: kind tag plus raw payload.
type envelope struct {
	Kind    Kind               `msgpack:"k"`
	Payload msgpack.RawMessage `msgpack:"p"`
}

// encodeMessage wraps a message in an envelope and marshals it.
func encodeMessage(m Message) ([]byte, error) {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal %s payload: %w", m.Kind(), err)
	}
	return msgpack.Marshal(envelope{Kind: m.Kind(), Payload: payload})
}

// decodeMessage is the single dispatch point for the whole taxonomy.
func decodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal envelope: %w", err)
	}
	msg, err := emptyMessage(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal %s payload: %w", env.Kind, err)
	}
	return msg, nil
}

// emptyMessage maps a kind to a zero value of its concrete type.
func emptyMessage(k Kind) (Message, error) {
	switch k {
	case KindInit:
		return &Init{}, nil
	case KindPlayerConnect:
		return &PlayerConnect{}, nil
	case KindPlayerDisc:
		return &PlayerDisconnect{}, nil
	case KindPlayerInput:
		return &PlayerInput{}, nil
	case KindUpdatePosition:
		return &UpdatePosition{}, nil
	case KindGetVisible:
		return &GetVisiblePlayers{}, nil
	case KindGetAllPlayers:
		return &GetAllPlayers{}, nil
	case KindCreateSession:
		return &CreateSession{}, nil
	case KindDestroySession:
		return &DestroySession{}, nil
	case KindSessionInput:
		return &SessionInput{}, nil
	case KindSessionResize:
		return &SessionResize{}, nil
	case KindGetAllSessions:
		return &GetAllSessionStates{}, nil
	case KindShutdown:
		return &Shutdown{}, nil
	case KindReady:
		return &Ready{}, nil
	case KindVisiblePlayers:
		return &VisiblePlayers{}, nil
	case KindAllPlayers:
		return &AllPlayers{}, nil
	case KindSpriteReload:
		return &SpriteReload{}, nil
	case KindSessionOutput:
		return &SessionOutput{}, nil
	case KindSessionUserID:
		return &SessionUserID{}, nil
	case KindSessionEnded:
		return &SessionEnded{}, nil
	case KindAllSessions:
		return &AllSessionStates{}, nil
	case KindError:
		return &Error{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}
