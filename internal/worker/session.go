package worker

import (
	"sync"

	"github.com/google/uuid"

	"tileworld/internal/ipc"
)

// View-state defaults for a session that arrives without a restored
// snapshot.
const (
	defaultZoom       = 1
	defaultRenderMode = "color"
	defaultCameraMode = "follow"
)

// viewState is the mutable presentation state of a session: viewport
// geometry, camera, and render settings. It is what survives a worker
// handoff alongside the player's position.
type viewState struct {
	Cols, Rows int

	// Camera position, mirrored from the player each frame while the
	// camera follows; holds its own value in fixed mode.
	CamX, CamY int

	Zoom       int
	RenderMode string
	CameraMode string
}

// Session is the worker-side state for one connected terminal: identity,
// viewport geometry, and presentation settings. Simulation state lives in
// the world keyed by UserID; everything here is per-connection. The frame
// emitter runs on the tick goroutine, so view state is mutex-guarded.
type Session struct {
	ID          string
	UserID      string
	Username    string
	Fingerprint string

	mu       sync.Mutex
	view     viewState
	inputSeq uint64
}

func (s *Session) snapshot() viewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) update(fn func(v *viewState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
}

func (s *Session) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputSeq++
	return s.inputSeq
}

// sessionRegistry holds every live session in the worker. Create and
// destroy are idempotent so the supervisor may safely replay either
// during a handoff.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*Session)}
}

// create registers a session, applying the restored snapshot when one is
// carried over from a previous worker. Returns the session and whether it
// was newly created.
func (r *sessionRegistry) create(m *ipc.CreateSession) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[m.SessionID]; ok {
		return s, false
	}
	s := &Session{
		ID:          m.SessionID,
		UserID:      m.UserID,
		Username:    m.Username,
		Fingerprint: m.Fingerprint,
		view: viewState{
			Cols:       m.Cols,
			Rows:       m.Rows,
			Zoom:       defaultZoom,
			RenderMode: defaultRenderMode,
			CameraMode: defaultCameraMode,
		},
	}
	if s.UserID == "" {
		s.UserID = deriveUserID(m.Fingerprint, m.Username)
	}
	if st := m.RestoredState; st != nil {
		s.view.CamX, s.view.CamY = st.PositionX, st.PositionY
		if st.ZoomLevel > 0 {
			s.view.Zoom = st.ZoomLevel
		}
		if st.RenderMode != "" {
			s.view.RenderMode = st.RenderMode
		}
		if st.CameraMode != "" {
			s.view.CameraMode = st.CameraMode
		}
	}
	r.sessions[m.SessionID] = s
	return s, true
}

// destroy removes a session. Returns it, or nil when already gone.
func (r *sessionRegistry) destroy(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	return s
}

func (r *sessionRegistry) get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

func (r *sessionRegistry) list() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// deriveUserID maps a client identity onto a stable user ID so the same
// person lands on the same player across connections and key types. Keyed
// clients identify by fingerprint; the rest fall back to username.
func deriveUserID(fingerprint, username string) string {
	seed := fingerprint
	if seed == "" {
		seed = "name:" + username
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
