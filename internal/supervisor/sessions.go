package supervisor

import "sync"

// ConnectedSession is the supervisor's record of one live client
// connection. It is the source of truth for re-registration: as long as
// an entry exists here, some worker must be told about it after every
// spawn.
type ConnectedSession struct {
	SessionID   string
	Username    string
	Fingerprint string
	UserID      string
	Cols, Rows  int
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*ConnectedSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*ConnectedSession)}
}

func (r *sessionRegistry) add(s *ConnectedSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID] = s
}

func (r *sessionRegistry) remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	return ok
}

func (r *sessionRegistry) setUserID(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.UserID = userID
	}
}

func (r *sessionRegistry) setSize(sessionID string, cols, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Cols, s.Rows = cols, rows
	}
}

// get returns a copy; ok is false for unknown sessions.
func (r *sessionRegistry) get(sessionID string) (ConnectedSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return *s, true
	}
	return ConnectedSession{}, false
}

// list returns copies so callers never race the registry.
func (r *sessionRegistry) list() []ConnectedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectedSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
