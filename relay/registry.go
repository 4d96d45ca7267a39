package relay

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is the process-wide session table, keyed by session token. All
// access is serialized; handlers for different transports share it.
type Registry struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(log *zap.SugaredLogger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for token, creating it on first access.
func (r *Registry) GetOrCreate(token string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		s = NewSession(r.log, token)
		r.sessions[token] = s
		r.log.Infof("created session %s", token)
	}
	return s
}

// Get returns the session for token, if one exists.
func (r *Registry) Get(token string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	return s, ok
}

// Remove drops the session from the table. The caller closes the session
// itself; transports that cannot observe disconnects never call this, and
// their sessions live for the rest of the process.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
