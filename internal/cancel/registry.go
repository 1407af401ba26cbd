package cancel

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks one controller per client session so the HTTP surface can
// route a cancel request to the session's in-flight turn.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Controller),
	}
}

// Acquire returns the controller for the given session, issuing a fresh
// session ID when none is supplied.
func (r *Registry) Acquire(sessionID string) (string, *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctrl, ok := r.sessions[sessionID]
	if !ok {
		ctrl = NewController()
		r.sessions[sessionID] = ctrl
	}
	return sessionID, ctrl
}

// Cancel signals the session's in-flight request. It reports false for
// unknown sessions and for sessions with no request in flight.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	ctrl, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	return ctrl.Cancel()
}
