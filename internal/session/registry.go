package session

import "sync"

// Registry maps user id to that user's live sessions, keyed by socket id.
// A user may hold several simultaneous connections (multiple devices).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.userID] == nil {
		r.sessions[s.userID] = make(map[string]*Session)
	}
	r.sessions[s.userID][s.socketID] = s
}

func (r *Registry) Remove(userID, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessions, ok := r.sessions[userID]; ok {
		delete(sessions, socketID)
		if len(sessions) == 0 {
			delete(r.sessions, userID)
		}
	}
}

// Sessions returns the user's live sessions.
func (r *Registry) Sessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.sessions[userID]
	if len(sessions) == 0 {
		return nil
	}
	result := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, s)
	}
	return result
}

// ConnectionCount reports the number of live sockets across all users.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, sessions := range r.sessions {
		total += len(sessions)
	}
	return total
}
