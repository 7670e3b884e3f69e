package session

import "sync"

// Subscriptions tracks which socket is subscribed to which group
// conversation. A socket holds at most one active subscription; joining
// a new conversation implicitly leaves the previous one to bound memory.
type Subscriptions struct {
	mu       sync.Mutex
	bySocket map[string]string
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{bySocket: make(map[string]string)}
}

// Join registers the socket's subscription and returns the conversation
// that was implicitly left, or "" if none.
func (s *Subscriptions) Join(socketID, conversationID string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.bySocket[socketID]
	if previous == conversationID {
		previous = ""
	}
	s.bySocket[socketID] = conversationID
	return previous
}

// Leave removes the subscription if it matches the conversation.
// Leaving a conversation the socket is not subscribed to is a no-op.
func (s *Subscriptions) Leave(socketID, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bySocket[socketID] != conversationID {
		return false
	}
	delete(s.bySocket, socketID)
	return true
}

// Drop removes whatever subscription the socket holds, for disconnect
// cleanup. Returns the conversation left, if any.
func (s *Subscriptions) Drop(socketID string) (conversationID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID, ok = s.bySocket[socketID]
	delete(s.bySocket, socketID)
	return conversationID, ok
}

// Conversation reports the socket's active subscription.
func (s *Subscriptions) Conversation(socketID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID, ok := s.bySocket[socketID]
	return conversationID, ok
}
