package client

import (
	"sort"
	"sync"
	"time"

	"chat-core/internal/models"
)

// TypingState tracks which users are currently typing in each
// conversation. Entries leave on an explicit stop_typing or implicitly
// when the sender stops renewing within the timeout, so a peer that
// disconnects mid-keystroke does not type forever.
type TypingState struct {
	mu      sync.Mutex
	timeout time.Duration
	typing  map[string]map[string]*time.Timer
}

func NewTypingState(timeout time.Duration) *TypingState {
	return &TypingState{
		timeout: timeout,
		typing:  make(map[string]map[string]*time.Timer),
	}
}

// Attach registers the state's frame listeners on the transport.
func (ts *TypingState) Attach(t *Transport) {
	t.OnFrame(models.FrameTyping, ts.HandleTyping)
	t.OnFrame(models.FrameStopTyping, ts.HandleStopTyping)
}

func (ts *TypingState) HandleTyping(frame models.Frame) {
	var payload models.TypingPayload
	if err := frame.DecodeData(&payload); err != nil {
		return
	}
	if payload.ConversationID == "" || payload.UserID == "" {
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	users := ts.typing[payload.ConversationID]
	if users == nil {
		users = make(map[string]*time.Timer)
		ts.typing[payload.ConversationID] = users
	}
	if timer, ok := users[payload.UserID]; ok {
		timer.Stop()
	}
	conversationID, userID := payload.ConversationID, payload.UserID
	users[userID] = time.AfterFunc(ts.timeout, func() {
		ts.remove(conversationID, userID)
	})
}

func (ts *TypingState) HandleStopTyping(frame models.Frame) {
	var payload models.TypingPayload
	if err := frame.DecodeData(&payload); err != nil {
		return
	}
	ts.remove(payload.ConversationID, payload.UserID)
}

func (ts *TypingState) remove(conversationID, userID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	users := ts.typing[conversationID]
	if timer, ok := users[userID]; ok {
		timer.Stop()
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(ts.typing, conversationID)
	}
}

// TypingUsers returns the ids currently typing in the conversation,
// sorted for stable rendering.
func (ts *TypingState) TypingUsers(conversationID string) []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	users := ts.typing[conversationID]
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
