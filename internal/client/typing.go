package client

import (
	"sync"
	"time"

	"chat-core/internal/models"
)

// TypingNotifier rate-limits typing indicators for one conversation.
// Outgoing typing frames are throttled to at most one per window while
// the user keeps typing; stop_typing goes out after an inactivity
// window, or immediately on blur.
type TypingNotifier struct {
	mu             sync.Mutex
	transport      Sender
	conversationID string
	throttle       time.Duration
	idleTimeout    time.Duration

	lastSent  time.Time
	active    bool
	idleTimer *time.Timer
	now       func() time.Time
}

func NewTypingNotifier(transport Sender, conversationID string, throttle, idleTimeout time.Duration) *TypingNotifier {
	return &TypingNotifier{
		transport:      transport,
		conversationID: conversationID,
		throttle:       throttle,
		idleTimeout:    idleTimeout,
		now:            time.Now,
	}
}

// Input records a keystroke: emits a typing frame unless one went out
// within the throttle window, and re-arms the inactivity timer.
func (t *TypingNotifier) Input() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.active || now.Sub(t.lastSent) >= t.throttle {
		t.sendLocked(models.FrameTyping)
		t.lastSent = now
		t.active = true
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idleTimeout, t.idleExpired)
}

func (t *TypingNotifier) idleExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Blur flushes a stop_typing immediately, e.g. when the input loses focus.
func (t *TypingNotifier) Blur() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.stopLocked()
}

func (t *TypingNotifier) stopLocked() {
	if !t.active {
		return
	}
	t.sendLocked(models.FrameStopTyping)
	t.active = false
	t.lastSent = time.Time{}
}

func (t *TypingNotifier) sendLocked(frameType models.FrameType) {
	frame, err := models.NewFrame(frameType, models.TypingPayload{ConversationID: t.conversationID})
	if err != nil {
		return
	}
	// Best effort: a dropped indicator is cosmetic.
	t.transport.Send(frame, nil)
}
