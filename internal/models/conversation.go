package models

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Conversation mirrors the persisted record. Private conversations have
// exactly two fixed participants (creator and counterpart); group
// conversations track membership in the member list instead.
type Conversation struct {
	ID            string           `json:"id"`
	Type          ConversationType `json:"type"`
	CreatorID     string           `json:"creatorId"`
	CounterpartID string           `json:"counterpartId,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// IsPrivate reports whether the conversation is a 1:1 chat.
func (c *Conversation) IsPrivate() bool {
	return c.Type == ConversationPrivate
}

// Recipient resolves the other participant of a private conversation
// from the two fixed participant ids, not from a membership query.
func (c *Conversation) Recipient(senderID string) string {
	if c.CreatorID == senderID {
		return c.CounterpartID
	}
	return c.CreatorID
}

// Participants returns both fixed participant ids of a private conversation.
func (c *Conversation) Participants() []string {
	return []string{c.CreatorID, c.CounterpartID}
}
