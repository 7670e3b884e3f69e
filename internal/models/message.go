package models

import "time"

// Message is a persisted chat message. ID is the client-generated
// idempotency key and stays stable from the optimistic insert through
// the server echo, so receivers can merge instead of duplicating.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Attachment is an opaque descriptor produced by the upload collaborator.
// The core only relays it.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}
