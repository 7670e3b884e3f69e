package client

import (
	"sort"
	"sync"
	"time"

	"chat-core/internal/models"

	"github.com/google/uuid"
)

// MessageStatus is the per-message delivery state machine:
// pending → sent → delivered, or → failed. Merge-by-id keeps the
// optimistic entry and the server echo as one visible message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// ClientMessage is the client-local view of a message.
type ClientMessage struct {
	models.Message
	Status MessageStatus `json:"status"`
}

// Sender is the transport surface the store needs.
type Sender interface {
	Send(frame models.Frame, confirm func(error)) error
}

// DeliveryStore keeps per-conversation ordered message lists and
// reconciles locally-created optimistic messages against server echoes.
type DeliveryStore struct {
	mu            sync.Mutex
	userID        string
	transport     Sender
	conversations map[string][]*ClientMessage
	byID          map[string]*ClientMessage
	convMeta      map[string]*models.Conversation
}

func NewDeliveryStore(userID string, transport Sender) *DeliveryStore {
	return &DeliveryStore{
		userID:        userID,
		transport:     transport,
		conversations: make(map[string][]*ClientMessage),
		byID:          make(map[string]*ClientMessage),
		convMeta:      make(map[string]*models.Conversation),
	}
}

// Attach registers the store's frame listeners on the transport.
func (d *DeliveryStore) Attach(t *Transport) {
	t.OnFrame(models.FrameMessageSent, d.HandleMessageFrame)
	t.OnFrame(models.FrameNewMessage, d.HandleMessageFrame)
	t.OnFrame(models.FrameNewConversation, d.HandleNewConversation)
}

// Send creates an optimistic message with a fresh idempotency key,
// appends it immediately and hands it to the transport. The caller gets
// the message back for rendering; its status updates in place. A full
// queue marks the message failed, no automatic retry.
func (d *DeliveryStore) Send(conversationID, content string, attachments []models.Attachment) (*ClientMessage, error) {
	msg := &ClientMessage{
		Message: models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			SenderID:       d.userID,
			Content:        content,
			Attachments:    attachments,
			CreatedAt:      time.Now().UTC(),
		},
		Status: StatusPending,
	}

	d.mu.Lock()
	d.conversations[conversationID] = append(d.conversations[conversationID], msg)
	d.byID[msg.ID] = msg
	d.mu.Unlock()

	frame, err := models.NewFrame(models.FrameChatMessage, models.ChatMessagePayload{
		ID:             msg.ID,
		ConversationID: conversationID,
		Content:        content,
		Attachments:    attachments,
	})
	if err != nil {
		d.setStatus(msg.ID, StatusFailed)
		return msg, err
	}

	id := msg.ID
	if err := d.transport.Send(frame, func(sendErr error) {
		if sendErr != nil {
			d.setStatus(id, StatusFailed)
			return
		}
		d.confirmSent(id)
	}); err != nil {
		d.setStatus(id, StatusFailed)
		return msg, err
	}
	return msg, nil
}

// confirmSent advances pending → sent; an echo that already marked the
// message delivered is not downgraded.
func (d *DeliveryStore) confirmSent(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg, ok := d.byID[id]; ok && msg.Status == StatusPending {
		msg.Status = StatusSent
	}
}

func (d *DeliveryStore) setStatus(id string, status MessageStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg, ok := d.byID[id]; ok {
		msg.Status = status
	}
}

// HandleMessageFrame reconciles an inbound message_sent or new_message
// frame. A matching id merges into the existing entry (no duplicate
// render); anything else appends as a peer message. Redelivery of the
// same id is absorbed the same way, which is the at-least-once backstop.
func (d *DeliveryStore) HandleMessageFrame(frame models.Frame) {
	var envelope models.MessageEnvelope
	if err := frame.DecodeData(&envelope); err != nil {
		return
	}
	incoming := envelope.Data

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.byID[incoming.ID]; ok {
		// Server-confirmed copy wins on content and timestamps.
		existing.Message = incoming
		if existing.Status != StatusFailed {
			existing.Status = StatusDelivered
		}
		return
	}

	msg := &ClientMessage{Message: incoming, Status: StatusDelivered}
	d.conversations[incoming.ConversationID] = append(d.conversations[incoming.ConversationID], msg)
	d.byID[incoming.ID] = msg
}

// HandleNewConversation records an implicitly-created conversation
// exactly once, no matter how many times the announcement is delivered.
func (d *DeliveryStore) HandleNewConversation(frame models.Frame) {
	var envelope models.ConversationEnvelope
	if err := frame.DecodeData(&envelope); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.convMeta[envelope.ConversationID]; ok {
		return
	}
	conv := envelope.Data
	d.convMeta[envelope.ConversationID] = &conv
}

// MergeHistory folds a backfill page into the conversation: dedupe by
// id, then re-sort so the merged list is non-decreasing by creation time.
func (d *DeliveryStore) MergeHistory(conversationID string, older []*models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing := d.conversations[conversationID]
	for _, msg := range older {
		if _, ok := d.byID[msg.ID]; ok {
			continue
		}
		cm := &ClientMessage{Message: *msg, Status: StatusDelivered}
		existing = append(existing, cm)
		d.byID[msg.ID] = cm
	}

	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].CreatedAt.Before(existing[j].CreatedAt)
	})
	d.conversations[conversationID] = existing
}

// Messages returns a snapshot of the conversation's ordered list.
func (d *DeliveryStore) Messages(conversationID string) []*ClientMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.conversations[conversationID]
	result := make([]*ClientMessage, len(msgs))
	copy(result, msgs)
	return result
}

// Conversations returns the known conversation records.
func (d *DeliveryStore) Conversations() []*models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]*models.Conversation, 0, len(d.convMeta))
	for _, conv := range d.convMeta {
		result = append(result, conv)
	}
	return result
}

// Clear drops a conversation's local messages. The only way messages
// are ever deleted client-side.
func (d *DeliveryStore) Clear(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, msg := range d.conversations[conversationID] {
		delete(d.byID, msg.ID)
	}
	delete(d.conversations, conversationID)
}
