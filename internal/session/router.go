package session

import (
	"encoding/json"
	"fmt"

	"chat-core/internal/models"
	"chat-core/internal/relay"
)

// Router resolves a conversation to its relay channel(s) and publishes.
//
// Group conversations publish once to the conversation channel; every
// subscribed session fans out to its local sockets. Private conversations
// have no room concept, so delivery goes to each participant's personal
// channel: the recipient's always, and for chat messages also the
// sender's, keeping the sender's other devices in sync.
type Router struct {
	relay relay.Relay
}

func NewRouter(r relay.Relay) *Router {
	return &Router{relay: r}
}

func (r *Router) RouteMessage(conv *models.Conversation, senderID string, frame models.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal message frame: %w", err)
	}

	if conv.IsPrivate() {
		if err := r.relay.Publish(relay.UserMessages(conv.Recipient(senderID)), payload); err != nil {
			return err
		}
		return r.relay.Publish(relay.UserMessages(senderID), payload)
	}
	return r.relay.Publish(relay.ConversationMessages(conv.ID), payload)
}

// RouteTyping relays a typing indicator. Private chats skip the
// self-echo: a user's own devices have no use for their typing state.
func (r *Router) RouteTyping(conv *models.Conversation, senderID string, frame models.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal typing frame: %w", err)
	}

	if conv.IsPrivate() {
		return r.relay.Publish(relay.UserMessages(conv.Recipient(senderID)), payload)
	}
	return r.relay.Publish(relay.ConversationTypings(conv.ID), payload)
}

// AnnounceConversation broadcasts a new_conversation frame to every
// participant's personal channel, exactly one publish per participant.
func (r *Router) AnnounceConversation(conv *models.Conversation, frame models.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation frame: %w", err)
	}

	for _, participant := range conv.Participants() {
		if participant == "" {
			continue
		}
		if err := r.relay.Publish(relay.UserMessages(participant), payload); err != nil {
			return err
		}
	}
	return nil
}
