package store

import (
	"context"
	"time"

	"chat-core/internal/models"
)

type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// GetOrCreatePrivateConversation is an idempotent upsert keyed by the
	// deterministic participant pair. The bool reports whether the
	// conversation was created by this call.
	GetOrCreatePrivateConversation(ctx context.Context, creatorID, counterpartID string) (*models.Conversation, bool, error)
	ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	// LoadMessages pages backwards through history: messages created
	// strictly before the cursor, newest page first, oldest-first within
	// the page.
	LoadMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*models.Message, error)
}

type MembershipRepository interface {
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
	GetMemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

type SocialGraphRepository interface {
	GetConnectionIDs(ctx context.Context, userID string) ([]string, error)
}

type Store interface {
	ConversationRepository
	MessageRepository
	MembershipRepository
	SocialGraphRepository
	Close() error
}
