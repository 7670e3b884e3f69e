package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Conversation Repository Implementation
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT id, type, creator_id, counterpart_id, created_at FROM conversations WHERE id = $1`

	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.Type, &conv.CreatorID, &conv.CounterpartID, &conv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return conv, nil
}

// participantKey derives the deterministic pair key used to deduplicate
// concurrent private-conversation creation across sockets and processes.
func participantKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *PostgresStore) GetOrCreatePrivateConversation(ctx context.Context, creatorID, counterpartID string) (*models.Conversation, bool, error) {
	query := `
		INSERT INTO conversations (id, type, creator_id, counterpart_id, participant_key, created_at)
		VALUES ($1, 'private', $2, $3, $4, NOW())
		ON CONFLICT (participant_key) DO UPDATE SET participant_key = EXCLUDED.participant_key
		RETURNING id, type, creator_id, counterpart_id, created_at, (xmax = 0) AS inserted`

	conv := &models.Conversation{}
	var inserted bool
	err := s.pool.QueryRow(ctx, query, uuid.NewString(), creatorID, counterpartID, participantKey(creatorID, counterpartID)).Scan(
		&conv.ID, &conv.Type, &conv.CreatorID, &conv.CounterpartID, &conv.CreatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert private conversation: %w", err)
	}

	return conv, inserted, nil
}

func (s *PostgresStore) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT DISTINCT c.id, c.type, c.creator_id, c.counterpart_id, c.created_at
		FROM conversations c
		LEFT JOIN conversation_members m ON c.id = m.conversation_id
		WHERE c.creator_id = $1 OR c.counterpart_id = $1 OR m.user_id = $1
		ORDER BY c.created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Type, &conv.CreatorID, &conv.CounterpartID, &conv.CreatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// Message Repository Implementation
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	// Message id is the client idempotency key; a redelivered save is a no-op.
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, message_type, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.MessageType, attachments, msg.CreatedAt)
	return err
}

func (s *PostgresStore) LoadMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, message_type, attachments, created_at
		FROM messages
		WHERE conversation_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var attachments []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.MessageType, &attachments, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		messages = append(messages, msg)
	}

	// Reverse to show oldest first within the page
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Membership Repository Implementation
func (s *PostgresStore) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversations
			WHERE id = $2 AND (creator_id = $1 OR counterpart_id = $1)
			UNION
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $2 AND user_id = $1
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, userID, conversationID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) GetMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT user_id FROM conversation_members WHERE conversation_id = $1
		UNION
		SELECT creator_id FROM conversations WHERE id = $1
		UNION
		SELECT counterpart_id FROM conversations WHERE id = $1 AND counterpart_id <> ''`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		members = append(members, userID)
	}

	return members, nil
}

// Social Graph Repository Implementation
func (s *PostgresStore) GetConnectionIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT connection_id FROM connections WHERE user_id = $1 ORDER BY connection_id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []string
	for rows.Next() {
		var connectionID string
		if err := rows.Scan(&connectionID); err != nil {
			return nil, err
		}
		connections = append(connections, connectionID)
	}

	return connections, nil
}
