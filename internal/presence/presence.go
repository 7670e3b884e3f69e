// Package presence tracks which users are online through a self-expiring
// key/value bucket: existence of the key means online, absence (including
// TTL expiry) means offline. A crashed server needs no explicit disconnect
// signal for the store to heal.
package presence

import (
	"context"
	"errors"
	"time"

	"chat-core/pkg/logger"
)

const onlineValue = "online"

type Store struct {
	kv KeyValue
}

func New(kv KeyValue) *Store {
	return &Store{kv: kv}
}

// SetOnline writes or refreshes the user's TTL entry.
func (s *Store) SetOnline(userID string) error {
	if !ValidUserID(userID) {
		return errors.New("presence: invalid user id")
	}
	return s.kv.Put(userID, []byte(onlineValue))
}

// ClearOnline removes the entry on graceful close. Clearing an absent
// entry is a no-op so crash and close paths converge.
func (s *Store) ClearOnline(userID string) error {
	return s.kv.Delete(userID)
}

func (s *Store) IsOnline(userID string) (bool, error) {
	_, err := s.kv.Get(userID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OnlineConnections intersects the requester's social-graph connections
// with the currently online user ids, preserving the input order.
func (s *Store) OnlineConnections(connectionIDs []string) ([]string, error) {
	online := make([]string, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		isOnline, err := s.IsOnline(id)
		if err != nil {
			return nil, err
		}
		if isOnline {
			online = append(online, id)
		}
	}
	return online, nil
}

// Sweep removes entries whose key is not a syntactically valid user id.
// Guards against placeholder ids leaking in from malformed frames.
func (s *Store) Sweep() (int, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if ValidUserID(key) {
			continue
		}
		if err := s.kv.Delete(key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RunSweeper sweeps on the given interval until the context is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep()
			if err != nil {
				logger.Error("Presence sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Info("Presence sweep removed %d invalid entries", removed)
			}
		}
	}
}

// ValidUserID accepts non-empty ids made of letters, digits, '-' and '_',
// and rejects the placeholder strings loose clients tend to send.
func ValidUserID(id string) bool {
	if id == "" || id == "null" || id == "undefined" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
