package presence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrKeyNotFound is returned by Get for absent or expired keys.
var ErrKeyNotFound = errors.New("presence: key not found")

// KeyValue is the narrow TTL bucket surface the presence store needs.
// Writes refresh the entry's TTL; expiry needs no explicit signal.
type KeyValue interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Keys() ([]string, error)
}

// NATSKeyValue adapts a JetStream KV bucket with a per-entry TTL.
type NATSKeyValue struct {
	kv nats.KeyValue
}

func NewNATSKeyValue(nc *nats.Conn, bucket string, ttl time.Duration) (*NATSKeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
	}

	return &NATSKeyValue{kv: kv}, nil
}

func (n *NATSKeyValue) Put(key string, value []byte) error {
	_, err := n.kv.Put(key, value)
	return err
}

func (n *NATSKeyValue) Get(key string) ([]byte, error) {
	entry, err := n.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return entry.Value(), nil
}

func (n *NATSKeyValue) Delete(key string) error {
	err := n.kv.Delete(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (n *NATSKeyValue) Keys() ([]string, error) {
	keys, err := n.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// MemoryKeyValue is the bucket for single-process deployments: a map
// with per-entry expiry, checked lazily and on Keys.
type MemoryKeyValue struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryKeyValue(ttl time.Duration) *MemoryKeyValue {
	return &MemoryKeyValue{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryKeyValue) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryKeyValue) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, ErrKeyNotFound
	}
	return entry.value, nil
}

func (m *MemoryKeyValue) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryKeyValue) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
