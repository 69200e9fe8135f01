package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ContentStore persists immutable objects keyed by their derived id.
type ContentStore interface {
	// Ready blocks until the store can serve requests.
	Ready(ctx context.Context) error

	// Get returns the canonical bytes of the object with the given id.
	Get(ctx context.Context, id string) (json.RawMessage, error)

	// Create stores object and returns its computed id. Creating an object
	// that is already present is a no-op.
	Create(ctx context.Context, object any) (string, error)

	// Config returns the CID parameters this store derives ids with.
	Config() CidConfig
}

// GetEntity reads id from s and decodes it as T.
func GetEntity[T any](ctx context.Context, s ContentStore, id string) (Entity[T], error) {
	data, err := s.Get(ctx, id)
	if err != nil {
		return Entity[T]{}, err
	}
	var object T
	if err := json.Unmarshal(data, &object); err != nil {
		return Entity[T]{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return Entity[T]{ID: id, Object: object}, nil
}

// MemoryStore implements ContentStore using in-memory storage with thread-safe access.
type MemoryStore struct {
	mu   sync.RWMutex
	cfg  CidConfig
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(cfg CidConfig) *MemoryStore {
	return &MemoryStore{
		cfg:  cfg,
		data: make(map[string][]byte),
	}
}

// Ready implements ContentStore.Ready.
func (m *MemoryStore) Ready(ctx context.Context) error { return nil }

// Config implements ContentStore.Config.
func (m *MemoryStore) Config() CidConfig { return m.cfg }

// Create implements ContentStore.Create.
func (m *MemoryStore) Create(ctx context.Context, object any) (string, error) {
	data, err := CanonicalJSON(object)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	id, err := HashBytes(data, m.cfg)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.data[id]; ok {
		if !bytes.Equal(existing, data) {
			return "", fmt.Errorf("object %s: stored content differs: %w", id, ErrIdentityMismatch)
		}
		return id, nil
	}
	m.data[id] = data
	return id, nil
}

// Get implements ContentStore.Get.
func (m *MemoryStore) Get(ctx context.Context, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.data[id]
	if !exists {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}

	// Return a copy to avoid external mutations
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// Len returns the number of objects stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
