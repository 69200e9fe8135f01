package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
)

// MemoryRemote keeps details in process memory. Used by tests and as the
// "memory" backend of the CLI.
type MemoryRemote struct {
	*Base
}

// NewMemoryRemote creates a remote over store. A nil store gets a fresh
// in-memory store with the default CID configuration.
func NewMemoryRemote(id, userID string, store cas.ContentStore) *MemoryRemote {
	if store == nil {
		store = cas.NewMemoryStore(cas.DefaultCidConfig)
	}
	return &MemoryRemote{Base: newBase(id, userID, store, newMemoryBackend())}
}

type memoryBackend struct {
	mu       sync.RWMutex
	details  map[string]evees.PerspectiveDetails
	owners   map[string]string
	contexts map[string]map[string]struct{}
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		details:  make(map[string]evees.PerspectiveDetails),
		owners:   make(map[string]string),
		contexts: make(map[string]map[string]struct{}),
	}
}

func (m *memoryBackend) ping(ctx context.Context) error { return nil }

func (m *memoryBackend) getDetails(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[id]
	if !ok {
		return evees.PerspectiveDetails{}, errNoEntry
	}
	return evees.PerspectiveDetails{}.Apply(d), nil
}

func (m *memoryBackend) putDetails(ctx context.Context, id string, d evees.PerspectiveDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[id] = evees.PerspectiveDetails{}.Apply(d)
	return nil
}

func (m *memoryBackend) getOwner(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[id]
	if !ok {
		return "", errNoEntry
	}
	return owner, nil
}

func (m *memoryBackend) setOwner(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[id] = owner
	return nil
}

func (m *memoryBackend) addToContext(ctx context.Context, tag, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.contexts[tag]
	if !ok {
		set = make(map[string]struct{})
		m.contexts[tag] = set
	}
	set[id] = struct{}{}
	return nil
}

func (m *memoryBackend) removeFromContext(ctx context.Context, tag, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts[tag], id)
	return nil
}

func (m *memoryBackend) contextMembers(ctx context.Context, tag string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.contexts[tag]))
	for id := range m.contexts[tag] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
