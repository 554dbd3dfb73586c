package audit

import (
	"context"
	"sync"

	"github.com/agentpay/firewall/internal/idgen"
)

// MemoryStore is an in-memory Store, the default when no Postgres DSN
// is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := *e
	if entry.ID == "" {
		entry.ID = idgen.WithPrefix("aud_")
	}
	m.entries = append(m.entries, &entry)
	return nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		copy := *m.entries[i]
		out = append(out, &copy)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByIntent(_ context.Context, intentID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].IntentID == intentID {
			copy := *m.entries[i]
			out = append(out, &copy)
		}
	}
	return out, nil
}
