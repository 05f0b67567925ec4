package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps tenant documents in process. Suitable for tests and
// single-node development; documents are stored as encoded snapshots so an
// aborted mutation never leaks into a later Load.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, tenantID string) (*Document, error) {
	m.mu.RLock()
	raw, ok := m.docs[tenantID]
	m.mu.RUnlock()
	if !ok {
		return NewDocument(), nil
	}
	doc := NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: decode tenant %s: %v", ErrStorage, tenantID, err)
	}
	return doc, nil
}

func (m *MemoryStore) Save(ctx context.Context, tenantID string, doc *Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode tenant %s: %v", ErrStorage, tenantID, err)
	}
	m.mu.Lock()
	m.docs[tenantID] = raw
	m.mu.Unlock()
	return nil
}
