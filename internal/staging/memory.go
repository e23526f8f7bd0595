package staging

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]map[string]StagedRecord // scope -> source id -> record
	order    map[string][]string                // scope -> insertion order of source ids
	lastSync map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  map[string]map[string]StagedRecord{},
		order:    map[string][]string{},
		lastSync: map[string]time.Time{},
	}
}

func scopeKey(object, sourceOrg string) string {
	return object + "\x00" + sourceOrg
}

func (m *MemoryStore) Put(_ context.Context, records []StagedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		scope := scopeKey(rec.Object, rec.SourceOrg)
		byID, ok := m.records[scope]
		if !ok {
			byID = map[string]StagedRecord{}
			m.records[scope] = byID
		}
		if _, exists := byID[rec.SourceID]; !exists {
			m.order[scope] = append(m.order[scope], rec.SourceID)
		}
		byID[rec.SourceID] = rec
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, object, sourceOrg string) ([]StagedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := scopeKey(object, sourceOrg)
	out := make([]StagedRecord, 0, len(m.order[scope]))
	for _, id := range m.order[scope] {
		out = append(out, m.records[scope][id])
	}
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, object, sourceOrg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := scopeKey(object, sourceOrg)
	delete(m.records, scope)
	delete(m.order, scope)
	return nil
}

func (m *MemoryStore) SetLastSync(_ context.Context, object, sourceOrg string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync[scopeKey(object, sourceOrg)] = ts
	return nil
}

func (m *MemoryStore) LastSync(_ context.Context, object, sourceOrg string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync[scopeKey(object, sourceOrg)], nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
