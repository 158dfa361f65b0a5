package reputation

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory reputation store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory reputation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Get(ctx context.Context, identity string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[strings.ToLower(identity)]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	cp.Identity = strings.ToLower(cp.Identity)
	m.records[cp.Identity] = &cp
	return nil
}

func (m *MemoryStore) Sum(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, rec := range m.records {
		total += rec.Score
	}
	return total, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, rec := range m.records {
		cp := *rec
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
