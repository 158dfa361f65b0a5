package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/clearhold/clearhold/internal/amount"
)

// MemoryStore is the in-process Store used in development mode and
// tests. It hands out clones, never its internal pointers.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow
	nextID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*Escrow)}
}

func (m *MemoryStore) NextID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return fmt.Sprintf("esc_%d", m.nextID), nil
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.escrows[e.ID]; exists {
		return fmt.Errorf("escrow %s already exists", e.ID)
	}
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.ID]; !ok {
		return ErrNotFound
	}
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, identity string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Escrow
	for _, e := range m.escrows {
		if e.IsParty(identity) {
			out = append(out, e.Clone())
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Escrow
	for _, e := range m.escrows {
		if e.Status == status {
			out = append(out, e.Clone())
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPendingPayouts(ctx context.Context, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Escrow
	for _, e := range m.escrows {
		if e.IsTerminal() && len(e.PendingPayouts) > 0 {
			out = append(out, e.Clone())
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		ByStatus:  make(map[string]int),
		ByOutcome: make(map[string]int),
		ByPath:    make(map[string]int),
	}
	totalVolume := big.NewInt(0)
	lockedVolume := big.NewInt(0)

	for _, e := range m.escrows {
		stats.Total++
		stats.ByStatus[string(e.Status)]++
		if e.Outcome != "" {
			stats.ByOutcome[string(e.Outcome)]++
		}
		if e.ResolutionPath != "" {
			stats.ByPath[string(e.ResolutionPath)]++
		}
		totalVolume.Add(totalVolume, e.AmountInt())
		lockedVolume.Add(lockedVolume, custodiedValue(e))
	}

	stats.TotalVolume = amount.Format(totalVolume)
	stats.LockedVolume = amount.Format(lockedVolume)
	return stats, nil
}

// custodiedValue is what the vault currently holds for an escrow:
// amount+fee+bond while live, the unexecuted legs once terminal.
func custodiedValue(e *Escrow) *big.Int {
	switch e.Status {
	case StatusFundsLocked, StatusDeliveryConfirmed, StatusDisputed:
		v := amount.Add(e.AmountInt(), e.FeeInt())
		return v.Add(v, e.BondInt())
	case StatusPayeeWins, StatusPayerWins:
		v := big.NewInt(0)
		for _, leg := range e.PendingPayouts {
			v.Add(v, amount.MustParse(leg.Amount))
		}
		return v
	}
	return big.NewInt(0)
}

func sortNewestFirst(escrows []*Escrow) {
	sort.Slice(escrows, func(i, j int) bool {
		if escrows[i].CreatedAt.Equal(escrows[j].CreatedAt) {
			return escrows[i].ID > escrows[j].ID
		}
		return escrows[i].CreatedAt.After(escrows[j].CreatedAt)
	})
}
