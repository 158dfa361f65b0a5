// Package reputation exposes the platform reputation ledger to the
// escrow service.
//
// The score computation pipeline itself lives elsewhere on the
// platform; escrow consumes reputation as a scalar voting weight and
// applies small fixed adjustments when disputes resolve. Scores are
// unsigned: downward adjustments floor at zero.
package reputation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrUnknownIdentity = errors.New("identity has no reputation record")

// Ledger is the collaborator interface consumed by the dispute engine.
type Ledger interface {
	// ScoreOf returns the identity's current voting weight. Unknown
	// identities have weight zero (not an error).
	ScoreOf(ctx context.Context, identity string) (uint64, error)
	// Adjust applies a signed delta to the identity's score, flooring
	// at zero. Creates the record if absent and delta is positive.
	Adjust(ctx context.Context, identity string, delta int64) error
	// TotalWeight returns the sum of all known scores. The dispute
	// engine's decisive-majority threshold is a fraction of this.
	TotalWeight(ctx context.Context) (uint64, error)
}

// Record is one identity's reputation entry.
type Record struct {
	Identity  string    `json:"identity"`
	Score     uint64    `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists reputation records.
type Store interface {
	Get(ctx context.Context, identity string) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
	Sum(ctx context.Context) (uint64, error)
	List(ctx context.Context, limit int) ([]*Record, error)
}

// LedgerService implements Ledger over a Store.
type LedgerService struct {
	store Store
	mu    sync.Mutex // serializes read-modify-write of Adjust
}

// New creates a reputation ledger backed by the given store.
func New(store Store) *LedgerService {
	return &LedgerService{store: store}
}

func (l *LedgerService) ScoreOf(ctx context.Context, identity string) (uint64, error) {
	rec, err := l.store.Get(ctx, strings.ToLower(identity))
	if err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			return 0, nil
		}
		return 0, err
	}
	return rec.Score, nil
}

func (l *LedgerService) Adjust(ctx context.Context, identity string, delta int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	identity = strings.ToLower(identity)
	rec, err := l.store.Get(ctx, identity)
	if err != nil {
		if !errors.Is(err, ErrUnknownIdentity) {
			return err
		}
		rec = &Record{Identity: identity}
	}

	if delta >= 0 {
		rec.Score += uint64(delta)
	} else {
		dec := uint64(-delta)
		if dec >= rec.Score {
			rec.Score = 0 // floor, never underflow
		} else {
			rec.Score -= dec
		}
	}
	rec.UpdatedAt = time.Now()

	return l.store.Upsert(ctx, rec)
}

func (l *LedgerService) TotalWeight(ctx context.Context) (uint64, error) {
	return l.store.Sum(ctx)
}

// List returns up to limit reputation records (admin/debug surface).
func (l *LedgerService) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.List(ctx, limit)
}
