// Package events keeps the append-only audit log of escrow lifecycle
// events and fans new events out to live subscribers, webhooks and
// metrics.
//
// Events are immutable history: once appended they are never updated
// or deleted. The log is the source of truth for "what happened to
// this escrow and in what order".
package events

import (
	"context"
	"sync"
	"time"
)

// Event is one recorded lifecycle occurrence.
type Event struct {
	Seq      int64          `json:"seq"`
	ID       string         `json:"id"`
	EscrowID string         `json:"escrowId"`
	Type     string         `json:"type"`
	Actor    string         `json:"actor,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// Log is the append-only event store. Append assigns the sequence
// number.
type Log interface {
	Append(ctx context.Context, ev *Event) error
	ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Event, error)
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
}

// MemoryLog is the in-process Log for development mode and tests.
type MemoryLog struct {
	mu     sync.RWMutex
	events []*Event
	seq    int64
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ctx context.Context, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev.Seq = l.seq
	cp := *ev
	l.events = append(l.events, &cp)
	return nil
}

func (l *MemoryLog) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Event
	for _, ev := range l.events {
		if ev.EscrowID == escrowID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *MemoryLog) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Event, 0, limit)
	// Newest first.
	for i := n - 1; i >= n-limit; i-- {
		cp := *l.events[i]
		out = append(out, &cp)
	}
	return out, nil
}
