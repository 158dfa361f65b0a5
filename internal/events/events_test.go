package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestMemoryLog_AppendAssignsSequence(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := &Event{ID: "evt_x", EscrowID: "esc_1", Type: "escrow.created"}
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", ev.Seq, i+1)
		}
	}
}

func TestMemoryLog_ListByEscrow(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	log.Append(ctx, &Event{EscrowID: "esc_1", Type: "escrow.created"})
	log.Append(ctx, &Event{EscrowID: "esc_2", Type: "escrow.created"})
	log.Append(ctx, &Event{EscrowID: "esc_1", Type: "escrow.funds_locked"})

	evs, err := log.ListByEscrow(ctx, "esc_1", 0)
	if err != nil {
		t.Fatalf("ListByEscrow: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("len = %d, want 2", len(evs))
	}
	// Chronological order within an escrow.
	if evs[0].Type != "escrow.created" || evs[1].Type != "escrow.funds_locked" {
		t.Errorf("order = %s, %s", evs[0].Type, evs[1].Type)
	}
}

func TestMemoryLog_ListRecentNewestFirst(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	log.Append(ctx, &Event{EscrowID: "esc_1", Type: "a"})
	log.Append(ctx, &Event{EscrowID: "esc_1", Type: "b"})
	log.Append(ctx, &Event{EscrowID: "esc_1", Type: "c"})

	evs, _ := log.ListRecent(ctx, 2)
	if len(evs) != 2 {
		t.Fatalf("len = %d, want 2", len(evs))
	}
	if evs[0].Type != "c" || evs[1].Type != "b" {
		t.Errorf("order = %s, %s", evs[0].Type, evs[1].Type)
	}
}

func TestRecorder_AppendsAndNotifiesSubscribers(t *testing.T) {
	log := NewMemoryLog()
	rec := NewRecorder(log, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var seen []*Event
	rec.Subscribe(func(ev *Event) { seen = append(seen, ev) })

	rec.Record(context.Background(), "esc_9", "escrow.resolved", "0xpayer", map[string]any{
		"outcome": "payee_wins",
		"path":    "approval",
	})

	if len(seen) != 1 {
		t.Fatalf("subscriber saw %d events, want 1", len(seen))
	}
	if seen[0].EscrowID != "esc_9" || seen[0].Type != "escrow.resolved" {
		t.Errorf("event = %+v", seen[0])
	}
	if seen[0].ID == "" || seen[0].Seq == 0 {
		t.Errorf("event not fully populated: id=%q seq=%d", seen[0].ID, seen[0].Seq)
	}

	evs, _ := log.ListByEscrow(context.Background(), "esc_9", 0)
	if len(evs) != 1 {
		t.Errorf("log has %d events, want 1", len(evs))
	}
}
