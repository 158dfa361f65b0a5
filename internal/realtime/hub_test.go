package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/clearhold/clearhold/internal/events"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &events.Event{Type: "escrow.created", At: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{"escrow.resolved", "dispute.opened"},
	}}

	resolved := &events.Event{Type: "escrow.resolved"}
	disputed := &events.Event{Type: "dispute.opened"}
	created := &events.Event{Type: "escrow.created"}

	if !h.shouldSend(client, resolved) {
		t.Error("Should receive escrow.resolved events")
	}
	if !h.shouldSend(client, disputed) {
		t.Error("Should receive dispute.opened events")
	}
	if h.shouldSend(client, created) {
		t.Error("Should NOT receive escrow.created events")
	}
}

func TestShouldSend_EscrowFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EscrowIDs: []string{"esc_1"},
	}}

	matching := &events.Event{Type: "escrow.funds_locked", EscrowID: "esc_1"}
	notMatching := &events.Event{Type: "escrow.funds_locked", EscrowID: "esc_2"}

	if !h.shouldSend(client, matching) {
		t.Error("Should match watched escrow")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other escrows")
	}
}

func TestShouldSend_PartyFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Parties: []string{"0xalice"},
	}}

	matchingActor := &events.Event{
		Type:  "dispute.vote_cast",
		Actor: "0xalice",
	}
	matchingPayer := &events.Event{
		Type: "escrow.created",
		Data: map[string]any{"payer": "0xalice", "payee": "0xbob"},
	}
	matchingPayee := &events.Event{
		Type: "escrow.created",
		Data: map[string]any{"payer": "0xbob", "payee": "0xalice"},
	}
	notMatching := &events.Event{
		Type:  "escrow.created",
		Actor: "0xbob",
		Data:  map[string]any{"payer": "0xbob", "payee": "0xcarol"},
	}

	if !h.shouldSend(client, matchingActor) {
		t.Error("Should match on actor")
	}
	if !h.shouldSend(client, matchingPayer) {
		t.Error("Should match on payer")
	}
	if !h.shouldSend(client, matchingPayee) {
		t.Error("Should match on payee")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated parties")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &events.Event{Type: "escrow.created"}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_PartyFilterWithoutData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Parties: []string{"0xalice"},
	}}

	// No payload at all; only the actor can match
	event := &events.Event{Type: "timelock.armed", Actor: "0xbob"}
	if h.shouldSend(client, event) {
		t.Error("Should NOT match when neither actor nor payload mentions the party")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&events.Event{Type: "escrow.created", At: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&events.Event{
		Type:     "escrow.funds_locked",
		EscrowID: "esc_1",
		At:       time.Now(),
		Data:     map[string]any{"amount": "5.000000"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants resolutions
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []string{"escrow.resolved"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a create event (should be filtered out)
	h.Broadcast(&events.Event{Type: "escrow.created", At: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive escrow.created event")
	default:
		// Good - filtered out
	}

	// Send a resolution event (should be received)
	h.Broadcast(&events.Event{Type: "escrow.resolved", At: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive escrow.resolved event")
	}
}
