package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/webhooks"
)

// Recorder is the escrow service's event sink. Every recorded event is
// appended to the log, then fanned out to in-process subscribers (the
// websocket hub), the webhook dispatcher and prometheus counters.
// Recording never fails the operation that produced the event: errors
// are logged and dropped.
type Recorder struct {
	log      Log
	webhooks *webhooks.Dispatcher
	logger   *slog.Logger

	mu   sync.RWMutex
	subs []func(*Event)
}

// NewRecorder creates a recorder over the given log. The webhook
// dispatcher is optional.
func NewRecorder(log Log, dispatcher *webhooks.Dispatcher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: log, webhooks: dispatcher, logger: logger}
}

// Subscribe registers an in-process listener for every new event.
// Listeners must not block.
func (r *Recorder) Subscribe(fn func(*Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Record implements the escrow service's event sink.
func (r *Recorder) Record(ctx context.Context, escrowID, eventType, actor string, data map[string]any) {
	ev := &Event{
		ID:       idgen.WithPrefix("evt_"),
		EscrowID: escrowID,
		Type:     eventType,
		Actor:    actor,
		Data:     data,
		At:       time.Now(),
	}

	if err := r.log.Append(ctx, ev); err != nil {
		r.logger.Error("event append failed", "escrow_id", escrowID, "type", eventType, "error", err)
	}

	r.count(ev)

	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}

	if r.webhooks != nil {
		whEvent := &webhooks.Event{
			ID:        ev.ID,
			Type:      webhooks.EventType(ev.Type),
			EscrowID:  ev.EscrowID,
			Timestamp: ev.At,
			Data:      ev.Data,
		}
		if err := r.webhooks.Dispatch(ctx, whEvent); err != nil {
			r.logger.Warn("webhook dispatch failed", "escrow_id", escrowID, "type", eventType, "error", err)
		}
	}
}

// count maps event types onto prometheus counters.
func (r *Recorder) count(ev *Event) {
	switch ev.Type {
	case "escrow.created":
		metrics.EscrowsCreatedTotal.Inc()
	case "escrow.resolved":
		outcome, _ := ev.Data["outcome"].(string)
		path, _ := ev.Data["path"].(string)
		metrics.EscrowsResolvedTotal.WithLabelValues(outcome, path).Inc()
	case "dispute.vote_cast":
		metrics.VotesCastTotal.Inc()
	case "release.signature_added":
		metrics.SignaturesTotal.Inc()
	case "escrow.payout_failed":
		metrics.TransferFailuresTotal.Inc()
	}
}
