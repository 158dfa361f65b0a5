// Package admin provides the operator surface: runtime parameter
// tuning, stuck payout recovery, the emergency refund override and
// reputation seeding.
package admin

import (
	"context"

	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/reputation"
)

// EscrowService abstracts the escrow operations admin handlers need.
type EscrowService interface {
	Params() escrow.Params
	SetParams(p escrow.Params) error
	ListPendingPayouts(ctx context.Context, limit int) ([]*escrow.Escrow, error)
	RetryPayout(ctx context.Context, id string) (*escrow.Escrow, error)
	EmergencyRefund(ctx context.Context, id, caller string) (*escrow.Escrow, error)
}

// ReputationAdmin abstracts the reputation ledger for seeding and
// inspection.
type ReputationAdmin interface {
	List(ctx context.Context, limit int) ([]*reputation.Record, error)
	ScoreOf(ctx context.Context, identity string) (uint64, error)
	Adjust(ctx context.Context, identity string, delta int64) error
}
