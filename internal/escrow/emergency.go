package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/clearhold/clearhold/internal/traces"
)

// EmergencyRefund is the admin override: it refunds the payer in full
// regardless of lifecycle position, bypassing approval, voting,
// signatures and time locks. Constraints: admin only, within the
// emergency window of creation, not opted out per escrow, and funds
// must actually be in custody. A dispute bond, if posted, goes back to
// its poster; nobody is punished on an emergency.
func (s *Service) EmergencyRefund(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.EmergencyRefund", traces.EscrowID(id))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if s.admin == "" || !strings.EqualFold(caller, s.admin) {
		mu.Unlock()
		return nil, ErrUnauthorized
	}
	if e.IsTerminal() {
		mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	if e.EmergencyRefundDisabled {
		mu.Unlock()
		return nil, fmt.Errorf("%w: emergency refund disabled for this escrow", ErrInvalidState)
	}
	if e.Status == StatusCreated {
		mu.Unlock()
		return nil, fmt.Errorf("%w: no funds in custody", ErrInvalidState)
	}
	if s.now().After(e.CreatedAt.Add(s.Params().EmergencyWindow)) {
		mu.Unlock()
		return nil, ErrWindowExpired
	}

	if err := s.resolveLocked(ctx, e, OutcomePayerWins, PathEmergency, s.admin); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	s.events.Record(ctx, e.ID, "escrow.emergency_refund", s.admin, nil)
	s.logger.Warn("emergency refund executed", "escrow_id", e.ID, "admin", s.admin)

	if err := s.executePayouts(ctx, e.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
