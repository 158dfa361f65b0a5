package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/clearhold/clearhold/internal/traces"
)

// ActivateTimeLock arms the time-lock fallback on a delivery-confirmed
// escrow. Either party may arm it; after TimeLockDuration, anyone can
// execute the release. Opening a dispute suspends the time lock.
func (s *Service) ActivateTimeLock(ctx context.Context, id, caller string) (*Escrow, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.IsParty(strings.ToLower(caller)) {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusDeliveryConfirmed {
		if e.IsTerminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: cannot arm time lock from %s", ErrInvalidState, e.Status)
	}
	if e.TimeLockExpiry != nil {
		return nil, fmt.Errorf("%w: time lock already armed", ErrInvalidState)
	}

	expiry := s.now().Add(s.Params().TimeLockDuration)
	e.TimeLockExpiry = &expiry
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.events.Record(ctx, e.ID, "timelock.armed", strings.ToLower(caller), map[string]any{
		"expiry": expiry,
	})
	s.logger.Info("time lock armed", "escrow_id", e.ID, "expiry", expiry)
	return e.Clone(), nil
}

// ExecuteTimeLockRelease releases to the payee once the armed time lock
// has expired. Callable by anyone; expiry is checked lazily against the
// service clock at call time, there is no background scheduler.
func (s *Service) ExecuteTimeLockRelease(ctx context.Context, id string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ExecuteTimeLockRelease", traces.EscrowID(id))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if e.Status != StatusDeliveryConfirmed || e.TimeLockExpiry == nil {
		mu.Unlock()
		if e.IsTerminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: no armed time lock", ErrInvalidState)
	}
	if s.now().Before(*e.TimeLockExpiry) {
		mu.Unlock()
		return nil, ErrTimeLockNotExpired
	}

	if err := s.resolveLocked(ctx, e, OutcomePayeeWins, PathTimeLock, ""); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	if err := s.executePayouts(ctx, e.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
