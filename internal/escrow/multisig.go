package escrow

import (
	"context"
	"fmt"
	"strings"
)

// SignRelease adds the caller's signature toward a high-value escrow's
// release quorum. Eligible signers are the payer, the payee and the
// configured arbitrator, once each. Reaching the threshold releases to
// the payee.
func (s *Service) SignRelease(ctx context.Context, id, caller string) (*Escrow, error) {
	mu := s.lockFor(id)
	mu.Lock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if !e.RequiresMultiSig {
		mu.Unlock()
		return nil, fmt.Errorf("%w: escrow does not require multi-sig", ErrInvalidState)
	}
	if e.Status != StatusDeliveryConfirmed {
		mu.Unlock()
		if e.IsTerminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: cannot sign from %s", ErrInvalidState, e.Status)
	}

	resolved, err := s.addSignatureLocked(ctx, e, strings.ToLower(caller))
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if resolved {
		if err := s.executePayouts(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// addSignatureLocked validates and records one signature, resolving the
// escrow when the quorum is reached. Caller holds the escrow mutex.
// Returns true when the signature completed the quorum; the caller is
// then responsible for executing payouts after releasing the mutex.
func (s *Service) addSignatureLocked(ctx context.Context, e *Escrow, signer string) (bool, error) {
	if !s.isEligibleSigner(e, signer) {
		return false, ErrNotAuthorizedSigner
	}
	if e.HasSigned(signer) {
		return false, ErrAlreadySigned
	}

	e.Signers = append(e.Signers, signer)
	e.UpdatedAt = s.now()

	if len(e.Signers) < e.MultiSigThreshold {
		if err := s.store.Update(ctx, e); err != nil {
			return false, err
		}
		s.events.Record(ctx, e.ID, "release.signature_added", signer, map[string]any{
			"signatures": len(e.Signers),
			"threshold":  e.MultiSigThreshold,
		})
		return false, nil
	}

	if err := s.resolveLocked(ctx, e, OutcomePayeeWins, PathMultiSig, signer); err != nil {
		return false, err
	}
	s.events.Record(ctx, e.ID, "release.signature_added", signer, map[string]any{
		"signatures": len(e.Signers),
		"threshold":  e.MultiSigThreshold,
		"quorum":     true,
	})
	return true, nil
}

func (s *Service) isEligibleSigner(e *Escrow, signer string) bool {
	if strings.EqualFold(signer, e.Payer) || strings.EqualFold(signer, e.Payee) {
		return true
	}
	return s.arbitrator != "" && strings.EqualFold(signer, s.arbitrator)
}
