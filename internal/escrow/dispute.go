package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/clearhold/clearhold/internal/amount"
	"github.com/clearhold/clearhold/internal/traces"
)

// OpenDispute moves a delivery-confirmed escrow into the reputation
// voting path. Either party may open; when bonds are required, the
// bond (>= amount*BondBps/10000) is custody-debited from the opener
// and rides on the outcome.
func (s *Service) OpenDispute(ctx context.Context, id, caller, reason, bond string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.OpenDispute", traces.EscrowID(id))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	caller = strings.ToLower(caller)
	if !e.IsParty(caller) {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusDeliveryConfirmed {
		if e.IsTerminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: cannot open dispute from %s", ErrInvalidState, e.Status)
	}

	params := s.Params()
	bondAmt, ok := amount.Parse(bond)
	if !ok {
		return nil, ErrInvalidAmount
	}
	if params.BondRequired {
		minBond := amount.Bps(e.AmountInt(), params.BondBps)
		if bondAmt.Cmp(minBond) < 0 {
			return nil, fmt.Errorf("%w: bond %s below minimum %s",
				ErrInvalidAmount, amount.Format(bondAmt), amount.Format(minBond))
		}
	}

	if bondAmt.Sign() > 0 {
		if err := s.custody.Transfer(ctx, e.Asset, caller, s.vault, bondAmt); err != nil {
			return nil, fmt.Errorf("%w: posting bond: %v", ErrTransferFailure, err)
		}
		e.DisputeBond = amount.Format(bondAmt)
		e.BondPoster = caller
	}

	e.Status = StatusDisputed
	e.DisputeReason = reason
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.events.Record(ctx, e.ID, "dispute.opened", caller, map[string]any{
		"reason": reason,
		"bond":   e.DisputeBond,
	})
	s.logger.Info("dispute opened", "escrow_id", e.ID, "opener", caller, "bond", e.DisputeBond)
	return e.Clone(), nil
}

// SubmitEvidence attaches an opaque evidence reference to an open
// dispute. Either party, any number of times.
func (s *Service) SubmitEvidence(ctx context.Context, id, caller, reference string) (*Escrow, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	caller = strings.ToLower(caller)
	if !e.IsParty(caller) {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: no open dispute", ErrInvalidState)
	}
	if strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("%w: empty evidence reference", ErrInvalidAmount)
	}

	e.Evidence = append(e.Evidence, EvidenceEntry{
		Submitter: caller,
		Reference: reference,
		At:        s.now(),
	})
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.events.Record(ctx, e.ID, "dispute.evidence_submitted", caller, map[string]any{
		"reference": reference,
	})
	return e.Clone(), nil
}

// CastVote adds the voter's full reputation weight to one side of an
// open dispute. One vote per identity. When a side's weight exceeds
// the decisive-majority fraction of the ledger's total weight, the
// dispute resolves immediately in that side's favor.
func (s *Service) CastVote(ctx context.Context, id, voter string, forPayer bool) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.CastVote",
		traces.EscrowID(id),
		traces.Identity(voter),
	)
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	voter = strings.ToLower(voter)
	if e.Status != StatusDisputed {
		mu.Unlock()
		if e.IsTerminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: no open dispute", ErrInvalidState)
	}
	if e.HasVoted(voter) {
		mu.Unlock()
		return nil, ErrAlreadyVoted
	}

	weight, err := s.reputation.ScoreOf(ctx, voter)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("reading voter weight: %w", err)
	}
	if weight == 0 {
		mu.Unlock()
		return nil, ErrNoVotingPower
	}

	if forPayer {
		e.VotesForPayer += weight
	} else {
		e.VotesForPayee += weight
	}
	e.Voters = append(e.Voters, voter)
	e.UpdatedAt = s.now()

	total, err := s.reputation.TotalWeight(ctx)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("reading total weight: %w", err)
	}

	outcome, decisive := decideVote(e.VotesForPayer, e.VotesForPayee, total, s.Params().DecisiveMajorityBps)

	if !decisive {
		if err := s.store.Update(ctx, e); err != nil {
			mu.Unlock()
			return nil, err
		}
		mu.Unlock()
		s.events.Record(ctx, e.ID, "dispute.vote_cast", voter, map[string]any{
			"forPayer": forPayer,
			"weight":   weight,
		})
		return e.Clone(), nil
	}

	// Decisive vote: persist the tally and resolve in one critical
	// section, then pay out.
	if err := s.resolveLocked(ctx, e, outcome, PathDispute, voter); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	s.events.Record(ctx, e.ID, "dispute.vote_cast", voter, map[string]any{
		"forPayer": forPayer,
		"weight":   weight,
		"decisive": true,
	})
	if err := s.executePayouts(ctx, e.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// decideVote reports whether either side's weight strictly exceeds
// majorityBps of the ledger's total weight. big.Int avoids overflow on
// large ledgers.
func decideVote(forPayer, forPayee, total uint64, majorityBps int64) (Outcome, bool) {
	if total == 0 {
		return "", false
	}
	threshold := new(big.Int).Mul(new(big.Int).SetUint64(total), big.NewInt(majorityBps))
	exceeds := func(side uint64) bool {
		scaled := new(big.Int).Mul(new(big.Int).SetUint64(side), big.NewInt(amount.BpsDenominator))
		return scaled.Cmp(threshold) > 0
	}
	if exceeds(forPayer) {
		return OutcomePayerWins, true
	}
	if exceeds(forPayee) {
		return OutcomePayeeWins, true
	}
	return "", false
}
