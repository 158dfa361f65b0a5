package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/amount"
	"github.com/clearhold/clearhold/internal/traces"
)

// Reputation adjustments applied when a dispute resolves.
const (
	disputeWinBonus    = 5
	disputeLossPenalty = -5
)

// CustodyAdapter moves funds between custody accounts. Implemented by
// custody.MemoryBank and custody.OnchainAdapter.
type CustodyAdapter interface {
	Transfer(ctx context.Context, asset, from, to string, amount *big.Int) error
}

// ReputationLedger supplies voting weight and absorbs dispute-outcome
// adjustments. Implemented by reputation.LedgerService.
type ReputationLedger interface {
	ScoreOf(ctx context.Context, identity string) (uint64, error)
	Adjust(ctx context.Context, identity string, delta int64) error
	TotalWeight(ctx context.Context) (uint64, error)
}

// EventSink receives lifecycle events. The events package fans these
// out to the audit log, webhooks, websocket subscribers and metrics.
type EventSink interface {
	Record(ctx context.Context, escrowID, eventType, actor string, data map[string]any)
}

type nopSink struct{}

func (nopSink) Record(context.Context, string, string, string, map[string]any) {}

// Store persists escrows. Implementations must be safe for concurrent
// use; the service serializes writes per escrow on top of that.
type Store interface {
	NextID(ctx context.Context) (string, error)
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	ListByParty(ctx context.Context, identity string, limit int) ([]*Escrow, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error)
	ListPendingPayouts(ctx context.Context, limit int) ([]*Escrow, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Stats summarizes the registry for dashboards and the admin surface.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByOutcome    map[string]int `json:"byOutcome"`
	ByPath       map[string]int `json:"byPath"`
	TotalVolume  string         `json:"totalVolume"`
	LockedVolume string         `json:"lockedVolume"`
}

// Service coordinates the escrow lifecycle. All four resolution paths
// and the emergency override funnel into resolveLocked, which flips the
// aggregate to a terminal state before any funds move.
type Service struct {
	store      Store
	custody    CustodyAdapter
	reputation ReputationLedger
	events     EventSink
	logger     *slog.Logger

	vault      string
	platform   string
	admin      string
	arbitrator string

	params   Params
	paramsMu sync.RWMutex

	// locks serializes state transitions per escrow; payoutLocks
	// serializes leg execution so a retry can never race the original
	// payout run.
	locks       sync.Map
	payoutLocks sync.Map

	now func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithEvents sets the lifecycle event sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source. Deadlines are evaluated lazily
// against this clock at call time; there is no background scheduler.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAccounts sets the custody vault and platform fee accounts.
func WithAccounts(vault, platform string) Option {
	return func(s *Service) {
		s.vault = strings.ToLower(vault)
		s.platform = strings.ToLower(platform)
	}
}

// WithRoles sets the emergency admin and the optional arbitrator
// (third eligible multi-sig signer).
func WithRoles(admin, arbitrator string) Option {
	return func(s *Service) {
		s.admin = strings.ToLower(admin)
		s.arbitrator = strings.ToLower(arbitrator)
	}
}

// NewService creates the escrow service.
func NewService(store Store, custody CustodyAdapter, reputation ReputationLedger, params Params, opts ...Option) *Service {
	s := &Service{
		store:      store,
		custody:    custody,
		reputation: reputation,
		events:     nopSink{},
		logger:     slog.Default(),
		vault:      "vault",
		platform:   "platform",
		params:     params,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Params returns the current parameter set.
func (s *Service) Params() Params {
	s.paramsMu.RLock()
	defer s.paramsMu.RUnlock()
	return s.params
}

// SetParams replaces the parameter set after revalidating bounds.
func (s *Service) SetParams(p Params) error {
	if err := p.Validate(s.arbitrator != ""); err != nil {
		return err
	}
	s.paramsMu.Lock()
	s.params = p
	s.paramsMu.Unlock()
	return nil
}

func (s *Service) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) payoutLockFor(id string) *sync.Mutex {
	mu, _ := s.payoutLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateRequest carries the inputs for a new escrow.
type CreateRequest struct {
	Payer                  string
	Payee                  string
	Asset                  string
	Amount                 string
	DeliveryDeadline       time.Time
	DisableEmergencyRefund bool
}

// Create registers a new escrow in state created. No funds move until
// LockFunds. Escrows at or above the high-value threshold are flagged
// for multi-sig release.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		traces.Identity(req.Payer),
		traces.Amount(req.Amount),
	)
	defer span.End()

	payer := strings.ToLower(strings.TrimSpace(req.Payer))
	payee := strings.ToLower(strings.TrimSpace(req.Payee))
	if payer == "" || payee == "" {
		return nil, fmt.Errorf("%w: payer and payee are required", ErrInvalidParty)
	}
	if payer == payee {
		return nil, ErrInvalidParty
	}

	amt, ok := amount.Parse(req.Amount)
	if !ok || amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	params := s.Params()
	fee := amount.Bps(amt, params.PlatformFeeBps)
	threshold := amount.MustParse(params.HighValueThreshold)

	id, err := s.store.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating escrow id: %w", err)
	}

	now := s.now()
	e := &Escrow{
		ID:                      id,
		Payer:                   payer,
		Payee:                   payee,
		Asset:                   strings.ToLower(req.Asset),
		Amount:                  amount.Format(amt),
		FeeAmount:               amount.Format(fee),
		Status:                  StatusCreated,
		DeliveryDeadline:        req.DeliveryDeadline,
		EmergencyRefundDisabled: req.DisableEmergencyRefund,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if amt.Cmp(threshold) >= 0 {
		e.RequiresMultiSig = true
		e.MultiSigThreshold = params.MultiSigThreshold
	}

	if err := s.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("storing escrow: %w", err)
	}

	s.events.Record(ctx, e.ID, "escrow.created", payer, map[string]any{
		"payee":            payee,
		"asset":            e.Asset,
		"amount":           e.Amount,
		"feeAmount":        e.FeeAmount,
		"requiresMultiSig": e.RequiresMultiSig,
	})
	s.logger.Info("escrow created",
		"escrow_id", e.ID, "payer", payer, "payee", payee,
		"amount", e.Amount, "multisig", e.RequiresMultiSig)
	return e.Clone(), nil
}

// Cancel voids an escrow before any funds were locked. Payer only,
// from created only.
func (s *Service) Cancel(ctx context.Context, id, caller string) (*Escrow, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, e.Payer) {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusCreated {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, e.Status)
	}

	now := s.now()
	e.Status = StatusCanceled
	e.UpdatedAt = now
	e.ResolvedAt = &now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.events.Record(ctx, e.ID, "escrow.canceled", strings.ToLower(caller), nil)
	return e.Clone(), nil
}

// LockFunds debits amount + platform fee from the payer into the vault
// and moves the escrow to funds_locked. A custody failure here is
// fatal and leaves the escrow in created.
func (s *Service) LockFunds(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.LockFunds", traces.EscrowID(id))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, e.Payer) {
		return nil, ErrUnauthorized
	}
	switch e.Status {
	case StatusCreated:
	case StatusFundsLocked:
		return nil, ErrAlreadyLocked
	default:
		return nil, fmt.Errorf("%w: cannot lock funds from %s", ErrInvalidState, e.Status)
	}

	total := amount.Add(e.AmountInt(), e.FeeInt())
	if err := s.custody.Transfer(ctx, e.Asset, e.Payer, s.vault, total); err != nil {
		return nil, fmt.Errorf("%w: locking %s: %v", ErrTransferFailure, amount.Format(total), err)
	}

	e.Status = StatusFundsLocked
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.events.Record(ctx, e.ID, "escrow.funds_locked", e.Payer, map[string]any{
		"locked": amount.Format(total),
	})
	s.logger.Info("funds locked", "escrow_id", e.ID, "locked", amount.Format(total))
	return e.Clone(), nil
}

// ConfirmDelivery records the payee's delivery claim and opens the
// resolution phase. The delivery reference is stored opaquely.
func (s *Service) ConfirmDelivery(ctx context.Context, id, caller, deliveryInfo string) (*Escrow, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, e.Payee) {
		return nil, ErrUnauthorized
	}
	if e.Status != StatusFundsLocked {
		return nil, fmt.Errorf("%w: cannot confirm delivery from %s", ErrInvalidState, e.Status)
	}

	e.Status = StatusDeliveryConfirmed
	e.DeliveryInfo = deliveryInfo
	e.UpdatedAt = s.now()
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.events.Record(ctx, e.ID, "escrow.delivery_confirmed", e.Payee, nil)
	return e.Clone(), nil
}

// Approve is the payer's direct release. For ordinary escrows it
// resolves immediately in the payee's favor; for high-value escrows it
// counts as the payer's signature toward the multi-sig quorum.
func (s *Service) Approve(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Approve", traces.EscrowID(id))
	defer span.End()

	mu := s.lockFor(id)
	mu.Lock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if !strings.EqualFold(caller, e.Payer) {
		mu.Unlock()
		return nil, ErrUnauthorized
	}
	if e.Status != StatusDeliveryConfirmed {
		mu.Unlock()
		if e.IsTerminal() {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: cannot approve from %s", ErrInvalidState, e.Status)
	}

	if e.RequiresMultiSig {
		resolved, err := s.addSignatureLocked(ctx, e, e.Payer)
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

	if err := s.resolveLocked(ctx, e, OutcomePayeeWins, PathApproval, e.Payer); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	if err := s.executePayouts(ctx, e.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Get returns an escrow by id.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns escrows where the identity is payer or payee.
func (s *Service) ListByParty(ctx context.Context, identity string, limit int) ([]*Escrow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByParty(ctx, strings.ToLower(identity), limit)
}

// ListPendingPayouts returns terminal escrows with unexecuted legs.
func (s *Service) ListPendingPayouts(ctx context.Context, limit int) ([]*Escrow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListPendingPayouts(ctx, limit)
}

// Stats returns registry-wide aggregates.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

// resolveLocked flips the escrow to its terminal state and computes the
// payout legs. The caller must hold the escrow's mutex. Funds do NOT
// move here: the terminal state is persisted first, so any reentrant
// call observes it and fails with ErrAlreadyResolved, then the caller
// releases the mutex and runs executePayouts.
func (s *Service) resolveLocked(ctx context.Context, e *Escrow, outcome Outcome, path Path, actor string) error {
	if e.IsTerminal() {
		return ErrAlreadyResolved
	}

	wasDisputed := e.Status == StatusDisputed

	now := s.now()
	if outcome == OutcomePayeeWins {
		e.Status = StatusPayeeWins
	} else {
		e.Status = StatusPayerWins
	}
	e.Outcome = outcome
	e.ResolutionPath = path
	e.PendingPayouts = s.payoutLegs(e, outcome, path)
	e.UpdatedAt = now
	e.ResolvedAt = &now

	if err := s.store.Update(ctx, e); err != nil {
		return fmt.Errorf("persisting resolution: %w", err)
	}

	s.events.Record(ctx, e.ID, "escrow.resolved", actor, map[string]any{
		"outcome": string(outcome),
		"path":    string(path),
		"legs":    len(e.PendingPayouts),
	})
	s.logger.Info("escrow resolved",
		"escrow_id", e.ID, "outcome", outcome, "path", path, "legs", len(e.PendingPayouts))

	if wasDisputed && path == PathDispute {
		s.adjustReputation(ctx, e, outcome)
	}
	return nil
}

// adjustReputation applies the fixed win/loss deltas after a voted
// dispute. Failures are logged, not surfaced; the resolution stands.
func (s *Service) adjustReputation(ctx context.Context, e *Escrow, outcome Outcome) {
	winner, loser := e.Payee, e.Payer
	if outcome == OutcomePayerWins {
		winner, loser = e.Payer, e.Payee
	}
	if err := s.reputation.Adjust(ctx, winner, disputeWinBonus); err != nil {
		s.logger.Error("reputation adjust failed", "escrow_id", e.ID, "identity", winner, "error", err)
	}
	if err := s.reputation.Adjust(ctx, loser, disputeLossPenalty); err != nil {
		s.logger.Error("reputation adjust failed", "escrow_id", e.ID, "identity", loser, "error", err)
	}
}

// payoutLegs computes the full distribution of custodied value for an
// outcome. The sum of legs always equals everything locked for this
// escrow (amount + fee + bond): nothing is stranded in the vault.
func (s *Service) payoutLegs(e *Escrow, outcome Outcome, path Path) []PayoutLeg {
	amt := e.AmountInt()
	fee := e.FeeInt()
	bond := e.BondInt()

	var legs []PayoutLeg
	add := func(to, kind string, v *big.Int) {
		if v.Sign() > 0 {
			legs = append(legs, PayoutLeg{To: to, Asset: e.Asset, Amount: amount.Format(v), Kind: kind})
		}
	}

	if outcome == OutcomePayeeWins {
		// Fee is borne by the payee's proceeds; the payer's fee
		// prefund goes back to them.
		add(e.Payee, "payout", amount.Sub(amt, fee))
		add(s.platform, "fee", fee)
		add(e.Payer, "fee_return", fee)
	} else {
		// Refund waives the fee entirely.
		add(e.Payer, "refund", amount.Add(amt, fee))
	}

	if bond.Sign() > 0 {
		winner := e.Payee
		if outcome == OutcomePayerWins {
			winner = e.Payer
		}
		posterWon := strings.EqualFold(e.BondPoster, winner)
		if posterWon || path == PathEmergency {
			add(e.BondPoster, "bond_return", bond)
		} else {
			add(winner, "bond_award", bond)
		}
	}
	return legs
}

// executePayouts drains the escrow's pending legs through custody. Each
// successful leg is removed and persisted before the next starts, so a
// crash or failure never repeats a completed transfer. On failure the
// escrow stays terminal with the remaining legs recorded for operator
// retry.
func (s *Service) executePayouts(ctx context.Context, id string) error {
	pmu := s.payoutLockFor(id)
	if !pmu.TryLock() {
		return ErrPayoutInProgress
	}
	defer pmu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !e.IsTerminal() {
		return fmt.Errorf("%w: escrow not resolved", ErrInvalidState)
	}

	for len(e.PendingPayouts) > 0 {
		leg := e.PendingPayouts[0]
		v := amount.MustParse(leg.Amount)
		if err := s.custody.Transfer(ctx, leg.Asset, s.vault, leg.To, v); err != nil {
			s.logger.Error("payout leg failed",
				"escrow_id", e.ID, "to", leg.To, "kind", leg.Kind,
				"amount", leg.Amount, "remaining_legs", len(e.PendingPayouts), "error", err)
			s.events.Record(ctx, e.ID, "escrow.payout_failed", "", map[string]any{
				"kind":          leg.Kind,
				"amount":        leg.Amount,
				"remainingLegs": len(e.PendingPayouts),
			})
			return fmt.Errorf("%w: %s leg to %s: %v", ErrTransferFailure, leg.Kind, leg.To, err)
		}

		e.PendingPayouts = e.PendingPayouts[1:]
		e.UpdatedAt = s.now()
		if err := s.store.Update(ctx, e); err != nil {
			return fmt.Errorf("persisting payout progress: %w", err)
		}
	}
	return nil
}

// RetryPayout re-executes the remaining legs of a terminal escrow whose
// payout previously failed. Admin surface; safe to call repeatedly.
func (s *Service) RetryPayout(ctx context.Context, id string) (*Escrow, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.IsTerminal() {
		return nil, fmt.Errorf("%w: escrow not resolved", ErrInvalidState)
	}
	if len(e.PendingPayouts) == 0 {
		return e, nil
	}

	s.events.Record(ctx, id, "escrow.payout_retried", "", map[string]any{
		"remainingLegs": len(e.PendingPayouts),
	})
	if err := s.executePayouts(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}
