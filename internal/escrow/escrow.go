// Package escrow implements the custodial escrow lifecycle for
// two-party marketplace trades.
//
// Flow:
//  1. Payer creates an escrow and locks amount + platform fee in custody
//  2. Payee confirms delivery
//  3. One of four competing resolution paths releases the funds:
//     direct payer approval, reputation-weighted dispute voting,
//     multi-party signature quorum (high-value trades), or a
//     time-lock fallback, and an administrative emergency refund
//  4. All paths funnel through a single resolve step that pays out
//     exactly once
package escrow

import (
	"errors"
	"math/big"
	"time"

	"github.com/clearhold/clearhold/internal/amount"
)

var (
	ErrNotFound            = errors.New("escrow not found")
	ErrInvalidState        = errors.New("invalid escrow state for this operation")
	ErrUnauthorized        = errors.New("not authorized for this escrow operation")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidParty        = errors.New("payer and payee must differ")
	ErrAlreadyLocked       = errors.New("funds already locked")
	ErrAlreadyVoted        = errors.New("identity has already voted on this dispute")
	ErrAlreadySigned       = errors.New("identity has already signed this release")
	ErrAlreadyResolved     = errors.New("escrow already resolved")
	ErrNoVotingPower       = errors.New("identity has no reputation weight")
	ErrNotAuthorizedSigner = errors.New("not an authorized signer")
	ErrTimeLockNotExpired  = errors.New("time lock has not expired")
	ErrWindowExpired       = errors.New("emergency window has expired")
	ErrTransferFailure     = errors.New("custody transfer failed")
	ErrPayoutInProgress    = errors.New("payout execution already in progress")
)

// Status is the lifecycle state of an escrow. Statuses are named
// strings end to end; numeric encodings are not part of the contract.
type Status string

const (
	StatusCreated           Status = "created"
	StatusFundsLocked       Status = "funds_locked"
	StatusDeliveryConfirmed Status = "delivery_confirmed"
	StatusDisputed          Status = "disputed"
	StatusPayeeWins         Status = "resolved_payee_wins"
	StatusPayerWins         Status = "resolved_payer_wins"
	StatusCanceled          Status = "canceled"
)

// Outcome of a resolved escrow.
type Outcome string

const (
	OutcomePayeeWins Outcome = "payee_wins"
	OutcomePayerWins Outcome = "payer_wins"
)

// Path identifies which resolution path reached resolve first.
type Path string

const (
	PathApproval  Path = "approval"
	PathDispute   Path = "dispute"
	PathMultiSig  Path = "multisig"
	PathTimeLock  Path = "timelock"
	PathEmergency Path = "emergency"
)

// EvidenceEntry is an opaque evidence reference submitted during a
// dispute. Only the reference is stored; content verification is out
// of scope.
type EvidenceEntry struct {
	Submitter string    `json:"submitter"`
	Reference string    `json:"reference"`
	At        time.Time `json:"at"`
}

// PayoutLeg is one pending custody transfer of a resolved escrow.
// Legs are computed once at resolution and drained as each transfer
// succeeds; legs remaining after a transfer failure are retried by an
// operator, never re-derived.
type PayoutLeg struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Kind   string `json:"kind"` // payout, refund, fee, fee_return, bond_return, bond_award
}

// Escrow is the central aggregate, one per trade. Terminal escrows are
// retained forever as immutable history.
type Escrow struct {
	ID        string `json:"id"`
	Payer     string `json:"payer"`
	Payee     string `json:"payee"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	FeeAmount string `json:"feeAmount"`

	Status Status `json:"status"`

	DeliveryDeadline time.Time `json:"deliveryDeadline"`
	DeliveryInfo     string    `json:"deliveryInfo,omitempty"`

	RequiresMultiSig  bool     `json:"requiresMultiSig"`
	MultiSigThreshold int      `json:"multiSigThreshold,omitempty"`
	Signers           []string `json:"signers,omitempty"`

	TimeLockExpiry *time.Time `json:"timeLockExpiry,omitempty"`

	DisputeReason string          `json:"disputeReason,omitempty"`
	DisputeBond   string          `json:"disputeBond,omitempty"`
	BondPoster    string          `json:"bondPoster,omitempty"`
	Evidence      []EvidenceEntry `json:"evidence,omitempty"`

	VotesForPayer uint64   `json:"votesForPayer"`
	VotesForPayee uint64   `json:"votesForPayee"`
	Voters        []string `json:"voters,omitempty"`

	EmergencyRefundDisabled bool `json:"emergencyRefundDisabled,omitempty"`

	Outcome        Outcome     `json:"outcome,omitempty"`
	ResolutionPath Path        `json:"resolutionPath,omitempty"`
	PendingPayouts []PayoutLeg `json:"pendingPayouts,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusPayeeWins, StatusPayerWins, StatusCanceled:
		return true
	}
	return false
}

// IsParty returns true if the identity is the payer or the payee.
func (e *Escrow) IsParty(identity string) bool {
	return identity == e.Payer || identity == e.Payee
}

// HasVoted returns true if the identity already cast a vote.
func (e *Escrow) HasVoted(identity string) bool {
	for _, v := range e.Voters {
		if v == identity {
			return true
		}
	}
	return false
}

// HasSigned returns true if the identity already signed the release.
func (e *Escrow) HasSigned(identity string) bool {
	for _, s := range e.Signers {
		if s == identity {
			return true
		}
	}
	return false
}

// AmountInt returns the principal in base units.
func (e *Escrow) AmountInt() *big.Int { return amount.MustParse(e.Amount) }

// FeeInt returns the platform fee in base units.
func (e *Escrow) FeeInt() *big.Int { return amount.MustParse(e.FeeAmount) }

// BondInt returns the dispute bond in base units (zero if no dispute).
func (e *Escrow) BondInt() *big.Int {
	if e.DisputeBond == "" {
		return big.NewInt(0)
	}
	return amount.MustParse(e.DisputeBond)
}

// Clone returns a deep copy. Stores hand out clones so callers can
// never mutate a stored aggregate through a shared pointer or slice
// backing array.
func (e *Escrow) Clone() *Escrow {
	cp := *e
	if e.Signers != nil {
		cp.Signers = append([]string(nil), e.Signers...)
	}
	if e.Voters != nil {
		cp.Voters = append([]string(nil), e.Voters...)
	}
	if e.Evidence != nil {
		cp.Evidence = append([]EvidenceEntry(nil), e.Evidence...)
	}
	if e.PendingPayouts != nil {
		cp.PendingPayouts = append([]PayoutLeg(nil), e.PendingPayouts...)
	}
	if e.TimeLockExpiry != nil {
		t := *e.TimeLockExpiry
		cp.TimeLockExpiry = &t
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
