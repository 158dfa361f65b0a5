package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists escrows in PostgreSQL. Scalar fields map to
// columns; signatures, voters, evidence and pending payout legs are
// stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `
	id, payer, payee, asset, amount, fee_amount, status,
	delivery_deadline, delivery_info,
	requires_multisig, multisig_threshold, signers,
	timelock_expiry,
	dispute_reason, dispute_bond, bond_poster, evidence,
	votes_for_payer, votes_for_payee, voters,
	emergency_refund_disabled,
	outcome, resolution_path, pending_payouts,
	created_at, updated_at, resolved_at`

func (p *PostgresStore) NextID(ctx context.Context) (string, error) {
	var n int64
	if err := p.db.QueryRowContext(ctx, `SELECT nextval('escrow_id_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("esc_%d", n), nil
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	signers, voters, evidence, legs, err := marshalJSONFields(e)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		e.ID, e.Payer, e.Payee, e.Asset, e.Amount, e.FeeAmount, string(e.Status),
		e.DeliveryDeadline, e.DeliveryInfo,
		e.RequiresMultiSig, e.MultiSigThreshold, signers,
		e.TimeLockExpiry,
		e.DisputeReason, nullIfEmpty(e.DisputeBond), e.BondPoster, evidence,
		int64(e.VotesForPayer), int64(e.VotesForPayee), voters,
		e.EmergencyRefundDisabled,
		string(e.Outcome), string(e.ResolutionPath), legs,
		e.CreatedAt, e.UpdatedAt, e.ResolvedAt)
	return err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	signers, voters, evidence, legs, err := marshalJSONFields(e)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $2, delivery_info = $3,
			signers = $4, timelock_expiry = $5,
			dispute_reason = $6, dispute_bond = $7, bond_poster = $8, evidence = $9,
			votes_for_payer = $10, votes_for_payee = $11, voters = $12,
			emergency_refund_disabled = $13,
			outcome = $14, resolution_path = $15, pending_payouts = $16,
			updated_at = $17, resolved_at = $18
		WHERE id = $1`,
		e.ID, string(e.Status), e.DeliveryInfo,
		signers, e.TimeLockExpiry,
		e.DisputeReason, nullIfEmpty(e.DisputeBond), e.BondPoster, evidence,
		int64(e.VotesForPayer), int64(e.VotesForPayee), voters,
		e.EmergencyRefundDisabled,
		string(e.Outcome), string(e.ResolutionPath), legs,
		e.UpdatedAt, e.ResolvedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) ListByParty(ctx context.Context, identity string, limit int) ([]*Escrow, error) {
	return p.list(ctx,
		`SELECT `+escrowColumns+` FROM escrows
		 WHERE payer = $1 OR payee = $1
		 ORDER BY created_at DESC LIMIT $2`, identity, limit)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	return p.list(ctx,
		`SELECT `+escrowColumns+` FROM escrows
		 WHERE status = $1
		 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
}

func (p *PostgresStore) ListPendingPayouts(ctx context.Context, limit int) ([]*Escrow, error) {
	return p.list(ctx,
		`SELECT `+escrowColumns+` FROM escrows
		 WHERE status IN ($1, $2) AND jsonb_array_length(pending_payouts) > 0
		 ORDER BY created_at DESC LIMIT $3`,
		string(StatusPayeeWins), string(StatusPayerWins), limit)
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:  make(map[string]int),
		ByOutcome: make(map[string]int),
		ByPath:    make(map[string]int),
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT status, outcome, resolution_path, COUNT(*)
		FROM escrows GROUP BY status, outcome, resolution_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, outcome, path string
		var count int
		if err := rows.Scan(&status, &outcome, &path, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		if outcome != "" {
			stats.ByOutcome[outcome] += count
		}
		if path != "" {
			stats.ByPath[path] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM escrows`).Scan(&stats.TotalVolume)
	if err != nil {
		return nil, err
	}

	// In custody: amount+fee+bond of live escrows plus the unexecuted
	// legs of terminal ones.
	err = p.db.QueryRowContext(ctx, `
		SELECT (
			COALESCE((SELECT SUM(amount + fee_amount + COALESCE(dispute_bond, 0))
				FROM escrows WHERE status IN ($1, $2, $3)), 0)
			+
			COALESCE((SELECT SUM((leg->>'amount')::numeric)
				FROM escrows, jsonb_array_elements(pending_payouts) AS leg
				WHERE status IN ($4, $5)), 0)
		)::text`,
		string(StatusFundsLocked), string(StatusDeliveryConfirmed), string(StatusDisputed),
		string(StatusPayeeWins), string(StatusPayerWins)).Scan(&stats.LockedVolume)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		status, outcome, path        string
		signers, voters, evid, legs  []byte
		bond                         sql.NullString
		timelockExpiry, resolvedAt   sql.NullTime
		votesForPayer, votesForPayee int64
	)
	err := row.Scan(
		&e.ID, &e.Payer, &e.Payee, &e.Asset, &e.Amount, &e.FeeAmount, &status,
		&e.DeliveryDeadline, &e.DeliveryInfo,
		&e.RequiresMultiSig, &e.MultiSigThreshold, &signers,
		&timelockExpiry,
		&e.DisputeReason, &bond, &e.BondPoster, &evid,
		&votesForPayer, &votesForPayee, &voters,
		&e.EmergencyRefundDisabled,
		&outcome, &path, &legs,
		&e.CreatedAt, &e.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.Outcome = Outcome(outcome)
	e.ResolutionPath = Path(path)
	e.VotesForPayer = uint64(votesForPayer)
	e.VotesForPayee = uint64(votesForPayee)
	if bond.Valid {
		e.DisputeBond = bond.String
	}
	if timelockExpiry.Valid {
		t := timelockExpiry.Time
		e.TimeLockExpiry = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}

	if err := json.Unmarshal(signers, &e.Signers); err != nil {
		return nil, fmt.Errorf("decoding signers for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(voters, &e.Voters); err != nil {
		return nil, fmt.Errorf("decoding voters for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(evid, &e.Evidence); err != nil {
		return nil, fmt.Errorf("decoding evidence for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(legs, &e.PendingPayouts); err != nil {
		return nil, fmt.Errorf("decoding pending payouts for %s: %w", e.ID, err)
	}
	return e, nil
}

func marshalJSONFields(e *Escrow) (signers, voters, evidence, legs []byte, err error) {
	if signers, err = json.Marshal(orEmpty(e.Signers)); err != nil {
		return
	}
	if voters, err = json.Marshal(orEmpty(e.Voters)); err != nil {
		return
	}
	if evidence, err = json.Marshal(orEmptyEvidence(e.Evidence)); err != nil {
		return
	}
	legs, err = json.Marshal(orEmptyLegs(e.PendingPayouts))
	return
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyEvidence(s []EvidenceEntry) []EvidenceEntry {
	if s == nil {
		return []EvidenceEntry{}
	}
	return s
}

func orEmptyLegs(s []PayoutLeg) []PayoutLeg {
	if s == nil {
		return []PayoutLeg{}
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
