package reputation

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresStore persists reputation records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reputation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, identity string) (*Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT identity, score, updated_at FROM reputation WHERE identity = $1`,
		strings.ToLower(identity))

	rec := &Record{}
	err := row.Scan(&rec.Identity, &rec.Score, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownIdentity
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation (identity, score, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE SET score = $2, updated_at = $3`,
		strings.ToLower(rec.Identity), rec.Score, rec.UpdatedAt)
	return err
}

func (p *PostgresStore) Sum(ctx context.Context) (uint64, error) {
	row := p.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(score), 0) FROM reputation`)
	var total uint64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT identity, score, updated_at FROM reputation ORDER BY score DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.Identity, &rec.Score, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
