package events

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresLog persists events in PostgreSQL. The sequence number comes
// from a BIGSERIAL column, so ordering survives restarts.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a new PostgreSQL-backed event log.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	return l.db.QueryRowContext(ctx, `
		INSERT INTO escrow_events (id, escrow_id, type, actor, data, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		ev.ID, ev.EscrowID, ev.Type, ev.Actor, data, ev.At).Scan(&ev.Seq)
}

func (l *PostgresLog) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.list(ctx, `
		SELECT seq, id, escrow_id, type, actor, data, at
		FROM escrow_events WHERE escrow_id = $1
		ORDER BY seq ASC LIMIT $2`, escrowID, limit)
}

func (l *PostgresLog) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.list(ctx, `
		SELECT seq, id, escrow_id, type, actor, data, at
		FROM escrow_events
		ORDER BY seq DESC LIMIT $1`, limit)
}

func (l *PostgresLog) list(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		var data []byte
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.EscrowID, &ev.Type, &ev.Actor, &data, &ev.At); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
