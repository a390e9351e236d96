package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/appetiteclub/edge/internal/ticketlog"
)

var _ ticketlog.Mirror = (*Store)(nil)

func (s *Store) Append(ctx context.Context, e ticketlog.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var payload sql.NullString
	if len(e.Payload) > 0 {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_log (id, kind, area, table_label, idempotency_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Area, e.Table, nullString(e.IdempotencyKey), payload, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("cannot append ticket log: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f ticketlog.Filter) ([]ticketlog.Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, area, table_label, idempotency_key, payload, created_at FROM ticket_log`
	var args []any
	if f.Area != "" && f.Table != "" {
		query += ` WHERE area = ? AND table_label = ?`
		args = append(args, f.Area, f.Table)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot list ticket log: %w", err)
	}
	defer rows.Close()

	var out []ticketlog.Entry
	for rows.Next() {
		var e ticketlog.Entry
		var kind, created string
		var key, payload sql.NullString
		if err := rows.Scan(&e.ID, &kind, &e.Area, &e.Table, &key, &payload, &created); err != nil {
			return nil, fmt.Errorf("cannot scan ticket log: %w", err)
		}
		e.Kind = ticketlog.Kind(kind)
		e.IdempotencyKey = key.String
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
