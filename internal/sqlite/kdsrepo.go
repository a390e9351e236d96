package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/edge/internal/kds"
	"github.com/appetiteclub/edge/pkg/enums/stationstatus"
	"github.com/google/uuid"
)

var _ kds.Repository = (*Store)(nil)

// WithTx runs fn in one immediate transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx kds.Tx) error) error {
	if s.db == nil {
		return kds.ErrStoreUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	if err := fn(&kitchenTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorf("cannot roll back kitchen transaction: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}
	return nil
}

type kitchenTx struct {
	tx *sql.Tx
}

const orderColumns = `id, day_key, order_no, area, table_label, opened_at, closed_at`

func scanOrder(row scanner) (*kds.Order, error) {
	var o kds.Order
	var id, opened string
	var closed sql.NullString
	err := row.Scan(&id, &o.DayKey, &o.OrderNo, &o.Area, &o.TableLabel, &opened, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kds.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read order: %w", err)
	}
	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if o.OpenedAt, err = parseTime(opened); err != nil {
		return nil, err
	}
	if o.ClosedAt, err = parseNullTime(closed); err != nil {
		return nil, err
	}
	return &o, nil
}

func (k *kitchenTx) FindOpenOrder(ctx context.Context, area, table string) (*kds.Order, error) {
	row := k.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM kds_order
		WHERE area = ? AND table_label = ? AND closed_at IS NULL`, area, table)
	return scanOrder(row)
}

func (k *kitchenTx) FindOrder(ctx context.Context, id kds.OrderID) (*kds.Order, error) {
	row := k.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM kds_order WHERE id = ?`, id.String())
	return scanOrder(row)
}

func (k *kitchenTx) NextOrderNo(ctx context.Context, dayKey string) (int, error) {
	var max int
	err := k.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(order_no), 0) FROM kds_order WHERE day_key = ?`, dayKey).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("cannot read order counter: %w", err)
	}
	return max + 1, nil
}

func (k *kitchenTx) CreateOrder(ctx context.Context, o *kds.Order) error {
	_, err := k.tx.ExecContext(ctx, `INSERT INTO kds_order (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.DayKey, o.OrderNo, o.Area, o.TableLabel, formatTime(o.OpenedAt), nullTime(o.ClosedAt))
	if err != nil {
		return fmt.Errorf("cannot insert order: %w", err)
	}
	return nil
}

func (k *kitchenTx) CloseOrder(ctx context.Context, id kds.OrderID, at time.Time) error {
	res, err := k.tx.ExecContext(ctx, `UPDATE kds_order SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("cannot close order: %w", err)
	}
	return expectOne(res)
}

func (k *kitchenTx) CreateTicket(ctx context.Context, t *kds.Ticket) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("cannot encode ticket items: %w", err)
	}
	_, err = k.tx.ExecContext(ctx, `INSERT INTO kds_ticket (id, order_id, fired_at, items_json, note) VALUES (?, ?, ?, ?, ?)`,
		t.ID.String(), t.OrderID.String(), formatTime(t.FiredAt), string(items), nullString(t.Note))
	if err != nil {
		return fmt.Errorf("cannot insert ticket: %w", err)
	}
	return nil
}

const ticketColumns = `id, order_id, fired_at, items_json, note`

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*kds.Ticket, error) {
	var t kds.Ticket
	var id, orderID, fired, items string
	var note sql.NullString
	err := row.Scan(&id, &orderID, &fired, &items, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kds.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read ticket: %w", err)
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if t.OrderID, err = uuid.Parse(orderID); err != nil {
		return nil, err
	}
	if t.FiredAt, err = parseTime(fired); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
		return nil, fmt.Errorf("cannot decode ticket items: %w", err)
	}
	t.Note = note.String
	return &t, nil
}

func (k *kitchenTx) FindTicket(ctx context.Context, id kds.TicketID) (*kds.Ticket, error) {
	return scanTicket(k.tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM kds_ticket WHERE id = ?`, id.String()))
}

func (k *kitchenTx) ListTickets(ctx context.Context, orderID kds.OrderID) ([]kds.Ticket, error) {
	rows, err := k.tx.QueryContext(ctx, `SELECT `+ticketColumns+` FROM kds_ticket
		WHERE order_id = ? ORDER BY fired_at, rowid`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", err)
	}
	defer rows.Close()

	var out []kds.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (k *kitchenTx) UpdateTicketItems(ctx context.Context, id kds.TicketID, items []kds.LineItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("cannot encode ticket items: %w", err)
	}
	res, err := k.tx.ExecContext(ctx, `UPDATE kds_ticket SET items_json = ? WHERE id = ?`, string(raw), id.String())
	if err != nil {
		return fmt.Errorf("cannot update ticket items: %w", err)
	}
	return expectOne(res)
}

const stationColumns = `s.id, s.ticket_id, s.station, s.status, s.bumped_at, s.bumped_by`

func (k *kitchenTx) CreateStation(ctx context.Context, st *kds.TicketStation) error {
	if stationstatus.ByName(st.Status) == nil {
		return fmt.Errorf("%w: unknown station status %q", kds.ErrInvalid, st.Status)
	}
	_, err := k.tx.ExecContext(ctx, `INSERT INTO kds_ticket_station (id, ticket_id, station, status, bumped_at, bumped_by)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID.String(), st.TicketID.String(), st.Station, st.Status, nullTime(st.BumpedAt), nullString(st.BumpedBy))
	if err != nil {
		return fmt.Errorf("cannot insert station row: %w", err)
	}
	return nil
}

func (k *kitchenTx) ListStations(ctx context.Context, ticketID kds.TicketID) ([]kds.TicketStation, error) {
	return k.queryStations(ctx, `SELECT `+stationColumns+` FROM kds_ticket_station s
		WHERE s.ticket_id = ? ORDER BY s.station`, ticketID.String())
}

func (k *kitchenTx) ListStationsByStatus(ctx context.Context, station, status string) ([]kds.TicketStation, error) {
	return k.queryStations(ctx, `SELECT `+stationColumns+` FROM kds_ticket_station s
		JOIN kds_ticket t ON t.id = s.ticket_id
		WHERE s.station = ? AND s.status = ? ORDER BY t.fired_at, t.rowid`, station, status)
}

func (k *kitchenTx) queryStations(ctx context.Context, query string, args ...any) ([]kds.TicketStation, error) {
	rows, err := k.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot list station rows: %w", err)
	}
	defer rows.Close()

	var out []kds.TicketStation
	for rows.Next() {
		var st kds.TicketStation
		var id, ticketID string
		var bumpedAt, bumpedBy sql.NullString
		if err := rows.Scan(&id, &ticketID, &st.Station, &st.Status, &bumpedAt, &bumpedBy); err != nil {
			return nil, fmt.Errorf("cannot scan station row: %w", err)
		}
		if st.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if st.TicketID, err = uuid.Parse(ticketID); err != nil {
			return nil, err
		}
		if st.BumpedAt, err = parseNullTime(bumpedAt); err != nil {
			return nil, err
		}
		st.BumpedBy = bumpedBy.String
		out = append(out, st)
	}
	return out, rows.Err()
}

func (k *kitchenTx) UpdateStation(ctx context.Context, st *kds.TicketStation) error {
	res, err := k.tx.ExecContext(ctx, `UPDATE kds_ticket_station SET status = ?, bumped_at = ?, bumped_by = ? WHERE id = ?`,
		st.Status, nullTime(st.BumpedAt), nullString(st.BumpedBy), st.ID.String())
	if err != nil {
		return fmt.Errorf("cannot update station row: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return kds.ErrNotFound
	}
	return nil
}
