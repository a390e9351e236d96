package kds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/edge/internal/metrics"
	"github.com/appetiteclub/edge/pkg/enums/station"
	"github.com/appetiteclub/edge/pkg/enums/stationstatus"
	"github.com/appetiteclub/edge/pkg/event"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

const dayKeyLayout = "2006-01-02"

// Catalog resolves a SKU to its station code.
type Catalog interface {
	StationFor(sku string) (string, bool)
}

type Config struct {
	Enabled  station.Set
	Fallback string
	// RolloverHour is the local hour a business day starts at. Tickets fired
	// earlier belong to the previous day.
	RolloverHour int
}

func DefaultConfig() Config {
	return Config{
		Enabled:      station.DefaultSet(),
		RolloverHour: 4,
	}
}

func ConfigFrom(config *aqm.Config) Config {
	cfg := DefaultConfig()
	if config == nil {
		return cfg
	}
	if raw := config.GetStringOrDef("kds.stations.enabled", ""); raw != "" {
		cfg.Enabled = station.NewSet(strings.Split(raw, ",")...)
	}
	cfg.Fallback = station.Normalize(config.GetStringOrDef("kds.stations.fallback", ""))
	if raw := config.GetStringOrDef("kds.day.rollover", ""); raw != "" {
		if h, err := strconv.Atoi(raw); err == nil && h >= 0 && h < 24 {
			cfg.RolloverHour = h
		}
	}
	return cfg
}

// Engine routes fired tickets to stations and tracks per-station completion.
type Engine struct {
	repo      Repository
	catalog   Catalog
	publisher events.Publisher
	cfg       Config
	logger    aqm.Logger
	now       func() time.Time
}

func NewEngine(repo Repository, catalog Catalog, publisher events.Publisher, cfg Config, logger aqm.Logger) *Engine {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.Enabled.Len() == 0 {
		cfg.Enabled = station.DefaultSet()
	}
	return &Engine{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// DayKey returns the business day t belongs to.
func (e *Engine) DayKey(t time.Time) string {
	return t.Add(-time.Duration(e.cfg.RolloverHour) * time.Hour).Format(dayKeyLayout)
}

// ResolveStation picks the first enabled station among the item's explicit
// station, its catalog entry and the configured fallback.
func (e *Engine) ResolveStation(item FireItem) string {
	candidates := []string{item.Station}
	if e.catalog != nil && item.SKU != "" {
		if st, ok := e.catalog.StationFor(item.SKU); ok {
			candidates = append(candidates, st)
		}
	}
	candidates = append(candidates, e.cfg.Fallback)

	for _, c := range candidates {
		code := station.Normalize(c)
		if code != "" && e.cfg.Enabled.Contains(code) {
			return code
		}
	}
	return ""
}

func (e *Engine) FireTicket(ctx context.Context, req FireRequest) (FireResult, error) {
	if err := req.Validate(); err != nil {
		return FireResult{}, err
	}

	items := make([]LineItem, 0, len(req.Items))
	var stations []string
	seen := make(map[string]bool)
	for _, in := range req.Items {
		qty := in.Qty
		if qty == 0 {
			qty = 1
		}
		st := e.ResolveStation(in)
		items = append(items, LineItem{
			SKU:     strings.TrimSpace(in.SKU),
			Name:    strings.TrimSpace(in.Name),
			Qty:     qty,
			Note:    in.Note,
			Station: st,
		})
		if st != "" && !seen[st] {
			seen[st] = true
			stations = append(stations, st)
		}
	}

	if len(stations) == 0 {
		metrics.KitchenTickets.WithLabelValues("unrouted").Inc()
		e.logger.Info("fired ticket has no routable items", "area", req.Area, "table", req.Table)
		return FireResult{Routed: false}, nil
	}

	if !e.repo.Ready(ctx) {
		return FireResult{}, ErrStoreUnavailable
	}

	now := e.now()
	var order *Order
	ticket := &Ticket{
		ID:      uuid.New(),
		FiredAt: now,
		Items:   items,
		Note:    req.Note,
	}

	err := e.repo.WithTx(ctx, func(tx Tx) error {
		o, err := tx.FindOpenOrder(ctx, req.Area, req.Table)
		if errors.Is(err, ErrNotFound) {
			o, err = e.openOrder(ctx, tx, req.Area, req.Table, now)
		}
		if err != nil {
			return err
		}
		order = o

		ticket.OrderID = o.ID
		if err := tx.CreateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		for _, st := range stations {
			row := &TicketStation{
				ID:       uuid.New(),
				TicketID: ticket.ID,
				Station:  st,
				Status:   stationstatus.Statuses.New.Code(),
			}
			if err := tx.CreateStation(ctx, row); err != nil {
				return fmt.Errorf("create station row %s: %w", st, err)
			}
		}
		return nil
	})
	if err != nil {
		return FireResult{}, err
	}

	metrics.KitchenTickets.WithLabelValues("routed").Inc()
	e.logger.Info("ticket fired", "ticket_id", ticket.ID.String(), "order_no", order.OrderNo,
		"table", order.TableLabel, "stations", strings.Join(stations, ","))
	e.publishFired(ctx, order, ticket, stations)

	return FireResult{
		Routed:   true,
		OrderID:  order.ID,
		OrderNo:  order.OrderNo,
		DayKey:   order.DayKey,
		TicketID: ticket.ID,
		Stations: stations,
	}, nil
}

func (e *Engine) openOrder(ctx context.Context, tx Tx, area, table string, now time.Time) (*Order, error) {
	dayKey := e.DayKey(now)
	no, err := tx.NextOrderNo(ctx, dayKey)
	if err != nil {
		return nil, fmt.Errorf("allocate order number: %w", err)
	}
	o := &Order{
		ID:         uuid.New(),
		DayKey:     dayKey,
		OrderNo:    no,
		Area:       area,
		TableLabel: table,
		OpenedAt:   now,
	}
	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

// BumpStation marks a station's share of a ticket done. It returns false
// when the row was already done.
func (e *Engine) BumpStation(ctx context.Context, ticketID TicketID, st, bumpedBy string) (bool, error) {
	code := station.Normalize(st)
	if code == "" {
		return false, ErrInvalid
	}
	if !e.repo.Ready(ctx) {
		return false, ErrStoreUnavailable
	}

	var changed bool
	var done *TicketStation
	var order *Order
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		t, err := tx.FindTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		rows, err := tx.ListStations(ctx, ticketID)
		if err != nil {
			return err
		}
		row := findStation(rows, code)
		if row == nil {
			return ErrNotFound
		}
		if row.Status == stationstatus.Statuses.Done.Code() {
			return nil
		}
		e.markDone(row, bumpedBy)
		if err := tx.UpdateStation(ctx, row); err != nil {
			return err
		}
		changed, done = true, row
		order, err = tx.FindOrder(ctx, t.OrderID)
		return err
	})
	if err != nil || !changed {
		return false, err
	}

	metrics.KitchenStationsDone.WithLabelValues(code, "bump").Inc()
	e.publishStation(ctx, order, ticketID, done, nil)
	return true, nil
}

// BumpItem marks one snapshot item done. When that leaves its station with
// no live items the station row is completed too.
func (e *Engine) BumpItem(ctx context.Context, ticketID TicketID, index int, bumpedBy string) (bool, error) {
	if index < 0 {
		return false, ErrInvalid
	}
	if !e.repo.Ready(ctx) {
		return false, ErrStoreUnavailable
	}

	var changed bool
	var done *TicketStation
	var order *Order
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		t, err := tx.FindTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if index >= len(t.Items) {
			return ErrInvalid
		}
		item := &t.Items[index]
		if !item.Live() {
			return nil
		}
		now := e.now()
		item.Bumped = true
		item.BumpedAt = &now
		if err := tx.UpdateTicketItems(ctx, t.ID, t.Items); err != nil {
			return err
		}
		changed = true

		if item.Station != "" && !t.liveAt(item.Station) {
			rows, err := tx.ListStations(ctx, t.ID)
			if err != nil {
				return err
			}
			if row := findStation(rows, item.Station); row != nil && row.Status != stationstatus.Statuses.Done.Code() {
				e.markDone(row, bumpedBy)
				if err := tx.UpdateStation(ctx, row); err != nil {
					return err
				}
				done = row
			}
		}
		order, err = tx.FindOrder(ctx, t.OrderID)
		return err
	})
	if err != nil || !changed {
		return false, err
	}

	if done != nil {
		metrics.KitchenStationsDone.WithLabelValues(done.Station, "items").Inc()
	}
	e.publishItemBumped(ctx, order, ticketID, index, done)
	return true, nil
}

// VoidItem voids every live snapshot entry of the table's open order that
// matches by SKU, or by name when no SKU is given.
func (e *Engine) VoidItem(ctx context.Context, req VoidItemRequest) (VoidResult, error) {
	if err := req.Validate(); err != nil {
		return VoidResult{}, err
	}
	if !e.repo.Ready(ctx) {
		return VoidResult{}, ErrStoreUnavailable
	}

	match := e.matcher(req.SKU, req.Name)
	var res VoidResult
	var order *Order
	var touched []TicketID
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		o, err := tx.FindOpenOrder(ctx, req.Area, req.Table)
		if errors.Is(err, ErrNotFound) {
			return ErrNoOpenOrder
		}
		if err != nil {
			return err
		}
		order = o

		tickets, err := tx.ListTickets(ctx, o.ID)
		if err != nil {
			return err
		}
		now := e.now()
		for i := range tickets {
			t := &tickets[i]
			voided := 0
			for j := range t.Items {
				item := &t.Items[j]
				if item.Voided || !match(*item) {
					continue
				}
				item.Voided = true
				item.VoidedAt = &now
				item.VoidReason = req.Reason
				voided++
			}
			if voided == 0 {
				continue
			}
			if err := tx.UpdateTicketItems(ctx, t.ID, t.Items); err != nil {
				return err
			}
			res.Voided += voided
			touched = append(touched, t.ID)

			done, err := e.settleStations(ctx, tx, t, "", false)
			if err != nil {
				return err
			}
			res.StationsDone = append(res.StationsDone, done...)
		}
		return nil
	})
	if err != nil {
		return VoidResult{}, err
	}

	for _, st := range res.StationsDone {
		metrics.KitchenStationsDone.WithLabelValues(st, "void").Inc()
	}
	if res.Voided > 0 {
		e.logger.Info("items voided", "table", req.Table, "sku", req.SKU, "name", req.Name, "count", res.Voided)
		e.publishVoid(ctx, event.EventKitchenItemVoided, order, touched, req.SKU, req.Name, req.Reason, res)
	}
	return res, nil
}

// VoidTicket voids everything on the table's open order, completes every
// pending station row and closes the order.
func (e *Engine) VoidTicket(ctx context.Context, area, table, reason string) (VoidResult, error) {
	res, order, err := e.closeOpenOrder(ctx, area, table, reason, true)
	if err != nil {
		return VoidResult{}, err
	}
	for _, st := range res.StationsDone {
		metrics.KitchenStationsDone.WithLabelValues(st, "void").Inc()
	}
	e.logger.Info("order voided", "order_no", order.OrderNo, "table", table, "items", res.Voided)
	e.publishVoid(ctx, event.EventKitchenTicketVoided, order, nil, "", "", reason, res)
	return res, nil
}

// CloseOrder closes the table's open order without voiding its items.
// Station rows still pending are completed.
func (e *Engine) CloseOrder(ctx context.Context, area, table string) (VoidResult, error) {
	res, order, err := e.closeOpenOrder(ctx, area, table, "", false)
	if err != nil {
		return VoidResult{}, err
	}
	for _, st := range res.StationsDone {
		metrics.KitchenStationsDone.WithLabelValues(st, "close").Inc()
	}
	e.logger.Info("order closed", "order_no", order.OrderNo, "table", table)
	e.publishVoid(ctx, event.EventKitchenOrderClosed, order, nil, "", "", "", res)
	return res, nil
}

func (e *Engine) closeOpenOrder(ctx context.Context, area, table, reason string, void bool) (VoidResult, *Order, error) {
	if area == "" || table == "" {
		return VoidResult{}, nil, ErrInvalid
	}
	if !e.repo.Ready(ctx) {
		return VoidResult{}, nil, ErrStoreUnavailable
	}

	var res VoidResult
	var order *Order
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		o, err := tx.FindOpenOrder(ctx, area, table)
		if errors.Is(err, ErrNotFound) {
			return ErrNoOpenOrder
		}
		if err != nil {
			return err
		}
		order = o

		tickets, err := tx.ListTickets(ctx, o.ID)
		if err != nil {
			return err
		}
		now := e.now()
		for i := range tickets {
			t := &tickets[i]
			if void {
				voided := 0
				for j := range t.Items {
					item := &t.Items[j]
					if item.Voided {
						continue
					}
					item.Voided = true
					item.VoidedAt = &now
					item.VoidReason = reason
					voided++
				}
				if voided > 0 {
					if err := tx.UpdateTicketItems(ctx, t.ID, t.Items); err != nil {
						return err
					}
					res.Voided += voided
				}
			}
			done, err := e.settleStations(ctx, tx, t, "", true)
			if err != nil {
				return err
			}
			res.StationsDone = append(res.StationsDone, done...)
		}

		if err := tx.CloseOrder(ctx, o.ID, now); err != nil {
			return err
		}
		o.ClosedAt = &now
		res.Closed = true
		return nil
	})
	return res, order, err
}

// settleStations completes NEW station rows of t that have no live items
// left, or every NEW row when force is set.
func (e *Engine) settleStations(ctx context.Context, tx Tx, t *Ticket, bumpedBy string, force bool) ([]string, error) {
	rows, err := tx.ListStations(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var done []string
	for i := range rows {
		row := &rows[i]
		if row.Status == stationstatus.Statuses.Done.Code() {
			continue
		}
		if !force && t.liveAt(row.Station) {
			continue
		}
		e.markDone(row, bumpedBy)
		if err := tx.UpdateStation(ctx, row); err != nil {
			return nil, err
		}
		done = append(done, row.Station)
	}
	return done, nil
}

func (e *Engine) markDone(row *TicketStation, bumpedBy string) {
	now := e.now()
	row.Status = stationstatus.Statuses.Done.Code()
	row.BumpedAt = &now
	row.BumpedBy = bumpedBy
}

func (e *Engine) matcher(sku, name string) func(LineItem) bool {
	sku = strings.TrimSpace(sku)
	if sku != "" {
		return func(item LineItem) bool {
			return strings.EqualFold(item.SKU, sku)
		}
	}
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(name))
	return func(item LineItem) bool {
		return fold.String(strings.TrimSpace(item.Name)) == want
	}
}

// StationBoard lists the pending tickets for a station with the items
// routed there.
func (e *Engine) StationBoard(ctx context.Context, st string) ([]BoardTicket, error) {
	code := station.Normalize(st)
	if code == "" {
		return nil, ErrInvalid
	}
	if !e.repo.Ready(ctx) {
		return nil, ErrStoreUnavailable
	}

	board := []BoardTicket{}
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		rows, err := tx.ListStationsByStatus(ctx, code, stationstatus.Statuses.New.Code())
		if err != nil {
			return err
		}
		orders := make(map[OrderID]*Order)
		for _, row := range rows {
			t, err := tx.FindTicket(ctx, row.TicketID)
			if err != nil {
				return err
			}
			o, ok := orders[t.OrderID]
			if !ok {
				if o, err = tx.FindOrder(ctx, t.OrderID); err != nil {
					return err
				}
				orders[t.OrderID] = o
			}

			bt := BoardTicket{
				TicketID:   t.ID,
				OrderNo:    o.OrderNo,
				DayKey:     o.DayKey,
				Area:       o.Area,
				TableLabel: o.TableLabel,
				FiredAt:    t.FiredAt,
				Note:       t.Note,
				Station:    code,
			}
			for i, item := range t.Items {
				if item.Station == code {
					bt.Items = append(bt.Items, BoardItem{Index: i, LineItem: item})
				}
			}
			board = append(board, bt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// OpenOrder returns the table's open order with its tickets and station rows.
func (e *Engine) OpenOrder(ctx context.Context, area, table string) (*OrderView, error) {
	if area == "" || table == "" {
		return nil, ErrInvalid
	}
	if !e.repo.Ready(ctx) {
		return nil, ErrStoreUnavailable
	}

	var view *OrderView
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		o, err := tx.FindOpenOrder(ctx, area, table)
		if errors.Is(err, ErrNotFound) {
			return ErrNoOpenOrder
		}
		if err != nil {
			return err
		}
		tickets, err := tx.ListTickets(ctx, o.ID)
		if err != nil {
			return err
		}
		view = &OrderView{Order: *o, Tickets: make([]TicketView, 0, len(tickets))}
		for _, t := range tickets {
			rows, err := tx.ListStations(ctx, t.ID)
			if err != nil {
				return err
			}
			view.Tickets = append(view.Tickets, TicketView{Ticket: t, Stations: rows})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func findStation(rows []TicketStation, code string) *TicketStation {
	for i := range rows {
		if rows[i].Station == code {
			return &rows[i]
		}
	}
	return nil
}
