package kds

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type OrderID = uuid.UUID
type TicketID = uuid.UUID
type TicketStationID = uuid.UUID

var (
	ErrInvalid          = errors.New("invalid kitchen request")
	ErrNotFound         = errors.New("not found")
	ErrNoOpenOrder      = errors.New("no open order for table")
	ErrStoreUnavailable = errors.New("kitchen store unavailable")
)

// Order groups every ticket fired for one table while it stays open.
type Order struct {
	ID         OrderID    `json:"id"`
	DayKey     string     `json:"day_key"`
	OrderNo    int        `json:"order_no"`
	Area       string     `json:"area"`
	TableLabel string     `json:"table_label"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

func (o *Order) Open() bool {
	return o.ClosedAt == nil
}

// LineItem is one entry of a ticket snapshot. Station is the resolved
// station code; an empty Station means the item was not routed.
type LineItem struct {
	SKU        string     `json:"sku,omitempty"`
	Name       string     `json:"name"`
	Qty        int        `json:"qty"`
	Note       string     `json:"note,omitempty"`
	Station    string     `json:"station,omitempty"`
	Voided     bool       `json:"voided,omitempty"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidReason string     `json:"void_reason,omitempty"`
	Bumped     bool       `json:"bumped,omitempty"`
	BumpedAt   *time.Time `json:"bumped_at,omitempty"`
}

// Live reports whether the item still needs work at its station.
func (i LineItem) Live() bool {
	return !i.Voided && !i.Bumped
}

// Ticket is one fire event for an order.
type Ticket struct {
	ID      TicketID   `json:"id"`
	OrderID OrderID    `json:"order_id"`
	FiredAt time.Time  `json:"fired_at"`
	Items   []LineItem `json:"items"`
	Note    string     `json:"note,omitempty"`
}

// liveAt reports whether any item routed to st still needs work.
func (t *Ticket) liveAt(st string) bool {
	for _, item := range t.Items {
		if item.Station == st && item.Live() {
			return true
		}
	}
	return false
}

// TicketStation tracks one station's share of a ticket.
type TicketStation struct {
	ID       TicketStationID `json:"id"`
	TicketID TicketID        `json:"ticket_id"`
	Station  string          `json:"station"`
	Status   string          `json:"status"`
	BumpedAt *time.Time      `json:"bumped_at,omitempty"`
	BumpedBy string          `json:"bumped_by,omitempty"`
}

// FireItem is a line item as submitted by order entry.
type FireItem struct {
	SKU     string `json:"sku,omitempty"`
	Name    string `json:"name"`
	Qty     int    `json:"qty,omitempty"`
	Note    string `json:"note,omitempty"`
	Station string `json:"station,omitempty"`
}

type FireRequest struct {
	Area  string     `json:"area"`
	Table string     `json:"table"`
	Items []FireItem `json:"items"`
	Note  string     `json:"note,omitempty"`
}

func (r FireRequest) Validate() error {
	if r.Area == "" || r.Table == "" || len(r.Items) == 0 {
		return ErrInvalid
	}
	for _, item := range r.Items {
		if item.SKU == "" && item.Name == "" {
			return ErrInvalid
		}
		if item.Qty < 0 {
			return ErrInvalid
		}
	}
	return nil
}

// FireResult reports a fire. Routed is false when no item reached an
// enabled station and nothing was written.
type FireResult struct {
	Routed   bool     `json:"routed"`
	OrderID  OrderID  `json:"order_id,omitempty"`
	OrderNo  int      `json:"order_no,omitempty"`
	DayKey   string   `json:"day_key,omitempty"`
	TicketID TicketID `json:"ticket_id,omitempty"`
	Stations []string `json:"stations,omitempty"`
}

type VoidItemRequest struct {
	Area   string `json:"area"`
	Table  string `json:"table"`
	SKU    string `json:"sku,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (r VoidItemRequest) Validate() error {
	if r.Area == "" || r.Table == "" || (r.SKU == "" && r.Name == "") {
		return ErrInvalid
	}
	return nil
}

type VoidResult struct {
	Voided       int      `json:"voided"`
	StationsDone []string `json:"stations_done,omitempty"`
	Closed       bool     `json:"closed,omitempty"`
}

// BoardTicket is a pending ticket as a station display shows it.
type BoardTicket struct {
	TicketID   TicketID    `json:"ticket_id"`
	OrderNo    int         `json:"order_no"`
	DayKey     string      `json:"day_key"`
	Area       string      `json:"area"`
	TableLabel string      `json:"table_label"`
	FiredAt    time.Time   `json:"fired_at"`
	Note       string      `json:"note,omitempty"`
	Station    string      `json:"station"`
	Items      []BoardItem `json:"items"`
}

type BoardItem struct {
	Index int `json:"index"`
	LineItem
}

type TicketView struct {
	Ticket
	Stations []TicketStation `json:"stations"`
}

type OrderView struct {
	Order
	Tickets []TicketView `json:"tickets"`
}
