package kds

import (
	"context"
	"time"
)

// Repository is the local relational store behind the engine. Every engine
// mutation runs inside one WithTx call so order, ticket and station rows are
// committed together.
type Repository interface {
	// Ready reports whether the kitchen schema is usable. A false return
	// means retry later.
	Ready(ctx context.Context) bool
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of statements available inside a transaction. Lookups
// return ErrNotFound when no row matches.
type Tx interface {
	FindOpenOrder(ctx context.Context, area, table string) (*Order, error)
	FindOrder(ctx context.Context, id OrderID) (*Order, error)
	NextOrderNo(ctx context.Context, dayKey string) (int, error)
	CreateOrder(ctx context.Context, o *Order) error
	CloseOrder(ctx context.Context, id OrderID, at time.Time) error

	CreateTicket(ctx context.Context, t *Ticket) error
	FindTicket(ctx context.Context, id TicketID) (*Ticket, error)
	ListTickets(ctx context.Context, orderID OrderID) ([]Ticket, error)
	UpdateTicketItems(ctx context.Context, id TicketID, items []LineItem) error

	CreateStation(ctx context.Context, s *TicketStation) error
	ListStations(ctx context.Context, ticketID TicketID) ([]TicketStation, error)
	ListStationsByStatus(ctx context.Context, station, status string) ([]TicketStation, error)
	UpdateStation(ctx context.Context, s *TicketStation) error
}
