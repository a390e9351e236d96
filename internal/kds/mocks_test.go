package kds

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockRepository is an in-memory Repository. WithTx restores the previous
// state when fn fails.
type MockRepository struct {
	mu       sync.Mutex
	orders   map[OrderID]Order
	tickets  map[TicketID]Ticket
	stations map[TicketStationID]TicketStation

	ReadyFunc         func(ctx context.Context) bool
	CreateStationFunc func(ctx context.Context, s *TicketStation) error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		orders:   make(map[OrderID]Order),
		tickets:  make(map[TicketID]Ticket),
		stations: make(map[TicketStationID]TicketStation),
	}
}

func (m *MockRepository) Ready(ctx context.Context) bool {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return true
}

func (m *MockRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make(map[OrderID]Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	tickets := make(map[TicketID]Ticket, len(m.tickets))
	for k, v := range m.tickets {
		tickets[k] = cloneTicket(v)
	}
	stations := make(map[TicketStationID]TicketStation, len(m.stations))
	for k, v := range m.stations {
		stations[k] = v
	}

	if err := fn(mockTx{m}); err != nil {
		m.orders, m.tickets, m.stations = orders, tickets, stations
		return err
	}
	return nil
}

// Stations returns every station row of a ticket, sorted by station.
func (m *MockRepository) Stations(ticketID TicketID) []TicketStation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TicketStation
	for _, s := range m.stations {
		if s.TicketID == ticketID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Station < out[j].Station })
	return out
}

func (m *MockRepository) TicketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

type mockTx struct {
	m *MockRepository
}

func (tx mockTx) FindOpenOrder(ctx context.Context, area, table string) (*Order, error) {
	for _, o := range tx.m.orders {
		if o.Area == area && o.TableLabel == table && o.ClosedAt == nil {
			o := o
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (tx mockTx) FindOrder(ctx context.Context, id OrderID) (*Order, error) {
	o, ok := tx.m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (tx mockTx) NextOrderNo(ctx context.Context, dayKey string) (int, error) {
	max := 0
	for _, o := range tx.m.orders {
		if o.DayKey == dayKey && o.OrderNo > max {
			max = o.OrderNo
		}
	}
	return max + 1, nil
}

func (tx mockTx) CreateOrder(ctx context.Context, o *Order) error {
	for _, existing := range tx.m.orders {
		if existing.DayKey == o.DayKey && existing.OrderNo == o.OrderNo {
			return ErrInvalid
		}
	}
	tx.m.orders[o.ID] = *o
	return nil
}

func (tx mockTx) CloseOrder(ctx context.Context, id OrderID, at time.Time) error {
	o, ok := tx.m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.ClosedAt = &at
	tx.m.orders[id] = o
	return nil
}

func (tx mockTx) CreateTicket(ctx context.Context, t *Ticket) error {
	tx.m.tickets[t.ID] = cloneTicket(*t)
	return nil
}

func (tx mockTx) FindTicket(ctx context.Context, id TicketID) (*Ticket, error) {
	t, ok := tx.m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneTicket(t)
	return &c, nil
}

func (tx mockTx) ListTickets(ctx context.Context, orderID OrderID) ([]Ticket, error) {
	var out []Ticket
	for _, t := range tx.m.tickets {
		if t.OrderID == orderID {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.Before(out[j].FiredAt) })
	return out, nil
}

func (tx mockTx) UpdateTicketItems(ctx context.Context, id TicketID, items []LineItem) error {
	t, ok := tx.m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.Items = append([]LineItem(nil), items...)
	tx.m.tickets[id] = t
	return nil
}

func (tx mockTx) CreateStation(ctx context.Context, s *TicketStation) error {
	if tx.m.CreateStationFunc != nil {
		if err := tx.m.CreateStationFunc(ctx, s); err != nil {
			return err
		}
	}
	tx.m.stations[s.ID] = *s
	return nil
}

func (tx mockTx) ListStations(ctx context.Context, ticketID TicketID) ([]TicketStation, error) {
	var out []TicketStation
	for _, s := range tx.m.stations {
		if s.TicketID == ticketID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Station < out[j].Station })
	return out, nil
}

func (tx mockTx) ListStationsByStatus(ctx context.Context, station, status string) ([]TicketStation, error) {
	var out []TicketStation
	for _, s := range tx.m.stations {
		if s.Station == station && s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return tx.m.tickets[out[i].TicketID].FiredAt.Before(tx.m.tickets[out[j].TicketID].FiredAt)
	})
	return out, nil
}

func (tx mockTx) UpdateStation(ctx context.Context, s *TicketStation) error {
	if _, ok := tx.m.stations[s.ID]; !ok {
		return ErrNotFound
	}
	tx.m.stations[s.ID] = *s
	return nil
}

func cloneTicket(t Ticket) Ticket {
	t.Items = append([]LineItem(nil), t.Items...)
	return t
}

// MockPublisher is a test mock for events.Publisher
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.mu.Lock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	m.mu.Unlock()
	return nil
}

// MockCatalog resolves SKUs from a fixed map.
type MockCatalog map[string]string

func (c MockCatalog) StationFor(sku string) (string, bool) {
	st, ok := c[sku]
	return st, ok
}
