package event

import "time"

const (
	KitchenTicketsTopic       = "kds.tickets"
	EventKitchenTicketFired   = "kds.ticket.fired"
	EventKitchenStationBumped = "kds.station.bumped"
	EventKitchenItemBumped    = "kds.item.bumped"
	EventKitchenItemVoided    = "kds.item.voided"
	EventKitchenTicketVoided  = "kds.ticket.voided"
	EventKitchenOrderClosed   = "kds.order.closed"
)

type KitchenTicketEventMetadata struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	TicketID   string    `json:"ticket_id,omitempty"`
	OrderID    string    `json:"order_id"`
	OrderNo    int       `json:"order_no"`
	DayKey     string    `json:"day_key"`

	// Denormalized data for station displays
	Area       string `json:"area"`
	TableLabel string `json:"table_label"`
}

type KitchenTicketFiredEvent struct {
	KitchenTicketEventMetadata
	Stations []string `json:"stations"`
	Items    int      `json:"items"`
	Note     string   `json:"note,omitempty"`
}

// KitchenStationEvent reports a station row reaching DONE, whatever triggered it.
type KitchenStationEvent struct {
	KitchenTicketEventMetadata
	Station   string     `json:"station"`
	Status    string     `json:"status"`
	BumpedAt  *time.Time `json:"bumped_at,omitempty"`
	BumpedBy  string     `json:"bumped_by,omitempty"`
	ItemIndex *int       `json:"item_index,omitempty"`
}

type KitchenVoidEvent struct {
	KitchenTicketEventMetadata
	SKU      string   `json:"sku,omitempty"`
	Name     string   `json:"name,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Voided   int      `json:"voided"`
	Stations []string `json:"stations_done,omitempty"`
}
