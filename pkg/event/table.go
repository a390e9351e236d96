package event

import "time"

const (
	// TableStateTopic carries table open/close transitions recorded at the edge.
	TableStateTopic = "tables.state"

	EventTableOpened = "table.opened"
	EventTableClosed = "table.closed"
)

// TableStateEvent captures a table transition along with how its remote
// leg was delivered.
type TableStateEvent struct {
	EventType  string    `json:"event_type"`
	Area       string    `json:"area"`
	TableLabel string    `json:"table_label"`
	Remote     string    `json:"remote"`
	OccurredAt time.Time `json:"occurred_at"`
}
