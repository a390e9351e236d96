package ticketlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Kind string

const (
	KindFire       Kind = "fire"
	KindVoidItem   Kind = "void_item"
	KindVoidTicket Kind = "void_ticket"
	KindOpenTable  Kind = "open_table"
	KindCloseTable Kind = "close_table"
)

var ErrInvalidEntry = errors.New("invalid ticket log entry")

// Entry is one append-only record of a front-of-house write. The log is
// written before any remote call and is the local audit source.
type Entry struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Area           string          `json:"area"`
	Table          string          `json:"table"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (e Entry) Validate() error {
	if e.ID == "" || e.Kind == "" {
		return ErrInvalidEntry
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return ErrInvalidEntry
	}
	return nil
}

type Filter struct {
	Area  string
	Table string
	Limit int
}

// Mirror is the local ticket log.
type Mirror interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}
