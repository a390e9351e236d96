package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/edge/internal/kds"
	"github.com/appetiteclub/edge/internal/metrics"
	"github.com/appetiteclub/edge/internal/outbox"
	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
	"github.com/appetiteclub/edge/internal/ticketlog"
	"github.com/appetiteclub/edge/pkg/event"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"
)

var ErrInvalid = errors.New("invalid request")

// Remote paths the coordinator writes to.
const (
	PathTickets    = "/tickets"
	PathVoidItem   = "/tickets/void-item"
	PathVoidTicket = "/tickets/void-ticket"
	PathTableOpen  = "/tables/open"
	PathTableClose = "/tables/close"
)

type Remote interface {
	Call(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error)
}

type Queue interface {
	Enqueue(ctx context.Context, item outbox.Item) (outbox.Item, error)
}

type Sessions interface {
	HasValid(scopeID string) bool
	Pinned(caller string) (session.Session, bool)
	Scope() string
}

// Kitchen is the routing engine surface the coordinator drives.
type Kitchen interface {
	FireTicket(ctx context.Context, req kds.FireRequest) (kds.FireResult, error)
	VoidItem(ctx context.Context, req kds.VoidItemRequest) (kds.VoidResult, error)
	VoidTicket(ctx context.Context, area, table, reason string) (kds.VoidResult, error)
	CloseOrder(ctx context.Context, area, table string) (kds.VoidResult, error)
}

type Deps struct {
	Mirror   ticketlog.Mirror
	Remote   Remote
	Queue    Queue
	Sessions Sessions
	Kitchen  Kitchen

	// Publisher receives table state transitions. Optional.
	Publisher events.Publisher
}

// Coordinator applies a front-of-house write in three steps: local log,
// remote call or outbox, kitchen routing. The first and last always run.
type Coordinator struct {
	mirror    ticketlog.Mirror
	remote    Remote
	queue     Queue
	sessions  Sessions
	kitchen   Kitchen
	publisher events.Publisher
	logger    aqm.Logger
	now       func() time.Time
}

func NewCoordinator(deps Deps, logger aqm.Logger) *Coordinator {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Coordinator{
		mirror:    deps.Mirror,
		remote:    deps.Remote,
		queue:     deps.Queue,
		sessions:  deps.Sessions,
		kitchen:   deps.Kitchen,
		publisher: deps.Publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type Leg string

const (
	LegSent    Leg = "sent"
	LegQueued  Leg = "queued"
	LegFailed  Leg = "failed"
	LegSkipped Leg = "skipped"
)

// Outcome reports the log and remote steps of one operation.
type Outcome struct {
	IdempotencyKey string `json:"idempotency_key"`
	Mirrored       bool   `json:"mirrored"`
	MirrorError    string `json:"mirror_error,omitempty"`
	Remote         Leg    `json:"remote"`
	RemoteError    string `json:"remote_error,omitempty"`
	OutboxID       string `json:"outbox_id,omitempty"`
	KitchenError   string `json:"kitchen_error,omitempty"`
}

type FireOutcome struct {
	Outcome
	Kitchen kds.FireResult `json:"kitchen"`
}

type VoidOutcome struct {
	Outcome
	Kitchen kds.VoidResult `json:"kitchen"`
}

type VoidTicketRequest struct {
	Area   string `json:"area"`
	Table  string `json:"table"`
	Reason string `json:"reason,omitempty"`
}

type TableRequest struct {
	Area   string `json:"area"`
	Table  string `json:"table"`
	Guests int    `json:"guests,omitempty"`
}

func (r TableRequest) validate() error {
	if r.Area == "" || r.Table == "" || r.Guests < 0 {
		return ErrInvalid
	}
	return nil
}

// TableStateKey coalesces queued open/close writes for one table.
func TableStateKey(area, table string) string {
	return fmt.Sprintf("table:%s:%s:state", area, table)
}

// write is one remote mutation together with its log record.
type write struct {
	op         string
	kind       ticketlog.Kind
	area       string
	table      string
	path       string
	dedupeKey  string
	caller     string
	privileged bool
	body       any
}

type remoteTicket struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Area           string         `json:"area"`
	Table          string         `json:"table"`
	Items          []kds.FireItem `json:"items"`
	Note           string         `json:"note,omitempty"`
	FiredAt        time.Time      `json:"fired_at"`
}

type remoteVoid struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Area           string    `json:"area"`
	Table          string    `json:"table"`
	SKU            string    `json:"sku,omitempty"`
	Name           string    `json:"name,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

type remoteTable struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Area           string    `json:"area"`
	Table          string    `json:"table"`
	Guests         int       `json:"guests,omitempty"`
	At             time.Time `json:"at"`
}

func (c *Coordinator) FireOrder(ctx context.Context, req kds.FireRequest, caller string) (FireOutcome, error) {
	if err := req.Validate(); err != nil {
		return FireOutcome{}, ErrInvalid
	}
	key := uuid.NewString()
	out := FireOutcome{}
	out.Outcome = c.apply(ctx, key, write{
		op: "fire", kind: ticketlog.KindFire, area: req.Area, table: req.Table,
		path: PathTickets, caller: caller,
		body: remoteTicket{
			IdempotencyKey: key, Area: req.Area, Table: req.Table,
			Items: req.Items, Note: req.Note, FiredAt: c.now().UTC(),
		},
	})

	res, err := c.kitchen.FireTicket(ctx, req)
	if err != nil {
		out.KitchenError = err.Error()
		c.logger.Errorf("kitchen routing failed for %s/%s: %v", req.Area, req.Table, err)
	}
	out.Kitchen = res
	return out, nil
}

func (c *Coordinator) VoidItem(ctx context.Context, req kds.VoidItemRequest, caller string) (VoidOutcome, error) {
	if err := req.Validate(); err != nil {
		return VoidOutcome{}, ErrInvalid
	}
	key := uuid.NewString()
	out := VoidOutcome{}
	out.Outcome = c.apply(ctx, key, write{
		op: "void_item", kind: ticketlog.KindVoidItem, area: req.Area, table: req.Table,
		path: PathVoidItem, caller: caller,
		body: remoteVoid{
			IdempotencyKey: key, Area: req.Area, Table: req.Table,
			SKU: req.SKU, Name: req.Name, Reason: req.Reason, At: c.now().UTC(),
		},
	})

	res, err := c.kitchen.VoidItem(ctx, req)
	if err != nil {
		out.KitchenError = err.Error()
		c.logger.Info("kitchen void item not applied", "area", req.Area, "table", req.Table, "error", err)
	}
	out.Kitchen = res
	return out, nil
}

func (c *Coordinator) VoidTicket(ctx context.Context, req VoidTicketRequest, caller string) (VoidOutcome, error) {
	if req.Area == "" || req.Table == "" {
		return VoidOutcome{}, ErrInvalid
	}
	key := uuid.NewString()
	out := VoidOutcome{}
	out.Outcome = c.apply(ctx, key, write{
		op: "void_ticket", kind: ticketlog.KindVoidTicket, area: req.Area, table: req.Table,
		path: PathVoidTicket, caller: caller, privileged: true,
		body: remoteVoid{
			IdempotencyKey: key, Area: req.Area, Table: req.Table,
			Reason: req.Reason, At: c.now().UTC(),
		},
	})

	res, err := c.kitchen.VoidTicket(ctx, req.Area, req.Table, req.Reason)
	if err != nil {
		out.KitchenError = err.Error()
		c.logger.Info("kitchen void ticket not applied", "area", req.Area, "table", req.Table, "error", err)
	}
	out.Kitchen = res
	return out, nil
}

func (c *Coordinator) OpenTable(ctx context.Context, req TableRequest, caller string) (Outcome, error) {
	if err := req.validate(); err != nil {
		return Outcome{}, err
	}
	key := uuid.NewString()
	out := c.apply(ctx, key, write{
		op: "open_table", kind: ticketlog.KindOpenTable, area: req.Area, table: req.Table,
		path: PathTableOpen, dedupeKey: TableStateKey(req.Area, req.Table), caller: caller,
		body: remoteTable{IdempotencyKey: key, Area: req.Area, Table: req.Table, Guests: req.Guests, At: c.now().UTC()},
	})
	c.publishTable(ctx, event.EventTableOpened, req, out.Remote)
	return out, nil
}

// CloseTable closes the table remotely and closes its kitchen order if it
// has one.
func (c *Coordinator) CloseTable(ctx context.Context, req TableRequest, caller string) (VoidOutcome, error) {
	if err := req.validate(); err != nil {
		return VoidOutcome{}, err
	}
	key := uuid.NewString()
	out := VoidOutcome{}
	out.Outcome = c.apply(ctx, key, write{
		op: "close_table", kind: ticketlog.KindCloseTable, area: req.Area, table: req.Table,
		path: PathTableClose, dedupeKey: TableStateKey(req.Area, req.Table), caller: caller,
		body: remoteTable{IdempotencyKey: key, Area: req.Area, Table: req.Table, At: c.now().UTC()},
	})
	c.publishTable(ctx, event.EventTableClosed, req, out.Remote)

	res, err := c.kitchen.CloseOrder(ctx, req.Area, req.Table)
	if err != nil && !errors.Is(err, kds.ErrNoOpenOrder) {
		out.KitchenError = err.Error()
		c.logger.Errorf("kitchen close failed for %s/%s: %v", req.Area, req.Table, err)
	}
	out.Kitchen = res
	return out, nil
}

func (c *Coordinator) publishTable(ctx context.Context, eventType string, req TableRequest, leg Leg) {
	if c.publisher == nil {
		return
	}
	msg, err := json.Marshal(event.TableStateEvent{
		EventType:  eventType,
		Area:       req.Area,
		TableLabel: req.Table,
		Remote:     string(leg),
		OccurredAt: c.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(ctx, event.TableStateTopic, msg); err != nil {
		c.logger.Info("cannot publish table event", "event", eventType, "error", err)
	}
}

// apply runs the log and remote steps. Neither step can fail the operation.
func (c *Coordinator) apply(ctx context.Context, key string, w write) Outcome {
	out := Outcome{IdempotencyKey: key}

	body, err := json.Marshal(w.body)
	if err != nil {
		out.Remote = LegFailed
		out.RemoteError = err.Error()
		return out
	}

	if err := c.appendLog(ctx, key, w, body); err != nil {
		out.MirrorError = err.Error()
		c.logger.Errorf("cannot write ticket log for %s: %v", w.op, err)
	} else {
		out.Mirrored = true
	}

	c.remoteLeg(ctx, key, w, body, &out)
	metrics.RemoteLegs.WithLabelValues(w.op, string(out.Remote)).Inc()
	return out
}

func (c *Coordinator) appendLog(ctx context.Context, key string, w write, body []byte) error {
	if c.mirror == nil {
		return errors.New("ticket log not configured")
	}
	return c.mirror.Append(ctx, ticketlog.Entry{
		ID:             uuid.NewString(),
		Kind:           w.kind,
		Area:           w.area,
		Table:          w.table,
		IdempotencyKey: key,
		Payload:        body,
		CreatedAt:      c.now().UTC(),
	})
}

func (c *Coordinator) remoteLeg(ctx context.Context, key string, w write, body []byte, out *Outcome) {
	if !c.hasSession(w.caller) {
		out.RemoteError = "no session"
		c.enqueue(ctx, key, w, body, out)
		return
	}
	if c.remote == nil {
		out.Remote = LegSkipped
		return
	}

	_, err := c.remote.Call(ctx, http.MethodPost, w.path, json.RawMessage(body), remote.CallOptions{
		RequireAuth:    true,
		Privileged:     w.privileged,
		Caller:         w.caller,
		IdempotencyKey: key,
	})
	if err == nil {
		out.Remote = LegSent
		return
	}
	out.RemoteError = err.Error()

	if remote.KindOf(err) == remote.KindClientError {
		out.Remote = LegFailed
		c.logger.Info("remote rejected write", "op", w.op, "table", w.table, "error", err)
		return
	}
	c.enqueue(ctx, key, w, body, out)
}

// hasSession reports whether a remote call can be attempted for caller: a
// pin for that caller or a global session for the configured scope.
func (c *Coordinator) hasSession(caller string) bool {
	if c.sessions == nil {
		return false
	}
	if caller != "" {
		if _, ok := c.sessions.Pinned(caller); ok {
			return true
		}
	}
	return c.sessions.HasValid(c.sessions.Scope())
}

func (c *Coordinator) enqueue(ctx context.Context, key string, w write, body []byte, out *Outcome) {
	if c.queue == nil {
		out.Remote = LegFailed
		return
	}
	item, err := c.queue.Enqueue(ctx, outbox.Item{
		Method:         http.MethodPost,
		Path:           w.path,
		Body:           body,
		RequireAuth:    true,
		Privileged:     w.privileged,
		Caller:         w.caller,
		DedupeKey:      w.dedupeKey,
		IdempotencyKey: key,
	})
	if err != nil {
		out.Remote = LegFailed
		out.RemoteError = err.Error()
		c.logger.Errorf("cannot queue %s: %v", w.op, err)
		return
	}
	out.Remote = LegQueued
	out.OutboxID = item.ID
	c.logger.Info("write queued for retry", "op", w.op, "table", w.table, "outbox_id", item.ID)
}
