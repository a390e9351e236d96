package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/edge/internal/kv"
	"github.com/appetiteclub/edge/internal/metrics"
	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
)

// Sender delivers one item to the remote service.
type Sender interface {
	Send(ctx context.Context, item Item) error
}

// SessionChecker gates flushing on having a usable session. An item that
// carries a caller is also deliverable while that caller has a pin.
type SessionChecker interface {
	HasValid(scopeID string) bool
	Pinned(caller string) (session.Session, bool)
	Scope() string
}

// Queue is the durable outbox. The whole queue is one JSON document in the
// local store; every mutation is a read-modify-write under mu.
type Queue struct {
	mu       sync.Mutex
	flushing atomic.Bool

	store    kv.Store
	sender   Sender
	sessions SessionChecker
	cfg      Config
	logger   aqm.Logger

	now    func() time.Time
	jitter func() float64
}

func NewQueue(store kv.Store, sender Sender, sessions SessionChecker, cfg Config, logger aqm.Logger) *Queue {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	def := DefaultConfig()
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AuthCooldown <= 0 {
		cfg.AuthCooldown = def.AuthCooldown
	}
	if cfg.MaxDeadLetters <= 0 {
		cfg.MaxDeadLetters = def.MaxDeadLetters
	}
	return &Queue{
		store:    store,
		sender:   sender,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		jitter:   rand.Float64,
	}
}

// Enqueue appends item. An existing item with the same non-empty dedupe key
// is discarded first, and the oldest items are dropped once the queue is
// over capacity.
func (q *Queue) Enqueue(ctx context.Context, item Item) (Item, error) {
	if err := item.validate(); err != nil {
		return Item{}, err
	}
	now := q.now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = now
	item.NextAttemptAt = now
	item.Attempts = 0
	item.LastError = ""

	err := q.update(ctx, func(doc *document) []DeadLetter {
		if item.DedupeKey != "" {
			kept := doc.Items[:0]
			for _, existing := range doc.Items {
				if existing.DedupeKey == item.DedupeKey {
					metrics.OutboxDropped.WithLabelValues("superseded").Inc()
					continue
				}
				kept = append(kept, existing)
			}
			doc.Items = kept
		}
		doc.Items = append(doc.Items, item)

		var dropped []DeadLetter
		if over := len(doc.Items) - q.cfg.MaxItems; over > 0 {
			for _, old := range doc.Items[:over] {
				dropped = append(dropped, DeadLetter{Item: old, Reason: "capacity", DroppedAt: now})
			}
			doc.Items = append([]Item(nil), doc.Items[over:]...)
			metrics.OutboxDropped.WithLabelValues("capacity").Add(float64(over))
			q.logger.Info("outbox over capacity, dropped oldest items", "dropped", over)
		}
		return dropped
	})
	if err != nil {
		return Item{}, err
	}

	q.logger.Debug("outbox item enqueued", "id", item.ID, "path", item.Path, "dedupe_key", item.DedupeKey)
	return item, nil
}

// FlushOnce makes one delivery pass over due items in queue order.
func (q *Queue) FlushOnce(ctx context.Context) (Result, error) {
	if !q.flushing.CompareAndSwap(false, true) {
		metrics.OutboxFlushes.WithLabelValues("busy").Inc()
		depth, err := q.Depth(ctx)
		return Result{Remaining: depth, Busy: true}, err
	}
	defer q.flushing.Store(false)

	global := q.sessions.HasValid(q.sessions.Scope())
	if !global {
		items, err := q.Items(ctx)
		if err != nil {
			return Result{}, err
		}
		if !q.anyPinned(items) {
			metrics.OutboxFlushes.WithLabelValues("paused").Inc()
			return Result{Remaining: len(items), Paused: true}, nil
		}
	}

	now := q.now().UTC()
	snapshot, dropped, err := q.expire(ctx, now)
	if err != nil {
		return Result{}, err
	}
	res := Result{Dropped: dropped}

pass:
	for _, item := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if item.NextAttemptAt.After(now) {
			continue
		}
		if !global && !q.pinned(item.Caller) {
			res.Paused = true
			continue
		}

		sendErr := q.sender.Send(ctx, item)
		if sendErr == nil || alreadyApplied(item, sendErr) {
			if err := q.remove(ctx, item.ID); err != nil {
				return res, err
			}
			metrics.OutboxDeliveries.WithLabelValues("sent").Inc()
			res.Sent++
			continue
		}

		res.LastError = sendErr.Error()
		switch remote.KindOf(sendErr) {
		case remote.KindUnauthorized:
			metrics.OutboxDeliveries.WithLabelValues("unauthorized").Inc()
			if err := q.reschedule(ctx, item.ID, sendErr, now.Add(q.cfg.AuthCooldown), false); err != nil {
				return res, err
			}
			res.Paused = true
			q.logger.Info("outbox paused, session rejected", "id", item.ID, "path", item.Path)
			break pass
		case remote.KindOffline:
			metrics.OutboxDeliveries.WithLabelValues("offline").Inc()
			if err := q.reschedule(ctx, item.ID, sendErr, time.Time{}, true); err != nil {
				return res, err
			}
			q.logger.Debug("outbox offline, ending pass", "id", item.ID, "error", sendErr)
			break pass
		default:
			metrics.OutboxDeliveries.WithLabelValues("failed").Inc()
			if err := q.reschedule(ctx, item.ID, sendErr, time.Time{}, true); err != nil {
				return res, err
			}
			q.logger.Info("outbox item failed", "id", item.ID, "path", item.Path, "error", sendErr)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = depth
	if res.Paused {
		metrics.OutboxFlushes.WithLabelValues("paused").Inc()
	} else {
		metrics.OutboxFlushes.WithLabelValues("completed").Inc()
	}
	return res, nil
}

func (q *Queue) pinned(caller string) bool {
	if caller == "" {
		return false
	}
	_, ok := q.sessions.Pinned(caller)
	return ok
}

func (q *Queue) anyPinned(items []Item) bool {
	for _, item := range items {
		if q.pinned(item.Caller) {
			return true
		}
	}
	return false
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Items returns a copy of the queue in delivery order.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	doc, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Items, nil
}

func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dl deadLetters
	if _, err := q.store.GetJSON(ctx, DeadLetterKey, &dl); err != nil {
		return nil, fmt.Errorf("cannot load dead letters: %w", err)
	}
	return dl.Items, nil
}

func (q *Queue) ClearDeadLetters(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Delete(ctx, DeadLetterKey)
}

// expire drops items past the retention policy and returns the remaining
// snapshot for the pass.
func (q *Queue) expire(ctx context.Context, now time.Time) ([]Item, int, error) {
	var snapshot []Item
	var count int
	err := q.update(ctx, func(doc *document) []DeadLetter {
		var dropped []DeadLetter
		kept := doc.Items[:0]
		for _, item := range doc.Items {
			if reason := q.expired(item, now); reason != "" {
				dropped = append(dropped, DeadLetter{Item: item, Reason: reason, DroppedAt: now})
				q.logger.Info("outbox item expired", "id", item.ID, "path", item.Path, "reason", reason)
				continue
			}
			kept = append(kept, item)
		}
		doc.Items = kept
		snapshot = append([]Item(nil), kept...)
		count = len(dropped)
		if count > 0 {
			metrics.OutboxDropped.WithLabelValues("expired").Add(float64(count))
		}
		return dropped
	})
	return snapshot, count, err
}

func (q *Queue) expired(item Item, now time.Time) string {
	if q.cfg.MaxAttempts > 0 && item.Attempts >= q.cfg.MaxAttempts {
		return "max attempts"
	}
	if q.cfg.MaxAge > 0 && now.Sub(item.CreatedAt) > q.cfg.MaxAge {
		return "max age"
	}
	return ""
}

func (q *Queue) remove(ctx context.Context, id string) error {
	return q.update(ctx, func(doc *document) []DeadLetter {
		for i, item := range doc.Items {
			if item.ID == id {
				doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
				break
			}
		}
		return nil
	})
}

// reschedule records a failure. With countAttempt the next attempt follows
// the backoff curve; otherwise the item is frozen until `until`.
func (q *Queue) reschedule(ctx context.Context, id string, cause error, until time.Time, countAttempt bool) error {
	return q.update(ctx, func(doc *document) []DeadLetter {
		for i := range doc.Items {
			if doc.Items[i].ID != id {
				continue
			}
			item := &doc.Items[i]
			item.LastError = cause.Error()
			if countAttempt {
				item.Attempts++
				until = q.now().UTC().Add(Backoff(item.Attempts, q.cfg.BaseDelay, q.cfg.MaxDelay, q.jitter()))
			}
			item.NextAttemptAt = until
			break
		}
		return nil
	})
}

// update applies fn to the persisted document under the queue lock. Items
// fn returns are appended to the dead-letter document.
func (q *Queue) update(ctx context.Context, fn func(doc *document) []DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc, err := q.load(ctx)
	if err != nil {
		return err
	}
	dropped := fn(&doc)
	if err := q.store.UpsertJSON(ctx, StoreKey, doc); err != nil {
		return fmt.Errorf("cannot save outbox: %w", err)
	}
	metrics.OutboxDepth.Set(float64(len(doc.Items)))

	if len(dropped) > 0 {
		if err := q.appendDeadLetters(ctx, dropped); err != nil {
			q.logger.Errorf("cannot record dead letters: %v", err)
		}
	}
	return nil
}

func (q *Queue) load(ctx context.Context) (document, error) {
	var doc document
	if _, err := q.store.GetJSON(ctx, StoreKey, &doc); err != nil {
		return document{}, fmt.Errorf("cannot load outbox: %w", err)
	}
	return doc, nil
}

func (q *Queue) appendDeadLetters(ctx context.Context, dropped []DeadLetter) error {
	var dl deadLetters
	if _, err := q.store.GetJSON(ctx, DeadLetterKey, &dl); err != nil {
		return err
	}
	dl.Items = append(dl.Items, dropped...)
	if over := len(dl.Items) - q.cfg.MaxDeadLetters; over > 0 {
		dl.Items = append([]DeadLetter(nil), dl.Items[over:]...)
	}
	return q.store.UpsertJSON(ctx, DeadLetterKey, dl)
}

// alreadyApplied treats a conflict on an idempotent write as delivered.
func alreadyApplied(item Item, err error) bool {
	return item.IdempotencyKey != "" && remote.StatusOf(err) == http.StatusConflict
}

// Caller is the remote client surface RemoteSender needs.
type Caller interface {
	Call(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error)
}

// RemoteSender replays items through the remote client.
type RemoteSender struct {
	Client Caller
}

func (s RemoteSender) Send(ctx context.Context, item Item) error {
	var body any
	if len(item.Body) > 0 {
		body = item.Body
	}
	_, err := s.Client.Call(ctx, item.Method, item.Path, body, remote.CallOptions{
		RequireAuth:    item.RequireAuth,
		Privileged:     item.Privileged,
		Caller:         item.Caller,
		IdempotencyKey: item.IdempotencyKey,
	})
	return err
}
