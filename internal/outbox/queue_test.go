package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/edge/internal/kv"
	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
)

// MockSender implements Sender for testing
type MockSender struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, item Item) error
	Sent     []Item
}

func (m *MockSender) Send(ctx context.Context, item Item) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, item)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, item)
	}
	return nil
}

func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockSessions implements SessionChecker for testing
type MockSessions struct {
	Valid bool
	Pins  map[string]session.Session
}

func (m *MockSessions) HasValid(scopeID string) bool { return m.Valid && scopeID == "scope-1" }
func (m *MockSessions) Scope() string                { return "scope-1" }

func (m *MockSessions) Pinned(caller string) (session.Session, bool) {
	s, ok := m.Pins[caller]
	return s, ok
}

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestQueue(sender Sender, valid bool) *Queue {
	q := NewQueue(kv.NewMemory(), sender, &MockSessions{Valid: valid}, DefaultConfig(), nil)
	q.now = func() time.Time { return testNow }
	q.jitter = func() float64 { return 0.5 }
	return q
}

func mustEnqueue(t *testing.T, q *Queue, item Item) Item {
	t.Helper()
	got, err := q.Enqueue(context.Background(), item)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return got
}

func offlineErr() error {
	return &remote.Error{Kind: remote.KindOffline, Method: "POST", Path: "/tickets", Err: fmt.Errorf("dial tcp: connection refused")}
}

func statusErr(status int) error {
	kind := remote.KindClientError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = remote.KindUnauthorized
	case status >= 500:
		kind = remote.KindServerError
	}
	return &remote.Error{Kind: kind, Method: "POST", Path: "/tickets", Status: status}
}

func TestQueueEnqueueDedupe(t *testing.T) {
	q := newTestQueue(&MockSender{}, true)

	mustEnqueue(t, q, Item{Method: "POST", Path: "/tables/open", DedupeKey: "T3:open", Body: json.RawMessage(`{"v":1}`)})
	mustEnqueue(t, q, Item{Method: "POST", Path: "/tables/open", DedupeKey: "T3:open", Body: json.RawMessage(`{"v":2}`)})

	items, err := q.Items(context.Background())
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if string(items[0].Body) != `{"v":2}` {
		t.Errorf("body = %s, want the second body", items[0].Body)
	}
}

func TestQueueEnqueueDedupeKeepsLatestPerKey(t *testing.T) {
	q := newTestQueue(&MockSender{}, true)
	q.cfg.MaxItems = 10000
	rng := rand.New(rand.NewPCG(1, 2))
	latest := map[string]string{}

	for i := 0; i < 200; i++ {
		key := ""
		if n := rng.IntN(6); n > 0 {
			key = fmt.Sprintf("key-%d", n)
		}
		body := fmt.Sprintf(`{"seq":%d}`, i)
		mustEnqueue(t, q, Item{Method: "POST", Path: "/x", DedupeKey: key, Body: json.RawMessage(body)})
		if key != "" {
			latest[key] = body
		}
	}

	items, _ := q.Items(context.Background())
	seen := map[string]int{}
	for _, item := range items {
		if item.DedupeKey == "" {
			continue
		}
		seen[item.DedupeKey]++
		if string(item.Body) != latest[item.DedupeKey] {
			t.Errorf("key %s holds %s, want %s", item.DedupeKey, item.Body, latest[item.DedupeKey])
		}
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("key %s appears %d times", key, n)
		}
	}
}

func TestQueueEnqueueCapacity(t *testing.T) {
	q := newTestQueue(&MockSender{}, true)
	q.cfg.MaxItems = 3

	for i := 0; i < 5; i++ {
		mustEnqueue(t, q, Item{ID: fmt.Sprintf("item-%d", i), Method: "POST", Path: "/tickets"})
	}

	items, _ := q.Items(context.Background())
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].ID != "item-2" {
		t.Errorf("oldest kept = %s, want item-2", items[0].ID)
	}

	dead, _ := q.DeadLetters(context.Background())
	if len(dead) != 2 || dead[0].Reason != "capacity" {
		t.Errorf("dead letters = %+v, want 2 capacity drops", dead)
	}
}

func TestQueueEnqueueInvalid(t *testing.T) {
	tests := []struct {
		name string
		item Item
	}{
		{name: "missingMethod", item: Item{Path: "/tickets"}},
		{name: "missingPath", item: Item{Method: "POST"}},
		{name: "malformedBody", item: Item{Method: "POST", Path: "/tickets", Body: json.RawMessage(`{`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(&MockSender{}, true)
			if _, err := q.Enqueue(context.Background(), tt.item); err != ErrInvalidItem {
				t.Errorf("Enqueue() error = %v, want ErrInvalidItem", err)
			}
		})
	}
}

func TestQueueFlushPausedWithoutSession(t *testing.T) {
	sender := &MockSender{}
	q := newTestQueue(sender, false)
	mustEnqueue(t, q, Item{Method: "POST", Path: "/tickets"})

	res, err := q.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce() error = %v", err)
	}
	if !res.Paused || res.Remaining != 1 {
		t.Errorf("FlushOnce() = %+v, want paused with 1 remaining", res)
	}
	if sender.Count() != 0 {
		t.Errorf("sender called %d times while paused", sender.Count())
	}
}

func TestQueueFlushPinnedCallerWithoutGlobalSession(t *testing.T) {
	sender := &MockSender{}
	q := NewQueue(kv.NewMemory(), sender, &MockSessions{
		Pins: map[string]session.Session{"pos-1": {Token: "pin", Role: session.RoleStaff, ScopeID: "scope-1"}},
	}, DefaultConfig(), nil)
	q.now = func() time.Time { return testNow }
	q.jitter = func() float64 { return 0.5 }

	mustEnqueue(t, q, Item{Method: "POST", Path: "/tickets", Caller: "pos-1"})
	mustEnqueue(t, q, Item{Method: "POST", Path: "/tickets"})

	res, err := q.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce() error = %v", err)
	}
	if res.Sent != 1 || res.Remaining != 1 || !res.Paused {
		t.Errorf("FlushOnce() = %+v, want 1 sent, 1 waiting for a session", res)
	}
	if sender.Count() != 1 || sender.Sent[0].Caller != "pos-1" {
		t.Errorf("sent = %+v", sender.Sent)
	}
}

func TestRemoteSenderPassesCallerAndPrivilege(t *testing.T) {
	var got remote.CallOptions
	sender := RemoteSender{Client: callerFunc(func(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error) {
		got = opts
		return nil, nil
	})}

	if err := sender.Send(context.Background(), Item{Method: "POST", Path: "/tickets/void-ticket", Caller: "pos-1", Privileged: true, IdempotencyKey: "k"}); err != nil {
		t.Fatal(err)
	}
	if got.Caller != "pos-1" || !got.Privileged || got.IdempotencyKey != "k" || got.RequireAuth {
		t.Errorf("opts = %+v", got)
	}
}

func TestQueueFlushClassification(t *testing.T) {
	tests := []struct {
		name          string
		failures      map[string]error
		wantCalls     int
		wantSent      int
		wantRemaining int
		wantPaused    bool
	}{
		{
			name:          "allDelivered",
			wantCalls:     3,
			wantSent:      3,
			wantRemaining: 0,
		},
		{
			name:          "offlineStopsPass",
			failures:      map[string]error{"a": offlineErr()},
			wantCalls:     1,
			wantSent:      0,
			wantRemaining: 3,
		},
		{
			name:          "clientErrorContinues",
			failures:      map[string]error{"a": statusErr(http.StatusUnprocessableEntity)},
			wantCalls:     3,
			wantSent:      2,
			wantRemaining: 1,
		},
		{
			name:          "serverErrorContinues",
			failures:      map[string]error{"b": statusErr(http.StatusInternalServerError)},
			wantCalls:     3,
			wantSent:      2,
			wantRemaining: 1,
		},
		{
			name:          "unauthorizedPauses",
			failures:      map[string]error{"b": statusErr(http.StatusForbidden)},
			wantCalls:     2,
			wantSent:      1,
			wantRemaining: 2,
			wantPaused:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{SendFunc: func(ctx context.Context, item Item) error {
				return tt.failures[item.ID]
			}}
			q := newTestQueue(sender, true)
			for _, id := range []string{"a", "b", "c"} {
				mustEnqueue(t, q, Item{ID: id, Method: "POST", Path: "/tickets"})
			}

			res, err := q.FlushOnce(context.Background())
			if err != nil {
				t.Fatalf("FlushOnce() error = %v", err)
			}
			if sender.Count() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", sender.Count(), tt.wantCalls)
			}
			if res.Sent != tt.wantSent || res.Remaining != tt.wantRemaining || res.Paused != tt.wantPaused {
				t.Errorf("FlushOnce() = %+v, want sent=%d remaining=%d paused=%v",
					res, tt.wantSent, tt.wantRemaining, tt.wantPaused)
			}
		})
	}
}

func TestQueueFlushReschedules(t *testing.T) {
	t.Run("offlineBacksOff", func(t *testing.T) {
		q := newTestQueue(&MockSender{SendFunc: func(ctx context.Context, item Item) error {
			return offlineErr()
		}}, true)
		mustEnqueue(t, q, Item{ID: "a", Method: "POST", Path: "/tickets"})

		_, _ = q.FlushOnce(context.Background())

		items, _ := q.Items(context.Background())
		if items[0].Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", items[0].Attempts)
		}
		if want := testNow.Add(q.cfg.BaseDelay); !items[0].NextAttemptAt.Equal(want) {
			t.Errorf("NextAttemptAt = %v, want %v", items[0].NextAttemptAt, want)
		}
		if items[0].LastError == "" {
			t.Error("LastError not recorded")
		}
	})

	t.Run("unauthorizedFreezesWithoutAttempt", func(t *testing.T) {
		q := newTestQueue(&MockSender{SendFunc: func(ctx context.Context, item Item) error {
			return statusErr(http.StatusUnauthorized)
		}}, true)
		mustEnqueue(t, q, Item{ID: "a", Method: "POST", Path: "/tickets"})

		_, _ = q.FlushOnce(context.Background())

		items, _ := q.Items(context.Background())
		if items[0].Attempts != 0 {
			t.Errorf("Attempts = %d, want 0", items[0].Attempts)
		}
		if want := testNow.Add(q.cfg.AuthCooldown); !items[0].NextAttemptAt.Equal(want) {
			t.Errorf("NextAttemptAt = %v, want %v", items[0].NextAttemptAt, want)
		}
	})
}

func TestQueueFlushSkipsItemsNotDue(t *testing.T) {
	sender := &MockSender{SendFunc: func(ctx context.Context, item Item) error {
		if item.ID == "a" {
			return statusErr(http.StatusBadRequest)
		}
		return nil
	}}
	q := newTestQueue(sender, true)
	mustEnqueue(t, q, Item{ID: "a", Method: "POST", Path: "/tickets"})

	_, _ = q.FlushOnce(context.Background())
	mustEnqueue(t, q, Item{ID: "b", Method: "POST", Path: "/tickets"})
	res, _ := q.FlushOnce(context.Background())

	if sender.Count() != 2 {
		t.Errorf("calls = %d, want 2 (a once, b once)", sender.Count())
	}
	if res.Sent != 1 || res.Remaining != 1 {
		t.Errorf("FlushOnce() = %+v", res)
	}
}

func TestQueueFlushConflictWithIdempotencyKey(t *testing.T) {
	sender := &MockSender{SendFunc: func(ctx context.Context, item Item) error {
		return statusErr(http.StatusConflict)
	}}
	q := newTestQueue(sender, true)
	mustEnqueue(t, q, Item{ID: "keyed", Method: "POST", Path: "/tickets", IdempotencyKey: "k-1"})
	mustEnqueue(t, q, Item{ID: "plain", Method: "POST", Path: "/tickets"})

	res, _ := q.FlushOnce(context.Background())

	if res.Sent != 1 || res.Remaining != 1 {
		t.Errorf("FlushOnce() = %+v, want keyed item treated as delivered", res)
	}
}

func TestQueueFlushReentrant(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 10)
	sender := &MockSender{SendFunc: func(ctx context.Context, item Item) error {
		entered <- struct{}{}
		<-release
		return nil
	}}
	q := newTestQueue(sender, true)
	mustEnqueue(t, q, Item{ID: "a", Method: "POST", Path: "/tickets"})
	mustEnqueue(t, q, Item{ID: "b", Method: "POST", Path: "/tickets"})

	done := make(chan Result)
	go func() {
		res, _ := q.FlushOnce(context.Background())
		done <- res
	}()
	<-entered

	busy, err := q.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce() error = %v", err)
	}
	if !busy.Busy || busy.Remaining != 2 {
		t.Errorf("concurrent FlushOnce() = %+v, want busy with 2 remaining", busy)
	}

	close(release)
	first := <-done
	if first.Sent != 2 || first.Remaining != 0 {
		t.Errorf("first FlushOnce() = %+v", first)
	}
	if sender.Count() != 2 {
		t.Errorf("items sent %d times, want 2", sender.Count())
	}
}

func TestQueueRetention(t *testing.T) {
	sender := &MockSender{}
	q := newTestQueue(sender, true)
	q.cfg.MaxAttempts = 3
	q.cfg.MaxAge = time.Hour

	mustEnqueue(t, q, Item{ID: "old", Method: "POST", Path: "/tickets"})
	mustEnqueue(t, q, Item{ID: "tired", Method: "POST", Path: "/tickets"})
	mustEnqueue(t, q, Item{ID: "fresh", Method: "POST", Path: "/tickets"})

	_ = q.update(context.Background(), func(doc *document) []DeadLetter {
		doc.Items[0].CreatedAt = testNow.Add(-2 * time.Hour)
		doc.Items[1].Attempts = 3
		return nil
	})

	res, err := q.FlushOnce(context.Background())
	if err != nil {
		t.Fatalf("FlushOnce() error = %v", err)
	}
	if res.Dropped != 2 || res.Sent != 1 {
		t.Errorf("FlushOnce() = %+v, want 2 dropped and 1 sent", res)
	}

	dead, _ := q.DeadLetters(context.Background())
	if len(dead) != 2 {
		t.Fatalf("dead letters = %d, want 2", len(dead))
	}
	if err := q.ClearDeadLetters(context.Background()); err != nil {
		t.Fatalf("ClearDeadLetters() error = %v", err)
	}
	dead, _ = q.DeadLetters(context.Background())
	if len(dead) != 0 {
		t.Errorf("dead letters after clear = %d", len(dead))
	}
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	base := 2 * time.Second
	ceiling := time.Minute

	prev := time.Duration(0)
	for attempts := 1; attempts <= 40; attempts++ {
		d := Backoff(attempts, base, ceiling, 0.5)
		if d < prev {
			t.Errorf("attempt %d: %v < previous %v", attempts, d, prev)
		}
		if d > ceiling {
			t.Errorf("attempt %d: %v exceeds ceiling %v", attempts, d, ceiling)
		}
		prev = d
	}
	if prev != ceiling {
		t.Errorf("delay after 40 attempts = %v, want ceiling %v", prev, ceiling)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want time.Duration
	}{
		{name: "lowest", r: 0, want: 8 * time.Second},
		{name: "nominal", r: 0.5, want: 10 * time.Second},
		{name: "highestClamped", r: 0.999999, want: 12 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Backoff(1, 10*time.Second, time.Minute, tt.r)
			diff := got - tt.want
			if diff < -time.Millisecond || diff > time.Millisecond {
				t.Errorf("Backoff() = %v, want ~%v", got, tt.want)
			}
		})
	}

	if got := Backoff(10, time.Second, 5*time.Second, 0.99); got > 5*time.Second {
		t.Errorf("Backoff() = %v exceeds ceiling", got)
	}
}

func TestRemoteSender(t *testing.T) {
	var gotBody any
	var gotOpts remote.CallOptions
	caller := callerFunc(func(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error) {
		gotBody = body
		gotOpts = opts
		return nil, nil
	})

	s := RemoteSender{Client: caller}
	err := s.Send(context.Background(), Item{
		Method: "POST", Path: "/tickets", RequireAuth: true, IdempotencyKey: "k",
		Body: json.RawMessage(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if raw, ok := gotBody.(json.RawMessage); !ok || string(raw) != `{"a":1}` {
		t.Errorf("body = %v", gotBody)
	}
	if !gotOpts.RequireAuth || gotOpts.IdempotencyKey != "k" {
		t.Errorf("opts = %+v", gotOpts)
	}
}

type callerFunc func(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error)

func (f callerFunc) Call(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error) {
	return f(ctx, method, path, body, opts)
}
