package ingest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/appetiteclub/edge/internal/kds"
	"github.com/appetiteclub/edge/internal/outbox"
	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
	"github.com/appetiteclub/edge/internal/ticketlog"
)

type remoteCall struct {
	Method string
	Path   string
	Body   json.RawMessage
	Opts   remote.CallOptions
}

type MockRemote struct {
	CallFunc func(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error)
	Calls    []remoteCall
}

func (m *MockRemote) Call(ctx context.Context, method, path string, body any, opts remote.CallOptions) (json.RawMessage, error) {
	raw, _ := body.(json.RawMessage)
	m.Calls = append(m.Calls, remoteCall{Method: method, Path: path, Body: raw, Opts: opts})
	if m.CallFunc != nil {
		return m.CallFunc(ctx, method, path, body, opts)
	}
	return json.RawMessage(`{}`), nil
}

type MockQueue struct {
	EnqueueFunc func(ctx context.Context, item outbox.Item) (outbox.Item, error)
	Items       []outbox.Item
}

func (m *MockQueue) Enqueue(ctx context.Context, item outbox.Item) (outbox.Item, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, item)
	}
	item.ID = "outbox-1"
	m.Items = append(m.Items, item)
	return item, nil
}

type MockMirror struct {
	AppendFunc func(ctx context.Context, e ticketlog.Entry) error
	Entries    []ticketlog.Entry
}

func (m *MockMirror) Append(ctx context.Context, e ticketlog.Entry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *MockMirror) List(ctx context.Context, f ticketlog.Filter) ([]ticketlog.Entry, error) {
	return m.Entries, nil
}

type MockSessions struct {
	Valid bool
}

func (m *MockSessions) HasValid(scopeID string) bool {
	return m.Valid && scopeID == "scope-1"
}

func (m *MockSessions) Pinned(caller string) (session.Session, bool) {
	return session.Session{}, false
}

func (m *MockSessions) Scope() string {
	return "scope-1"
}

type MockKitchen struct {
	FireTicketFunc func(ctx context.Context, req kds.FireRequest) (kds.FireResult, error)
	VoidItemFunc   func(ctx context.Context, req kds.VoidItemRequest) (kds.VoidResult, error)
	VoidTicketFunc func(ctx context.Context, area, table, reason string) (kds.VoidResult, error)
	CloseOrderFunc func(ctx context.Context, area, table string) (kds.VoidResult, error)
	Calls          []string
}

func (m *MockKitchen) FireTicket(ctx context.Context, req kds.FireRequest) (kds.FireResult, error) {
	m.Calls = append(m.Calls, "fire")
	if m.FireTicketFunc != nil {
		return m.FireTicketFunc(ctx, req)
	}
	return kds.FireResult{Routed: true, OrderNo: 1}, nil
}

func (m *MockKitchen) VoidItem(ctx context.Context, req kds.VoidItemRequest) (kds.VoidResult, error) {
	m.Calls = append(m.Calls, "void_item")
	if m.VoidItemFunc != nil {
		return m.VoidItemFunc(ctx, req)
	}
	return kds.VoidResult{Voided: 1}, nil
}

func (m *MockKitchen) VoidTicket(ctx context.Context, area, table, reason string) (kds.VoidResult, error) {
	m.Calls = append(m.Calls, "void_ticket")
	if m.VoidTicketFunc != nil {
		return m.VoidTicketFunc(ctx, area, table, reason)
	}
	return kds.VoidResult{Voided: 2, Closed: true}, nil
}

func (m *MockKitchen) CloseOrder(ctx context.Context, area, table string) (kds.VoidResult, error) {
	m.Calls = append(m.Calls, "close")
	if m.CloseOrderFunc != nil {
		return m.CloseOrderFunc(ctx, area, table)
	}
	return kds.VoidResult{Closed: true}, nil
}

type MockSessionStore struct {
	mu       sync.Mutex
	SetFunc  func(ctx context.Context, s session.Session) error
	sessions map[session.Role]session.Session
	Pins     map[string]session.Session
}

func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[session.Role]session.Session),
		Pins:     make(map[string]session.Session),
	}
}

func (m *MockSessionStore) Get(role session.Role) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[role]
	return s, ok
}

func (m *MockSessionStore) Set(ctx context.Context, s session.Session) error {
	if m.SetFunc != nil {
		if err := m.SetFunc(ctx, s); err != nil {
			return err
		}
	}
	if s.Token == "" {
		return session.ErrInvalidSession
	}
	if s.ScopeID == "" {
		s.ScopeID = m.Scope()
	}
	if s.ScopeID != m.Scope() {
		return session.ErrScopeMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Role] = s
	return nil
}

func (m *MockSessionStore) Invalidate(ctx context.Context, role session.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, role)
	return nil
}

func (m *MockSessionStore) Pin(caller string, s session.Session) error {
	if caller == "" || s.Token == "" {
		return session.ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pins[caller] = s
	return nil
}

func (m *MockSessionStore) Unpin(caller string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Pins, caller)
}

func (m *MockSessionStore) Scope() string {
	return "scope-1"
}

type MockAuthenticator struct {
	LoginFunc func(ctx context.Context, role session.Role, username, password string) (session.Session, error)
}

func (m *MockAuthenticator) Login(ctx context.Context, role session.Role, username, password string) (session.Session, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, role, username, password)
	}
	return session.Session{Token: "tok-" + username, Role: role, ActorID: username}, nil
}

type MockKicker struct {
	Kicks int
}

func (m *MockKicker) Kick() {
	m.Kicks++
}

type published struct {
	Topic string
	Msg   []byte
}

type MockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
	Messages    []published
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.Messages = append(m.Messages, published{Topic: topic, Msg: msg})
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	return nil
}
