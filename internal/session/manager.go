package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/edge/internal/kv"
	"github.com/aquamarinepk/aqm"
)

const (
	KeyStaff  = "session.staff"
	KeyAdmin  = "session.admin"
	KeyLegacy = "session"

	defaultVerifyTimeout = 5 * time.Second
)

// Verifier performs the self-check call for a persisted session. valid is
// false when the remote service rejected the token; a non-nil error means
// the check could not be completed (offline) and says nothing about the
// token.
type Verifier interface {
	Verify(ctx context.Context, s Session) (valid bool, err error)
}

// Manager holds the staff and admin sessions plus per-caller pins. Global
// slots are persisted on every change; pins live for the process only.
type Manager struct {
	mu      sync.RWMutex
	scopeID string
	staff   *Session
	admin   *Session
	pinned  map[string]Session

	store         kv.Store
	logger        aqm.Logger
	now           func() time.Time
	verifyTimeout time.Duration
}

func NewManager(store kv.Store, scopeID string, logger aqm.Logger) *Manager {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Manager{
		scopeID:       scopeID,
		pinned:        make(map[string]Session),
		store:         store,
		logger:        logger,
		now:           time.Now,
		verifyTimeout: defaultVerifyTimeout,
	}
}

func (m *Manager) Scope() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopeID
}

// SetScope switches the configured remote scope. Sessions bound to any other
// scope are discarded, never reused.
func (m *Manager) SetScope(ctx context.Context, scopeID string) error {
	m.mu.Lock()
	if scopeID == m.scopeID {
		m.mu.Unlock()
		return nil
	}
	m.scopeID = scopeID
	var stale []Role
	if m.staff != nil && m.staff.ScopeID != scopeID {
		m.staff = nil
		stale = append(stale, RoleStaff)
	}
	if m.admin != nil && m.admin.ScopeID != scopeID {
		m.admin = nil
		stale = append(stale, RoleAdmin)
	}
	for caller, s := range m.pinned {
		if s.ScopeID != scopeID {
			delete(m.pinned, caller)
		}
	}
	m.mu.Unlock()

	m.logger.Info("remote scope changed", "scope", scopeID, "discarded", len(stale))

	var errs []error
	for _, role := range stale {
		if err := m.store.Delete(ctx, keyFor(role)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the global session for role when it is valid for the current
// scope.
func (m *Manager) Get(role Role) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.slot(role)
	if s == nil || s.ScopeID != m.scopeID {
		return Session{}, false
	}
	return *s, true
}

// Set stores s as the global session for its role and persists it. An empty
// scope is bound to the current scope.
func (m *Manager) Set(ctx context.Context, s Session) error {
	if err := s.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if s.ScopeID == "" {
		s.ScopeID = m.scopeID
	}
	if s.ScopeID != m.scopeID {
		m.mu.Unlock()
		return ErrScopeMismatch
	}
	s.SavedAt = m.now().UTC()
	stored := s
	if s.Role == RoleAdmin {
		m.admin = &stored
	} else {
		m.staff = &stored
	}
	m.mu.Unlock()

	if err := m.store.UpsertJSON(ctx, keyFor(s.Role), s); err != nil {
		return fmt.Errorf("cannot persist %s session: %w", s.Role, err)
	}
	m.logger.Info("session stored", "role", string(s.Role), "actor", s.ActorID)
	return nil
}

// Invalidate drops the global session for role and persists the removal.
func (m *Manager) Invalidate(ctx context.Context, role Role) error {
	if !role.Valid() {
		return ErrInvalidSession
	}
	m.mu.Lock()
	if role == RoleAdmin {
		m.admin = nil
	} else {
		m.staff = nil
	}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, keyFor(role)); err != nil {
		return fmt.Errorf("cannot remove %s session: %w", role, err)
	}
	m.logger.Info("session invalidated", "role", string(role))
	return nil
}

// HasValid reports whether any global session is usable for scopeID. It is
// false for any scope other than the configured one.
func (m *Manager) HasValid(scopeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if scopeID != m.scopeID {
		return false
	}
	for _, s := range []*Session{m.staff, m.admin} {
		if s != nil && s.ScopeID == scopeID {
			return true
		}
	}
	return false
}

// Pin makes caller use s regardless of the global sessions.
func (m *Manager) Pin(caller string, s Session) error {
	if caller == "" {
		return errors.New("caller is required")
	}
	if err := s.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ScopeID == "" {
		s.ScopeID = m.scopeID
	}
	if s.ScopeID != m.scopeID {
		return ErrScopeMismatch
	}
	m.pinned[caller] = s
	return nil
}

func (m *Manager) Unpin(caller string) {
	m.mu.Lock()
	delete(m.pinned, caller)
	m.mu.Unlock()
}

func (m *Manager) Pinned(caller string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.pinned[caller]
	if !ok || s.ScopeID != m.scopeID {
		return Session{}, false
	}
	return s, true
}

// Select picks the session for an outgoing call. A caller pin always wins,
// but a privileged call with a non-admin pin fails with ErrNotPrivileged
// instead of falling back to the global admin session.
func (m *Manager) Select(caller string, privileged bool) (Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if caller != "" {
		if s, ok := m.pinned[caller]; ok && s.ScopeID == m.scopeID {
			if privileged && !s.Privileged() {
				return Selection{}, ErrNotPrivileged
			}
			return Selection{Session: s, Source: SourcePinned, Caller: caller}, nil
		}
	}

	if privileged {
		if m.admin != nil && m.admin.ScopeID == m.scopeID {
			return Selection{Session: *m.admin, Source: SourceAdmin, Caller: caller}, nil
		}
		return Selection{}, ErrNoSession
	}

	if m.staff != nil && m.staff.ScopeID == m.scopeID {
		return Selection{Session: *m.staff, Source: SourceStaff, Caller: caller}, nil
	}
	if m.admin != nil && m.admin.ScopeID == m.scopeID {
		return Selection{Session: *m.admin, Source: SourceAdmin, Caller: caller}, nil
	}
	return Selection{}, ErrNoSession
}

// Reject invalidates the slot a selection came from after the remote service
// refused it. A slot already replaced by a newer token is left alone.
func (m *Manager) Reject(ctx context.Context, sel Selection) error {
	switch sel.Source {
	case SourcePinned:
		m.mu.Lock()
		if s, ok := m.pinned[sel.Caller]; ok && s.Token == sel.Session.Token {
			delete(m.pinned, sel.Caller)
		}
		m.mu.Unlock()
		m.logger.Info("pinned session rejected", "caller", sel.Caller)
		return nil
	case SourceStaff, SourceAdmin:
		role := RoleStaff
		if sel.Source == SourceAdmin {
			role = RoleAdmin
		}
		m.mu.RLock()
		current := m.slot(role)
		same := current != nil && current.Token == sel.Session.Token
		m.mu.RUnlock()
		if !same {
			return nil
		}
		return m.Invalidate(ctx, role)
	default:
		return nil
	}
}

// Clear drops every session, global and pinned.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.staff = nil
	m.admin = nil
	m.pinned = make(map[string]Session)
	m.mu.Unlock()

	return errors.Join(
		m.store.Delete(ctx, KeyStaff),
		m.store.Delete(ctx, KeyAdmin),
	)
}

// Bootstrap loads persisted sessions and verifies each one independently.
// Only a definite rejection invalidates a session; an unreachable remote
// keeps it so the node stays logged in while offline.
func (m *Manager) Bootstrap(ctx context.Context, v Verifier) error {
	loaded, err := m.load(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}

	for _, s := range loaded {
		vctx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
		valid, err := v.Verify(vctx, s)
		cancel()
		if err != nil {
			m.logger.Info("session verification skipped", "role", string(s.Role), "error", err)
			continue
		}
		if valid {
			continue
		}
		m.mu.RLock()
		current := m.slot(s.Role)
		same := current != nil && current.Token == s.Token
		m.mu.RUnlock()
		if !same {
			continue
		}
		if err := m.Invalidate(ctx, s.Role); err != nil {
			m.logger.Errorf("cannot invalidate rejected %s session: %v", s.Role, err)
		}
	}
	return nil
}

func (m *Manager) load(ctx context.Context) ([]Session, error) {
	scope := m.Scope()
	var loaded []Session

	for _, role := range []Role{RoleStaff, RoleAdmin} {
		var s Session
		found, err := m.store.GetJSON(ctx, keyFor(role), &s)
		if err != nil {
			return nil, fmt.Errorf("cannot load %s session: %w", role, err)
		}
		if !found {
			continue
		}
		s.Role = role
		if s.validate() != nil || s.ScopeID != scope {
			m.logger.Info("discarding stale session", "role", string(role), "scope", s.ScopeID)
			if err := m.store.Delete(ctx, keyFor(role)); err != nil {
				return nil, err
			}
			continue
		}
		m.adopt(s)
		loaded = append(loaded, s)
	}

	legacy, err := m.loadLegacy(ctx, scope)
	if err != nil {
		return nil, err
	}
	if legacy != nil {
		loaded = append(loaded, *legacy)
	}

	return loaded, nil
}

// loadLegacy migrates the single unscoped record written by older builds
// into its role slot, unless that slot is already filled.
func (m *Manager) loadLegacy(ctx context.Context, scope string) (*Session, error) {
	var s Session
	found, err := m.store.GetJSON(ctx, KeyLegacy, &s)
	if err != nil {
		return nil, fmt.Errorf("cannot load legacy session: %w", err)
	}
	if !found {
		return nil, nil
	}

	if s.Role == "" {
		s.Role = RoleStaff
	}
	if s.ScopeID == "" {
		s.ScopeID = scope
	}
	if s.validate() != nil || s.ScopeID != scope {
		return nil, m.store.Delete(ctx, KeyLegacy)
	}
	if _, taken := m.Get(s.Role); taken {
		return nil, m.store.Delete(ctx, KeyLegacy)
	}
	// The legacy record stays on disk until its slot is persisted.
	if err := m.Set(ctx, s); err != nil {
		return nil, err
	}
	if err := m.store.Delete(ctx, KeyLegacy); err != nil {
		return nil, err
	}
	m.logger.Info("legacy session migrated", "role", string(s.Role))
	return &s, nil
}

func (m *Manager) adopt(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := s
	if s.Role == RoleAdmin {
		m.admin = &stored
	} else {
		m.staff = &stored
	}
}

func (m *Manager) slot(role Role) *Session {
	if role == RoleAdmin {
		return m.admin
	}
	return m.staff
}

func keyFor(role Role) string {
	if role == RoleAdmin {
		return KeyAdmin
	}
	return KeyStaff
}
