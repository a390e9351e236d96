package session

import (
	"errors"
	"time"
)

var (
	ErrNoSession      = errors.New("no session")
	ErrNotPrivileged  = errors.New("session is not privileged")
	ErrScopeMismatch  = errors.New("session scope does not match configured scope")
	ErrInvalidSession = errors.New("invalid session")
)

type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleStaff || r == RoleAdmin
}

// ParseRole accepts the role names used by callers and persisted records.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStaff, RoleAdmin:
		return Role(s), nil
	case "":
		return "", ErrInvalidSession
	default:
		return "", errors.New("unknown role: " + s)
	}
}

// Session is an authenticated credential against the remote service. It is
// only usable while ScopeID matches the configured remote scope.
type Session struct {
	Token   string    `json:"token"`
	ScopeID string    `json:"scope"`
	Role    Role      `json:"role"`
	ActorID string    `json:"actorId"`
	SavedAt time.Time `json:"savedAt"`
}

func (s Session) Privileged() bool {
	return s.Role == RoleAdmin
}

func (s Session) validate() error {
	if s.Token == "" {
		return ErrInvalidSession
	}
	if !s.Role.Valid() {
		return ErrInvalidSession
	}
	return nil
}

// Source tells where a selected session came from.
type Source int

const (
	SourcePinned Source = iota + 1
	SourceStaff
	SourceAdmin
)

func (s Source) String() string {
	switch s {
	case SourcePinned:
		return "pinned"
	case SourceStaff:
		return "staff"
	case SourceAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Selection is the session chosen for one outgoing call. Reject uses it to
// invalidate exactly the slot that was used.
type Selection struct {
	Session Session
	Source  Source
	Caller  string
}
