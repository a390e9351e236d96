package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/appetiteclub/edge/internal/remote"
	"github.com/appetiteclub/edge/internal/session"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
)

type SessionStore interface {
	Get(role session.Role) (session.Session, bool)
	Set(ctx context.Context, s session.Session) error
	Invalidate(ctx context.Context, role session.Role) error
	Pin(caller string, s session.Session) error
	Unpin(caller string)
	Scope() string
}

type Authenticator interface {
	Login(ctx context.Context, role session.Role, username, password string) (session.Session, error)
}

// Kicker is told when a session becomes available so queued writes go out
// without waiting for the next tick.
type Kicker interface {
	Kick()
}

type SessionHandler struct {
	sessions SessionStore
	auth     Authenticator
	kicker   Kicker
	logger   aqm.Logger
	tlm      *telemetry.HTTP
}

func NewSessionHandler(sessions SessionStore, auth Authenticator, kicker Kicker, logger aqm.Logger) *SessionHandler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &SessionHandler{
		sessions: sessions,
		auth:     auth,
		kicker:   kicker,
		logger:   logger,
		tlm:      telemetry.NewHTTP(),
	}
}

func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Put("/pins/{caller}", h.PinSession)
		r.Delete("/pins/{caller}", h.UnpinSession)

		r.Get("/{role}", h.GetSession)
		r.Put("/{role}", h.SetSession)
		r.Delete("/{role}", h.InvalidateSession)
		r.Post("/{role}/login", h.Login)
	})
}

type sessionRequest struct {
	Token   string `json:"token"`
	ActorID string `json:"actorId"`
	Scope   string `json:"scope,omitempty"`
	Role    string `json:"role,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionView never carries the token.
type sessionView struct {
	Role    session.Role `json:"role"`
	Scope   string       `json:"scope"`
	ActorID string       `json:"actorId,omitempty"`
	SavedAt time.Time    `json:"savedAt,omitempty"`
	Valid   bool         `json:"valid"`
}

func viewOf(s session.Session, valid bool) sessionView {
	return sessionView{Role: s.Role, Scope: s.ScopeID, ActorID: s.ActorID, SavedAt: s.SavedAt, Valid: valid}
}

func (h *SessionHandler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

func (h *SessionHandler) role(w http.ResponseWriter, r *http.Request) (session.Role, bool) {
	role, err := session.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid role")
		return "", false
	}
	return role, true
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "SessionHandler.GetSession")
	defer finish()

	role, ok := h.role(w, r)
	if !ok {
		return
	}
	s, found := h.sessions.Get(role)
	if !found {
		aqm.Respond(w, http.StatusOK, sessionView{Role: role, Scope: h.sessions.Scope()}, nil)
		return
	}
	aqm.Respond(w, http.StatusOK, viewOf(s, true), nil)
}

func (h *SessionHandler) SetSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "SessionHandler.SetSession")
	defer finish()
	log := h.log(r)

	role, ok := h.role(w, r)
	if !ok {
		return
	}
	var req sessionRequest
	if !decodePayload(w, r, log, &req) {
		return
	}

	s := session.Session{Token: req.Token, ScopeID: req.Scope, Role: role, ActorID: req.ActorID}
	if err := h.sessions.Set(r.Context(), s); err != nil {
		h.respondSessionError(w, log, err)
		return
	}
	h.kick()

	stored, _ := h.sessions.Get(role)
	aqm.Respond(w, http.StatusOK, viewOf(stored, true), nil)
}

func (h *SessionHandler) InvalidateSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "SessionHandler.InvalidateSession")
	defer finish()

	role, ok := h.role(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Invalidate(r.Context(), role); err != nil {
		h.respondSessionError(w, h.log(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "SessionHandler.Login")
	defer finish()
	log := h.log(r)

	role, ok := h.role(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if !decodePayload(w, r, log, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		aqm.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if h.auth == nil {
		aqm.RespondError(w, http.StatusServiceUnavailable, "Remote login not configured")
		return
	}

	s, err := h.auth.Login(r.Context(), role, req.Username, req.Password)
	if err != nil {
		switch remote.KindOf(err) {
		case remote.KindUnauthorized:
			aqm.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		case remote.KindOffline:
			aqm.RespondError(w, http.StatusServiceUnavailable, "Remote service unreachable")
		default:
			log.Errorf("login failed: %v", err)
			aqm.RespondError(w, http.StatusBadGateway, "Login failed")
		}
		return
	}

	if err := h.sessions.Set(r.Context(), s); err != nil {
		h.respondSessionError(w, log, err)
		return
	}
	h.kick()
	log.Info("session logged in", "role", string(role), "actor", s.ActorID)

	stored, _ := h.sessions.Get(role)
	aqm.Respond(w, http.StatusOK, viewOf(stored, true), nil)
}

func (h *SessionHandler) PinSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "SessionHandler.PinSession")
	defer finish()
	log := h.log(r)

	var req sessionRequest
	if !decodePayload(w, r, log, &req) {
		return
	}
	role, err := session.ParseRole(req.Role)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	s := session.Session{Token: req.Token, ScopeID: req.Scope, Role: role, ActorID: req.ActorID}
	if err := h.sessions.Pin(chi.URLParam(r, "caller"), s); err != nil {
		h.respondSessionError(w, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) UnpinSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "SessionHandler.UnpinSession")
	defer finish()

	h.sessions.Unpin(chi.URLParam(r, "caller"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) kick() {
	if h.kicker != nil {
		h.kicker.Kick()
	}
}

func (h *SessionHandler) respondSessionError(w http.ResponseWriter, log aqm.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		aqm.RespondError(w, http.StatusBadRequest, "token and a valid role are required")
	case errors.Is(err, session.ErrScopeMismatch):
		aqm.RespondError(w, http.StatusConflict, "Session belongs to another scope")
	default:
		log.Errorf("session update failed: %v", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not update session")
	}
}
