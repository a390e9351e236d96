package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/edge/internal/session"
	"github.com/aquamarinepk/aqm"
)

const (
	maxResponseBytes = 1 << 20
	maxMessageBytes  = 200
	defaultTimeout   = 10 * time.Second

	IdempotencyHeader = "Idempotency-Key"
	ScopeHeader       = "X-Scope-ID"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func ConfigFrom(config *aqm.Config) Config {
	cfg := Config{Timeout: defaultTimeout}
	if config == nil {
		return cfg
	}
	cfg.BaseURL, _ = config.GetString("remote.url")
	if raw := config.GetStringOrDef("remote.timeout", ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	return cfg
}

// Sessions is the part of the session manager the client needs.
type Sessions interface {
	Select(caller string, privileged bool) (session.Selection, error)
	Reject(ctx context.Context, sel session.Selection) error
	Scope() string
}

type CallOptions struct {
	RequireAuth    bool
	Privileged     bool
	Caller         string
	IdempotencyKey string
}

// Client talks to the remote Appetite backend. Every call is bounded by the
// configured timeout and every failure is an *Error.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   Sessions
	logger     aqm.Logger
}

func NewClient(cfg Config, sessions Sessions, logger aqm.Logger) *Client {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		sessions: sessions,
		logger:   logger,
	}
}

// Call performs one request. A 401/403 invalidates exactly the session that
// was used for it.
func (c *Client) Call(ctx context.Context, method, path string, body any, opts CallOptions) (json.RawMessage, error) {
	var sel session.Selection
	var token string
	if opts.RequireAuth {
		if c.sessions == nil {
			return nil, &Error{Kind: KindUnauthorized, Method: method, Path: path, Err: session.ErrNoSession}
		}
		s, err := c.sessions.Select(opts.Caller, opts.Privileged)
		if err != nil {
			return nil, &Error{Kind: KindUnauthorized, Method: method, Path: path, Err: err}
		}
		sel = s
		token = s.Session.Token
	}

	raw, err := c.do(ctx, method, path, body, token, opts.IdempotencyKey)
	if err != nil && opts.RequireAuth && IsUnauthorized(err) {
		c.logger.Info("remote rejected session", "path", path, "source", sel.Source.String())
		if rerr := c.sessions.Reject(ctx, sel); rerr != nil {
			c.logger.Errorf("cannot invalidate rejected session: %v", rerr)
		}
	}
	return raw, err
}

// Verify implements session.Verifier with the remote self-check endpoint.
func (c *Client) Verify(ctx context.Context, s session.Session) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/auth/session", nil, s.Token, "")
	if err == nil {
		return true, nil
	}
	if IsUnauthorized(err) {
		return false, nil
	}
	return false, err
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	ActorID string `json:"actorId"`
	Scope   string `json:"scope"`
}

// Login exchanges credentials for a session of the given role. The caller
// stores it through the session manager.
func (c *Client) Login(ctx context.Context, role session.Role, username, password string) (session.Session, error) {
	if !role.Valid() {
		return session.Session{}, session.ErrInvalidSession
	}
	path := "/auth/login"
	if role == session.RoleAdmin {
		path = "/auth/admin/login"
	}

	raw, err := c.do(ctx, http.MethodPost, path, loginRequest{Username: username, Password: password}, "", "")
	if err != nil {
		return session.Session{}, err
	}

	var resp loginResponse
	if err := decodeData(raw, &resp); err != nil {
		return session.Session{}, fmt.Errorf("decode login response: %w", err)
	}
	if resp.Token == "" {
		return session.Session{}, &Error{Kind: KindServerError, Method: http.MethodPost, Path: path, Message: "empty token"}
	}

	return session.Session{
		Token:   resp.Token,
		ScopeID: resp.Scope,
		Role:    role,
		ActorID: resp.ActorID,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token, idempotencyKey string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, &Error{Kind: KindOffline, Method: method, Path: path, Err: errors.New("remote url not configured")}
	}

	var reader io.Reader
	if body != nil {
		payload, err := encodeBody(body)
		if err != nil {
			return nil, &Error{Kind: KindClientError, Method: method, Path: path, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindClientError, Method: method, Path: path, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.sessions != nil {
		if scope := c.sessions.Scope(); scope != "" {
			req.Header.Set(ScopeHeader, scope)
		}
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindOffline, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindOffline, Method: method, Path: path, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(data),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

// errorMessage pulls a readable message out of an error body, accepting the
// {"error": "..."} envelope used by the Appetite services.
func errorMessage(data []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxMessageBytes {
		cut := maxMessageBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}

// decodeData decodes raw into dest, unwrapping a {"data": ...} envelope when
// present.
func decodeData(raw json.RawMessage, dest any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, dest)
	}
	return json.Unmarshal(raw, dest)
}
