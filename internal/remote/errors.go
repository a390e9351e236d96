package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed remote call. The outbox and the coordinator
// decide retry policy from it.
type Kind int

const (
	KindUnknown Kind = iota
	KindOffline
	KindUnauthorized
	KindClientError
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindOffline:
		return "offline"
	case KindUnauthorized:
		return "unauthorized"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Error is returned for every failed call made through Client.
type Error struct {
	Kind    Kind
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err. Deadline errors that did not
// pass through the client still count as offline.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOffline
	}
	return KindUnknown
}

func IsOffline(err error) bool {
	return KindOf(err) == KindOffline
}

func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}
