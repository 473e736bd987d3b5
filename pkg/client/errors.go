package client

import (
	"fmt"
	"net/http"
)

// Kind tags an error with its recovery category. Classification happens at
// the failure site, never by inspecting message text later.
type Kind int

const (
	KindUnknown Kind = iota

	// KindNetwork errors drive the automatic reconnect state machine.
	KindNetwork

	// KindAuth errors are terminal: the token was rejected.
	KindAuth

	// KindConflict errors mean stale client state. Never auto-retried; the
	// user must refresh.
	KindConflict

	// KindRateLimit errors mean the server shed the request. Never
	// auto-retried; the user must wait.
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// Error is a tagged session error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyDialError tags a websocket dial failure using the handshake
// response when one exists. Anything without a decisive HTTP status is a
// network error and retryable.
func classifyDialError(resp *http.Response, err error) *Error {
	kind := KindNetwork
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = KindAuth
		case http.StatusConflict:
			kind = KindConflict
		case http.StatusTooManyRequests:
			kind = KindRateLimit
		}
	}
	return &Error{Kind: kind, Op: "dial", Err: err}
}

// classifyServerError tags an error event pushed by the server.
func classifyServerError(code, message string) *Error {
	kind := KindUnknown
	switch code {
	case "CONFLICT":
		kind = KindConflict
	case "RATE_LIMITED":
		kind = KindRateLimit
	case "UNAUTHORIZED", "INVALID_TOKEN":
		kind = KindAuth
	}
	return &Error{Kind: kind, Op: "server", Err: fmt.Errorf("%s", message)}
}
