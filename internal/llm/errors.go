package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rate_limit"
	KindConnection     Kind = "connection"
	KindTimeout        Kind = "timeout"
	KindModelNotFound  Kind = "model_not_found"
	KindInvalidRequest Kind = "invalid_request"
	KindUnknown        Kind = "unknown"
)

// maxErrorBodyLen limits upstream error bodies carried in messages.
const maxErrorBodyLen = 500

// Error is a classified upstream failure.
type Error struct {
	Kind       Kind
	StatusCode int // 0 for transport failures
	Message    string
	err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// retryable reports whether one more attempt is worth making: transport
// connection failures and 5xx responses, never timeouts, cancellations,
// or anything the upstream rejected outright.
func (e *Error) retryable() bool {
	if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
		return false
	}
	if e.Kind == KindTimeout {
		return false
	}
	return e.Kind == KindConnection || e.StatusCode >= 500
}

// classifyTransport maps a failed round trip to an Error.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "upstream call exceeded deadline", err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: netErr.Error(), err: err}
	}
	return &Error{Kind: KindConnection, Message: err.Error(), err: err}
}

// classifyStatus maps a non-200 response to an Error. The body is
// inspected for the OpenAI error envelope; statuses that stay ambiguous
// on their own (404, 5xx) are resolved by error.type, error.code, and
// message patterns.
func classifyStatus(status int, body []byte) *Error {
	msg := gjson.GetBytes(body, "error.message").String()
	code := gjson.GetBytes(body, "error.code").String()
	typ := gjson.GetBytes(body, "error.type").String()

	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen] + "... (truncated)"
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
	}

	kind := KindUnknown
	lower := strings.ToLower(msg)
	switch {
	case code == "model_not_found":
		kind = KindModelNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		typ == "authentication_error", code == "invalid_api_key":
		kind = KindAuth
	case status == http.StatusTooManyRequests,
		code == "rate_limit_exceeded", typ == "insufficient_quota":
		kind = KindRateLimit
	case status == http.StatusNotFound && strings.Contains(lower, "model"):
		kind = KindModelNotFound
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		typ == "invalid_request_error":
		kind = KindInvalidRequest
	}

	return &Error{Kind: kind, StatusCode: status, Message: msg}
}
