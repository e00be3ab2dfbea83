package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/synthlang/proxy/internal/llm"
	"github.com/synthlang/proxy/internal/monitoring"
)

// Error kinds carried in the error envelope's "type" field.
const (
	CodeValidation      = "VALIDATION"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"

	CodeUpstreamAuth       = "UPSTREAM_AUTH"
	CodeUpstreamRate       = "UPSTREAM_RATE"
	CodeUpstreamConnection = "UPSTREAM_CONNECTION"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeUpstreamInvalid    = "UPSTREAM_INVALID"
)

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError emits the JSON error envelope shared by every endpoint.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorDetail{
		Type:      kind,
		Message:   message,
		RequestID: monitoring.RequestIDFromContext(r.Context()),
	}})
}

// upstreamError maps an upstream failure onto the gateway's status
// code and error kind.
func upstreamError(err error) (int, string) {
	var ue *llm.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, CodeInternal
	}
	switch ue.Kind {
	case llm.KindAuth:
		return http.StatusBadGateway, CodeUpstreamAuth
	case llm.KindRateLimit:
		return http.StatusBadGateway, CodeUpstreamRate
	case llm.KindTimeout:
		return http.StatusGatewayTimeout, CodeUpstreamTimeout
	case llm.KindModelNotFound, llm.KindInvalidRequest:
		return http.StatusBadGateway, CodeUpstreamInvalid
	default:
		return http.StatusBadGateway, CodeUpstreamConnection
	}
}
