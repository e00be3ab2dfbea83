// Package monitoring - request_logger.go logs HTTP request lifecycle.
//
// DESIGN: Structured logging for request tracing at DEBUG level:
//   - LogIncoming:    Request received from client
//   - LogOutgoing:    Request forwarded to the upstream provider
//   - LogResponse:    Response sent to client
//   - LogCompression: SynthLang pipeline outcome
//   - LogDispatch:    Keyword pattern dispatch outcome
//   - LogCacheLookup: Semantic cache lookup outcome
package monitoring

import (
	"net/http"
	"time"
)

// RequestLogger logs HTTP request lifecycle events.
type RequestLogger struct {
	logger *Logger
}

// NewRequestLogger creates a new request logger.
func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// RequestInfo contains incoming request information.
type RequestInfo struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	BodySize   int
	StartTime  time.Time
}

// NewRequestInfo creates RequestInfo from an HTTP request.
func NewRequestInfo(r *http.Request, requestID string, bodySize int) *RequestInfo {
	return &RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		BodySize:   bodySize,
		StartTime:  time.Now(),
	}
}

// LogIncoming logs an incoming request.
func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Int("body_size", info.BodySize).
		Msg("incoming")
}

// OutgoingRequestInfo contains outgoing request information.
type OutgoingRequestInfo struct {
	RequestID  string
	Model      string
	TargetURL  string
	BodySize   int
	Streaming  bool
	Compressed bool
}

// LogOutgoing logs a request forwarded upstream.
func (rl *RequestLogger) LogOutgoing(info *OutgoingRequestInfo) {
	event := rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("model", info.Model).
		Int("body_size", info.BodySize).
		Bool("streaming", info.Streaming)
	if info.Compressed {
		event = event.Bool("compressed", true)
	}
	event.Msg("outgoing")
}

// ResponseInfo contains response information.
type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
}

// LogResponse logs a response.
func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency).
		Msg("response")
}

// CompressionInfo contains SynthLang pipeline outcome information.
type CompressionInfo struct {
	RequestID     string
	Level         string
	Messages      int
	OriginalChars int
	OutputChars   int
	Degraded      bool
	Duration      time.Duration
}

// LogCompression logs a compression pipeline run.
func (rl *RequestLogger) LogCompression(info *CompressionInfo) {
	ratio := 1.0
	if info.OriginalChars > 0 {
		ratio = float64(info.OutputChars) / float64(info.OriginalChars)
	}
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("level", info.Level).
		Int("messages", info.Messages).
		Int("original_chars", info.OriginalChars).
		Int("output_chars", info.OutputChars).
		Float64("ratio", ratio).
		Bool("degraded", info.Degraded).
		Dur("duration", info.Duration).
		Msg("compression")
}

// DispatchInfo contains keyword dispatch information.
type DispatchInfo struct {
	RequestID string
	Pattern   string
	Tool      string
	Outcome   string
}

// LogDispatch logs a keyword pattern dispatch.
func (rl *RequestLogger) LogDispatch(info *DispatchInfo) {
	rl.logger.Info().
		Str("request_id", info.RequestID).
		Str("pattern", info.Pattern).
		Str("tool", info.Tool).
		Str("outcome", info.Outcome).
		Msg("dispatch")
}

// CacheLookupInfo contains semantic cache lookup information.
type CacheLookupInfo struct {
	RequestID  string
	Model      string
	Hit        bool
	Similarity float64
}

// LogCacheLookup logs a semantic cache lookup.
func (rl *RequestLogger) LogCacheLookup(info *CacheLookupInfo) {
	event := rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("model", info.Model).
		Bool("hit", info.Hit)
	if info.Hit {
		event = event.Float64("similarity", info.Similarity)
	}
	event.Msg("cache_lookup")
}
