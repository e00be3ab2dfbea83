// Package audit persists one record per completed chat request.
//
// DESIGN: The request path never blocks on persistence:
//   - Submit hands the record to a bounded queue; on overflow the
//     oldest pending record is dropped and counted
//   - a single consumer goroutine owns the sink, so sinks need no
//     internal locking
//   - sink errors are logged, never surfaced to the request
//   - Close stops intake, drains what is queued, then closes the sink
//
// Prompt and response text arrive already masked when the redaction
// settings say logs must be masked; the sink stores what it is given.
//
// FILES:
//   - audit.go:  Record, Sink interface, stdout and discard sinks
//   - queue.go:  bounded write-behind queue with drop-oldest overflow
//   - sqlite.go: SQLite sink with auto-created schema
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/synthlang/proxy/internal/config"
)

// Status records how the request concluded.
type Status string

const (
	StatusOK      Status = "ok"
	StatusAborted Status = "aborted" // client went away mid-stream
	StatusError   Status = "error"
)

// Record is one audited request/response exchange.
type Record struct {
	RequestID      string
	UserID         string
	Model          string
	Prompt         string
	Response       string
	CacheHit       bool
	PromptTokens   int
	ResponseTokens int
	Status         Status
	Timestamp      time.Time
}

// Sink persists records. Write is only ever called from the queue's
// consumer goroutine.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
	Close() error
}

// NewSink builds the sink named by the configuration.
func NewSink(cfg config.AuditConfig) (Sink, error) {
	switch cfg.Sink {
	case "sqlite":
		return NewSQLiteSink(cfg.DBPath)
	case "stdout":
		return NewStdoutSink(nil), nil
	case "none":
		return NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}
}

// StdoutSink emits one JSON line per record.
type StdoutSink struct {
	log zerolog.Logger
}

// NewStdoutSink writes records to w, or os.Stdout when w is nil.
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{log: zerolog.New(w).With().Timestamp().Logger()}
}

func (s *StdoutSink) Write(ctx context.Context, rec *Record) error {
	s.log.Info().
		Str("request_id", rec.RequestID).
		Str("user_id", rec.UserID).
		Str("model", rec.Model).
		Str("prompt", rec.Prompt).
		Str("response", rec.Response).
		Bool("cache_hit", rec.CacheHit).
		Int("prompt_tokens", rec.PromptTokens).
		Int("response_tokens", rec.ResponseTokens).
		Str("status", string(rec.Status)).
		Time("at", rec.Timestamp).
		Msg("audit")
	return nil
}

func (s *StdoutSink) Close() error { return nil }

// NopSink discards all records.
type NopSink struct{}

func (NopSink) Write(context.Context, *Record) error { return nil }
func (NopSink) Close() error                         { return nil }
