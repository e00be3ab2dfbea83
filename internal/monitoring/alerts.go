// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:         Warn when a request exceeds the threshold
//   - FlagCompressionDegraded: Warn when a pipeline run falls back
//   - FlagUpstreamError:       Warn on upstream failures
//   - FlagPanic:               Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates an alert manager. A zero threshold defaults
// to five seconds.
func NewAlertManager(logger *Logger, highLatencyThreshold time.Duration) *AlertManager {
	if highLatencyThreshold == 0 {
		highLatencyThreshold = 5 * time.Second
	}
	return &AlertManager{logger: logger, highLatencyThreshold: highLatencyThreshold}
}

// FlagHighLatency logs when request latency exceeds the threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, model, path string) {
	if latency < am.highLatencyThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("model", model).
		Str("path", path).
		Msg("high_latency")
}

// FlagCompressionDegraded logs a pipeline run that fell back to the
// original text. The failing stage is carried in err.
func (am *AlertManager) FlagCompressionDegraded(requestID, level string, err error) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("level", level).
		Err(err).
		Msg("compression_degraded")
}

// FlagUpstreamError logs an upstream LLM failure.
func (am *AlertManager) FlagUpstreamError(requestID, kind string, statusCode int, errorMsg string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("kind", kind).
		Int("status", statusCode).
		Str("message", errorMsg).
		Msg("upstream_error")
}

// FlagPanic logs a recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}
