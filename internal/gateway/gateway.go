// Package gateway is the HTTP front door of the SynthLang proxy.
//
// DESIGN: One Gateway owns the ServeMux, the middleware chain, and the
// pipeline components. Every chat completion runs the same ordered
// pipeline; everything after rate limiting is best-effort: compression
// degrades to the original text, redaction and caching degrade to
// pass-through, and only the upstream call itself can fail a request.
//
// FLOW (chat completions):
//  1. Parse and validate the body
//  2. Authenticate the bearer key
//  3. Admit through the per-user rate limiter
//  4. Resolve effective flags (env defaults, then headers, then body)
//  5. Keyword dispatch: a matched pattern can answer the request
//     outright, augment the transcript, or stream a tool response
//  6. Compress user and system messages through the SynthLang pipeline
//  7. Redact PII when masking before the LLM is on
//  8. Semantic cache lookup over the canonical embedding
//  9. Upstream call (unary or SSE streaming)
// 10. Cache insert, audit submit, respond
//
// FILES:
//   - gateway.go:    Gateway, Deps, routes, Start/Shutdown
//   - middleware.go: request ID propagation, logging, panic recovery
//   - flags.go:      per-request flag resolution
//   - chat.go:       the chat completion pipeline
//   - stream.go:     SSE writing for upstream, cached, and tool streams
//   - handlers.go:   compress/decompress, cache admin, models, health
//   - errors.go:     error envelope and taxonomy mapping
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synthlang/proxy/internal/audit"
	"github.com/synthlang/proxy/internal/auth"
	"github.com/synthlang/proxy/internal/config"
	"github.com/synthlang/proxy/internal/embedding"
	"github.com/synthlang/proxy/internal/keywords"
	"github.com/synthlang/proxy/internal/llm"
	"github.com/synthlang/proxy/internal/monitoring"
	"github.com/synthlang/proxy/internal/ratelimit"
	"github.com/synthlang/proxy/internal/semcache"
	"github.com/synthlang/proxy/internal/synthlang"
	"github.com/synthlang/proxy/internal/tools"
)

// Request and response headers the gateway understands.
const (
	HeaderRequestID        = "X-Request-ID"
	HeaderCacheHit         = "X-Cache-Hit"
	HeaderMaskPIIBeforeLLM = "X-Mask-PII-Before-LLM"
	HeaderMaskPIIInLogs    = "X-Mask-PII-In-Logs"
)

// Deps bundles the pipeline components the gateway orchestrates.
type Deps struct {
	Auth     *auth.Authenticator
	Limiter  *ratelimit.Limiter
	Patterns *keywords.Registry
	Tools    *tools.Registry
	Stages   *synthlang.Registry
	Embedder *embedding.Client
	Cache    *semcache.Cache
	LLM      *llm.Client
	Audit    *audit.Queue
	Logger   *monitoring.Logger
	Metrics  *monitoring.Metrics
}

// Gateway serves the OpenAI-compatible HTTP surface.
type Gateway struct {
	cfg      *config.Config
	auth     *auth.Authenticator
	limiter  *ratelimit.Limiter
	patterns *keywords.Registry
	tools    *tools.Registry
	stages   *synthlang.Registry
	embedder *embedding.Client
	cache    *semcache.Cache
	llm      *llm.Client
	audit    *audit.Queue

	logger        *monitoring.Logger
	metrics       *monitoring.Metrics
	requestLogger *monitoring.RequestLogger
	alerts        *monitoring.AlertManager

	mux        *http.ServeMux
	httpServer *http.Server
}

// New wires the gateway from its configuration and dependencies.
func New(cfg *config.Config, deps Deps) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		auth:     deps.Auth,
		limiter:  deps.Limiter,
		patterns: deps.Patterns,
		tools:    deps.Tools,
		stages:   deps.Stages,
		embedder: deps.Embedder,
		cache:    deps.Cache,
		llm:      deps.LLM,
		audit:    deps.Audit,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	g.cache.OnEvict(g.metrics.CacheEvictionsTotal.Inc)
	g.requestLogger = monitoring.NewRequestLogger(deps.Logger)
	g.alerts = monitoring.NewAlertManager(deps.Logger, 0)
	g.mux = http.NewServeMux()
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	g.mux.HandleFunc("/v1/synthlang/compress", g.handleCompress)
	g.mux.HandleFunc("/v1/synthlang/decompress", g.handleDecompress)
	g.mux.HandleFunc("/v1/cache/stats", g.handleCacheStats)
	g.mux.HandleFunc("/v1/cache/clear", g.handleCacheClear)
	g.mux.HandleFunc("/v1/models", g.handleModels)
	g.mux.HandleFunc("/health", g.handleHealth)
	g.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the middleware-wrapped root handler.
func (g *Gateway) Handler() http.Handler {
	return g.loggingMiddleware(g.panicRecovery(g.mux))
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (g *Gateway) Start() error {
	g.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", g.cfg.Server.Host, g.cfg.Server.Port),
		Handler:      g.Handler(),
		ReadTimeout:  g.cfg.Server.ReadTimeout,
		WriteTimeout: g.cfg.Server.WriteTimeout,
	}
	return g.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, then the audit queue.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var firstErr error
	if g.httpServer != nil {
		if err := g.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if g.audit != nil {
		if err := g.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// authenticate resolves the request's principal, or writes 401 and
// returns nil.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) *auth.Principal {
	principal, err := g.auth.Authenticate(bearerToken(r))
	if err != nil {
		g.writeError(w, r, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
		return nil
	}
	return principal
}

// requireAdmin authenticates and enforces the admin role, or writes
// the appropriate error and returns nil.
func (g *Gateway) requireAdmin(w http.ResponseWriter, r *http.Request) *auth.Principal {
	principal := g.authenticate(w, r)
	if principal == nil {
		return nil
	}
	if !principal.HasRole(auth.RoleAdmin) {
		g.writeError(w, r, http.StatusForbidden, CodeForbidden, "admin role required")
		return nil
	}
	return principal
}
