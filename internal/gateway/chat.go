// Package gateway - chat.go runs the chat-completion pipeline.
//
// DESIGN: handleChatCompletions walks the stages in a fixed order and
// each stage either finishes the request (dispatch, cache hit, error)
// or hands the enriched chatContext to the next one. Everything after
// rate limiting is best-effort: compression degrades to the original
// text, embedding failures degrade to a cache miss, and only the
// upstream call itself fails the request.
//
// The cache stores upstream bodies exactly as received, placeholders
// included. Restoration happens at delivery with the requesting
// principal's own redaction map, so a cache hit can never leak one
// caller's values to another.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/synthlang/proxy/internal/audit"
	"github.com/synthlang/proxy/internal/auth"
	"github.com/synthlang/proxy/internal/keywords"
	"github.com/synthlang/proxy/internal/llm"
	"github.com/synthlang/proxy/internal/monitoring"
	"github.com/synthlang/proxy/internal/openai"
	"github.com/synthlang/proxy/internal/pii"
	"github.com/synthlang/proxy/internal/semcache"
	"github.com/synthlang/proxy/internal/synthlang"
	"github.com/synthlang/proxy/internal/tokens"
	"github.com/synthlang/proxy/internal/tools"
)

// chatContext carries one request's pipeline state between stages.
type chatContext struct {
	requestID string
	principal *auth.Principal
	flags     Flags
	req       *openai.ChatRequest
	rawBody   []byte

	// prompt is the role-tagged transcript captured before compression
	// and redaction, the form the audit record is built from.
	prompt string

	// red is non-nil once PII masking before the LLM has run.
	red *pii.Redactor

	// vector and digest are set when the canonical embedding succeeded;
	// a nil vector disables both lookup and insert for this request.
	vector []float32
	digest []byte
}

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
		return
	}

	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	req, err := openai.ParseChatRequest(body)
	if err != nil {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	if req.Model == "" {
		req.Model = g.cfg.Upstream.DefaultModel
	}
	if err := req.Validate(); err != nil {
		g.writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	principal := g.authenticate(w, r)
	if principal == nil {
		return
	}

	premium := principal.HasRole(auth.RolePremium)
	quota := g.limiter.QuotaFor(premium, principal.QuotaQPM)
	if !g.limiter.Admit(principal.UserID, quota) {
		role := auth.RoleBasic
		if premium {
			role = auth.RolePremium
		}
		g.metrics.RateLimitedTotal.WithLabelValues(role).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(g.limiter.RetryAfter(principal.UserID, quota))))
		g.writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
		return
	}

	cc := &chatContext{
		requestID: monitoring.RequestIDFromContext(r.Context()),
		principal: principal,
		flags:     g.resolveFlags(r, req),
		req:       req,
		rawBody:   body,
	}

	if cc.flags.Keywords {
		if g.dispatchKeyword(w, r, cc) {
			return
		}
	}

	cc.prompt = transcript(req.Messages)

	if cc.flags.UseSynthLang {
		g.compressMessages(cc)
	}
	if cc.flags.MaskBeforeLLM {
		g.redactMessages(cc)
	}

	if cc.flags.Cache {
		if g.serveCached(w, r, cc) {
			return
		}
	}

	upstreamBody, err := buildUpstreamBody(cc)
	if err != nil {
		g.writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to build upstream request")
		return
	}
	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID:  cc.requestID,
		Model:      req.Model,
		TargetURL:  g.cfg.Upstream.BaseURL,
		BodySize:   len(upstreamBody),
		Streaming:  req.Stream,
		Compressed: cc.flags.UseSynthLang,
	})

	if req.Stream {
		g.streamUpstream(w, r, cc, upstreamBody)
		return
	}
	g.completeUnary(w, r, cc, upstreamBody)
}

// retryAfterSeconds renders a wait as whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ===== KEYWORD DISPATCH =====

// dispatchKeyword matches the last user or tool message against the
// pattern registry and runs the bound tool. Reports whether the
// request was fully answered here.
func (g *Gateway) dispatchKeyword(w http.ResponseWriter, r *http.Request, cc *chatContext) bool {
	text, ok := cc.req.DispatchText()
	if !ok {
		return false
	}
	m := g.patterns.Match(text, cc.principal)
	if m == nil {
		return false
	}

	// Tool handlers get the same masked view the upstream would. The
	// redactor is kept on the context so later message redaction reuses
	// the same placeholder numbering.
	if cc.flags.MaskBeforeLLM {
		red := pii.NewRedactor()
		cc.red = red
		text = red.Redact(text)
		for k, v := range m.Params {
			m.Params[k] = red.Redact(v)
		}
	}

	res, err := g.tools.Dispatch(r.Context(), m.Tool, m.Params, cc.principal, text)
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			g.dispatchOutcome(cc, m, "forbidden")
			g.writeError(w, r, http.StatusForbidden, CodeForbidden, err.Error())
			return true
		}
		g.dispatchOutcome(cc, m, "failure")
		cc.prompt = transcript(cc.req.Messages)
		g.respondSynthesized(w, r, cc, fmt.Sprintf("Tool dispatch failed: %v", err))
		return true
	}

	switch res.Kind {
	case tools.KindTerminal:
		g.dispatchOutcome(cc, m, "terminal")
		cc.prompt = transcript(cc.req.Messages)
		g.respondSynthesized(w, r, cc, res.Content)
		return true
	case tools.KindAugment:
		g.dispatchOutcome(cc, m, "augment")
		cc.req.Messages = res.Messages
		return false
	case tools.KindStream:
		g.dispatchOutcome(cc, m, "stream")
		cc.prompt = transcript(cc.req.Messages)
		g.streamToolChunks(w, r, cc, res.Stream)
		return true
	default:
		g.dispatchOutcome(cc, m, "failure")
		cc.prompt = transcript(cc.req.Messages)
		g.respondSynthesized(w, r, cc, fmt.Sprintf("Tool dispatch failed: unknown result kind %d", res.Kind))
		return true
	}
}

func (g *Gateway) dispatchOutcome(cc *chatContext, m *keywords.MatchResult, outcome string) {
	g.metrics.ToolDispatchTotal.WithLabelValues(m.Tool, outcome).Inc()
	g.requestLogger.LogDispatch(&monitoring.DispatchInfo{
		RequestID: cc.requestID,
		Pattern:   m.PatternName,
		Tool:      m.Tool,
		Outcome:   outcome,
	})
}

// ===== COMPRESSION AND REDACTION =====

// compressMessages runs user and system message content through the
// SynthLang pipeline. Degraded runs keep the original text.
func (g *Gateway) compressMessages(cc *chatContext) {
	pipe, err := synthlang.NewPipeline(g.stages, cc.flags.Level, cc.flags.UseGzip, g.cfg.Pipeline.GzipThreshold)
	if err != nil {
		g.metrics.CompressionDegraded.Inc()
		g.alerts.FlagCompressionDegraded(cc.requestID, cc.flags.Level, err)
		return
	}

	start := time.Now()
	var inChars, outChars, count int
	degraded := false

	for i := range cc.req.Messages {
		role := cc.req.Messages[i].Role
		if role != openai.RoleUser && role != openai.RoleSystem {
			continue
		}
		count++
		cc.req.Messages[i].Content = cc.req.Messages[i].Content.MapText(func(text string) string {
			res := pipe.Compress(text)
			inChars += utf8.RuneCountInString(text)
			outChars += utf8.RuneCountInString(res.Output)
			if res.Degraded {
				degraded = true
				g.metrics.CompressionDegraded.Inc()
				g.alerts.FlagCompressionDegraded(cc.requestID, cc.flags.Level, res.Err)
			}
			return res.Output
		})
	}

	g.metrics.CompressionInChars.Add(float64(inChars))
	g.metrics.CompressionOutChars.Add(float64(outChars))
	g.requestLogger.LogCompression(&monitoring.CompressionInfo{
		RequestID:     cc.requestID,
		Level:         cc.flags.Level,
		Messages:      count,
		OriginalChars: inChars,
		OutputChars:   outChars,
		Degraded:      degraded,
		Duration:      time.Since(start),
	})
}

// redactMessages masks PII in user and system message content and
// retains the mapping for restoration at delivery. A redactor already
// created during dispatch is reused so placeholders stay numbered
// consistently across the request.
func (g *Gateway) redactMessages(cc *chatContext) {
	red := cc.red
	if red == nil {
		red = pii.NewRedactor()
	}
	for i := range cc.req.Messages {
		role := cc.req.Messages[i].Role
		if role != openai.RoleUser && role != openai.RoleSystem {
			continue
		}
		cc.req.Messages[i].Content = cc.req.Messages[i].Content.MapText(red.Redact)
	}
	for cat, n := range red.CountsByCategory() {
		g.metrics.PIIRedactionsTotal.WithLabelValues(string(cat)).Add(float64(n))
	}
	cc.red = red
}

// ===== SEMANTIC CACHE =====

// serveCached embeds the canonical request and answers from the cache
// on a sufficiently similar entry. Reports whether the request was
// served. Embedding failures leave cc.vector nil and degrade to a
// miss; the later insert is skipped too.
func (g *Gateway) serveCached(w http.ResponseWriter, r *http.Request, cc *chatContext) bool {
	canonical := semcache.Canonicalize(cc.req.Model, cc.req.Messages)
	vector, err := g.embedder.Embed(r.Context(), canonical)
	if err != nil {
		g.metrics.CacheFailuresTotal.Inc()
		g.logger.Warn().
			Str("request_id", cc.requestID).
			Err(err).
			Msg("embedding failed, bypassing cache")
		return false
	}
	cc.vector = vector
	cc.digest = semcache.Digest(canonical)

	hit := g.cache.Lookup(cc.req.Model, vector, g.cfg.Cache.SimilarityThreshold)
	if hit == nil {
		g.metrics.CacheMissesTotal.WithLabelValues(cc.req.Model).Inc()
		g.requestLogger.LogCacheLookup(&monitoring.CacheLookupInfo{
			RequestID: cc.requestID,
			Model:     cc.req.Model,
		})
		return false
	}

	g.metrics.CacheHitsTotal.WithLabelValues(cc.req.Model).Inc()
	g.requestLogger.LogCacheLookup(&monitoring.CacheLookupInfo{
		RequestID:  cc.requestID,
		Model:      cc.req.Model,
		Hit:        true,
		Similarity: hit.Similarity,
	})

	w.Header().Set(HeaderCacheHit, "true")
	content := gjson.GetBytes(hit.Response, "choices.0.message.content").String()
	if cc.req.Stream {
		g.streamSingleChunk(w, cc.req.Model, restoreText(content, cc.red))
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.Write(restoreBody(hit.Response, cc.red))
	}

	pt, rt := g.tokenCounts(cc, hit.Response, content)
	g.submitAudit(cc, content, true, audit.StatusOK, pt, rt)
	return true
}

// ===== UPSTREAM =====

// buildUpstreamBody prepares the proxied payload: the gateway-only
// fields are stripped and the transformed messages replace the
// originals. Unrecognized top-level fields pass through untouched.
func buildUpstreamBody(cc *chatContext) ([]byte, error) {
	out := cc.rawBody
	var err error
	for _, field := range openai.GatewayFields {
		if out, err = sjson.DeleteBytes(out, field); err != nil {
			return nil, fmt.Errorf("stripping %s: %w", field, err)
		}
	}
	msgs, err := json.Marshal(cc.req.Messages)
	if err != nil {
		return nil, fmt.Errorf("encoding messages: %w", err)
	}
	if out, err = sjson.SetRawBytes(out, "messages", msgs); err != nil {
		return nil, fmt.Errorf("replacing messages: %w", err)
	}
	if cc.req.Model != gjson.GetBytes(out, "model").String() {
		if out, err = sjson.SetBytes(out, "model", cc.req.Model); err != nil {
			return nil, fmt.Errorf("setting model: %w", err)
		}
	}
	return out, nil
}

// completeUnary proxies a unary completion and finishes the request.
func (g *Gateway) completeUnary(w http.ResponseWriter, r *http.Request, cc *chatContext, upstreamBody []byte) {
	start := time.Now()
	respBody, err := g.llm.Complete(r.Context(), upstreamBody)
	g.metrics.LLMRequestDuration.WithLabelValues(cc.req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		g.failUpstream(w, r, cc, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(restoreBody(respBody, cc.red))

	content := gjson.GetBytes(respBody, "choices.0.message.content").String()
	if cc.flags.Cache && cc.vector != nil {
		g.cache.Insert(cc.req.Model, cc.vector, cc.digest, respBody)
	}
	pt, rt := g.tokenCounts(cc, respBody, content)
	g.submitAudit(cc, content, false, audit.StatusOK, pt, rt)
}

// failUpstream maps an upstream failure onto the response and records
// it.
func (g *Gateway) failUpstream(w http.ResponseWriter, r *http.Request, cc *chatContext, err error) {
	status, code := upstreamError(err)
	var ue *llm.Error
	if errors.As(err, &ue) {
		g.alerts.FlagUpstreamError(cc.requestID, string(ue.Kind), ue.StatusCode, ue.Message)
	} else {
		g.alerts.FlagUpstreamError(cc.requestID, "internal", 0, err.Error())
	}
	g.writeError(w, r, status, code, err.Error())
	g.submitAudit(cc, "", false, audit.StatusError, 0, 0)
}

// ===== RESPONSES AND AUDIT =====

// respondSynthesized answers with a gateway-built completion (tool
// output, dispatch failures), honoring the requested wire shape.
// Placeholders in tool output are restored at delivery; the audit
// submit gets the masked form and applies its own log policy.
func (g *Gateway) respondSynthesized(w http.ResponseWriter, r *http.Request, cc *chatContext, content string) {
	delivered := restoreText(content, cc.red)
	if cc.req.Stream {
		g.streamSingleChunk(w, cc.req.Model, delivered)
	} else {
		completion := openai.NewCompletion(cc.req.Model, delivered)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion)
	}

	counter := tokens.ForModel(cc.req.Model)
	g.submitAudit(cc, content, false, audit.StatusOK,
		counter.CountMessages(cc.req.Messages), counter.Count(content))
}

// restoreText substitutes the caller's own values for placeholders.
func restoreText(text string, red *pii.Redactor) string {
	if red == nil {
		return text
	}
	return red.Restore(text)
}

// restoreBody rewrites every choice's message content with
// placeholders restored. The body is returned unchanged when nothing
// was redacted.
func restoreBody(body []byte, red *pii.Redactor) []byte {
	if red == nil || red.Count() == 0 {
		return body
	}
	out := body
	gjson.GetBytes(body, "choices").ForEach(func(idx, choice gjson.Result) bool {
		content := choice.Get("message.content")
		if !content.Exists() || content.String() == "" {
			return true
		}
		restored := red.Restore(content.String())
		if restored != content.String() {
			out, _ = sjson.SetBytes(out, "choices."+idx.String()+".message.content", restored)
		}
		return true
	})
	return out
}

// tokenCounts reads upstream usage accounting, falling back to a local
// estimate when the body carries none.
func (g *Gateway) tokenCounts(cc *chatContext, respBody []byte, content string) (promptTokens, responseTokens int) {
	usage := gjson.GetBytes(respBody, "usage")
	if usage.Exists() {
		return int(usage.Get("prompt_tokens").Int()), int(usage.Get("completion_tokens").Int())
	}
	counter := tokens.ForModel(cc.req.Model)
	return counter.CountMessages(cc.req.Messages), counter.Count(content)
}

// submitAudit queues the request's audit record. The stored texts
// honor mask_in_logs: masked when on, restored to original values when
// off.
func (g *Gateway) submitAudit(cc *chatContext, response string, cacheHit bool, status audit.Status, promptTokens, responseTokens int) {
	prompt := cc.prompt
	if cc.flags.MaskInLogs {
		red := cc.red
		if red == nil {
			red = pii.NewRedactor()
		}
		prompt = red.Redact(prompt)
		response = red.Redact(response)
	} else if cc.red != nil {
		response = cc.red.Restore(response)
	}

	g.audit.Submit(&audit.Record{
		RequestID:      cc.requestID,
		UserID:         cc.principal.UserID,
		Model:          cc.req.Model,
		Prompt:         prompt,
		Response:       response,
		CacheHit:       cacheHit,
		PromptTokens:   promptTokens,
		ResponseTokens: responseTokens,
		Status:         status,
	})
}

// transcript renders messages as role-tagged lines for the audit
// record.
func transcript(messages []openai.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content.Text())
		b.WriteString("\n")
	}
	return b.String()
}
