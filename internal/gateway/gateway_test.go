package gateway_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/synthlang/proxy/internal/audit"
	"github.com/synthlang/proxy/internal/auth"
	"github.com/synthlang/proxy/internal/config"
	"github.com/synthlang/proxy/internal/embedding"
	"github.com/synthlang/proxy/internal/gateway"
	"github.com/synthlang/proxy/internal/keywords"
	"github.com/synthlang/proxy/internal/llm"
	"github.com/synthlang/proxy/internal/monitoring"
	"github.com/synthlang/proxy/internal/openai"
	"github.com/synthlang/proxy/internal/ratelimit"
	"github.com/synthlang/proxy/internal/semcache"
	"github.com/synthlang/proxy/internal/synthlang"
	"github.com/synthlang/proxy/internal/tools"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeUpstream is an OpenAI-compatible upstream serving /embeddings and
// /chat/completions. Each distinct embedded text gets its own one-hot
// vector, so two requests only look similar to the cache when a test
// maps their canonical texts to the same vector.
type fakeUpstream struct {
	srv *httptest.Server

	mu         sync.Mutex
	chatBodies [][]byte
	embedCalls int
	vectors    map[string][]float32
	nextDim    int

	content    string   // unary response content
	status     int      // unary response status
	chunks     []string // streamed delta contents
	noDone     bool     // end the stream without the [DONE] terminator
	holdStream bool     // hold the stream open after the chunks
	embedFail  bool     // make /embeddings return 500

	clientGone chan struct{} // closed when a held stream sees disconnect
}

func newFakeUpstream() *fakeUpstream {
	f := &fakeUpstream{
		vectors:    make(map[string][]float32),
		content:    "Hello from upstream.",
		status:     http.StatusOK,
		chunks:     []string{"Hel", "lo", "!"},
		clientGone: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", f.handleEmbeddings)
	mux.HandleFunc("/chat/completions", f.handleChat)
	f.srv = httptest.NewServer(mux)
	return f
}

// setVector pins the embedding for text, letting tests make two
// different texts look identical to the cache.
func (f *fakeUpstream) setVector(text string, v []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = v
}

func (f *fakeUpstream) vectorFor(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	v := make([]float32, 64)
	v[f.nextDim%64] = 1
	f.nextDim++
	f.vectors[text] = v
	return v
}

func (f *fakeUpstream) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	input := gjson.GetBytes(body, "input.0").String()

	f.mu.Lock()
	f.embedCalls++
	fail := f.embedFail
	vec := f.vectorFor(input)
	f.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"embeddings exploded","type":"server_error"}}`)
		return
	}

	resp := map[string]any{
		"data": []map[string]any{{"embedding": vec, "index": 0}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeUpstream) handleChat(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.chatBodies = append(f.chatBodies, body)
	status := f.status
	content := f.content
	chunks := f.chunks
	noDone := f.noDone
	hold := f.holdStream
	f.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":"upstream went sideways","type":"server_error"}}`)
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if !gjson.GetBytes(body, "stream").Bool() {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-up","object":"chat.completion","created":1,"model":%q,`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],`+
			`"usage":{"prompt_tokens":7,"completion_tokens":5,"total_tokens":12}}`, model, content)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, c := range chunks {
		fmt.Fprintf(w, `data: {"id":"chatcmpl-up","object":"chat.completion.chunk","created":1,"model":%q,`+
			`"choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`+"\n\n", model, c)
		flusher.Flush()
	}
	if hold {
		select {
		case <-r.Context().Done():
			close(f.clientGone)
		case <-time.After(3 * time.Second):
		}
		return
	}
	if !noDone {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func (f *fakeUpstream) chatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatBodies)
}

func (f *fakeUpstream) lastChatBody() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chatBodies) == 0 {
		return nil
	}
	return f.chatBodies[len(f.chatBodies)-1]
}

func (f *fakeUpstream) embeds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls
}

// captureSink records audit writes for assertions.
type captureSink struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (s *captureSink) Write(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) Close() error { return nil }

// waitFor blocks until n records have been written. The queue drains
// asynchronously, so assertions on audit content must go through here.
func (s *captureSink) waitFor(t *testing.T, n int) []*audit.Record {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.records) >= n
	}, 2*time.Second, 5*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*audit.Record, len(s.records))
	copy(out, s.records)
	return out
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	up       *fakeUpstream
	srv      *httptest.Server
	sink     *captureSink
	cache    *semcache.Cache
	patterns *keywords.Registry
	tools    *tools.Registry
	cfg      *config.Config
	metrics  *monitoring.Metrics
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	up := newFakeUpstream()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			MaxBodyBytes: 1 << 20,
		},
		Upstream: config.UpstreamConfig{
			BaseURL:      up.srv.URL,
			APIKey:       "sk-upstream",
			DefaultModel: "gpt-test",
			Timeout:      5 * time.Second,
		},
		Auth: config.AuthConfig{
			APIKeys:      map[string]string{"sk-alice": "alice", "sk-bob": "bob", "sk-root": "root"},
			DefaultRole:  auth.RoleBasic,
			AdminUsers:   []string{"root"},
			PremiumUsers: []string{"bob"},
		},
		RateLimit: config.RateLimitConfig{DefaultQPM: 600, PremiumQPM: 1200},
		Pipeline:  config.PipelineConfig{Level: config.LevelMedium, GzipThreshold: 5000},
		PII:       config.PIIConfig{MaskInLogs: true},
		Cache: config.CacheConfig{
			SimilarityThreshold: 0.95,
			MaxItems:            100,
			EmbeddingModel:      "text-embedding-3-small",
		},
		Keywords: config.KeywordConfig{Enabled: true, Threshold: 0.7},
		Audit:    config.AuditConfig{Sink: "none", QueueSize: 64},
		Logging:  config.LoggingConfig{Level: "error", Format: "json", Output: "stderr"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	authn, err := auth.New(cfg.Auth)
	require.NoError(t, err)

	logger := monitoring.New(monitoring.LoggerConfig{Level: "error", Format: "json", Output: "stderr"})
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())

	sink := &captureSink{}
	queue := audit.NewQueue(sink, cfg.Audit.QueueSize, logger, metrics)

	h := &harness{
		up:       up,
		sink:     sink,
		cache:    semcache.New(cfg.Cache.MaxItems),
		patterns: keywords.NewRegistry(),
		tools:    tools.NewRegistry(),
		cfg:      cfg,
		metrics:  metrics,
	}

	gw := gateway.New(cfg, gateway.Deps{
		Auth:     authn,
		Limiter:  ratelimit.New(cfg.RateLimit),
		Patterns: h.patterns,
		Tools:    h.tools,
		Stages:   synthlang.NewRegistry(),
		Embedder: embedding.New(cfg.Upstream, cfg.Cache),
		Cache:    h.cache,
		LLM:      llm.New(cfg.Upstream, metrics),
		Audit:    queue,
		Logger:   logger,
		Metrics:  metrics,
	})
	h.srv = httptest.NewServer(gw.Handler())

	t.Cleanup(func() {
		h.srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		up.srv.Close()
	})
	return h
}

// chat posts a chat-completion request and returns the response.
func (h *harness) chat(t *testing.T, token string, body map[string]any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/chat/completions", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func userRequest(text string) map[string]any {
	return map[string]any{
		"model":    "gpt-test",
		"messages": []map[string]any{{"role": "user", "content": text}},
	}
}

func readJSON(t *testing.T, resp *http.Response) gjson.Result {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return gjson.ParseBytes(data)
}

// readSSE collects the data payloads of an SSE response, including the
// [DONE] terminator.
func readSSE(t *testing.T, resp *http.Response) []string {
	t.Helper()
	defer resp.Body.Close()
	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func canonicalFor(model, text string) string {
	return semcache.Canonicalize(model, []openai.Message{
		{Role: openai.RoleUser, Content: openai.TextContent(text)},
	})
}

// =============================================================================
// REQUEST VALIDATION AND GATES
// =============================================================================

func TestChat_Unary(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice", userRequest("Say hello"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readJSON(t, resp)
	assert.Equal(t, "Hello from upstream.", body.Get("choices.0.message.content").String())
	assert.Empty(t, resp.Header.Get("X-Cache-Hit"))

	recs := h.sink.waitFor(t, 1)
	assert.Equal(t, "alice", recs[0].UserID)
	assert.Equal(t, audit.StatusOK, recs[0].Status)
	assert.False(t, recs[0].CacheHit)
	assert.Equal(t, 7, recs[0].PromptTokens)
	assert.Equal(t, 5, recs[0].ResponseTokens)
}

func TestChat_MalformedBody(t *testing.T) {
	h := newHarness(t, nil)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/chat/completions", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer sk-alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "VALIDATION", body.Get("error.type").String())
	assert.NotEmpty(t, body.Get("error.request_id").String())
	assert.Zero(t, h.up.chatCalls())
}

func TestChat_NoMessages(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice", map[string]any{"model": "gpt-test", "messages": []any{}}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", readJSON(t, resp).Get("error.type").String())
}

func TestChat_DefaultModelFilledIn(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, "gpt-test", gjson.GetBytes(h.up.lastChatBody(), "model").String())
}

func TestChat_MissingBearer(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "", userRequest("hi"), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", readJSON(t, resp).Get("error.type").String())
	assert.Zero(t, h.up.chatCalls())
}

func TestChat_UnknownBearer(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-nobody", userRequest("hi"), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

// A request over quota must respond 429 before any downstream work:
// no upstream call, no embedding call.
func TestChat_RateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.RateLimit.DefaultQPM = 2
		cfg.Cache.Enabled = true
	})

	for i := 0; i < 2; i++ {
		resp := h.chat(t, "sk-alice", userRequest(fmt.Sprintf("hello %d", i)), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	calls, embeds := h.up.chatCalls(), h.up.embeds()

	resp := h.chat(t, "sk-alice", userRequest("hello 3"), nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.Equal(t, "RATE_LIMITED", readJSON(t, resp).Get("error.type").String())

	assert.Equal(t, calls, h.up.chatCalls())
	assert.Equal(t, embeds, h.up.embeds())
}

// =============================================================================
// KEYWORD DISPATCH
// =============================================================================

func registerWeather(t *testing.T, h *harness, requiredRole string) {
	t.Helper()
	require.NoError(t, h.tools.Register("weather", func(_ context.Context, inv tools.Invocation) (*tools.Result, error) {
		return tools.Terminal("Weather in "+inv.Params["location"]+": 15°C, cloudy.", nil), nil
	}))
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name:         "weather",
		Pattern:      `(?i)what(?:'s| is) the weather in (?P<location>.+?)\??$`,
		Tool:         "weather",
		Priority:     100,
		RequiredRole: requiredRole,
		Enabled:      true,
	}))
}

func TestDispatch_Terminal(t *testing.T) {
	h := newHarness(t, nil)
	registerWeather(t, h, "")

	resp := h.chat(t, "sk-alice", userRequest("What's the weather in London?"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readJSON(t, resp)
	assert.Equal(t, "Weather in London: 15°C, cloudy.", body.Get("choices.0.message.content").String())
	assert.Equal(t, "chat.completion", body.Get("object").String())

	assert.Zero(t, h.up.chatCalls(), "terminal tool must replace the LLM call")
	recs := h.sink.waitFor(t, 1)
	assert.Equal(t, audit.StatusOK, recs[0].Status)
	assert.Contains(t, recs[0].Response, "Weather in London")
}

// Role gates skip the pattern, they do not reject the request.
func TestDispatch_RoleGateSkipsPattern(t *testing.T) {
	h := newHarness(t, nil)
	registerWeather(t, h, auth.RoleAdmin)

	resp := h.chat(t, "sk-alice", userRequest("What's the weather in London?"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readJSON(t, resp)
	assert.Equal(t, "Hello from upstream.", body.Get("choices.0.message.content").String())
	assert.Equal(t, 1, h.up.chatCalls())
}

func TestDispatch_HigherPriorityWins(t *testing.T) {
	h := newHarness(t, nil)
	for _, name := range []string{"first", "second"} {
		name := name
		require.NoError(t, h.tools.Register(name, func(_ context.Context, _ tools.Invocation) (*tools.Result, error) {
			return tools.Terminal(name, nil), nil
		}))
	}
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name: "low", Pattern: `(?P<q>weather)`, Tool: "second", Priority: 10, Enabled: true,
	}))
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name: "high", Pattern: `(?P<q>weather)`, Tool: "first", Priority: 20, Enabled: true,
	}))

	resp := h.chat(t, "sk-alice", userRequest("weather"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "first", readJSON(t, resp).Get("choices.0.message.content").String())
}

func TestDispatch_AugmentContinuesToLLM(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.tools.Register("ctx.injector", func(_ context.Context, inv tools.Invocation) (*tools.Result, error) {
		return tools.Augment(
			openai.Message{Role: openai.RoleSystem, Content: openai.TextContent("context: lookup done")},
			openai.Message{Role: openai.RoleUser, Content: openai.TextContent(inv.Message)},
		), nil
	}))
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name: "inject", Pattern: `(?P<q>augment me)`, Tool: "ctx.injector", Priority: 1, Enabled: true,
	}))

	resp := h.chat(t, "sk-alice", userRequest("augment me"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Equal(t, 1, h.up.chatCalls())
	msgs := gjson.GetBytes(h.up.lastChatBody(), "messages")
	require.Equal(t, int64(2), msgs.Get("#").Int())
	assert.Equal(t, "system", msgs.Get("0.role").String())
	assert.Equal(t, "context: lookup done", msgs.Get("0.content").String())
}

func TestDispatch_ToolFailureBecomesAssistantMessage(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.tools.Register("broken", func(_ context.Context, _ tools.Invocation) (*tools.Result, error) {
		return nil, fmt.Errorf("backend unavailable")
	}))
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name: "broken", Pattern: `(?P<q>break)`, Tool: "broken", Priority: 1, Enabled: true,
	}))

	resp := h.chat(t, "sk-alice", userRequest("break"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content := readJSON(t, resp).Get("choices.0.message.content").String()
	assert.Contains(t, content, "Tool dispatch failed")
	assert.Zero(t, h.up.chatCalls())
}

func TestDispatch_DisabledPerRequest(t *testing.T) {
	h := newHarness(t, nil)
	registerWeather(t, h, "")

	body := userRequest("What's the weather in London?")
	body["disable_keyword_detection"] = true
	resp := h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, h.up.chatCalls(), "detection off must fall through to the LLM")
}

// Tool handlers get the masked view: neither the triggering message nor
// the captured params may carry raw PII when masking before the LLM is on.
func TestDispatch_ToolSeesMaskedText(t *testing.T) {
	h := newHarness(t, nil)

	var gotMessage, gotParam string
	require.NoError(t, h.tools.Register("notes", func(_ context.Context, inv tools.Invocation) (*tools.Result, error) {
		gotMessage = inv.Message
		gotParam = inv.Params["addr"]
		return tools.Terminal("saved "+inv.Params["addr"], nil), nil
	}))
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name: "notes", Pattern: `note my email (?P<addr>\S+)`, Tool: "notes", Priority: 50, Enabled: true,
	}))

	resp := h.chat(t, "sk-alice",
		userRequest("note my email a@b.co please"),
		map[string]string{"X-Mask-PII-Before-LLM": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readJSON(t, resp)

	assert.NotContains(t, gotMessage, "a@b.co", "tool saw raw PII")
	assert.Contains(t, gotMessage, "⟨EMAIL_1⟩")
	assert.NotContains(t, gotParam, "a@b.co", "captured param carried raw PII")
	assert.Equal(t, "⟨EMAIL_1⟩", gotParam)

	// The caller owns the value: placeholders in tool output are
	// restored at delivery.
	assert.Equal(t, "saved a@b.co", body.Get("choices.0.message.content").String())
}

// An augmenting tool and the later message redaction share one redactor,
// so placeholder numbering stays consistent end to end.
func TestDispatch_AugmentKeepsPlaceholderNumbering(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.tools.Register("notes", func(_ context.Context, inv tools.Invocation) (*tools.Result, error) {
		return tools.Augment(
			openai.Message{Role: openai.RoleUser, Content: openai.TextContent("context: " + inv.Message)},
			openai.Message{Role: openai.RoleUser, Content: openai.TextContent("also reach me at z@y.io")},
		), nil
	}))
	require.NoError(t, h.patterns.Add(keywords.Pattern{
		Name: "notes", Pattern: `note my email`, Tool: "notes", Priority: 50, Enabled: true,
	}))

	resp := h.chat(t, "sk-alice",
		userRequest("note my email a@b.co please"),
		map[string]string{"X-Mask-PII-Before-LLM": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sent := string(h.up.lastChatBody())
	assert.Contains(t, sent, "⟨EMAIL_1⟩", "dispatch-time placeholder survives")
	assert.Contains(t, sent, "⟨EMAIL_2⟩", "second address continues the numbering")
	assert.NotContains(t, sent, "a@b.co")
	assert.NotContains(t, sent, "z@y.io")
}

// =============================================================================
// COMPRESSION AND FLAG RESOLUTION
// =============================================================================

func TestCompression_AppliedToUpstreamMessages(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Pipeline.Enabled = true
	})

	long := strings.Repeat("Please analyze the following function implementation and provide information about performance. ", 4)
	resp := h.chat(t, "sk-alice", userRequest(long), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sent := gjson.GetBytes(h.up.lastChatBody(), "messages.0.content").String()
	assert.NotEqual(t, long, sent)
	assert.Less(t, len(sent), len(long))
}

func TestCompression_BodyOverrideDisables(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Pipeline.Enabled = true
	})

	body := userRequest("Please analyze the following function implementation carefully.")
	body["use_synthlang"] = false
	resp := h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sent := h.up.lastChatBody()
	assert.Equal(t, "Please analyze the following function implementation carefully.",
		gjson.GetBytes(sent, "messages.0.content").String())
}

func TestUpstreamBody_GatewayFieldsStripped(t *testing.T) {
	h := newHarness(t, nil)

	body := userRequest("hi")
	body["use_synthlang"] = false
	body["cache"] = false
	body["synthlang_compression_level"] = "low"
	body["temperature"] = 0.5
	resp := h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sent := h.up.lastChatBody()
	for _, field := range []string{"use_synthlang", "use_gzip", "synthlang_compression_level", "cache", "disable_keyword_detection"} {
		assert.False(t, gjson.GetBytes(sent, field).Exists(), "field %q must not reach the upstream", field)
	}
	assert.Equal(t, 0.5, gjson.GetBytes(sent, "temperature").Float(), "standard fields pass through")
}

// =============================================================================
// PII REDACTION
// =============================================================================

func TestPII_MaskedBeforeLLM(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice",
		userRequest("my email is a@b.co and ssn 123-45-6789"),
		map[string]string{"X-Mask-PII-Before-LLM": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sent := gjson.GetBytes(h.up.lastChatBody(), "messages.0.content").String()
	assert.Contains(t, sent, "⟨EMAIL_1⟩")
	assert.Contains(t, sent, "⟨SSN_1⟩")
	assert.NotContains(t, sent, "a@b.co")
	assert.NotContains(t, sent, "123-45-6789")
}

// When the model echoes a placeholder, the client must see the original
// value restored from the request's own redaction map.
func TestPII_RestoredInResponse(t *testing.T) {
	h := newHarness(t, nil)
	h.up.content = "Noted your email ⟨EMAIL_1⟩."

	resp := h.chat(t, "sk-alice",
		userRequest("my email is a@b.co"),
		map[string]string{"X-Mask-PII-Before-LLM": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readJSON(t, resp)
	assert.Equal(t, "Noted your email a@b.co.", body.Get("choices.0.message.content").String())
}

// mask_in_logs defaults on: the audit record carries placeholders, not
// values.
func TestPII_AuditHonorsMaskInLogs(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice", userRequest("reach me at a@b.co"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	recs := h.sink.waitFor(t, 1)
	assert.NotContains(t, recs[0].Prompt, "a@b.co")
	assert.Contains(t, recs[0].Prompt, "⟨EMAIL_1⟩")
}

func TestPII_HeaderDisablesLogMasking(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice", userRequest("reach me at a@b.co"),
		map[string]string{"X-Mask-PII-In-Logs": "0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	recs := h.sink.waitFor(t, 1)
	assert.Contains(t, recs[0].Prompt, "a@b.co")
}

// =============================================================================
// SEMANTIC CACHE
// =============================================================================

func TestCache_HitOnSimilarRequest(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
		cfg.Cache.SimilarityThreshold = 0.90
	})
	h.up.content = "Paris."

	// Two phrasings of the same question share one embedding vector.
	shared := make([]float32, 64)
	shared[0] = 1
	h.up.setVector(canonicalFor("gpt-test", "What is the capital of France?"), shared)
	h.up.setVector(canonicalFor("gpt-test", "Can you tell me France's capital city?"), shared)

	resp := h.chat(t, "sk-alice", userRequest("What is the capital of France?"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, 1, h.up.chatCalls())

	resp = h.chat(t, "sk-alice", userRequest("Can you tell me France's capital city?"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Cache-Hit"))
	assert.Equal(t, "Paris.", readJSON(t, resp).Get("choices.0.message.content").String())
	assert.Equal(t, 1, h.up.chatCalls(), "cache hit must not call the upstream")

	recs := h.sink.waitFor(t, 2)
	assert.False(t, recs[0].CacheHit)
	assert.True(t, recs[1].CacheHit)
}

func TestCache_DissimilarRequestMisses(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})

	resp := h.chat(t, "sk-alice", userRequest("first question"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Distinct texts get orthogonal one-hot vectors from the fake.
	resp = h.chat(t, "sk-alice", userRequest("completely different topic"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 2, h.up.chatCalls())
}

// Capacity evictions are exported through the eviction counter.
func TestCache_EvictionIncrementsCounter(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
		cfg.Cache.MaxItems = 1
	})

	for _, text := range []string{"first question", "second question", "third question"} {
		resp := h.chat(t, "sk-alice", userRequest(text), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	// Inserts land just before the audit submit, so three records mean
	// all three inserts are done. A one-entry bound evicts twice.
	h.sink.waitFor(t, 3)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.CacheEvictionsTotal))
	assert.Equal(t, int64(2), h.cache.Stats("").Evictions)
}

func TestCache_BypassedOnRequestOptOut(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})

	body := userRequest("hello")
	body["cache"] = false
	resp := h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Zero(t, h.up.embeds(), "cache=false must skip the embedding call")
	assert.Zero(t, h.cache.Stats("").Entries)
}

func TestCache_ToolTerminalNotCached(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})
	registerWeather(t, h, "")

	resp := h.chat(t, "sk-alice", userRequest("What's the weather in London?"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Zero(t, h.cache.Stats("").Entries)
	assert.Zero(t, h.up.embeds())
}

// A streamed request serves cache hits as one simulated chunk.
func TestCache_StreamedHitIsSingleChunk(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})
	h.up.content = "Cached answer."

	resp := h.chat(t, "sk-alice", userRequest("warm me up"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	body := userRequest("warm me up")
	body["stream"] = true
	resp = h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Cache-Hit"))
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readSSE(t, resp)
	require.Len(t, frames, 2)
	assert.Equal(t, "Cached answer.", gjson.Get(frames[0], "choices.0.delta.content").String())
	assert.Equal(t, "[DONE]", frames[1])
}

// Embedding failures must degrade to a miss, not fail the request.
func TestCache_EmbeddingFailureDegradesToMiss(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})
	h.up.embedFail = true

	resp := h.chat(t, "sk-alice", userRequest("hello"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello from upstream.", readJSON(t, resp).Get("choices.0.message.content").String())
	assert.Zero(t, h.cache.Stats("").Entries, "no vector means no insert")
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStream_Passthrough(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})

	body := userRequest("stream please")
	body["stream"] = true
	resp := h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readSSE(t, resp)
	require.Len(t, frames, 4)
	var got strings.Builder
	for _, f := range frames[:3] {
		got.WriteString(gjson.Get(f, "choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello!", got.String())
	assert.Equal(t, "[DONE]", frames[3])

	// The assembled completion is cached at clean stream end.
	require.Eventually(t, func() bool {
		return h.cache.Stats("").Entries == 1
	}, 2*time.Second, 5*time.Millisecond)

	recs := h.sink.waitFor(t, 1)
	assert.Equal(t, audit.StatusOK, recs[0].Status)
	assert.Equal(t, "Hello!", recs[0].Response)
}

// S3: the client walks away mid-stream. The upstream connection must
// close promptly, nothing is cached, and the audit says aborted.
func TestStream_ClientCancel(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})
	h.up.chunks = []string{"partial"}
	h.up.holdStream = true

	body := userRequest("slow stream")
	body["stream"] = true
	data, err := json.Marshal(body)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.srv.URL+"/v1/chat/completions", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// Read the first frame, then hang up.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			break
		}
	}
	cancel()
	resp.Body.Close()

	select {
	case <-h.up.clientGone:
	case <-time.After(time.Second):
		t.Fatal("upstream connection stayed open past 1s after client disconnect")
	}

	recs := h.sink.waitFor(t, 1)
	assert.Equal(t, audit.StatusAborted, recs[0].Status)
	assert.Zero(t, h.cache.Stats("").Entries, "partial responses must never be cached")
}

// A stream that dies after frames went out ends with an SSE error
// frame, and nothing is cached.
func TestStream_UpstreamTruncation(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})
	h.up.noDone = true

	body := userRequest("truncate me")
	body["stream"] = true
	resp := h.chat(t, "sk-alice", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readSSE(t, resp)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.NotEqual(t, "[DONE]", last)
	assert.Equal(t, "UPSTREAM_CONNECTION", gjson.Get(last, "error.type").String())

	recs := h.sink.waitFor(t, 1)
	assert.Equal(t, audit.StatusError, recs[0].Status)
	assert.Zero(t, h.cache.Stats("").Entries)
}

// =============================================================================
// UPSTREAM ERRORS
// =============================================================================

func TestUpstream_ServerErrorMapsTo502(t *testing.T) {
	h := newHarness(t, nil)
	h.up.status = http.StatusInternalServerError

	resp := h.chat(t, "sk-alice", userRequest("hi"), nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := readJSON(t, resp)
	assert.Contains(t, body.Get("error.message").String(), "upstream went sideways")

	// 5xx is retried exactly once.
	assert.Equal(t, 2, h.up.chatCalls())

	recs := h.sink.waitFor(t, 1)
	assert.Equal(t, audit.StatusError, recs[0].Status)
}

func TestUpstream_AuthErrorNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.up.status = http.StatusUnauthorized

	resp := h.chat(t, "sk-alice", userRequest("hi"), nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_AUTH", readJSON(t, resp).Get("error.type").String())
	assert.Equal(t, 1, h.up.chatCalls())
}

// =============================================================================
// ADMIN AND DEBUG SURFACE
// =============================================================================

func TestCacheStats_RequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/v1/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer sk-alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", readJSON(t, resp).Get("error.type").String())

	req, _ = http.NewRequest(http.MethodGet, h.srv.URL+"/v1/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer sk-root")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCacheClear_Admin(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})

	resp := h.chat(t, "sk-alice", userRequest("warm the cache"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, 1, h.cache.Stats("").Entries)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/cache/clear", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer sk-root")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, int64(1), readJSON(t, resp2).Get("cleared").Int())
	assert.Zero(t, h.cache.Stats("").Entries)
}

func TestCompressEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	payload := `{"text":"Please analyze the following function implementation and provide details.","level":"low"}`
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/synthlang/compress", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer sk-alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "low", body.Get("level").String())
	assert.NotEmpty(t, body.Get("output").String())
	assert.Greater(t, body.Get("original_chars").Int(), body.Get("output_chars").Int())
	assert.Positive(t, body.Get("original_tokens").Int())
}

func TestHealth_NoAuth(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readJSON(t, resp).Get("status").String())
}

func TestRequestID_EchoedAndGenerated(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "sk-alice", userRequest("hi"), map[string]string{"X-Request-ID": "req-42"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	resp = h.chat(t, "sk-alice", userRequest("hi again"), nil)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
