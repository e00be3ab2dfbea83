package openai_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthlang/proxy/internal/openai"
)

func validRequest() *openai.ChatRequest {
	return &openai.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []openai.Message{
			{Role: "user", Content: openai.TextContent("hello")},
		},
	}
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseChatRequest_GatewayFields(t *testing.T) {
	body := `{
		"model": "gpt-4o-mini",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.7,
		"stream": true,
		"use_synthlang": false,
		"use_gzip": true,
		"synthlang_compression_level": "high",
		"cache": false,
		"disable_keyword_detection": true
	}`

	req, err := openai.ParseChatRequest([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)
	assert.True(t, req.Stream)

	require.NotNil(t, req.UseSynthLang)
	assert.False(t, *req.UseSynthLang)
	require.NotNil(t, req.UseGzip)
	assert.True(t, *req.UseGzip)
	assert.Equal(t, "high", req.CompressionLevel)
	require.NotNil(t, req.Cache)
	assert.False(t, *req.Cache)
	require.NotNil(t, req.DisableKeywords)
	assert.True(t, *req.DisableKeywords)
}

func TestParseChatRequest_AbsentTogglesAreNil(t *testing.T) {
	req, err := openai.ParseChatRequest([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`))
	require.NoError(t, err)

	assert.Nil(t, req.UseSynthLang)
	assert.Nil(t, req.UseGzip)
	assert.Nil(t, req.Cache)
	assert.Nil(t, req.DisableKeywords)
	assert.Nil(t, req.Temperature)
	assert.Nil(t, req.TopP)
	assert.Nil(t, req.N)
}

func TestParseChatRequest_MalformedJSON(t *testing.T) {
	_, err := openai.ParseChatRequest([]byte(`{"model": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request body")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestChatRequest_Validate_OK(t *testing.T) {
	assert.NoError(t, validRequest().Validate())
}

func TestChatRequest_Validate_Failures(t *testing.T) {
	temp := func(v float64) *float64 { return &v }
	n := func(v int) *int { return &v }

	tests := []struct {
		name    string
		mutate  func(*openai.ChatRequest)
		wantErr string
	}{
		{"missing model", func(r *openai.ChatRequest) { r.Model = "" }, "model"},
		{"no messages", func(r *openai.ChatRequest) { r.Messages = nil }, "messages"},
		{"bad role", func(r *openai.ChatRequest) { r.Messages[0].Role = "wizard" }, "role"},
		{"temperature low", func(r *openai.ChatRequest) { r.Temperature = temp(-0.1) }, "temperature"},
		{"temperature high", func(r *openai.ChatRequest) { r.Temperature = temp(2.1) }, "temperature"},
		{"top_p zero", func(r *openai.ChatRequest) { r.TopP = temp(0) }, "top_p"},
		{"top_p high", func(r *openai.ChatRequest) { r.TopP = temp(1.5) }, "top_p"},
		{"n zero", func(r *openai.ChatRequest) { r.N = n(0) }, "n must"},
		{"bad level", func(r *openai.ChatRequest) { r.CompressionLevel = "extreme" }, "synthlang_compression_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChatRequest_Validate_BoundaryValues(t *testing.T) {
	req := validRequest()
	zero := 0.0
	two := 2.0
	one := 1.0
	req.Temperature = &zero
	assert.NoError(t, req.Validate())
	req.Temperature = &two
	assert.NoError(t, req.Validate())
	req.TopP = &one
	assert.NoError(t, req.Validate())
}

// =============================================================================
// DISPATCH TEXT
// =============================================================================

func TestChatRequest_DispatchText(t *testing.T) {
	req := &openai.ChatRequest{
		Model: "m",
		Messages: []openai.Message{
			{Role: "system", Content: openai.TextContent("be helpful")},
			{Role: "user", Content: openai.TextContent("what's the weather in Paris?")},
		},
	}

	text, ok := req.DispatchText()
	require.True(t, ok)
	assert.Equal(t, "what's the weather in Paris?", text)
}

func TestChatRequest_DispatchText_ToolRole(t *testing.T) {
	req := &openai.ChatRequest{
		Model: "m",
		Messages: []openai.Message{
			{Role: "tool", Content: openai.TextContent("result: 42")},
		},
	}

	text, ok := req.DispatchText()
	require.True(t, ok)
	assert.Equal(t, "result: 42", text)
}

func TestChatRequest_DispatchText_AssistantLast(t *testing.T) {
	req := &openai.ChatRequest{
		Model: "m",
		Messages: []openai.Message{
			{Role: "user", Content: openai.TextContent("hi")},
			{Role: "assistant", Content: openai.TextContent("hello!")},
		},
	}

	_, ok := req.DispatchText()
	assert.False(t, ok)
}

func TestChatRequest_DispatchText_NoMessages(t *testing.T) {
	req := &openai.ChatRequest{Model: "m"}

	_, ok := req.DispatchText()
	assert.False(t, ok)
	assert.Nil(t, req.LastMessage())
}
