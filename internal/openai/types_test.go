package openai_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthlang/proxy/internal/openai"
)

// =============================================================================
// CONTENT UNION
// =============================================================================

func TestContent_UnmarshalString(t *testing.T) {
	var m openai.Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m))

	assert.False(t, m.Content.Structured())
	assert.Equal(t, "hello", m.Content.Text())
}

func TestContent_UnmarshalParts(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"text","text":"describe this"},
		{"type":"image_url","image_url":{"url":"https://example.com/x.png"}},
		{"type":"text","text":"in detail"}
	]}`

	var m openai.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.True(t, m.Content.Structured())
	assert.Equal(t, "describe this\nin detail", m.Content.Text())
}

func TestContent_UnmarshalNull(t *testing.T) {
	var m openai.Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":null}`), &m))

	assert.False(t, m.Content.Structured())
	assert.Equal(t, "", m.Content.Text())
}

func TestContent_UnmarshalInvalid(t *testing.T) {
	var m openai.Message
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string or a part array")
}

func TestContent_RoundTripPreservesShape(t *testing.T) {
	plain, err := json.Marshal(openai.Message{Role: "user", Content: openai.TextContent("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(plain))

	structured, err := json.Marshal(openai.Message{
		Role: "user",
		Content: openai.PartsContent(
			openai.Part{Type: "text", Text: "hi"},
		),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"hi"}]}`, string(structured))
}

func TestContent_MapText(t *testing.T) {
	upper := func(s string) string { return strings.ToUpper(s) }

	plain := openai.TextContent("hello").MapText(upper)
	assert.Equal(t, "HELLO", plain.Text())

	structured := openai.PartsContent(
		openai.Part{Type: "text", Text: "hello"},
		openai.Part{Type: "image_url", ImageURL: &openai.ImageURL{URL: "u"}},
	).MapText(upper)
	assert.True(t, structured.Structured())
	assert.Equal(t, "HELLO", structured.Text())
}

func TestContent_MapTextDoesNotMutateOriginal(t *testing.T) {
	original := openai.PartsContent(openai.Part{Type: "text", Text: "keep"})
	_ = original.MapText(func(string) string { return "changed" })

	assert.Equal(t, "keep", original.Text())
}

// =============================================================================
// SYNTHESIZED RESPONSES
// =============================================================================

func TestNewCompletion(t *testing.T) {
	c := openai.NewCompletion("gpt-4o-mini", "Weather in London: 15°C, cloudy.")

	assert.True(t, strings.HasPrefix(c.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", c.Object)
	assert.NotZero(t, c.Created)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "assistant", c.Choices[0].Message.Role)
	assert.Equal(t, "stop", c.Choices[0].FinishReason)
	assert.Equal(t, "Weather in London: 15°C, cloudy.", c.FirstContent())
}

func TestNewCompletion_WireFormat(t *testing.T) {
	c := openai.NewCompletion("m", "hi")
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "choices")
	choices := decoded["choices"].([]any)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	msg := choice["message"].(map[string]any)
	assert.Equal(t, "hi", msg["content"])
}

func TestNewChunk(t *testing.T) {
	ch := openai.NewChunk("chatcmpl-abc", "m", openai.Delta{Content: "partial"}, "")

	assert.Equal(t, "chat.completion.chunk", ch.Object)
	assert.Equal(t, "chatcmpl-abc", ch.ID)
	require.Len(t, ch.Choices, 1)
	assert.Equal(t, "partial", ch.Choices[0].Delta.Content)
	assert.Empty(t, ch.Choices[0].FinishReason)
}

func TestFirstContent_Empty(t *testing.T) {
	var c *openai.ChatCompletion
	assert.Equal(t, "", c.FirstContent())
	assert.Equal(t, "", (&openai.ChatCompletion{}).FirstContent())
}
