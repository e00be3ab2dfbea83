// Package openai defines the OpenAI-compatible wire types the gateway
// speaks on both sides: inbound chat-completion requests from clients
// and unary or chunked completion responses from the upstream provider.
//
// DESIGN: Requests are parsed into typed structs for validation, flag
// resolution, and message access. Message content is a union (plain
// string or typed part list) mirroring what the Chat Completions API
// accepts; Content keeps the original shape through a round trip so
// structured requests are never flattened.
//
// FILES:
//   - types.go:   messages, content union, completion and chunk shapes
//   - request.go: ChatRequest parsing, validation, gateway-only fields
package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles accepted on the chat-completion surface.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Object type markers emitted in responses.
const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"
)

// FinishStop is the finish_reason for a normally completed choice.
const FinishStop = "stop"

// Message is one entry in the conversation.
type Message struct {
	Role       string  `json:"role"`
	Content    Content `json:"content"`
	Name       string  `json:"name,omitempty"`
	ToolCallID string  `json:"tool_call_id,omitempty"`
}

// Part is one element of structured message content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is the image reference carried by an image_url part.
type ImageURL struct {
	URL string `json:"url"`
}

// Content is a message body in either of the shapes the API accepts:
// a plain string or a list of typed parts. The zero value is an empty
// string body.
type Content struct {
	str        string
	parts      []Part
	structured bool
}

// TextContent wraps a plain string body.
func TextContent(s string) Content {
	return Content{str: s}
}

// PartsContent wraps a structured part list.
func PartsContent(parts ...Part) Content {
	return Content{parts: parts, structured: true}
}

// Structured reports whether the body arrived as a part list.
func (c Content) Structured() bool {
	return c.structured
}

// Text flattens the body to plain text. Structured bodies join their
// text parts with newlines; non-text parts contribute nothing.
func (c Content) Text() string {
	if !c.structured {
		return c.str
	}
	var b strings.Builder
	for _, p := range c.parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// MapText returns a copy with fn applied to the string body, or to each
// text part of a structured body. Non-text parts pass through untouched.
func (c Content) MapText(fn func(string) string) Content {
	if !c.structured {
		return Content{str: fn(c.str)}
	}
	parts := make([]Part, len(c.parts))
	copy(parts, c.parts)
	for i := range parts {
		if parts[i].Type == "text" {
			parts[i].Text = fn(parts[i].Text)
		}
	}
	return Content{parts: parts, structured: true}
}

// MarshalJSON preserves the inbound shape: structured bodies marshal as
// a part array, everything else as a string.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.structured {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.str)
}

// UnmarshalJSON accepts a string, a part array, or null (empty body).
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = Content{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("structured content: %w", err)
		}
		*c = Content{parts: parts, structured: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("content must be a string or a part array")
	}
	*c = Content{str: s}
	return nil
}

// ChatCompletion is the unary response object.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage carries upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one server-sent event frame of a streamed completion.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is one streamed choice delta.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta is the incremental payload of a chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// FirstContent returns the content of the first choice, or "".
func (c *ChatCompletion) FirstContent() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content.Text()
}

// NewCompletionID mints a chatcmpl-prefixed identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.New().String()
}

// NewCompletion builds a single-choice assistant completion, used for
// responses the gateway synthesizes itself (tool output, cache hits).
func NewCompletion(model, content string) *ChatCompletion {
	return &ChatCompletion{
		ID:      NewCompletionID(),
		Object:  ObjectCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Message: Message{
				Role:    RoleAssistant,
				Content: TextContent(content),
			},
			FinishReason: FinishStop,
		}},
	}
}

// NewChunk builds one stream frame carrying the given delta.
func NewChunk(id, model string, delta Delta, finishReason string) *Chunk {
	return &Chunk{
		ID:      id,
		Object:  ObjectChunk,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}
