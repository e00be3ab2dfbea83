package openai

import (
	"encoding/json"
	"fmt"
)

// ChatRequest is the inbound chat-completion payload. Pointer fields
// distinguish "absent" from a zero value so the gateway only overrides
// what the client actually sent.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	N           *int      `json:"n,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	User        string    `json:"user,omitempty"`

	// Gateway-only toggles, stripped from the body before proxying.
	UseSynthLang     *bool  `json:"use_synthlang,omitempty"`
	UseGzip          *bool  `json:"use_gzip,omitempty"`
	CompressionLevel string `json:"synthlang_compression_level,omitempty"`
	Cache            *bool  `json:"cache,omitempty"`
	DisableKeywords  *bool  `json:"disable_keyword_detection,omitempty"`
}

// GatewayFields lists the body fields consumed by the gateway itself.
// They are deleted from the payload before it is sent upstream.
var GatewayFields = []string{
	"use_synthlang",
	"use_gzip",
	"synthlang_compression_level",
	"cache",
	"disable_keyword_detection",
}

// ParseChatRequest decodes a request body. Decode errors are returned
// verbatim for the 400 response; validation is a separate step so the
// caller can fill defaults first.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// Validate checks the request invariants and names the offending field
// in the returned error.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must contain at least one entry")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return fmt.Errorf("messages[%d].role %q is not one of system, user, assistant, tool", i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	if r.N != nil && *r.N < 1 {
		return fmt.Errorf("n must be at least 1")
	}
	switch r.CompressionLevel {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("synthlang_compression_level %q is not one of low, medium, high", r.CompressionLevel)
	}
	return nil
}

// LastMessage returns the final conversation entry, or nil when the
// request has no messages.
func (r *ChatRequest) LastMessage() *Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return &r.Messages[len(r.Messages)-1]
}

// DispatchText returns the text considered for keyword dispatch: the
// last message's flattened content, but only when that message came
// from a user or a tool.
func (r *ChatRequest) DispatchText() (string, bool) {
	last := r.LastMessage()
	if last == nil {
		return "", false
	}
	if last.Role != RoleUser && last.Role != RoleTool {
		return "", false
	}
	return last.Content.Text(), true
}
