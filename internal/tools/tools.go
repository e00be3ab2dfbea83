// Package tools hosts the in-process tool registry and dispatcher.
//
// DESIGN: Tools are plain handler functions registered under unique,
// optionally dot-namespaced names. The dispatcher runs the role check
// before the handler and converts handler errors and panics into tool
// failures, so a broken tool can never take the gateway down. A handler
// returns exactly one of three result kinds:
//   - Terminal: the content becomes the assistant message, no LLM call
//   - Augment:  the conversation is replaced and flows on to the LLM
//   - Stream:   chunks are forwarded to the client as-is
//
// FILES:
//   - tools.go:    handler contract, invocation, result kinds
//   - registry.go: registration, lookup, dispatch
package tools

import (
	"context"
	"errors"

	"github.com/synthlang/proxy/internal/auth"
	"github.com/synthlang/proxy/internal/openai"
)

var (
	// ErrUnknownTool is returned when dispatch names an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolFailure wraps handler errors and recovered panics.
	ErrToolFailure = errors.New("tool failure")
)

// Invocation carries everything a handler may inspect for one call.
type Invocation struct {
	// Name is the registered tool name being invoked.
	Name string

	// Params holds the named capture groups of the matched pattern.
	Params map[string]string

	// Principal identifies the caller. Handlers must not retain it
	// beyond the call.
	Principal *auth.Principal

	// Message is the full text of the message that triggered dispatch.
	Message string
}

// Handler executes one tool call.
type Handler func(ctx context.Context, inv Invocation) (*Result, error)

// Kind discriminates the three result shapes.
type Kind int

const (
	KindTerminal Kind = iota
	KindAugment
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindAugment:
		return "augment"
	case KindStream:
		return "stream"
	}
	return "unknown"
}

// Result is a tool outcome. Use the constructors; exactly one shape is
// populated per result.
type Result struct {
	Kind     Kind
	Content  string
	Metadata map[string]any
	Messages []openai.Message
	Stream   <-chan openai.Chunk
}

// Terminal builds a result whose content replaces the LLM response.
func Terminal(content string, metadata map[string]any) *Result {
	return &Result{Kind: KindTerminal, Content: content, Metadata: metadata}
}

// Augment builds a result that swaps in a new conversation and lets the
// request continue to the LLM.
func Augment(messages ...openai.Message) *Result {
	return &Result{Kind: KindAugment, Messages: messages}
}

// StreamResult builds a result whose chunks are forwarded to the client.
func StreamResult(ch <-chan openai.Chunk) *Result {
	return &Result{Kind: KindStream, Stream: ch}
}
