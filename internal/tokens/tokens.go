// Package tokens counts text against the model's tiktoken encoding.
//
// DESIGN: Upstream responses usually carry a usage block; when they do
// not (streams, cache hits, tool responses) the gateway falls back to
// counting locally. Encodings are expensive to build, so they are
// cached per model. Unknown models use cl100k_base, and if no encoding
// can be loaded at all the counter estimates at four characters per
// token rather than failing.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/synthlang/proxy/internal/openai"
)

const (
	fallbackEncoding = "cl100k_base"

	// Per-message framing and reply priming per the OpenAI cookbook's
	// token counting guide.
	tokensPerMessage = 3
	replyPriming     = 3
)

var (
	mu        sync.RWMutex
	encodings = make(map[string]*tiktoken.Tiktoken)
)

// Counter counts tokens for a single model's encoding.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// ForModel returns a counter for the given model. Construction never
// fails; a counter without a usable encoding falls back to estimation.
func ForModel(model string) *Counter {
	mu.RLock()
	enc, ok := encodings[model]
	mu.RUnlock()
	if ok {
		return &Counter{enc: enc}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, _ = tiktoken.GetEncoding(fallbackEncoding)
	}

	mu.Lock()
	encodings[model] = enc
	mu.Unlock()

	return &Counter{enc: enc}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages counts a chat transcript, including the per-message
// role framing and the assistant reply priming.
func (c *Counter) CountMessages(messages []openai.Message) int {
	total := replyPriming
	for _, m := range messages {
		total += tokensPerMessage
		total += c.Count(m.Role)
		total += c.Count(m.Content.Text())
	}
	return total
}
