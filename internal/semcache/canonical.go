package semcache

import (
	"crypto/sha256"
	"strings"

	"github.com/synthlang/proxy/internal/openai"
)

// Canonicalize renders a request into the single text that is embedded
// and digested: the model tag followed by every message as a role-tagged
// line. Identical conversations against different models therefore
// canonicalize differently and can never collide.
func Canonicalize(model string, messages []openai.Message) string {
	var b strings.Builder
	b.WriteString("model: ")
	b.WriteString(model)
	b.WriteString("\n")
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// Digest hashes a canonicalized request for exact-duplicate detection.
func Digest(canonical string) []byte {
	sum := sha256.Sum256([]byte(canonical))
	return sum[:]
}
