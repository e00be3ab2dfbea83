package synthlang

import (
	"regexp"
	"strings"
)

var (
	carriageRe     = regexp.MustCompile(`\r\n?`)
	horizontalRe   = regexp.MustCompile(`[ \t]+`)
	trailingRe     = regexp.MustCompile(` +\n`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
)

// Normalizer canonicalizes whitespace: CRLF and CR become LF, runs of
// spaces and tabs collapse to one space, trailing spaces drop, runs of
// blank lines collapse to one, and the whole text is trimmed.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

func (n *Normalizer) Name() string { return StageNormalizer }

func (n *Normalizer) Encode(text string) (string, error) {
	s := carriageRe.ReplaceAllString(text, "\n")
	s = horizontalRe.ReplaceAllString(s, " ")
	s = trailingRe.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s), nil
}

// Decode is identity: normalized text is already its canonical form.
func (n *Normalizer) Decode(text string) (string, error) {
	return text, nil
}
