package synthlang

import (
	"regexp"
	"sort"
	"strings"
)

// The fixed glyph alphabet. Every symbol replacement draws from this set.
var glyphAlphabet = []string{"↹", "•", "⊕", "Σ", "⊂", "→", "≡", "∴", "∀", "∃"}

// defaultSymbols maps phrases to glyphs. Multi-word phrases are matched
// before their single-word variants.
var defaultSymbols = map[string]string{
	"focus on":          "↹",
	"pay attention to":  "↹",
	"context":           "↹",
	"and":               "•",
	"combined with":     "⊕",
	"together with":     "⊕",
	"merged with":       "⊕",
	"summarize":         "Σ",
	"summary of":        "Σ",
	"in summary":        "Σ",
	"subset of":         "⊂",
	"belongs to":        "⊂",
	"contained in":      "⊂",
	"leads to":          "→",
	"results in":        "→",
	"transforms into":   "→",
	"is equivalent to":  "≡",
	"equivalent to":     "≡",
	"is identical to":   "≡",
	"therefore":         "∴",
	"as a result":       "∴",
	"for all":           "∀",
	"for every":         "∀",
	"there exists":      "∃",
	"there is at least one": "∃",
}

// SymbolCompressor replaces configured phrases with single glyphs from
// the fixed alphabet. Decode is identity: glyphs stay glyphs.
type SymbolCompressor struct {
	re      *regexp.Regexp
	symbols map[string]string
}

// NewSymbolCompressor builds the compressor from the default phrase table.
func NewSymbolCompressor() *SymbolCompressor {
	return NewSymbolCompressorWithTable(defaultSymbols)
}

// NewSymbolCompressorWithTable builds the compressor from a custom
// phrase → glyph table. Glyphs outside the fixed alphabet are dropped.
func NewSymbolCompressorWithTable(table map[string]string) *SymbolCompressor {
	allowed := make(map[string]bool, len(glyphAlphabet))
	for _, g := range glyphAlphabet {
		allowed[g] = true
	}

	s := &SymbolCompressor{symbols: make(map[string]string, len(table))}
	var phrases []string
	for phrase, glyph := range table {
		if !allowed[glyph] {
			continue
		}
		phrase = strings.ToLower(phrase)
		s.symbols[phrase] = glyph
		phrases = append(phrases, phrase)
	}
	if len(phrases) == 0 {
		return s
	}
	// Longest phrase first so "summary of" wins over "summary".
	sort.Slice(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })

	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	s.re = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return s
}

func (s *SymbolCompressor) Name() string { return StageSymbol }

func (s *SymbolCompressor) Encode(text string) (string, error) {
	if s.re == nil {
		return text, nil
	}
	return s.re.ReplaceAllStringFunc(text, func(m string) string {
		if glyph, ok := s.symbols[strings.ToLower(m)]; ok {
			return glyph
		}
		return m
	}), nil
}

// Decode is identity: the replacement is not reversible.
func (s *SymbolCompressor) Decode(text string) (string, error) {
	return text, nil
}

// GlyphAlphabet returns the fixed glyph set.
func GlyphAlphabet() []string {
	out := make([]string, len(glyphAlphabet))
	copy(out, glyphAlphabet)
	return out
}
