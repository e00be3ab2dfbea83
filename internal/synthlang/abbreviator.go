package synthlang

import (
	"regexp"
	"sort"
	"strings"
)

// defaultAbbreviations maps full words to their short forms. Decode uses
// the reverse mapping as a restoration heuristic: a short form already
// present in the source text expands too, which is the accepted loss.
var defaultAbbreviations = map[string]string{
	"application":    "app",
	"argument":       "arg",
	"authentication": "authn",
	"configuration":  "config",
	"database":       "db",
	"development":    "dev",
	"directory":      "dir",
	"documentation":  "docs",
	"environment":    "env",
	"function":       "fn",
	"implementation": "impl",
	"information":    "info",
	"initialize":     "init",
	"management":     "mgmt",
	"maximum":        "max",
	"message":        "msg",
	"minimum":        "min",
	"number":         "num",
	"object":         "obj",
	"parameter":      "param",
	"performance":    "perf",
	"reference":      "ref",
	"repository":     "repo",
	"request":        "req",
	"response":       "resp",
	"temporary":      "tmp",
	"variable":       "var",
}

// Abbreviator performs dictionary substitution on word boundaries.
// Matching is case-insensitive; replacements are emitted lowercase.
type Abbreviator struct {
	encodeRe *regexp.Regexp
	decodeRe *regexp.Regexp
	short    map[string]string // full word → abbreviation
	long     map[string]string // abbreviation → full word
}

// NewAbbreviator builds an Abbreviator from the default dictionary.
func NewAbbreviator() *Abbreviator {
	return NewAbbreviatorWithDict(defaultAbbreviations)
}

// NewAbbreviatorWithDict builds an Abbreviator from a custom full → short
// dictionary.
func NewAbbreviatorWithDict(dict map[string]string) *Abbreviator {
	a := &Abbreviator{
		short: make(map[string]string, len(dict)),
		long:  make(map[string]string, len(dict)),
	}
	var fulls, shorts []string
	for full, abbr := range dict {
		full = strings.ToLower(full)
		abbr = strings.ToLower(abbr)
		a.short[full] = abbr
		a.long[abbr] = full
		fulls = append(fulls, regexp.QuoteMeta(full))
		shorts = append(shorts, regexp.QuoteMeta(abbr))
	}
	if len(fulls) == 0 {
		return a
	}
	// Longest alternative first so overlapping entries resolve greedily.
	sort.Slice(fulls, func(i, j int) bool { return len(fulls[i]) > len(fulls[j]) })
	sort.Slice(shorts, func(i, j int) bool { return len(shorts[i]) > len(shorts[j]) })

	a.encodeRe = regexp.MustCompile(`(?i)\b(?:` + strings.Join(fulls, "|") + `)\b`)
	a.decodeRe = regexp.MustCompile(`(?i)\b(?:` + strings.Join(shorts, "|") + `)\b`)
	return a
}

func (a *Abbreviator) Name() string { return StageAbbreviator }

func (a *Abbreviator) Encode(text string) (string, error) {
	if a.encodeRe == nil {
		return text, nil
	}
	return a.encodeRe.ReplaceAllStringFunc(text, func(m string) string {
		if abbr, ok := a.short[strings.ToLower(m)]; ok {
			return abbr
		}
		return m
	}), nil
}

// Decode expands abbreviations back to their dictionary words.
func (a *Abbreviator) Decode(text string) (string, error) {
	if a.decodeRe == nil {
		return text, nil
	}
	return a.decodeRe.ReplaceAllStringFunc(text, func(m string) string {
		if full, ok := a.long[strings.ToLower(m)]; ok {
			return full
		}
		return m
	}), nil
}
