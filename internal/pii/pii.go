// Package pii detects and masks personally identifiable information.
//
// DESIGN: A fixed, ordered regex table. Order matters because patterns
// overlap: SSNs look like phone fragments and credit cards look like digit
// runs, so the longer, more specific patterns run first. Each match is
// replaced by a numbered placeholder like ⟨EMAIL_1⟩; the same value seen
// again reuses its placeholder. The placeholder → original map lives only
// for the duration of one request and is discarded afterwards.
//
// Placeholders must never re-match any pattern in the table, otherwise a
// masked text run through the redactor again would eat its own output.
// TestPlaceholders_NeverRematch enforces this.
package pii

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Category classifies the kind of sensitive data found.
type Category string

// Detected PII categories.
const (
	CategoryEmail      Category = "EMAIL"
	CategoryCreditCard Category = "CREDIT_CARD"
	CategorySSN        Category = "SSN"
	CategoryPassport   Category = "PASSPORT"
	CategoryIP         Category = "IP"
	CategoryDate       Category = "DATE"
	CategoryAddress    Category = "ADDRESS"
	CategoryPhone      Category = "PHONE"
)

// pattern pairs a compiled regex with its category.
type pattern struct {
	re       *regexp.Regexp
	category Category
}

var (
	patternsOnce sync.Once
	patterns     []pattern
)

// compiledPatterns returns the detection table in application order:
// specific formats first, broad numeric patterns last.
func compiledPatterns() []pattern {
	patternsOnce.Do(func() {
		specs := []struct {
			expr     string
			category Category
		}{
			// Email: unambiguous structural markers (@, domain, TLD).
			{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, CategoryEmail},
			// Credit card: 16 digits with optional separators.
			{`\b(?:\d{4}[\-\s]?){3}\d{4}\b`, CategoryCreditCard},
			// SSN: hyphenated or bare nine digits. Runs before phone because
			// the two overlap on digit runs.
			{`\b(?:\d{3}-\d{2}-\d{4}|\d{9})\b`, CategorySSN},
			// Passport: one or two letters then six to nine digits.
			{`\b[A-Za-z]{1,2}\d{6,9}\b`, CategoryPassport},
			// IPv4.
			{`\b(?:\d{1,3}\.){3}\d{1,3}\b`, CategoryIP},
			// Dates: MM/DD/YYYY and DD-MM-YY variants.
			{`\b\d{1,2}/\d{1,2}/\d{4}\b`, CategoryDate},
			{`\b\d{1,2}-\d{1,2}-\d{2}\b`, CategoryDate},
			// Street address: house number, name, suffix from a fixed list.
			{`(?i)\b\d+\s+[A-Za-z][A-Za-z\s]*?(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Place|Pl|Way)\b`, CategoryAddress},
			// Phone: four common formats. Broadest patterns, so last.
			{`\+?1[\-.\s]\(?\d{3}\)?[\-.\s]?\d{3}[\-.\s]?\d{4}\b`, CategoryPhone},
			{`\(\d{3}\)\s?\d{3}[\-.\s]?\d{4}\b`, CategoryPhone},
			{`\b\d{3}[\-.]\d{3}[\-.]\d{4}\b`, CategoryPhone},
			{`\b\d{10}\b`, CategoryPhone},
		}
		for _, s := range specs {
			patterns = append(patterns, pattern{
				re:       regexp.MustCompile(s.expr),
				category: s.category,
			})
		}
	})
	return patterns
}

// Redactor masks PII within a single request. Not safe for concurrent
// use; each request builds its own.
type Redactor struct {
	counts  map[Category]int
	byValue map[string]string // original → placeholder
	mapping map[string]string // placeholder → original
}

// NewRedactor returns an empty per-request redactor.
func NewRedactor() *Redactor {
	return &Redactor{
		counts:  make(map[Category]int),
		byValue: make(map[string]string),
		mapping: make(map[string]string),
	}
}

// Redact replaces every detected PII value with its placeholder.
// Numbering is stable across calls on the same Redactor, so a value
// appearing in several messages of one request maps to one placeholder.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	masked := text
	for _, p := range compiledPatterns() {
		masked = p.re.ReplaceAllStringFunc(masked, func(match string) string {
			return r.placeholderFor(p.category, match)
		})
	}
	return masked
}

// placeholderFor returns the placeholder for a matched value, allocating
// the next index for its category on first sight.
func (r *Redactor) placeholderFor(cat Category, value string) string {
	if ph, ok := r.byValue[value]; ok {
		return ph
	}
	r.counts[cat]++
	ph := "⟨" + string(cat) + "_" + strconv.Itoa(r.counts[cat]) + "⟩"
	r.byValue[value] = ph
	r.mapping[ph] = value
	return ph
}

// Restore substitutes original values back into masked text.
func (r *Redactor) Restore(text string) string {
	return Restore(text, r.mapping)
}

// Restore substitutes original values from an explicit placeholder map.
func Restore(text string, mapping map[string]string) string {
	if text == "" || len(mapping) == 0 {
		return text
	}
	pairs := make([]string, 0, len(mapping)*2)
	for ph, original := range mapping {
		pairs = append(pairs, ph, original)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Mapping returns a copy of the placeholder → original map.
func (r *Redactor) Mapping() map[string]string {
	out := make(map[string]string, len(r.mapping))
	for k, v := range r.mapping {
		out[k] = v
	}
	return out
}

// Count returns the number of distinct values masked so far.
func (r *Redactor) Count() int {
	return len(r.mapping)
}

// CountsByCategory returns how many distinct values were masked per
// category, for metrics.
func (r *Redactor) CountsByCategory() map[Category]int {
	out := make(map[Category]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Categories lists all detected categories in sorted order.
func Categories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, p := range compiledPatterns() {
		if !seen[p.category] {
			seen[p.category] = true
			out = append(out, p.category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
