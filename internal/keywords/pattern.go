// Package keywords detects tool intents in user messages.
//
// DESIGN: A registry of named regex patterns ordered by priority. Writers
// are serialized and publish an immutable sorted snapshot; the matcher
// walks the snapshot lock-free and the first matching pattern wins, with
// named capture groups becoming the tool parameter map.
//
// FILES:
//   - pattern.go:  Pattern type and compilation
//   - registry.go: Add/Remove/Update/List/Snapshot
//   - matcher.go:  Match against a principal's roles
//   - toml.go:     On-disk pattern file loader
//   - defaults.go: Built-in patterns registered at startup
package keywords

import (
	"fmt"
	"regexp"
)

// Pattern binds a regex to a tool. Named capture groups in the regex
// become the parameter map handed to the tool on a match.
type Pattern struct {
	Name         string
	Pattern      string
	Tool         string
	Description  string
	Priority     int
	RequiredRole string
	Enabled      bool

	re *regexp.Regexp
}

// compile validates the pattern and caches the compiled regex.
func (p *Pattern) compile() error {
	if p.Name == "" {
		return fmt.Errorf("pattern has no name")
	}
	if p.Tool == "" {
		return fmt.Errorf("pattern %q has no tool", p.Name)
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", p.Name, err)
	}
	p.re = re
	return nil
}

// NamedGroups returns the regex's named capture group names.
func (p *Pattern) NamedGroups() []string {
	if p.re == nil {
		return nil
	}
	var names []string
	for _, n := range p.re.SubexpNames() {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// ValidateBindings cross-checks patterns against the tool registry: the
// bound tool must exist, and when it requires parameters the pattern must
// expose at least one named capture group.
func ValidateBindings(patterns []Pattern, lookup func(tool string) (requiresParams, exists bool)) error {
	for i := range patterns {
		p := &patterns[i]
		requires, exists := lookup(p.Tool)
		if !exists {
			return fmt.Errorf("pattern %q is bound to unknown tool %q", p.Name, p.Tool)
		}
		if requires && len(p.NamedGroups()) == 0 {
			return fmt.Errorf("pattern %q: tool %q requires parameters but the regex has no named groups", p.Name, p.Tool)
		}
	}
	return nil
}
