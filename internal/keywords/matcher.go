package keywords

import (
	"github.com/synthlang/proxy/internal/auth"
)

// MatchResult is a successful pattern match.
type MatchResult struct {
	PatternName string
	Tool        string
	Params      map[string]string
}

// Match walks the snapshot in priority order and returns the first
// pattern whose regex matches the text. Disabled patterns are skipped,
// as are role-gated patterns the principal does not satisfy. Returns nil
// when nothing matches.
func (r *Registry) Match(text string, principal *auth.Principal) *MatchResult {
	if text == "" {
		return nil
	}
	for _, p := range r.Snapshot() {
		if !p.Enabled {
			continue
		}
		if p.RequiredRole != "" && !principal.HasRole(p.RequiredRole) {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		params := make(map[string]string)
		for i, name := range p.re.SubexpNames() {
			if name != "" && i < len(m) {
				params[name] = m[i]
			}
		}
		return &MatchResult{
			PatternName: p.Name,
			Tool:        p.Tool,
			Params:      params,
		}
	}
	return nil
}
