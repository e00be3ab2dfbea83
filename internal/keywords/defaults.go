package keywords

// Built-in patterns available without a pattern file. A file entry of
// the same name overrides these.
var defaultPatterns = []Pattern{
	{
		Name:        "weather",
		Pattern:     `(?i)\bweather\b[^?]*?\b(?:in|at|for)\s+(?P<location>[A-Za-z][A-Za-z\s]*?)\s*\??$`,
		Tool:        "weather",
		Description: "Current weather lookups by location",
		Priority:    100,
		Enabled:     true,
	},
	{
		Name:        "calculator",
		Pattern:     `(?i)\b(?:calculate|compute|evaluate)\s+(?P<expression>[-+*/^()\d\s.]+?)\s*\??$`,
		Tool:        "calculator",
		Description: "Arithmetic expression evaluation",
		Priority:    90,
		Enabled:     true,
	},
}

// RegisterDefaults adds the built-in patterns to the registry.
func (r *Registry) RegisterDefaults() error {
	for _, p := range defaultPatterns {
		if err := r.Upsert(p); err != nil {
			return err
		}
	}
	return nil
}
