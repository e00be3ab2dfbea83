package keywords

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// patternsFile is the on-disk schema: one table per pattern.
//
//	[patterns.weather]
//	pattern = "(?i)weather in (?P<location>.+)"
//	tool = "weather"
//	description = "Weather lookups"
//	priority = 100
//	required_role = "premium"
//	enabled = true
type patternsFile struct {
	Patterns map[string]tomlPattern `toml:"patterns"`
}

type tomlPattern struct {
	Pattern      string `toml:"pattern"`
	Tool         string `toml:"tool"`
	Description  string `toml:"description"`
	Priority     int    `toml:"priority"`
	RequiredRole string `toml:"required_role"`
	Enabled      *bool  `toml:"enabled"`
}

// LoadFile reads a TOML pattern file into the registry. File entries
// override registered patterns of the same name. Enabled defaults to
// true when omitted.
func (r *Registry) LoadFile(path string) error {
	var parsed patternsFile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return fmt.Errorf("failed to parse pattern file '%s': %w", path, err)
	}

	for name, tp := range parsed.Patterns {
		enabled := true
		if tp.Enabled != nil {
			enabled = *tp.Enabled
		}
		p := Pattern{
			Name:         name,
			Pattern:      tp.Pattern,
			Tool:         tp.Tool,
			Description:  tp.Description,
			Priority:     tp.Priority,
			RequiredRole: tp.RequiredRole,
			Enabled:      enabled,
		}
		if err := r.Upsert(p); err != nil {
			return fmt.Errorf("pattern file '%s': %w", path, err)
		}
	}
	return nil
}
