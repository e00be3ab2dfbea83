package keywords

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry holds the pattern set. Every mutation publishes a fresh
// snapshot sorted by priority descending, then name ascending; readers
// never block writers.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]Pattern]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := []Pattern{}
	r.snapshot.Store(&empty)
	return r
}

// Snapshot returns the current immutable pattern slice. Callers must not
// mutate it.
func (r *Registry) Snapshot() []Pattern {
	return *r.snapshot.Load()
}

// List returns a copy of the current patterns in match order.
func (r *Registry) List() []Pattern {
	snap := r.Snapshot()
	out := make([]Pattern, len(snap))
	copy(out, snap)
	return out
}

// Add compiles and inserts a pattern. Names are unique.
func (r *Registry) Add(p Pattern) error {
	if err := p.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	for i := range current {
		if current[i].Name == p.Name {
			return fmt.Errorf("pattern %q already registered", p.Name)
		}
	}
	r.publish(append(append([]Pattern{}, current...), p))
	return nil
}

// Remove deletes a pattern by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	next := make([]Pattern, 0, len(current))
	found := false
	for i := range current {
		if current[i].Name == name {
			found = true
			continue
		}
		next = append(next, current[i])
	}
	if !found {
		return fmt.Errorf("pattern %q not registered", name)
	}
	r.publish(next)
	return nil
}

// Fields is a partial pattern update; nil members keep their value.
type Fields struct {
	Pattern      *string
	Tool         *string
	Description  *string
	Priority     *int
	RequiredRole *string
	Enabled      *bool
}

// Update applies a partial update to a named pattern, recompiling when
// the regex changes.
func (r *Registry) Update(name string, fields Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	next := make([]Pattern, len(current))
	copy(next, current)

	for i := range next {
		if next[i].Name != name {
			continue
		}
		p := next[i]
		if fields.Pattern != nil {
			p.Pattern = *fields.Pattern
		}
		if fields.Tool != nil {
			p.Tool = *fields.Tool
		}
		if fields.Description != nil {
			p.Description = *fields.Description
		}
		if fields.Priority != nil {
			p.Priority = *fields.Priority
		}
		if fields.RequiredRole != nil {
			p.RequiredRole = *fields.RequiredRole
		}
		if fields.Enabled != nil {
			p.Enabled = *fields.Enabled
		}
		if err := p.compile(); err != nil {
			return err
		}
		next[i] = p
		r.publish(next)
		return nil
	}
	return fmt.Errorf("pattern %q not registered", name)
}

// Upsert inserts or replaces a pattern by name. Used by the file loader,
// where a file entry overrides a built-in of the same name.
func (r *Registry) Upsert(p Pattern) error {
	if err := p.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	next := make([]Pattern, 0, len(current)+1)
	for i := range current {
		if current[i].Name != p.Name {
			next = append(next, current[i])
		}
	}
	r.publish(append(next, p))
	return nil
}

// publish sorts and atomically swaps in the new snapshot. Callers hold mu.
func (r *Registry) publish(patterns []Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Priority != patterns[j].Priority {
			return patterns[i].Priority > patterns[j].Priority
		}
		return patterns[i].Name < patterns[j].Name
	})
	r.snapshot.Store(&patterns)
}
