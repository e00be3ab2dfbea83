package synthlang

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry holds the available stages. Writers are serialized and each
// write publishes a fresh immutable snapshot; readers never lock.
type Registry struct {
	mu     sync.Mutex
	stages atomic.Pointer[map[string]Stage]
}

// NewRegistry returns a registry pre-populated with the six built-in
// stages.
func NewRegistry() *Registry {
	r := &Registry{}
	snapshot := map[string]Stage{
		StageNormalizer:  NewNormalizer(),
		StageAbbreviator: NewAbbreviator(),
		StageVowel:       NewVowelStripper(),
		StageSymbol:      NewSymbolCompressor(),
		StageChunker:     NewLogarithmicChunker(),
		StageBinary:      NewBinaryEncoder(),
	}
	r.stages.Store(&snapshot)
	return r
}

// Register adds or replaces a stage under its own name.
func (r *Registry) Register(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.stages.Load()
	next := make(map[string]Stage, len(current)+1)
	for name, s := range current {
		next[name] = s
	}
	next[stage.Name()] = stage
	r.stages.Store(&next)
}

// Get returns the stage registered under name.
func (r *Registry) Get(name string) (Stage, bool) {
	s, ok := (*r.stages.Load())[name]
	return s, ok
}

// Names lists registered stage names in sorted order.
func (r *Registry) Names() []string {
	snapshot := *r.stages.Load()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve fetches each named stage, failing on the first unknown name.
func (r *Registry) resolve(names []string) ([]Stage, error) {
	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		s, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		stages = append(stages, s)
	}
	return stages, nil
}
