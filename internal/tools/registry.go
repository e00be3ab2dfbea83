package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/synthlang/proxy/internal/auth"
)

// Tool names are dot-namespaced lowercase identifiers.
var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

type registration struct {
	name           string
	handler        Handler
	description    string
	requiredRole   string
	requiresParams bool
}

// Option customizes a registration.
type Option func(*registration)

// WithDescription attaches human-readable help text.
func WithDescription(desc string) Option {
	return func(r *registration) { r.description = desc }
}

// WithRequiredRole gates dispatch on the caller holding the role.
func WithRequiredRole(role string) Option {
	return func(r *registration) { r.requiredRole = role }
}

// WithParametersRequired marks the tool as unusable without pattern
// parameters; binding validation rejects patterns with no named groups.
func WithParametersRequired() Option {
	return func(r *registration) { r.requiresParams = true }
}

// Registry maps tool names to handlers. Writers are serialized and
// publish a fresh snapshot; dispatch reads lock-free.
type Registry struct {
	mu    sync.Mutex
	tools atomic.Pointer[map[string]registration]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]registration{}
	r.tools.Store(&empty)
	return r
}

// Register binds a handler under name. Names must be unique and match
// the dot-namespaced identifier form.
func (r *Registry) Register(name string, handler Handler, opts ...Option) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}
	if handler == nil {
		return fmt.Errorf("tool %q has a nil handler", name)
	}

	reg := registration{name: name, handler: handler}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.tools.Load()
	if _, exists := current[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	next := make(map[string]registration, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = reg
	r.tools.Store(&next)
	return nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	current := *r.tools.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Requirements reports whether the named tool requires pattern
// parameters and whether it exists at all. Shaped for pattern binding
// validation.
func (r *Registry) Requirements(name string) (requiresParams, exists bool) {
	reg, ok := (*r.tools.Load())[name]
	if !ok {
		return false, false
	}
	return reg.requiresParams, true
}

// Dispatch runs the named tool. The role check runs before the handler;
// handler errors and panics surface as tool failures.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]string, principal *auth.Principal, message string) (*Result, error) {
	reg, ok := (*r.tools.Load())[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if reg.requiredRole != "" && !principal.HasRole(reg.requiredRole) {
		return nil, fmt.Errorf("%w: tool %q requires role %q", auth.ErrForbidden, name, reg.requiredRole)
	}

	inv := Invocation{
		Name:      name,
		Params:    params,
		Principal: principal,
		Message:   message,
	}
	res, err := invoke(ctx, reg.handler, inv)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: tool %q returned no result", ErrToolFailure, name)
	}
	return res, nil
}

func invoke(ctx context.Context, h Handler, inv Invocation) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("%w: tool %q panicked: %v", ErrToolFailure, inv.Name, rec)
		}
	}()
	res, err = h(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("%w: tool %q: %w", ErrToolFailure, inv.Name, err)
	}
	return res, nil
}
