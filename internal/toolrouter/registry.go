package toolrouter

import (
	"fmt"
	"sync"
)

// Router is a map tool_name -> Tool plus an ordered list of ToolProviders
// claiming name-prefix families. Adapted from the teacher's
// internal/agent/tool_registry.go ToolRegistry.
type Router struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	providers []ToolProvider
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{tools: make(map[string]Tool)}
}

// Register adds a directly-named tool. It is an error to register the
// same name twice.
func (r *Router) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// RegisterProvider adds a prefix-family provider, tried in registration
// order after the direct map lookup fails.
func (r *Router) RegisterProvider(p ToolProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Resolve looks up a tool by name: direct map first, then providers in
// registration order (spec §4.5).
func (r *Router) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tools[name]; ok {
		return t, true
	}
	for _, p := range r.providers {
		if !matchesPrefix(p.Prefix(), name) {
			continue
		}
		if t, ok := p.Resolve(name); ok {
			return t, true
		}
	}
	return nil, false
}

// Specs returns every directly-registered Tool; callers take each one's
// Spec() for inclusion in a provider request. Provider-family tools are not
// enumerable ahead of time and are expected to be referenced by name
// once known to the caller.
func (r *Router) Specs() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}
