// Package routes is a small self-documenting registration layer over
// chi: every handler is registered through Registry.Register alongside
// a human-readable Meta, and the accumulated list is exposed back out
// through All() for the "/routes" introspection endpoint.
package routes

import (
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Param documents one path or query parameter of a route.
type Param struct {
	Name    string `json:"name"`
	In      string `json:"in,omitempty"` // "path" (default) or "query"
	Example string `json:"example,omitempty"`
}

// Meta documents a route for the introspection endpoint.
type Meta struct {
	Group       string  `json:"group"`
	Description string  `json:"description"`
	Params      []Param `json:"params,omitempty"`
}

// Route bundles a handler with its Meta.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
	Meta    Meta
}

// Entry is one registered route as reported by All().
type Entry struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
	Meta    Meta   `json:"meta"`
}

// Registry accumulates Entries as routes are registered, optionally
// under a path prefix (see WithPrefix).
type Registry struct {
	mu      sync.Mutex
	prefix  string
	entries *[]Entry
}

var (
	globalMu      sync.Mutex
	globalEntries []Entry
)

// GetRegistry returns a Registry rooted at "" that feeds the global,
// process-wide route list reported by All().
func GetRegistry() *Registry {
	return &Registry{entries: &globalEntries}
}

// WithPrefix returns a child Registry that records routes as
// prefix+pattern while still feeding the same global list.
func (r *Registry) WithPrefix(prefix string) *Registry {
	return &Registry{prefix: r.prefix + prefix, entries: r.entries}
}

// Register wires route.Handler onto c at route.Pattern for
// route.Method and records an Entry for introspection.
func (r *Registry) Register(c chi.Router, route Route) {
	c.Method(route.Method, route.Pattern, route.Handler)

	globalMu.Lock()
	defer globalMu.Unlock()
	*r.entries = append(*r.entries, Entry{
		Method:  route.Method,
		Pattern: r.prefix + route.Pattern,
		Meta:    route.Meta,
	})
}

// All returns every registered route, sorted by group then pattern.
func All() []Entry {
	globalMu.Lock()
	defer globalMu.Unlock()
	out := make([]Entry, len(globalEntries))
	copy(out, globalEntries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meta.Group != out[j].Meta.Group {
			return out[i].Meta.Group < out[j].Meta.Group
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}
