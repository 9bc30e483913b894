// Package transforms holds the named markdown cleanup functions that
// pipeline postprocessing chains and function steps refer to.
package transforms

import (
	"fmt"
	"log"
	"sort"
)

// Func is one transform: markdown in, markdown out. Params carry the
// step-specific options from the pipeline config.
type Func func(markdown string, params map[string]any) (string, error)

// Registry maps transform names to implementations.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns a registry preloaded with the builtin transforms.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for name, fn := range builtins {
		r.funcs[name] = fn
	}
	return r
}

// Register adds or replaces a transform.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Get looks up a transform by name.
func (r *Registry) Get(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered transform names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs one named transform. Unknown names are an error so function
// steps fail loudly instead of silently passing markdown through.
func (r *Registry) Apply(name, markdown string, params map[string]any) (string, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return "", fmt.Errorf("unknown transform: %q", name)
	}
	return fn(markdown, params)
}

// Chain runs a postprocessing sequence. Unknown or failing steps are logged
// and skipped; cleanup never destroys a successful extraction.
func (r *Registry) Chain(markdown string, steps []string) string {
	current := markdown
	for _, name := range steps {
		fn, ok := r.funcs[name]
		if !ok {
			log.Printf("[Transforms] Unknown postprocessing step %q, skipping", name)
			continue
		}
		next, err := fn(current, nil)
		if err != nil {
			log.Printf("[Transforms] Postprocessing step %q failed: %v, skipping", name, err)
			continue
		}
		current = next
	}
	return current
}
