package runner

import (
	"maps"
	"slices"
	"sync"

	"github.com/roach88/issai/internal/entity"
)

// Alias names a built-in runner with fixed extra arguments.
type Alias struct {
	Builtin string   `yaml:"builtin"`
	Args    []string `yaml:"args,omitempty"`
}

// Registry resolves runner names to Funcs: the built-ins plus aliases.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Func
}

// NewRegistry returns a registry holding every built-in runner.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Func, len(builtins))}
	for name, a := range builtins {
		r.entries[name] = a.bind(nil)
	}
	return r
}

// Register adds name as an alias. Aliases may shadow built-ins but must
// point at one.
func (r *Registry) Register(name string, alias Alias) error {
	if name == "" {
		return entity.NewConfigurationError("runner alias needs a name")
	}
	a, ok := builtins[alias.Builtin]
	if !ok {
		return entity.NewConfigurationError("runner alias %q: unknown builtin %q", name, alias.Builtin)
	}
	r.mu.Lock()
	r.entries[name] = a.bind(alias.Args)
	r.mu.Unlock()
	return nil
}

// RegisterFunc adds a custom runner.
func (r *Registry) RegisterFunc(name string, fn Func) error {
	if name == "" || fn == nil {
		return entity.NewConfigurationError("runner needs a name and a function")
	}
	r.mu.Lock()
	r.entries[name] = fn
	r.mu.Unlock()
	return nil
}

// Lookup returns the runner called name. A miss is for the caller to
// surface as a configuration error.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.entries[name]
	return fn, ok
}

// Names lists registered runners in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}
