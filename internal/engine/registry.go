package engine

import (
	"fmt"
	"sync"
)

// Kind identifies an engine implementation. The set is closed: the
// session core dispatches on these values and nothing else.
type Kind string

const (
	// KindClaude is the production backend driving the Claude CLI/SDK.
	// Its implementation is supplied by the embedding application.
	KindClaude Kind = "claude"

	// KindScripted replays a fixed event script. Used by tests and as
	// a stand-in backend for local development.
	KindScripted Kind = "scripted"
)

// Valid reports whether k names a known engine kind.
func (k Kind) Valid() bool {
	return k == KindClaude || k == KindScripted
}

// Registry holds the available engine implementations keyed by kind.
type Registry struct {
	mu      sync.RWMutex
	engines map[Kind]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[Kind]Engine)}
}

// Register adds an engine to the registry. Registering an unknown kind
// is an error.
func (r *Registry) Register(e Engine) error {
	if !e.Kind().Valid() {
		return fmt.Errorf("unknown engine kind: %s", e.Kind())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Kind()] = e
	return nil
}

// Get retrieves an engine by kind.
func (r *Registry) Get(kind Kind) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[kind]
	if !ok {
		return nil, fmt.Errorf("engine not registered: %s", kind)
	}
	return e, nil
}

// Kinds returns the registered engine kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.engines))
	for k := range r.engines {
		kinds = append(kinds, k)
	}
	return kinds
}
