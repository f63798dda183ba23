package secret

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BackendFactory creates a Backend.
type BackendFactory func(ctx context.Context) (Backend, error)

// Registry errors.
var (
	ErrInvalidRegistration = errors.New("secret: invalid backend registration")
	ErrDuplicateBackend    = errors.New("secret: backend already registered")
	ErrUnknownBackend      = errors.New("secret: backend is not registered")
)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackendFactory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory BackendFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return ErrInvalidRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the backend registered under name.
func (r *Registry) Create(ctx context.Context, name string) (Backend, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}

	b, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", name, err)
	}
	if b == nil {
		return nil, fmt.Errorf("create backend %q: %w", name, ErrNilBackend)
	}
	return b, nil
}

// List returns registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
