// Package registry implements the string-keyed constructor registries that
// replace the reference implementation's dynamic class instantiation by name
// (§9): "class" tags in configuration resolve against these maps instead of
// a runtime import-by-string.
package registry

import (
	"fmt"
	"sync"
)

// Registry maps stable string tags to constructors of T. Safe for concurrent
// Register and Lookup; Register is expected at startup, Lookup during
// configuration resolution.
type Registry[T any] struct {
	mu    sync.RWMutex
	ctors map[string]func(params []byte) (T, error)
}

func New[T any]() *Registry[T] {
	return &Registry[T]{ctors: make(map[string]func(params []byte) (T, error))}
}

// Register binds class to ctor. Registering an already-bound class panics,
// since duplicate registration is a startup programming error, never a
// runtime condition.
func (r *Registry[T]) Register(class string, ctor func(params []byte) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[class]; exists {
		panic(fmt.Sprintf("registry: class %q already registered", class))
	}
	r.ctors[class] = ctor
}

// Has reports whether class has a registered constructor, letting a caller
// validate every configured class reference upfront (§7 Configuration
// error) before building any instance.
func (r *Registry[T]) Has(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[class]
	return ok
}

// Build resolves class and invokes its constructor with params. An unknown
// class is a configuration error (§7): it fails configuration loading rather
// than silently falling back.
func (r *Registry[T]) Build(class string, params []byte) (T, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[class]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("registry: unknown class %q", class)
	}
	return ctor(params)
}
