// Package registry provides the generic named-item store every framework
// registry is built on: services, controllers, providers and middleware all
// keep their entries in a Registry[T].
//
// A Registry remembers insertion order, carries per-entry metadata, and can
// be sealed once startup completes. After sealing, registering an existing
// name fails with *DuplicateRegistrationError and any other mutation fails
// with ErrSealed. Clear() is the only supported reset between test runs and
// fires every invalidation hook so dependent caches (the IoC facade) drop
// stale entries.
package registry

import (
	"errors"
	"fmt"
)

// ErrSealed is returned when a sealed registry is mutated with a new name.
// Re-registering an existing name on a sealed registry returns the more
// specific *DuplicateRegistrationError instead.
var ErrSealed = errors.New("registry: sealed")

// DuplicateRegistrationError reports a name collision on a sealed registry.
type DuplicateRegistrationError struct {
	Registry string
	Name     string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("registry %s: duplicate registration for %q (registry is sealed)", e.Registry, e.Name)
}

// Metadata carries the registration attributes the container and the
// middleware chain consume.
type Metadata struct {
	// Dependencies lists the service names this entry depends on.
	Dependencies []string

	// Scope is the lifetime policy name ("singleton", "transient",
	// "request", or a custom scope name).
	Scope string

	// Priority orders middleware entries. Lower runs first.
	Priority int

	// URLPrefix is the mount prefix for controller entries.
	URLPrefix string

	// Extra holds embedder-defined attributes.
	Extra map[string]any
}

type entry[T any] struct {
	item T
	meta Metadata
}

// Registry is a generic named-item store with metadata and insertion order.
//
// Mutation is a startup-time operation; the design assumes Seal() is called
// once initialization completes and requests are served from read-only state.
// No internal locking is needed under that discipline.
type Registry[T any] struct {
	name       string
	entries    map[string]*entry[T]
	order      []string
	sealed     bool
	onClear    []func()
	onRegister []func(name string)
}

// New creates an empty registry. The name appears in error messages.
func New[T any](name string) *Registry[T] {
	return &Registry[T]{
		name:    name,
		entries: make(map[string]*entry[T]),
	}
}

// Name returns the registry's name.
func (r *Registry[T]) Name() string { return r.name }

// Register stores item under name. Before Seal() an existing name is
// overwritten in place (keeping its original position); afterwards the
// collision is rejected with *DuplicateRegistrationError and new names are
// rejected with ErrSealed.
func (r *Registry[T]) Register(name string, item T, meta Metadata) error {
	if _, exists := r.entries[name]; exists {
		if r.sealed {
			return &DuplicateRegistrationError{Registry: r.name, Name: name}
		}
		r.entries[name] = &entry[T]{item: item, meta: meta}
		r.fireRegister(name)
		return nil
	}
	if r.sealed {
		return fmt.Errorf("registry %s: register %q: %w", r.name, name, ErrSealed)
	}
	r.entries[name] = &entry[T]{item: item, meta: meta}
	r.order = append(r.order, name)
	r.fireRegister(name)
	return nil
}

func (r *Registry[T]) fireRegister(name string) {
	for _, fn := range r.onRegister {
		fn(name)
	}
}

// Get returns the stored item and whether it exists.
func (r *Registry[T]) Get(name string) (T, bool) {
	if e, ok := r.entries[name]; ok {
		return e.item, true
	}
	var zero T
	return zero, false
}

// Has reports whether name is registered. O(1).
func (r *Registry[T]) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Metadata returns the stored metadata and whether the name exists.
func (r *Registry[T]) Metadata(name string) (Metadata, bool) {
	if e, ok := r.entries[name]; ok {
		return e.meta, true
	}
	return Metadata{}, false
}

// Names returns registered names in insertion order.
func (r *Registry[T]) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns a name→item snapshot reflecting insertion order when iterated
// through Names().
func (r *Registry[T]) All() map[string]T {
	out := make(map[string]T, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.item
	}
	return out
}

// Count returns the number of registrations.
func (r *Registry[T]) Count() int { return len(r.entries) }

// Seal freezes the registry. Used once startup initialization completes.
func (r *Registry[T]) Seal() { r.sealed = true }

// Unseal re-opens a sealed registry. Intended for the testing collaborator
// between test cases only.
func (r *Registry[T]) Unseal() { r.sealed = false }

// Sealed reports whether the registry is sealed.
func (r *Registry[T]) Sealed() bool { return r.sealed }

// OnClear registers a hook fired by Clear(). Dependent caches register here
// so a reset invalidates them too.
func (r *Registry[T]) OnClear(fn func()) {
	r.onClear = append(r.onClear, fn)
}

// OnRegister registers a hook fired after every successful Register,
// overwrites included. Dependent caches keyed on registered entries (the
// injection registry's validated roots, the facade's resolution cache)
// register here so a pre-seal overwrite never serves stale state.
func (r *Registry[T]) OnRegister(fn func(name string)) {
	r.onRegister = append(r.onRegister, fn)
}

// Clear removes every entry, unseals the registry and fires all invalidation
// hooks. It is the only supported way to reset state between test runs.
func (r *Registry[T]) Clear() {
	r.entries = make(map[string]*entry[T])
	r.order = nil
	r.sealed = false
	for _, fn := range r.onClear {
		fn()
	}
}
