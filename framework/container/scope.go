package container

// Scope is the lifetime policy governing how long a resolved instance is
// reused.
type Scope string

const (
	// ScopeSingleton instances live for the process lifetime and are
	// constructed at most once.
	ScopeSingleton Scope = "singleton"

	// ScopeTransient instances are created fresh per resolution and never
	// cached.
	ScopeTransient Scope = "transient"

	// ScopeRequest instances are cached once per active request context and
	// destroyed with it.
	ScopeRequest Scope = "request"
)

// CustomScope is the capability contract an embedding application supplies
// for scopes beyond the built-in three. The facade consults Get before
// building and hands the fresh instance to Create; Destroy releases every
// instance the scope holds.
//
// Implementations used after boot must be safe for concurrent use: the
// facade may call Get and Create from concurrently served requests, and a
// Create racing another should keep the first instance.
type CustomScope interface {
	// Name identifies the scope in registration metadata.
	Name() string

	// Get returns the cached instance for key, if any.
	Get(key string) (any, bool)

	// Create caches a freshly built instance for key.
	Create(key string, instance any)

	// Destroy releases all cached instances.
	Destroy() error
}

// builtin reports whether s is one of the three built-in scopes.
func (s Scope) builtin() bool {
	switch s {
	case ScopeSingleton, ScopeTransient, ScopeRequest:
		return true
	}
	return false
}
