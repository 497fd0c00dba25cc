package container

import (
	"github.com/loomkit/loom/framework/registry"
)

// ── Providers ─────────────────────────────────────────────────────────────────

// ProviderKind selects how a provider materializes a value for its key.
type ProviderKind int

const (
	// ProviderInstance serves a fixed, pre-built value.
	ProviderInstance ProviderKind = iota

	// ProviderConstructor calls a zero-argument constructor per resolution.
	ProviderConstructor

	// ProviderFactory calls a factory that may resolve further dependencies
	// through the facade.
	ProviderFactory

	// ProviderScoped wraps a factory with a lifetime policy; the built value
	// is cached according to that scope.
	ProviderScoped
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderInstance:
		return "instance"
	case ProviderConstructor:
		return "constructor"
	case ProviderFactory:
		return "factory"
	case ProviderScoped:
		return "scoped"
	default:
		return "unknown"
	}
}

// Factory builds a concrete value, resolving further dependencies through
// the facade.
type Factory func(ioc *Facade) (any, error)

// Constructor builds a concrete value with no dependencies.
type Constructor func() (any, error)

// Provider records how to produce an instance for a key.
type Provider struct {
	Kind        ProviderKind
	Scope       Scope
	Instance    any
	Constructor Constructor
	Factory     Factory
}

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry stores providers by key. It is consulted by the injection
// registry after the service registry, in that priority order.
type ProviderRegistry struct {
	*registry.Registry[Provider]
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{Registry: registry.New[Provider]("providers")}
}

// RegisterInstance records a fixed value for key.
//
//	providers.RegisterInstance("config", cfg)
func (r *ProviderRegistry) RegisterInstance(key string, value any) error {
	return r.Register(key, Provider{Kind: ProviderInstance, Scope: ScopeSingleton, Instance: value}, registry.Metadata{Scope: string(ScopeSingleton)})
}

// RegisterConstructor records a zero-argument constructor for key. The
// constructor runs on every resolution.
func (r *ProviderRegistry) RegisterConstructor(key string, ctor Constructor) error {
	return r.Register(key, Provider{Kind: ProviderConstructor, Scope: ScopeTransient, Constructor: ctor}, registry.Metadata{Scope: string(ScopeTransient)})
}

// RegisterFactory records a container-aware factory for key. The factory runs
// on every resolution.
func (r *ProviderRegistry) RegisterFactory(key string, f Factory) error {
	return r.Register(key, Provider{Kind: ProviderFactory, Scope: ScopeTransient, Factory: f}, registry.Metadata{Scope: string(ScopeTransient)})
}

// RegisterScoped records a scope-bound producer for key. The built value is
// cached according to scope.
func (r *ProviderRegistry) RegisterScoped(key string, scope Scope, f Factory) error {
	return r.Register(key, Provider{Kind: ProviderScoped, Scope: scope, Factory: f}, registry.Metadata{Scope: string(scope)})
}
