package container

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/loomkit/loom/framework/request"
)

// Facade is the single resolution surface over the service, provider and
// injection registries, backed by a cache keyed on resolution key and scope.
// Singleton resolutions persist for the process lifetime, transient ones are
// never cached, request-scoped ones live only in the owning request context.
// Clearing any underlying registry invalidates the cache.
type Facade struct {
	services  *ServiceRegistry
	providers *ProviderRegistry
	injection *InjectionRegistry

	scopes map[string]CustomScope

	// mu guards cache; the lifecycle manager warms every singleton-scoped
	// provider at boot, but resolutions outside a managed boot still write.
	mu    sync.RWMutex
	cache map[string]any // singleton-scoped provider resolutions
}

// New wires a facade over the given registries.
func New(services *ServiceRegistry, providers *ProviderRegistry) *Facade {
	f := &Facade{
		services:  services,
		providers: providers,
		scopes:    make(map[string]CustomScope),
		cache:     make(map[string]any),
	}
	f.injection = newInjectionRegistry(services, providers)
	f.injection.ioc = f

	invalidate := func() {
		f.mu.Lock()
		f.cache = make(map[string]any)
		f.mu.Unlock()
	}
	services.OnClear(invalidate)
	providers.OnClear(invalidate)
	// A pre-seal provider overwrite must not serve a value built from the
	// replaced registration.
	providers.OnRegister(func(key string) {
		f.mu.Lock()
		delete(f.cache, "prov:"+key)
		f.mu.Unlock()
	})
	return f
}

// Services returns the underlying service registry.
func (f *Facade) Services() *ServiceRegistry { return f.services }

// Providers returns the underlying provider registry.
func (f *Facade) Providers() *ProviderRegistry { return f.providers }

// Injection returns the underlying injection registry.
func (f *Facade) Injection() *InjectionRegistry { return f.injection }

// RegisterScope installs a custom scope handler. Definitions whose Scope
// matches cs.Name() cache through it.
func (f *Facade) RegisterScope(cs CustomScope) {
	f.scopes[cs.Name()] = cs
}

// Reset clears every underlying registry and, through their invalidation
// hooks, the resolution cache. Testing collaborator only.
func (f *Facade) Reset() {
	f.services.Clear()
	f.providers.Clear()
}

// ── Resolution API ────────────────────────────────────────────────────────────

// ResolveByName resolves a required dependency by name: services first, then
// providers. Missing names fail with *MissingDependencyError.
func (f *Facade) ResolveByName(ctx context.Context, name string) (any, error) {
	return f.injection.ResolveKey(ctx, ByName(name))
}

// ResolveOptional resolves name like ResolveByName but binds nil when the
// name is unknown, raising nothing.
func (f *Facade) ResolveOptional(ctx context.Context, name string) (any, error) {
	return f.injection.ResolveKey(ctx, ByNameOptional(name))
}

// HasDependency reports whether name is resolvable from either registry.
func (f *Facade) HasDependency(name string) bool {
	return f.services.Has(name) || f.providers.Has(name)
}

// Resolve resolves the service registered for type T.
//
//	db, err := container.Resolve[*DB](ctx, ioc)
func Resolve[T any](ctx context.Context, f *Facade) (T, error) {
	var zero T
	v, err := f.injection.ResolveKey(ctx, ByType[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Got:      fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}

// HasType reports whether a service is registered for type T.
func HasType[T any](f *Facade) bool {
	_, ok := f.services.NameForType(reflect.TypeOf((*T)(nil)).Elem())
	return ok
}

// ── Scope-aware construction ──────────────────────────────────────────────────

func (f *Facade) resolveService(ctx context.Context, name string) (any, error) {
	def, ok := f.services.Get(name)
	if !ok {
		return nil, &MissingDependencyError{Key: name}
	}

	switch def.Scope {
	case ScopeSingleton:
		if inst, ok := f.services.Instance(name); ok {
			return inst, nil
		}
		inst, err := f.injection.Construct(ctx, name)
		if err != nil {
			return nil, err
		}
		return f.services.storeInstance(name, inst), nil

	case ScopeTransient:
		return f.buildWithInit(ctx, name)

	case ScopeRequest:
		rc := request.FromContext(ctx)
		if rc == nil {
			return nil, fmt.Errorf("resolve %s: %w", name, ErrNoRequestContext)
		}
		cacheKey := "svc:" + name
		if inst, ok := rc.Scoped(cacheKey); ok {
			return inst, nil
		}
		inst, err := f.buildWithInit(ctx, name)
		if err != nil {
			return nil, err
		}
		rc.StoreScoped(cacheKey, inst)
		if stopper, ok := inst.(Stopper); ok {
			rc.OnCleanup(func() error { return stopper.OnShutdown(context.Background()) })
		}
		return inst, nil

	default:
		handler, ok := f.scopes[string(def.Scope)]
		if !ok {
			return nil, fmt.Errorf("resolve %s: unknown scope %q", name, def.Scope)
		}
		cacheKey := "svc:" + name
		if inst, ok := handler.Get(cacheKey); ok {
			return inst, nil
		}
		inst, err := f.buildWithInit(ctx, name)
		if err != nil {
			return nil, err
		}
		handler.Create(cacheKey, inst)
		return inst, nil
	}
}

// buildWithInit constructs a non-singleton instance and runs its OnInit hook
// inline. Singletons are built without hooks; the lifecycle manager sequences
// those at boot.
func (f *Facade) buildWithInit(ctx context.Context, name string) (any, error) {
	inst, err := f.injection.Construct(ctx, name)
	if err != nil {
		return nil, err
	}
	if init, ok := inst.(Initializer); ok {
		if err := init.OnInit(ctx); err != nil {
			return nil, &ConstructionError{Name: name, Err: err}
		}
	}
	return inst, nil
}

func (f *Facade) resolveProvider(ctx context.Context, key string) (any, error) {
	p, ok := f.providers.Get(key)
	if !ok {
		return nil, &MissingDependencyError{Key: key}
	}

	switch p.Kind {
	case ProviderInstance:
		return p.Instance, nil

	case ProviderConstructor:
		v, err := p.Constructor()
		if err != nil {
			return nil, &ConstructionError{Name: key, Err: err}
		}
		return v, nil

	case ProviderFactory:
		v, err := p.Factory(f)
		if err != nil {
			return nil, &ConstructionError{Name: key, Err: err}
		}
		return v, nil

	case ProviderScoped:
		return f.resolveScopedProvider(ctx, key, p)

	default:
		return nil, fmt.Errorf("resolve %s: unknown provider kind %v", key, p.Kind)
	}
}

func (f *Facade) resolveScopedProvider(ctx context.Context, key string, p Provider) (any, error) {
	build := func() (any, error) {
		v, err := p.Factory(f)
		if err != nil {
			return nil, &ConstructionError{Name: key, Err: err}
		}
		return v, nil
	}

	switch p.Scope {
	case ScopeSingleton:
		cacheKey := "prov:" + key
		f.mu.RLock()
		v, ok := f.cache[cacheKey]
		f.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if cached, ok := f.cache[cacheKey]; ok {
			return cached, nil
		}
		f.cache[cacheKey] = v
		return v, nil

	case ScopeTransient:
		return build()

	case ScopeRequest:
		rc := request.FromContext(ctx)
		if rc == nil {
			return nil, fmt.Errorf("resolve %s: %w", key, ErrNoRequestContext)
		}
		cacheKey := "prov:" + key
		if v, ok := rc.Scoped(cacheKey); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		rc.StoreScoped(cacheKey, v)
		return v, nil

	default:
		handler, ok := f.scopes[string(p.Scope)]
		if !ok {
			return nil, fmt.Errorf("resolve %s: unknown scope %q", key, p.Scope)
		}
		cacheKey := "prov:" + key
		if v, ok := handler.Get(cacheKey); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		handler.Create(cacheKey, v)
		return v, nil
	}
}
