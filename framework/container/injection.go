package container

import (
	"context"
	"fmt"
	"reflect"
)

// ── Injection keys ────────────────────────────────────────────────────────────

// InjectionKey is the tagged variant identifying one injection point:
// by registered type or by service/provider name. Both variants resolve
// through the same lookup so they share cycle detection and caching.
type InjectionKey struct {
	typ      reflect.Type
	name     string
	required bool
}

// ByName declares a required named dependency.
func ByName(name string) InjectionKey {
	return InjectionKey{name: name, required: true}
}

// ByNameOptional declares an optional named dependency; an unresolvable key
// binds nil instead of failing.
func ByNameOptional(name string) InjectionKey {
	return InjectionKey{name: name}
}

// ByType declares a required dependency on the service registered for T.
func ByType[T any]() InjectionKey {
	return InjectionKey{typ: reflect.TypeOf((*T)(nil)).Elem(), required: true}
}

// ByTypeOptional declares an optional dependency on the service registered
// for T.
func ByTypeOptional[T any]() InjectionKey {
	return InjectionKey{typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// Required reports whether an unresolvable key is an error.
func (k InjectionKey) Required() bool { return k.required }

// String returns the display form used in error messages and cache keys.
func (k InjectionKey) String() string {
	if k.name != "" {
		return k.name
	}
	if k.typ != nil {
		return k.typ.String()
	}
	return "<invalid>"
}

// ── InjectionRegistry ─────────────────────────────────────────────────────────

// InjectionRegistry resolves injection points by consulting the service
// registry first, then the provider registry. Before constructing anything it
// walks the declared dependency graph depth-first from the requested root:
// cycles, missing required dependencies and scope mismatches are reported
// before any side-effecting construction happens.
type InjectionRegistry struct {
	services  *ServiceRegistry
	providers *ProviderRegistry
	ioc       *Facade

	// roots already proven well-formed; reset when a registry clears.
	validated map[string]bool
}

func newInjectionRegistry(services *ServiceRegistry, providers *ProviderRegistry) *InjectionRegistry {
	inj := &InjectionRegistry{
		services:  services,
		providers: providers,
		validated: make(map[string]bool),
	}
	invalidate := func() { inj.validated = make(map[string]bool) }
	services.OnClear(invalidate)
	providers.OnClear(invalidate)
	// A pre-seal overwrite can change a definition's dependencies, so a root
	// proven well-formed against the old graph must be re-proven.
	services.OnRegister(func(string) { invalidate() })
	return inj
}

// ResolveKey produces a value for one injection point. Resolution priority is
// services, then providers. A required key with no match fails with
// *MissingDependencyError; an optional one binds nil.
func (inj *InjectionRegistry) ResolveKey(ctx context.Context, key InjectionKey) (any, error) {
	if name, ok := inj.services.keyServiceName(key); ok {
		return inj.ioc.resolveService(ctx, name)
	}
	if pkey, ok := inj.providerKey(key); ok {
		return inj.ioc.resolveProvider(ctx, pkey)
	}
	if key.required {
		return nil, &MissingDependencyError{Key: key.String()}
	}
	return nil, nil
}

// providerKey maps an injection key to a provider registry key.
func (inj *InjectionRegistry) providerKey(key InjectionKey) (string, bool) {
	candidate := key.name
	if candidate == "" && key.typ != nil {
		candidate = key.typ.String()
	}
	if inj.providers.Has(candidate) {
		return candidate, true
	}
	return "", false
}

// Construct builds the instance for a registered service after validating the
// dependency graph reachable from it. It resolves every injection point and
// invokes the definition's build function; lifecycle hooks are not run here.
func (inj *InjectionRegistry) Construct(ctx context.Context, name string) (any, error) {
	def, ok := inj.services.Get(name)
	if !ok {
		return nil, &MissingDependencyError{Key: name}
	}
	if err := inj.Validate(name); err != nil {
		return nil, err
	}
	return inj.build(ctx, def)
}

func (inj *InjectionRegistry) build(ctx context.Context, def ServiceDefinition) (any, error) {
	if def.Instance != nil && def.Build == nil {
		return def.Instance, nil
	}
	deps := make([]any, len(def.Inject))
	for i, key := range def.Inject {
		v, err := inj.ResolveKey(ctx, key)
		if err != nil {
			return nil, err
		}
		deps[i] = v
	}
	instance, err := def.Build(deps)
	if err != nil {
		return nil, &ConstructionError{Name: def.Name, Err: err}
	}
	if instance == nil {
		return nil, &ConstructionError{Name: def.Name, Err: fmt.Errorf("build returned nil")}
	}
	return instance, nil
}

// ── Graph validation ──────────────────────────────────────────────────────────

// Validate walks the dependency graph from root and fails on the first cycle,
// missing required dependency or scope mismatch. Nothing is constructed
// during the walk, so a bad graph never partially constructs objects.
func (inj *InjectionRegistry) Validate(root string) error {
	if inj.validated[root] {
		return nil
	}
	def, ok := inj.services.Get(root)
	if !ok {
		return &MissingDependencyError{Key: root}
	}
	walk := &graphWalk{inj: inj, onStack: make(map[string]int)}
	if err := walk.visit(root, def.Scope); err != nil {
		return err
	}
	inj.validated[root] = true
	return nil
}

// ValidateAll checks the graph induced by every registered service. Run by
// the lifecycle manager before any instance is constructed.
func (inj *InjectionRegistry) ValidateAll() error {
	for _, name := range inj.services.Names() {
		if err := inj.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

type graphWalk struct {
	inj     *InjectionRegistry
	stack   []string
	onStack map[string]int // name → index in stack
}

// visit walks name's dependencies. effective is the lifetime the instance is
// captured under: a transient built for a singleton consumer lives as long as
// that singleton, so the singleton constraint propagates through it.
func (w *graphWalk) visit(name string, effective Scope) error {
	if idx, ok := w.onStack[name]; ok {
		cycle := append(append([]string{}, w.stack[idx:]...), name)
		return &CircularDependencyError{Path: cycle}
	}
	def, ok := w.inj.services.Get(name)
	if !ok {
		return &MissingDependencyError{Key: name}
	}

	w.onStack[name] = len(w.stack)
	w.stack = append(w.stack, name)
	defer func() {
		w.stack = w.stack[:len(w.stack)-1]
		delete(w.onStack, name)
	}()

	for _, depName := range def.Dependencies {
		if err := w.visitDep(def, effective, ByName(depName)); err != nil {
			return err
		}
	}
	for _, key := range def.Inject {
		if err := w.visitDep(def, effective, key); err != nil {
			return err
		}
	}
	return nil
}

func (w *graphWalk) visitDep(consumer ServiceDefinition, effective Scope, key InjectionKey) error {
	if depName, ok := w.inj.services.keyServiceName(key); ok {
		dep, _ := w.inj.services.Get(depName)
		// A process-lifetime consumer must not capture a per-request value,
		// directly or through a transient it owns.
		if effective == ScopeSingleton && dep.Scope == ScopeRequest {
			return &ScopeMismatchError{
				Consumer:        consumer.Name,
				ConsumerScope:   effective,
				Dependency:      depName,
				DependencyScope: dep.Scope,
			}
		}
		depEffective := dep.Scope
		if dep.Scope == ScopeTransient {
			depEffective = effective
		}
		return w.visit(depName, depEffective)
	}
	if _, ok := w.inj.providerKey(key); ok {
		return nil
	}
	if key.Required() {
		return &MissingDependencyError{Key: key.String(), Consumer: consumer.Name}
	}
	return nil
}
