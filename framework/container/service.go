package container

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/loomkit/loom/framework/registry"
)

// ── Lifecycle hooks ───────────────────────────────────────────────────────────

// Services opt into lifecycle orchestration by implementing any of the hook
// interfaces below. Hooks are plain functions taking a context so synchronous
// and asynchronous implementations look the same to the orchestrator, which
// awaits them sequentially.

// Initializer is called once the instance is constructed, in dependency
// order, before any service starts up.
type Initializer interface {
	OnInit(ctx context.Context) error
}

// Starter is called after every registered service finished OnInit,
// again in dependency order.
type Starter interface {
	OnStartup(ctx context.Context) error
}

// Stopper is called at shutdown in the reverse of the initialization order.
type Stopper interface {
	OnShutdown(ctx context.Context) error
}

// ── Service definitions ───────────────────────────────────────────────────────

// BuildFunc constructs the service instance. deps holds the resolved values
// of the definition's Inject keys, in declaration order; optional keys that
// could not be resolved are nil.
type BuildFunc func(deps []any) (any, error)

// ServiceDefinition describes one registrable service.
type ServiceDefinition struct {
	Name string

	// Scope is the instance lifetime. Zero value means singleton.
	Scope Scope

	// Type is the produced type, used to answer by-type resolutions.
	// Optional; set automatically by Define.
	Type reflect.Type

	// Inject lists the injection points resolved before Build runs.
	Inject []InjectionKey

	// Dependencies names services that must initialize first without being
	// injected as values (pure ordering edges).
	Dependencies []string

	// Build constructs the instance. Nil when Instance is set.
	Build BuildFunc

	// Instance is a pre-built value registered as-is.
	Instance any
}

// ServiceOption mutates a definition produced by Define.
type ServiceOption func(*ServiceDefinition)

// WithInject declares the definition's injection points.
func WithInject(keys ...InjectionKey) ServiceOption {
	return func(d *ServiceDefinition) { d.Inject = keys }
}

// WithScope sets the instance lifetime.
func WithScope(scope Scope) ServiceOption {
	return func(d *ServiceDefinition) { d.Scope = scope }
}

// WithDependencies adds ordering-only dependencies.
func WithDependencies(names ...string) ServiceOption {
	return func(d *ServiceDefinition) { d.Dependencies = append(d.Dependencies, names...) }
}

// Define builds a typed service definition. This is the registration sugar
// every higher layer (modules, the app kernel) funnels through.
//
//	def := container.Define("billing", func(deps []any) (*Billing, error) {
//	    return &Billing{DB: deps[0].(*DB)}, nil
//	}, container.WithInject(container.ByName("db")))
func Define[T any](name string, build func(deps []any) (T, error), opts ...ServiceOption) ServiceDefinition {
	def := ServiceDefinition{
		Name:  name,
		Scope: ScopeSingleton,
		Type:  reflect.TypeOf((*T)(nil)).Elem(),
		Build: func(deps []any) (any, error) { return build(deps) },
	}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// ── ServiceRegistry ───────────────────────────────────────────────────────────

// ServiceRegistry owns the service definitions, their singleton instances and
// the type index answering by-type resolutions. Instance construction and
// ordering are driven from outside: the injection registry builds values, the
// lifecycle manager sequences hooks.
type ServiceRegistry struct {
	*registry.Registry[ServiceDefinition]

	typeIndex map[reflect.Type]string
	initOrder []string

	// mu guards instances: the first post-boot resolution of a singleton
	// evicted at startup may store from a request goroutine.
	mu        sync.RWMutex
	instances map[string]any
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	s := &ServiceRegistry{
		Registry:  registry.New[ServiceDefinition]("services"),
		typeIndex: make(map[reflect.Type]string),
		instances: make(map[string]any),
	}
	s.OnClear(func() {
		s.typeIndex = make(map[reflect.Type]string)
		s.mu.Lock()
		s.instances = make(map[string]any)
		s.mu.Unlock()
		s.initOrder = nil
	})
	return s
}

// RegisterService stores def. Pre-seal an existing name is replaced;
// post-seal the collision is a *DuplicateRegistrationError.
func (s *ServiceRegistry) RegisterService(def ServiceDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("services: definition has no name")
	}
	if def.Build == nil && def.Instance == nil {
		return fmt.Errorf("services: %s: neither Build nor Instance set", def.Name)
	}
	if def.Scope == "" {
		def.Scope = ScopeSingleton
	}
	if def.Type == nil && def.Instance != nil {
		def.Type = reflect.TypeOf(def.Instance)
	}
	// A pre-seal overwrite replaces the definition wholesale: the old
	// type→name mapping and any cached singleton built from the old
	// definition must not survive it.
	if old, ok := s.Get(def.Name); ok {
		if old.Type != nil && old.Type != def.Type && s.typeIndex[old.Type] == def.Name {
			delete(s.typeIndex, old.Type)
		}
		s.Evict(def.Name)
	}
	meta := registry.Metadata{Dependencies: def.Dependencies, Scope: string(def.Scope)}
	if err := s.Register(def.Name, def, meta); err != nil {
		return err
	}
	if def.Type != nil {
		s.typeIndex[def.Type] = def.Name
	}
	return nil
}

// NameForType returns the service name registered for t, if any. Interface
// types also match registrations whose concrete type implements them.
func (s *ServiceRegistry) NameForType(t reflect.Type) (string, bool) {
	if name, ok := s.typeIndex[t]; ok {
		return name, true
	}
	if t.Kind() == reflect.Interface {
		for _, name := range s.Names() {
			def, _ := s.Get(name)
			if def.Type != nil && def.Type.Implements(t) {
				return name, true
			}
		}
	}
	return "", false
}

// Instance returns the constructed singleton for name, if any.
func (s *ServiceRegistry) Instance(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.instances[name]
	return v, ok
}

// storeInstance caches v as the singleton for name. First write wins: when
// two resolutions race, both serve the instance that landed first.
func (s *ServiceRegistry) storeInstance(name string, v any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[name]; ok {
		return existing
	}
	s.instances[name] = v
	return v
}

// Evict drops the cached singleton for name. The lifecycle manager evicts on
// a failed OnInit so a half-initialized instance is never served as healthy.
func (s *ServiceRegistry) Evict(name string) {
	s.mu.Lock()
	delete(s.instances, name)
	s.mu.Unlock()
}

// InitOrder returns the order services were initialized in, recorded by the
// lifecycle manager. Shutdown runs it in reverse.
func (s *ServiceRegistry) InitOrder() []string {
	out := make([]string, len(s.initOrder))
	copy(out, s.initOrder)
	return out
}

// RecordInit appends name to the initialization order.
func (s *ServiceRegistry) RecordInit(name string) {
	s.initOrder = append(s.initOrder, name)
}

// serviceDeps returns the dependency names of def that are themselves
// registered services — the edges of the dependency graph.
func (s *ServiceRegistry) serviceDeps(def ServiceDefinition) []string {
	var deps []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] && s.Has(name) {
			seen[name] = true
			deps = append(deps, name)
		}
	}
	for _, name := range def.Dependencies {
		add(name)
	}
	for _, key := range def.Inject {
		if name, ok := s.keyServiceName(key); ok {
			add(name)
		}
	}
	return deps
}

// keyServiceName maps an injection key to a registered service name.
func (s *ServiceRegistry) keyServiceName(key InjectionKey) (string, bool) {
	if key.name != "" {
		if s.Has(key.name) {
			return key.name, true
		}
		return "", false
	}
	return s.NameForType(key.typ)
}

// TopoOrder returns every registered service in topological order,
// dependencies first, ties broken by registration order. The graph must be
// acyclic; callers validate through the injection registry first, which
// reports the offending path.
func (s *ServiceRegistry) TopoOrder() ([]string, error) {
	names := s.Names()
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))

	for _, name := range names {
		def, _ := s.Get(name)
		deps := s.serviceDeps(def)
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	order := make([]string, 0, len(names))
	placed := make(map[string]bool, len(names))
	for len(order) < len(names) {
		progressed := false
		for _, name := range names {
			if placed[name] || indegree[name] != 0 {
				continue
			}
			placed[name] = true
			order = append(order, name)
			for _, dep := range dependents[name] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			return nil, &CircularDependencyError{Path: unplaced(names, placed)}
		}
	}
	return order, nil
}

func unplaced(names []string, placed map[string]bool) []string {
	var out []string
	for _, n := range names {
		if !placed[n] {
			out = append(out, n)
		}
	}
	return out
}
