// Package container provides the IoC (Inversion of Control) core of the
// framework: service definitions, providers, injection resolution and the
// facade every collaborator resolves through.
//
// # Overview
//
// Three registries cooperate behind one facade:
//
//   - ServiceRegistry owns named service definitions and their singleton
//     instances, dependency-ordered and lifecycle-managed.
//   - ProviderRegistry records how to produce values for keys outside the
//     service graph: fixed instances, constructors, factories, or
//     scope-bound producers.
//   - InjectionRegistry resolves injection points (ByName / ByType) by
//     consulting services first, then providers, with depth-first cycle
//     detection before anything is constructed.
//
// # Lifecycle
//
//  1. Create: ioc := container.New(services, providers)
//  2. Register definitions: services.RegisterService(container.Define(...))
//  3. Initialize: the lifecycle manager validates the graph, constructs every
//     singleton in topological order, runs OnInit per service, then OnStartup
//     once all OnInit hooks finished, and seals the registries.
//  4. Serve requests: ioc.ResolveByName / container.Resolve[T] for the rest
//     of the process lifetime.
//
// # Registration
//
//	// Singleton with injected dependencies
//	services.RegisterService(container.Define("billing",
//	    func(deps []any) (*Billing, error) {
//	        return &Billing{DB: deps[0].(*DB)}, nil
//	    },
//	    container.WithInject(container.ByName("db")),
//	))
//
//	// Request-scoped: one instance per request context, torn down with it
//	services.RegisterService(container.Define("session",
//	    newSession,
//	    container.WithScope(container.ScopeRequest),
//	))
//
//	// Pre-built value via a provider
//	providers.RegisterInstance("config", cfg)
//
// # Failure semantics
//
// A misconfigured graph fails fast at boot: cycles surface as
// *CircularDependencyError carrying the full path, unresolvable required
// injection points as *MissingDependencyError, and a singleton depending on
// a request-scoped service as *ScopeMismatchError — all before any instance
// is constructed.
//
// Registration is a startup-time operation. After the registries seal,
// re-registering an existing name fails with *DuplicateRegistrationError;
// before sealing it overwrites the prior entry. Clear() on a registry resets
// it for the next test run and invalidates the facade's resolution cache.
package container
