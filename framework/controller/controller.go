// Package controller provides the registry of request-facing classes: their
// URL prefix, their exposed routes, and injection-aware construction.
//
// Controllers are not singletons. Each GetInstance call routes construction
// through the injection registry, so a fresh instance — with shared singleton
// dependencies re-injected — is produced per inbound request unless the HTTP
// layer caches otherwise.
package controller

import (
	"context"
	"fmt"
	"net/http"

	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/registry"
)

// HandlerFunc dispatches a request to a method of the resolved controller
// instance.
type HandlerFunc func(instance any, w http.ResponseWriter, r *http.Request)

// Handler adapts a typed controller method into a HandlerFunc.
//
//	controller.Handler(func(c *UserController, w http.ResponseWriter, r *http.Request) {
//	    c.Show(w, r)
//	})
func Handler[T any](fn func(ctrl T, w http.ResponseWriter, r *http.Request)) HandlerFunc {
	return func(instance any, w http.ResponseWriter, r *http.Request) {
		fn(instance.(T), w, r)
	}
}

// Route is one (HTTP verb, path, handler) tuple registered against a
// controller. Path is relative to the controller's URL prefix.
type Route struct {
	Method  string
	Path    string
	Handler HandlerFunc
}

// Definition describes one registrable controller.
type Definition struct {
	Name      string
	URLPrefix string
	Inject    []container.InjectionKey
	Build     container.BuildFunc
	Routes    []Route
}

// Define builds a typed controller definition.
//
//	def := controller.Define("users", "/users", func(deps []any) (*UserController, error) {
//	    return &UserController{Repo: deps[0].(*UserRepo)}, nil
//	}, container.ByName("user-repo"))
func Define[T any](name, urlPrefix string, build func(deps []any) (T, error), inject ...container.InjectionKey) Definition {
	return Definition{
		Name:      name,
		URLPrefix: urlPrefix,
		Inject:    inject,
		Build:     func(deps []any) (any, error) { return build(deps) },
	}
}

// serviceName is the reserved service-registry key backing a controller, so
// controller construction shares the container's cycle detection and
// injection path.
func serviceName(name string) string { return "controller:" + name }

// Registry holds controller definitions and routes construction through the
// IoC facade.
type Registry struct {
	*registry.Registry[Definition]
	ioc *container.Facade
}

// NewRegistry creates a controller registry resolving through ioc.
func NewRegistry(ioc *container.Facade) *Registry {
	return &Registry{
		Registry: registry.New[Definition]("controllers"),
		ioc:      ioc,
	}
}

// RegisterController stores def and backs it with a transient service
// definition so the dependency graph validation covers controllers too.
func (r *Registry) RegisterController(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("controllers: definition has no name")
	}
	if def.Build == nil {
		return fmt.Errorf("controllers: %s: no build function", def.Name)
	}
	err := r.ioc.Services().RegisterService(container.ServiceDefinition{
		Name:   serviceName(def.Name),
		Scope:  container.ScopeTransient,
		Inject: def.Inject,
		Build:  def.Build,
	})
	if err != nil {
		return err
	}
	return r.Register(def.Name, def, registry.Metadata{URLPrefix: def.URLPrefix})
}

// AddRoute registers a (method, path, handler) tuple against an existing
// controller. Startup-time only; fails once the registry seals.
func (r *Registry) AddRoute(name, method, path string, h HandlerFunc) error {
	def, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("controllers: %s not registered", name)
	}
	def.Routes = append(def.Routes, Route{Method: method, Path: path, Handler: h})
	return r.Register(name, def, registry.Metadata{URLPrefix: def.URLPrefix})
}

// GetInstance constructs a fresh controller instance with its dependencies
// injected.
func (r *Registry) GetInstance(ctx context.Context, name string) (any, error) {
	if !r.Has(name) {
		return nil, fmt.Errorf("controllers: %s not registered", name)
	}
	return r.ioc.ResolveByName(ctx, serviceName(name))
}
