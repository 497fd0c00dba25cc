// Package providers defines the module contract — the explicit registration
// API that replaces decorator-driven global registration — and the framework's
// core modules.
//
// A Module's Register method is invoked by the bootstrap step (directly for
// framework modules, through the module scanner for discovered user modules)
// and binds services, providers, controllers and middleware into the owned
// registries. Nothing is ever registered through ambient global state.
package providers

import (
	"context"

	"github.com/loomkit/loom/framework/config"
	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/controller"
	"github.com/loomkit/loom/framework/logging"
	"github.com/loomkit/loom/framework/metrics"
	"github.com/loomkit/loom/framework/middleware"
	"github.com/loomkit/loom/routing"
)

// Registries bundles the registration surface a module sees.
type Registries struct {
	IoC         *container.Facade
	Services    *container.ServiceRegistry
	Providers   *container.ProviderRegistry
	Controllers *controller.Registry
	Middleware  *middleware.Registry
}

// Module binds services into the registries. Resolution should wait until
// lifecycle hooks run — everything is registered before anything initializes.
type Module interface {
	// Name identifies the module in logs and scan results.
	Name() string

	// Register binds the module's services, controllers and middleware.
	Register(r *Registries) error
}

// ── ConfigProvider ────────────────────────────────────────────────────────────

// ConfigProvider loads the application configuration from .env and binds it
// as the "config" singleton.
type ConfigProvider struct {
	EnvFiles []string
}

func (p *ConfigProvider) Name() string { return "loom/config" }

func (p *ConfigProvider) Register(r *Registries) error {
	envFiles := p.EnvFiles
	return r.Providers.RegisterScoped("config", container.ScopeSingleton,
		func(*container.Facade) (any, error) {
			return config.Load(envFiles...), nil
		})
}

// ── LoggingProvider ───────────────────────────────────────────────────────────

// LoggingProvider binds the structured logger as the "logger" singleton,
// built from the resolved config.
type LoggingProvider struct{}

func (p *LoggingProvider) Name() string { return "loom/logging" }

func (p *LoggingProvider) Register(r *Registries) error {
	return r.Providers.RegisterScoped("logger", container.ScopeSingleton,
		func(ioc *container.Facade) (any, error) {
			cfg, err := ioc.ResolveByName(context.Background(), "config")
			if err != nil {
				return nil, err
			}
			return logging.New(cfg.(*config.Config))
		})
}

// ── RoutingProvider ───────────────────────────────────────────────────────────

// RoutingProvider binds the HTTP router as the "router" singleton.
type RoutingProvider struct{}

func (p *RoutingProvider) Name() string { return "loom/routing" }

func (p *RoutingProvider) Register(r *Registries) error {
	return r.Providers.RegisterScoped("router", container.ScopeSingleton,
		func(*container.Facade) (any, error) {
			return routing.New(), nil
		})
}

// ── MetricsProvider ───────────────────────────────────────────────────────────

// MetricsProvider binds the boot-observability collector as the "metrics"
// singleton.
type MetricsProvider struct{}

func (p *MetricsProvider) Name() string { return "loom/metrics" }

func (p *MetricsProvider) Register(r *Registries) error {
	return r.Providers.RegisterScoped("metrics", container.ScopeSingleton,
		func(*container.Facade) (any, error) {
			return metrics.NewCollector(), nil
		})
}

// Core returns the framework's built-in modules in registration order.
func Core(envFiles ...string) []Module {
	return []Module{
		&ConfigProvider{EnvFiles: envFiles},
		&LoggingProvider{},
		&RoutingProvider{},
		&MetricsProvider{},
	}
}
