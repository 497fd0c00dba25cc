// Package app wires the framework core into a runnable application: module
// discovery feeds the registries, the lifecycle manager drives ordered
// initialization, and the router serves requests through the middleware
// chain with a per-request context.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/loomkit/loom/framework/config"
	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/controller"
	"github.com/loomkit/loom/framework/lifecycle"
	"github.com/loomkit/loom/framework/metrics"
	"github.com/loomkit/loom/framework/middleware"
	"github.com/loomkit/loom/framework/providers"
	"github.com/loomkit/loom/framework/request"
	"github.com/loomkit/loom/framework/scanner"
	"github.com/loomkit/loom/routing"
)

// App is the top-level application container.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	IoC         *container.Facade
	Controllers *controller.Registry
	Middleware  *middleware.Registry
	Lifecycle   *lifecycle.Manager
	Router      *routing.Router
	Metrics     *metrics.Collector
	Modules     *scanner.ModuleTable

	scanner *scanner.Scanner
	booted  bool
}

// New creates and wires the application: core providers are registered, the
// config and logger resolved, and the per-request middleware adapter
// installed on the router. Nothing user-defined runs yet — that happens in
// Bootstrap.
func New(envFiles ...string) (*App, error) {
	services := container.NewServiceRegistry()
	provs := container.NewProviderRegistry()
	ioc := container.New(services, provs)

	a := &App{
		IoC:        ioc,
		Middleware: middleware.NewRegistry(),
		Modules:    scanner.NewModuleTable(),
	}
	a.Controllers = controller.NewRegistry(ioc)

	for _, m := range providers.Core(envFiles...) {
		if err := m.Register(a.Registries()); err != nil {
			return nil, fmt.Errorf("app: register %s: %w", m.Name(), err)
		}
	}

	ctx := context.Background()
	cfg, err := ioc.ResolveByName(ctx, "config")
	if err != nil {
		return nil, err
	}
	a.Config = cfg.(*config.Config)

	logger, err := ioc.ResolveByName(ctx, "logger")
	if err != nil {
		return nil, err
	}
	a.Logger = logger.(*zap.Logger)

	router, err := ioc.ResolveByName(ctx, "router")
	if err != nil {
		return nil, err
	}
	a.Router = router.(*routing.Router)

	collector, err := ioc.ResolveByName(ctx, "metrics")
	if err != nil {
		return nil, err
	}
	a.Metrics = collector.(*metrics.Collector)

	a.Lifecycle = lifecycle.NewManager(ioc, a.Middleware, a.Logger,
		lifecycle.WithPolicy(lifecycle.ParsePolicy(a.Config.Boot.StartupErrorPolicy)),
		lifecycle.WithShutdownTimeout(a.Config.Boot.ShutdownTimeout),
	)

	a.scanner = scanner.New(a.Modules, a.Logger, scanner.Options{
		AutoScan:        a.Config.Boot.AutoScan,
		Explicit:        a.Config.Boot.ExplicitModules,
		UserPackages:    a.Config.Boot.UserPackages,
		ExcludePackages: a.Config.Boot.ExcludePackages,
		ArchivePath:     a.Config.Boot.ModuleArchive,
		FrozenDir:       a.Config.Boot.ModuleDir,
		DevRoot:         a.Config.Boot.SourceRoot,
	})

	// Installed before any route so every handler sees a request context
	// and the middleware chain.
	a.Router.Use(a.requestAdapter)

	return a, nil
}

// Registries returns the registration surface handed to modules.
func (a *App) Registries() *providers.Registries {
	return &providers.Registries{
		IoC:         a.IoC,
		Services:    a.IoC.Services(),
		Providers:   a.IoC.Providers(),
		Controllers: a.Controllers,
		Middleware:  a.Middleware,
	}
}

// Register runs a module's registration immediately, outside the scan.
func (a *App) Register(m providers.Module) error {
	return m.Register(a.Registries())
}

// AddModule adds a discoverable module under id. The scan loads it when the
// active source yields that id; with scanning disabled, list id in
// Boot.ExplicitModules.
func (a *App) AddModule(id string, m providers.Module) {
	a.Modules.Add(id, func() error { return m.Register(a.Registries()) })
}

// Bootstrap scans for modules, initializes every service in dependency order
// and mounts the controllers. Idempotent.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.booted {
		return nil
	}

	stats, err := a.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("app: module scan: %w", err)
	}
	a.Metrics.ObserveScan(stats)
	if lifecycle.ParsePolicy(a.Config.Boot.StartupErrorPolicy) == lifecycle.PolicyStrict {
		if failures := a.scanner.Failures(); len(failures) > 0 {
			return errors.Join(failures...)
		}
	}

	if err := a.Lifecycle.InitializeAll(ctx); err != nil {
		return err
	}
	a.Metrics.ObserveStartup(
		len(a.IoC.Services().InitOrder()),
		len(a.Lifecycle.Failures()),
		a.Middleware.Count(),
	)

	a.mountControllers()
	a.Router.Mount("/metrics", a.Metrics.Handler())

	a.booted = true
	return nil
}

// mountControllers wires every registered controller's routes, resolving a
// fresh injected instance per request.
func (a *App) mountControllers() {
	for _, name := range a.Controllers.Names() {
		def, _ := a.Controllers.Get(name)
		mount := func(r *routing.Router) {
			for _, route := range def.Routes {
				r.Method(route.Method, route.Path, a.dispatch(name, route))
			}
		}
		if def.URLPrefix != "" {
			a.Router.Prefix(def.URLPrefix, mount)
		} else {
			mount(a.Router)
		}
	}
}

// dispatch resolves a fresh controller instance and invokes the route
// handler on it.
func (a *App) dispatch(name string, route controller.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instance, err := a.Controllers.GetInstance(r.Context(), name)
		if err != nil {
			a.Logger.Error("controller resolution failed",
				zap.String("controller", name), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		route.Handler(instance, w, r)
	}
}

// requestAdapter creates the per-request context, runs the middleware chain
// around the inner handler and tears the context down at request end — even
// when the handler panicked.
func (a *App) requestAdapter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := request.New()
		rc.Activate()
		r = r.WithContext(request.WithContext(r.Context(), rc))

		defer func() {
			for _, err := range rc.Teardown() {
				a.Logger.Error("request cleanup failed",
					zap.String("request_id", rc.ID()), zap.Error(err))
			}
		}()

		if err := a.Middleware.Execute(rc, w, r, next.ServeHTTP); err != nil {
			a.Logger.Error("middleware chain failed",
				zap.String("request_id", rc.ID()), zap.Error(err))
		}
	})
}

// Run bootstraps (if needed) and serves HTTP until a termination signal,
// then shuts the server and every service down gracefully.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + a.Config.App.Port,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("listening",
			zap.String("app", a.Config.App.Name),
			zap.String("addr", srv.Addr),
			zap.String("env", a.Config.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*a.Config.Boot.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown", zap.Error(err))
	}
	return a.Shutdown(shutdownCtx)
}

// Shutdown drives DestroyAll: every OnShutdown hook in reverse init order.
func (a *App) Shutdown(ctx context.Context) error {
	start := time.Now()
	err := a.Lifecycle.DestroyAll(ctx)
	a.Logger.Info("application stopped", zap.Duration("took", time.Since(start)))
	return err
}

// Environment returns the APP_ENV value.
func (a *App) Environment() string { return a.Config.App.Env }
func (a *App) IsProduction() bool  { return a.Environment() == "production" }
func (a *App) IsTesting() bool     { return a.Environment() == "testing" }
