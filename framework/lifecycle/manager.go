// Package lifecycle orchestrates the initialize → startup → shutdown sequence
// across the service registry and the middleware chain.
//
// Hooks are awaited sequentially, never concurrently, so dependency order
// stays deterministic. Startup failures follow the configured policy
// (strict aborts, warn logs and continues, ignore suppresses); shutdown
// failures are always logged and never abort the remaining sequence, and each
// shutdown hook runs under a bounded time budget so one stuck service cannot
// block the process exit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/middleware"
)

// Policy governs how startup failures are handled.
type Policy string

const (
	// PolicyStrict aborts the whole startup on the first failure.
	PolicyStrict Policy = "strict"
	// PolicyWarn logs the failure and continues with the remaining services.
	PolicyWarn Policy = "warn"
	// PolicyIgnore suppresses the failure silently.
	PolicyIgnore Policy = "ignore"
)

// ParsePolicy maps a config string onto a Policy, defaulting to strict.
func ParsePolicy(s string) Policy {
	switch strings.ToLower(s) {
	case string(PolicyWarn):
		return PolicyWarn
	case string(PolicyIgnore):
		return PolicyIgnore
	default:
		return PolicyStrict
	}
}

// DefaultShutdownTimeout bounds each OnShutdown hook unless the embedding
// application configures its own budget.
const DefaultShutdownTimeout = 5 * time.Second

// Failure records one failed lifecycle step.
type Failure struct {
	Name  string // service or middleware name
	Stage string // "construct", "init", "startup", "shutdown"
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Name, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// StartupError aggregates startup failures surfaced per policy.
type StartupError struct {
	Failures []Failure
}

func (e *StartupError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "startup failed: " + strings.Join(parts, "; ")
}

func (e *StartupError) Unwrap() error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = e.Failures[i]
	}
	return errors.Join(errs...)
}

// ── Manager ───────────────────────────────────────────────────────────────────

// Manager drives ordered lifecycle execution.
type Manager struct {
	ioc        *container.Facade
	middleware *middleware.Registry
	logger     *zap.Logger

	policy          Policy
	shutdownTimeout time.Duration

	started  bool
	failures []Failure
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the startup error policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithShutdownTimeout sets the per-hook shutdown budget.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

// NewManager creates a lifecycle manager over the facade and the middleware
// registry. mw may be nil when no HTTP layer is embedded.
func NewManager(ioc *container.Facade, mw *middleware.Registry, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		ioc:             ioc,
		middleware:      mw,
		logger:          logger,
		policy:          PolicyStrict,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Started reports whether InitializeAll completed.
func (m *Manager) Started() bool { return m.started }

// Failures returns the startup failures recorded under warn/ignore policy.
func (m *Manager) Failures() []Failure { return m.failures }

// InitializeAll validates the dependency graph, constructs every singleton
// service in topological order (ties broken by registration order), runs
// OnInit per service, and only after all services finished OnInit runs every
// OnStartup in the same order. Singleton-scoped providers are materialized in
// the same phase so no post-boot resolution mutates shared state. Middleware
// hooks run after the corresponding service phase, in chain order. On success
// the registries seal.
//
// Graph errors — cycles, missing required dependencies, scope mismatches —
// are always fatal regardless of policy and abort before any construction.
func (m *Manager) InitializeAll(ctx context.Context) error {
	services := m.ioc.Services()

	if err := m.ioc.Injection().ValidateAll(); err != nil {
		m.logger.Error("dependency graph validation failed", zap.Error(err))
		return err
	}
	order, err := services.TopoOrder()
	if err != nil {
		return err
	}

	m.failures = nil

	// Phase 1: construct + OnInit, dependencies first.
	initialized := make([]string, 0, len(order))
	for _, name := range order {
		def, _ := services.Get(name)
		if def.Scope != container.ScopeSingleton {
			continue // built per resolution, not at boot
		}
		inst, err := m.ioc.ResolveByName(ctx, name)
		if err != nil {
			if fatal := m.fail(Failure{Name: name, Stage: "construct", Err: err}); fatal != nil {
				return fatal
			}
			continue
		}
		if init, ok := inst.(container.Initializer); ok {
			if err := init.OnInit(ctx); err != nil {
				// The facade cached the instance before the hook ran; a
				// half-initialized singleton must not be served as healthy.
				services.Evict(name)
				if fatal := m.fail(Failure{Name: name, Stage: "init", Err: err}); fatal != nil {
					return fatal
				}
				continue
			}
		}
		services.RecordInit(name)
		initialized = append(initialized, name)
		m.logger.Debug("service initialized", zap.String("service", name))
	}
	if err := m.warmSingletonProviders(ctx); err != nil {
		return err
	}
	if err := m.runMiddlewarePhase(ctx, "init"); err != nil {
		return err
	}

	// Phase 2: OnStartup, only after every OnInit completed.
	for _, name := range initialized {
		inst, _ := services.Instance(name)
		starter, ok := inst.(container.Starter)
		if !ok {
			continue
		}
		if err := starter.OnStartup(ctx); err != nil {
			if fatal := m.fail(Failure{Name: name, Stage: "startup", Err: err}); fatal != nil {
				return fatal
			}
			continue
		}
		m.logger.Info("service started", zap.String("service", name))
	}
	if err := m.runMiddlewarePhase(ctx, "startup"); err != nil {
		return err
	}

	m.seal()
	m.started = true

	fields := []zap.Field{zap.Int("services", len(initialized))}
	if m.middleware != nil {
		fields = append(fields, zap.Strings("middleware_chain", m.middleware.ChainNames()))
	}
	m.logger.Info("startup complete", fields...)
	return nil
}

// InitializeAllAsync runs InitializeAll in its own goroutine and delivers the
// result on the returned channel.
func (m *Manager) InitializeAllAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.InitializeAll(ctx) }()
	return done
}

// warmSingletonProviders materializes every singleton-scoped provider while
// boot is still single-threaded, so nothing writes the resolution cache once
// requests are served. Failures count as construct failures under the policy.
func (m *Manager) warmSingletonProviders(ctx context.Context) error {
	providers := m.ioc.Providers()
	for _, key := range providers.Names() {
		p, _ := providers.Get(key)
		if p.Kind != container.ProviderScoped || p.Scope != container.ScopeSingleton {
			continue
		}
		if m.ioc.Services().Has(key) {
			continue // shadowed; the service registry already owns this name
		}
		if _, err := m.ioc.ResolveByName(ctx, key); err != nil {
			if fatal := m.fail(Failure{Name: key, Stage: "construct", Err: err}); fatal != nil {
				return fatal
			}
		}
	}
	return nil
}

// runMiddlewarePhase runs the given hook over the middleware chain in chain
// order.
func (m *Manager) runMiddlewarePhase(ctx context.Context, stage string) error {
	if m.middleware == nil {
		return nil
	}
	for _, e := range m.middleware.Chain() {
		var err error
		switch stage {
		case "init":
			if init, ok := e.Middleware.(container.Initializer); ok {
				err = init.OnInit(ctx)
			}
		case "startup":
			if starter, ok := e.Middleware.(container.Starter); ok {
				err = starter.OnStartup(ctx)
			}
		}
		if err != nil {
			if fatal := m.fail(Failure{Name: e.Name, Stage: stage, Err: err}); fatal != nil {
				return fatal
			}
		}
	}
	return nil
}

// fail records a startup failure and applies the policy. A non-nil return
// aborts startup.
func (m *Manager) fail(f Failure) error {
	m.failures = append(m.failures, f)
	switch m.policy {
	case PolicyStrict:
		m.logger.Error("startup aborted", zap.String("name", f.Name), zap.String("stage", f.Stage), zap.Error(f.Err))
		return &StartupError{Failures: []Failure{f}}
	case PolicyWarn:
		m.logger.Warn("startup failure, continuing", zap.String("name", f.Name), zap.String("stage", f.Stage), zap.Error(f.Err))
	case PolicyIgnore:
		m.logger.Debug("startup failure suppressed", zap.String("name", f.Name), zap.String("stage", f.Stage), zap.Error(f.Err))
	}
	return nil
}

// seal freezes every registry; mutation after this point requires an explicit
// Clear() by the testing collaborator.
func (m *Manager) seal() {
	m.ioc.Services().Seal()
	m.ioc.Providers().Seal()
	if m.middleware != nil {
		m.middleware.Seal()
	}
}

// DestroyAll runs OnShutdown hooks in the reverse of the initialization
// order: middleware first in reverse chain order, then services. Each hook
// gets the configured time budget; a hook exceeding it is logged and the
// sequence proceeds. Individual failures never abort the remaining sequence;
// all of them are joined into the returned error.
func (m *Manager) DestroyAll(ctx context.Context) error {
	services := m.ioc.Services()
	var errs []error

	if m.middleware != nil {
		chain := m.middleware.Chain()
		for i := len(chain) - 1; i >= 0; i-- {
			stopper, ok := chain[i].Middleware.(container.Stopper)
			if !ok {
				continue
			}
			if err := m.runShutdownHook(ctx, chain[i].Name, stopper.OnShutdown); err != nil {
				errs = append(errs, Failure{Name: chain[i].Name, Stage: "shutdown", Err: err})
			}
		}
	}

	order := services.InitOrder()
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		inst, ok := services.Instance(name)
		if !ok {
			continue
		}
		stopper, ok := inst.(container.Stopper)
		if !ok {
			continue
		}
		if err := m.runShutdownHook(ctx, name, stopper.OnShutdown); err != nil {
			errs = append(errs, Failure{Name: name, Stage: "shutdown", Err: err})
		}
	}

	m.started = false
	m.logger.Info("shutdown complete", zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// runShutdownHook awaits one hook under the shutdown budget so a stuck hook
// cannot block the rest of the sequence.
func (m *Manager) runShutdownHook(ctx context.Context, name string, hook func(context.Context) error) error {
	hctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- hook(hctx) }()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Error("shutdown hook failed", zap.String("name", name), zap.Error(err))
		}
		return err
	case <-hctx.Done():
		m.logger.Error("shutdown hook exceeded budget",
			zap.String("name", name), zap.Duration("budget", m.shutdownTimeout))
		return fmt.Errorf("shutdown of %s exceeded %s budget", name, m.shutdownTimeout)
	}
}
