package container_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/request"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type Database interface {
	Ping() bool
}

type MockDB struct {
	pings     int
	initCalls int
	shutCalls int
}

func (d *MockDB) Ping() bool { d.pings++; return true }

func (d *MockDB) OnInit(ctx context.Context) error { d.initCalls++; return nil }

func (d *MockDB) OnShutdown(ctx context.Context) error { d.shutCalls++; return nil }

type Repo struct {
	DB *MockDB
}

// mapScope is a minimal custom scope.
type mapScope struct {
	name      string
	instances map[string]any
	destroyed bool
}

func (s *mapScope) Name() string { return s.name }
func (s *mapScope) Get(key string) (any, bool) {
	v, ok := s.instances[key]
	return v, ok
}
func (s *mapScope) Create(key string, instance any) {
	if s.instances == nil {
		s.instances = make(map[string]any)
	}
	s.instances[key] = instance
}
func (s *mapScope) Destroy() error {
	s.instances = nil
	s.destroyed = true
	return nil
}

// ── suite ─────────────────────────────────────────────────────────────────────

type ContainerTestSuite struct {
	suite.Suite

	services  *container.ServiceRegistry
	providers *container.ProviderRegistry
	ioc       *container.Facade
	ctx       context.Context
}

func (s *ContainerTestSuite) SetupTest() {
	s.services = container.NewServiceRegistry()
	s.providers = container.NewProviderRegistry()
	s.ioc = container.New(s.services, s.providers)
	s.ctx = context.Background()
}

func TestContainerSuite(t *testing.T) {
	suite.Run(t, new(ContainerTestSuite))
}

// ── singleton services ────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestSingleton_ConstructedAtMostOnce() {
	builds := 0
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { builds++; return &MockDB{}, nil },
	)))

	first, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)
	second, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(1, builds)
}

func (s *ContainerTestSuite) TestInjection_SingletonSharedAcrossConsumers() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))
	s.Require().NoError(s.services.RegisterService(container.Define("repo",
		func(deps []any) (*Repo, error) { return &Repo{DB: deps[0].(*MockDB)}, nil },
		container.WithInject(container.ByName("db")),
	)))

	repo, err := s.ioc.ResolveByName(s.ctx, "repo")
	s.Require().NoError(err)
	db, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)

	s.Same(db, repo.(*Repo).DB)
}

// ── required vs optional ──────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestMissingRequired_FailsBeforeConstruction() {
	builds := 0
	s.Require().NoError(s.services.RegisterService(container.Define("svc",
		func([]any) (*Repo, error) { builds++; return &Repo{}, nil },
		container.WithInject(container.ByName("missing")),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "svc")

	var missing *container.MissingDependencyError
	s.Require().ErrorAs(err, &missing)
	s.Equal("missing", missing.Key)
	s.Equal("svc", missing.Consumer)
	s.Zero(builds, "construction must not start with an unresolvable graph")
}

func (s *ContainerTestSuite) TestMissingOptional_BindsNil() {
	s.Require().NoError(s.services.RegisterService(container.Define("svc",
		func(deps []any) (*Repo, error) {
			s.Nil(deps[0])
			return &Repo{}, nil
		},
		container.WithInject(container.ByNameOptional("missing")),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "svc")
	s.NoError(err)
}

// ── cycle detection ───────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestCycle_DetectedWithFullPathAndNothingConstructed() {
	builds := 0
	s.Require().NoError(s.services.RegisterService(container.Define("a",
		func([]any) (*Repo, error) { builds++; return &Repo{}, nil },
		container.WithInject(container.ByName("b")),
	)))
	s.Require().NoError(s.services.RegisterService(container.Define("b",
		func([]any) (*Repo, error) { builds++; return &Repo{}, nil },
		container.WithInject(container.ByName("a")),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "a")

	var cyc *container.CircularDependencyError
	s.Require().ErrorAs(err, &cyc)
	s.Equal([]string{"a", "b", "a"}, cyc.Path)
	s.Contains(cyc.Error(), "a -> b -> a")
	s.Zero(builds, "no service in a cycle may ever be constructed")
}

func (s *ContainerTestSuite) TestCycle_SelfDependency() {
	s.Require().NoError(s.services.RegisterService(container.Define("a",
		func([]any) (*Repo, error) { return &Repo{}, nil },
		container.WithDependencies("a"),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "a")

	var cyc *container.CircularDependencyError
	s.Require().ErrorAs(err, &cyc)
	s.Equal([]string{"a", "a"}, cyc.Path)
}

func (s *ContainerTestSuite) TestOverwrite_RevalidatesGraph() {
	s.Require().NoError(s.services.RegisterService(container.Define("a",
		func([]any) (*Repo, error) { return &Repo{}, nil },
		container.WithScope(container.ScopeTransient),
	)))
	_, err := s.ioc.ResolveByName(s.ctx, "a")
	s.Require().NoError(err)

	// Pre-seal overwrite introduces a self-cycle; the earlier successful
	// resolution must not exempt the new definition from validation.
	s.Require().NoError(s.services.RegisterService(container.Define("a",
		func(deps []any) (*Repo, error) { return &Repo{}, nil },
		container.WithScope(container.ScopeTransient),
		container.WithInject(container.ByName("a")),
	)))

	_, err = s.ioc.ResolveByName(s.ctx, "a")
	var cyc *container.CircularDependencyError
	s.Require().ErrorAs(err, &cyc)
	s.Equal([]string{"a", "a"}, cyc.Path)
}

func (s *ContainerTestSuite) TestOverwrite_DropsStaleTypeIndexAndInstance() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))
	old, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)

	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*Repo, error) { return &Repo{}, nil },
	)))

	s.False(container.HasType[*MockDB](s.ioc), "replaced type must leave the index")
	replacement, err := container.Resolve[*Repo](s.ctx, s.ioc)
	s.Require().NoError(err)
	s.NotNil(replacement)

	got, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)
	s.NotSame(old, got, "overwrite must drop the old cached singleton")
	s.IsType(&Repo{}, got)
}

// ── scope mismatch ────────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestScopeMismatch_SingletonCapturingRequestScoped() {
	s.Require().NoError(s.services.RegisterService(container.Define("session",
		func([]any) (*Repo, error) { return &Repo{}, nil },
		container.WithScope(container.ScopeRequest),
	)))
	s.Require().NoError(s.services.RegisterService(container.Define("svc",
		func(deps []any) (*Repo, error) { return &Repo{}, nil },
		container.WithInject(container.ByName("session")),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "svc")

	var mismatch *container.ScopeMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.Equal("svc", mismatch.Consumer)
	s.Equal("session", mismatch.Dependency)
}

func (s *ContainerTestSuite) TestScopeMismatch_ThroughTransientChain() {
	s.Require().NoError(s.services.RegisterService(container.Define("session",
		func([]any) (*Repo, error) { return &Repo{}, nil },
		container.WithScope(container.ScopeRequest),
	)))
	// maker is transient, but built for a singleton it lives as long as one.
	s.Require().NoError(s.services.RegisterService(container.Define("maker",
		func(deps []any) (*Repo, error) { return &Repo{}, nil },
		container.WithScope(container.ScopeTransient),
		container.WithInject(container.ByName("session")),
	)))
	s.Require().NoError(s.services.RegisterService(container.Define("svc",
		func(deps []any) (*Repo, error) { return &Repo{}, nil },
		container.WithInject(container.ByName("maker")),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "svc")

	var mismatch *container.ScopeMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.Equal("session", mismatch.Dependency)
	s.Equal(container.ScopeSingleton, mismatch.ConsumerScope)

	// Resolved for a transient root the same chain is fine: the request
	// dependency binds per context.
	rc := request.New()
	rc.Activate()
	defer rc.Teardown()
	_, err = s.ioc.ResolveByName(request.WithContext(s.ctx, rc), "maker")
	s.NoError(err)
}

// ── transient & request scopes ────────────────────────────────────────────────

func (s *ContainerTestSuite) TestTransient_FreshPerResolution() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
		container.WithScope(container.ScopeTransient),
	)))

	first, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)
	second, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)

	s.NotSame(first, second)
	s.Equal(1, first.(*MockDB).initCalls, "OnInit runs inline for transient builds")
}

func (s *ContainerTestSuite) TestRequestScoped_CachedPerContext() {
	s.Require().NoError(s.services.RegisterService(container.Define("session",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
		container.WithScope(container.ScopeRequest),
	)))

	rc1 := request.New()
	rc1.Activate()
	ctx1 := request.WithContext(s.ctx, rc1)
	rc2 := request.New()
	rc2.Activate()
	ctx2 := request.WithContext(s.ctx, rc2)

	a1, err := s.ioc.ResolveByName(ctx1, "session")
	s.Require().NoError(err)
	a2, err := s.ioc.ResolveByName(ctx1, "session")
	s.Require().NoError(err)
	b, err := s.ioc.ResolveByName(ctx2, "session")
	s.Require().NoError(err)

	s.Same(a1, a2, "one instance per request context")
	s.NotSame(a1, b, "instances must not leak across contexts")

	rc1.Teardown()
	s.Equal(1, a1.(*MockDB).shutCalls, "OnShutdown runs at context teardown")
	if _, ok := rc1.Scoped("svc:session"); ok {
		s.Fail("request-scoped instance survived its context")
	}
}

func (s *ContainerTestSuite) TestRequestScoped_WithoutContextFails() {
	s.Require().NoError(s.services.RegisterService(container.Define("session",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
		container.WithScope(container.ScopeRequest),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "session")
	s.ErrorIs(err, container.ErrNoRequestContext)
}

// ── custom scopes ─────────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestCustomScope_CachesThroughHandler() {
	scope := &mapScope{name: "job"}
	s.ioc.RegisterScope(scope)

	s.Require().NoError(s.services.RegisterService(container.Define("worker",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
		container.WithScope(container.Scope("job")),
	)))

	first, err := s.ioc.ResolveByName(s.ctx, "worker")
	s.Require().NoError(err)
	second, err := s.ioc.ResolveByName(s.ctx, "worker")
	s.Require().NoError(err)

	s.Same(first, second)
	s.Len(scope.instances, 1)
}

func (s *ContainerTestSuite) TestCustomScope_UnknownScopeFails() {
	s.Require().NoError(s.services.RegisterService(container.Define("worker",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
		container.WithScope(container.Scope("job")),
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "worker")
	s.Error(err)
	s.Contains(err.Error(), "unknown scope")
}

// ── providers ─────────────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestProvider_Instance() {
	cfg := &Repo{}
	s.Require().NoError(s.providers.RegisterInstance("config", cfg))

	got, err := s.ioc.ResolveByName(s.ctx, "config")
	s.Require().NoError(err)
	s.Same(cfg, got)
}

func (s *ContainerTestSuite) TestProvider_ConstructorRunsPerResolution() {
	builds := 0
	s.Require().NoError(s.providers.RegisterConstructor("conn", func() (any, error) {
		builds++
		return &MockDB{}, nil
	}))

	_, _ = s.ioc.ResolveByName(s.ctx, "conn")
	_, _ = s.ioc.ResolveByName(s.ctx, "conn")
	s.Equal(2, builds)
}

func (s *ContainerTestSuite) TestProvider_FactoryResolvesThroughFacade() {
	s.Require().NoError(s.providers.RegisterInstance("dsn", "localhost:5432"))
	s.Require().NoError(s.providers.RegisterFactory("conn", func(ioc *container.Facade) (any, error) {
		dsn, err := ioc.ResolveByName(context.Background(), "dsn")
		if err != nil {
			return nil, err
		}
		return "conn@" + dsn.(string), nil
	}))

	got, err := s.ioc.ResolveByName(s.ctx, "conn")
	s.Require().NoError(err)
	s.Equal("conn@localhost:5432", got)
}

func (s *ContainerTestSuite) TestProvider_ScopedSingletonCached() {
	builds := 0
	s.Require().NoError(s.providers.RegisterScoped("pool", container.ScopeSingleton,
		func(*container.Facade) (any, error) {
			builds++
			return &MockDB{}, nil
		}))

	first, err := s.ioc.ResolveByName(s.ctx, "pool")
	s.Require().NoError(err)
	second, err := s.ioc.ResolveByName(s.ctx, "pool")
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(1, builds)
}

func (s *ContainerTestSuite) TestProvider_ScopedSingletonConcurrentResolutionsShareInstance() {
	s.Require().NoError(s.providers.RegisterScoped("pool", container.ScopeSingleton,
		func(*container.Facade) (any, error) {
			return &MockDB{}, nil
		}))
	s.providers.Seal()

	const n = 8
	results := make([]any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.ioc.ResolveByName(s.ctx, "pool")
			s.NoError(err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		s.Same(results[0], results[i], "every resolver must see the same singleton")
	}
}

func (s *ContainerTestSuite) TestResolution_ServicesBeforeProviders() {
	s.Require().NoError(s.providers.RegisterInstance("db", "provider-value"))
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))

	got, err := s.ioc.ResolveByName(s.ctx, "db")
	s.Require().NoError(err)
	s.IsType(&MockDB{}, got, "service registry has priority over providers")
}

// ── by-type resolution ────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestResolveByType() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))

	db, err := container.Resolve[*MockDB](s.ctx, s.ioc)
	s.Require().NoError(err)
	s.NotNil(db)
	s.True(container.HasType[*MockDB](s.ioc))
}

func (s *ContainerTestSuite) TestResolveByType_InterfaceMatchesConcrete() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))

	db, err := container.Resolve[Database](s.ctx, s.ioc)
	s.Require().NoError(err)
	s.True(db.Ping())
}

// ── facade surface ────────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestHasDependency() {
	s.Require().NoError(s.providers.RegisterInstance("config", &Repo{}))
	s.True(s.ioc.HasDependency("config"))
	s.False(s.ioc.HasDependency("nope"))
}

func (s *ContainerTestSuite) TestResolveOptional_MissingReturnsNil() {
	got, err := s.ioc.ResolveOptional(s.ctx, "nope")
	s.NoError(err)
	s.Nil(got)
}

func (s *ContainerTestSuite) TestClear_InvalidatesResolutionCache() {
	builds := 0
	register := func() {
		s.Require().NoError(s.providers.RegisterScoped("pool", container.ScopeSingleton,
			func(*container.Facade) (any, error) {
				builds++
				return &MockDB{}, nil
			}))
	}
	register()
	_, err := s.ioc.ResolveByName(s.ctx, "pool")
	s.Require().NoError(err)

	s.providers.Clear()
	register()
	_, err = s.ioc.ResolveByName(s.ctx, "pool")
	s.Require().NoError(err)

	s.Equal(2, builds, "Clear must drop cached singleton resolutions")
}

func (s *ContainerTestSuite) TestReset_ClearsEverything() {
	s.Require().NoError(s.providers.RegisterInstance("config", &Repo{}))
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))

	s.ioc.Reset()

	s.False(s.ioc.HasDependency("config"))
	s.False(s.ioc.HasDependency("db"))
}

// ── sealing ───────────────────────────────────────────────────────────────────

func (s *ContainerTestSuite) TestSealedRegistry_DuplicateServiceRejected() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	)))
	s.services.Seal()

	err := s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return &MockDB{}, nil },
	))
	var dup *container.DuplicateRegistrationError
	s.ErrorAs(err, &dup)
}

func (s *ContainerTestSuite) TestBuildError_Wrapped() {
	s.Require().NoError(s.services.RegisterService(container.Define("db",
		func([]any) (*MockDB, error) { return nil, errors.New("dial failed") },
	)))

	_, err := s.ioc.ResolveByName(s.ctx, "db")
	var cerr *container.ConstructionError
	s.Require().ErrorAs(err, &cerr)
	s.Equal("db", cerr.Name)
}
