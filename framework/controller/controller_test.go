package controller_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/controller"
)

type userRepo struct{}

type userController struct {
	Repo *userRepo
}

func (c *userController) Index(w http.ResponseWriter, r *http.Request) {}

func setup(t *testing.T) (*container.Facade, *controller.Registry) {
	t.Helper()
	services := container.NewServiceRegistry()
	providers := container.NewProviderRegistry()
	ioc := container.New(services, providers)
	if err := services.RegisterService(container.Define("user-repo",
		func([]any) (*userRepo, error) { return &userRepo{}, nil },
	)); err != nil {
		t.Fatal(err)
	}
	return ioc, controller.NewRegistry(ioc)
}

func usersDefinition() controller.Definition {
	return controller.Define("users", "/users",
		func(deps []any) (*userController, error) {
			return &userController{Repo: deps[0].(*userRepo)}, nil
		}, container.ByName("user-repo"))
}

func TestFreshInstancePerRequestWithSharedSingletons(t *testing.T) {
	ioc, reg := setup(t)
	if err := reg.RegisterController(usersDefinition()); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	first, err := reg.GetInstance(ctx, "users")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := reg.GetInstance(ctx, "users")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if first == second {
		t.Fatal("controllers must be constructed fresh per request")
	}
	if first.(*userController).Repo != second.(*userController).Repo {
		t.Fatal("singleton dependencies must be shared across instances")
	}

	repo, err := ioc.ResolveByName(ctx, "user-repo")
	if err != nil {
		t.Fatalf("resolve repo: %v", err)
	}
	if first.(*userController).Repo != repo.(*userRepo) {
		t.Fatal("injected repo is not the container singleton")
	}
}

func TestMissingControllerDependencyFailsResolution(t *testing.T) {
	_, reg := setup(t)
	def := controller.Define("orders", "/orders",
		func(deps []any) (*userController, error) { return &userController{}, nil },
		container.ByName("order-repo"))
	if err := reg.RegisterController(def); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := reg.GetInstance(context.Background(), "orders")
	var missing *container.MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingDependencyError, got %v", err)
	}
}

func TestAddRoute(t *testing.T) {
	_, reg := setup(t)
	if err := reg.RegisterController(usersDefinition()); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := controller.Handler(func(c *userController, w http.ResponseWriter, r *http.Request) {
		c.Index(w, r)
	})
	if err := reg.AddRoute("users", http.MethodGet, "/", h); err != nil {
		t.Fatalf("add route: %v", err)
	}
	if err := reg.AddRoute("users", http.MethodPost, "/", h); err != nil {
		t.Fatalf("add route: %v", err)
	}

	def, ok := reg.Get("users")
	if !ok {
		t.Fatal("controller vanished")
	}
	if len(def.Routes) != 2 {
		t.Fatalf("routes: got %d, want 2", len(def.Routes))
	}
	if def.Routes[0].Method != http.MethodGet || def.Routes[1].Method != http.MethodPost {
		t.Fatalf("route methods: %+v", def.Routes)
	}
}

func TestAddRouteUnknownController(t *testing.T) {
	_, reg := setup(t)
	if err := reg.AddRoute("ghost", http.MethodGet, "/", nil); err == nil {
		t.Fatal("want error for unknown controller")
	}
}

func TestGetInstanceUnknownController(t *testing.T) {
	_, reg := setup(t)
	if _, err := reg.GetInstance(context.Background(), "ghost"); err == nil {
		t.Fatal("want error for unknown controller")
	}
}
