package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/loomkit/loom/framework/app"
	"github.com/loomkit/loom/framework/container"
	"github.com/loomkit/loom/framework/controller"
	"github.com/loomkit/loom/framework/middleware"
	"github.com/loomkit/loom/framework/providers"
	"github.com/loomkit/loom/framework/request"
)

// UserStore is a demo singleton service with lifecycle hooks.
type UserStore struct {
	mu    sync.RWMutex
	users map[int]string
}

func (s *UserStore) OnInit(ctx context.Context) error {
	s.users = map[int]string{1: "Alice", 2: "Bob"}
	return nil
}

func (s *UserStore) OnShutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = nil
	return nil
}

func (s *UserStore) All() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]string, len(s.users))
	for id, name := range s.users {
		out[id] = name
	}
	return out
}

// UserController serves /api/users with the store injected per request.
type UserController struct {
	Store *UserStore
}

func (c *UserController) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.Store.All())
}

// usersModule registers the demo services, controller and middleware.
type usersModule struct{}

func (usersModule) Name() string { return "demo/users" }

func (usersModule) Register(r *providers.Registries) error {
	err := r.Services.RegisterService(container.Define("user-store",
		func([]any) (*UserStore, error) { return &UserStore{}, nil },
	))
	if err != nil {
		return err
	}

	def := controller.Define("users", "/api/users",
		func(deps []any) (*UserController, error) {
			return &UserController{Store: deps[0].(*UserStore)}, nil
		},
		container.ByName("user-store"),
	)
	def.Routes = append(def.Routes, controller.Route{
		Method: http.MethodGet,
		Path:   "/",
		Handler: controller.Handler(func(c *UserController, w http.ResponseWriter, r *http.Request) {
			c.Index(w, r)
		}),
	})
	if err := r.Controllers.RegisterController(def); err != nil {
		return err
	}

	return r.Middleware.Add("request-id-header", middleware.Func{
		OnResponse: func(rc *request.Context, w http.ResponseWriter, _ *http.Request) error {
			w.Header().Set("X-Request-ID", rc.ID())
			return nil
		},
	}, 50)
}

func main() {
	application, err := app.New() // loads .env automatically
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}

	// Explicit registration path; set LOOM_AUTO_SCAN=false to skip discovery
	// entirely, or AddModule + a module source for scanned layouts.
	if err := application.Register(usersModule{}); err != nil {
		log.Fatalf("module error: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
