// Package middleware provides the priority-ordered request/response
// interceptor chain.
//
// Entries run their request phase in ascending (priority, registration order)
// — the order is a pure function of those pairs, stable for equal priorities.
// A request-phase entry returning proceed=false (or an error) short-circuits:
// no later request-phase entry nor the handler runs, but every entry that
// already ran still gets its response phase, in exact reverse order, so
// headers and cleanup stay consistent.
package middleware

import (
	"errors"
	"net/http"
	"sort"

	"github.com/loomkit/loom/framework/registry"
	"github.com/loomkit/loom/framework/request"
)

// Middleware intercepts a request before the handler and the response after
// it.
type Middleware interface {
	// ProcessRequest runs before the handler. Returning proceed=false
	// short-circuits the chain; the entry may have written the response
	// itself (e.g. a 401).
	ProcessRequest(rc *request.Context, w http.ResponseWriter, r *http.Request) (proceed bool, err error)

	// ProcessResponse runs after the handler (or after a short-circuit) in
	// reverse request-phase order.
	ProcessResponse(rc *request.Context, w http.ResponseWriter, r *http.Request) error
}

// Entry is one resolved chain position, exposed for introspection.
type Entry struct {
	Name       string
	Middleware Middleware
	Priority   int
	Order      int // registration order, tie-breaker
}

// Registry maintains the middleware chain.
type Registry struct {
	*registry.Registry[Middleware]
}

// NewRegistry creates an empty middleware registry.
func NewRegistry() *Registry {
	return &Registry{Registry: registry.New[Middleware]("middleware")}
}

// Add registers mw under name with the given priority. Lower priorities run
// first in the request phase.
func (r *Registry) Add(name string, mw Middleware, priority int) error {
	return r.Register(name, mw, registry.Metadata{Priority: priority})
}

// Chain returns the effective order: ascending priority, registration order
// breaking ties.
func (r *Registry) Chain() []Entry {
	names := r.Names()
	entries := make([]Entry, 0, len(names))
	for i, name := range names {
		mw, _ := r.Get(name)
		meta, _ := r.Metadata(name)
		entries = append(entries, Entry{Name: name, Middleware: mw, Priority: meta.Priority, Order: i})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority < entries[j].Priority
	})
	return entries
}

// ChainNames returns the effective order by name, for boot-time logging.
func (r *Registry) ChainNames() []string {
	entries := r.Chain()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Execute runs the chain around handler. The returned error joins every
// middleware failure from both phases; a short-circuit by itself is not an
// error. Response-phase failures never stop the remaining response phase.
func (r *Registry) Execute(rc *request.Context, w http.ResponseWriter, req *http.Request, handler http.HandlerFunc) error {
	entries := r.Chain()

	var errs []error
	ran := 0
	proceed := true
	for _, e := range entries {
		ok, err := e.Middleware.ProcessRequest(rc, w, req)
		ran++
		if err != nil {
			errs = append(errs, err)
			proceed = false
			break
		}
		if !ok {
			proceed = false
			break
		}
	}

	if proceed && handler != nil {
		handler(w, req)
	}

	for i := ran - 1; i >= 0; i-- {
		if err := entries[i].Middleware.ProcessResponse(rc, w, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── Func adapters ─────────────────────────────────────────────────────────────

// Func adapts two plain functions into a Middleware. Either may be nil.
type Func struct {
	OnRequest  func(rc *request.Context, w http.ResponseWriter, r *http.Request) (bool, error)
	OnResponse func(rc *request.Context, w http.ResponseWriter, r *http.Request) error
}

func (f Func) ProcessRequest(rc *request.Context, w http.ResponseWriter, r *http.Request) (bool, error) {
	if f.OnRequest == nil {
		return true, nil
	}
	return f.OnRequest(rc, w, r)
}

func (f Func) ProcessResponse(rc *request.Context, w http.ResponseWriter, r *http.Request) error {
	if f.OnResponse == nil {
		return nil
	}
	return f.OnResponse(rc, w, r)
}
