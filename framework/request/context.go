// Package request provides the per-request scoped state holder.
//
// A Context is created by the HTTP layer when a request arrives, travels with
// the request via the standard context.Context, caches request-scoped
// instances while active, and runs its cleanup callbacks in reverse
// registration order at teardown — whether the handler finished normally or
// not.
package request

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the Context life stage: created → active → torn-down.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Context is the per-request scoped state holder.
//
// Only id and start time are allocated up front; metadata, cleanup callbacks
// and the scoped-instance cache are lazily allocated on first write, so a
// request that never touches them costs nothing beyond the struct itself.
// A Context is owned exclusively by its request-handling goroutine and is
// not safe for concurrent use.
type Context struct {
	id        string
	startTime time.Time
	state     State

	metadata map[string]any
	cleanups []func() error
	scoped   map[string]any
}

// New creates a Context in the created state with a fresh uuid.
func New() *Context {
	return &Context{
		id:        uuid.NewString(),
		startTime: time.Now(),
		state:     StateCreated,
	}
}

// ID returns the request id.
func (c *Context) ID() string { return c.id }

// StartTime returns the request arrival time.
func (c *Context) StartTime() time.Time { return c.startTime }

// State returns the current life stage.
func (c *Context) State() State { return c.state }

// Activate moves the context into the active state. Scoped resolutions are
// cached only while active.
func (c *Context) Activate() {
	if c.state == StateCreated {
		c.state = StateActive
	}
}

// Set stores a metadata value.
func (c *Context) Set(key string, value any) {
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	c.metadata[key] = value
}

// Get returns a metadata value. A missing key never allocates.
func (c *Context) Get(key string) (any, bool) {
	if c.metadata == nil {
		return nil, false
	}
	v, ok := c.metadata[key]
	return v, ok
}

// OnCleanup registers a callback run at teardown. Callbacks run in reverse
// registration order.
func (c *Context) OnCleanup(fn func() error) {
	c.cleanups = append(c.cleanups, fn)
}

// Scoped returns the cached request-scoped instance for key, if any.
// Nothing is cached outside the active state.
func (c *Context) Scoped(key string) (any, bool) {
	if c.state != StateActive || c.scoped == nil {
		return nil, false
	}
	v, ok := c.scoped[key]
	return v, ok
}

// StoreScoped caches a request-scoped instance. Stores outside the active
// state are dropped so an instance can never outlive its context.
func (c *Context) StoreScoped(key string, instance any) {
	if c.state != StateActive {
		return
	}
	if c.scoped == nil {
		c.scoped = make(map[string]any)
	}
	c.scoped[key] = instance
}

// Teardown runs every cleanup callback in reverse registration order,
// discards all scoped instances and moves the context to torn-down.
// It is idempotent: a second call is a no-op. Callback panics are converted
// to errors so later callbacks still run; all failures are returned.
func (c *Context) Teardown() []error {
	if c.state == StateTornDown {
		return nil
	}
	c.state = StateTornDown

	var errs []error
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		if err := runCleanup(c.cleanups[i]); err != nil {
			errs = append(errs, err)
		}
	}
	c.cleanups = nil
	c.scoped = nil
	return errs
}

func runCleanup(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("request: cleanup panic: %v", rec)
		}
	}()
	return fn()
}

// Elapsed returns time since request arrival.
func (c *Context) Elapsed() time.Duration { return time.Since(c.startTime) }

// ── Ambient lookup ────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithContext attaches the request Context to a standard context.Context.
func WithContext(parent context.Context, rc *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, rc)
}

// FromContext returns the ambient request Context, or nil when the caller is
// not inside a request.
func FromContext(ctx context.Context) *Context {
	rc, _ := ctx.Value(ctxKey{}).(*Context)
	return rc
}
