package request_test

import (
	"context"
	"errors"
	"testing"

	"github.com/loomkit/loom/framework/request"
)

func TestContext_StateMachine(t *testing.T) {
	rc := request.New()
	if rc.State() != request.StateCreated {
		t.Fatalf("new context state: got %v, want created", rc.State())
	}
	rc.Activate()
	if rc.State() != request.StateActive {
		t.Fatalf("after Activate: got %v, want active", rc.State())
	}
	rc.Teardown()
	if rc.State() != request.StateTornDown {
		t.Fatalf("after Teardown: got %v, want torn-down", rc.State())
	}
}

func TestContext_Metadata_LazyAndRoundTrip(t *testing.T) {
	rc := request.New()

	if _, ok := rc.Get("missing"); ok {
		t.Error("Get on empty metadata should report false")
	}

	rc.Set("user", "alice")
	v, ok := rc.Get("user")
	if !ok || v != "alice" {
		t.Errorf("Get: got (%v, %v), want (alice, true)", v, ok)
	}
}

func TestContext_Teardown_ReverseOrderExactlyOnce(t *testing.T) {
	rc := request.New()
	rc.Activate()

	var order []string
	for _, name := range []string{"f1", "f2", "f3"} {
		name := name
		rc.OnCleanup(func() error {
			order = append(order, name)
			return nil
		})
	}

	rc.Teardown()
	rc.Teardown() // idempotent

	want := []string{"f3", "f2", "f1"}
	if len(order) != 3 {
		t.Fatalf("cleanups ran %d times, want 3: %v", len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("cleanup order: got %v, want %v", order, want)
		}
	}
}

func TestContext_Teardown_CollectsFailuresAndContinues(t *testing.T) {
	rc := request.New()
	rc.Activate()

	ran := false
	rc.OnCleanup(func() error { ran = true; return nil })
	rc.OnCleanup(func() error { return errors.New("boom") })
	rc.OnCleanup(func() error { panic("bad cleanup") })

	errs := rc.Teardown()
	if len(errs) != 2 {
		t.Fatalf("Teardown errors: got %d, want 2 (%v)", len(errs), errs)
	}
	if !ran {
		t.Error("earlier cleanup should still run after later failures")
	}
}

func TestContext_Scoped_OnlyWhileActive(t *testing.T) {
	rc := request.New()

	rc.StoreScoped("svc:db", "conn") // created, not active — dropped
	if _, ok := rc.Scoped("svc:db"); ok {
		t.Error("scoped cache must be empty before Activate")
	}

	rc.Activate()
	rc.StoreScoped("svc:db", "conn")
	if v, ok := rc.Scoped("svc:db"); !ok || v != "conn" {
		t.Errorf("Scoped while active: got (%v, %v)", v, ok)
	}

	rc.Teardown()
	if _, ok := rc.Scoped("svc:db"); ok {
		t.Error("scoped instance must not survive teardown")
	}
}

func TestContext_AmbientLookup(t *testing.T) {
	rc := request.New()
	ctx := request.WithContext(context.Background(), rc)

	if got := request.FromContext(ctx); got != rc {
		t.Error("FromContext should return the attached context")
	}
	if got := request.FromContext(context.Background()); got != nil {
		t.Error("FromContext outside a request should return nil")
	}
}

func TestContext_UniqueIDs(t *testing.T) {
	if request.New().ID() == request.New().ID() {
		t.Error("two contexts should not share an id")
	}
}
