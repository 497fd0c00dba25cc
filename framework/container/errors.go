package container

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loomkit/loom/framework/registry"
)

// DuplicateRegistrationError reports a name collision on a sealed registry.
type DuplicateRegistrationError = registry.DuplicateRegistrationError

// ErrNoRequestContext is returned when a request-scoped resolution happens
// outside an active request context.
var ErrNoRequestContext = errors.New("container: no active request context")

// MissingDependencyError reports a required injection point that neither the
// service registry nor the provider registry could satisfy.
type MissingDependencyError struct {
	Key      string
	Consumer string
}

func (e *MissingDependencyError) Error() string {
	if e.Consumer == "" {
		return fmt.Sprintf("missing dependency: %s", e.Key)
	}
	return fmt.Sprintf("missing dependency: %s (required by %s)", e.Key, e.Consumer)
}

// CircularDependencyError reports a dependency cycle. Path holds the full
// cycle, first node repeated at the end.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency detected: " + strings.Join(e.Path, " -> ")
}

// ScopeMismatchError reports a narrower-lifetime dependency requested by a
// broader-lifetime consumer, e.g. a singleton depending on a request-scoped
// service.
type ScopeMismatchError struct {
	Consumer        string
	ConsumerScope   Scope
	Dependency      string
	DependencyScope Scope
}

func (e *ScopeMismatchError) Error() string {
	return fmt.Sprintf("scope mismatch: %s-scoped %s depends on %s-scoped %s",
		e.ConsumerScope, e.Consumer, e.DependencyScope, e.Dependency)
}

// ConstructionError reports a service build or factory failure.
type ConstructionError struct {
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construction failed for %s: %v", e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// TypeMismatchError reports a resolution whose value had an unexpected type.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}
