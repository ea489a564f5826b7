// Package errors defines the failure taxonomy shared by the sandbox client,
// the delegation resolver and the freezing crawler.
//
// Every failure that can cross the trust boundary is represented as a
// RenderError with a fixed Kind so callers can switch on the category
// without re-inspecting raw payloads. Sandbox-originated kinds (pull, build,
// dependency, policy) participate in the resolver's fallback chain; the
// circular kind is always fatal.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a render failure.
type Kind string

const (
	// KindPull means the delegated repository could not be cloned or pulled.
	KindPull Kind = "pull"
	// KindBuild means the sandbox environment or task execution failed.
	KindBuild Kind = "build"
	// KindDependency means the fork declares dependencies incompatible with
	// the host's pinned environment.
	KindDependency Kind = "dependency"
	// KindNotFound means the requested content unit does not exist.
	KindNotFound Kind = "not_found"
	// KindPolicy means delegated HTML/CSS contained disallowed content.
	KindPolicy Kind = "policy"
	// KindCircular means a delegated source attempted to delegate again.
	KindCircular Kind = "circular"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// RenderError is a structured error carrying the failure kind and enough
// context (course slug, page path, repository) for a diagnostic page.
type RenderError struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]string
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	for k, v := range e.Context {
		parts = append(parts, k+"="+v)
	}
	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Is compares errors by kind.
func (e *RenderError) Is(target error) bool {
	var t *RenderError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// WithContext attaches a key/value pair and returns the error.
func (e *RenderError) WithContext(key, value string) *RenderError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// NewPullError creates a pull failure for the given repository.
func NewPullError(repo string, cause error) *RenderError {
	return &RenderError{
		Kind:    KindPull,
		Message: "repository unreachable",
		Cause:   cause,
		Context: map[string]string{"repo": repo},
	}
}

// NewBuildError creates a sandbox build/execution failure.
func NewBuildError(message string, cause error) *RenderError {
	return &RenderError{Kind: KindBuild, Message: message, Cause: cause}
}

// NewDependencyError creates a dependency-mismatch failure.
func NewDependencyError(message string) *RenderError {
	return &RenderError{Kind: KindDependency, Message: message}
}

// NewNotFoundError creates a content-unit-not-found failure.
func NewNotFoundError(unit string) *RenderError {
	return &RenderError{
		Kind:    KindNotFound,
		Message: "content unit not found",
		Context: map[string]string{"unit": unit},
	}
}

// NewPolicyError creates a trust-boundary content filter failure.
func NewPolicyError(message string) *RenderError {
	return &RenderError{Kind: KindPolicy, Message: message}
}

// NewCircularError creates a circular-delegation failure. This indicates a
// configuration error, not a transient fork problem, and is never downgraded.
func NewCircularError(slug string) *RenderError {
	return &RenderError{
		Kind:    KindCircular,
		Message: "delegated source attempted to delegate again",
		Context: map[string]string{"course": slug},
	}
}

// NewInternalError wraps an unclassified error.
func NewInternalError(message string, cause error) *RenderError {
	return &RenderError{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the Kind from any error. Non-RenderError values map to
// KindInternal.
func KindOf(err error) Kind {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// IsForkFailure reports whether err is one of the failure kinds that the
// resolver's fallback chain handles: pull, build, dependency mismatch or
// policy violation. Circular delegation is deliberately excluded.
func IsForkFailure(err error) bool {
	switch KindOf(err) {
	case KindPull, KindBuild, KindDependency, KindPolicy:
		return true
	}
	return false
}

// As is a convenience re-export so callers don't need both this package and
// the standard library errors package in scope.
func As(err error, target any) bool { return errors.As(err, target) }

// Is re-exports errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
