package provide

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateProvider is returned when a name is registered more than
	// once in the same registry.
	ErrDuplicateProvider = errors.New("duplicate provider")

	// ErrUnknownProvider is returned when a ProviderID does not belong to
	// the registry or resolver it was handed to.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderUnregistered is returned by Seal when a forward-declared
	// provider was never completed with Register.
	ErrProviderUnregistered = errors.New("provider declared but never registered")

	// ErrRegistrySealed is returned when Register, Declare or Seal is
	// called after the registry has been sealed.
	ErrRegistrySealed = errors.New("registry already sealed")

	// ErrRegistryNotSealed is returned by NewResolver for a registry that
	// is still accepting registrations.
	ErrRegistryNotSealed = errors.New("registry not sealed")

	// ErrMissingInput is returned when a request-input provider is resolved
	// without having been seeded on the context.
	ErrMissingInput = errors.New("request input not seeded")

	// ErrAlreadyResolved is returned by Context.Seed when the provider
	// already has a value in the context. Context values are write-once.
	ErrAlreadyResolved = errors.New("provider already resolved in context")

	// ErrContextUnwound is returned when a context is used after its
	// teardowns have run.
	ErrContextUnwound = errors.New("resolution context already unwound")
)

// CycleError reports a cyclic dependency. Path holds the providers on the
// resolution path from the first occurrence of the repeated provider to its
// re-request, in resolution order.
type CycleError struct {
	Path []ProviderID
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, id := range e.Path {
		names[i] = id.Name()
	}
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(names, " -> "))
}

// ProviderError reports a failure inside a provider's compute or setup step.
// It wraps the underlying cause, so errors.Is and errors.As see through it;
// in particular an AuthError returned by a gating provider stays visible to
// the boundary layer.
type ProviderError struct {
	ID  ProviderID
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.ID, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AuthError is the error kind a gating provider returns to reject a request
// rather than report a malfunction. The resolver gives it no special
// treatment; the tag exists so the transport boundary can route rejections
// (401/403-style) differently from generic provider failures.
type AuthError struct {
	// Reason is a human-readable rejection cause.
	Reason string

	// Missing optionally names the scopes or grants the request lacked.
	Missing []string
}

func (e *AuthError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("authorization rejected: %s (missing %s)", e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("authorization rejected: %s", e.Reason)
}
