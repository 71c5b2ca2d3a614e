package provide

import (
	"context"
	"fmt"
)

// Kind describes how the resolver treats a provider.
type Kind int

const (
	// KindSimple providers run their function once per resolution context.
	// The result is cached in the context, so two dependents of the same
	// provider observe a single invocation per request.
	KindSimple Kind = iota

	// KindCached providers run at most once per process. The first
	// resolution computes the value under single-flight protection and
	// stores it in the resolver's Store; every later context observes the
	// stored value without recomputation.
	KindCached

	// KindYielding providers acquire a resource. Their Setup function
	// returns both a value and a Teardown; the teardown is pushed onto the
	// owning context's stack immediately after a successful setup and runs
	// during unwind in reverse acquisition order.
	KindYielding
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindCached:
		return "cached"
	case KindYielding:
		return "yielding"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Teardown releases a resource acquired by a yielding provider's setup. A
// teardown runs at most once, when the owning context unwinds.
type Teardown func() error

// Provider is the registration-time description of a single provider. It is
// copied into the registry on Register and never mutated afterwards.
//
// Exactly one of Func and Setup is set for a computing provider: Func for
// KindSimple and KindCached, Setup for KindYielding. A provider with neither
// is a request-input leaf whose value arrives per request via Context.Seed.
type Provider struct {
	// Name identifies the provider in diagnostics and errors. Required,
	// unique within a registry.
	Name string

	// Kind selects the caching and lifecycle behavior.
	Kind Kind

	// Dependencies lists the providers whose values this provider needs,
	// in the order their side effects should occur. Each must already be
	// declared or registered in the same registry.
	Dependencies []ProviderID

	// Func computes the value for KindSimple and KindCached providers.
	Func func(ctx context.Context, args Args) (any, error)

	// Setup computes the value for KindYielding providers and returns the
	// teardown that releases whatever the setup acquired. A nil teardown
	// is permitted when the setup turns out not to acquire anything.
	Setup func(ctx context.Context, args Args) (any, Teardown, error)
}

// ProviderID is an opaque handle to a registered (or declared) provider.
// The zero value is invalid. IDs are comparable and usable as map keys, and
// are only meaningful with the registry that issued them.
type ProviderID struct {
	def *definition
}

// Name returns the provider's registered name, or "" for the zero ID.
func (id ProviderID) Name() string {
	if id.def == nil {
		return ""
	}
	return id.def.name
}

func (id ProviderID) String() string {
	if id.def == nil {
		return "<invalid provider>"
	}
	return id.def.name
}

// Args carries the resolved dependency values into a provider's function,
// keyed by the dependency's ProviderID. Values are the single per-context
// results: a dependency reached through two paths yields the same value.
type Args struct {
	values map[ProviderID]any
}

// Value returns the resolved value for the given dependency, or nil if the
// provider did not declare it.
func (a Args) Value(id ProviderID) any {
	return a.values[id]
}

// Arg returns the resolved value for the given dependency as type T. It
// panics if the value is not a T; that is a wiring bug between the provider
// and its registration, not a runtime condition.
func Arg[T any](a Args, id ProviderID) T {
	v, ok := a.values[id]
	if !ok {
		panic(fmt.Sprintf("provider %s was not declared as a dependency", id))
	}
	t, ok := v.(T)
	if !ok {
		panic(fmt.Sprintf("dependency %s resolved to %T, caller expected %T", id, v, t))
	}
	return t
}

// definition is the registry's internal record for one provider. A
// definition exists from Declare or Register onward; registered is false for
// forward declarations that have not been completed yet.
type definition struct {
	name       string
	kind       Kind
	deps       []ProviderID
	fn         func(ctx context.Context, args Args) (any, error)
	setup      func(ctx context.Context, args Args) (any, Teardown, error)
	input      bool
	registered bool
	registry   *Registry
}
