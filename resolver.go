package provide

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gburgyan/go-timing"
	"github.com/rs/zerolog"
)

// TimingMode controls go-timing integration for provider execution.
type TimingMode int

const (
	// TimingDisable will disable timing for all resolutions.
	TimingDisable TimingMode = iota

	// TimingProviders will start a timing context for each provider that is
	// invoked. This is useful to see where the time of a request's
	// resolution is being spent, and shows the exact dependency stack.
	TimingProviders
)

var EnableTiming = TimingDisable

// ResolverOption is a functional option for configuring a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger for resolution events. Events are emitted at
// debug level with the context id, provider name and duration. The default
// logger discards everything.
func WithLogger(log zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = log
	}
}

// WithStore sets the process-wide store backing KindCached providers. Use it
// to share one store between several resolvers; by default each resolver
// owns a fresh store.
func WithStore(store *Store) ResolverOption {
	return func(r *Resolver) {
		r.store = store
	}
}

// Results maps resolved targets to their values.
type Results map[ProviderID]any

// Resolver performs the depth-first graph resolution: cache consultation,
// cycle detection, provider invocation and teardown registration. A resolver
// is immutable after construction and safe for concurrent use; each request
// gets its own Context while the resolver and its store are shared.
type Resolver struct {
	registry *Registry
	store    *Store
	log      zerolog.Logger
}

// NewResolver creates a resolver over a sealed registry. Handing it an
// unsealed registry fails with ErrRegistryNotSealed: resolution relies on
// the registry being frozen for lock-free reads.
func NewResolver(registry *Registry, opts ...ResolverOption) (*Resolver, error) {
	if !registry.Sealed() {
		return nil, ErrRegistryNotSealed
	}
	r := &Resolver{
		registry: registry,
		store:    NewStore(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Registry returns the sealed registry this resolver resolves against.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// BeginContext creates the resolution context for one incoming request.
// The caller owns it and must end it, success or failure, so that acquired
// resources are released:
//
//	rc := resolver.BeginContext()
//	defer resolver.EndContext(rc)
func (r *Resolver) BeginContext() *Context {
	return newContext(r)
}

// EndContext unwinds the context's teardown stack in reverse acquisition
// order. It is idempotent; ending an already-ended context is a no-op.
func (r *Resolver) EndContext(rc *Context) error {
	err := rc.Unwind()
	if err != nil {
		r.log.Debug().Str("context", rc.id).Err(err).Msg("context unwound with teardown errors")
	} else {
		r.log.Debug().Str("context", rc.id).Msg("context unwound")
	}
	return err
}

// Resolve resolves the targets in order and fails fast: the first error
// stops the batch and comes back alongside the values resolved so far.
// Values already computed stay cached on the context either way, and any
// teardowns pushed before the failure remain owed until EndContext.
func (r *Resolver) Resolve(ctx context.Context, rc *Context, targets ...ProviderID) (Results, error) {
	if rc.lifecycle.isUnwound() {
		return nil, ErrContextUnwound
	}
	results := make(Results, len(targets))
	for _, id := range targets {
		v, err := r.resolveOne(ctx, rc, id)
		if err != nil {
			return results, err
		}
		results[id] = v
	}
	return results, nil
}

// ResolveEach resolves every target even when some fail, returning values
// and errors per target. Independent targets proceed past another target's
// failure; targets that depend on a failed provider get that provider's
// recorded error without the provider re-running.
func (r *Resolver) ResolveEach(ctx context.Context, rc *Context, targets ...ProviderID) (Results, map[ProviderID]error) {
	results := make(Results, len(targets))
	if rc.lifecycle.isUnwound() {
		errs := make(map[ProviderID]error, len(targets))
		for _, id := range targets {
			errs[id] = ErrContextUnwound
		}
		return results, errs
	}

	var errs map[ProviderID]error
	for _, id := range targets {
		v, err := r.resolveOne(ctx, rc, id)
		if err != nil {
			if errs == nil {
				errs = make(map[ProviderID]error)
			}
			errs[id] = err
			continue
		}
		results[id] = v
	}
	return results, errs
}

// Warm eagerly computes the given targets into the process-wide store using
// a throwaway context, so the first real request does not pay for them. It
// is intended for KindCached targets at process start; any yielding
// providers pulled in along the way are torn down before Warm returns.
func (r *Resolver) Warm(ctx context.Context, targets ...ProviderID) error {
	rc := r.BeginContext()
	defer func() {
		_ = r.EndContext(rc)
	}()
	_, err := r.Resolve(ctx, rc, targets...)
	return err
}

// resolveOne is the depth-first core. The order of checks matters: the
// per-context cache first (write-once, no recomputation), then the recorded
// failures (no retry within a context), then cycle detection, and only then
// the provider itself.
func (r *Resolver) resolveOne(ctx context.Context, rc *Context, id ProviderID) (any, error) {
	def, err := r.registry.definitionFor(id)
	if err != nil {
		return nil, err
	}

	if v, ok := rc.resolved[id]; ok {
		return v, nil
	}
	if err, ok := rc.failed[id]; ok {
		return nil, err
	}
	if rc.inProgress[id] {
		return nil, &CycleError{Path: rc.cyclePath(id)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc.enter(id)
	defer rc.exit(id)

	args := Args{values: make(map[ProviderID]any, len(def.deps))}
	for _, dep := range def.deps {
		v, err := r.resolveOne(ctx, rc, dep)
		if err != nil {
			return nil, err
		}
		args.values[dep] = v
	}

	if def.input {
		return nil, rc.fail(id, fmt.Errorf("%w: %s", ErrMissingInput, def.name))
	}

	// The request may have been abandoned while the dependencies resolved.
	// Bailing out here means no setup ran, so no teardown is owed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value any
	switch def.kind {
	case KindCached:
		value, err = r.store.getOrCompute(ctx, id, func() (any, error) {
			return r.invoke(ctx, rc, def, args)
		})
	case KindYielding:
		var teardown Teardown
		value, teardown, err = r.setup(ctx, rc, def, args)
		if err == nil && teardown != nil {
			rc.lifecycle.push(def.name, teardown)
		}
	default:
		value, err = r.invoke(ctx, rc, def, args)
	}

	if err != nil {
		// Cancellation of the owning request is not a provider failure:
		// nothing is recorded against the provider, and a fresh request
		// is free to run it again.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, rc.fail(id, &ProviderError{ID: id, Err: err})
	}

	rc.resolved[id] = value
	return value, nil
}

func (r *Resolver) invoke(ctx context.Context, rc *Context, def *definition, args Args) (any, error) {
	start := time.Now()
	if EnableTiming == TimingProviders {
		tCtx := timing.Start(ctx, "provide:"+def.name)
		defer tCtx.Complete()
		ctx = tCtx
	}
	value, err := def.fn(ctx, args)
	r.logInvocation(rc, def, start, err)
	return value, err
}

func (r *Resolver) setup(ctx context.Context, rc *Context, def *definition, args Args) (any, Teardown, error) {
	start := time.Now()
	if EnableTiming == TimingProviders {
		tCtx := timing.Start(ctx, "provide:"+def.name)
		defer tCtx.Complete()
		ctx = tCtx
	}
	value, teardown, err := def.setup(ctx, args)
	r.logInvocation(rc, def, start, err)
	return value, teardown, err
}

func (r *Resolver) logInvocation(rc *Context, def *definition, start time.Time, err error) {
	evt := r.log.Debug().
		Str("context", rc.id).
		Str("provider", def.name).
		Stringer("kind", def.kind).
		Dur("duration", time.Since(start))
	if err != nil {
		evt.Err(err).Msg("provider failed")
		return
	}
	evt.Msg("provider resolved")
}
