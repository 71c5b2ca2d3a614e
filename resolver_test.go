package provide

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simpleProvider wraps a plain value computation with an invocation counter.
func simpleProvider(name string, deps []ProviderID, fn func(args Args) (any, error)) Provider {
	return Provider{
		Name:         name,
		Kind:         KindSimple,
		Dependencies: deps,
		Func: func(_ context.Context, args Args) (any, error) {
			return fn(args)
		},
	}
}

func newTestResolver(t *testing.T, reg *Registry, opts ...ResolverOption) *Resolver {
	t.Helper()
	require.NoError(t, reg.Seal())
	r, err := NewResolver(reg, opts...)
	require.NoError(t, err)
	return r
}

func Test_ResolveDiamond(t *testing.T) {
	reg := NewRegistry()

	baseCalls := 0
	base := reg.MustRegister(simpleProvider("base", nil, func(Args) (any, error) {
		baseCalls++
		return 5, nil
	}))
	num1 := reg.MustRegister(simpleProvider("num1", []ProviderID{base}, func(args Args) (any, error) {
		return Arg[int](args, base) + 1, nil
	}))
	num2 := reg.MustRegister(simpleProvider("num2", []ProviderID{base}, func(args Args) (any, error) {
		return Arg[int](args, base) + 2, nil
	}))
	target := reg.MustRegister(simpleProvider("target", []ProviderID{num1, num2}, func(args Args) (any, error) {
		return map[string]int{
			"num1": Arg[int](args, num1),
			"num2": Arg[int](args, num2),
		}, nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	results, err := r.Resolve(context.Background(), rc, target)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"num1": 6, "num2": 7}, results[target])
	assert.Equal(t, 1, baseCalls, "base must compute once despite two dependents")
}

func Test_ResolveTwiceSameContext(t *testing.T) {
	reg := NewRegistry()

	calls := 0
	id := reg.MustRegister(simpleProvider("value", nil, func(Args) (any, error) {
		calls++
		return calls, nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	first, err := r.Resolve(context.Background(), rc, id)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), rc, id)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first[id], second[id])
}

func Test_SeparateContextsRecompute(t *testing.T) {
	reg := NewRegistry()

	calls := 0
	id := reg.MustRegister(simpleProvider("value", nil, func(Args) (any, error) {
		calls++
		return calls, nil
	}))

	r := newTestResolver(t, reg)

	for i := 1; i <= 3; i++ {
		rc := r.BeginContext()
		_, err := r.Resolve(context.Background(), rc, id)
		require.NoError(t, err)
		require.NoError(t, r.EndContext(rc))
	}

	assert.Equal(t, 3, calls, "simple providers are scoped per context, not per process")
}

func Test_RuntimeCycleDetection(t *testing.T) {
	// Seal refuses cyclic graphs, so the runtime guard is exercised by
	// building the resolver by hand over an unsealed cyclic registry. The
	// resolution must fail with the cycle path and never recurse unboundedly.
	reg := NewRegistry()

	a, err := reg.Declare("a")
	require.NoError(t, err)
	b, err := reg.Register(simpleProvider("b", []ProviderID{a}, func(Args) (any, error) {
		return nil, nil
	}))
	require.NoError(t, err)
	_, err = reg.Register(simpleProvider("a", []ProviderID{b}, func(Args) (any, error) {
		return nil, nil
	}))
	require.NoError(t, err)

	r := &Resolver{registry: reg, store: NewStore()}
	rc := newContext(r)

	_, err = r.resolveOne(context.Background(), rc, a)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "cyclic dependency: a -> b -> a", cycleErr.Error())
}

func Test_FailedProviderNotRetried(t *testing.T) {
	reg := NewRegistry()

	calls := 0
	failing := reg.MustRegister(simpleProvider("failing", nil, func(Args) (any, error) {
		calls++
		return nil, fmt.Errorf("boom %d", calls)
	}))
	dependent := reg.MustRegister(simpleProvider("dependent", []ProviderID{failing}, func(Args) (any, error) {
		return "unreachable", nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	_, err1 := r.Resolve(context.Background(), rc, failing)
	require.Error(t, err1)
	_, err2 := r.Resolve(context.Background(), rc, dependent)
	require.Error(t, err2)

	assert.Equal(t, 1, calls, "a failed provider must not re-run within the same context")
	assert.Equal(t, err1, err2, "dependents observe the recorded failure")

	var provErr *ProviderError
	require.ErrorAs(t, err2, &provErr)
	assert.Equal(t, "failing", provErr.ID.Name())
	assert.EqualError(t, provErr.Err, "boom 1")
}

func Test_MissingInput(t *testing.T) {
	reg := NewRegistry()

	header := reg.MustRegister(Provider{Name: "auth_header"})
	greeting := reg.MustRegister(simpleProvider("greeting", []ProviderID{header}, func(args Args) (any, error) {
		return "hello " + Arg[string](args, header), nil
	}))

	r := newTestResolver(t, reg)

	t.Run("unseeded", func(t *testing.T) {
		rc := r.BeginContext()
		defer r.EndContext(rc)

		_, err := r.Resolve(context.Background(), rc, greeting)
		assert.ErrorIs(t, err, ErrMissingInput)
	})

	t.Run("seeded", func(t *testing.T) {
		rc := r.BeginContext()
		defer r.EndContext(rc)

		require.NoError(t, rc.Seed(header, "alice"))
		results, err := r.Resolve(context.Background(), rc, greeting)
		require.NoError(t, err)
		assert.Equal(t, "hello alice", results[greeting])
	})
}

func Test_SeedOverridesProvider(t *testing.T) {
	reg := NewRegistry()

	calls := 0
	id := reg.MustRegister(simpleProvider("value", nil, func(Args) (any, error) {
		calls++
		return "real", nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	require.NoError(t, rc.Seed(id, "fake"))
	results, err := r.Resolve(context.Background(), rc, id)
	require.NoError(t, err)

	assert.Equal(t, "fake", results[id])
	assert.Equal(t, 0, calls)
}

func Test_SeedWriteOnce(t *testing.T) {
	reg := NewRegistry()
	id := reg.MustRegister(Provider{Name: "input"})

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	require.NoError(t, rc.Seed(id, 1))
	assert.ErrorIs(t, rc.Seed(id, 2), ErrAlreadyResolved)

	results, err := r.Resolve(context.Background(), rc, id)
	require.NoError(t, err)
	assert.Equal(t, 1, results[id])
}

func Test_ResolveEachPartial(t *testing.T) {
	reg := NewRegistry()

	good := reg.MustRegister(simpleProvider("good", nil, func(Args) (any, error) {
		return "ok", nil
	}))
	bad := reg.MustRegister(simpleProvider("bad", nil, func(Args) (any, error) {
		return nil, errors.New("broken")
	}))
	dependsOnBad := reg.MustRegister(simpleProvider("depends_on_bad", []ProviderID{bad}, func(Args) (any, error) {
		return "unreachable", nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	results, errs := r.ResolveEach(context.Background(), rc, bad, good, dependsOnBad)

	assert.Equal(t, "ok", results[good])
	assert.Len(t, errs, 2)
	assert.Equal(t, errs[bad], errs[dependsOnBad], "both report the single recorded failure")

	var provErr *ProviderError
	require.ErrorAs(t, errs[dependsOnBad], &provErr)
	assert.Equal(t, "bad", provErr.ID.Name())
}

func Test_AuthRejectionDistinctFromFailure(t *testing.T) {
	reg := NewRegistry()

	header := reg.MustRegister(Provider{Name: "auth_header"})
	gate := reg.MustRegister(simpleProvider("auth_gate", []ProviderID{header}, func(args Args) (any, error) {
		token, _ := args.Value(header).(string)
		if token == "" {
			return nil, &AuthError{Reason: "missing credentials"}
		}
		if token != "secret" {
			return nil, &AuthError{Reason: "bad credentials", Missing: []string{"admin"}}
		}
		return token, nil
	}))
	profile := reg.MustRegister(simpleProvider("profile", []ProviderID{gate}, func(Args) (any, error) {
		return "profile-data", nil
	}))
	broken := reg.MustRegister(simpleProvider("broken", nil, func(Args) (any, error) {
		return nil, errors.New("db down")
	}))

	r := newTestResolver(t, reg)

	t.Run("rejection carries the auth kind", func(t *testing.T) {
		rc := r.BeginContext()
		defer r.EndContext(rc)

		require.NoError(t, rc.Seed(header, ""))
		_, err := r.Resolve(context.Background(), rc, profile)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "missing credentials", authErr.Reason)

		// It is still a provider failure underneath, tagged with the gate.
		var provErr *ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "auth_gate", provErr.ID.Name())
	})

	t.Run("generic failure is not an auth kind", func(t *testing.T) {
		rc := r.BeginContext()
		defer r.EndContext(rc)

		_, err := r.Resolve(context.Background(), rc, broken)
		require.Error(t, err)

		var authErr *AuthError
		assert.False(t, errors.As(err, &authErr))
	})

	t.Run("accepted token passes through", func(t *testing.T) {
		rc := r.BeginContext()
		defer r.EndContext(rc)

		require.NoError(t, rc.Seed(header, "secret"))
		results, err := r.Resolve(context.Background(), rc, profile)
		require.NoError(t, err)
		assert.Equal(t, "profile-data", results[profile])
	})
}

func Test_CancellationBeforeProviderRuns(t *testing.T) {
	reg := NewRegistry()

	calls := 0
	id := reg.MustRegister(simpleProvider("value", nil, func(Args) (any, error) {
		calls++
		return "never", nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, rc, id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func Test_CancellationMidResolution(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	sessionClosed := false
	session := reg.MustRegister(Provider{
		Name: "session",
		Kind: KindYielding,
		Setup: func(context.Context, Args) (any, Teardown, error) {
			return "session", func() error {
				sessionClosed = true
				return nil
			}, nil
		},
	})
	aborting := reg.MustRegister(Provider{
		Name:         "aborting",
		Kind:         KindSimple,
		Dependencies: []ProviderID{session},
		Func: func(ctx context.Context, _ Args) (any, error) {
			cancel()
			return nil, ctx.Err()
		},
	})

	r := newTestResolver(t, reg)
	rc := r.BeginContext()

	_, err := r.Resolve(ctx, rc, aborting)
	require.ErrorIs(t, err, context.Canceled)

	// The teardown pushed before the cancellation is still owed and must
	// run when the abandoned request's context ends.
	assert.False(t, sessionClosed)
	require.NoError(t, r.EndContext(rc))
	assert.True(t, sessionClosed)

	// Cancellation was not recorded as a provider failure.
	assert.NotContains(t, rc.failed, aborting)
}

func Test_ResolveOnUnwoundContext(t *testing.T) {
	reg := NewRegistry()
	id := reg.MustRegister(simpleProvider("value", nil, func(Args) (any, error) {
		return 1, nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	require.NoError(t, r.EndContext(rc))

	_, err := r.Resolve(context.Background(), rc, id)
	assert.ErrorIs(t, err, ErrContextUnwound)

	_, errs := r.ResolveEach(context.Background(), rc, id)
	assert.ErrorIs(t, errs[id], ErrContextUnwound)

	assert.ErrorIs(t, rc.Seed(id, 2), ErrContextUnwound)
}

func Test_ResolveUnknownID(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(simpleProvider("value", nil, func(Args) (any, error) {
		return 1, nil
	}))

	other := NewRegistry()
	foreign := other.MustRegister(simpleProvider("foreign", nil, func(Args) (any, error) {
		return 2, nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	_, err := r.Resolve(context.Background(), rc, ProviderID{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Resolve(context.Background(), rc, foreign)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func Test_DependencyOrderIsDeclarationOrder(t *testing.T) {
	reg := NewRegistry()

	var order []string
	record := func(name string) Provider {
		return simpleProvider(name, nil, func(Args) (any, error) {
			order = append(order, name)
			return name, nil
		})
	}
	first := reg.MustRegister(record("first"))
	second := reg.MustRegister(record("second"))
	third := reg.MustRegister(record("third"))
	target := reg.MustRegister(simpleProvider("target", []ProviderID{first, second, third}, func(Args) (any, error) {
		return "done", nil
	}))

	r := newTestResolver(t, reg)
	rc := r.BeginContext()
	defer r.EndContext(rc)

	_, err := r.Resolve(context.Background(), rc, target)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}
