package provide

import (
	"errors"
	"fmt"
	"sync"
)

// lifecycle owns a context's teardown stack. Teardowns are pushed in
// acquisition order during resolution and executed in reverse order exactly
// once when the context unwinds.
type lifecycle struct {
	mu        sync.Mutex
	teardowns []teardownEntry
	unwound   bool
}

type teardownEntry struct {
	provider string
	fn       Teardown
}

// push appends a teardown. It is called immediately after a yielding
// provider's setup succeeds, before the resolver returns control, so a later
// failure elsewhere in the walk still triggers this teardown.
func (l *lifecycle) push(provider string, fn Teardown) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teardowns = append(l.teardowns, teardownEntry{provider: provider, fn: fn})
}

func (l *lifecycle) isUnwound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unwound
}

// unwind runs every pushed teardown from most recent to least recent. A
// failing teardown is recorded and the rest still run; the collected errors
// come back joined. Calling unwind again is a no-op.
func (l *lifecycle) unwind() []teardownError {
	l.mu.Lock()
	if l.unwound {
		l.mu.Unlock()
		return nil
	}
	l.unwound = true
	entries := l.teardowns
	l.teardowns = nil
	l.mu.Unlock()

	var failures []teardownError
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].fn(); err != nil {
			failures = append(failures, teardownError{provider: entries[i].provider, err: err})
		}
	}
	return failures
}

type teardownError struct {
	provider string
	err      error
}

// Unwind executes the context's teardown stack in reverse acquisition order.
// Every teardown runs exactly once even when earlier ones fail; their errors
// are joined into the return value. A second Unwind is a no-op returning nil.
//
// EndContext on the resolver is the usual entry point; Unwind exists for
// callers that manage context lifetimes themselves.
func (c *Context) Unwind() error {
	failures := c.lifecycle.unwind()
	if len(failures) == 0 {
		return nil
	}

	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = fmt.Errorf("teardown of %s: %w", f.provider, f.err)
	}
	return errors.Join(errs...)
}

// TeardownCount reports how many teardowns are pending on the context.
// Diagnostic only.
func (c *Context) TeardownCount() int {
	c.lifecycle.mu.Lock()
	defer c.lifecycle.mu.Unlock()
	return len(c.lifecycle.teardowns)
}
