package provide

import (
	"fmt"

	"github.com/google/uuid"
)

// Context is the per-request resolution scope. It caches provider results so
// each provider computes at most once per request, tracks in-progress
// providers for cycle detection, and owns the teardown stack for resources
// acquired by yielding providers.
//
// Resolution within a context is sequential: one goroutine drives the
// depth-first walk. The teardown stack is the exception and is guarded by a
// mutex, because servers routinely unwind from a different goroutine than
// the one that resolved (timeouts, connection teardown).
type Context struct {
	id       string
	resolver *Resolver

	// resolved and failed are both write-once per provider. A provider
	// that failed once is never silently re-run within the same context;
	// later requests for it get the recorded error back.
	resolved map[ProviderID]any
	failed   map[ProviderID]error

	inProgress map[ProviderID]bool
	path       []ProviderID

	lifecycle lifecycle
}

func newContext(r *Resolver) *Context {
	return &Context{
		id:         uuid.NewString(),
		resolver:   r,
		resolved:   make(map[ProviderID]any),
		failed:     make(map[ProviderID]error),
		inProgress: make(map[ProviderID]bool),
	}
}

// ID returns the context's unique identifier. It appears in log events so a
// request's resolutions and teardowns can be correlated.
func (c *Context) ID() string {
	return c.id
}

// Resolver returns the resolver that created this context. Handy when a
// middleware passes only the context down to handlers.
func (c *Context) Resolver() *Resolver {
	return c.resolver
}

// Seed supplies a value for a provider before resolution, most commonly a
// request-input leaf (path, query or header values from the boundary layer).
// Seeding a computing provider is also allowed and short-circuits it for
// this context, which is the per-request override hook used in tests.
//
// Context values are write-once: seeding an already-seeded or already-
// resolved provider fails with ErrAlreadyResolved.
func (c *Context) Seed(id ProviderID, value any) error {
	def, err := c.resolver.registry.definitionFor(id)
	if err != nil {
		return err
	}
	if c.lifecycle.isUnwound() {
		return ErrContextUnwound
	}
	if _, exists := c.resolved[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, def.name)
	}
	c.resolved[id] = value
	return nil
}

// Resolved returns the value a provider produced in this context, if any.
// It never triggers computation.
func (c *Context) Resolved(id ProviderID) (any, bool) {
	v, ok := c.resolved[id]
	return v, ok
}

// enter marks a provider in progress for the duration of its resolution.
// Re-entering a provider already on the path is the runtime cycle signal.
func (c *Context) enter(id ProviderID) {
	c.inProgress[id] = true
	c.path = append(c.path, id)
}

func (c *Context) exit(id ProviderID) {
	delete(c.inProgress, id)
	c.path = c.path[:len(c.path)-1]
}

// cyclePath builds the diagnostic path for a cycle on id: the segment of the
// current walk from id's first occurrence through the re-request.
func (c *Context) cyclePath(id ProviderID) []ProviderID {
	start := 0
	for i, p := range c.path {
		if p == id {
			start = i
			break
		}
	}
	path := make([]ProviderID, 0, len(c.path)-start+1)
	path = append(path, c.path[start:]...)
	return append(path, id)
}

// fail records the originating failure for a provider. Write-once: the first
// recorded error wins, matching the no-retry contract.
func (c *Context) fail(id ProviderID, err error) error {
	if prior, ok := c.failed[id]; ok {
		return prior
	}
	c.failed[id] = err
	return err
}
