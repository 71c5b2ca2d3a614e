package provide

import (
	"context"
	"errors"
	"sync"
)

// Store is the process-wide cache behind KindCached providers. Entries are
// computed lazily on first resolution and live until process shutdown; there
// is deliberately no invalidation API. The store is independent of any
// resolution context's lifetime and is the only structure shared between
// concurrent contexts.
//
// A Store may be shared between resolvers via WithStore, or kept separate to
// partition their memoization.
type Store struct {
	mu      sync.Mutex
	entries map[ProviderID]*storeEntry
}

// storeEntry is created by the caller that wins the race for an id. done is
// closed once value or err is set; waiters block on it. Failed computes are
// removed from the map before done closes, so the failure is reported to the
// callers already waiting but never cached for future ones.
type storeEntry struct {
	done  chan struct{}
	value any
	err   error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[ProviderID]*storeEntry),
	}
}

// getOrCompute returns the stored value for id, computing it if absent.
// Single-flight: when concurrent callers race on an uninitialized id exactly
// one runs compute; the rest block until it finishes and observe the same
// value. A waiter whose ctx is cancelled stops waiting and returns ctx.Err();
// the computation itself is not interrupted on its behalf.
func (s *Store) getOrCompute(ctx context.Context, id ProviderID, compute func() (any, error)) (any, error) {
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		s.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.value, e.err
	}

	e := &storeEntry{done: make(chan struct{})}
	s.entries[id] = e
	s.mu.Unlock()

	// A panicking compute must still release waiters and clear the entry,
	// or every later caller of this id would block forever.
	finished := false
	defer func() {
		if !finished {
			s.mu.Lock()
			delete(s.entries, id)
			s.mu.Unlock()
			e.err = errors.New("cached compute panicked")
			close(e.done)
		}
	}()

	value, err := compute()

	s.mu.Lock()
	if err != nil {
		e.err = err
		delete(s.entries, id)
	} else {
		e.value = value
	}
	s.mu.Unlock()

	finished = true
	close(e.done)
	return value, err
}

// Cached reports whether id has a stored value. Diagnostic only; resolution
// always goes through getOrCompute.
func (s *Store) Cached(id ProviderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	select {
	case <-e.done:
		return e.err == nil
	default:
		return false
	}
}

// Len returns the number of entries, including in-flight computations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
