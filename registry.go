package provide

import (
	"errors"
	"fmt"
	"sync"
)

// Registry holds provider definitions and their declared dependency edges.
// It is pure metadata: no per-request state ever lives here.
//
// A registry goes through two phases. During registration, Declare and
// Register build up the graph. Seal ends that phase: it verifies that every
// declaration was completed and that the graph is acyclic, and freezes the
// registry. A sealed registry is safe for unsynchronized concurrent reads,
// which is what lets resolvers share it across requests without locking.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*definition
	defs   []*definition
	sealed bool
}

// NewRegistry creates an empty registry ready for registration.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*definition),
	}
}

// Declare reserves a name and returns its ProviderID before the provider is
// registered. This is how mutually referential graphs are expressed: declare
// both names first, then register each with the other's ID as a dependency.
// The declaration must be completed with Register before Seal.
func (r *Registry) Declare(name string) (ProviderID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ProviderID{}, ErrRegistrySealed
	}
	if name == "" {
		return ProviderID{}, errors.New("provider name required")
	}
	if _, exists := r.byName[name]; exists {
		return ProviderID{}, fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}

	def := &definition{
		name:     name,
		registry: r,
	}
	r.byName[name] = def
	r.defs = append(r.defs, def)
	return ProviderID{def: def}, nil
}

// Register adds a provider to the registry and returns its ID. If the name
// was previously forward-declared, Register completes that declaration and
// returns the already-issued ID; otherwise the name must be new.
//
// A provider with neither Func nor Setup is registered as a request-input
// leaf: it may not declare dependencies, and its value must be supplied per
// request with Context.Seed.
func (r *Registry) Register(p Provider) (ProviderID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ProviderID{}, ErrRegistrySealed
	}
	if p.Name == "" {
		return ProviderID{}, errors.New("provider name required")
	}

	input := p.Func == nil && p.Setup == nil
	switch {
	case input && p.Kind != KindSimple:
		return ProviderID{}, fmt.Errorf("request input %s cannot be %s", p.Name, p.Kind)
	case input && len(p.Dependencies) > 0:
		return ProviderID{}, fmt.Errorf("request input %s cannot declare dependencies", p.Name)
	case p.Kind == KindYielding && p.Setup == nil:
		return ProviderID{}, fmt.Errorf("yielding provider %s requires Setup", p.Name)
	case p.Kind == KindYielding && p.Func != nil:
		return ProviderID{}, fmt.Errorf("yielding provider %s cannot also set Func", p.Name)
	case p.Kind != KindYielding && p.Setup != nil:
		return ProviderID{}, fmt.Errorf("%s provider %s cannot set Setup", p.Kind, p.Name)
	}

	for _, dep := range p.Dependencies {
		if dep.def == nil || dep.def.registry != r {
			return ProviderID{}, fmt.Errorf("%w: dependency of %s", ErrUnknownProvider, p.Name)
		}
	}

	def, exists := r.byName[p.Name]
	if exists {
		if def.registered {
			return ProviderID{}, fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name)
		}
	} else {
		def = &definition{
			name:     p.Name,
			registry: r,
		}
		r.byName[p.Name] = def
		r.defs = append(r.defs, def)
	}

	def.kind = p.Kind
	def.deps = append([]ProviderID(nil), p.Dependencies...)
	def.fn = p.Func
	def.setup = p.Setup
	def.input = input
	def.registered = true
	return ProviderID{def: def}, nil
}

// MustRegister is Register that panics on error. Registration errors are
// configuration bugs, so panicking at process start is the usual response.
func (r *Registry) MustRegister(p Provider) ProviderID {
	id, err := r.Register(p)
	if err != nil {
		panic(err)
	}
	return id
}

// Lookup returns the registered definition for the given ID.
func (r *Registry) Lookup(id ProviderID) (Provider, error) {
	if id.def == nil || id.def.registry != r {
		return Provider{}, ErrUnknownProvider
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !id.def.registered {
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderUnregistered, id.def.name)
	}
	return Provider{
		Name:         id.def.name,
		Kind:         id.def.kind,
		Dependencies: append([]ProviderID(nil), id.def.deps...),
		Func:         id.def.fn,
		Setup:        id.def.setup,
	}, nil
}

// Seal ends the registration phase. It fails if any declared provider was
// never registered or if the dependency graph contains a cycle; either one
// is a startup-time configuration bug and the process should not begin
// serving. After a successful Seal the registry accepts no further mutation.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}

	for _, def := range r.defs {
		if !def.registered {
			return fmt.Errorf("%w: %s", ErrProviderUnregistered, def.name)
		}
	}

	states := make(map[*definition]walkState, len(r.defs))
	for _, def := range r.defs {
		if err := r.checkAcyclic(def, states, nil); err != nil {
			return err
		}
	}

	r.sealed = true
	return nil
}

// Sealed reports whether the registration phase has ended.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

type walkState int

const (
	unvisited walkState = iota
	visiting
	visited
)

// checkAcyclic walks the graph depth-first. Finding a definition already in
// the visiting state means the current stack loops back to it.
func (r *Registry) checkAcyclic(def *definition, states map[*definition]walkState, stack []*definition) error {
	switch states[def] {
	case visiting:
		return cycleErrorFromStack(def, stack)
	case visited:
		return nil
	}

	states[def] = visiting
	stack = append(stack, def)

	for _, dep := range def.deps {
		if err := r.checkAcyclic(dep.def, states, stack); err != nil {
			return err
		}
	}

	states[def] = visited
	return nil
}

// cycleErrorFromStack trims the walk stack to the looping segment so the
// reported path starts at the repeated provider.
func cycleErrorFromStack(repeat *definition, stack []*definition) error {
	start := 0
	for i, def := range stack {
		if def == repeat {
			start = i
			break
		}
	}
	path := make([]ProviderID, 0, len(stack)-start+1)
	for _, def := range stack[start:] {
		path = append(path, ProviderID{def: def})
	}
	path = append(path, ProviderID{def: repeat})
	return &CycleError{Path: path}
}

// definitionFor validates that an ID belongs to this registry and is backed
// by a completed registration.
func (r *Registry) definitionFor(id ProviderID) (*definition, error) {
	if id.def == nil || id.def.registry != r {
		return nil, ErrUnknownProvider
	}
	if !id.def.registered {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnregistered, id.def.name)
	}
	return id.def, nil
}
