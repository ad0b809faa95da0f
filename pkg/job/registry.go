package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/params"
	"github.com/conveyorhq/conveyor/pkg/security"
)

// Factory builds a job instance from decoded arguments.
type Factory func(ctx context.Context, args params.Arguments) (Job, error)

// Registry maps canonical job class names to factories, with optional
// aliases. It is constructed explicitly at process startup and passed
// into the client and the worker; registration must complete (Seal)
// before either accepts jobs, so an incomplete registry fails at
// startup rather than per job.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
	ready     atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds a job class under its canonical name plus any aliases.
// Class names must be alphanumeric (starting with a letter), max 255
// chars. Registration panics on an invalid or duplicate name: these
// are startup programming errors, not runtime conditions.
func (r *Registry) Register(name string, factory Factory, aliasNames ...string) {
	if err := security.ValidateJobClass(name); err != nil {
		panic(fmt.Sprintf("conveyor: invalid job class %q: %v", name, err))
	}
	if factory == nil {
		panic(fmt.Sprintf("conveyor: nil factory for job class %q", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready.Load() {
		panic(fmt.Sprintf("conveyor: registry sealed, cannot register %q", name))
	}
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("conveyor: duplicate job class %q", name))
	}
	r.factories[name] = factory

	for _, alias := range aliasNames {
		if err := security.ValidateJobClass(alias); err != nil {
			panic(fmt.Sprintf("conveyor: invalid job class alias %q: %v", alias, err))
		}
		if _, dup := r.aliases[alias]; dup {
			panic(fmt.Sprintf("conveyor: duplicate job class alias %q", alias))
		}
		r.aliases[alias] = name
	}
}

// Seal marks startup registration as complete. Load refuses to work
// before Seal is called.
func (r *Registry) Seal() {
	r.ready.Store(true)
}

// Ready reports whether startup registration has completed.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// Has reports whether a class name or alias is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.factories[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// Classes returns the canonical registered class names.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Resolve returns the canonical name and factory for a class name or
// alias. It fails with core.ErrRegistryNotReady before Seal and with
// core.ErrUnknownJobClass for unregistered names; both are fatal for
// the calling operation.
func (r *Registry) Resolve(name string) (string, Factory, error) {
	if !r.ready.Load() {
		return "", nil, core.ErrRegistryNotReady
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	factory, ok := r.factories[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", core.ErrUnknownJobClass, name)
	}
	return name, factory, nil
}

// Load builds a job instance for the given class name and arguments.
// A panicking factory is reported as an error; factories often type
// assert on arguments and must not take the caller down with them.
func (r *Registry) Load(ctx context.Context, name string, args params.Arguments) (j Job, err error) {
	_, factory, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			j = nil
			err = fmt.Errorf("conveyor: build job %q: panic: %v", name, rec)
		}
	}()
	j, err = factory(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("conveyor: build job %q: %w", name, err)
	}
	return j, nil
}
