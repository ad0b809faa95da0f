package params

import (
	"context"
	"fmt"
	"sync"

	"github.com/conveyorhq/conveyor/pkg/core"
)

// ResolveFunc loads a live entity by id, signalling core.ErrEntityNotFound
// (possibly wrapped) when the entity no longer exists.
type ResolveFunc func(ctx context.Context, id string) (any, error)

// Resolver maps (package, model) pairs to entity loaders. Applications
// register a loader per persisted model they pass into jobs.
type Resolver struct {
	mu    sync.RWMutex
	funcs map[string]ResolveFunc
}

// NewResolver creates an empty resolver registry.
func NewResolver() *Resolver {
	return &Resolver{funcs: make(map[string]ResolveFunc)}
}

// Register adds a loader for a (package, model) pair.
func (r *Resolver) Register(pkg, model string, fn ResolveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[pkg+"/"+model] = fn
}

// Resolve loads the live entity behind a reference.
func (r *Resolver) Resolve(ctx context.Context, ref EntityRef) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[ref.Package+"/"+ref.Model]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrUnknownEntityModel, ref.Package, ref.Model)
	}
	v, err := fn(ctx, ref.EntityID)
	if err != nil {
		return nil, fmt.Errorf("conveyor: resolve %s: %w", ref.GID(), err)
	}
	return v, nil
}
