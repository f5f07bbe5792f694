/*
Package registry provides the registry of record collections.

Record collections are created lazily on first access. The registry is shared between
all requests, concurrent first access to the same collection results in exactly one
creation.
*/
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/store"
)

// CreationTimeout bounds the creation of a collection
var CreationTimeout = 30 * time.Second

// Registry hands out handles for record collections
type Registry struct {
	store store.Store
	group singleflight.Group
	ready sync.Map
}

// New creates a new registry for the specified store
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// Store returns the underlying document store
func (r *Registry) Store() store.Store {
	return r.store
}

// Collection returns the record collection of a project module, creating it if necessary
func (r *Registry) Collection(ctx context.Context, project, module string) (store.Collection, error) {
	return r.Named(ctx, core.CollectionName(project, module))
}

// Named returns the named collection, creating it if necessary
func (r *Registry) Named(ctx context.Context, name string) (store.Collection, error) {
	if c, ok := r.ready.Load(name); ok {
		return c.(store.Collection), nil
	}
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		if c, ok := r.ready.Load(name); ok {
			return c, nil
		}
		// creation is shared by all waiters and must not fail when the first caller goes away
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CreationTimeout)
		defer cancel()
		if err := r.store.EnsureCollection(ctx, name); err != nil {
			return nil, err
		}
		c := r.store.Collection(name)
		r.ready.Store(name, c)
		logger.FromContext(ctx).Infoln("created collection", name)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access collection %s: %w", name, err)
	}
	return v.(store.Collection), nil
}

// Forget drops the cached handle of the named collection. The next access will
// ensure the collection again.
func (r *Registry) Forget(name string) {
	r.ready.Delete(name)
}
