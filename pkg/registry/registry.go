// Package registry provides the named registry of resolution strategies.
package registry

import (
	"errors"
	"sync"

	"wco-resolver-go/pkg/interfaces"
)

// ResolverRegistry manages resolution strategies by name.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers []interfaces.Resolver
	byName    map[string]interfaces.Resolver
	fallback  interfaces.Resolver
}

// NewResolverRegistry creates a new resolver registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{
		resolvers: make([]interfaces.Resolver, 0),
		byName:    make(map[string]interfaces.Resolver),
	}
}

// Register adds a resolver to the registry. A resolver registered under an
// existing name replaces the earlier one.
func (r *ResolverRegistry) Register(resolver interfaces.Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byName[resolver.Name()]; ok {
		for i, res := range r.resolvers {
			if res == old {
				r.resolvers = append(r.resolvers[:i], r.resolvers[i+1:]...)
				break
			}
		}
	}
	r.resolvers = append(r.resolvers, resolver)
	r.byName[resolver.Name()] = resolver
}

// SetFallback sets the resolver returned by Default. It is usually composed
// of registered resolvers and is therefore not closed by Close.
func (r *ResolverRegistry) SetFallback(resolver interfaces.Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = resolver
}

// Default returns the fallback resolver.
func (r *ResolverRegistry) Default() interfaces.Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// GetByName returns a resolver by its name.
func (r *ResolverRegistry) GetByName(name string) (interfaces.Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.byName[name]
	return res, ok
}

// All returns all registered resolvers in registration order.
func (r *ResolverRegistry) All() []interfaces.Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Resolver, len(r.resolvers))
	copy(result, r.resolvers)
	return result
}

// Names returns the names of all registered resolvers.
func (r *ResolverRegistry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, res := range all {
		names[i] = res.Name()
	}
	return names
}

// Close closes all registered resolvers.
func (r *ResolverRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, res := range r.resolvers {
		if err := res.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ interfaces.Registry[interfaces.Resolver] = (*ResolverRegistry)(nil)
