// Package registry maps provider names to backend drivers.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

// Registry is safe for concurrent use. Registration normally happens at
// startup, lookups on every operation.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]types.Driver
	schemes map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		drivers: make(map[string]types.Driver),
		schemes: make(map[string]string),
	}
}

// Default is the process-wide registry.
var Default = New()

// Register adds a driver under its provider name. Provider names and schemes
// are case-insensitive. Registering a name or scheme twice is an error.
func (r *Registry) Register(d types.Driver) error {
	name := normalize(d.Name())
	if name == "" {
		return vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "driver has no provider name").
			WithComponent("registry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.drivers[name]; ok {
		return vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "provider %q already registered", name).
			WithComponent("registry").
			WithProvider(name)
	}
	for _, s := range d.Schemes() {
		if owner, ok := r.schemes[normalize(s)]; ok {
			return vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "scheme %q already served by provider %q", s, owner).
				WithComponent("registry").
				WithProvider(name)
		}
	}

	r.drivers[name] = d
	for _, s := range d.Schemes() {
		r.schemes[normalize(s)] = name
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(d types.Driver) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
}

// Driver returns the driver for provider, or an UnknownProvider error.
func (r *Registry) Driver(provider string) (types.Driver, error) {
	r.mu.RLock()
	d, ok := r.drivers[normalize(provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, vfserrors.UnknownProvider(provider).WithComponent("registry")
	}
	return d, nil
}

// ProviderForScheme returns the provider serving a URI scheme.
func (r *Registry) ProviderForScheme(scheme string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.schemes[normalize(scheme)]
	return p, ok
}

// Providers returns the registered provider names in ascending order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
