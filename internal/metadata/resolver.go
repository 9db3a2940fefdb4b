package metadata

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/singleflight"

	"github.com/objectfs/gvfs/internal/cache"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

// SchemeLookup finds the provider serving a storage URI scheme. The driver
// registry implements it.
type SchemeLookup interface {
	ProviderForScheme(scheme string) (string, bool)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Timeout bounds each metadata call. Zero leaves it to the caller's context.
	Timeout time.Duration
	// CacheTTL enables the location cache when positive.
	CacheTTL time.Duration
	// CacheEntries bounds the location cache.
	CacheEntries int
	Logger       log.Interface
}

// Resolver maps logical paths to fileset locations. It is safe for concurrent use.
type Resolver struct {
	service Service
	schemes SchemeLookup
	timeout time.Duration
	logger  log.Interface

	// nil when location caching is disabled.
	locations *cache.LRU[types.FilesetIdent, types.FilesetLocation]
	group     singleflight.Group
}

// NewResolver creates a resolver over service. schemes may be nil, in which
// case the location scheme is used as the provider name.
func NewResolver(service Service, schemes SchemeLookup, opts ResolverOptions) *Resolver {
	r := &Resolver{
		service: service,
		schemes: schemes,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if r.logger == nil {
		r.logger = log.Log
	}
	if opts.CacheTTL > 0 {
		r.locations = cache.NewLRU[types.FilesetIdent, types.FilesetLocation](&cache.Config{
			MaxEntries: opts.CacheEntries,
			TTL:        opts.CacheTTL,
		})
	}
	return r
}

// Resolve returns the location of the fileset p lives in.
func (r *Resolver) Resolve(ctx context.Context, p types.LogicalPath) (types.FilesetLocation, error) {
	loc, _, err := r.ResolveCached(ctx, p)
	return loc, err
}

// ResolveCached is Resolve that also reports whether the answer came from the
// location cache rather than the metadata service.
func (r *Resolver) ResolveCached(ctx context.Context, p types.LogicalPath) (types.FilesetLocation, bool, error) {
	ident := p.FilesetKey()
	if err := validateIdent(ident); err != nil {
		return types.FilesetLocation{}, false, err
	}

	if r.locations == nil {
		loc, err := r.load(ctx, ident)
		return loc, false, err
	}
	if loc, ok := r.locations.Get(ident); ok {
		return loc, true, nil
	}

	// Concurrent misses share one metadata call. The shared call must not die
	// with whichever caller started it, so it runs detached and bounded by the
	// resolver timeout while every caller waits on its own context.
	ch := r.group.DoChan(ident.String(), func() (interface{}, error) {
		loadCtx := context.WithoutCancel(ctx)
		loc, err := r.load(loadCtx, ident)
		if err == nil {
			r.locations.Put(ident, loc)
		}
		return loc, err
	})
	select {
	case <-ctx.Done():
		return types.FilesetLocation{}, false, vfserrors.ServiceUnavailable("metadata request canceled", ctx.Err()).
			WithComponent("resolver")
	case res := <-ch:
		if res.Err != nil {
			return types.FilesetLocation{}, false, res.Err
		}
		return res.Val.(types.FilesetLocation), false, nil
	}
}

// Refresh drops any cached location for p and resolves it again.
func (r *Resolver) Refresh(ctx context.Context, p types.LogicalPath) (types.FilesetLocation, error) {
	r.Invalidate(p.FilesetKey())
	if err := validateIdent(p.FilesetKey()); err != nil {
		return types.FilesetLocation{}, err
	}
	loc, err := r.load(ctx, p.FilesetKey())
	if err == nil && r.locations != nil {
		r.locations.Put(p.FilesetKey(), loc)
	}
	return loc, err
}

// Exists reports whether the fileset p lives in exists.
func (r *Resolver) Exists(ctx context.Context, p types.LogicalPath) (bool, error) {
	ident := p.FilesetKey()
	if err := validateIdent(ident); err != nil {
		return false, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ok, err := r.service.FilesetExists(ctx, ident)
	if err != nil {
		return false, r.mapError(ctx, err, ident)
	}
	return ok, nil
}

// Invalidate forgets the cached location of a fileset.
func (r *Resolver) Invalidate(ident types.FilesetIdent) {
	if r.locations != nil && r.locations.Delete(ident) {
		r.logger.WithField("fileset", ident.String()).Debug("location cache entry invalidated")
	}
}

// CacheStats returns location cache statistics. ok is false when caching is off.
func (r *Resolver) CacheStats() (stats cache.Stats, ok bool) {
	if r.locations == nil {
		return cache.Stats{}, false
	}
	return r.locations.Stats(), true
}

func (r *Resolver) load(ctx context.Context, ident types.FilesetIdent) (types.FilesetLocation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	info, err := r.service.LoadFileset(ctx, ident)
	if err != nil {
		return types.FilesetLocation{}, r.mapError(ctx, err, ident)
	}
	if strings.TrimSpace(info.StorageLocation) == "" {
		return types.FilesetLocation{}, vfserrors.NotFound("storage location of fileset " + ident.String()).
			WithComponent("resolver")
	}

	provider, err := r.provider(info)
	if err != nil {
		return types.FilesetLocation{}, err
	}

	loc := types.FilesetLocation{
		Identifier:      ident.String(),
		PhysicalBaseURI: info.StorageLocation,
		Provider:        provider,
	}
	r.logger.WithFields(log.Fields{
		"fileset":  loc.Identifier,
		"location": loc.PhysicalBaseURI,
		"provider": loc.Provider,
	}).Debug("resolved fileset")
	return loc, nil
}

func (r *Resolver) provider(info FilesetInfo) (string, error) {
	if p := strings.TrimSpace(info.Properties[PropertyProvider]); p != "" {
		return strings.ToLower(p), nil
	}

	u, err := url.Parse(info.StorageLocation)
	if err != nil {
		return "", vfserrors.NotFound("valid storage location for fileset "+info.Name).
			WithComponent("resolver").
			WithCause(err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "file"
	}
	if r.schemes != nil {
		if p, ok := r.schemes.ProviderForScheme(scheme); ok {
			return p, nil
		}
	}
	return scheme, nil
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

// mapError keeps metadata failures inside the fixed taxonomy.
func (r *Resolver) mapError(ctx context.Context, err error, ident types.FilesetIdent) error {
	if e, ok := vfserrors.As(err); ok {
		switch e.Code {
		case vfserrors.ErrCodeNotFound, vfserrors.ErrCodeUnauthorized, vfserrors.ErrCodeServiceUnavailable,
			vfserrors.ErrCodeInvalidPath:
			return err
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if ctxErr == nil {
			ctxErr = err
		}
		return vfserrors.ServiceUnavailable("metadata request for "+ident.String()+" timed out", ctxErr).
			WithComponent("resolver")
	}
	return vfserrors.ServiceUnavailable("metadata lookup for "+ident.String()+" failed", err).
		WithComponent("resolver")
}

func validateIdent(ident types.FilesetIdent) error {
	for _, part := range []struct{ name, value string }{
		{"metalake", ident.Metalake},
		{"catalog", ident.Catalog},
		{"schema", ident.Schema},
		{"fileset", ident.Fileset},
	} {
		if err := ValidateName(part.value); err != nil {
			return vfserrors.InvalidPath(ident.String(), part.name+" name "+err.Error()).WithComponent("resolver")
		}
	}
	return nil
}

// ValidateName checks that s is a non-empty, URL-safe identifier.
func ValidateName(s string) error {
	switch s {
	case "":
		return errors.New("is empty")
	case ".", "..":
		return errors.New("is a relative path element")
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-', c == '.':
		default:
			return errors.New("contains an unsafe character " + string(c))
		}
	}
	return nil
}
