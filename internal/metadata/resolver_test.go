package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

type schemeMap map[string]string

func (m schemeMap) ProviderForScheme(s string) (string, bool) {
	p, ok := m[s]
	return p, ok
}

var testSchemes = schemeMap{"oss": "oss", "hdfs": "hdfs", "s3a": "s3", "file": "local"}

func seededService(t *testing.T) *MemoryService {
	t.Helper()
	svc := NewMemoryService()
	require.NoError(t, svc.CreateMetalake("ml"))
	require.NoError(t, svc.CreateCatalog("ml", "cat", map[string]string{PropertyProviders: "oss"}))
	require.NoError(t, svc.CreateSchema("ml", "cat", "sch", nil))
	return svc
}

func logical(fileset, sub string) types.LogicalPath {
	return types.LogicalPath{
		FilesetIdent: types.FilesetIdent{Metalake: "ml", Catalog: "cat", Schema: "sch", Fileset: fileset},
		SubPath:      sub,
	}
}

func TestResolve_NotFoundThenCreated(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	r := NewResolver(svc, testSchemes, ResolverOptions{})
	p := logical("fs", "a.txt")

	_, err := r.Resolve(context.Background(), p)
	require.Error(t, err)
	assert.True(t, vfserrors.IsNotFound(err), "got %v", err)

	_, err = svc.CreateFileset(p.FilesetKey(), FilesetManaged, "oss://bucket/fileset", nil)
	require.NoError(t, err)

	loc, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, types.FilesetLocation{
		Identifier:      "ml.cat.sch.fs",
		PhysicalBaseURI: "oss://bucket/fileset",
		Provider:        "oss",
	}, loc)
}

func TestResolve_MissingParents(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	r := NewResolver(svc, testSchemes, ResolverOptions{})

	tests := []types.FilesetIdent{
		{Metalake: "nope", Catalog: "cat", Schema: "sch", Fileset: "fs"},
		{Metalake: "ml", Catalog: "nope", Schema: "sch", Fileset: "fs"},
		{Metalake: "ml", Catalog: "cat", Schema: "nope", Fileset: "fs"},
	}
	for _, ident := range tests {
		_, err := r.Resolve(context.Background(), types.LogicalPath{FilesetIdent: ident})
		assert.True(t, vfserrors.IsNotFound(err), "%s: got %v", ident, err)
	}
}

func TestResolve_InvalidIdentifier(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewMemoryService(), nil, ResolverOptions{})
	for _, ident := range []types.FilesetIdent{
		{Metalake: "", Catalog: "c", Schema: "s", Fileset: "f"},
		{Metalake: "m", Catalog: "c/d", Schema: "s", Fileset: "f"},
		{Metalake: "m", Catalog: "c", Schema: "..", Fileset: "f"},
		{Metalake: "m", Catalog: "c", Schema: "s", Fileset: "f?x"},
	} {
		_, err := r.Resolve(context.Background(), types.LogicalPath{FilesetIdent: ident})
		assert.True(t, vfserrors.IsInvalidPath(err), "%+v: got %v", ident, err)
	}
}

func TestResolve_ProviderSelection(t *testing.T) {
	t.Parallel()

	svc := NewMemoryService()
	require.NoError(t, svc.CreateMetalake("ml"))
	require.NoError(t, svc.CreateCatalog("ml", "cat", nil))
	require.NoError(t, svc.CreateSchema("ml", "cat", "sch", nil))
	r := NewResolver(svc, testSchemes, ResolverOptions{})

	tests := []struct {
		fileset  string
		location string
		props    map[string]string
		want     string
	}{
		{"viaregistry", "s3a://bucket/data", nil, "s3"},
		{"hdfs", "hdfs://nn:8020/warehouse/fs", nil, "hdfs"},
		{"noscheme", "/tmp/data", nil, "local"},
		{"unknown", "ftp://host/data", nil, "ftp"},
		{"pinned", "s3a://bucket/data", map[string]string{PropertyProvider: "OSS"}, "oss"},
	}
	for _, tt := range tests {
		p := logical(tt.fileset, "")
		_, err := svc.CreateFileset(p.FilesetKey(), FilesetExternal, tt.location, tt.props)
		require.NoError(t, err)

		loc, err := r.Resolve(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, tt.want, loc.Provider, tt.fileset)
	}
}

func TestResolve_NoCachingByDefault(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	p := logical("fs", "")
	_, err := svc.CreateFileset(p.FilesetKey(), FilesetManaged, "oss://bucket/one", nil)
	require.NoError(t, err)

	r := NewResolver(svc, testSchemes, ResolverOptions{})
	for i := 0; i < 3; i++ {
		_, cached, err := r.ResolveCached(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, cached)
	}
	assert.EqualValues(t, 3, svc.Loads())

	require.NoError(t, svc.AlterFilesetLocation(p.FilesetKey(), "oss://bucket/two"))
	loc, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "oss://bucket/two", loc.PhysicalBaseURI, "location change must be visible immediately")

	_, ok := r.CacheStats()
	assert.False(t, ok)
}

func TestResolve_LocationCache(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	p := logical("fs", "x")
	_, err := svc.CreateFileset(p.FilesetKey(), FilesetManaged, "oss://bucket/one", nil)
	require.NoError(t, err)

	r := NewResolver(svc, testSchemes, ResolverOptions{CacheTTL: time.Hour, CacheEntries: 8})

	_, cached, err := r.ResolveCached(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, cached)
	_, cached, err = r.ResolveCached(context.Background(), logical("fs", "other/sub"))
	require.NoError(t, err)
	assert.True(t, cached, "sub paths of one fileset share the cache entry")
	assert.EqualValues(t, 1, svc.Loads())

	require.NoError(t, svc.AlterFilesetLocation(p.FilesetKey(), "oss://bucket/two"))
	loc, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "oss://bucket/one", loc.PhysicalBaseURI)

	loc, err = r.Refresh(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "oss://bucket/two", loc.PhysicalBaseURI)

	r.Invalidate(p.FilesetKey())
	_, cached, err = r.ResolveCached(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, cached)

	stats, ok := r.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 1, stats.Entries)
}

func TestResolve_CoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	p := logical("fs", "")
	_, err := svc.CreateFileset(p.FilesetKey(), FilesetManaged, "oss://bucket/fs", nil)
	require.NoError(t, err)

	gate := &gatedService{MemoryService: svc, release: make(chan struct{})}
	r := NewResolver(gate, testSchemes, ResolverOptions{CacheTTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := r.Resolve(context.Background(), p)
			assert.NoError(t, err)
			assert.Equal(t, "oss", loc.Provider)
		}()
	}
	for gate.waiting() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.LessOrEqual(t, svc.Loads(), int64(2))
}

type gatedService struct {
	*MemoryService
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (g *gatedService) LoadFileset(ctx context.Context, ident types.FilesetIdent) (FilesetInfo, error) {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	<-g.release
	return g.MemoryService.LoadFileset(ctx, ident)
}

func (g *gatedService) waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func TestResolve_ErrorMapping(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	r := NewResolver(svc, testSchemes, ResolverOptions{})
	p := logical("fs", "")

	svc.SetError(errors.New("connection refused"))
	_, err := r.Resolve(context.Background(), p)
	assert.True(t, vfserrors.IsServiceUnavailable(err), "got %v", err)
	assert.True(t, vfserrors.IsRetryable(err))

	svc.SetError(vfserrors.Unauthorized("user bob may not read ml"))
	_, err = r.Resolve(context.Background(), p)
	assert.True(t, vfserrors.IsUnauthorized(err), "got %v", err)

	svc.SetError(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, p)
	assert.True(t, vfserrors.IsServiceUnavailable(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_Timeout(t *testing.T) {
	t.Parallel()

	slow := &slowService{delay: time.Second}
	r := NewResolver(slow, testSchemes, ResolverOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Resolve(context.Background(), logical("fs", ""))
	assert.True(t, vfserrors.IsServiceUnavailable(err), "got %v", err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type slowService struct{ delay time.Duration }

func (s *slowService) LoadFileset(ctx context.Context, ident types.FilesetIdent) (FilesetInfo, error) {
	select {
	case <-time.After(s.delay):
		return FilesetInfo{StorageLocation: "oss://b/f"}, nil
	case <-ctx.Done():
		return FilesetInfo{}, ctx.Err()
	}
}

func (s *slowService) FilesetExists(ctx context.Context, ident types.FilesetIdent) (bool, error) {
	_, err := s.LoadFileset(ctx, ident)
	return err == nil, err
}

func TestExists(t *testing.T) {
	t.Parallel()

	svc := seededService(t)
	r := NewResolver(svc, testSchemes, ResolverOptions{})
	p := logical("fs", "")

	ok, err := r.Exists(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.CreateFileset(p.FilesetKey(), FilesetManaged, "oss://b/fs", nil)
	require.NoError(t, err)
	ok, err = r.Exists(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, ok)
}
