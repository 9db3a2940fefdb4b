// Package gvfs is the virtual filesystem dispatcher.
//
// Every operation takes a virtual path (gvfs://fileset/catalog/schema/fileset/sub),
// resolves the fileset to its physical location through the metadata
// resolver, leases a backend client from the client cache and forwards the
// call. Results name virtual paths again; failures carry one of the fixed
// error codes.
package gvfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/objectfs/gvfs/internal/clientcache"
	"github.com/objectfs/gvfs/internal/metrics"
	"github.com/objectfs/gvfs/internal/translate"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// DefaultBlockSize is used when neither backend nor driver knows a block size.
const DefaultBlockSize int64 = 32 << 20

// Operation names, as used in errors, logs and metrics.
const (
	OpOpen               = "open"
	OpCreate             = "create"
	OpAppend             = "append"
	OpDelete             = "delete"
	OpRename             = "rename"
	OpList               = "list"
	OpStat               = "stat"
	OpMkdir              = "mkdir"
	OpExists             = "exists"
	OpDefaultReplication = "default_replication"
	OpDefaultBlockSize   = "default_block_size"
	OpRead               = "read"
	OpWrite              = "write"
)

// Locator resolves logical paths to fileset locations. metadata.Resolver
// implements it.
type Locator interface {
	ResolveCached(ctx context.Context, p types.LogicalPath) (types.FilesetLocation, bool, error)
	Refresh(ctx context.Context, p types.LogicalPath) (types.FilesetLocation, error)
	Exists(ctx context.Context, p types.LogicalPath) (bool, error)
	Invalidate(ident types.FilesetIdent)
}

// ClientSource leases backend clients. clientcache.Cache implements it.
type ClientSource interface {
	GetOrCreate(ctx context.Context, provider string, cfg types.BackendConfig) (*clientcache.Lease, error)
	Report(l *clientcache.Lease, err error) bool
	Close() error
}

// Options configures a FileSystem.
type Options struct {
	// Metalake every virtual path is resolved in.
	Metalake string
	// Properties is the flat configuration; bypass keys become backend config.
	Properties   map[string]string
	BypassPrefix string
	// DefaultBlockSize applies when neither backend nor driver reports one.
	DefaultBlockSize int64
	// BackendTimeout bounds each non-streaming backend call. Streams are
	// bounded by the caller's context only.
	BackendTimeout time.Duration
	Logger         log.Interface
	Recorder       metrics.Recorder
}

// FileSystem dispatches virtual filesystem operations. It holds no per-call
// state and is safe for concurrent use.
type FileSystem struct {
	locator  Locator
	drivers  clientcache.DriverSource
	clients  ClientSource
	opts     Options
	logger   log.Interface
	recorder metrics.Recorder
}

// New creates a dispatcher.
func New(locator Locator, drivers clientcache.DriverSource, clients ClientSource, opts Options) *FileSystem {
	if opts.BypassPrefix == "" {
		opts.BypassPrefix = translate.DefaultBypassPrefix
	}
	if opts.DefaultBlockSize <= 0 {
		opts.DefaultBlockSize = DefaultBlockSize
	}
	f := &FileSystem{
		locator:  locator,
		drivers:  drivers,
		clients:  clients,
		opts:     opts,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if f.logger == nil {
		f.logger = log.Log
	}
	if f.recorder == nil {
		f.recorder = metrics.Noop{}
	}
	for key, from := range translate.Collisions(opts.Properties, opts.BypassPrefix) {
		f.logger.WithFields(log.Fields{
			"key":  key,
			"from": strings.Join(from, ","),
			"kept": from[len(from)-1],
		}).Warn("bypass properties collide, keeping the last")
	}
	return f
}

// Open opens a file for reading. The stream keeps its backend client alive
// until closed.
func (f *FileSystem) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	c, err := f.begin(ctx, OpOpen, path)
	if err != nil {
		return nil, err
	}

	rc, err := c.client().Open(ctx, c.physical)
	if err != nil {
		err = c.backendErr(err)
		c.release()
		return nil, c.done(err, 0)
	}
	c.report(nil)
	_ = c.done(nil, 0)
	return &reader{ReadCloser: rc, stream: newStream(c, OpRead)}, nil
}

// Create opens a file for writing. With overwrite false an existing file is
// an error.
func (f *FileSystem) Create(ctx context.Context, path string, overwrite bool) (io.WriteCloser, error) {
	c, err := f.begin(ctx, OpCreate, path)
	if err != nil {
		return nil, err
	}

	wc, err := c.client().Create(ctx, c.physical, overwrite)
	if err != nil {
		err = c.backendErr(err)
		c.release()
		return nil, c.done(err, 0)
	}
	c.report(nil)
	_ = c.done(nil, 0)
	return &writer{WriteCloser: wc, stream: newStream(c, OpWrite)}, nil
}

// Append opens an existing file for appending. Backends without append
// support fail with an unsupported operation error before being contacted.
func (f *FileSystem) Append(ctx context.Context, path string) (io.WriteCloser, error) {
	c, err := f.begin(ctx, OpAppend, path)
	if err != nil {
		return nil, err
	}

	wc, err := c.client().Append(ctx, c.physical)
	if err != nil {
		err = c.backendErr(err)
		c.release()
		return nil, c.done(err, 0)
	}
	c.report(nil)
	_ = c.done(nil, 0)
	return &writer{WriteCloser: wc, stream: newStream(c, OpWrite)}, nil
}

// Delete removes path. It reports whether anything was deleted.
func (f *FileSystem) Delete(ctx context.Context, path string, recursive bool) (bool, error) {
	c, err := f.begin(ctx, OpDelete, path)
	if err != nil {
		return false, err
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	ok, err := c.client().Delete(bctx, c.physical, recursive)
	if err != nil {
		return false, c.done(c.backendErr(err), 0)
	}
	c.report(nil)
	if c.logical.SubPath == "" {
		f.locator.Invalidate(c.logical.FilesetKey())
	}
	return ok, c.done(nil, 0)
}

// Rename moves src to dst within one fileset.
func (f *FileSystem) Rename(ctx context.Context, src, dst string) (bool, error) {
	c, err := f.begin(ctx, OpRename, src)
	if err != nil {
		return false, err
	}
	defer c.release()

	to, err := ParsePath(dst, f.opts.Metalake)
	if err != nil {
		return false, c.done(err, 0)
	}
	if to.FilesetKey() != c.logical.FilesetKey() {
		return false, c.done(vfserrors.UnsupportedOperation("rename across filesets", c.loc.Provider).
			WithContext("destination", dst), 0)
	}
	if c.logical.SubPath == "" || to.SubPath == "" {
		return false, c.done(vfserrors.InvalidPath(dst, "cannot rename a fileset root"), 0)
	}

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	ok, err := c.client().Rename(bctx, c.physical, utils.JoinURI(c.loc.PhysicalBaseURI, to.SubPath))
	if err != nil {
		return false, c.done(c.backendErr(err), 0)
	}
	c.report(nil)
	f.locator.Invalidate(c.logical.FilesetKey())
	return ok, c.done(nil, 0)
}

// List returns the entries of a directory ordered by name, with virtual paths.
func (f *FileSystem) List(ctx context.Context, path string) ([]types.FileStatus, error) {
	c, err := f.begin(ctx, OpList, path)
	if err != nil {
		return nil, err
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	entries, err := c.client().List(bctx, c.physical)
	if err != nil {
		return nil, c.done(c.backendErr(err), 0)
	}
	c.report(nil)

	out := make([]types.FileStatus, 0, len(entries))
	for _, st := range entries {
		if v, ok := c.virtualize(st.Path); ok {
			st.Path = v
		} else {
			st.Path = VirtualPath(types.LogicalPath{
				FilesetIdent: c.logical.FilesetIdent,
				SubPath:      joinSub(c.logical.SubPath, st.Name),
			})
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, c.done(nil, 0)
}

// Stat describes path. Files without a backend-reported block size or
// replication get the defaults DefaultBlockSize and DefaultReplication return.
func (f *FileSystem) Stat(ctx context.Context, path string) (types.FileStatus, error) {
	c, err := f.begin(ctx, OpStat, path)
	if err != nil {
		return types.FileStatus{}, err
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	st, err := c.client().Stat(bctx, c.physical)
	if err != nil {
		return types.FileStatus{}, c.done(c.backendErr(err), 0)
	}
	c.report(nil)

	if !st.IsDir {
		if st.Replication <= 0 {
			st.Replication, err = c.replication(bctx)
			if err != nil {
				c.logger.WithError(err).Debug("backend replication unavailable, using driver default")
				st.Replication = c.driverReplication()
			}
		}
		if st.BlockSize <= 0 {
			st.BlockSize, err = c.blockSize(bctx)
			if err != nil {
				c.logger.WithError(err).Debug("backend block size unavailable, using driver default")
				st.BlockSize = c.driverBlockSize()
			}
		}
	}
	if v, ok := c.virtualize(st.Path); ok {
		st.Path = v
	} else {
		st.Path = VirtualPath(c.logical)
	}
	return st, c.done(nil, 0)
}

// Mkdir creates a directory. With recursive false the parent must exist.
func (f *FileSystem) Mkdir(ctx context.Context, path string, recursive bool) (bool, error) {
	c, err := f.begin(ctx, OpMkdir, path)
	if err != nil {
		return false, err
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	ok, err := c.client().Mkdir(bctx, c.physical, recursive)
	if err != nil {
		return false, c.done(c.backendErr(err), 0)
	}
	c.report(nil)
	return ok, c.done(nil, 0)
}

// Exists reports whether path exists. A missing fileset is not an error; the
// fileset root exists whenever the fileset does.
func (f *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	c := f.newCall(ctx, OpExists, path)

	p, err := ParsePath(path, f.opts.Metalake)
	if err != nil {
		return false, c.done(err, 0)
	}
	c.logical = p

	ok, err := f.locator.Exists(ctx, p)
	if err != nil || !ok {
		return false, c.done(err, 0)
	}
	if p.SubPath == "" {
		return true, c.done(nil, 0)
	}

	if err := c.bind(ctx); err != nil {
		if vfserrors.IsNotFound(err) {
			return false, c.done(nil, 0)
		}
		return false, c.done(err, 0)
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	_, err = c.client().Stat(bctx, c.physical)
	switch {
	case err == nil:
		c.report(nil)
		return true, c.done(nil, 0)
	case errors.Is(err, fs.ErrNotExist):
		c.report(nil)
		return false, c.done(nil, 0)
	default:
		return false, c.done(c.backendErr(err), 0)
	}
}

// DefaultReplication returns the replication new files under path get: the
// backend's own value when it reports one, else the driver default.
// Object stores report 1.
func (f *FileSystem) DefaultReplication(ctx context.Context, path string) (int, error) {
	c, err := f.begin(ctx, OpDefaultReplication, path)
	if err != nil {
		return 0, err
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	n, err := c.replication(bctx)
	if err != nil {
		return 0, c.done(c.backendErr(err), 0)
	}
	return n, c.done(nil, 0)
}

// DefaultBlockSize returns the block size new files under path get: the
// backend's own value when it reports one, else the driver default, else the
// configured default.
func (f *FileSystem) DefaultBlockSize(ctx context.Context, path string) (int64, error) {
	c, err := f.begin(ctx, OpDefaultBlockSize, path)
	if err != nil {
		return 0, err
	}
	defer c.release()

	bctx, cancel := f.backendContext(ctx)
	defer cancel()
	n, err := c.blockSize(bctx)
	if err != nil {
		return 0, c.done(c.backendErr(err), 0)
	}
	return n, c.done(nil, 0)
}

// Close shuts down the client cache. Open streams stay usable until closed.
func (f *FileSystem) Close() error {
	return f.clients.Close()
}

func (f *FileSystem) begin(ctx context.Context, op, path string) (*call, error) {
	c := f.newCall(ctx, op, path)

	p, err := ParsePath(path, f.opts.Metalake)
	if err != nil {
		return nil, c.done(err, 0)
	}
	c.logical = p

	if err := c.bind(ctx); err != nil {
		return nil, c.done(err, 0)
	}
	return c, nil
}

func (f *FileSystem) newCall(ctx context.Context, op, path string) *call {
	id, _ := uuid.GenerateUUID()
	return &call{
		fs:    f,
		ctx:   ctx,
		op:    op,
		id:    id,
		raw:   path,
		start: time.Now(),
		logger: f.logger.WithFields(log.Fields{
			"op":         op,
			"path":       path,
			"request_id": id,
		}),
	}
}

func (f *FileSystem) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.opts.BackendTimeout > 0 {
		return context.WithTimeout(ctx, f.opts.BackendTimeout)
	}
	return ctx, func() {}
}

func joinSub(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
