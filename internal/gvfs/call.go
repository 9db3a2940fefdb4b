package gvfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"

	"github.com/objectfs/gvfs/internal/clientcache"
	"github.com/objectfs/gvfs/internal/translate"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// call is the state of one dispatched operation.
type call struct {
	fs *FileSystem
	// ctx is the caller's context, kept to tell caller cancellation apart
	// from backend failure.
	ctx    context.Context
	op     string
	id     string
	raw    string
	start  time.Time
	logger log.Interface

	logical  types.LogicalPath
	loc      types.FilesetLocation
	driver   types.Driver
	lease    *clientcache.Lease
	physical string
}

// bind resolves the fileset, checks the driver supports the operation and
// leases a client.
func (c *call) bind(ctx context.Context) error {
	f := c.fs
	loc, cached, err := f.locator.ResolveCached(ctx, c.logical)
	if err != nil {
		return err
	}

	for {
		c.loc = loc
		c.logger = c.logger.WithField("provider", loc.Provider)

		driver, err := f.drivers.Driver(loc.Provider)
		if err != nil {
			return err
		}
		if c.op == OpAppend && !driver.Capability().SupportsAppend {
			return vfserrors.UnsupportedOperation(OpAppend, loc.Provider).WithComponent("dispatcher")
		}

		cfg := translate.Translate(f.opts.Properties, f.opts.BypassPrefix)
		lease, err := f.clients.GetOrCreate(ctx, loc.Provider, cfg)
		if err != nil {
			return err
		}

		// A client built just now must not be bound to a cached location that
		// may have moved.
		if lease.Created() && cached {
			cached = false
			fresh, err := f.locator.Refresh(ctx, c.logical)
			if err != nil {
				lease.Release()
				return err
			}
			if fresh != loc {
				c.logger.WithField("location", fresh.PhysicalBaseURI).Info("fileset location changed")
				lease.Release()
				loc = fresh
				continue
			}
		}

		c.driver = driver
		c.lease = lease
		c.physical = utils.JoinURI(loc.PhysicalBaseURI, c.logical.SubPath)
		return nil
	}
}

func (c *call) client() types.FileSystem {
	return c.lease.Client()
}

func (c *call) release() {
	if c.lease != nil {
		c.lease.Release()
	}
}

// report feeds an outcome into the client's failure accounting. Failures
// caused by the caller giving up are not held against the client.
func (c *call) report(err error) {
	if c.lease == nil {
		return
	}
	if err != nil && (errors.Is(err, context.Canceled) || c.ctx.Err() != nil) {
		return
	}
	if c.fs.clients.Report(c.lease, err) {
		c.logger.Warn("backend client dropped after repeated transient failures")
	}
}

// backendErr classifies a backend failure and counts it against the client.
func (c *call) backendErr(err error) error {
	classified := classify(c.client(), c.loc.Provider, err)
	c.report(classified)
	return classified
}

// done finishes the call: it enriches err, records metrics and logs.
func (c *call) done(err error, bytes int64) error {
	took := time.Since(c.start)
	if err != nil {
		err = c.enrich(err)
	}
	c.fs.recorder.RecordOperation(c.op, c.loc.Provider, took, bytes, err)

	entry := c.logger.WithField("duration", took)
	switch {
	case err == nil:
		entry.Debug("operation completed")
	case vfserrors.IsRetryable(err):
		entry.WithError(err).Warn("operation failed")
	default:
		entry.WithError(err).Debug("operation failed")
	}
	return err
}

// enrich returns a copy of err naming the virtual path, operation, provider
// and request. Errors may be shared between callers, so they are never
// modified in place.
func (c *call) enrich(err error) error {
	e, ok := vfserrors.As(err)
	if !ok {
		return vfserrors.NewError(vfserrors.ErrCodeInternalError, "unclassified failure").
			WithComponent("dispatcher").
			WithOperation(c.op).
			WithPath(c.raw).
			WithProvider(c.loc.Provider).
			WithRequestID(c.id).
			WithCause(err)
	}

	cp := *e
	cp.Path = c.raw
	if cp.Operation == "" {
		cp.Operation = c.op
	}
	if cp.Provider == "" {
		cp.Provider = c.loc.Provider
	}
	if cp.Component == "" {
		cp.Component = "dispatcher"
	}
	cp.RequestID = c.id
	return &cp
}

func (c *call) replication(ctx context.Context) (int, error) {
	if r, ok := c.client().(types.DefaultsReporter); ok {
		n, err := r.DefaultReplication(ctx, c.physical)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
	}
	return c.driverReplication(), nil
}

func (c *call) driverReplication() int {
	if n := c.driver.Capability().DefaultReplication; n > 0 {
		return n
	}
	return 1
}

func (c *call) blockSize(ctx context.Context) (int64, error) {
	if r, ok := c.client().(types.DefaultsReporter); ok {
		n, err := r.DefaultBlockSize(ctx, c.physical)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
	}
	return c.driverBlockSize(), nil
}

func (c *call) driverBlockSize() int64 {
	if n := c.driver.Capability().DefaultBlockSize; n > 0 {
		return n
	}
	return c.fs.opts.DefaultBlockSize
}

// virtualize maps a physical path under the fileset back to virtual form.
func (c *call) virtualize(physical string) (string, bool) {
	if physical == "" {
		return "", false
	}
	rel, ok := utils.RelativeTo(c.loc.PhysicalBaseURI, physical)
	if !ok {
		return "", false
	}
	return VirtualPath(types.LogicalPath{FilesetIdent: c.logical.FilesetIdent, SubPath: rel}), true
}

// classify maps a backend error onto the transient or permanent backend
// kind. The backend's own classifier decides first; without one, standard
// filesystem errors are permanent and network trouble is transient.
func classify(client types.FileSystem, provider string, err error) error {
	if e, ok := vfserrors.As(err); ok {
		switch e.Code {
		case vfserrors.ErrCodeTransientBackend, vfserrors.ErrCodePermanentBackend, vfserrors.ErrCodeUnsupportedOperation:
			return err
		}
	}

	var transient bool
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		transient = true
	case isClassifier(client):
		transient = client.(types.ErrorClassifier).IsTransient(err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrInvalid), errors.Is(err, fs.ErrClosed):
		transient = false
	default:
		transient = isNetworkError(err)
	}

	if transient {
		return vfserrors.TransientBackend(provider, err).WithComponent("dispatcher")
	}
	return vfserrors.PermanentBackend(provider, err).WithComponent("dispatcher")
}

func isClassifier(client types.FileSystem) bool {
	_, ok := client.(types.ErrorClassifier)
	return ok
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT):
		return true
	}
	return false
}

// stream ties an open backend stream to its lease. Closing it releases the
// lease and records the transfer.
type stream struct {
	c     *call
	op    string
	start time.Time
	bytes int64
	once  sync.Once
}

func newStream(c *call, op string) *stream {
	return &stream{c: c, op: op, start: time.Now()}
}

func (s *stream) fail(err error) error {
	return s.c.enrich(s.c.backendErr(err))
}

func (s *stream) finish(err error) {
	s.once.Do(func() {
		if err == nil {
			s.c.report(nil)
		}
		s.c.release()
		s.c.fs.recorder.RecordOperation(s.op, s.c.loc.Provider, time.Since(s.start), s.bytes, err)
		s.c.logger.WithFields(log.Fields{
			"bytes":    s.bytes,
			"duration": time.Since(s.start),
		}).Debug("stream closed")
	})
}

type reader struct {
	io.ReadCloser
	*stream
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytes += int64(n)
	if err != nil && err != io.EOF {
		return n, r.fail(err)
	}
	return n, err
}

func (r *reader) Close() error {
	err := r.ReadCloser.Close()
	if err != nil {
		err = r.fail(err)
	}
	r.finish(err)
	return err
}

type writer struct {
	io.WriteCloser
	*stream
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	w.bytes += int64(n)
	if err != nil {
		return n, w.fail(err)
	}
	return n, nil
}

func (w *writer) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		err = w.fail(err)
	}
	w.finish(err)
	return err
}
