// Package clientcache shares backend clients between operations.
//
// Clients are keyed by provider and the exact translated backend config. At
// most one client is constructed per key at a time, construction failures are
// not remembered, and an invalidated client is closed only after every lease
// handed out for it has been released.
package clientcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"

	"github.com/objectfs/gvfs/internal/circuit"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

// DriverSource looks up backend drivers. The driver registry implements it.
type DriverSource interface {
	Driver(provider string) (types.Driver, error)
}

// Observer is told about client lifecycle events.
type Observer interface {
	ClientConstructed(provider string, took time.Duration, err error)
	ClientDisposed(provider string)
	ClientInvalidated(provider, reason string)
}

// Options configures a Cache.
type Options struct {
	// Disabled constructs a fresh client for every lease and closes it on release.
	Disabled bool
	// FailureThreshold is the number of consecutive transient backend failures
	// after which a cached client is invalidated. Zero uses the breaker default.
	FailureThreshold uint32
	Logger           log.Interface
	Observer         Observer
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int    `json:"entries"`
	Leased        int    `json:"leased"`
	Constructions uint64 `json:"constructions"`
	Failures      uint64 `json:"failures"`
	Invalidations uint64 `json:"invalidations"`
	Disposals     uint64 `json:"disposals"`
}

type entry struct {
	key      string
	provider string
	client   types.FileSystem
	refs     int
	evicted  bool
	disposed bool
}

type slot struct {
	// lock serializes construction for the key. A channel lets waiters give up
	// when their context ends.
	lock  chan struct{}
	entry *entry
}

// Cache is safe for concurrent use.
type Cache struct {
	source   DriverSource
	opts     Options
	logger   log.Interface
	breakers *circuit.Set

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool

	constructions atomic.Uint64
	failures      atomic.Uint64
	invalidations atomic.Uint64
	disposals     atomic.Uint64
}

// New creates a cache that builds clients with drivers from source.
func New(source DriverSource, opts Options) *Cache {
	c := &Cache{
		source: source,
		opts:   opts,
		logger: opts.Logger,
		slots:  make(map[string]*slot),
	}
	if c.logger == nil {
		c.logger = log.Log
	}
	c.breakers = circuit.NewSet(circuit.Config{
		FailureThreshold: opts.FailureThreshold,
		IsFailure:        vfserrors.IsTransientBackend,
	})
	return c
}

// Key derives the cache key of a provider and config. Equal configs give
// equal keys regardless of map order. Every field is length prefixed, so no
// two distinct configs share a key.
func Key(provider string, cfg types.BackendConfig) string {
	h := sha256.New()
	writeField(h, provider)
	for _, k := range cfg.Keys() {
		writeField(h, k)
		writeField(h, cfg[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// GetOrCreate leases the client for provider and cfg, constructing it when no
// live client exists. The caller must Release the lease.
func (c *Cache) GetOrCreate(ctx context.Context, provider string, cfg types.BackendConfig) (*Lease, error) {
	if c.opts.Disabled {
		return c.fresh(ctx, provider, cfg)
	}

	key := Key(provider, cfg)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed()
	}
	s, ok := c.slots[key]
	if !ok {
		s = &slot{lock: make(chan struct{}, 1)}
		c.slots[key] = s
	}
	if e := s.entry; e != nil {
		e.refs++
		c.mu.Unlock()
		return c.lease(e, false), nil
	}
	c.mu.Unlock()

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, vfserrors.ServiceUnavailable("waiting for backend client construction", ctx.Err()).
			WithComponent("clientcache").
			WithProvider(provider)
	}
	defer func() { <-s.lock }()

	// Someone else may have finished constructing while we waited.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed()
	}
	if e := s.entry; e != nil {
		e.refs++
		c.mu.Unlock()
		return c.lease(e, false), nil
	}
	c.mu.Unlock()

	client, err := c.construct(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}

	e := &entry{key: key, provider: provider, client: client, refs: 1}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.dispose(e)
		return nil, errClosed()
	}
	s.entry = e
	c.mu.Unlock()

	c.logger.WithFields(log.Fields{
		"provider": provider,
		"key":      key[:12],
	}).Debug("backend client cached")
	return c.lease(e, true), nil
}

// Report feeds the outcome of an operation on the leased client into its
// failure accounting. A nil err resets the run of failures; only transient
// backend failures extend it. Once the run reaches the threshold the client is
// invalidated. Reports through a lease on a client that has already been
// invalidated are ignored. It reports whether this call invalidated the
// client.
func (c *Cache) Report(l *Lease, err error) bool {
	if c.opts.Disabled {
		return false
	}
	e := l.entry

	c.mu.Lock()
	if e.evicted {
		c.mu.Unlock()
		return false
	}
	tripped := c.breakers.Get(e.key).Record(err)
	c.mu.Unlock()

	if !tripped {
		return false
	}
	return c.invalidate(e.key, e, "consecutive backend failures")
}

// Invalidate removes the client under key from the cache. In-flight leases
// keep using it; it is closed once the last one is released.
func (c *Cache) Invalidate(key string) bool {
	return c.invalidate(key, nil, "explicit")
}

// Close invalidates every client. Later calls to GetOrCreate fail.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var idle []*entry
	for key, s := range c.slots {
		if e := s.entry; e != nil {
			s.entry = nil
			e.evicted = true
			if e.refs == 0 {
				e.disposed = true
				idle = append(idle, e)
			}
		}
		delete(c.slots, key)
	}
	c.mu.Unlock()

	for _, e := range idle {
		c.dispose(e)
	}
	return nil
}

// Len returns the number of cached clients.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slots {
		if s.entry != nil {
			n++
		}
	}
	return n
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	st := Stats{}
	for _, s := range c.slots {
		if s.entry != nil {
			st.Entries++
			st.Leased += s.entry.refs
		}
	}
	c.mu.Unlock()

	st.Constructions = c.constructions.Load()
	st.Failures = c.failures.Load()
	st.Invalidations = c.invalidations.Load()
	st.Disposals = c.disposals.Load()
	return st
}

// Breakers returns the failure accounting state of every key seen so far.
func (c *Cache) Breakers() []circuit.Stats {
	return c.breakers.Stats()
}

// invalidate evicts the client under key. When want is set, only that client
// is evicted.
func (c *Cache) invalidate(key string, want *entry, reason string) bool {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok || s.entry == nil || (want != nil && s.entry != want) {
		c.mu.Unlock()
		return false
	}
	e := s.entry
	s.entry = nil
	c.breakers.Remove(key)
	e.evicted = true
	idle := e.refs == 0
	if idle {
		e.disposed = true
	}
	c.mu.Unlock()

	c.invalidations.Add(1)
	c.logger.WithFields(log.Fields{
		"provider": e.provider,
		"key":      key[:12],
		"reason":   reason,
		"leases":   e.refs,
	}).Info("backend client invalidated")
	if c.opts.Observer != nil {
		c.opts.Observer.ClientInvalidated(e.provider, reason)
	}
	if idle {
		c.dispose(e)
	}
	return true
}

func (c *Cache) fresh(ctx context.Context, provider string, cfg types.BackendConfig) (*Lease, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errClosed()
	}

	client, err := c.construct(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}
	e := &entry{key: Key(provider, cfg), provider: provider, client: client, refs: 1, evicted: true}
	return c.lease(e, true), nil
}

func (c *Cache) construct(ctx context.Context, provider string, cfg types.BackendConfig) (types.FileSystem, error) {
	driver, err := c.source.Driver(provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	client, err := driver.NewClient(ctx, cfg)
	took := time.Since(start)
	if c.opts.Observer != nil {
		c.opts.Observer.ClientConstructed(provider, took, err)
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.WithFields(log.Fields{
			"provider": provider,
			"config":   cfg.String(),
		}).WithError(err).Warn("backend client construction failed")
		return nil, constructionError(provider, err)
	}
	c.constructions.Add(1)
	return client, nil
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.refs--
	dispose := e.refs == 0 && e.evicted && !e.disposed
	if dispose {
		e.disposed = true
	}
	c.mu.Unlock()

	if dispose {
		c.dispose(e)
	}
}

func (c *Cache) dispose(e *entry) {
	c.disposals.Add(1)
	if err := e.client.Close(); err != nil {
		c.logger.WithField("provider", e.provider).WithError(err).Warn("closing backend client")
	}
	if c.opts.Observer != nil {
		c.opts.Observer.ClientDisposed(e.provider)
	}
}

func (c *Cache) lease(e *entry, created bool) *Lease {
	return &Lease{cache: c, entry: e, created: created}
}

// constructionError classifies a driver failure. Only network trouble and
// timeouts are transient; anything else, a bad config above all, will fail the
// same way next time.
func constructionError(provider string, err error) error {
	if _, ok := vfserrors.As(err); ok {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return vfserrors.TransientBackend(provider, err).
			WithComponent("clientcache").
			WithOperation("construct")
	}
	return vfserrors.PermanentBackend(provider, err).
		WithComponent("clientcache").
		WithOperation("construct")
}

func errClosed() error {
	return vfserrors.ServiceUnavailable("client cache is closed", nil).WithComponent("clientcache")
}
