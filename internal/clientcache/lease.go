package clientcache

import (
	"sync"

	"github.com/objectfs/gvfs/pkg/types"
)

// Lease is a counted reference to a cached client. The client stays open at
// least until Release.
type Lease struct {
	cache   *Cache
	entry   *entry
	created bool
	once    sync.Once
}

// Client returns the leased backend client.
func (l *Lease) Client() types.FileSystem {
	return l.entry.client
}

// Key returns the cache key of the client.
func (l *Lease) Key() string {
	return l.entry.key
}

// Provider returns the provider the client was built by.
func (l *Lease) Provider() string {
	return l.entry.provider
}

// Created reports whether this call constructed the client.
func (l *Lease) Created() bool {
	return l.created
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cache.release(l.entry)
	})
}
