/*
Package cache provides a bounded, TTL-aware LRU map.

The metadata resolver uses it to remember fileset locations for a short time
so repeated operations on the same fileset do not each cost a metadata round
trip. Entries expire lazily on access; there is no background sweeper, so an
LRU that is no longer referenced is simply garbage collected.

# Usage

	c := cache.NewLRU[types.FilesetIdent, types.FilesetLocation](&cache.Config{
		MaxEntries: 1024,
		TTL:        30 * time.Second,
	})
	c.Put(ident, loc)
	if loc, ok := c.Get(ident); ok {
		...
	}

A zero TTL keeps entries until they are evicted or deleted.

# Thread Safety

All methods are safe for concurrent use.
*/
package cache
