// Package cache provides a small key-value cache interface with LRU eviction
// and TTL support.
//
// The repository caches loaded aggregates and the durable event store caches
// whole streams with it. Both treat the cache as an optimization: entries
// are invalidated on every write and a miss always falls back to the store.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	defer c.Close()
//
//	streams := cache.NewTyped[[]es.Envelope](c)
//	streams.Put("account-42", events, cache.WithTTL(5*time.Minute))
//
// Expired entries are lazily evicted on access.
package cache
