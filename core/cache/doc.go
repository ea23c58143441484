// Package cache provides a small generic LRU cache with optional per-entry
// expiry.
//
//	c := cache.NewLRU[string, *vm.Program](cache.LRUOpts{Size: 256})
//	c.Put("data.count > 3", prog)
//	if p, ok := c.Get("data.count > 3"); ok {
//	    // use p
//	}
//
// Expired entries are evicted lazily on access.
package cache
