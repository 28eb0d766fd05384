// Package cache keeps short-lived copies of forwarded upstream responses in
// Redis so that popular parameterless commands such as fee and server_info
// do not reach the upstream node on every request.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Command: "fee"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// forward to the node, then
//		_ = manager.Set(ctx, key, cache.NewEntry(response, time.Second))
//	}
//
// Entries expire in Redis through their TTL; Get also drops an entry whose
// Expires has passed in case the key outlived it.
//
// # Metrics
//
//   - clio_forward_cache_hits_total - cache hits
//   - clio_forward_cache_misses_total - cache misses
//   - clio_forward_cache_errors_total{operation} - Redis errors
package cache
