// Package cache memoizes schema resolutions in memory and persists validation
// results on disk between runs.
//
// Usage:
//
//	c := cache.NewMemoryCache()
//	c.Set(ctx, "resolve:2.5", res, time.Hour)
//	if v, ok := c.Get(ctx, "resolve:2.5"); ok {
//	    // use v
//	}
//
//	fc, err := cache.NewFileCache(dir)
//	key := cache.ComputeKey([]byte("2.5"), []byte(msg.Text()))
//	var diags []diagnostics.Diagnostic
//	hit, err := fc.Load(ctx, key, &diags)
package cache
