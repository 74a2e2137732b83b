package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache is an in-process key/value cache with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Store persists serializable values. Load decodes into dst and reports whether a live
// entry was found.
type Store interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Save(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ComputeKey hashes parts into a hex key. Parts are length-prefixed so that
// ("ab", "c") and ("a", "bc") differ.
func ComputeKey(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// ComputeKeyWithPrefix generates a key with a readable prefix.
func ComputeKeyWithPrefix(prefix string, parts ...[]byte) string {
	return prefix + ":" + ComputeKey(parts...)
}

// Entry is a cached value with its expiry. A zero ExpiresAt never expires.
type Entry struct {
	Value     any
	ExpiresAt time.Time
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
