// Package kv provides the key-value persistence layer used by the session
// store and the offline artifact cache.
//
// Implementations may enforce a byte quota; writes past the quota fail with
// ErrQuotaExceeded so callers can run their eviction/fallback logic in one
// place instead of scattering it per cache.
package kv

import "errors"

// ErrQuotaExceeded is returned by Set when a write would push the store past
// its configured byte quota.
var ErrQuotaExceeded = errors.New("kv: storage quota exceeded")

// Store is a minimal string key-value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key. May return ErrQuotaExceeded.
	Set(key, value string) error

	// Remove deletes key. No-op if absent.
	Remove(key string)

	// Keys returns all keys with the given prefix, in no particular order.
	Keys(prefix string) []string
}
