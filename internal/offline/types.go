// Package offline maintains a bounded, optionally compressed persisted
// cache of fault-code and manual records for use without connectivity.
// Collections are evicted by a recency/frequency score; persistence is
// best-effort and never fatal to the in-memory cache.
package offline

import "encoding/json"

// Kind selects one of the two artifact collections.
type Kind string

const (
	KindFaultCode Kind = "faultcode"
	KindManual    Kind = "manual"
)

// Record is one cached artifact. Access fields are mutated on every hit
// and feed into eviction scoring.
type Record struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	Manufacturer string          `json:"manufacturer"`
	CachedAt     int64           `json:"cached_at"`      // epoch milliseconds
	AccessCount  int             `json:"access_count"`
	LastAccessed int64           `json:"last_accessed"`  // epoch milliseconds
	SizeBytes    int             `json:"size_bytes"`
}

// Status is a snapshot of the cache for display.
type Status struct {
	FaultCodeCount       int      `json:"fault_code_count"`
	FaultCodeBytes       int64    `json:"fault_code_bytes"`
	ManualCount          int      `json:"manual_count"`
	ManualBytes          int64    `json:"manual_bytes"`
	PopularManufacturers []string `json:"popular_manufacturers"`
	LastUpdated          int64    `json:"last_updated"` // epoch milliseconds, 0 if never
}
