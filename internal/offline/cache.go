package offline

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/hearthlabs/boilerd/internal/kv"
)

// compressedPrefix marks a persisted blob as zstd-compressed and
// base64-wrapped.
const compressedPrefix = "zstd:"

// Config configures the offline cache.
type Config struct {
	// MaxFaultCodes bounds the fault-code collection (default: 100).
	MaxFaultCodes int

	// MaxManuals bounds the manual collection (default: 20). Manuals are
	// larger, so the collection is smaller and evicted more aggressively.
	MaxManuals int

	// FaultCodeEvictFraction is the share of the collection removed when
	// eviction triggers (default: 0.2).
	FaultCodeEvictFraction float64

	// ManualEvictFraction (default: 0.3).
	ManualEvictFraction float64

	// CompressionThreshold is the serialized-blob size in bytes above
	// which persisted blobs are compressed (default: 8192). Small caches
	// skip compression overhead entirely.
	CompressionThreshold int

	// PopularLimit caps the rolling popular-manufacturers list
	// (default: 5).
	PopularLimit int

	// FallbackMaxAge is the absolute age cutoff used by the aggressive
	// fallback cleanup after a quota failure (default: 24h).
	FallbackMaxAge time.Duration

	// FallbackAccessFloor keeps records with at least this many accesses
	// out of the age-based fallback cleanup (default: 3).
	FallbackAccessFloor int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFaultCodes:          100,
		MaxManuals:             20,
		FaultCodeEvictFraction: 0.2,
		ManualEvictFraction:    0.3,
		CompressionThreshold:   8 * 1024,
		PopularLimit:           5,
		FallbackMaxAge:         24 * time.Hour,
		FallbackAccessFloor:    3,
	}
}

const (
	keyFaultCodes = "offline:faultcodes"
	keyManuals    = "offline:manuals"
	keyMeta       = "offline:meta"
)

// meta is the persisted display-only state.
type meta struct {
	PopularManufacturers []string `json:"popular_manufacturers"`
	LastUpdated          int64    `json:"last_updated"`
}

// Cache is the offline artifact cache. All methods are safe for concurrent
// use.
type Cache struct {
	config *Config
	kv     kv.Store
	logger *zap.Logger
	now    func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu          sync.Mutex
	faultCodes  map[string]*Record
	manuals     map[string]*Record
	popular     []string
	lastUpdated int64
	degraded    bool // persistence failed and was given up on
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an offline cache backed by store, loading any persisted
// collections. A corrupt persisted blob starts that collection empty
// rather than failing.
func NewCache(cfg *Config, store kv.Store, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	c := &Cache{
		config: cfg,
		kv:     store,
		logger: logger,
		now:    time.Now,
		enc:    enc,
		dec:    dec,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.faultCodes = c.loadCollection(keyFaultCodes)
	c.manuals = c.loadCollection(keyManuals)
	c.loadMeta()
	return c, nil
}

// Add stores an artifact in the collection for kind. At capacity the
// lowest-scoring share of the collection is evicted before the insert, so
// the collection never exceeds its bound.
func (c *Cache) Add(kind Kind, id string, payload any, manufacturer string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, limit, fraction, key := c.collection(kind)
	if coll == nil {
		return fmt.Errorf("unknown artifact kind: %q", kind)
	}

	if _, exists := coll[id]; !exists && len(coll) >= limit {
		c.evictLocked(coll, fraction)
	}

	now := c.now().UnixMilli()
	coll[id] = &Record{
		ID:           id,
		Payload:      raw,
		Manufacturer: manufacturer,
		CachedAt:     now,
		AccessCount:  0,
		LastAccessed: now,
		SizeBytes:    len(raw),
	}

	c.touchManufacturerLocked(manufacturer)
	c.lastUpdated = now
	c.persistLocked(key, coll)
	c.persistMetaLocked()
	return nil
}

// Get returns an artifact payload, bumping its access fields on a hit.
func (c *Cache) Get(kind Kind, id string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	coll, _, _, key := c.collection(kind)
	if coll == nil {
		return nil, false
	}
	rec, ok := coll[id]
	if !ok {
		return nil, false
	}

	rec.AccessCount++
	rec.LastAccessed = c.now().UnixMilli()
	c.touchManufacturerLocked(rec.Manufacturer)
	c.persistLocked(key, coll)
	// Reads reorder the popular list, so meta is persisted here too or the
	// MRU order would be lost across restarts.
	c.persistMetaLocked()
	return rec.Payload, true
}

// AddFaultCode caches a fault-code artifact.
func (c *Cache) AddFaultCode(id string, payload any, manufacturer string) error {
	return c.Add(KindFaultCode, id, payload, manufacturer)
}

// GetFaultCode returns a cached fault-code artifact.
func (c *Cache) GetFaultCode(id string) (json.RawMessage, bool) {
	return c.Get(KindFaultCode, id)
}

// AddManual caches a manual artifact.
func (c *Cache) AddManual(id string, payload any, manufacturer string) error {
	return c.Add(KindManual, id, payload, manufacturer)
}

// GetManual returns a cached manual artifact.
func (c *Cache) GetManual(id string) (json.RawMessage, bool) {
	return c.Get(KindManual, id)
}

// Status returns a display snapshot of the cache.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		FaultCodeCount:       len(c.faultCodes),
		ManualCount:          len(c.manuals),
		PopularManufacturers: append([]string(nil), c.popular...),
		LastUpdated:          c.lastUpdated,
	}
	for _, r := range c.faultCodes {
		st.FaultCodeBytes += int64(r.SizeBytes)
	}
	for _, r := range c.manuals {
		st.ManualBytes += int64(r.SizeBytes)
	}
	return st
}

// Len returns the entry count of one collection.
func (c *Cache) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	coll, _, _, _ := c.collection(kind)
	return len(coll)
}

func (c *Cache) collection(kind Kind) (map[string]*Record, int, float64, string) {
	switch kind {
	case KindFaultCode:
		return c.faultCodes, c.config.MaxFaultCodes, c.config.FaultCodeEvictFraction, keyFaultCodes
	case KindManual:
		return c.manuals, c.config.MaxManuals, c.config.ManualEvictFraction, keyManuals
	default:
		return nil, 0, 0, ""
	}
}

// score combines recency and frequency: frequent access raises the score,
// hours since last access lower it. Lowest scores are evicted first.
func (c *Cache) score(r *Record) float64 {
	ageHours := float64(c.now().UnixMilli()-r.LastAccessed) / float64(time.Hour.Milliseconds())
	return float64(r.AccessCount)*2.0 - ageHours
}

// evictLocked removes the lowest-scoring fraction of coll (at least one
// entry). Caller must hold the lock.
func (c *Cache) evictLocked(coll map[string]*Record, fraction float64) {
	n := int(math.Ceil(float64(len(coll)) * fraction))
	if n < 1 {
		n = 1
	}

	type scored struct {
		id    string
		score float64
	}
	entries := make([]scored, 0, len(coll))
	for id, r := range coll {
		entries = append(entries, scored{id: id, score: c.score(r)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })

	for i := 0; i < n && i < len(entries); i++ {
		delete(coll, entries[i].id)
	}
}

// touchManufacturerLocked moves manufacturer to the front of the popular
// list, capped at the configured length. Display only; eviction never
// consults it.
func (c *Cache) touchManufacturerLocked(manufacturer string) {
	if manufacturer == "" {
		return
	}
	out := make([]string, 0, len(c.popular)+1)
	out = append(out, manufacturer)
	for _, m := range c.popular {
		if m != manufacturer {
			out = append(out, m)
		}
	}
	if len(out) > c.config.PopularLimit {
		out = out[:c.config.PopularLimit]
	}
	c.popular = out
}

// persistLocked serializes a collection, compressing blobs above the
// threshold. A quota failure triggers an aggressive fallback cleanup and
// one retry; if that still fails the in-memory cache continues to serve
// without persistence. Caller must hold the lock.
func (c *Cache) persistLocked(key string, coll map[string]*Record) {
	blob, err := c.encodeCollection(coll)
	if err != nil {
		c.logger.Warn("offline cache serialization failed", zap.String("key", key), zap.Error(err))
		return
	}

	err = c.kv.Set(key, blob)
	if !errors.Is(err, kv.ErrQuotaExceeded) {
		if err != nil {
			c.logger.Warn("offline cache persist failed", zap.String("key", key), zap.Error(err))
		} else {
			c.degraded = false
		}
		return
	}

	c.logger.Warn("offline cache hit storage quota, running fallback cleanup", zap.String("key", key))
	c.fallbackCleanupLocked(coll)

	blob, err = c.encodeCollection(coll)
	if err == nil {
		err = c.kv.Set(key, blob)
	}
	if err != nil {
		if !c.degraded {
			c.logger.Error("offline cache persistence degraded, serving from memory only",
				zap.String("key", key), zap.Error(err))
		}
		c.degraded = true
	}
}

// fallbackCleanupLocked is the aggressive post-quota cleanup: drop records
// past the absolute age cutoff unless they clear the access-count floor,
// then evict a further share by score.
func (c *Cache) fallbackCleanupLocked(coll map[string]*Record) {
	cutoff := c.now().Add(-c.config.FallbackMaxAge).UnixMilli()
	for id, r := range coll {
		if r.LastAccessed < cutoff && r.AccessCount < c.config.FallbackAccessFloor {
			delete(coll, id)
		}
	}
	if len(coll) > 0 {
		c.evictLocked(coll, 0.5)
	}
}

func (c *Cache) persistMetaLocked() {
	b, err := json.Marshal(meta{
		PopularManufacturers: c.popular,
		LastUpdated:          c.lastUpdated,
	})
	if err != nil {
		return
	}
	if err := c.kv.Set(keyMeta, string(b)); err != nil {
		c.logger.Debug("offline meta persist failed", zap.Error(err))
	}
}

// encodeCollection serializes coll, compressing when the JSON exceeds the
// threshold. The decision is based on measured size, not a static flag.
func (c *Cache) encodeCollection(coll map[string]*Record) (string, error) {
	b, err := json.Marshal(coll)
	if err != nil {
		return "", err
	}
	if len(b) <= c.config.CompressionThreshold {
		return string(b), nil
	}
	compressed := c.enc.EncodeAll(b, nil)
	return compressedPrefix + base64.StdEncoding.EncodeToString(compressed), nil
}

// loadCollection reads and decodes one persisted collection. Corruption is
// logged and yields an empty collection.
func (c *Cache) loadCollection(key string) map[string]*Record {
	raw, ok := c.kv.Get(key)
	if !ok {
		return make(map[string]*Record)
	}

	data := []byte(raw)
	if rest, found := strings.CutPrefix(raw, compressedPrefix); found {
		compressed, err := base64.StdEncoding.DecodeString(rest)
		if err == nil {
			data, err = c.dec.DecodeAll(compressed, nil)
		}
		if err != nil {
			c.logger.Warn("offline cache blob corrupt, starting empty",
				zap.String("key", key), zap.Error(err))
			return make(map[string]*Record)
		}
	}

	coll := make(map[string]*Record)
	if err := json.Unmarshal(data, &coll); err != nil {
		c.logger.Warn("offline cache blob corrupt, starting empty",
			zap.String("key", key), zap.Error(err))
		return make(map[string]*Record)
	}
	return coll
}

func (c *Cache) loadMeta() {
	raw, ok := c.kv.Get(keyMeta)
	if !ok {
		return
	}
	var m meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return
	}
	c.popular = m.PopularManufacturers
	c.lastUpdated = m.LastUpdated
}
