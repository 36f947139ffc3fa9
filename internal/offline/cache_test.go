package offline

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthlabs/boilerd/internal/kv"
)

func newTestCache(t *testing.T, cfg *Config, store kv.Store, opts ...Option) *Cache {
	t.Helper()
	c, err := NewCache(cfg, store, nil, opts...)
	require.NoError(t, err)
	return c
}

func TestAddAndGet(t *testing.T) {
	c := newTestCache(t, nil, kv.NewMemoryStore())

	payload := map[string]string{"code": "EA", "description": "Flame not detected"}
	require.NoError(t, c.AddFaultCode("worcester:EA", payload, "worcester"))

	raw, ok := c.GetFaultCode("worcester:EA")
	require.True(t, ok)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "EA", decoded["code"])

	_, ok = c.GetFaultCode("missing")
	assert.False(t, ok)
}

func TestAdd_NeverExceedsCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFaultCodes = 10
	c := newTestCache(t, cfg, kv.NewMemoryStore())

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("code-%d", i)
		require.NoError(t, c.AddFaultCode(id, map[string]int{"n": i}, "ideal"))
		assert.LessOrEqual(t, c.Len(KindFaultCode), 10)
	}
}

func TestEviction_PrefersColdEntries(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.MaxFaultCodes = 5
	c := newTestCache(t, cfg, kv.NewMemoryStore(), WithClock(func() time.Time { return now }))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.AddFaultCode(fmt.Sprintf("code-%d", i), i, "ideal"))
	}

	// Make code-0 hot.
	for i := 0; i < 10; i++ {
		_, ok := c.GetFaultCode("code-0")
		require.True(t, ok)
	}

	// Age everything, then trigger eviction with a new insert.
	now = now.Add(2 * time.Hour)
	require.NoError(t, c.AddFaultCode("code-new", 99, "ideal"))

	_, ok := c.GetFaultCode("code-0")
	assert.True(t, ok, "frequently accessed entry should survive eviction")
	_, ok = c.GetFaultCode("code-new")
	assert.True(t, ok)
}

func TestManuals_IndependentCollection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxManuals = 2
	c := newTestCache(t, cfg, kv.NewMemoryStore())

	require.NoError(t, c.AddManual("m1", "pdf-one", "vaillant"))
	require.NoError(t, c.AddManual("m2", "pdf-two", "vaillant"))
	require.NoError(t, c.AddManual("m3", "pdf-three", "vaillant"))

	assert.LessOrEqual(t, c.Len(KindManual), 2)
	assert.Equal(t, 0, c.Len(KindFaultCode), "collections are independent")
}

func TestStatus(t *testing.T) {
	c := newTestCache(t, nil, kv.NewMemoryStore())

	require.NoError(t, c.AddFaultCode("a", "x", "worcester"))
	require.NoError(t, c.AddFaultCode("b", "y", "ideal"))
	require.NoError(t, c.AddManual("m", "z", "ideal"))

	st := c.Status()
	assert.Equal(t, 2, st.FaultCodeCount)
	assert.Equal(t, 1, st.ManualCount)
	assert.Positive(t, st.FaultCodeBytes)
	assert.NotZero(t, st.LastUpdated)
	// Most recently touched manufacturer first.
	require.NotEmpty(t, st.PopularManufacturers)
	assert.Equal(t, "ideal", st.PopularManufacturers[0])
}

func TestPopularManufacturers_Capped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PopularLimit = 3
	c := newTestCache(t, cfg, kv.NewMemoryStore())

	for _, m := range []string{"worcester", "ideal", "vaillant", "baxi", "glowworm"} {
		require.NoError(t, c.AddFaultCode(m+":x", "p", m))
	}

	st := c.Status()
	assert.Len(t, st.PopularManufacturers, 3)
	assert.Equal(t, "glowworm", st.PopularManufacturers[0])
}

func TestPopularManufacturers_ReadOrderSurvivesRestart(t *testing.T) {
	store := kv.NewMemoryStore()
	c := newTestCache(t, nil, store)

	require.NoError(t, c.AddFaultCode("worcester:EA", "x", "worcester"))
	require.NoError(t, c.AddFaultCode("ideal:F1", "y", "ideal"))

	// A read moves its manufacturer back to the front.
	_, ok := c.GetFaultCode("worcester:EA")
	require.True(t, ok)
	assert.Equal(t, "worcester", c.Status().PopularManufacturers[0])

	// The read-driven order is what a fresh cache over the same store sees.
	c2 := newTestCache(t, nil, store)
	st := c2.Status()
	require.NotEmpty(t, st.PopularManufacturers)
	assert.Equal(t, "worcester", st.PopularManufacturers[0])
}

func TestPersistence_RoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()

	c := newTestCache(t, nil, store)
	require.NoError(t, c.AddFaultCode("worcester:EA", map[string]string{"code": "EA"}, "worcester"))
	require.NoError(t, c.AddManual("manual-1", "contents", "worcester"))

	// A new cache over the same store sees the persisted records.
	c2 := newTestCache(t, nil, store)
	raw, ok := c2.GetFaultCode("worcester:EA")
	require.True(t, ok)
	assert.Contains(t, string(raw), "EA")
	_, ok = c2.GetManual("manual-1")
	assert.True(t, ok)

	st := c2.Status()
	assert.Equal(t, []string{"worcester"}, st.PopularManufacturers)
}

func TestPersistence_CompressesLargeBlobs(t *testing.T) {
	store := kv.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 256
	c := newTestCache(t, cfg, store)

	big := strings.Repeat("burner pressure test point ", 100)
	require.NoError(t, c.AddManual("manual-big", big, "worcester"))

	raw, ok := store.Get("offline:manuals")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw, "zstd:"), "large blob should be compressed")
	assert.Less(t, len(raw), len(big), "compressed blob should be smaller than the payload")

	// And decompressed transparently on load.
	c2 := newTestCache(t, cfg, store)
	payload, ok := c2.GetManual("manual-big")
	require.True(t, ok)
	var decoded string
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, big, decoded)
}

func TestPersistence_SmallBlobsSkipCompression(t *testing.T) {
	store := kv.NewMemoryStore()
	c := newTestCache(t, nil, store)

	require.NoError(t, c.AddFaultCode("a", "tiny", "ideal"))

	raw, ok := store.Get("offline:faultcodes")
	require.True(t, ok)
	assert.False(t, strings.HasPrefix(raw, "zstd:"))
}

func TestPersistence_CorruptBlobStartsEmpty(t *testing.T) {
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set("offline:faultcodes", "zstd:!!!not-base64!!!"))
	require.NoError(t, store.Set("offline:manuals", "{broken"))

	c := newTestCache(t, nil, store)
	assert.Equal(t, 0, c.Len(KindFaultCode))
	assert.Equal(t, 0, c.Len(KindManual))
}

func TestQuotaExceeded_FallbackCleanupAndDegradation(t *testing.T) {
	now := time.Now()
	store := kv.NewMemoryStoreWithQuota(2048)
	cfg := DefaultConfig()
	c := newTestCache(t, cfg, store, WithClock(func() time.Time { return now }))

	// Fill with records until writes start failing; none of these Adds may
	// error or panic even once the backing store rejects writes.
	payload := strings.Repeat("x", 200)
	for i := 0; i < 20; i++ {
		require.NoError(t, c.AddFaultCode(fmt.Sprintf("code-%d", i), payload, "ideal"))
	}

	// Fallback cleanup shrinks the collection on quota failure but never
	// empties it, and the in-memory cache keeps serving.
	assert.Positive(t, c.Len(KindFaultCode))
	assert.LessOrEqual(t, c.Len(KindFaultCode), cfg.MaxFaultCodes)

	served := 0
	for i := 0; i < 20; i++ {
		if _, ok := c.GetFaultCode(fmt.Sprintf("code-%d", i)); ok {
			served++
		}
	}
	assert.Positive(t, served, "surviving records must still be readable")
}
