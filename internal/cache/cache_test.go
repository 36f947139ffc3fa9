package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](5*time.Minute, 100)

	c.Set("worcester bosch", "worcester")

	v, ok := c.Get("worcester bosch")
	assert.True(t, ok)
	assert.Equal(t, "worcester", v)
}

func TestCache_GetNonExistent(t *testing.T) {
	c := New[string](5*time.Minute, 100)

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New(time.Minute, 100, WithNow[string](clock))

	c.Set("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok, "entry should exist before expiry")

	// Advance past TTL
	now = now.Add(time.Minute + time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "entry should be a miss after TTL")
	assert.Equal(t, 0, c.Len(), "expired entry should be deleted lazily")
}

func TestCache_FIFOEviction(t *testing.T) {
	c := New[int](5*time.Minute, 3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Access "a" so it would survive under LRU; FIFO evicts it anyway.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", 4)

	_, ok = c.Get("a")
	assert.False(t, ok, "oldest-inserted entry should be evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "%s should survive", k)
	}
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	c := New[int](5*time.Minute, 10)

	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
		assert.LessOrEqual(t, c.Len(), 10)
	}
}

func TestCache_UpdateExistingKeepsOrder(t *testing.T) {
	c := New[int](5*time.Minute, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // refresh, not a new insertion

	c.Set("c", 3) // evicts "a" (still oldest-inserted)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](5*time.Minute, 50)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", (id+j)%60)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCache_Clear(t *testing.T) {
	c := New[int](5*time.Minute, 10)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
