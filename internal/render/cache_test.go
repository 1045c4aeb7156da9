package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key string) *cacheEntry {
	return &cacheEntry{key: key, bytes: []byte(key), format: "png", width: 1080, height: 1080}
}

func TestLRUCache_GetPut(t *testing.T) {
	cache := newLRUCache(3)

	_, ok := cache.get("a")
	assert.False(t, ok)

	cache.put(entry("a"))
	got, ok := cache.get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got.bytes)
}

func TestLRUCache_EvictsOldest(t *testing.T) {
	cache := newLRUCache(3)
	cache.put(entry("a"))
	cache.put(entry("b"))
	cache.put(entry("c"))

	cache.put(entry("d"))

	_, ok := cache.get("a")
	assert.False(t, ok, "oldest entry evicted at capacity")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := cache.get(key)
		assert.True(t, ok, "entry %s retained", key)
	}
	assert.Equal(t, 3, cache.len())
}

func TestLRUCache_TouchRefreshesRecency(t *testing.T) {
	cache := newLRUCache(3)
	cache.put(entry("a"))
	cache.put(entry("b"))
	cache.put(entry("c"))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.get("a")
	require.True(t, ok)

	cache.put(entry("d"))

	_, ok = cache.get("b")
	assert.False(t, ok)
	_, ok = cache.get("a")
	assert.True(t, ok)
}

func TestLRUCache_ReplaceExisting(t *testing.T) {
	cache := newLRUCache(3)
	cache.put(entry("a"))

	replacement := entry("a")
	replacement.bytes = []byte("new")
	cache.put(replacement)

	got, ok := cache.get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got.bytes)
	assert.Equal(t, 1, cache.len())
}

func TestLRUCache_CapacityHolds(t *testing.T) {
	cache := newLRUCache(100)
	for i := 0; i < 250; i++ {
		cache.put(entry(fmt.Sprintf("k%d", i)))
	}
	assert.Equal(t, 100, cache.len())
}
