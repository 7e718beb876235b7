package boundedcache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_UpdateKeepsSingleEntry(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("a", 2)

	assert.Equal(t, 1, c.Len())
	got, _ := c.Get("a")
	assert.Equal(t, 2, got)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "a is the LRU entry and must be evicted")
	assert.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestCache_GetDoesNotReorder(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "Get must not protect a from eviction")
}

func TestCache_TouchReorders(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	require.True(t, c.Touch("a"))
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.True(t, ok, "touched key survives")
	_, ok = c.Get("b")
	assert.False(t, ok)

	assert.False(t, c.Touch("missing"))
}

func TestCache_SetExistingReorders(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	assert.Equal(t, []string{"a", "c"}, c.Keys())
}

func TestCache_NonPositiveCapacityIsNoop(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		t.Run(fmt.Sprint(capacity), func(t *testing.T) {
			c := New[string, int](capacity)
			c.Set("a", 1)
			assert.Equal(t, 0, c.Len())
			_, ok := c.Get("a")
			assert.False(t, ok)
		})
	}
}

func TestCache_OnEvict(t *testing.T) {
	var evicted []string
	c := New[string, int](1, WithOnEvict(func(k string, _ int) {
		evicted = append(evicted, k)
	}))

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("b")

	assert.Equal(t, []string{"a"}, evicted, "Delete does not fire the eviction callback")
}

func TestCache_Oldest(t *testing.T) {
	c := New[string, int](3)

	_, _, ok := c.Oldest()
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("b", 2)
	k, v, ok := c.Oldest()
	require.True(t, ok)
	assert.Equal(t, "a", k)
	assert.Equal(t, 1, v)
}

func TestCache_RangeAllowsDelete(t *testing.T) {
	c := New[int, int](10)
	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}

	c.Range(func(k, v int) bool {
		if v%2 == 0 {
			c.Delete(k)
		}
		return true
	})

	assert.Equal(t, []int{1, 3}, c.Keys())
}

func TestCache_RangeStopsEarly(t *testing.T) {
	c := New[int, int](10)
	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}

	var seen []int
	c.Range(func(k, _ int) bool {
		seen = append(seen, k)
		return k < 1
	})

	assert.Equal(t, []int{0, 1}, seen)
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	const capacity = 16
	c := New[int, int](capacity)

	for i := 0; i < 1000; i++ {
		c.Set(i, i)
		require.LessOrEqual(t, c.Len(), capacity)
	}

	// Survivors are exactly the most recent inserts.
	keys := c.Keys()
	require.Len(t, keys, capacity)
	for i, k := range keys {
		assert.Equal(t, 1000-capacity+i, k)
	}
}
