package boundedcache

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: after any sequence of sets the cache holds at most capacity
// entries, and they are exactly the most recently set keys in LRU order.
func TestCache_RecencyModelProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("matches a slice LRU model", prop.ForAll(
		func(capacity int, keys []int) bool {
			c := New[int, int](capacity)
			var model []int
			for i, k := range keys {
				c.Set(k, i)
				if idx := slices.Index(model, k); idx >= 0 {
					model = slices.Delete(model, idx, idx+1)
				}
				model = append(model, k)
				if len(model) > capacity {
					model = model[1:]
				}
				if c.Len() > capacity {
					return false
				}
			}
			return slices.Equal(c.Keys(), model)
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
