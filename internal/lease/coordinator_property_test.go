package lease

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: of two claimants racing before expiry, exactly one acquires and
// the loser sees the winner as owner.
func TestCoordinator_MutualExclusionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one claimant wins", prop.ForAll(
		func(ttl, t0, delta int64) bool {
			ctx := context.Background()
			shared := NewMemoryStore()
			p1 := NewCoordinator(shared, DefaultConfig())
			p2 := NewCoordinator(shared, DefaultConfig())

			r1 := p1.Claim(ctx, "conv", "a", ttl, t0)
			if delta >= ttl {
				delta = ttl - 1
			}
			r2 := p2.Claim(ctx, "conv", "b", ttl, t0+delta)

			return r1.Acquired && !r2.Acquired && r2.OwnerAttemptID == "a"
		},
		gen.Int64Range(1, 60_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 60_000),
	))

	properties.Property("claims after expiry always succeed", prop.ForAll(
		func(ttl, t0, after int64) bool {
			ctx := context.Background()
			c := NewCoordinator(NewMemoryStore(), DefaultConfig())
			first := c.Claim(ctx, "conv", "a", ttl, t0)
			return c.Claim(ctx, "conv", "b", ttl, first.ExpiresAtMs+after).Acquired
		},
		gen.Int64Range(1, 60_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 60_000),
	))

	properties.Property("release succeeds exactly once", prop.ForAll(
		func(others []string) bool {
			ctx := context.Background()
			c := NewCoordinator(NewMemoryStore(), DefaultConfig())
			c.Claim(ctx, "conv", "owner", 5000, 1000)

			for _, o := range others {
				if o != "owner" && c.Release(ctx, "conv", o, 1001) {
					return false
				}
			}
			if !c.Release(ctx, "conv", "owner", 1002) {
				return false
			}
			return !c.Release(ctx, "conv", "owner", 1003)
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
