package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capgate/internal/lease"
)

// StoreFactory returns a fresh, empty lease store. Cleanup is registered on t.
type StoreFactory func(t *testing.T) lease.Store

// RunStoreConformance checks that a lease.Store implementation behaves the
// way the lease coordinator expects.
//
// Every backend runs the same suite so that swapping the [store] driver
// never changes lease semantics.
func RunStoreConformance(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.Get(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "k", "v1"))
		v, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, s.Set(ctx, "k", "v2"))
		v, _, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", v)
	})

	t.Run("values preserved exactly", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		value := `{"attemptId":"été ✓","expiresAtMs":6000,"updatedAtMs":1000}`

		require.NoError(t, s.Set(ctx, "capgate:lease:conv/1", value))
		v, ok, err := s.Get(ctx, "capgate:lease:conv/1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value, v)
	})

	t.Run("remove", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "k", "v"))
		require.NoError(t, s.Remove(ctx, "k"))
		_, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, s.Remove(ctx, "k"), "removing a missing key is not an error")
	})

	t.Run("get all by prefix", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a:1", "x"))
		require.NoError(t, s.Set(ctx, "a:2", "y"))
		require.NoError(t, s.Set(ctx, "b:1", "z"))
		require.NoError(t, s.Set(ctx, "a", "not under a:"))

		got, err := s.GetAll(ctx, "a:")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a:1": "x", "a:2": "y"}, got)

		all, err := s.GetAll(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := s.GetAll(ctx, "zzz:")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("coordinators share leases", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		p1 := lease.NewCoordinator(s, lease.DefaultConfig())
		p2 := lease.NewCoordinator(s, lease.DefaultConfig())

		res := p1.Claim(ctx, "conv-1", "attempt-a", 5000, 1000)
		require.True(t, res.Acquired)
		assert.Equal(t, int64(6000), res.ExpiresAtMs)

		res = p2.Claim(ctx, "conv-1", "attempt-b", 5000, 1000)
		assert.False(t, res.Acquired)
		assert.Equal(t, "attempt-a", res.OwnerAttemptID)

		res = p2.Claim(ctx, "conv-1", "attempt-b", 5000, 7000)
		assert.True(t, res.Acquired)
		assert.Equal(t, "attempt-b", res.OwnerAttemptID)

		assert.True(t, p2.Release(ctx, "conv-1", "attempt-b", 7100))
		_, ok, err := s.Get(ctx, lease.DefaultPrefix+"conv-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
