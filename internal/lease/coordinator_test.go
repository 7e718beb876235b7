package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected store failure")

// faultyStore wraps a MemoryStore with switchable failures and call counts.
type faultyStore struct {
	*MemoryStore
	failGet    atomic.Bool
	failSet    atomic.Bool
	failRemove atomic.Bool
	failGetAll atomic.Bool
	getAlls    atomic.Int64

	// gate, when set, blocks GetAll until closed.
	gate chan struct{}
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore()}
}

func (s *faultyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failGet.Load() {
		return "", false, errInjected
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key, value string) error {
	if s.failSet.Load() {
		return errInjected
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *faultyStore) Remove(ctx context.Context, key string) error {
	if s.failRemove.Load() {
		return errInjected
	}
	return s.MemoryStore.Remove(ctx, key)
}

func (s *faultyStore) GetAll(ctx context.Context, prefix string) (map[string]string, error) {
	s.getAlls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.failGetAll.Load() {
		return nil, errInjected
	}
	return s.MemoryStore.GetAll(ctx, prefix)
}

func newTestCoordinator(t *testing.T, store Store) *Coordinator {
	t.Helper()
	return NewCoordinator(store, Config{Prefix: "test:", MaxEntries: 16})
}

func TestCoordinator_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, NewMemoryStore())

	res := c.Claim(ctx, "conv-1", "attempt-a", 5000, 1000)
	assert.Equal(t, ClaimResult{Acquired: true, OwnerAttemptID: "attempt-a", ExpiresAtMs: 6000}, res)

	res = c.Claim(ctx, "conv-1", "attempt-b", 5000, 1000)
	assert.Equal(t, ClaimResult{Acquired: false, OwnerAttemptID: "attempt-a", ExpiresAtMs: 6000}, res)

	res = c.Claim(ctx, "conv-1", "attempt-b", 5000, 7000)
	assert.True(t, res.Acquired)
	assert.Equal(t, "attempt-b", res.OwnerAttemptID)
	assert.Equal(t, int64(12000), res.ExpiresAtMs)
}

func TestCoordinator_WritesWireRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCoordinator(t, store)

	c.Claim(ctx, "conv-1", "attempt-a", 5000, 1000)

	raw, ok, err := store.Get(ctx, "test:conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"attemptId":"attempt-a","expiresAtMs":6000,"updatedAtMs":1000}`, raw)
}

func TestCoordinator_TakeoverExactlyAtExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, NewMemoryStore())

	c.Claim(ctx, "r", "a", 100, 1000)

	assert.False(t, c.Claim(ctx, "r", "b", 100, 1099).Acquired)
	assert.True(t, c.Claim(ctx, "r", "b", 100, 1100).Acquired, "expiresAtMs ≤ now is expired")
}

func TestCoordinator_OwnerRenews(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, NewMemoryStore())

	c.Claim(ctx, "r", "a", 100, 1000)
	res := c.Claim(ctx, "r", "a", 500, 1050)

	assert.True(t, res.Acquired)
	assert.Equal(t, int64(1550), res.ExpiresAtMs)
	assert.Equal(t, 1, c.Len())
}

func TestCoordinator_TTLFloor(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, NewMemoryStore())

	for _, ttl := range []int64{0, -50} {
		res := c.Claim(ctx, fmt.Sprint("r", ttl), "a", ttl, 1000)
		assert.True(t, res.Acquired)
		assert.Equal(t, int64(1001), res.ExpiresAtMs)
	}
}

func TestCoordinator_ReleaseOwnerScopedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCoordinator(t, store)

	c.Claim(ctx, "r", "a", 5000, 1000)

	assert.False(t, c.Release(ctx, "r", "b", 1100), "non-owner cannot revoke")
	assert.True(t, c.Claim(ctx, "r", "b", 5000, 1100).OwnerAttemptID == "a", "lease survives foreign release")

	assert.True(t, c.Release(ctx, "r", "a", 1200))
	assert.False(t, c.Release(ctx, "r", "a", 1300))
	assert.False(t, c.Release(ctx, "r", "b", 1300))
	assert.Equal(t, 0, store.Len())

	assert.True(t, c.Claim(ctx, "r", "b", 5000, 1400).Acquired)
}

func TestCoordinator_ReleaseUnknown(t *testing.T) {
	c := newTestCoordinator(t, NewMemoryStore())
	assert.False(t, c.Release(context.Background(), "nothing", "a", 0))
}

func TestCoordinator_ReleaseAfterExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, NewMemoryStore())

	c.Claim(ctx, "r", "a", 100, 1000)
	assert.False(t, c.Release(ctx, "r", "a", 1100), "expired lease is already gone")
}

func TestCoordinator_StoreWriteFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCoordinator(t, store)

	store.failSet.Store(true)
	res := c.Claim(ctx, "r", "a", 5000, 1000)
	assert.Equal(t, ClaimResult{}, res, "denied with empty owner")
	assert.Equal(t, 0, c.Len(), "mirror rolled back")

	store.failSet.Store(false)
	assert.True(t, c.Claim(ctx, "r", "b", 5000, 1000).Acquired)
}

func TestCoordinator_RenewWriteFailureRestoresPrevious(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCoordinator(t, store)

	c.Claim(ctx, "r", "a", 100, 1000)
	store.failSet.Store(true)
	assert.False(t, c.Claim(ctx, "r", "a", 5000, 1050).Acquired)

	leases := c.Leases(ctx, 1050)
	require.Len(t, leases, 1)
	assert.Equal(t, int64(1100), leases[0].ExpiresAtMs, "previous expiry restored")
}

func TestCoordinator_StoreReadFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCoordinator(t, store)
	c.Leases(ctx, 0) // hydrate

	store.failGet.Store(true)
	assert.Equal(t, ClaimResult{}, c.Claim(ctx, "r", "a", 5000, 1000))
}

func TestCoordinator_RemoveFailureKeepsLease(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCoordinator(t, store)

	c.Claim(ctx, "r", "a", 5000, 1000)
	store.failRemove.Store(true)

	assert.False(t, c.Release(ctx, "r", "a", 1100))
	assert.False(t, c.Claim(ctx, "r", "b", 5000, 1100).Acquired, "lease still held")

	store.failRemove.Store(false)
	assert.True(t, c.Release(ctx, "r", "a", 1200))
}

func TestCoordinator_PruneSwallowsRemoveFailure(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := newTestCoordinator(t, store)

	c.Claim(ctx, "r", "a", 100, 1000)
	store.failRemove.Store(true)

	res := c.Claim(ctx, "r", "b", 100, 2000)
	assert.True(t, res.Acquired)
}

func TestCoordinator_PruneRemovesFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCoordinator(t, store)

	c.Claim(ctx, "r1", "a", 100, 1000)
	c.Claim(ctx, "r2", "a", 10_000, 1000)
	c.Claim(ctx, "r3", "a", 10_000, 2000) // prunes r1

	_, ok, _ := store.Get(ctx, "test:r1")
	assert.False(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestCoordinator_CrossProcessExclusion(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	p1 := newTestCoordinator(t, shared)
	p2 := newTestCoordinator(t, shared)

	// Both hydrate an empty namespace first.
	p1.Leases(ctx, 0)
	p2.Leases(ctx, 0)

	assert.True(t, p1.Claim(ctx, "conv-1", "attempt-a", 5000, 1000).Acquired)

	res := p2.Claim(ctx, "conv-1", "attempt-b", 5000, 1001)
	assert.False(t, res.Acquired)
	assert.Equal(t, "attempt-a", res.OwnerAttemptID)

	assert.False(t, p2.Release(ctx, "conv-1", "attempt-b", 1002))
	assert.True(t, p1.Release(ctx, "conv-1", "attempt-a", 1003))
}

func TestCoordinator_HydratesExistingLeases(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()

	first := newTestCoordinator(t, shared)
	first.Claim(ctx, "r", "a", 5000, 1000)

	// A fresh coordinator (restarted process) sees the lease and can
	// release it as its owner.
	second := newTestCoordinator(t, shared)
	leases := second.Leases(ctx, 1000)
	require.Len(t, leases, 1)
	assert.Equal(t, "a", leases[0].OwnerAttemptID)
	assert.True(t, second.Release(ctx, "r", "a", 1100))
}

func TestCoordinator_HydrationDropsCorruptAndForeignKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "test:bad", "{oops"))
	require.NoError(t, store.Set(ctx, "test:partial", `{"attemptId":"x"}`))
	require.NoError(t, store.Set(ctx, "other:r", `{"attemptId":"x","expiresAtMs":99999,"updatedAtMs":1}`))
	require.NoError(t, store.Set(ctx, "test:good", `{"attemptId":"x","expiresAtMs":99999,"updatedAtMs":1,"extra":true}`))

	c := newTestCoordinator(t, store)
	leases := c.Leases(ctx, 1000)
	require.Len(t, leases, 1)
	assert.Equal(t, "good", leases[0].ResourceID)

	assert.True(t, c.Claim(ctx, "bad", "a", 100, 1000).Acquired, "corrupt record counts as no lease")
}

func TestCoordinator_HydrationIsCoalesced(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	store.gate = make(chan struct{})
	c := newTestCoordinator(t, store)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]ClaimResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Claim(ctx, "r", fmt.Sprintf("claimant-%d", i), 5000, 1000)
		}(i)
	}

	close(store.gate)
	wg.Wait()

	assert.Equal(t, int64(1), store.getAlls.Load(), "one full-store read")
	assert.Equal(t, int64(1), c.Hydrations())

	var winners int
	for _, r := range results {
		if r.Acquired {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestCoordinator_HydrationRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	require.NoError(t, store.MemoryStore.Set(ctx, "test:r", `{"attemptId":"other","expiresAtMs":99999,"updatedAtMs":1}`))
	c := newTestCoordinator(t, store)

	store.failGetAll.Store(true)
	res := c.Claim(ctx, "r", "a", 100, 1000)
	assert.False(t, res.Acquired, "per-key read still sees the foreign lease")
	assert.Equal(t, "other", res.OwnerAttemptID)
	assert.Equal(t, int64(0), c.Hydrations())

	store.failGetAll.Store(false)
	c.Claim(ctx, "x", "a", 100, 1000)
	assert.Equal(t, int64(1), c.Hydrations())
	assert.Equal(t, int64(2), store.getAlls.Load())
}

func TestCoordinator_MaxEntriesEvictsSoonestExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(NewMemoryStore(), Config{Prefix: "test:", MaxEntries: 3})

	// Insertion order differs from expiry order.
	c.Claim(ctx, "long", "a", 9000, 1000)
	c.Claim(ctx, "short", "a", 1000, 1000)
	c.Claim(ctx, "mid", "a", 5000, 1000)
	c.Claim(ctx, "new", "a", 5000, 1000)

	require.Equal(t, 3, c.Len())
	var ids []string
	for _, l := range c.Leases(ctx, 1000) {
		ids = append(ids, l.ResourceID)
	}
	assert.Equal(t, []string{"long", "mid", "new"}, ids)
}

func TestCoordinator_ReleaseAfterMirrorEviction(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	c := NewCoordinator(store, Config{Prefix: "test:", MaxEntries: 1})

	require.True(t, c.Claim(ctx, "first", "a", 1000, 1000).Acquired)
	require.True(t, c.Claim(ctx, "second", "b", 5000, 1000).Acquired)
	require.Equal(t, 1, c.Len(), "first was evicted from the mirror")
	require.Equal(t, 2, store.Len())

	assert.False(t, c.Release(ctx, "first", "b", 1100), "ownership is checked against the store")
	assert.Equal(t, 2, store.Len())

	store.failGet.Store(true)
	assert.False(t, c.Release(ctx, "first", "a", 1100), "unreadable row is not released")
	store.failGet.Store(false)

	assert.True(t, c.Release(ctx, "first", "a", 1100))
	assert.Equal(t, 1, store.Len())
	assert.False(t, c.Release(ctx, "first", "a", 1200))

	other := NewCoordinator(store, Config{Prefix: "test:", MaxEntries: 4})
	assert.True(t, other.Claim(ctx, "first", "c", 1000, 1200).Acquired)
}

func TestCoordinator_MaxEntriesTieBreaksOnUpdate(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(NewMemoryStore(), Config{Prefix: "test:", MaxEntries: 2})

	c.Claim(ctx, "older", "a", 1000, 1000) // expires 2000, updated 1000
	c.Claim(ctx, "newer", "a", 500, 1500)  // expires 2000, updated 1500
	c.Claim(ctx, "third", "a", 5000, 1500)

	var ids []string
	for _, l := range c.Leases(ctx, 1500) {
		ids = append(ids, l.ResourceID)
	}
	assert.Equal(t, []string{"newer", "third"}, ids)
}

func TestCoordinator_MirrorNeverExceedsMaxEntries(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(NewMemoryStore(), Config{Prefix: "test:", MaxEntries: 8})

	for i := 0; i < 200; i++ {
		c.Claim(ctx, fmt.Sprintf("r%d", i), "a", int64(10_000+i), 1000)
		require.LessOrEqual(t, c.Len(), 8)
	}
}

func TestNewCoordinator_PanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() { NewCoordinator(nil, DefaultConfig()) })
}
