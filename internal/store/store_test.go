package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/testutil"
)

// createTestStore opens a fresh database under t.TempDir().
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leases.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Set(context.Background(), "k", "v"))
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
		"idx_kv_updated_at",
	).Scan(&name)
	assert.NoError(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "leases.db"))
	assert.Error(t, err)
}

func TestStore_Conformance(t *testing.T) {
	testutil.RunStoreConformance(t, func(t *testing.T) lease.Store {
		return createTestStore(t)
	})
}

func TestStore_SharedAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leases.db")

	h1, err := Open(path)
	require.NoError(t, err)
	defer h1.Close()
	h2, err := Open(path)
	require.NoError(t, err)
	defer h2.Close()

	p1 := lease.NewCoordinator(h1, lease.DefaultConfig())
	p2 := lease.NewCoordinator(h2, lease.DefaultConfig())

	// p2 hydrates before p1 claims; the per-key re-read still sees it.
	assert.Empty(t, p2.Leases(ctx, 0))

	require.True(t, p1.Claim(ctx, "conv-1", "attempt-a", 5000, 1000).Acquired)
	res := p2.Claim(ctx, "conv-1", "attempt-b", 5000, 1500)
	assert.False(t, res.Acquired)
	assert.Equal(t, "attempt-a", res.OwnerAttemptID)
}

func TestStore_UpdatedAtAndSweep(t *testing.T) {
	ctx := context.Background()
	now := int64(1000)
	s := createTestStore(t, WithNow(func() int64 { return now }))

	require.NoError(t, s.Set(ctx, "p:old", "1"))
	now = 5000
	require.NoError(t, s.Set(ctx, "p:new", "2"))
	require.NoError(t, s.Set(ctx, "q:old", "3"))

	var stamped int64
	require.NoError(t, s.db.QueryRow(`SELECT updated_at_ms FROM kv WHERE key = 'p:new'`).Scan(&stamped))
	assert.Equal(t, int64(5000), stamped)

	n, err := s.Sweep(ctx, "p:", 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := s.GetAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p:new": "2", "q:old": "3"}, all)
}

func TestStore_ErrorsAreTyped(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	err := s.Set(context.Background(), "k", "v")
	require.Error(t, err)
	assert.True(t, IsStoreError(err))

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, OpSet, se.Op)
	assert.Equal(t, "k", se.Key)

	_, _, err = s.Get(context.Background(), "k")
	assert.True(t, IsStoreError(err))
	_, err = s.GetAll(context.Background(), "p:")
	assert.True(t, IsStoreError(err))
}

func TestIsStoreError(t *testing.T) {
	base := errors.New("boom")
	assert.False(t, IsStoreError(base))
	assert.True(t, IsStoreError(NewError(OpGet, "k", base)))

	wrapped := errors.Join(errors.New("outer"), NewError(OpRemove, "k", base))
	assert.True(t, IsStoreError(wrapped))
	assert.ErrorIs(t, NewError(OpGet, "k", base), base)
	assert.Equal(t, `lease store get "k": boom`, NewError(OpGet, "k", base).Error())
}
