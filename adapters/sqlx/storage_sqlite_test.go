package sqlx_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "duelkit/adapters/sqlx"
	"duelkit/core"
	"duelkit/leaderboard"
)

func newSQLiteStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := storage.DefaultConfig(storage.DriverSQLite)
	cfg.DSN = filepath.Join(t.TempDir(), "duelkit.db")
	store, err := storage.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background(), nil))
	return store
}

func TestSQLite_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	id := core.UserID(user)

	u, created, err := store.CreateUser(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, created)

	total, err := store.AddToCounter(ctx, id, core.CounterWins, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	total, err = store.AddToCounter(ctx, id, core.CounterWins, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, err = store.AddToCounter(ctx, id, core.CounterLosses, -1)
	assert.ErrorIs(t, err, core.ErrNegativeCounter)

	renamed, created, err := store.CreateUser(ctx, id, "alicia")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), renamed.Wins())
	assert.Equal(t, u.Created, renamed.Created)

	_, err = store.GetUser(ctx, core.NewUserID())
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	require.NoError(t, store.Migrate(context.Background(), nil))
}

func TestSQLite_ForEachFeedsLeaderboard(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	ids := make([]core.UserID, 7)
	for i := range ids {
		ids[i] = core.NewUserID()
		_, _, err := store.CreateUser(ctx, ids[i], "p")
		require.NoError(t, err)
		if i > 0 {
			_, err = store.AddToCounter(ctx, ids[i], core.CounterWins, int64(i))
			require.NoError(t, err)
		}
	}

	seen := 0
	require.NoError(t, store.ForEach(ctx, func(core.User) error { seen++; return nil }))
	assert.Equal(t, len(ids), seen)

	cache := leaderboard.NewCache(store, leaderboard.WithSize(3))
	snap, err := cache.Recompute(ctx, core.CounterWins)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, ids[6], snap.Entries[0].User)
	assert.Equal(t, int64(6), snap.Entries[0].Value)
	assert.Equal(t, len(ids), snap.Population)
}
