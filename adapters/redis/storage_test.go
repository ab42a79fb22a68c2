package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duelkit/core"
	"duelkit/leaderboard"
)

const (
	alice = core.UserID("00000000-0000-0000-0000-00000000000a")
	bob   = core.UserID("00000000-0000-0000-0000-00000000000b")
)

// newTestClient spins up a miniredis server and returns a client plus cleanup.
func newTestClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, cleanup
}

func TestStore_CreateUser(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	u, created, err := store.CreateUser(ctx, alice, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", u.Name)
	assert.False(t, u.Created.IsZero())

	// Renaming keeps the original creation time
	u2, created, err := store.CreateUser(ctx, alice, "alicia")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alicia", u2.Name)
	assert.Equal(t, u.Created, u2.Created)

	members, err := client.SMembers(ctx, usersKey).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{string(alice)}, members)
}

func TestStore_AddToCounter(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()

	_, err := store.AddToCounter(ctx, alice, core.CounterWins, 1)
	assert.ErrorIs(t, err, core.ErrUserNotFound)

	_, _, err = store.CreateUser(ctx, alice, "alice")
	require.NoError(t, err)

	total, err := store.AddToCounter(ctx, alice, core.CounterWins, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = store.AddToCounter(ctx, alice, core.CounterWins, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(75), total)

	_, err = store.AddToCounter(ctx, alice, core.CounterLosses, -1)
	assert.ErrorIs(t, err, core.ErrNegativeCounter)

	_, err = store.AddToCounter(ctx, alice, core.Counter("BAD"), 1)
	assert.ErrorIs(t, err, core.ErrUnknownCounter)

	u, err := store.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(75), u.Wins())
	assert.Equal(t, int64(0), u.Losses())
}

func TestStore_GetUserNotFound(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	_, err := NewWithClient(client).GetUser(context.Background(), bob)
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestStore_ConcurrentAdds(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, _, err := store.CreateUser(ctx, alice, "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.AddToCounter(ctx, alice, core.CounterWins, 1)
		}()
	}
	wg.Wait()

	u, err := store.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(20), u.Wins())
}

func TestStore_ForEachAcrossBatches(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	store.scanBatch = 3
	ctx := context.Background()

	want := map[core.UserID]bool{}
	for i := 0; i < 10; i++ {
		id := core.NewUserID()
		_, _, err := store.CreateUser(ctx, id, "p")
		require.NoError(t, err)
		want[id] = true
	}

	seen := map[core.UserID]bool{}
	require.NoError(t, store.ForEach(ctx, func(u core.User) error {
		seen[u.ID] = true
		return nil
	}))
	assert.Equal(t, want, seen)

	stop := errors.New("stop")
	assert.ErrorIs(t, store.ForEach(ctx, func(core.User) error { return stop }), stop)
}

func TestStore_ForEachVisitsEachUserOnceWhileRegistering(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	store.scanBatch = 2
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id := core.UserID(fmt.Sprintf("00000000-0000-0000-0000-%012x", i))
		_, _, err := store.CreateUser(ctx, id, "p")
		require.NoError(t, err)
	}

	late := core.UserID("00000000-0000-0000-0000-000000000020")
	visits := map[core.UserID]int{}
	require.NoError(t, store.ForEach(ctx, func(u core.User) error {
		if len(visits) == 0 {
			if _, _, err := store.CreateUser(ctx, late, "late"); err != nil {
				return err
			}
		}
		visits[u.ID]++
		return nil
	}))

	assert.GreaterOrEqual(t, len(visits), 5)
	for id, n := range visits {
		assert.Equal(t, 1, n, "user %s visited %d times", id, n)
	}
}

func TestUnseenSkipsRepeats(t *testing.T) {
	seen := map[string]struct{}{}
	assert.Equal(t, []string{"a", "b"}, unseen(seen, []string{"a", "b", "a"}))
	assert.Equal(t, []string{"c"}, unseen(seen, []string{"b", "c"}))
	assert.Empty(t, unseen(seen, []string{"a", "c"}))
}

func TestStore_FeedsLeaderboard(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	_, _, _ = store.CreateUser(ctx, alice, "alice")
	_, _, _ = store.CreateUser(ctx, bob, "bob")
	_, _ = store.AddToCounter(ctx, bob, core.CounterWins, 3)
	_, _ = store.AddToCounter(ctx, alice, core.CounterWins, 1)

	cache := leaderboard.NewCache(store)
	snap, err := cache.Recompute(ctx, core.CounterWins)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "bob", snap.Entries[0].Key)
	assert.Equal(t, int64(3), snap.Entries[0].Value)
}
