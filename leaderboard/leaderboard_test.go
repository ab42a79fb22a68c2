package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duelkit/core"
)

const (
	aliceID core.UserID = "00000000-0000-4000-8000-00000000000a"
	bobID   core.UserID = "00000000-0000-4000-8000-00000000000b"
	caraID  core.UserID = "00000000-0000-4000-8000-00000000000c"
)

type sliceSource []core.User

func (s sliceSource) ForEach(ctx context.Context, fn func(core.User) error) error {
	for _, u := range s {
		if err := fn(u.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// gatedSource blocks every scan until release is closed or ctx ends.
type gatedSource struct {
	users   sliceSource
	started chan struct{}
	release chan struct{}
	scans   atomic.Int32
}

func newGatedSource(users sliceSource) *gatedSource {
	return &gatedSource{users: users, started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedSource) ForEach(ctx context.Context, fn func(core.User) error) error {
	g.scans.Add(1)
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.users.ForEach(ctx, fn)
}

func user(id core.UserID, name string, wins, losses int64) core.User {
	u := core.NewUser(id, name, time.Now())
	u.Counters[core.CounterWins] = wins
	u.Counters[core.CounterLosses] = losses
	return u
}

func scenario() sliceSource {
	return sliceSource{
		user(aliceID, "Alice", 5, 1),
		user(bobID, "Bob", 9, 0),
		user(caraID, "Cara", 9, 4),
	}
}

func randomPopulation(n int) sliceSource {
	r := rand.New(rand.NewPCG(1, 2))
	perm := r.Perm(n * 4)
	out := make(sliceSource, 0, n)
	for i := 0; i < n; i++ {
		id := core.UserID(fmt.Sprintf("00000000-0000-4000-8000-%012d", i))
		out = append(out, user(id, fmt.Sprintf("p%d", i), int64(perm[i]), int64(r.IntN(50))))
	}
	return out
}

func TestSortedScenario(t *testing.T) {
	got, err := Sorted(context.Background(), scenario(), CounterScore(core.CounterWins))
	require.NoError(t, err)
	want := []Entry{
		{Key: "Bob", Value: 9, User: bobID},
		{Key: "Cara", Value: 9, User: caraID},
		{Key: "Alice", Value: 5, User: aliceID},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sorted mismatch (-want +got):\n%s", diff)
	}
}

func TestSortedIsDescendingPermutation(t *testing.T) {
	pop := randomPopulation(200)
	got, err := Sorted(context.Background(), pop, CounterScore(core.CounterWins))
	require.NoError(t, err)
	require.Len(t, got, len(pop))

	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i-1].Value, got[i].Value, "position %d", i)
	}
	var in, out []string
	for _, u := range pop {
		in = append(in, string(u.ID))
	}
	for _, e := range got {
		out = append(out, string(e.User))
	}
	sort.Strings(in)
	sort.Strings(out)
	assert.Equal(t, in, out)
}

func TestSortedGenericValue(t *testing.T) {
	ratio := func(u core.User) (float64, error) {
		return float64(u.Wins()) / float64(u.Wins()+u.Losses()+1), nil
	}
	got, err := Sorted(context.Background(), scenario(), ratio)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Bob", got[0].Key)
	assert.Equal(t, "SortedEntry{key=Bob, value=0.9}", got[0].String())
}

func TestSortedAbortsOnScoreError(t *testing.T) {
	boom := errors.New("boom")
	fn := func(u core.User) (int64, error) {
		if u.ID == bobID {
			return 0, boom
		}
		return u.Wins(), nil
	}
	got, err := Sorted(context.Background(), scenario(), fn)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, got)
}

func TestTopUnavailableBeforeFirstRecompute(t *testing.T) {
	c := NewCache(scenario())
	res, err := c.Top(core.CounterWins)
	require.NoError(t, err)
	assert.Equal(t, core.StatusUnavailable, res.Status)
}

func TestTopUnknownCounter(t *testing.T) {
	c := NewCache(scenario())
	_, err := c.Top("elo")
	require.ErrorIs(t, err, core.ErrUnknownCounter)
	_, err = c.Recompute(context.Background(), "elo")
	require.ErrorIs(t, err, core.ErrUnknownCounter)
	require.ErrorIs(t, c.RecomputeAsync("elo"), core.ErrUnknownCounter)
}

func TestTopIsPrefixOfSorted(t *testing.T) {
	pop := randomPopulation(137)
	c := NewCache(pop)
	require.NoError(t, c.RecomputeAll(context.Background()))

	for _, counter := range c.Counters() {
		res, err := c.Top(counter)
		require.NoError(t, err)
		snap, ok := res.Get()
		require.True(t, ok)
		require.Len(t, snap.Entries, DefaultSize)
		assert.Equal(t, len(pop), snap.Population)

		all, err := Sorted(context.Background(), pop, CounterScore(counter))
		require.NoError(t, err)
		if diff := cmp.Diff(all[:DefaultSize], snap.Entries); diff != "" {
			t.Fatalf("%s top is not a prefix of sorted (-want +got):\n%s", counter, diff)
		}
	}
}

func TestTopShorterThanSize(t *testing.T) {
	c := NewCache(scenario(), WithSize(10))
	snap, err := c.Recompute(context.Background(), core.CounterWins)
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 3)
	assert.Equal(t, bobID, snap.Entries[0].User)
}

func TestTopUnavailableWhileRecomputing(t *testing.T) {
	src := newGatedSource(scenario())
	c := NewCache(src)
	require.NoError(t, c.RecomputeAsync(core.CounterWins))
	<-src.started

	var wg sync.WaitGroup
	statuses := make(chan core.Status, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Top(core.CounterWins)
			if err == nil {
				statuses <- res.Status
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Top blocked while a rebuild was in flight")
	}
	close(statuses)
	for s := range statuses {
		assert.Equal(t, core.StatusUnavailable, s)
	}

	close(src.release)
	c.Wait()
	res, err := c.Top(core.CounterWins)
	require.NoError(t, err)
	require.True(t, res.Ok())
	assert.False(t, c.Recomputing(core.CounterWins))
}

func TestStrictReadsHidePreviousSnapshot(t *testing.T) {
	src := newGatedSource(scenario())
	close(src.release)
	c := NewCache(src)
	_, err := c.Recompute(context.Background(), core.CounterWins)
	require.NoError(t, err)

	src.release = make(chan struct{})
	require.NoError(t, c.RecomputeAsync(core.CounterWins))
	<-src.started
	<-src.started

	res, err := c.Top(core.CounterWins)
	require.NoError(t, err)
	assert.Equal(t, core.StatusUnavailable, res.Status)

	close(src.release)
	c.Wait()
}

func TestStaleReadsServePreviousSnapshot(t *testing.T) {
	src := newGatedSource(scenario())
	close(src.release)
	c := NewCache(src, WithStaleReads(true))
	first, err := c.Recompute(context.Background(), core.CounterWins)
	require.NoError(t, err)

	src.release = make(chan struct{})
	require.NoError(t, c.RecomputeAsync(core.CounterWins))
	<-src.started
	<-src.started

	res, err := c.Top(core.CounterWins)
	require.NoError(t, err)
	snap, ok := res.Get()
	require.True(t, ok)
	assert.Equal(t, first.Generation, snap.Generation)

	close(src.release)
	c.Wait()
}

func TestRecomputeIsIdempotent(t *testing.T) {
	c := NewCache(randomPopulation(40))
	a, err := c.Recompute(context.Background(), core.CounterLosses)
	require.NoError(t, err)
	b, err := c.Recompute(context.Background(), core.CounterLosses)
	require.NoError(t, err)

	if diff := cmp.Diff(a.Entries, b.Entries); diff != "" {
		t.Fatalf("snapshots differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, a.Generation+1, b.Generation)
}

func TestRecomputeCoalescesConcurrentCalls(t *testing.T) {
	src := newGatedSource(scenario())
	c := NewCache(src)

	var wg sync.WaitGroup
	results := make([]Snapshot, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = c.Recompute(context.Background(), core.CounterWins)
	}()
	<-src.started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Recompute(context.Background(), core.CounterWins)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.scans.Load())
	for _, r := range results {
		assert.Equal(t, uint64(1), r.Generation)
	}
}

func TestRecomputeAsyncHidesSnapshotUntilItsRebuildEnds(t *testing.T) {
	c := NewCache(sliceSource(scenario()))
	ctx := context.Background()
	_, err := c.Recompute(ctx, core.CounterWins)
	require.NoError(t, err)

	stop := make(chan struct{})
	var spin sync.WaitGroup
	spin.Add(1)
	go func() {
		defer spin.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = c.Recompute(ctx, core.CounterWins)
			}
		}
	}()

	s := c.slots[core.CounterWins]
	for range 500 {
		before := s.snap.Load().Generation
		require.NoError(t, c.RecomputeAsync(core.CounterWins))
		res, err := c.Top(core.CounterWins)
		require.NoError(t, err)
		if snap, ok := res.Get(); ok && snap.Generation <= before {
			t.Fatalf("served generation %d while a rebuild requested after %d was pending", snap.Generation, before)
		}
	}
	close(stop)
	spin.Wait()
	c.Wait()
	assert.False(t, c.Recomputing(core.CounterWins))
}

func TestRecomputeTimeoutKeepsPreviousSnapshot(t *testing.T) {
	src := newGatedSource(scenario())
	close(src.release)
	c := NewCache(src, WithTimeout(20*time.Millisecond))
	first, err := c.Recompute(context.Background(), core.CounterWins)
	require.NoError(t, err)

	src.release = make(chan struct{})
	_, err = c.Recompute(context.Background(), core.CounterWins)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Recomputing(core.CounterWins))

	res, err := c.Top(core.CounterWins)
	require.NoError(t, err)
	snap, ok := res.Get()
	require.True(t, ok)
	assert.Equal(t, first.Generation, snap.Generation)
}

func TestSnapshotIsolation(t *testing.T) {
	c := NewCache(scenario())
	_, err := c.Recompute(context.Background(), core.CounterWins)
	require.NoError(t, err)

	res, _ := c.Top(core.CounterWins)
	res.Value.Entries[0].Key = "mallory"

	again, _ := c.Top(core.CounterWins)
	assert.Equal(t, "Bob", again.Value.Entries[0].Key)
}

func TestUpdateHookAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var got []Snapshot
	c := NewCache(scenario(), WithMetrics(m), WithUpdateHook(func(s Snapshot) { got = append(got, s) }))

	_, _ = c.Top(core.CounterWins)
	require.NoError(t, c.RecomputeAll(context.Background()))
	_, _ = c.Top(core.CounterWins)

	require.Len(t, got, 2)
	assert.Equal(t, core.CounterWins, got[0].Counter)
	assert.Equal(t, core.CounterLosses, got[1].Counter)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.recomputes.WithLabelValues("wins", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("wins", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("wins", "present")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.entries.WithLabelValues("losses")))
}

func TestCountersOption(t *testing.T) {
	c := NewCache(scenario(), WithCounters("wins", "wins", "Bad Name", "streak"))
	assert.Equal(t, []core.Counter{"wins", "streak"}, c.Counters())
}

func TestTopKMatchesFullSort(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 9))
	var all []Entry
	top := newTopK(10)
	for i := 0; i < 500; i++ {
		e := Entry{Key: fmt.Sprint(i), Value: int64(r.IntN(40)), User: core.UserID(fmt.Sprintf("%04d", i))}
		all = append(all, e)
		top.offer(e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	if diff := cmp.Diff(all[:10], top.ranked()); diff != "" {
		t.Fatalf("topK mismatch (-want +got):\n%s", diff)
	}
}

func TestRefresherPublishesBoards(t *testing.T) {
	c := NewCache(scenario())
	r := NewRefresher(c, 10*time.Millisecond, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		res, _ := c.Top(core.CounterLosses)
		return res.Ok()
	}, time.Second, 5*time.Millisecond)
}
