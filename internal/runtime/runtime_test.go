package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/UniQw/taskstream/internal/streams"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMini(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return rdb, func() { _ = rdb.Close(); s.Close() }
}

type recorder struct {
	mu  sync.Mutex
	got []Delivery
}

func (r *recorder) add(d Delivery) {
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

func testTopology() Topology {
	return Topology{
		Stream:           "s",
		Group:            "g",
		MainConsumer:     "g-me",
		ClaimingConsumer: "g-me-claiming",
		ClaimMinIdle:     50 * time.Millisecond,
	}
}

func fastConfig(tp Topology) Config {
	return Config{
		Topologies:    []Topology{tp},
		BlockTimeout:  20 * time.Millisecond,
		ClaimInterval: 20 * time.Millisecond,
		RetryBackoff:  10 * time.Millisecond,
	}
}

func pendingCount(t *testing.T, rdb *redis.Client) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), "s", "g").Result()
	require.NoError(t, err)
	return p.Count
}

func TestRuntime_StartStop_Idempotent(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	rt := New(rdb, fastConfig(testTopology()), func(context.Context, Delivery) error { return nil })

	rt.Stop()
	rt.Start()
	rt.Start()
	time.Sleep(30 * time.Millisecond)
	rt.Stop()
	rt.Stop()
}

func TestRuntime_Start_CreatesGroup(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	rt := New(rdb, fastConfig(testTopology()), func(context.Context, Delivery) error { return nil })
	rt.Start()
	defer rt.Stop()

	groups, err := rdb.XInfoGroups(context.Background(), "s").Result()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "g", groups[0].Name)
}

func TestRuntime_MainPath_AcksOnSuccess(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	ctx := context.Background()

	// published before the group exists
	id, err := streams.Add(ctx, rdb, streams.AddArgs{Stream: "s", Values: map[string]any{"k": "v"}})
	require.NoError(t, err)

	rec := &recorder{}
	rt := New(rdb, fastConfig(testTopology()), func(_ context.Context, d Delivery) error {
		rec.add(d)
		return nil
	})
	rt.Start()
	defer rt.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	d := rec.snapshot()[0]
	require.Equal(t, id, d.ID)
	require.Equal(t, PathMain, d.Path)
	require.Equal(t, "g-me", d.Consumer)
	require.Equal(t, "v", d.Values["k"])
	require.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRuntime_FailureIsRetriedByClaimingPath(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	ctx := context.Background()

	rec := &recorder{}
	var (
		mu    sync.Mutex
		calls int
	)
	rt := New(rdb, fastConfig(testTopology()), func(_ context.Context, d Delivery) error {
		rec.add(d)
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	rt.Start()
	defer rt.Stop()

	_, err := streams.Add(ctx, rdb, streams.AddArgs{Stream: "s", Values: map[string]any{"k": "v"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, 3*time.Second, 10*time.Millisecond)
	got := rec.snapshot()
	require.Equal(t, PathMain, got[0].Path)
	require.Equal(t, PathClaiming, got[1].Path)
	require.Equal(t, "g-me-claiming", got[1].Consumer)
	require.Equal(t, got[0].ID, got[1].ID)
	require.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRuntime_ClaimsEntriesOfCrashedConsumer(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, streams.EnsureGroup(ctx, rdb, "s", "g"))
	id, err := streams.Add(ctx, rdb, streams.AddArgs{Stream: "s", Values: map[string]any{"k": "v"}})
	require.NoError(t, err)
	// a previous process read it and died before acknowledging
	got, err := streams.ReadNew(ctx, rdb, "s", "g", "g-dead", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := &recorder{}
	rt := New(rdb, fastConfig(testTopology()), func(_ context.Context, d Delivery) error {
		rec.add(d)
		return nil
	})
	rt.Start()
	defer rt.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	d := rec.snapshot()[0]
	require.Equal(t, id, d.ID)
	require.Equal(t, PathClaiming, d.Path)
	require.Eventually(t, func() bool { return pendingCount(t, rdb) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRuntime_Topologies(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	rt := New(rdb, fastConfig(testTopology()), func(context.Context, Delivery) error { return nil })
	require.Equal(t, []Topology{testTopology()}, rt.Topologies())
}

func TestPath_String(t *testing.T) {
	require.Equal(t, "main", PathMain.String())
	require.Equal(t, "claiming", PathClaiming.String())
}
