package msgworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, workers, queue int) *Pool {
	t.Helper()
	pool := NewPool(workers, queue)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})
	return pool
}

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := startPool(t, 2, 10)

	start := time.Now()
	ok := pool.TryDispatch(Job{
		Key: "528116038195",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestPool_SameKeySequential(t *testing.T) {
	pool := startPool(t, 4, 100)

	var (
		mu      sync.Mutex
		results []int
		done    = make(chan struct{})
	)
	for i := 1; i <= 5; i++ {
		val := i
		pool.TryDispatch(Job{
			Key: "528116038195",
			Handler: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				n := len(results)
				mu.Unlock()
				if n == 5 {
					close(done)
				}
				return nil
			},
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, results)
}

func TestPool_RespectsMaxWorkers(t *testing.T) {
	const maxWorkers = 3
	pool := startPool(t, maxWorkers, 100)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.TryDispatch(Job{
			Key: fmt.Sprintf("52811000%04d", i),
			Handler: func(ctx context.Context) error {
				defer wg.Done()
				cur := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			},
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(maxWorkers))
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	var completed int32
	for i := 0; i < 4; i++ {
		pool.TryDispatch(Job{
			Key: fmt.Sprintf("key-%d", i),
			Handler: func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				assert.NoError(t, ctx.Err(), "handlers survive pool cancellation")
				atomic.AddInt32(&completed, 1)
				return nil
			},
		})
	}
	time.Sleep(5 * time.Millisecond)

	cancel()
	pool.Stop()

	assert.Equal(t, int32(4), atomic.LoadInt32(&completed))
	assert.False(t, pool.TryDispatch(Job{Key: "late", Handler: func(context.Context) error { return nil }}))
}

func TestPool_QueueFullDrops(t *testing.T) {
	pool := startPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	block := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	noop := func(ctx context.Context) error { return nil }

	require.True(t, pool.TryDispatch(Job{Key: "a", Handler: block}))
	<-started
	require.True(t, pool.TryDispatch(Job{Key: "a", Handler: noop}))
	assert.False(t, pool.TryDispatch(Job{Key: "a", Handler: noop}), "queue of one is full")
	close(release)

	assert.EqualValues(t, 1, pool.Stats().TotalDropped)
}

func TestPool_ErrorsAndPanicsAreCounted(t *testing.T) {
	pool := startPool(t, 1, 10)

	var wg sync.WaitGroup
	wg.Add(3)
	pool.OnJobEnd = func(workerID int, key string, err error) { wg.Done() }

	pool.TryDispatch(Job{Key: "a", Handler: func(context.Context) error { return errors.New("boom") }})
	pool.TryDispatch(Job{Key: "a", Handler: func(context.Context) error { panic("kaboom") }})
	pool.TryDispatch(Job{Key: "a", Handler: func(context.Context) error { return nil }})
	wg.Wait()

	stats := pool.Stats()
	assert.EqualValues(t, 2, stats.TotalErrors)
	assert.EqualValues(t, 3, stats.TotalProcessed)
	assert.Len(t, stats.WorkerStats, 1)
}

func TestPool_ConsistentHashing(t *testing.T) {
	pool := NewPool(4, 100)

	shard := pool.shardFor("528116038195")
	for i := 0; i < 3; i++ {
		assert.Equal(t, shard, pool.shardFor("528116038195"))
	}
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 4)
}

func TestPool_FairDistribution(t *testing.T) {
	pool := NewPool(4, 100)

	counts := make(map[int]int)
	for i := 0; i < 400; i++ {
		counts[pool.shardFor(fmt.Sprintf("52811%07d", i))]++
	}
	for shard, count := range counts {
		assert.Greater(t, count, 60, "worker %d is starved", shard)
		assert.Less(t, count, 140, "worker %d is overloaded", shard)
	}
}
