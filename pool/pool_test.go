package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type testItem struct {
	source string
	id     int64
	closed atomic.Bool
}

func (i *testItem) Close() error {
	i.closed.Store(true)
	return nil
}

func counterFactory(source string, counter *atomic.Int64) Factory[*testItem] {
	return func(context.Context) (*testItem, error) {
		return &testItem{source: source, id: counter.Inc()}, nil
	}
}

func TestPopCreatesLazilyUpToSize(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 2, ""))

	ctx := context.Background()
	a, err := m.Pop(ctx, "db1", 10*time.Millisecond, DefaultGroup)
	require.NoError(t, err)
	b, err := m.Pop(ctx, "db1", 10*time.Millisecond, DefaultGroup)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.EqualValues(t, 2, created.Load())

	_, err = m.Pop(ctx, "db1", 10*time.Millisecond, DefaultGroup)
	require.ErrorIs(t, err, ErrTimeout)

	m.Push("db1", a, DefaultGroup)
	c, err := m.Pop(ctx, "db1", 10*time.Millisecond, DefaultGroup)
	require.NoError(t, err)
	require.Same(t, a, c)
	require.EqualValues(t, 2, created.Load())
}

func TestPopTimeoutIsBounded(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 1, DefaultGroup))

	_, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)

	const timeout = 100 * time.Millisecond
	start := time.Now()
	_, err = m.Pop(context.Background(), "db1", timeout, DefaultGroup)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	stats, ok := m.Stats("db1", DefaultGroup)
	require.True(t, ok)
	assert.Equal(t, Stats{Capacity: 1, Created: 1, Idle: 0, Waiting: 0}, stats)
}

func TestPushWakesWaiter(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 1, DefaultGroup))

	held, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)

	got := make(chan *testItem, 1)
	go func() {
		item, popErr := m.Pop(context.Background(), "db1", 5*time.Second, DefaultGroup)
		if popErr == nil {
			got <- item
		}
		close(got)
	}()

	require.Eventually(t, func() bool {
		stats, _ := m.Stats("db1", DefaultGroup)
		return stats.Waiting == 1
	}, time.Second, 5*time.Millisecond)

	m.Push("db1", held, DefaultGroup)
	require.Same(t, held, <-got)
}

func TestContextCancellation(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 1, DefaultGroup))

	_, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Pop(ctx, "db1", time.Minute, DefaultGroup)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSourcesAreRoundRobin(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("replica1", &created), 2, "slave"))
	require.NoError(t, m.Add("db1", counterFactory("replica2", &created), 2, "slave"))

	var sources []string
	for i := 0; i < 4; i++ {
		item, err := m.Pop(context.Background(), "db1", 10*time.Millisecond, "slave")
		require.NoError(t, err)
		sources = append(sources, item.source)
	}

	assert.Equal(t, []string{"replica1", "replica2", "replica1", "replica2"}, sources)

	_, err := m.Pop(context.Background(), "db1", 10*time.Millisecond, "slave")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestUnknownOwnerOrGroup(t *testing.T) {
	m := New[*testItem]()
	_, err := m.Pop(context.Background(), "nobody", time.Millisecond, DefaultGroup)
	require.ErrorIs(t, err, ErrUnknownGroup)

	var created atomic.Int64
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 1, DefaultGroup))
	_, err = m.Pop(context.Background(), "db1", time.Millisecond, "slave")
	require.ErrorIs(t, err, ErrUnknownGroup)
}

func TestInvalidAdd(t *testing.T) {
	m := New[*testItem]()
	require.Error(t, m.Add("db1", nil, 1, DefaultGroup))

	var created atomic.Int64
	require.Error(t, m.Add("db1", counterFactory("master", &created), 0, DefaultGroup))
}

func TestFactoryFailureFreesSlot(t *testing.T) {
	var calls atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", func(context.Context) (*testItem, error) {
		if calls.Inc() == 1 {
			return nil, errors.New("connection refused")
		}
		return &testItem{source: "master"}, nil
	}, 1, DefaultGroup))

	_, err := m.Pop(context.Background(), "db1", 10*time.Millisecond, DefaultGroup)
	require.EqualError(t, err, "connection refused")

	item, err := m.Pop(context.Background(), "db1", 10*time.Millisecond, DefaultGroup)
	require.NoError(t, err)
	require.Equal(t, "master", item.source)
}

func TestAddIdle(t *testing.T) {
	m := New[*testItem]()
	prebuilt := &testItem{source: "handle"}
	require.NoError(t, m.AddIdle("db1", DefaultGroup, prebuilt))

	item, err := m.Pop(context.Background(), "db1", 10*time.Millisecond, DefaultGroup)
	require.NoError(t, err)
	require.Same(t, prebuilt, item)

	_, err = m.Pop(context.Background(), "db1", 10*time.Millisecond, DefaultGroup)
	require.ErrorIs(t, err, ErrTimeout)

	require.Error(t, m.AddIdle("db1", DefaultGroup))
}

func TestRemoveClosesIdleAndWaiters(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 2, DefaultGroup))

	idle, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)
	busy, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)
	m.Push("db1", idle, DefaultGroup)

	idle2, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)
	require.Same(t, idle, idle2)

	waitErr := make(chan error, 1)
	go func() {
		_, popErr := m.Pop(context.Background(), "db1", 5*time.Second, DefaultGroup)
		waitErr <- popErr
	}()

	require.Eventually(t, func() bool {
		stats, _ := m.Stats("db1", DefaultGroup)
		return stats.Waiting == 1
	}, time.Second, 5*time.Millisecond)

	m.Push("db1", idle2, DefaultGroup) // handed to the waiter
	require.NoError(t, <-waitErr)

	require.NoError(t, m.Remove("db1"))
	m.Push("db1", busy, DefaultGroup)
	assert.True(t, busy.closed.Load(), "items returned after removal must be closed")

	_, ok := m.Stats("db1", DefaultGroup)
	assert.False(t, ok)
}

func TestRemoveFailsPendingWaiters(t *testing.T) {
	var created atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 1, DefaultGroup))

	_, err := m.Pop(context.Background(), "db1", time.Second, DefaultGroup)
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, popErr := m.Pop(context.Background(), "db1", 5*time.Second, DefaultGroup)
		waitErr <- popErr
	}()

	require.Eventually(t, func() bool {
		stats, _ := m.Stats("db1", DefaultGroup)
		return stats.Waiting == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Remove("db1"))
	require.ErrorIs(t, <-waitErr, ErrClosed)
}

func TestConcurrentPopPushNeverExceedsCapacity(t *testing.T) {
	var created atomic.Int64
	var inUse, maxInUse atomic.Int64
	m := New[*testItem]()
	require.NoError(t, m.Add("db1", counterFactory("master", &created), 3, DefaultGroup))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			item, err := m.Pop(context.Background(), "db1", 5*time.Second, DefaultGroup)
			if err != nil {
				errs <- fmt.Errorf("worker %d: %w", n, err)
				return
			}
			cur := inUse.Inc()
			for {
				prev := maxInUse.Load()
				if cur <= prev || maxInUse.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inUse.Dec()
			m.Push("db1", item, DefaultGroup)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, maxInUse.Load(), int64(3))
	assert.LessOrEqual(t, created.Load(), int64(3))
}
