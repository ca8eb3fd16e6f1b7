package writelock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/writelock"
)

func TestAcquireReleaseUncontended(t *testing.T) {
	l := writelock.New()
	require.NoError(t, l.Acquire(context.Background(), 0))
	l.Release()

	stats := l.Stats()
	assert.False(t, stats.Held)
	assert.Equal(t, int64(1), stats.TotalAcquires)
}

func TestFIFOOrdering(t *testing.T) {
	l := writelock.New()
	require.NoError(t, l.Acquire(context.Background(), 0))

	const n = 5
	order := make(chan int, n)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			// Stagger enqueue order deterministically.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			require.NoError(t, l.Acquire(context.Background(), 0))
			order <- i
			l.Release()
		}(i)
	}
	started.Wait()
	time.Sleep(30 * time.Millisecond) // let goroutines enqueue in order
	l.Release()                       // release the initial holder

	wg.Wait()
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v, "waiters must be granted in FIFO arrival order")
	}
}

func TestAcquireTimeout(t *testing.T) {
	l := writelock.New()
	require.NoError(t, l.Acquire(context.Background(), 0))
	defer l.Release()

	err := l.Acquire(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, writelock.ErrTimeout)

	stats := l.Stats()
	assert.Equal(t, 0, stats.QueueDepth, "timed-out waiter must be dequeued")
}

func TestAcquireContextCancel(t *testing.T) {
	l := writelock.New()
	require.NoError(t, l.Acquire(context.Background(), 0))
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, 0) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainRejectsQueuedWaiters(t *testing.T) {
	l := writelock.New()
	require.NoError(t, l.Acquire(context.Background(), 0))

	var rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background(), 0); err != nil {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	l.Drain()
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&rejected))

	err := l.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, writelock.ErrDrained)
}

func TestWithLockReleasesOnError(t *testing.T) {
	l := writelock.New()
	assertErr := assert.AnError
	err := l.WithLock(context.Background(), 0, func() error { return assertErr })
	assert.ErrorIs(t, err, assertErr)
	assert.False(t, l.Stats().Held)
}

// TestTimeoutRaceDoesNotLeakTheLock exercises the window where Release
// hands the lock directly to a waiter at the same instant that waiter's
// timeout fires. If Acquire reported ErrTimeout without consuming the
// grant it just won, held would stay true forever and every later Acquire
// would block. Run the race many times and confirm the lock is always
// recoverable afterward.
func TestTimeoutRaceDoesNotLeakTheLock(t *testing.T) {
	l := writelock.New()
	for i := 0; i < 200; i++ {
		require.NoError(t, l.Acquire(context.Background(), 0))

		done := make(chan error, 1)
		go func() { done <- l.Acquire(context.Background(), time.Microsecond) }()

		// Race Release against the waiter's near-instant timeout.
		l.Release()

		err := <-done
		if err == nil {
			// The waiter won the race and holds the lock now: release it.
			l.Release()
		}
		// Whether the waiter won the race or timed out, the lock must be
		// free (or held-and-about-to-be-released) — never wedged. A bounded
		// acquire proves it's not permanently stuck.
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		require.NoError(t, l.Acquire(ctx, 0), "iteration %d: lock leaked", i)
		cancel()
		l.Release()
	}
}

func TestMaxQueueDepthTracksPeak(t *testing.T) {
	l := writelock.New()
	require.NoError(t, l.Acquire(context.Background(), 0))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Acquire(context.Background(), 200*time.Millisecond)
			l.Release()
		}()
	}
	time.Sleep(30 * time.Millisecond)
	assert.GreaterOrEqual(t, l.Stats().MaxQueueDepth, int64(4))
	l.Release()
	wg.Wait()
}
