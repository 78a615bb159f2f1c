package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scraperd/scraperd/internal/scraper"
)

func TestAcquireCapsConcurrencyPerHost(t *testing.T) {
	t.Parallel()

	th := New(Config{MaxPerHost: 2, MinDelay: time.Millisecond, AcquireTimeout: 5 * time.Second})

	var (
		inFlight int64
		maxSeen  int64
		wg       sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := th.Acquire(context.Background(), "example.com")
			require.NoError(t, err)
			defer release()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				prev := atomic.LoadInt64(&maxSeen)
				if n <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(2))
	require.Zero(t, th.InFlight("example.com"))
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	th := New(Config{MaxPerHost: 1, MinDelay: time.Millisecond, AcquireTimeout: 50 * time.Millisecond})

	release, err := th.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	defer release()

	_, err = th.Acquire(context.Background(), "example.com")
	require.ErrorIs(t, err, scraper.ErrThrottled)
}

func TestAcquireHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	th := New(Config{MaxPerHost: 1, MinDelay: time.Millisecond, AcquireTimeout: 10 * time.Second})

	release, err := th.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = th.Acquire(ctx, "example.com")
	require.ErrorIs(t, err, context.Canceled)
}

func TestHostsAreIndependent(t *testing.T) {
	t.Parallel()

	th := New(Config{MaxPerHost: 1, MinDelay: time.Millisecond, AcquireTimeout: 50 * time.Millisecond})

	releaseA, err := th.Acquire(context.Background(), "a.example.com")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := th.Acquire(context.Background(), "b.example.com")
	require.NoError(t, err)
	defer releaseB()
}

func TestPolitenessDelaySpacesFetches(t *testing.T) {
	t.Parallel()

	th := New(Config{MaxPerHost: 2, MinDelay: 100 * time.Millisecond, AcquireTimeout: 5 * time.Second})

	release, err := th.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release()

	start := time.Now()
	release, err = th.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release()
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	th := New(Config{MaxPerHost: 1, MinDelay: time.Millisecond, AcquireTimeout: time.Second})

	release, err := th.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release()
	release()

	release, err = th.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	release()
}
