package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scraperd/scraperd/internal/scraper"
)

func TestEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := New(2)
	require.NoError(t, q.TryEnqueue("job-1"))
	require.NoError(t, q.TryEnqueue("job-2"))
	require.Equal(t, 2, q.Depth())

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", got)

	got, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-2", got)
}

func TestTryEnqueueRejectsWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	require.NoError(t, q.TryEnqueue("job-1"))
	require.ErrorIs(t, q.TryEnqueue("job-2"), scraper.ErrQueueFull)

	// Draining one slot makes room again.
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.TryEnqueue("job-3"))
}

func TestDequeueRespectsCancellation(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := New(1)
	result := make(chan string, 1)
	go func() {
		jobID, err := q.Dequeue(context.Background())
		if err == nil {
			result <- jobID
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.TryEnqueue("job-async"))

	select {
	case got := <-result:
		require.Equal(t, "job-async", got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	q.Close()
}
