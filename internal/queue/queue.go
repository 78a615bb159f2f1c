// Package queue provides the bounded in-memory job queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scraperd/scraperd/internal/metrics"
	"github.com/scraperd/scraperd/internal/scraper"
)

// ErrClosed is returned by Dequeue after the queue is shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of job IDs. Submission never
// blocks; a full queue rejects the job so the caller can surface
// backpressure immediately.
type Queue struct {
	ch      chan string
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		ch: make(chan string, capacity),
	}
}

// TryEnqueue pushes a job ID without blocking. A full queue returns
// ErrQueueFull.
func (q *Queue) TryEnqueue(jobID string) error {
	select {
	case q.ch <- jobID:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	default:
		return scraper.ErrQueueFull
	}
}

// Dequeue pops the next job ID, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case jobID, ok := <-q.ch:
		if !ok {
			return "", ErrClosed
		}
		metrics.SetQueueDepth(len(q.ch))
		return jobID, nil
	}
}

// Depth reports the number of queued jobs.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
