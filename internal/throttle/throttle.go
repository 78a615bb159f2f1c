// Package throttle enforces per-host concurrency and politeness limits.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scraperd/scraperd/internal/metrics"
	"github.com/scraperd/scraperd/internal/scraper"
)

// Config holds throttle settings.
type Config struct {
	MaxPerHost     int
	MinDelay       time.Duration
	AcquireTimeout time.Duration
}

// Throttle caps concurrent fetches per host with a semaphore and spaces
// successive fetches to the same host with a token bucket.
type Throttle struct {
	cfg Config

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// New creates a Throttle, substituting defaults for non-positive
// values.
func New(cfg Config) *Throttle {
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = 2
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = time.Second
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	return &Throttle{
		cfg:   cfg,
		hosts: make(map[string]*hostSlot),
	}
}

// Acquire blocks until the host has a free slot and its politeness
// interval has elapsed, bounded by the acquire timeout. On success it
// returns a release function that must be called exactly once.
func (t *Throttle) Acquire(ctx context.Context, host string) (func(), error) {
	slot := t.slot(host)

	waitCtx, cancel := context.WithTimeout(ctx, t.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	select {
	case slot.sem <- struct{}{}:
	case <-waitCtx.Done():
		return nil, t.waitErr(ctx, waitCtx, host)
	}

	if err := slot.limiter.Wait(waitCtx); err != nil {
		<-slot.sem
		return nil, t.waitErr(ctx, waitCtx, host)
	}

	metrics.ObserveThrottleWait(host, time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() { <-slot.sem })
	}, nil
}

// InFlight reports how many fetches currently hold a slot for the host.
func (t *Throttle) InFlight(host string) int {
	return len(t.slot(host).sem)
}

func (t *Throttle) slot(host string) *hostSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.hosts[host]
	if !ok {
		s = &hostSlot{
			sem:     make(chan struct{}, t.cfg.MaxPerHost),
			limiter: rate.NewLimiter(rate.Every(t.cfg.MinDelay), 1),
		}
		t.hosts[host] = s
	}
	return s
}

// waitErr distinguishes the acquire deadline from caller cancellation.
func (t *Throttle) waitErr(ctx, waitCtx context.Context, host string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("host %s: %w", host, scraper.ErrThrottled)
	}
	return waitCtx.Err()
}
