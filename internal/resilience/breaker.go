package resilience

import (
	"sync"
	"time"

	"github.com/scraperd/scraperd/internal/metrics"
	"github.com/scraperd/scraperd/internal/scraper"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker tracks consecutive fetch failures per host and short-circuits
// requests to hosts that keep failing. After the recovery window one
// trial request is let through; its outcome decides whether the circuit
// closes again. Each host carries its own lock so unrelated hosts never
// serialize on each other.
type Breaker struct {
	threshold int
	recovery  time.Duration
	clock     scraper.Clock

	mu    sync.RWMutex // guards the hosts map only
	hosts map[string]*hostCircuit
}

type hostCircuit struct {
	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker builds a Breaker, substituting defaults for non-positive
// values.
func NewBreaker(threshold int, recovery time.Duration, clock scraper.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 60 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		recovery:  recovery,
		clock:     clock,
		hosts:     make(map[string]*hostCircuit),
	}
}

// Allow reports whether a request to the host may proceed. When the
// circuit is open and the recovery window has not elapsed it returns a
// circuit-open fetch error.
func (b *Breaker) Allow(host string) error {
	hc := b.circuit(host)
	hc.mu.Lock()
	defer hc.mu.Unlock()

	switch hc.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.clock.Now().Sub(hc.openedAt) < b.recovery {
			return b.openErr(host)
		}
		b.transition(host, hc, stateHalfOpen)
		hc.probing = true
		return nil
	default: // half-open, one probe at a time
		if hc.probing {
			return b.openErr(host)
		}
		hc.probing = true
		return nil
	}
}

// RecordSuccess resets the host circuit after a successful fetch.
func (b *Breaker) RecordSuccess(host string) {
	hc := b.circuit(host)
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.state != stateClosed {
		b.transition(host, hc, stateClosed)
	}
	hc.failures = 0
	hc.probing = false
}

// RecordFailure counts a failed fetch. Meeting the threshold, or
// failing the half-open probe, opens the circuit.
func (b *Breaker) RecordFailure(host string) {
	hc := b.circuit(host)
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.probing = false
	switch hc.state {
	case stateHalfOpen:
		b.open(host, hc)
	default:
		hc.failures++
		if hc.failures >= b.threshold {
			b.open(host, hc)
		}
	}
}

// RecordCancel releases a probe slot without charging the host: a
// fetch abandoned by caller cancellation says nothing about the host's
// health.
func (b *Breaker) RecordCancel(host string) {
	hc := b.circuit(host)
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.probing = false
}

// State returns the current state name for the host, for diagnostics.
func (b *Breaker) State(host string) string {
	hc := b.circuit(host)
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.state.String()
}

func (b *Breaker) circuit(host string) *hostCircuit {
	b.mu.RLock()
	hc, ok := b.hosts[host]
	b.mu.RUnlock()
	if ok {
		return hc
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if hc, ok := b.hosts[host]; ok {
		return hc
	}
	hc = &hostCircuit{}
	b.hosts[host] = hc
	return hc
}

// open and transition run with the host circuit's lock held.
func (b *Breaker) open(host string, hc *hostCircuit) {
	b.transition(host, hc, stateOpen)
	hc.openedAt = b.clock.Now()
	hc.failures = 0
}

func (b *Breaker) transition(host string, hc *hostCircuit, next breakerState) {
	hc.state = next
	metrics.ObserveBreakerTransition(host, next.String())
}

func (b *Breaker) openErr(host string) error {
	return scraper.NewFetchError(scraper.FetchCircuitOpen, host,
		errCircuitOpen)
}
