// Package memory contains an in-memory publisher for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"

	"github.com/scraperd/scraperd/internal/scraper"
)

// Publisher stores published completion events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []scraper.CompletionEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event scraper.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded completion events.
func (p *Publisher) Events() []scraper.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]scraper.CompletionEvent, len(p.events))
	copy(out, p.events)
	return out
}
