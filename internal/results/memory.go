// Package results provides ResultStore implementations.
package results

import (
	"context"
	"fmt"
	"sync"

	"github.com/scraperd/scraperd/internal/scraper"
)

// MemoryStore keeps results in-process, for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]scraper.Result
}

// NewMemoryStore creates an in-memory result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]scraper.Result),
	}
}

// Write persists the result. Each job id is written at most once.
func (s *MemoryStore) Write(_ context.Context, result scraper.Result) error {
	if result.JobID == "" {
		return fmt.Errorf("result job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.JobID]; exists {
		return fmt.Errorf("result for job %s already written", result.JobID)
	}
	s.results[result.JobID] = result
	return nil
}

// Read returns the stored result or ErrNotFound.
func (s *MemoryStore) Read(_ context.Context, jobID string) (scraper.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	if !ok {
		return scraper.Result{}, scraper.ErrNotFound
	}
	return result, nil
}

// Delete removes a result, used by retention sweeps.
func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, jobID)
	return nil
}
