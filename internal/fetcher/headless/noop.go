package headless

import (
	"context"
	"errors"

	"github.com/scraperd/scraperd/internal/scraper"
)

// Noop implements scraper.Fetcher but always fails, for deployments
// where no browser is available.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch reports the render failure without touching the network.
func (Noop) Fetch(_ context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	return scraper.FetchResponse{}, scraper.NewFetchError(scraper.FetchRender, request.URL,
		errors.New("headless browser not configured"))
}
