package scraper

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a probe response needs a browser pass.
type RenderDetector interface {
	NeedsRender(body []byte, headers map[string][]string) bool
}

// ResultStore persists one Result per job id. Write happens exactly
// once, before the job is marked terminal.
type ResultStore interface {
	Write(ctx context.Context, result Result) error
	Read(ctx context.Context, jobID string) (Result, error)
}

// Publisher pushes completion events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
