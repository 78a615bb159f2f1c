package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/scraperd/scraperd/internal/scraper"
)

func TestNewChromedpPoolValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{PoolSize: -1}); err == nil {
		t.Fatal("expected error for negative pool size")
	}
	fetcher, err := NewChromedp(Config{PoolSize: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 3 {
		t.Fatalf("expected limiter capacity 3, got %d", cap(fetcher.limiter))
	}
	if fetcher.cfg.NavigationTimeout != 30*time.Second {
		t.Fatalf("expected default nav timeout, got %v", fetcher.cfg.NavigationTimeout)
	}
	if fetcher.cfg.SettleDelay != 2*time.Second {
		t.Fatalf("expected default settle delay, got %v", fetcher.cfg.SettleDelay)
	}
}

func TestAcquireTimesOutWhenPoolSaturated(t *testing.T) {
	t.Parallel()

	f := &Fetcher{
		cfg:     Config{AcquireTimeout: 50 * time.Millisecond},
		limiter: make(chan struct{}, 1),
	}
	if err := f.acquire(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	err := f.acquire(context.Background(), "https://example.com")
	var fe *scraper.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != scraper.FetchTimeout {
		t.Fatalf("expected timeout kind, got %v", fe.Kind)
	}

	f.release()
	if err := f.acquire(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestReleaseWithoutAcquireIsSafe(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	f.release()
	f.release()
}

func TestClassifyRender(t *testing.T) {
	t.Parallel()

	fe := classifyRender("u", context.DeadlineExceeded)
	if fe.Kind != scraper.FetchTimeout {
		t.Fatalf("expected timeout kind, got %v", fe.Kind)
	}
	fe = classifyRender("u", errors.New("chrome crashed"))
	if fe.Kind != scraper.FetchRender {
		t.Fatalf("expected render kind, got %v", fe.Kind)
	}
	if !fe.Retryable() {
		t.Fatal("render failures should be retryable")
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || headers.Get("X-Request-ID") != "abc" || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d headers=%v url=%s", status, headers, url)
	}

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	fetcher := NewNoop()
	_, err := fetcher.Fetch(context.Background(), scraper.FetchRequest{URL: "https://example.com"})
	var fe *scraper.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != scraper.FetchRender {
		t.Fatalf("expected render kind, got %v", fe.Kind)
	}
}
