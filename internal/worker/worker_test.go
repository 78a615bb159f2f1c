package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scraperd/scraperd/internal/clock/system"
	"github.com/scraperd/scraperd/internal/jobs"
	"github.com/scraperd/scraperd/internal/publisher/memory"
	"github.com/scraperd/scraperd/internal/queue"
	"github.com/scraperd/scraperd/internal/resilience"
	"github.com/scraperd/scraperd/internal/results"
	"github.com/scraperd/scraperd/internal/scraper"
	"github.com/scraperd/scraperd/internal/throttle"
)

const quotesPage = `<html><body>
<div class="quote"><span class="text">Stay hungry.</span><small class="author">Jobs</small></div>
<div class="quote"><span class="text">Less is more.</span><small class="author">Rohe</small></div>
</body></html>`

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(n int, req scraper.FetchRequest) (scraper.FetchResponse, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n, req)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okFetcher(body string) *fakeFetcher {
	return &fakeFetcher{fn: func(_ int, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		return scraper.FetchResponse{
			URL:        req.URL,
			StatusCode: http.StatusOK,
			Body:       []byte(body),
			Duration:   time.Millisecond,
		}, nil
	}}
}

type fixedDetector struct {
	render bool
}

func (d fixedDetector) NeedsRender([]byte, map[string][]string) bool {
	return d.render
}

type pipeline struct {
	manager *jobs.Manager
	store   *results.MemoryStore
	pub     *memory.Publisher
	worker  *Worker
}

func newPipeline(t *testing.T, static, headless scraper.Fetcher, detector scraper.RenderDetector) *pipeline {
	t.Helper()

	q := queue.New(10)
	clock := system.New()
	manager := jobs.NewManager(jobs.Config{}, q, clock, &seqIDs{}, nil, zap.NewNop())
	store := results.NewMemoryStore()
	pub := memory.New()

	policy := resilience.NewRetryPolicy(5, time.Millisecond, 5*time.Millisecond)
	breaker := resilience.NewBreaker(5, time.Minute, clock)
	exec := resilience.NewExecutor(policy, breaker, zap.NewNop())
	th := throttle.New(throttle.Config{MaxPerHost: 2, MinDelay: time.Millisecond, AcquireTimeout: 5 * time.Second})

	w := New(q, manager, th, exec, static, headless, detector, store, pub, clock,
		Config{StaticTimeout: time.Second, NavTimeout: time.Second}, zap.NewNop())

	return &pipeline{manager: manager, store: store, pub: pub, worker: w}
}

func (p *pipeline) runWorker(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go p.worker.Run(ctx)
	t.Cleanup(cancel)
	return cancel
}

func (p *pipeline) waitTerminal(t *testing.T, jobID string) scraper.Job {
	t.Helper()
	var job scraper.Job
	require.Eventually(t, func() bool {
		got, err := p.manager.Get(jobID)
		if err != nil {
			return false
		}
		job = got
		return got.State.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestStaticJobCompletesWithExtractedRecords(t *testing.T) {
	t.Parallel()

	static := okFetcher(quotesPage)
	p := newPipeline(t, static, NoopHeadless(t), fixedDetector{render: false})
	p.runWorker(t)

	job, err := p.manager.Submit(context.Background(), scraper.JobRequest{
		URL: "https://quotes.example.com",
		Selectors: map[string]string{
			"container": ".quote",
			"text":      ".text",
			"author":    ".author",
		},
	})
	require.NoError(t, err)

	final := p.waitTerminal(t, job.ID)
	require.Equal(t, scraper.JobStateCompleted, final.State)

	result, err := p.store.Read(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.ModeStatic, result.ExtractionMethod)
	require.Len(t, result.Data, 2)
	require.Equal(t, "Stay hungry.", result.Data[0]["text"])
	require.Equal(t, "Jobs", result.Data[0]["author"])
	require.Positive(t, result.Metadata.Bytes)

	events := p.pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, job.ID, events[0].JobID)
	require.Equal(t, scraper.JobStateCompleted, events[0].Status)
}

func TestForcedDynamicSkipsProbe(t *testing.T) {
	t.Parallel()

	static := okFetcher(quotesPage)
	headless := okFetcher(quotesPage)
	p := newPipeline(t, static, headless, fixedDetector{render: false})
	p.runWorker(t)

	job, err := p.manager.Submit(context.Background(), scraper.JobRequest{
		URL:  "https://app.example.com",
		Mode: scraper.ModeDynamic,
	})
	require.NoError(t, err)

	final := p.waitTerminal(t, job.ID)
	require.Equal(t, scraper.JobStateCompleted, final.State)
	require.Zero(t, static.callCount())
	require.Equal(t, 1, headless.callCount())

	result, err := p.store.Read(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.ModeDynamic, result.ExtractionMethod)
}

func TestAutoModePromotesWhenDetectorAsks(t *testing.T) {
	t.Parallel()

	static := okFetcher(`<html><body><div id="root"></div><script src="/app.js"></script></body></html>`)
	headless := okFetcher(quotesPage)
	p := newPipeline(t, static, headless, fixedDetector{render: true})
	p.runWorker(t)

	job, err := p.manager.Submit(context.Background(), scraper.JobRequest{URL: "https://spa.example.com"})
	require.NoError(t, err)

	final := p.waitTerminal(t, job.ID)
	require.Equal(t, scraper.JobStateCompleted, final.State)
	require.Equal(t, 1, static.callCount())
	require.Equal(t, 1, headless.callCount())

	result, err := p.store.Read(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.ModeDynamic, result.ExtractionMethod)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{fn: func(n int, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		if n <= 2 {
			return scraper.FetchResponse{}, scraper.NewFetchError(scraper.FetchNetwork, req.URL, errors.New("connection reset"))
		}
		return scraper.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(quotesPage)}, nil
	}}
	p := newPipeline(t, static, NoopHeadless(t), fixedDetector{render: false})
	p.runWorker(t)

	job, err := p.manager.Submit(context.Background(), scraper.JobRequest{URL: "https://flaky.example.com"})
	require.NoError(t, err)

	final := p.waitTerminal(t, job.ID)
	require.Equal(t, scraper.JobStateCompleted, final.State)
	require.Equal(t, 3, final.Attempts)
	require.Equal(t, 3, static.callCount())
}

func TestNonRetryableFailureFailsJob(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{fn: func(_ int, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		return scraper.FetchResponse{}, scraper.NewHTTPStatusError(req.URL, http.StatusNotFound)
	}}
	p := newPipeline(t, static, NoopHeadless(t), fixedDetector{render: false})
	p.runWorker(t)

	job, err := p.manager.Submit(context.Background(), scraper.JobRequest{URL: "https://missing.example.com"})
	require.NoError(t, err)

	final := p.waitTerminal(t, job.ID)
	require.Equal(t, scraper.JobStateFailed, final.State)
	require.Equal(t, scraper.CodeHTTPStatus, final.ErrorCode)
	require.Equal(t, 1, final.Attempts)

	// The failure is persisted too, with its code.
	result, err := p.store.Read(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStateFailed, result.Status)
	require.Equal(t, scraper.CodeHTTPStatus, result.ErrorCode)

	events := p.pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, scraper.JobStateFailed, events[0].Status)
}

func TestCompletedStatusImpliesReadableResult(t *testing.T) {
	t.Parallel()

	static := okFetcher(quotesPage)
	p := newPipeline(t, static, NoopHeadless(t), fixedDetector{render: false})
	p.runWorker(t)

	for i := 0; i < 5; i++ {
		job, err := p.manager.Submit(context.Background(), scraper.JobRequest{
			URL: fmt.Sprintf("https://batch%d.example.com", i),
		})
		require.NoError(t, err)

		final := p.waitTerminal(t, job.ID)
		require.Equal(t, scraper.JobStateCompleted, final.State)

		// No completed-but-not-ready window.
		_, err = p.store.Read(context.Background(), job.ID)
		require.NoError(t, err)
	}
}

func TestPanicInFetcherIsIsolated(t *testing.T) {
	t.Parallel()

	static := &fakeFetcher{fn: func(n int, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		if n == 1 {
			panic("fetcher exploded")
		}
		return scraper.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(quotesPage)}, nil
	}}
	p := newPipeline(t, static, NoopHeadless(t), fixedDetector{render: false})
	p.runWorker(t)

	first, err := p.manager.Submit(context.Background(), scraper.JobRequest{URL: "https://boom.example.com"})
	require.NoError(t, err)
	final := p.waitTerminal(t, first.ID)
	require.Equal(t, scraper.JobStateFailed, final.State)
	require.Equal(t, scraper.CodeInternal, final.ErrorCode)

	// The pool survives and processes the next job.
	second, err := p.manager.Submit(context.Background(), scraper.JobRequest{URL: "https://ok.example.com"})
	require.NoError(t, err)
	final = p.waitTerminal(t, second.ID)
	require.Equal(t, scraper.JobStateCompleted, final.State)
}

type blockingFetcher struct {
	started chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	select {
	case f.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return scraper.FetchResponse{}, scraper.NewFetchError(scraper.FetchNetwork, req.URL, ctx.Err())
}

func TestCancelRunningJobStopsRetries(t *testing.T) {
	t.Parallel()

	static := &blockingFetcher{started: make(chan struct{}, 1)}
	p := newPipeline(t, static, NoopHeadless(t), fixedDetector{render: false})
	p.runWorker(t)

	job, err := p.manager.Submit(context.Background(), scraper.JobRequest{URL: "https://slow.example.com"})
	require.NoError(t, err)

	select {
	case <-static.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	_, err = p.manager.Cancel(job.ID)
	require.NoError(t, err)

	final := p.waitTerminal(t, job.ID)
	require.Equal(t, scraper.JobStateFailed, final.State)
	require.Equal(t, scraper.CodeCancelled, final.ErrorCode)
}

// NoopHeadless returns a fetcher that fails the test if invoked.
func NoopHeadless(t *testing.T) scraper.Fetcher {
	t.Helper()
	return &fakeFetcher{fn: func(_ int, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		return scraper.FetchResponse{}, scraper.NewFetchError(scraper.FetchRender, req.URL, errors.New("headless not expected"))
	}}
}
