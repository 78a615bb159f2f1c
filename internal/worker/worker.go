// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scraperd/scraperd/internal/extract"
	"github.com/scraperd/scraperd/internal/jobs"
	"github.com/scraperd/scraperd/internal/metrics"
	"github.com/scraperd/scraperd/internal/queue"
	"github.com/scraperd/scraperd/internal/resilience"
	"github.com/scraperd/scraperd/internal/scraper"
	"github.com/scraperd/scraperd/internal/throttle"
)

// Config controls Worker behavior.
type Config struct {
	StaticTimeout time.Duration
	NavTimeout    time.Duration
}

// Worker consumes job IDs from the queue and executes the fetch
// pipeline: mode decision, throttle, resilient fetch, extraction,
// result persistence, terminal mark.
type Worker struct {
	queue    *queue.Queue
	manager  *jobs.Manager
	throttle *throttle.Throttle
	exec     *resilience.Executor
	static   scraper.Fetcher
	headless scraper.Fetcher
	detector scraper.RenderDetector
	store    scraper.ResultStore
	pub      scraper.Publisher
	clock    scraper.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. The publisher may be nil.
func New(
	q *queue.Queue,
	manager *jobs.Manager,
	th *throttle.Throttle,
	exec *resilience.Executor,
	static scraper.Fetcher,
	headless scraper.Fetcher,
	detector scraper.RenderDetector,
	store scraper.ResultStore,
	pub scraper.Publisher,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    q,
		manager:  manager,
		throttle: th,
		exec:     exec,
		static:   static,
		headless: headless,
		detector: detector,
		store:    store,
		pub:      pub,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queued jobs until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, jobID)
	}
}

func (w *Worker) process(ctx context.Context, jobID string) {
	jobCtx, job, err := w.manager.MarkRunning(ctx, jobID)
	if err != nil {
		// Cancelled while queued, or evicted by retention.
		w.logger.Debug("skipping dequeued job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
			)
			w.finalizeFailure(job, fmt.Errorf("worker panic: %v", r), 0, job.Mode)
		}
	}()

	w.execute(jobCtx, job)
}

func (w *Worker) execute(ctx context.Context, job scraper.Job) {
	start := w.clock.Now()

	release, err := w.throttle.Acquire(ctx, job.Host)
	if err != nil {
		w.finalizeFailure(job, err, 0, job.Mode)
		return
	}
	defer release()

	resp, method, attempts, err := w.fetch(ctx, job)

	// The fetch is over either way; free the host slot before the
	// CPU-bound extraction step.
	release()

	if err != nil {
		w.finalizeFailure(job, err, attempts, method)
		return
	}

	records, err := extract.Records(resp.Body, job.Selectors)
	if err != nil {
		w.finalizeFailure(job, fmt.Errorf("extract records: %w", err), attempts, method)
		return
	}

	now := w.clock.Now()
	result := scraper.Result{
		JobID:            job.ID,
		SourceURL:        job.URL,
		CompletedAt:      now,
		Status:           scraper.JobStateCompleted,
		ExtractionMethod: method,
		Data:             records,
		Metadata: scraper.ResultMetadata{
			ElapsedSeconds: now.Sub(start).Seconds(),
			Bytes:          len(resp.Body),
		},
	}
	if err := w.store.Write(context.WithoutCancel(ctx), result); err != nil {
		w.logger.Error("result write failed", zap.String("job_id", job.ID), zap.Error(err))
		w.finalizeWith(job, scraper.JobStateFailed, scraper.CodeInternal, "result persistence failed", attempts, method)
		return
	}

	final, err := w.manager.MarkCompleted(job.ID, attempts)
	if err != nil {
		w.logger.Warn("completion mark failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.publish(final, method)
	w.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("method", string(method)),
		zap.Int("attempts", attempts),
		zap.Int("records", len(records)),
	)
}

// fetch picks the backend and runs it under the resilience layer.
// Forced modes skip the probe entirely; auto probes statically and
// promotes to the browser when the detector asks for it.
func (w *Worker) fetch(ctx context.Context, job scraper.Job) (scraper.FetchResponse, scraper.FetchMode, int, error) {
	switch job.Mode {
	case scraper.ModeStatic:
		resp, attempts, err := w.doFetch(ctx, w.static, "static", job)
		return resp, scraper.ModeStatic, attempts, err
	case scraper.ModeDynamic:
		resp, attempts, err := w.doFetch(ctx, w.headless, "dynamic", job)
		return resp, scraper.ModeDynamic, attempts, err
	}

	probe, attempts, err := w.doFetch(ctx, w.static, "static", job)
	if err != nil {
		return scraper.FetchResponse{}, scraper.ModeStatic, attempts, err
	}
	if !w.detector.NeedsRender(probe.Body, probe.Headers) {
		return probe, scraper.ModeStatic, attempts, nil
	}

	w.logger.Debug("promoting to browser fetch",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
	)
	rendered, renderAttempts, err := w.doFetch(ctx, w.headless, "dynamic", job)
	attempts += renderAttempts
	if err != nil {
		return scraper.FetchResponse{}, scraper.ModeDynamic, attempts, err
	}
	return rendered, scraper.ModeDynamic, attempts, nil
}

func (w *Worker) doFetch(ctx context.Context, fetcher scraper.Fetcher, backend string, job scraper.Job) (scraper.FetchResponse, int, error) {
	timeout := w.cfg.StaticTimeout
	if backend == "dynamic" {
		timeout = w.cfg.NavTimeout
	}
	req := scraper.FetchRequest{
		JobID:   job.ID,
		URL:     job.URL,
		Timeout: timeout,
	}
	resp, attempts, err := w.exec.Do(ctx, job.Host, func(ctx context.Context) (scraper.FetchResponse, error) {
		return fetcher.Fetch(ctx, req)
	})
	outcome := "success"
	if err != nil {
		outcome = scraper.ErrorCode(err)
	}
	metrics.ObserveFetchAttempt(backend, outcome, resp.Duration)
	return resp, attempts, err
}

// finalizeFailure persists a failure result and marks the job failed,
// mapping the error onto its stable code. Cancellation is reported as
// such even when it surfaced as a wrapped fetch error.
func (w *Worker) finalizeFailure(job scraper.Job, cause error, attempts int, method scraper.FetchMode) {
	code := scraper.ErrorCode(cause)
	if errors.Is(cause, context.Canceled) {
		code = scraper.CodeCancelled
	}
	text := "job failed"
	if cause != nil {
		text = cause.Error()
	}
	w.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("code", code),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	w.finalizeWith(job, scraper.JobStateFailed, code, text, attempts, method)
}

func (w *Worker) finalizeWith(job scraper.Job, state scraper.JobState, code, text string, attempts int, method scraper.FetchMode) {
	now := w.clock.Now()
	result := scraper.Result{
		JobID:            job.ID,
		SourceURL:        job.URL,
		CompletedAt:      now,
		Status:           state,
		ExtractionMethod: method,
		Data:             []scraper.Record{},
		ErrorCode:        code,
		ErrorText:        text,
	}
	if err := w.store.Write(context.Background(), result); err != nil {
		w.logger.Error("failure result write failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	final, err := w.manager.MarkFailed(job.ID, code, text, attempts)
	if err != nil {
		w.logger.Warn("failure mark skipped", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.publish(final, method)
}

func (w *Worker) publish(job scraper.Job, method scraper.FetchMode) {
	if w.pub == nil {
		return
	}
	event := scraper.CompletionEvent{
		JobID:  job.ID,
		URL:    job.URL,
		Status: job.State,
		Method: method,
		At:     w.clock.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.pub.Publish(ctx, event); err != nil {
		w.logger.Warn("completion publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
