// Package jobs tracks scrape job lifecycle state.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scraperd/scraperd/internal/extract"
	"github.com/scraperd/scraperd/internal/metrics"
	"github.com/scraperd/scraperd/internal/queue"
	"github.com/scraperd/scraperd/internal/scraper"
)

// ResultSink is the slice of the result store the manager touches:
// writing the failure record for jobs cancelled before execution and
// deleting records for retention-expired jobs.
type ResultSink interface {
	Write(ctx context.Context, result scraper.Result) error
	Delete(ctx context.Context, jobID string) error
}

// Config holds manager settings.
type Config struct {
	RetainCount int
	RetainAge   time.Duration
	ListLimit   int
}

// Manager owns the job state map. All state transitions flow through
// it, which keeps them monotonic: queued -> running -> terminal, with
// no transitions out of a terminal state.
type Manager struct {
	cfg     Config
	queue   *queue.Queue
	clock   scraper.Clock
	ids     scraper.IDGenerator
	results ResultSink
	logger  *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*tracked
}

type tracked struct {
	job    scraper.Job
	cancel context.CancelFunc
}

// Stats is a point-in-time snapshot of the job population.
type Stats struct {
	Queued     int `json:"queued"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
	QueueDepth int `json:"queue_depth"`
}

// NewManager builds a Manager. The sink may be nil when stored results
// should outlive job metadata.
func NewManager(cfg Config, q *queue.Queue, clock scraper.Clock, ids scraper.IDGenerator, results ResultSink, logger *zap.Logger) *Manager {
	if cfg.RetainCount <= 0 {
		cfg.RetainCount = 1000
	}
	if cfg.RetainAge <= 0 {
		cfg.RetainAge = 24 * time.Hour
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		queue:   q,
		clock:   clock,
		ids:     ids,
		results: results,
		logger:  logger,
		jobs:    make(map[string]*tracked),
	}
}

// Submit validates the request, registers the job and enqueues it.
// A full queue leaves no trace of the job behind.
func (m *Manager) Submit(ctx context.Context, req scraper.JobRequest) (scraper.Job, error) {
	normalized, host, err := scraper.ValidateTarget(req.URL)
	if err != nil {
		return scraper.Job{}, err
	}
	mode, ok := scraper.ParseFetchMode(string(req.Mode))
	if !ok {
		return scraper.Job{}, scraper.ErrInvalidTarget
	}
	if err := extract.ValidateSelectors(req.Selectors); err != nil {
		return scraper.Job{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return scraper.Job{}, err
	}

	job := scraper.Job{
		ID:        id,
		URL:       normalized,
		Host:      host,
		Selectors: cloneSelectors(req.Selectors),
		Mode:      mode,
		State:     scraper.JobStateQueued,
		Submitted: m.clock.Now(),
	}

	m.mu.Lock()
	m.jobs[id] = &tracked{job: job}
	m.mu.Unlock()

	if err := m.queue.TryEnqueue(id); err != nil {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
		return scraper.Job{}, err
	}

	m.sweep(ctx)

	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("url", normalized),
		zap.String("mode", string(mode)),
	)
	return job, nil
}

// Get returns a copy of the job.
func (m *Manager) Get(jobID string) (scraper.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	return t.job, nil
}

// List returns summaries ordered most recent first, capped at limit.
func (m *Manager) List(limit int) []scraper.JobSummary {
	if limit <= 0 || limit > m.cfg.ListLimit {
		limit = m.cfg.ListLimit
	}

	m.mu.RLock()
	all := make([]scraper.Job, 0, len(m.jobs))
	for _, t := range m.jobs {
		all = append(all, t.job)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].Submitted.After(all[j].Submitted)
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]scraper.JobSummary, 0, len(all))
	for _, j := range all {
		out = append(out, scraper.JobSummary{
			ID:        j.ID,
			URL:       j.URL,
			State:     j.State,
			Submitted: j.Submitted,
			Finished:  j.Finished,
		})
	}
	return out
}

// Stats reports job counts by state plus the queue depth.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, t := range m.jobs {
		switch t.job.State {
		case scraper.JobStateQueued:
			s.Queued++
		case scraper.JobStateRunning:
			s.Running++
		case scraper.JobStateCompleted:
			s.Completed++
		case scraper.JobStateFailed:
			s.Failed++
		}
	}
	s.Total = len(m.jobs)
	s.QueueDepth = m.queue.Depth()
	return s
}

// Cancel requests cancellation. A queued job fails immediately; a
// running job has its context canceled and finalizes through the
// worker. Terminal jobs return ErrAlreadyTerminal.
func (m *Manager) Cancel(jobID string) (scraper.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	switch t.job.State {
	case scraper.JobStateQueued:
		now := m.clock.Now()
		// The failure record lands in the store before the terminal
		// state becomes visible, so GetResult never answers not-found
		// for a job GetStatus already reports as failed.
		if m.results != nil {
			res := scraper.Result{
				JobID:       jobID,
				SourceURL:   t.job.URL,
				CompletedAt: now,
				Status:      scraper.JobStateFailed,
				Data:        []scraper.Record{},
				ErrorCode:   scraper.CodeCancelled,
				ErrorText:   "cancelled before execution",
			}
			if err := m.results.Write(context.Background(), res); err != nil {
				m.logger.Warn("cancellation result write failed",
					zap.String("job_id", jobID), zap.Error(err))
			}
		}
		t.job.State = scraper.JobStateFailed
		t.job.ErrorCode = scraper.CodeCancelled
		t.job.ErrorText = "cancelled before execution"
		t.job.Finished = &now
		metrics.ObserveJobTerminal(string(t.job.State), t.job.ErrorCode)
		m.logger.Info("queued job cancelled", zap.String("job_id", jobID))
		return t.job, nil
	case scraper.JobStateRunning:
		if t.cancel != nil {
			t.cancel()
		}
		m.logger.Info("running job cancel requested", zap.String("job_id", jobID))
		return t.job, nil
	default:
		return t.job, scraper.ErrAlreadyTerminal
	}
}

// MarkRunning transitions a dequeued job to running and returns a
// per-job context the worker executes under. Jobs already terminal
// (cancelled while queued) report ErrAlreadyTerminal so the worker
// skips them.
func (m *Manager) MarkRunning(parent context.Context, jobID string) (context.Context, scraper.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.jobs[jobID]
	if !ok {
		return nil, scraper.Job{}, scraper.ErrNotFound
	}
	if t.job.State != scraper.JobStateQueued {
		return nil, t.job, scraper.ErrAlreadyTerminal
	}

	now := m.clock.Now()
	t.job.State = scraper.JobStateRunning
	t.job.Started = &now

	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	return ctx, t.job, nil
}

// MarkCompleted finalizes a successful job. The caller must have
// persisted the result before this transition.
func (m *Manager) MarkCompleted(jobID string, attempts int) (scraper.Job, error) {
	return m.finalize(jobID, scraper.JobStateCompleted, "", "", attempts)
}

// MarkFailed finalizes a failed job with its stable error code.
func (m *Manager) MarkFailed(jobID, errCode, errText string, attempts int) (scraper.Job, error) {
	return m.finalize(jobID, scraper.JobStateFailed, errCode, errText, attempts)
}

func (m *Manager) finalize(jobID string, state scraper.JobState, errCode, errText string, attempts int) (scraper.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	if t.job.State.IsTerminal() {
		return t.job, scraper.ErrAlreadyTerminal
	}

	now := m.clock.Now()
	t.job.State = state
	t.job.ErrorCode = errCode
	t.job.ErrorText = errText
	t.job.Attempts = attempts
	t.job.Finished = &now
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	metrics.ObserveJobTerminal(string(state), errCode)
	return t.job, nil
}

// sweep drops terminal jobs beyond the retention count or older than
// the retention age, deleting their stored results alongside.
func (m *Manager) sweep(ctx context.Context) {
	cutoff := m.clock.Now().Add(-m.cfg.RetainAge)

	m.mu.Lock()
	var terminal []scraper.Job
	for _, t := range m.jobs {
		if t.job.State.IsTerminal() && t.job.Finished != nil {
			terminal = append(terminal, t.job)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].Finished.Before(*terminal[j].Finished)
	})

	var expired []string
	keep := len(terminal)
	for _, j := range terminal {
		if j.Finished.Before(cutoff) || keep > m.cfg.RetainCount {
			expired = append(expired, j.ID)
			keep--
		}
	}
	for _, id := range expired {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.results != nil {
			if err := m.results.Delete(ctx, id); err != nil {
				m.logger.Warn("failed to delete expired result",
					zap.String("job_id", id), zap.Error(err))
			}
		}
	}
	if len(expired) > 0 {
		m.logger.Debug("retention sweep", zap.Int("expired", len(expired)))
	}
}

func cloneSelectors(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
