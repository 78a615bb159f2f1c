// Package main hosts the scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, config,
//     and job management endpoints. Requests are validated, normalized
//     into scraper.Job records by the manager, and enqueued for work.
//   - Queue & workers: jobs flow through a bounded in-memory queue
//     sized by jobs.queue_depth and are fanned out to a fixed worker
//     pool sized by jobs.workers. Context cancellation stops workers
//     cleanly on shutdown.
//   - Fetch pipeline: workers acquire a per-host throttle slot, run a
//     lightweight probe fetch via the Colly-based backend, promote to
//     a headless Chromedp fetch when the heuristic detector deems it
//     necessary, and retry transient failures under a per-host circuit
//     breaker.
//   - Persistence & fanout: extracted records are written to the
//     configured result store (memory/fs/postgres) before the job is
//     marked terminal, and a compact Pub/Sub completion event is
//     published when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/file
//     (prefix SCRAPERD); zap provides structured logging; Prometheus
//     metrics are served on /metrics. The process reacts to SIGINT and
//     SIGTERM for graceful drain and shutdown of workers.
package main
