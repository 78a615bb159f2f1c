// Package api hosts the HTTP server, middleware, and REST handlers for
// caller access. Notable routes:
//   - GET /healthz / readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and POST /v1/jobs/{id}/cancel for job submission
//     and cancellation.
//   - GET /v1/jobs, /v1/jobs/{id}/status and /v1/jobs/{id}/result for
//     polling jobs and reading stored results.
//   - GET /v1/stats and /v1/config for queue statistics and the
//     effective (credential-free) runtime configuration.
package api
