// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access to a live harvest run. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the folded event snapshot.
//   - GET /v1/pages and /v1/errors for scheduler and error-tracker state.
package api
