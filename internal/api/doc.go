// Package api hosts the HTTP server, middleware, and handlers for the contact form
// service. Notable routes:
//   - POST /submit-form validates and stores a contact form submission.
//   - GET /config tells the browser bundle where to post submissions.
//   - GET /healthz / readyz for load balancer and Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//
// Anything else falls through to the static marketing site when a static directory is
// configured.
package api
