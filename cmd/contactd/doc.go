// Package main hosts the contact form service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /submit-form, GET /config, health, readiness, and metrics
//     endpoints behind chi middleware that assigns a correlation id, logs, records metrics, recovers panics,
//     and bounds every request with a timeout. The static marketing site is served from server.static_dir.
//   - Validation: internal/form rejects submissions without a name or without any contact method, checks email
//     syntax and the regional mobile format, and HTML-escapes free text before anything touches the database.
//   - Persistence: internal/database.Manager owns a pgx pool with lazy creation, an acquire timeout, a startup
//     self-check, SIGHUP recycling and a graceful drain. internal/storage/postgres performs the parameterized
//     insert and surfaces SQLSTATE codes.
//   - Notifications: after a successful insert a SubmissionEvent is published best effort to the configured
//     backend (memory, Pub/Sub, Kafka, or SMTP email). Failures are logged and never change the response.
//   - Configuration & plumbing: Viper populates config from env/files (.env via godotenv); zap provides
//     structured logging with an optional lumberjack file sink; Prometheus metrics are served at /metrics.
//
// Quick checklist:
//   - Configure env vars: CONTACT_ENVIRONMENT or APP_ENV, CONTACT_SERVER_PORT or PORT, CONTACT_DATABASE_DSN or
//     DATABASE_URL (or CONTACT_DATABASE_HOST/PORT/USER/PASSWORD/NAME), CONTACT_NOTIFY_BACKEND.
//   - Run locally: go run ./cmd/contactd serve --config config.yaml (or rely solely on env overrides).
//   - Verify the database: go run ./cmd/contactd check.
package main
