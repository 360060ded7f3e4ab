package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/database"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/metrics"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/storage/postgres"
)

// ConnSource hands out pooled connections and reports pool lifecycle state.
type ConnSource interface {
	Acquire(ctx context.Context) (*database.Lease, error)
	State() database.State
}

// SubmissionStore persists validated submissions.
type SubmissionStore interface {
	Insert(ctx context.Context, q postgres.Querier, sub form.Submission) (int64, error)
}

// Validator turns raw input into a sanitized submission.
type Validator interface {
	Validate(in form.Input) (form.Submission, error)
}

// Dependencies are the collaborators the server needs. Publisher is optional.
type Dependencies struct {
	Pool      ConnSource
	Store     SubmissionStore
	Validator Validator
	IDs       form.IDGenerator
	Publisher form.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Options tune server behaviour.
type Options struct {
	// Production hides error detail from clients.
	Production     bool
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	StaticDir      string
	// NotifyTopic and NotifyBackend label submission notifications.
	NotifyTopic   string
	NotifyBackend string
	NotifyTimeout time.Duration
}

// Server wires HTTP handlers to the pool, store and notifier.
type Server struct {
	router    chi.Router
	pool      ConnSource
	store     SubmissionStore
	validator Validator
	ids       form.IDGenerator
	publisher form.Publisher
	logger    *zap.Logger
	now       func() time.Time
	opts      Options

	notifications sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	metrics.Init()

	s := &Server{
		pool:      deps.Pool,
		store:     deps.Store,
		validator: deps.Validator,
		ids:       deps.IDs,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		now:       deps.Now,
		opts:      opts,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.IDs))
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(deps.Logger, opts.Production))
	r.Use(timeoutMiddleware(deps.Logger, opts.RequestTimeout, opts.Production))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/config", s.configEndpoint)
	r.Post("/submit-form", s.submitForm)

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// WaitForNotifications blocks until in-flight notification publishes finish or ctx ends.
func (s *Server) WaitForNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state := s.pool.State()
	switch state {
	case database.StateDraining, database.StateClosed:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "pool": state.String()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "pool": state.String()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	ErrorID string `json:"errorId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, errorID string) {
	writeJSON(w, status, errorResponse{Error: msg, ErrorID: errorID})
}
