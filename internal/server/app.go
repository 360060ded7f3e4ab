// Package server assembles the contact form service and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/api"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/config"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/database"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/logging"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/metrics"
	emailpublisher "github.com/DeeparthGupta/dharaniDairyWeb/internal/publisher/email"
	kafkapublisher "github.com/DeeparthGupta/dharaniDairyWeb/internal/publisher/kafka"
	memorypublisher "github.com/DeeparthGupta/dharaniDairyWeb/internal/publisher/memory"
	gcppublisher "github.com/DeeparthGupta/dharaniDairyWeb/internal/publisher/pubsub"
	pgstore "github.com/DeeparthGupta/dharaniDairyWeb/internal/storage/postgres"
)

// Notifier is a submission publisher that owns resources.
type Notifier interface {
	form.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	pool      *database.Manager
	apiServer *api.Server
	notifier  Notifier
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger   *zap.Logger
	factory  database.Factory
	notifier Notifier
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithPoolFactory replaces the pgx pool factory.
func WithPoolFactory(factory database.Factory) Option {
	return func(o *buildOptions) { o.factory = factory }
}

// WithNotifier replaces the configured notification backend.
func WithNotifier(n Notifier) Option {
	return func(o *buildOptions) { o.notifier = n }
}

// Build creates the application's dependencies. No database connection is made here.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	logger := bo.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging, cfg.IsProduction())
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	logger.Info("building application",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.String("table", cfg.Database.Table),
		zap.String("notify_backend", cfg.Notify.Backend),
	)
	metrics.Init()

	validator, err := form.NewValidator(cfg.Validation.PhoneLocale)
	if err != nil {
		return nil, fmt.Errorf("validator init failed: %w", err)
	}
	store, err := pgstore.NewSubmissionStore(cfg.Database.Table)
	if err != nil {
		return nil, fmt.Errorf("submission store init failed: %w", err)
	}

	poolCfg := cfg.Database.Pool()
	factory := bo.factory
	if factory == nil {
		factory = database.NewPgxFactory(cfg.Database.ConnString(), poolCfg)
	}
	pool := database.New(factory, poolCfg, logger.Named("database"),
		database.WithAcquireObserver(metrics.ObservePoolAcquire))
	metrics.SetLeaseSource(pool.Leases)

	notifier := bo.notifier
	if notifier == nil {
		notifier, err = setupNotifier(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	deps := api.Dependencies{
		Pool:      pool,
		Store:     store,
		Validator: validator,
		IDs:       correlation.NewGenerator(),
		Logger:    logger.Named("api"),
	}
	if notifier != nil {
		deps.Publisher = notifier
	}
	apiServer := api.NewServer(deps, api.Options{
		Production:     cfg.IsProduction(),
		RequestTimeout: cfg.Server.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		StaticDir:      cfg.Server.StaticDir,
		NotifyTopic:    cfg.Notify.Topic,
		NotifyBackend:  cfg.Notify.Backend,
		NotifyTimeout:  cfg.Notify.Timeout(),
	})

	return &App{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		apiServer: apiServer,
		notifier:  notifier,
	}, nil
}

func setupNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Notifier, error) {
	n := cfg.Notify
	switch n.Backend {
	case "", config.NotifyNone:
		logger.Info("submission notifications disabled")
		return nil, nil
	case config.NotifyMemory:
		logger.Warn("using in-memory submission notifier")
		return memorypublisher.New(), nil
	case config.NotifyPubSub:
		pub, err := gcppublisher.Dial(ctx, n.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
		}
		logger.Info("Pub/Sub notifier initialized",
			zap.String("project_id", n.PubSub.ProjectID),
			zap.String("topic", n.Topic),
		)
		return pub, nil
	case config.NotifyKafka:
		pub, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers:      n.Kafka.Brokers,
			BatchTimeout: time.Duration(n.Kafka.BatchTimeoutMs) * time.Millisecond,
			WriteTimeout: n.Timeout(),
		}, logger.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("kafka notifier init failed: %w", err)
		}
		return pub, nil
	case config.NotifyEmail:
		pub, err := emailpublisher.New(emailpublisher.Config{
			Host:     n.Email.Host,
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			To:       n.Email.To,
			Subject:  n.Email.Subject,
			Timeout:  n.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier init failed: %w", err)
		}
		logger.Info("email notifier initialized", zap.Strings("to", n.Email.To))
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", n.Backend)
	}
}

// Pool exposes the connection pool manager.
func (a *App) Pool() *database.Manager {
	return a.pool
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and serves until SIGINT/SIGTERM or ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln. SIGHUP recycles the connection pool; SIGINT/SIGTERM or ctx
// cancellation drain the HTTP server first and then the pool.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if a.cfg.Database.ConnectOnStart {
		if err := a.pool.Start(ctx); err != nil {
			a.logger.Warn("database unavailable at startup; the first request will retry", zap.Error(err))
		}
	}

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			go a.Recycle(ctx)
		case err := <-errCh:
			a.logger.Error("http server error", zap.Error(err))
			serveErr = fmt.Errorf("serve http: %w", err)
			break loop
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.apiServer.WaitForNotifications(shutdownCtx); err != nil {
		a.logger.Warn("pending notifications abandoned", zap.Error(err))
	}

	return errors.Join(serveErr, a.Close(context.Background()))
}

// Check creates the pool, runs the startup self-check and lists the tables visible in
// the current schema.
func (a *App) Check(ctx context.Context) ([]string, error) {
	if err := a.pool.Start(ctx); err != nil {
		return nil, err
	}
	return a.pool.ListTables(ctx)
}

// Recycle tears down the current pool; the next request builds a fresh one.
func (a *App) Recycle(ctx context.Context) {
	a.logger.Info("pool recycle requested")
	metrics.ObservePoolRecycle()
	if err := a.pool.Recycle(ctx, 0); err != nil {
		a.logger.Error("pool recycle failed", zap.Error(err))
	}
}

// Close drains the pool and releases notifier resources.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.pool.Shutdown(ctx, 0); err != nil {
		errs = append(errs, fmt.Errorf("pool shutdown: %w", err))
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("notifier close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("notifier close: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
