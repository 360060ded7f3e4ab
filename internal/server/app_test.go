package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/config"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/database"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/publisher/memory"
)

type stubConn struct {
	pgxmock.PgxConnIface
	released *atomic.Int32
}

func (c *stubConn) Release() { c.released.Add(1) }

type stubPool struct {
	conn     pgxmock.PgxConnIface
	released atomic.Int32
	closed   atomic.Bool
}

func (p *stubPool) Acquire(context.Context) (database.PooledConn, error) {
	return &stubConn{PgxConnIface: p.conn, released: &p.released}, nil
}

func (p *stubPool) Close() { p.closed.Store(true) }

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvProduction,
		Server: config.ServerConfig{
			Port:                   5000,
			RequestTimeoutSeconds:  5,
			ShutdownTimeoutSeconds: 2,
			MaxBodyBytes:           64 << 10,
		},
		Database: config.DatabaseConfig{
			DSN:                   "postgres://contact@localhost:5432/dharani",
			Table:                 "contact_form",
			MaxConns:              2,
			IdleTimeoutSeconds:    60,
			ConnectTimeoutSeconds: 1,
			AcquireTimeoutSeconds: 1,
			ShutdownGraceSeconds:  1,
			ConnectOnStart:        true,
		},
		Validation: config.ValidationConfig{PhoneLocale: "en-IN"},
		Notify: config.NotifyConfig{
			Backend:        config.NotifyMemory,
			Topic:          "contact-submissions",
			TimeoutSeconds: 1,
		},
	}
}

func newMockPool(t *testing.T) (*stubPool, pgxmock.PgxConnIface) {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mock.Close(context.Background()) })
	return &stubPool{conn: mock}, mock
}

func expectSelfCheck(mock pgxmock.PgxConnIface) {
	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("contact_form"))
}

func TestServeHandlesSubmissionAndDrainsOnCancel(t *testing.T) {
	pool, mock := newMockPool(t)
	expectSelfCheck(mock)
	mock.ExpectQuery("INSERT INTO contact_form").
		WithArgs("Raj", pgxmock.AnyArg(), "9876543210", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	core, logs := observer.New(zapcore.DebugLevel)
	pub := memory.New()
	app, err := Build(context.Background(), testConfig(),
		WithLogger(zap.New(core)),
		WithPoolFactory(func(context.Context) (database.Pool, error) { return pool, nil }),
		WithNotifier(pub),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK && app.Pool().State() == database.StateReady
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(base+"/submit-form", "application/x-www-form-urlencoded",
		strings.NewReader("name=Raj&phone=98765+43210"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, database.StateClosed, app.Pool().State())
	assert.True(t, pool.closed.Load())
	assert.Len(t, pub.Messages(), 1)
	_, err = pub.Publish(context.Background(), "contact-submissions", "late")
	require.Error(t, err, "notifier should be closed")
	assert.Equal(t, 1, logs.FilterMessage("database self-check passed").Len())
	assert.Equal(t, 1, logs.FilterMessage("shutdown complete").Len())
}

func TestServeStartFailureIsNonFatal(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app, err := Build(context.Background(), testConfig(),
		WithLogger(zap.New(core)),
		WithPoolFactory(func(context.Context) (database.Pool, error) {
			return nil, errors.New("connection refused")
		}),
		WithNotifier(memory.New()),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, logs.FilterMessage("database unavailable at startup; the first request will retry").Len())
}

func TestRecycleRebuildsPoolOnNextAcquire(t *testing.T) {
	var created atomic.Int32
	factory := func(context.Context) (database.Pool, error) {
		created.Add(1)
		pool, mock := newMockPool(t)
		expectSelfCheck(mock)
		return pool, nil
	}
	app, err := Build(context.Background(), testConfig(),
		WithLogger(zap.NewNop()),
		WithPoolFactory(factory),
		WithNotifier(memory.New()),
	)
	require.NoError(t, err)

	require.NoError(t, app.Pool().Start(context.Background()))
	app.Recycle(context.Background())
	assert.Equal(t, database.StateUninitialized, app.Pool().State())

	lease, err := app.Pool().Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	assert.EqualValues(t, 2, created.Load())

	require.NoError(t, app.Close(context.Background()))
}

func TestSetupNotifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.NotifyConfig)
		wantNil bool
		wantErr string
	}{
		{name: "none", mutate: func(n *config.NotifyConfig) { n.Backend = config.NotifyNone }, wantNil: true},
		{name: "empty", mutate: func(n *config.NotifyConfig) { n.Backend = "" }, wantNil: true},
		{name: "memory", mutate: func(n *config.NotifyConfig) { n.Backend = config.NotifyMemory }},
		{
			name: "kafka",
			mutate: func(n *config.NotifyConfig) {
				n.Backend = config.NotifyKafka
				n.Kafka.Brokers = []string{"localhost:9092"}
			},
		},
		{
			name: "email",
			mutate: func(n *config.NotifyConfig) {
				n.Backend = config.NotifyEmail
				n.Email = config.EmailConfig{Host: "smtp.example.com", Port: 587, From: "site@example.com", To: []string{"owner@example.com"}}
			},
		},
		{
			name: "email without recipients",
			mutate: func(n *config.NotifyConfig) {
				n.Backend = config.NotifyEmail
				n.Email = config.EmailConfig{Host: "smtp.example.com", Port: 587, From: "site@example.com"}
			},
			wantErr: "email notifier init failed",
		},
		{name: "unknown", mutate: func(n *config.NotifyConfig) { n.Backend = "carrier-pigeon" }, wantErr: "unknown notify backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg.Notify)

			n, err := setupNotifier(context.Background(), cfg, zap.NewNop())
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.NoError(t, n.Close())
		})
	}
}

func TestBuildRejectsBadTable(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Table = "contact_form; DROP TABLE users"

	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithNotifier(memory.New()))
	require.ErrorContains(t, err, "submission store init failed")
}

func TestCheckListsTables(t *testing.T) {
	pool, mock := newMockPool(t)
	expectSelfCheck(mock)
	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("contact_form").AddRow("newsletter"))

	app, err := Build(context.Background(), testConfig(),
		WithLogger(zap.NewNop()),
		WithPoolFactory(func(context.Context) (database.Pool, error) { return pool, nil }),
		WithNotifier(memory.New()),
	)
	require.NoError(t, err)

	tables, err := app.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"contact_form", "newsletter"}, tables)
	assert.Equal(t, 2, int(pool.released.Load()))
	require.NoError(t, app.Close(context.Background()))
}

func TestCheckReportsConnectFailure(t *testing.T) {
	app, err := Build(context.Background(), testConfig(),
		WithLogger(zap.NewNop()),
		WithPoolFactory(func(context.Context) (database.Pool, error) {
			return nil, errors.New("no route to host")
		}),
		WithNotifier(memory.New()),
	)
	require.NoError(t, err)

	_, err = app.Check(context.Background())
	require.ErrorIs(t, err, database.ErrConnection)
	require.NoError(t, app.Close(context.Background()))
}
