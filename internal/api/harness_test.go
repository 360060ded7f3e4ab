package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/database"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/publisher/memory"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/storage/postgres"
)

type mockPooledConn struct {
	pgxmock.PgxConnIface
	pool *mockPool
}

func (c *mockPooledConn) Release() {
	c.pool.released.Add(1)
}

type mockPool struct {
	conn     pgxmock.PgxConnIface
	blocked  atomic.Bool
	acquired atomic.Int32
	released atomic.Int32
}

func (p *mockPool) Acquire(ctx context.Context) (database.PooledConn, error) {
	if p.blocked.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.acquired.Add(1)
	return &mockPooledConn{PgxConnIface: p.conn, pool: p}, nil
}

func (p *mockPool) Close() {}

type fixedIDs struct {
	ids []string
	n   atomic.Int32
}

func (f *fixedIDs) NewID() (string, error) {
	i := int(f.n.Add(1)) - 1
	if i >= len(f.ids) {
		return "", errors.New("out of ids")
	}
	return f.ids[i], nil
}

type harness struct {
	mock   pgxmock.PgxConnIface
	pool   *mockPool
	mgr    *database.Manager
	pub    *memory.Publisher
	logs   *observer.ObservedLogs
	server *Server
}

func newHarness(t *testing.T, configure func(*Options)) *harness {
	t.Helper()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mock.Close(context.Background()) })

	pool := &mockPool{conn: mock}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	mgr := database.New(func(context.Context) (database.Pool, error) { return pool, nil },
		database.Config{AcquireTimeout: 30 * time.Millisecond, ConnectTimeout: time.Second},
		logger,
	)
	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("contact_form"))
	require.NoError(t, mgr.Start(context.Background()))

	validator, err := form.NewValidator(form.DefaultPhoneLocale)
	require.NoError(t, err)
	store, err := postgres.NewSubmissionStore("")
	require.NoError(t, err)

	opts := Options{
		Production:    true,
		NotifyTopic:   "contact-submissions",
		NotifyBackend: "memory",
	}
	if configure != nil {
		configure(&opts)
	}
	pub := memory.New()
	server := NewServer(Dependencies{
		Pool:      mgr,
		Store:     store,
		Validator: validator,
		IDs:       &fixedIDs{ids: []string{"req-1", "req-2", "req-3"}},
		Publisher: pub,
		Logger:    logger,
		Now:       func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) },
	}, opts)

	return &harness{mock: mock, pool: pool, mgr: mgr, pub: pub, logs: logs, server: server}
}
