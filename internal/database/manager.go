package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Manager.
type State int

// Manager states. Transitions: Uninitialized -> Creating -> Ready (create),
// Creating -> Uninitialized (create failed), Ready -> Uninitialized (recycle),
// any -> Draining -> Closed (shutdown).
const (
	StateUninitialized State = iota
	StateCreating
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const listTablesQuery = `SELECT table_name FROM information_schema.tables ` +
	`WHERE table_schema = current_schema() ORDER BY table_name`

// generation is one incarnation of the underlying pool together with its outstanding leases.
type generation struct {
	pool   Pool
	leases int
	idle   chan struct{}
}

// creation is an in-flight pool build shared by every caller waiting on it. err is set
// before done is closed.
type creation struct {
	done chan struct{}
	err  error
}

// AcquireObserver is notified after every acquire attempt.
type AcquireObserver func(wait time.Duration, err error)

// Option customizes a Manager.
type Option func(*Manager)

// WithAcquireObserver registers a hook invoked after every acquire attempt.
func WithAcquireObserver(fn AcquireObserver) Option {
	return func(m *Manager) {
		m.observe = fn
	}
}

// Manager owns the lifecycle of the connection pool.
type Manager struct {
	factory Factory
	cfg     Config
	logger  *zap.Logger
	observe AcquireObserver

	mu       sync.Mutex
	state    State
	current  *generation
	creating *creation
}

// New returns a Manager in the Uninitialized state. No connection is made until Start or
// the first Acquire.
func New(factory Factory, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		factory: factory,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		observe: func(time.Duration, error) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Leases reports the number of connections currently checked out of the live pool.
func (m *Manager) Leases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.leases
}

// Start creates the pool eagerly and waits for it and its connectivity self-check. A
// failure leaves the manager Uninitialized so that the next Acquire retries creation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateDraining, StateClosed:
		m.mu.Unlock()
		return &PoolError{Kind: KindClosed}
	}
	c := m.createLocked(ctx)
	m.mu.Unlock()
	return awaitCreation(ctx, c)
}

// Acquire checks out a connection. The caller owns the returned Lease and must release it
// on every exit path.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	gen, err := m.reserve(ctx)
	if err != nil {
		m.observe(0, err)
		return nil, err
	}

	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()
	conn, err := gen.pool.Acquire(acquireCtx)
	if err != nil {
		m.releaseLease(gen)
		perr := classifyAcquireError(ctx, acquireCtx, err)
		m.observe(time.Since(start), perr)
		return nil, perr
	}
	m.observe(time.Since(start), nil)
	return &Lease{
		conn: conn,
		done: func() {
			conn.Release()
			m.releaseLease(gen)
		},
	}, nil
}

// WithConn acquires a connection, runs fn with it, and releases it regardless of outcome.
func (m *Manager) WithConn(ctx context.Context, fn func(Conn) error) error {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Conn())
}

// ListTables returns the tables visible in the current schema.
func (m *Manager) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := m.WithConn(ctx, func(conn Conn) error {
		var err error
		tables, err = listTables(ctx, conn)
		return err
	})
	return tables, err
}

// Recycle detaches the live pool so that the next Acquire creates a fresh one, then waits
// up to grace for the old pool's leases before closing it. A non-positive grace uses the
// configured shutdown grace.
func (m *Manager) Recycle(ctx context.Context, grace time.Duration) error {
	m.mu.Lock()
	if m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("pool recycle skipped", zap.Stringer("state", state))
		return nil
	}
	outstanding := m.current.leases
	gen, idle := m.detachLocked()
	m.state = StateUninitialized
	m.mu.Unlock()

	m.logger.Info("database pool recycling", zap.Int("outstanding_leases", outstanding))
	m.drain(ctx, gen, idle, m.grace(grace))
	m.logger.Info("database pool recycled; next request recreates it")
	return nil
}

// Shutdown rejects new acquisitions, waits up to grace for outstanding leases, and closes
// the pool. A pool still being created is closed as soon as its creation finishes. It is
// safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context, grace time.Duration) error {
	m.mu.Lock()
	if m.state == StateDraining || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDraining
	pending := m.creating
	gen, idle := m.detachLocked()
	m.mu.Unlock()

	if pending != nil {
		select {
		case <-pending.done:
		case <-ctx.Done():
		}
	}

	if gen != nil {
		grace = m.grace(grace)
		m.logger.Info("database pool draining", zap.Duration("grace", grace))
		m.drain(ctx, gen, idle, grace)
	}

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
	m.logger.Info("database pool closed")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pool shutdown interrupted: %w", err)
	}
	return nil
}

// reserve counts a lease against the live generation, creating the pool first when
// needed. Waiting for a creation is bounded by the acquire timeout.
func (m *Manager) reserve(ctx context.Context) (*generation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()
	for {
		m.mu.Lock()
		switch m.state {
		case StateDraining, StateClosed:
			m.mu.Unlock()
			return nil, &PoolError{Kind: KindClosed}
		case StateReady:
			m.current.leases++
			gen := m.current
			m.mu.Unlock()
			return gen, nil
		}
		c := m.createLocked(ctx)
		m.mu.Unlock()
		if err := awaitCreation(waitCtx, c); err != nil {
			return nil, err
		}
	}
}

func awaitCreation(ctx context.Context, c *creation) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return &PoolError{Kind: KindConnection, Err: fmt.Errorf("wait for pool creation: %w", ctx.Err())}
	}
}

func (m *Manager) releaseLease(gen *generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen.leases--
	if gen.leases == 0 && gen.idle != nil {
		close(gen.idle)
		gen.idle = nil
	}
}

// createLocked returns the in-flight creation, starting one if the manager is
// Uninitialized. m.mu must be held. The build itself runs without the lock.
func (m *Manager) createLocked(ctx context.Context) *creation {
	if m.creating != nil {
		return m.creating
	}
	c := &creation{done: make(chan struct{})}
	m.creating = c
	m.state = StateCreating
	go m.create(context.WithoutCancel(ctx), c)
	return c
}

// create builds a pool and runs the self-check, bounded by the connect timeout, then
// publishes the result.
func (m *Manager) create(ctx context.Context, c *creation) {
	defer close(c.done)
	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	pool, err := m.factory(connectCtx)
	if err != nil {
		m.logger.Error("database pool creation failed", zap.Error(err))
	} else {
		m.logger.Info("database pool created",
			zap.Int32("max_conns", m.cfg.MaxConns),
			zap.Duration("idle_timeout", m.cfg.IdleTimeout),
			zap.Duration("connect_timeout", m.cfg.ConnectTimeout),
		)
		m.selfCheck(connectCtx, pool)
	}

	m.mu.Lock()
	m.creating = nil
	var discard Pool
	switch {
	case err != nil:
		c.err = &PoolError{Kind: KindConnection, Err: err}
		if m.state == StateCreating {
			m.state = StateUninitialized
		}
	case m.state != StateCreating:
		// shut down while connecting
		c.err = &PoolError{Kind: KindClosed}
		discard = pool
	default:
		m.current = &generation{pool: pool}
		m.state = StateReady
	}
	m.mu.Unlock()

	if discard != nil {
		discard.Close()
		m.logger.Info("database pool closed before use")
	}
}

// selfCheck confirms connectivity by listing tables. Failures are logged only; requests
// surface pool errors individually.
func (m *Manager) selfCheck(ctx context.Context, pool Pool) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		m.logger.Error("database self-check: acquire failed", zap.Error(err))
		return
	}
	defer conn.Release()
	tables, err := listTables(ctx, conn)
	if err != nil {
		m.logger.Error("database self-check: list tables failed", zap.Error(err))
		return
	}
	m.logger.Info("database self-check passed", zap.Strings("tables", tables))
}

// detachLocked removes the live generation. The returned channel is closed once the
// generation's last lease is released; it is nil when nothing is outstanding.
func (m *Manager) detachLocked() (*generation, chan struct{}) {
	gen := m.current
	m.current = nil
	if gen == nil || gen.leases == 0 {
		return gen, nil
	}
	gen.idle = make(chan struct{})
	return gen, gen.idle
}

func (m *Manager) grace(d time.Duration) time.Duration {
	if d <= 0 {
		return m.cfg.ShutdownGrace
	}
	return d
}

func (m *Manager) drain(ctx context.Context, gen *generation, idle chan struct{}, grace time.Duration) {
	if gen == nil {
		return
	}
	if idle != nil {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-idle:
		case <-timer.C:
			m.logger.Warn("grace period elapsed with leases outstanding; closing pool anyway")
		case <-ctx.Done():
			m.logger.Warn("drain interrupted; closing pool", zap.Error(ctx.Err()))
		}
	}
	gen.pool.Close()
}

func listTables(ctx context.Context, conn Conn) ([]string, error) {
	rows, err := conn.Query(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func classifyAcquireError(parent, acquireCtx context.Context, err error) *PoolError {
	var connectErr *pgconn.ConnectError
	switch {
	case errors.As(err, &connectErr):
		return &PoolError{Kind: KindConnection, Err: err}
	case parent.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded):
		return &PoolError{Kind: KindExhausted, Err: err}
	default:
		return &PoolError{Kind: KindConnection, Err: err}
	}
}

// Lease is a checked-out connection. Release is idempotent.
type Lease struct {
	conn PooledConn
	once sync.Once
	done func()
}

// Conn returns the leased connection.
func (l *Lease) Conn() Conn {
	return l.conn
}

// Release returns the connection to the pool. Only the first call has an effect.
func (l *Lease) Release() {
	l.once.Do(l.done)
}
