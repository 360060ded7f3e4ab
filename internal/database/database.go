// Package database owns the process-wide Postgres connection pool. A Manager creates the
// pool lazily (or eagerly via Start), hands out connections as Leases that must be released
// exactly once, and serializes recycle and shutdown transitions so that concurrent requests
// never observe a half-torn-down pool.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the query surface of a pooled connection.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PooledConn is a connection checked out of a Pool.
type PooledConn interface {
	Conn
	Release()
}

// Pool is the driver-level connection pool the Manager wraps.
type Pool interface {
	Acquire(ctx context.Context) (PooledConn, error)
	Close()
}

// Factory creates a new Pool.
type Factory func(ctx context.Context) (Pool, error)

// Config controls pool sizing and timeouts.
type Config struct {
	MaxConns       int32
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	// AcquireTimeout bounds how long a caller waits for a free connection before
	// failing with an exhausted-pool error.
	AcquireTimeout time.Duration
	// ShutdownGrace bounds how long Shutdown and Recycle wait for outstanding leases.
	ShutdownGrace time.Duration
}

// Defaults for Config fields left at zero.
const (
	DefaultMaxConns       int32 = 10
	DefaultIdleTimeout          = 60 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultAcquireTimeout       = 10 * time.Second
	DefaultShutdownGrace        = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// PoolErrorKind classifies why a connection could not be supplied.
type PoolErrorKind int

// Pool error kinds.
const (
	// KindConnection means the database could not be reached.
	KindConnection PoolErrorKind = iota
	// KindExhausted means no connection became free within the acquire timeout.
	KindExhausted
	// KindClosed means the pool is draining or closed.
	KindClosed
)

func (k PoolErrorKind) String() string {
	switch k {
	case KindExhausted:
		return "exhausted"
	case KindClosed:
		return "closed"
	default:
		return "connection"
	}
}

// Sentinel errors matched by PoolError.Is.
var (
	ErrConnection    = errors.New("database connection failed")
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrPoolClosed    = errors.New("connection pool is closed")
)

// PoolError reports a failure to obtain a connection.
type PoolError struct {
	Kind PoolErrorKind
	Err  error
}

func (e *PoolError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the error's kind.
func (e *PoolError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *PoolError) sentinel() error {
	switch e.Kind {
	case KindExhausted:
		return ErrPoolExhausted
	case KindClosed:
		return ErrPoolClosed
	default:
		return ErrConnection
	}
}
