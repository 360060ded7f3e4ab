package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPgxFactory returns a Factory that builds pgxpool pools from dsn.
func NewPgxFactory(dsn string, cfg Config) Factory {
	cfg = cfg.withDefaults()
	return func(ctx context.Context) (Pool, error) {
		if dsn == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		poolCfg.MaxConns = cfg.MaxConns
		poolCfg.MaxConnIdleTime = cfg.IdleTimeout
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &pgxPool{pool: pool}, nil
	}
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p *pgxPool) Acquire(ctx context.Context) (PooledConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p *pgxPool) Close() {
	p.pool.Close()
}
