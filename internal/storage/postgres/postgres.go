// Package postgres provides the PostgreSQL-backed channel directory using
// pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/hexbattle/internal/config"
)

// applicationName tags every session in pg_stat_activity.
const applicationName = "hexbattle"

// Pool is the connection pool shared by the directory repositories.
type Pool struct {
	db *pgxpool.Pool
}

// NewPool opens a pool and waits until the database answers. The first ping
// is retried up to cfg.ConnectAttempts times, doubling cfg.ConnectBackoff
// between attempts.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a Pool that answered a ping, or a non-nil error
// wrapping the last ping failure.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := waitReady(ctx, db, max(cfg.ConnectAttempts, 1), cfg.ConnectBackoff); err != nil {
		db.Close()
		return nil, err
	}
	return &Pool{db: db}, nil
}

func waitReady(ctx context.Context, db *pgxpool.Pool, attempts int, backoff time.Duration) error {
	var errs []error
	for i := 0; i < attempts; i++ {
		err := db.Ping(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("waiting for database: %w", ctx.Err())
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", attempts, errors.Join(errs...))
}

// Health pings the database with a deadline.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Usage reports how many connections are checked out and how many are idle.
func (p *Pool) Usage() (acquired, idle int32) {
	st := p.db.Stat()
	return st.AcquiredConns(), st.IdleConns()
}

// Close releases every connection. The pool is unusable afterwards.
func (p *Pool) Close() { p.db.Close() }

// DB returns the pgx pool repositories query through.
func (p *Pool) DB() *pgxpool.Pool { return p.db }
