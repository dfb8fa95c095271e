package stockdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const driverName = "pgx"

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Pool owns the process-wide database handle. It is created once at startup
// and closed on shutdown; database/sql hands each connection to one caller at
// a time and returns it on Commit, Rollback or Close.
type Pool struct {
	db   *sql.DB
	conn sqlx.SqlConn
}

// OpenPool opens and verifies a pgx-backed pool.
func OpenPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("stockdata: empty postgres dsn")
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("stockdata: open postgres: %w", err)
	}
	pool, err := NewPoolFromDB(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return pool, nil
}

// NewPoolFromDB applies the pool bounds to an already opened handle and verifies it.
func NewPoolFromDB(ctx context.Context, db *sql.DB, cfg PoolConfig) (*Pool, error) {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 1
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("stockdata: ping postgres: %w", err)
	}
	return &Pool{db: db, conn: sqlx.NewSqlConnFromDB(db)}, nil
}

// Conn returns the go-zero session over the pool.
func (p *Pool) Conn() sqlx.SqlConn {
	return p.conn
}

// Stats exposes database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close releases every pooled connection.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
