package svc

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	"stock-ingest/internal/config"
	"stock-ingest/internal/persistence/stockdata"
	"stock-ingest/internal/pipeline"
	"stock-ingest/pkg/marketdata"
)

// ServiceContext owns every long-lived resource of the ingest process.
type ServiceContext struct {
	Config config.Config

	Pool     *stockdata.Pool
	Redis    *redis.Redis
	Fetcher  *marketdata.Client
	Store    *stockdata.Store
	Pipeline *pipeline.Pipeline
}

// NewServiceContext opens the database pool and wires the pipeline. The
// caller must Close the returned context.
func NewServiceContext(ctx context.Context, c config.Config) (*ServiceContext, error) {
	// Statements carry one placeholder per value; logging them is noise.
	sqlx.DisableStmtLog()

	pool, err := stockdata.OpenPool(ctx, stockdata.PoolConfig{
		DSN:             c.Postgres.DataSource(),
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		ConnMaxLifetime: c.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	svc, err := newServiceContext(c, pool)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return svc, nil
}

func newServiceContext(c config.Config, pool *stockdata.Pool) (*ServiceContext, error) {
	svc := &ServiceContext{Config: c, Pool: pool}

	var cache gocache.Cache
	if c.Cache.Enabled() {
		rds, err := redis.NewRedis(c.Cache.RedisConf())
		if err != nil {
			return nil, fmt.Errorf("svc: init redis: %w", err)
		}
		svc.Redis = rds
		cache = gocache.NewNode(rds, syncx.NewSingleFlight(), gocache.NewStat("stockdata"), sql.ErrNoRows)
	}

	opts := []marketdata.Option{
		marketdata.WithTimeout(c.Fetch.Timeout),
		marketdata.WithMaxRetries(c.Fetch.MaxRetries),
		marketdata.WithRetryDelay(c.Fetch.RetryDelayDuration()),
	}
	for key, value := range c.Fetch.Headers {
		opts = append(opts, marketdata.WithHeader(key, value))
	}
	fetcher, err := marketdata.NewClient(c.Fetch.URL, opts...)
	if err != nil {
		return nil, err
	}
	svc.Fetcher = fetcher

	store, err := stockdata.NewStore(stockdata.Config{
		SQLConn:   pool.Conn(),
		Table:     c.Store.Table,
		BatchSize: c.Store.BatchSize,
		Cache:     cache,
		CacheTTL:  c.Cache.TTL,
	})
	if err != nil {
		return nil, err
	}
	svc.Store = store

	p, err := pipeline.New(fetcher, store)
	if err != nil {
		return nil, err
	}
	svc.Pipeline = p
	return svc, nil
}

// Close releases the database pool.
func (s *ServiceContext) Close() {
	if s == nil {
		return
	}
	if err := s.Pool.Close(); err != nil {
		logx.Errorf("svc: close postgres pool: %v", err)
	}
}
