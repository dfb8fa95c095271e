// Package stockdata persists validated stock records into PostgreSQL.
package stockdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"stock-ingest/pkg/marketdata"
)

const (
	DefaultTable     = "stock_data"
	DefaultBatchSize = 500

	columnsPerRow = 3
	// maxBindParams is the PostgreSQL wire protocol limit on bound parameters per statement.
	maxBindParams = 65535
	// MaxBatchSize is the largest batch one upsert statement can carry.
	MaxBatchSize = maxBindParams / columnsPerRow
)

// Store writes stock records with batched upserts keyed on (symbol, date).
type Store struct {
	sqlConn   sqlx.SqlConn
	table     string
	batchSize int
	cache     gocache.Cache
	cacheTTL  time.Duration
}

// Config enumerates the dependencies required by a Store.
type Config struct {
	SQLConn   sqlx.SqlConn
	Table     string
	BatchSize int
	Cache     gocache.Cache
	CacheTTL  time.Duration
}

// SaveResult describes what one Save call did. Err holds the database error
// that caused a rollback; it is reported, never returned.
type SaveResult struct {
	Batches   int
	Written   int
	Committed bool
	Err       error
}

// NewStore validates dependencies and builds a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.SQLConn == nil {
		return nil, errors.New("stockdata: missing SQLConn dependency")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = DefaultTable
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		logx.Infow("stockdata: batch size exceeds the bind parameter limit, clamping",
			logx.Field("severity", "warning"),
			logx.Field("requested", batchSize),
			logx.Field("max", MaxBatchSize))
		batchSize = MaxBatchSize
	}
	return &Store{
		sqlConn:   cfg.SQLConn,
		table:     quoteTable(table),
		batchSize: batchSize,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
	}, nil
}

// Save upserts records in contiguous batches inside one transaction.
// An empty input returns immediately without touching the pool. Any database
// error rolls back every batch of the call and is logged and reported in the result.
func (s *Store) Save(ctx context.Context, records []marketdata.StockRecord) SaveResult {
	logger := logx.WithContext(ctx)
	if len(records) == 0 {
		logger.Infow("stockdata: no stock data to upsert", logx.Field("severity", "warning"))
		return SaveResult{}
	}

	batches := Chunk(records, s.batchSize)
	var result SaveResult
	err := s.sqlConn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for i, batch := range batches {
			query, args := s.upsertStatement(collapseDuplicates(batch))
			if _, err := session.ExecCtx(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert batch %d/%d: %w", i+1, len(batches), err)
			}
			result.Batches++
			result.Written += len(batch)
			logger.Infof("stockdata: upserted %d records (batch %d/%d)", len(batch), i+1, len(batches))
		}
		return nil
	})
	if err != nil {
		logger.Errorf("stockdata: database error, transaction rolled back: %v", err)
		return SaveResult{Batches: result.Batches, Err: err}
	}

	result.Committed = true
	s.cacheLatest(ctx, records)
	return result
}

// upsertStatement renders one multi-row INSERT ... ON CONFLICT for rows.
func (s *Store) upsertStatement(rows []marketdata.StockRecord) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*columnsPerRow)
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (symbol, price, date) VALUES ")
	for i, rec := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * columnsPerRow
		fmt.Fprintf(&b, "($%d, $%d, $%d)", n+1, n+2, n+3)
		args = append(args, rec.Symbol, rec.Price, rec.Date)
	}
	b.WriteString(" ON CONFLICT (symbol, date) DO UPDATE SET price = EXCLUDED.price")
	return b.String(), args
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(strings.TrimSpace(part))
	}
	return strings.Join(parts, ".")
}
