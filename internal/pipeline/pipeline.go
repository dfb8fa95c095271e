// Package pipeline runs one fetch-validate-store cycle and reports on it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"stock-ingest/internal/persistence/stockdata"
	"stock-ingest/pkg/marketdata"
)

// Fetcher downloads and validates upstream records.
type Fetcher interface {
	Fetch(ctx context.Context) (*marketdata.FetchResult, error)
}

// Saver persists validated records.
type Saver interface {
	Save(ctx context.Context, records []marketdata.StockRecord) stockdata.SaveResult
}

// Report summarises one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	FetchOK   bool
	Attempts  int
	Received  int
	Valid     int
	Dropped   int
	Malformed int

	Batches   int
	Stored    int
	Committed bool
	StoreErr  error
}

// Succeeded reports whether a payload was accepted and, when it held valid
// records, whether they were committed.
func (r *Report) Succeeded() bool {
	if r == nil || !r.FetchOK {
		return false
	}
	return r.Valid == 0 || r.Committed
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRunIDs overrides the run identifier generator.
func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) {
		if next != nil {
			p.nextID = next
		}
	}
}

// Pipeline wires a Fetcher to a Saver.
type Pipeline struct {
	fetcher Fetcher
	saver   Saver
	now     func() time.Time
	nextID  func() string
}

// New builds a Pipeline.
func New(fetcher Fetcher, saver Saver, opts ...Option) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if saver == nil {
		return nil, errors.New("pipeline: saver is required")
	}
	p := &Pipeline{
		fetcher: fetcher,
		saver:   saver,
		now:     time.Now,
		nextID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run fetches once and stores whatever survived validation. An exhausted
// fetch stores nothing and still returns a report; only failures that the
// fetcher could not absorb are returned as errors.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: p.nextID(), StartedAt: p.now().UTC()}
	ctx = logx.ContextWithFields(ctx, logx.Field("run_id", report.RunID))
	logger := logx.WithContext(ctx)
	logger.Infof("pipeline: run started")

	fetched, err := p.fetcher.Fetch(ctx)
	if err != nil {
		report.FinishedAt = p.now().UTC()
		logger.Errorf("pipeline: fetch failed: %v", err)
		return report, fmt.Errorf("pipeline: fetch: %w", err)
	}
	var records []marketdata.StockRecord
	if fetched != nil {
		report.FetchOK = fetched.OK
		report.Attempts = fetched.Attempts
		report.Received = fetched.Received
		report.Dropped = fetched.Dropped
		report.Malformed = fetched.Malformed
		report.Valid = len(fetched.Records)
		records = fetched.Records
	}

	saved := p.saver.Save(ctx, records)
	report.Batches = saved.Batches
	report.Stored = saved.Written
	report.Committed = saved.Committed
	report.StoreErr = saved.Err
	report.FinishedAt = p.now().UTC()

	logger.Infow("pipeline: run finished",
		logx.Field("succeeded", report.Succeeded()),
		logx.Field("attempts", report.Attempts),
		logx.Field("received", report.Received),
		logx.Field("valid", report.Valid),
		logx.Field("dropped", report.Dropped+report.Malformed),
		logx.Field("stored", report.Stored),
		logx.Field("batches", report.Batches),
		logx.Field("duration", report.Duration().String()),
	)
	return report, nil
}
