// Package schedule triggers pipeline runs on a cron specification.
package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/zeromicro/go-zero/core/logx"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler runs a single Job on a cron specification.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	job  Job

	mu      sync.Mutex
	entries []cron.EntryID
}

// New creates a Scheduler whose runs receive ctx. Cancelling ctx aborts
// in-flight runs; it does not stop the cron loop, use Stop for that.
func New(ctx context.Context, job Job) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		ctx: ctx,
		job: job,
	}
}

// Register adds the job under spec, e.g. "@hourly" or "0 * * * *".
func (s *Scheduler) Register(spec string) error {
	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return fmt.Errorf("schedule: register %q: %w", spec, err)
	}
	s.mu.Lock()
	s.entries = append(s.entries, id)
	s.mu.Unlock()
	logx.Infof("schedule: registered %q", spec)
	return nil
}

// Start starts the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	logx.Info("schedule: scheduler started")
}

// Stop halts the cron loop and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		logx.Info("schedule: scheduler stopped")
	case <-ctx.Done():
		logx.Errorf("schedule: stop timed out waiting for running jobs: %v", ctx.Err())
	}
}

// RunNow executes the job synchronously on the caller's goroutine.
func (s *Scheduler) RunNow() {
	s.run()
}

// Next reports when each registered entry fires next.
func (s *Scheduler) Next() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, id := range s.entries {
		out = append(out, s.cron.Entry(id).Next.String())
	}
	return out
}

func (s *Scheduler) run() {
	if err := s.ctx.Err(); err != nil {
		logx.Infof("schedule: skipping run, context done: %v", err)
		return
	}
	s.job(s.ctx)
}

// cronLogger routes cron's own messages to logx.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logx.Infow("cron: "+msg, fields(keysAndValues)...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logx.Errorw("cron: "+msg, append(fields(keysAndValues), logx.Field("error", err.Error()))...)
}

func fields(kv []interface{}) []logx.LogField {
	out := make([]logx.LogField, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Field(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
