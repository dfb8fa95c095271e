package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"stock-ingest/internal/cli"
	"stock-ingest/internal/config"
	"stock-ingest/internal/pipeline"
	"stock-ingest/internal/schedule"
	"stock-ingest/internal/svc"
	"stock-ingest/pkg/confkit"
)

const shutdownTimeout = 30 * time.Second

var (
	configFile = flag.String("f", "etc/ingest.yaml", "the config file")
	once       = flag.Bool("once", false, "run the pipeline once and exit")
	strict     = flag.Bool("strict", false, "with -once, exit 1 when the run did not succeed")
)

func main() {
	flag.Parse()

	c := config.MustLoad(confkit.ResolveConfigPath(*configFile))
	logx.MustSetup(c.Log)
	defer logx.Close()
	cli.LogConfigSummary(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctxSvc, err := svc.NewServiceContext(ctx, *c)
	if err != nil {
		logx.Errorf("startup failed: %v", err)
		os.Exit(2)
	}
	defer ctxSvc.Close()

	if *once {
		report, err := ctxSvc.Pipeline.Run(ctx)
		code := exitCode(report, err, *strict)
		ctxSvc.Close()
		logx.Close()
		os.Exit(code)
	}

	if err := serve(ctx, ctxSvc); err != nil {
		logx.Errorf("scheduler failed: %v", err)
	}
}

// serve runs the pipeline on the configured schedule until ctx is cancelled.
func serve(ctx context.Context, ctxSvc *svc.ServiceContext) error {
	cfg := ctxSvc.Config.Schedule
	sched := schedule.New(ctx, runJob(ctxSvc.Pipeline))
	if err := sched.Register(cfg.Spec); err != nil {
		return err
	}
	if cfg.RunOnStart {
		sched.RunNow()
	}
	sched.Start()
	logx.Infof("ingest scheduler running, next run at %v", sched.Next())

	<-ctx.Done()
	logx.Info("shutdown signal received, waiting for running jobs")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(stopCtx)
	return nil
}

func runJob(p *pipeline.Pipeline) schedule.Job {
	return func(ctx context.Context) {
		if _, err := p.Run(ctx); err != nil {
			logx.WithContext(ctx).Errorf("ingest run aborted: %v", err)
		}
	}
}

// exitCode keeps one-shot runs silent unless strict mode asks for a signal.
func exitCode(report *pipeline.Report, err error, strict bool) int {
	if !strict {
		return 0
	}
	if err != nil || !report.Succeeded() {
		return 1
	}
	return 0
}
