// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-docparser/internal/app"
	"github.com/tendant/simple-docparser/internal/bus"
	"github.com/tendant/simple-docparser/internal/config"
	"github.com/tendant/simple-docparser/internal/logging"
	"github.com/tendant/simple-docparser/internal/pipeline"
	"github.com/tendant/simple-docparser/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	if l, err := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level); err == nil {
		logger = l
		slog.SetDefault(logger)
	}
	logger.Info("worker starting",
		"nats_url", cfg.NATS.URL,
		"job_subject", cfg.NATS.JobSubject,
		"queue", cfg.NATS.WorkerQueue,
		"result_subject", cfg.NATS.ResultSubject,
		"concurrency", cfg.Server.MaxConcurrentJobs,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := bus.Connect(cfg.NATS.URL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATS.URL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATS.URL)

	events := bus.NewEventPublisher(nc, cfg.NATS.ResultSubject, logger)
	a, err := app.New(ctx, cfg, logger, events)
	if err != nil {
		fatal(logger, "build pipeline", err)
	}

	metricsDone := make(chan struct{})
	if cfg.Server.MetricsAddr != "off" {
		go func() {
			defer close(metricsDone)
			if err := serveMetrics(ctx, cfg.Server.MetricsAddr, a.Metrics.Handler()); err != nil {
				logger.Error("metrics listener stopped", "addr", cfg.Server.MetricsAddr, "err", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Server.MetricsAddr)
	} else {
		close(metricsDone)
	}

	worker, err := nc.QueueWorker(ctx, cfg.NATS.JobSubject, cfg.NATS.WorkerQueue, bus.WorkerOptions{
		Concurrency: cfg.Server.MaxConcurrentJobs,
		Timeout:     cfg.Pipeline.JobTimeout,
		Logger:      logger,
	}, func(jobCtx context.Context, data []byte) any {
		defer a.Metrics.Track()()
		return handleJob(jobCtx, data, a.Pipeline, logger)
	})
	if err != nil {
		fatal(logger, "subscribe worker", err, "job_subject", cfg.NATS.JobSubject, "queue", cfg.NATS.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.NATS.JobSubject, "queue", cfg.NATS.WorkerQueue)

	<-ctx.Done()
	logger.Info("shutting down, waiting for running jobs", "grace", cfg.Server.ShutdownGrace)

	// jobs finish before the bus and the store close
	if err := worker.Stop(cfg.Server.ShutdownGrace); err != nil {
		logger.Warn("unsubscribe failed", "err", err)
	}
	nc.Close()
	a.Close()
	<-metricsDone
	logger.Info("worker stopped")
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, metrics http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func metricsRouter(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type jobRunner interface {
	Run(ctx context.Context, key string) (*schema.JobResult, error)
}

// handleJob decodes one job request and runs it. The reply carries either
// the result or the failed stage and failure type.
func handleJob(ctx context.Context, data []byte, runner jobRunner, logger *slog.Logger) schema.JobReply {
	var req schema.JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Warn("invalid job message", "err", err)
		return schema.JobReply{Error: "invalid job message: " + err.Error(), FailureType: schema.FailureTypeValidation}
	}
	key := strings.TrimSpace(req.Input.ObjectPath)
	if key == "" {
		logger.Warn("job message without object path")
		return schema.JobReply{Error: "input.object_path is required", FailureType: schema.FailureTypeValidation}
	}

	jobLogger := logger.With("object_path", key)
	jobLogger.Info("received job")

	res, err := runner.Run(ctx, key)
	if err != nil {
		jobLogger.Error("job failed", "stage", pipeline.StageOf(err), "failure_type", pipeline.Classify(err), "err", err)
	} else {
		jobLogger.Info("completed job", "job_id", res.JobID, "output_path", res.OutputPath, "documents", res.ProcessedPDFs)
	}
	return pipeline.Reply(res, err)
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
