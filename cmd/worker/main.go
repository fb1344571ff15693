package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/bootstrap"
	"github.com/kirillkom/inpatient-cdi-review/internal/config"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/logging"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/metrics"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/tracing"
)

const serviceName = "cdi-worker"

func main() {
	cfg := config.Load()
	sessionID := logging.NewSessionID(time.Now())
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel, sessionID))

	if cfg.ReviewDispatch != config.DispatchNATS {
		slog.Error("worker_requires_nats_dispatch", "review_dispatch", cfg.ReviewDispatch)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		slog.Error("tracing_setup_failed", "error", err)
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, serviceName, sessionID, workerMetrics.Registry())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	app.RecordLifecycle(ctx, domain.EventApplicationStart, map[string]any{"subject": cfg.NATSSubject})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
	// Subscribe returns after the drain, once no review is running.
	err = app.Queue.Subscribe(ctx, func(handlerCtx context.Context, job domain.ReviewJob) error {
		workerMetrics.ObserveQueueLag(serviceName, time.Since(job.SubmittedAt))
		workerMetrics.StartJob()
		started := time.Now()

		reviewCtx, cancel := context.WithTimeout(handlerCtx, cfg.ReviewTimeout)
		defer cancel()
		err := app.Pipeline.Execute(reviewCtx, job)
		workerMetrics.FinishJob(serviceName, time.Since(started), err)
		return err
	}, app.Pipeline.Abandon)
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker_metrics_shutdown_failed", "error", err)
	}
	app.RecordLifecycle(shutdownCtx, domain.EventApplicationShutdown, nil)
	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Warn("app_shutdown_failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing_shutdown_failed", "error", err)
	}
}
