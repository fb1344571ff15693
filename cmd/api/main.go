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

	httpadapter "github.com/kirillkom/inpatient-cdi-review/internal/adapters/http"
	"github.com/kirillkom/inpatient-cdi-review/internal/bootstrap"
	"github.com/kirillkom/inpatient-cdi-review/internal/config"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/logging"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/metrics"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/tracing"
)

const serviceName = "cdi-api"

func main() {
	cfg := config.Load()
	sessionID := logging.NewSessionID(time.Now())
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel, sessionID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		slog.Error("tracing_setup_failed", "error", err)
		os.Exit(1)
	}

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, serviceName, sessionID, httpMetrics.Registry())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	app.RecordLifecycle(ctx, domain.EventApplicationStart, map[string]any{
		"port":     cfg.APIPort,
		"dispatch": cfg.ReviewDispatch,
	})

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Reviews:     app.Reviews,
		Audit:       app.Reporting,
		Patients:    app.Search,
		Notes:       app.Summaries,
		Diagnostics: app.Diagnostics,
	}, httpMetrics).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
	app.RecordLifecycle(shutdownCtx, domain.EventApplicationShutdown, nil)
	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Warn("app_shutdown_failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing_shutdown_failed", "error", err)
	}
}
