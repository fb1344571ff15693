package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/inpatient-cdi-review/internal/config"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/usecase"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/auditlog"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/clinicaldb"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/clinical"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/httpjson"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/openai"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/progress/memory"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/progress/redisstore"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/queue/nats"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/repository/cdw"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/resilience"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/inpatient-cdi-review/internal/observability/metrics"
)

const (
	probeTimeout = 5 * time.Second
	drainGrace   = 30 * time.Second
)

type App struct {
	Config    config.Config
	Service   string
	SessionID string

	Audit       *auditlog.Store
	Queue       *nats.Queue
	Metrics     *metrics.ReviewMetrics
	Pipeline    *usecase.ReviewPipeline
	Reviews     *usecase.ReviewService
	Reporting   *usecase.ReportingService
	Search      *usecase.PatientSearchService
	Summaries   *usecase.NoteSummaryService
	Diagnostics *usecase.DiagnosticsService

	inProcess *usecase.InProcessDispatcher
	closers   []func() error
}

// New wires one process. Review metrics are registered on registerer so each
// binary exposes them next to its own transport metrics.
func New(ctx context.Context, cfg config.Config, service, sessionID string, registerer prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	catalog, err := config.LoadClinicalCatalog(cfg.ClinicalCatalogPath)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Service: service, SessionID: sessionID}
	app.Metrics = metrics.NewReviewMetrics(service, registerer)

	files, err := localfs.New(cfg.AuditLogDir)
	if err != nil {
		return nil, fmt.Errorf("init audit log directory: %w", err)
	}
	app.Audit = auditlog.New(files)

	connectExec := resilience.NewExecutor(resilience.ConnectConfig(cfg.ClinicalDBConnectAttempts, cfg.ClinicalDBConnectBackoff))
	connectExec.OnStateChange(app.Metrics.ObserveBreakerState)
	db := clinicaldb.New(clinicaldb.Options{
		Driver:       cfg.ClinicalDBDriver,
		DSN:          cfg.ClinicalDBDSN,
		QueryTimeout: cfg.ClinicalDBQueryTimeout,
		MaxOpenConns: cfg.ClinicalDBMaxOpenConns,
		Executor:     connectExec,
	})
	app.closers = append(app.closers, db.Close)
	executor := clinicaldb.NewAuditedExecutor(db, app.Audit, app.Metrics, sessionID)
	repo := cdw.NewRepository(executor, clinicaldb.Dialect(cfg.ClinicalDBDriver), catalog)

	progress, progressProbe, err := app.newProgressStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	callExec := resilience.NewExecutor(resilience.CallConfig(cfg.LLMRetryMaxAttempts))
	callExec.OnStateChange(app.Metrics.ObserveBreakerState)
	analyzer := clinical.NewAnalyzer(newCompleter(cfg), clinical.Options{
		MaxNoteChars:  cfg.LLMMaxNoteChars,
		ContextVitals: cfg.LLMContextVitals,
		ContextLabs:   cfg.LLMContextLabs,
		Executor:      callExec,
	})

	app.Pipeline = usecase.NewReviewPipeline(usecase.ReviewPipelineDeps{
		Resolver:   usecase.NewAdmissionResolver(repo, catalog.SpecialtyCatalog()),
		Clinical:   usecase.NewClinicalExtractor(repo, repo),
		Diagnoses:  usecase.NewDiagnosisExtractor(repo, cfg.ReviewStrictCodedDiagnoses),
		Reconciler: usecase.NewReconciler(analyzer, app.Metrics, cfg.ReviewNoteConcurrency),
		Progress:   progress,
		Audit:      app.Audit,
		Metrics:    app.Metrics,
		SessionID:  sessionID,
	})

	probes := []ports.HealthProbe{db, progressProbe, httpjson.NewProbe("llm_service", cfg.LLMEndpoint(), probeTimeout)}
	var dispatcher ports.ReviewDispatcher
	switch cfg.ReviewDispatch {
	case config.DispatchNATS:
		queueExec := resilience.NewExecutor(resilience.CallConfig(3))
		queueExec.OnStateChange(app.Metrics.ObserveBreakerState)
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: queueExec,
			DrainTimeout:       cfg.ReviewTimeout + drainGrace,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init review queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, func() error { queue.Close(); return nil })
		probes = append(probes, queue)
		dispatcher = queue
	default:
		app.inProcess = usecase.NewInProcessDispatcher(app.Pipeline, cfg.ReviewTimeout)
		dispatcher = app.inProcess
	}

	app.Reviews = usecase.NewReviewService(progress, dispatcher, app.Audit, sessionID, cfg.ReviewActor)
	app.Reporting = usecase.NewReportingService(app.Audit)
	app.Search = usecase.NewPatientSearchService(repo, app.Audit, sessionID, cfg.FacilityStation)
	app.Summaries = usecase.NewNoteSummaryService(analyzer)
	app.Diagnostics = usecase.NewDiagnosticsService(sessionID, map[string]any{
		"service":          service,
		"db_driver":        cfg.ClinicalDBDriver,
		"llm_provider":     cfg.LLMProvider,
		"llm_model":        cfg.LLMModel,
		"review_dispatch":  cfg.ReviewDispatch,
		"progress_backend": cfg.ProgressBackend,
		"facility_station": cfg.FacilityStation,
		"catalog": map[string]any{
			"provider_classes": len(catalog.ProviderClasses),
			"role_probes":      len(catalog.RoleProbes),
			"max_notes":        catalog.MaxNotes,
			"trailing_buffer":  catalog.TrailingBuffer().String(),
		},
	}, probes...)

	return app, nil
}

func (a *App) newProgressStore(ctx context.Context, cfg config.Config) (ports.ProgressStore, ports.HealthProbe, error) {
	if cfg.ProgressBackend != config.ProgressRedis {
		store := memory.New(cfg.ProgressMaxEntries, cfg.ProgressTTL)
		return store, store, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	store := redisstore.New(client, cfg.ProgressKeyPrefix, cfg.ProgressTTL)
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		slog.Warn("progress_store_unreachable", "addr", cfg.RedisAddr, "error", err)
	}
	return store, store, nil
}

func newCompleter(cfg config.Config) llm.Completer {
	settings := llm.Settings{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	}
	switch cfg.LLMProvider {
	case "anthropic":
		return anthropic.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMTimeout, settings)
	case "ollama":
		return ollama.New(cfg.LLMEndpoint(), cfg.LLMTimeout, settings)
	default:
		return openai.New(openai.Options{
			BaseURL:    cfg.LLMEndpoint(),
			APIKey:     cfg.LLMAPIKey,
			Azure:      cfg.LLMProvider == "azure",
			APIVersion: cfg.LLMAPIVersion,
			Timeout:    cfg.LLMTimeout,
			Settings:   settings,
		})
	}
}

// RecordLifecycle appends an APPLICATION_START or APPLICATION_SHUTDOWN event.
func (a *App) RecordLifecycle(ctx context.Context, eventType domain.AuditEventType, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["service"] = a.Service
	event := domain.AuditEvent{
		SessionID: a.SessionID,
		EventType: eventType,
		Username:  a.Config.ReviewActor,
		Success:   true,
		Details:   details,
	}
	if err := a.Audit.AppendEvent(ctx, event); err != nil {
		slog.Warn("audit_event_append_failed", "event_type", eventType, "error", err)
	}
}

// Shutdown waits for in-process reviews before releasing connections.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.inProcess != nil {
		err = a.inProcess.Shutdown(ctx)
	}
	return errors.Join(err, a.Close())
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
