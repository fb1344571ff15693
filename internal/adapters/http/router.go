package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/config"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const (
	serviceName      = "api"
	backpressureWait = 250 * time.Millisecond
	maxRequestBytes  = 1 << 20
)

// Metrics is the HTTP instrumentation the router mounts.
type Metrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
	RecordRejection(service, reason string)
}

// Services groups the inbound ports served over HTTP.
type Services struct {
	Reviews     ports.ReviewService
	Audit       ports.AuditReporter
	Patients    ports.PatientSearcher
	Notes       ports.NoteSummarizer
	Diagnostics ports.DiagnosticsReporter
}

type Router struct {
	cfg     config.Config
	svc     Services
	metrics Metrics
}

func NewRouter(cfg config.Config, svc Services, metrics Metrics) *Router {
	return &Router{cfg: cfg, svc: svc, metrics: metrics}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/reviews", rt.startReview)
	api.HandleFunc("GET /api/reviews/{key}/progress", rt.reviewProgress)
	api.HandleFunc("GET /api/reviews/{key}/result", rt.reviewResult)
	api.HandleFunc("POST /api/patients/discharged", rt.searchDischarged)
	api.HandleFunc("POST /api/notes/summary", rt.summarizeNote)
	api.HandleFunc("GET /api/audit/events", rt.auditEvents)
	api.HandleFunc("GET /api/audit/statistics", rt.auditStatistics)
	api.HandleFunc("GET /api/audit/queries", rt.auditQueries)
	api.HandleFunc("GET /api/audit/queries/statistics", rt.queryStatistics)
	api.HandleFunc("GET /api/audit/evaluations/{id}", rt.evaluationLog)
	api.HandleFunc("GET /api/diagnostics", rt.diagnostics)
	api.HandleFunc("GET /api/health", rt.health)

	var guarded http.Handler = actorMiddleware(api)
	guarded = bearerAuthMiddleware(guarded, rt.cfg.APIAuthToken, rt.reject)
	guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, backpressureWait, rt.reject)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.reject)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("/api/", guarded)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) reject(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejection(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.Diagnostics.Diagnostics(r.Context()))
}

// health answers 503 while any dependency probe fails so load balancers
// can drain the instance.
func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	report := rt.svc.Diagnostics.Diagnostics(r.Context())
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":  report.Status,
		"checks":  report.Checks,
		"details": report.Details,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
