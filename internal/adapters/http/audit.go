package httpadapter

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

func (rt *Router) auditEvents(w http.ResponseWriter, r *http.Request) {
	count, ok := queryInt(w, r, "count")
	if !ok {
		return
	}
	eventType := domain.AuditEventType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("event_type"))))
	events, err := rt.svc.Audit.RecentEvents(r.Context(), count, eventType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (rt *Router) auditStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.Audit.EventStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// auditQueries lists recent queries, or failed ones within the trailing
// window when failed_hours is present.
func (rt *Router) auditQueries(w http.ResponseWriter, r *http.Request) {
	var (
		entries []domain.QueryLogEntry
		err     error
	)
	if raw := r.URL.Query().Get("failed_hours"); raw != "" {
		hours, convErr := strconv.Atoi(raw)
		if convErr != nil || hours <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed_hours must be a positive integer"})
			return
		}
		entries, err = rt.svc.Audit.FailedQueries(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	} else {
		count, ok := queryInt(w, r, "count")
		if !ok {
			return
		}
		entries, err = rt.svc.Audit.RecentQueries(r.Context(), count, strings.TrimSpace(r.URL.Query().Get("query_type")))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": entries, "count": len(entries)})
}

func (rt *Router) queryStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.Audit.QueryStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) evaluationLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	steps, err := rt.svc.Audit.EvaluationLog(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluation_id": id, "steps": steps, "count": len(steps)})
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be an integer"})
		return 0, false
	}
	return n, true
}
