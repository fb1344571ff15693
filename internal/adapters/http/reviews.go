package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

type startReviewRequest struct {
	PatientID   domain.Identifier `json:"patient_id"`
	AdmissionID domain.Identifier `json:"admission_id"`
}

type dischargedSearchRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Station   string `json:"station"`
	Limit     int    `json:"limit"`
}

type noteSummaryRequest struct {
	NoteType string `json:"note_type"`
	Text     string `json:"text"`
}

func (rt *Router) startReview(w http.ResponseWriter, r *http.Request) {
	var req startReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := rt.svc.Reviews.StartReview(r.Context(), domain.ReviewRequest{
		PatientID:   req.PatientID,
		AdmissionID: req.AdmissionID,
		Actor:       domain.AuditScopeFromContext(r.Context()).Actor,
	})
	if err != nil {
		payload := map[string]string{"error": err.Error()}
		if key != "" {
			payload["review_key"] = key
		}
		writeJSON(w, mapErrorToHTTPStatus(err), payload)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"review_key": key})
}

func (rt *Router) reviewProgress(w http.ResponseWriter, r *http.Request) {
	view, err := rt.svc.Reviews.GetProgress(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// reviewResult serves the payload only once the review is terminal. A failed
// review answers with its error message instead of a payload.
func (rt *Router) reviewResult(w http.ResponseWriter, r *http.Request) {
	progress, err := rt.svc.Reviews.GetReview(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch progress.Status {
	case domain.ReviewComplete:
		writeJSON(w, http.StatusOK, progress.Result)
	case domain.ReviewError:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     false,
			"analysis_id": progress.ReviewKey,
			"error":       progress.Error,
		})
	default:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "review is still running",
			"progress": progress.View(time.Now()),
		})
	}
}

func (rt *Router) searchDischarged(w http.ResponseWriter, r *http.Request) {
	var req dischargedSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, fromErr := parseDate(req.StartDate)
	to, toErr := parseDate(req.EndDate)
	if fromErr != nil || toErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_date and end_date must be YYYY-MM-DD"})
		return
	}

	patients, err := rt.svc.Patients.SearchDischarged(r.Context(), domain.DischargeSearch{
		From:    from,
		To:      to,
		Station: strings.TrimSpace(req.Station),
		Limit:   req.Limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients, "count": len(patients)})
}

func (rt *Router) summarizeNote(w http.ResponseWriter, r *http.Request) {
	var req noteSummaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	summary, err := rt.svc.Notes.SummarizeNote(r.Context(), req.NoteType, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// parseDate leaves empty input as the zero time so the search service can
// report the missing bound.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, raw)
}
