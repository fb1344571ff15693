package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// PatientSearchService lists discharged admissions for reviewer worklists.
type PatientSearchService struct {
	repo           ports.AdmissionRepository
	audit          ports.AuditLog
	sessionID      string
	defaultStation string
}

func NewPatientSearchService(repo ports.AdmissionRepository, audit ports.AuditLog, sessionID, defaultStation string) *PatientSearchService {
	return &PatientSearchService{repo: repo, audit: audit, sessionID: sessionID, defaultStation: defaultStation}
}

func (s *PatientSearchService) SearchDischarged(ctx context.Context, search domain.DischargeSearch) ([]domain.DischargedAdmission, error) {
	if search.From.IsZero() || search.To.IsZero() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search discharged", errors.New("start and end dates are required"))
	}
	if search.To.Before(search.From) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search discharged", errors.New("end date precedes start date"))
	}
	if search.Station == "" {
		search.Station = s.defaultStation
	}
	switch {
	case search.Limit <= 0:
		search.Limit = defaultSearchLimit
	case search.Limit > maxSearchLimit:
		search.Limit = maxSearchLimit
	}

	results, err := s.repo.SearchDischarged(ctx, search)
	scope := domain.AuditScopeFromContext(ctx)
	event := domain.AuditEvent{
		SessionID: s.sessionID,
		EventType: domain.EventPatientSearch,
		Username:  scope.Actor,
		Success:   err == nil,
		Details: map[string]any{
			"start_date": search.From.Format(time.DateOnly),
			"end_date":   search.To.Format(time.DateOnly),
			"station":    search.Station,
			"limit":      search.Limit,
			"results":    len(results),
		},
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	if appendErr := s.audit.AppendEvent(ctx, event); appendErr != nil {
		slog.Warn("audit_event_append_failed", "event_type", event.EventType, "error", appendErr)
	}
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []domain.DischargedAdmission{}
	}
	return results, nil
}
