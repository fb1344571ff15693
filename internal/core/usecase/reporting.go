package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const (
	defaultReportCount = 50
	maxReportCount     = 1000
)

// ReportingService bounds read requests over the audit streams.
type ReportingService struct {
	reader ports.AuditReader
}

func NewReportingService(reader ports.AuditReader) *ReportingService {
	return &ReportingService{reader: reader}
}

func (s *ReportingService) RecentEvents(ctx context.Context, count int, eventType domain.AuditEventType) ([]domain.AuditEvent, error) {
	return s.reader.RecentEvents(ctx, clampCount(count), eventType)
}

func (s *ReportingService) EventStatistics(ctx context.Context) (domain.AuditStatistics, error) {
	return s.reader.EventStatistics(ctx)
}

func (s *ReportingService) RecentQueries(ctx context.Context, count int, queryType string) ([]domain.QueryLogEntry, error) {
	return s.reader.RecentQueries(ctx, clampCount(count), queryType)
}

func (s *ReportingService) FailedQueries(ctx context.Context, since time.Time) ([]domain.QueryLogEntry, error) {
	if since.IsZero() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "failed queries", errors.New("since is required"))
	}
	return s.reader.FailedQueries(ctx, since)
}

func (s *ReportingService) QueryStatistics(ctx context.Context) (domain.QueryStatistics, error) {
	return s.reader.QueryStatistics(ctx)
}

func (s *ReportingService) EvaluationLog(ctx context.Context, evaluationID string) ([]domain.EvaluationStepEntry, error) {
	if evaluationID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "evaluation log", errors.New("evaluation id is required"))
	}
	return s.reader.EvaluationLog(ctx, evaluationID)
}

func clampCount(count int) int {
	switch {
	case count <= 0:
		return defaultReportCount
	case count > maxReportCount:
		return maxReportCount
	}
	return count
}
