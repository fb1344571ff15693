package ports

import (
	"context"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// ReviewService is the inbound contract for review submission and polling.
type ReviewService interface {
	StartReview(ctx context.Context, req domain.ReviewRequest) (string, error)
	GetProgress(ctx context.Context, reviewKey string) (domain.ProgressView, error)
	GetReview(ctx context.Context, reviewKey string) (domain.ReviewProgress, error)
}

// ReviewRunner executes an accepted review to a terminal state.
type ReviewRunner interface {
	Execute(ctx context.Context, job domain.ReviewJob) error
}

// AuditReporter is the inbound read model over audit streams.
type AuditReporter interface {
	AuditReader
}

// PatientSearcher lists discharged admissions.
type PatientSearcher interface {
	SearchDischarged(ctx context.Context, search domain.DischargeSearch) ([]domain.DischargedAdmission, error)
}

// NoteSummarizer summarizes a single note on demand.
type NoteSummarizer interface {
	SummarizeNote(ctx context.Context, noteType, text string) (string, error)
}

// DiagnosticsReporter reports dependency health.
type DiagnosticsReporter interface {
	Diagnostics(ctx context.Context) domain.Diagnostics
}
