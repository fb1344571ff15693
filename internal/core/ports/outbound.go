package ports

import (
	"context"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// QueryExecutor runs parameterized queries against the clinical data store.
type QueryExecutor interface {
	Execute(ctx context.Context, query domain.Query) (*domain.QueryResult, error)
}

// AdmissionLookup is one resolution strategy: match any of the candidate
// identifiers as billing identifier or internal key, optionally constrained
// to a patient key.
type AdmissionLookup struct {
	Candidates []domain.Identifier
	PatientKey domain.Identifier
}

// AdmissionRepository reads inpatient stays. FindAdmission returns nil, nil
// when nothing matches.
type AdmissionRepository interface {
	FindAdmission(ctx context.Context, lookup AdmissionLookup) (*domain.Admission, error)
	AdmittingSpecialty(ctx context.Context, admission domain.Admission) (string, error)
	SearchDischarged(ctx context.Context, search domain.DischargeSearch) ([]domain.DischargedAdmission, error)
}

// ClinicalRepository reads documentation and measurements for an admission window.
type ClinicalRepository interface {
	Notes(ctx context.Context, admission domain.Admission) (domain.NoteSet, error)
	Vitals(ctx context.Context, admission domain.Admission) ([]domain.VitalMeasurement, error)
	Labs(ctx context.Context, admission domain.Admission) ([]domain.LabResult, error)
}

// RoleClassifier resolves staff identifiers to author roles. Staff it cannot
// classify are absent from the result.
type RoleClassifier interface {
	ClassifyRoles(ctx context.Context, staffIDs []string) (map[string]domain.AuthorRole, error)
}

// DiagnosisRepository reads billed diagnoses.
type DiagnosisRepository interface {
	CodedDiagnoses(ctx context.Context, admission domain.Admission) ([]domain.CodedDiagnosis, error)
}

// ClinicalAnalyzer is the AI analysis capability.
type ClinicalAnalyzer interface {
	AnalyzeNote(ctx context.Context, note domain.ClinicalNote, vitals []domain.VitalMeasurement, labs []domain.LabResult) (domain.NoteAnalysisResult, error)
	Consolidate(ctx context.Context, analyses []domain.NoteAnalysis, admission domain.AdmissionContext) (domain.ConsolidatedDiagnosisSet, error)
	Compare(ctx context.Context, consolidated domain.ConsolidatedDiagnosisSet, coded []domain.CodedDiagnosis) (domain.ComparisonResult, error)
	SummarizeNote(ctx context.Context, noteType, text string) (string, error)
}

// ProgressStore keeps pollable review state. Update applies fn atomically per key.
type ProgressStore interface {
	Create(ctx context.Context, progress domain.ReviewProgress) error
	Get(ctx context.Context, reviewKey string) (domain.ReviewProgress, error)
	Update(ctx context.Context, reviewKey string, fn func(*domain.ReviewProgress) error) (domain.ReviewProgress, error)
}

// AuditLog appends durable replay records.
type AuditLog interface {
	AppendEvent(ctx context.Context, event domain.AuditEvent) error
	AppendQuery(ctx context.Context, entry domain.QueryLogEntry) error
	AppendEvaluationStep(ctx context.Context, entry domain.EvaluationStepEntry) error
	AppendAnalysisDetail(ctx context.Context, detail domain.AnalysisDetail) error
}

// AuditReader serves reporting reads over the audit streams.
type AuditReader interface {
	RecentEvents(ctx context.Context, count int, eventType domain.AuditEventType) ([]domain.AuditEvent, error)
	EventStatistics(ctx context.Context) (domain.AuditStatistics, error)
	RecentQueries(ctx context.Context, count int, queryType string) ([]domain.QueryLogEntry, error)
	FailedQueries(ctx context.Context, since time.Time) ([]domain.QueryLogEntry, error)
	QueryStatistics(ctx context.Context) (domain.QueryStatistics, error)
	EvaluationLog(ctx context.Context, evaluationID string) ([]domain.EvaluationStepEntry, error)
}

// ReviewDispatcher hands an accepted review to background execution.
type ReviewDispatcher interface {
	Dispatch(ctx context.Context, job domain.ReviewJob) error
}

// ReviewMetrics observes pipeline outcomes.
type ReviewMetrics interface {
	ObserveStage(stage string, duration time.Duration, err error)
	ObserveReview(status domain.ReviewStatus, duration time.Duration)
	ObserveNoteAnalysis(success bool)
}

// HealthProbe is a named dependency check used by diagnostics.
type HealthProbe interface {
	Name() string
	Ping(ctx context.Context) error
}
