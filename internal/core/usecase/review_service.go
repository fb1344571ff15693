package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

// ReviewService accepts review submissions and serves polling. Execution is
// handed to the dispatcher; the caller never waits for the pipeline.
type ReviewService struct {
	progress     ports.ProgressStore
	dispatcher   ports.ReviewDispatcher
	audit        ports.AuditLog
	sessionID    string
	defaultActor string
	now          func() time.Time
	newKey       func() string
}

func NewReviewService(
	progress ports.ProgressStore,
	dispatcher ports.ReviewDispatcher,
	audit ports.AuditLog,
	sessionID, defaultActor string,
) *ReviewService {
	return &ReviewService{
		progress:     progress,
		dispatcher:   dispatcher,
		audit:        audit,
		sessionID:    sessionID,
		defaultActor: defaultActor,
		now:          time.Now,
		newKey:       uuid.NewString,
	}
}

// StartReview always allocates a key before validating so a rejected request
// still leaves a pollable error entry. The key is returned with the error.
func (s *ReviewService) StartReview(ctx context.Context, req domain.ReviewRequest) (string, error) {
	if req.Actor == "" {
		req.Actor = s.defaultActor
	}
	key := s.newKey()
	submitted := s.now()

	if err := s.progress.Create(ctx, domain.NewReviewProgress(key, submitted)); err != nil {
		return "", fmt.Errorf("create review progress: %w", err)
	}

	validationErr := req.Validate()
	s.recordValidation(ctx, key, req, submitted, validationErr)
	if validationErr != nil {
		s.markFailed(ctx, key, validationErr)
		return key, validationErr
	}

	if _, err := s.progress.Update(ctx, key, func(p *domain.ReviewProgress) error {
		return p.Advance(5, "Queued for processing", "Input validated")
	}); err != nil {
		return key, fmt.Errorf("advance review progress: %w", err)
	}

	job := domain.ReviewJob{ReviewKey: key, Request: req, SubmittedAt: submitted.UTC()}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.markFailed(ctx, key, err)
		return key, fmt.Errorf("dispatch review: %w", err)
	}
	slog.Info("review_accepted",
		"review_key", key,
		"patient_id", req.PatientID.String(),
		"admission_id", req.AdmissionID.String(),
		"actor", req.Actor,
	)
	return key, nil
}

func (s *ReviewService) GetProgress(ctx context.Context, reviewKey string) (domain.ProgressView, error) {
	progress, err := s.progress.Get(ctx, reviewKey)
	if err != nil {
		return domain.ProgressView{}, err
	}
	return progress.View(s.now()), nil
}

// GetReview returns the full state including the payload once complete.
func (s *ReviewService) GetReview(ctx context.Context, reviewKey string) (domain.ReviewProgress, error) {
	return s.progress.Get(ctx, reviewKey)
}

func (s *ReviewService) markFailed(ctx context.Context, key string, cause error) {
	if _, err := s.progress.Update(ctx, key, func(p *domain.ReviewProgress) error {
		return p.Fail(cause.Error(), s.now())
	}); err != nil {
		slog.Warn("progress_fail_not_recorded", "review_key", key, "error", err)
	}
}

func (s *ReviewService) recordValidation(ctx context.Context, key string, req domain.ReviewRequest, started time.Time, validationErr error) {
	errText := ""
	if validationErr != nil {
		errText = validationErr.Error()
	}
	elapsed := float64(s.now().Sub(started).Microseconds()) / 1000
	entry := domain.EvaluationStepEntry{
		Timestamp:       s.now().UTC(),
		SessionID:       s.sessionID,
		EvaluationID:    key,
		PatientID:       req.PatientID.String(),
		Username:        req.Actor,
		StepName:        stepValidateInput,
		StepType:        stepTypeValidation,
		Success:         validationErr == nil,
		ExecutionTimeMS: elapsed,
		InputSummary:    domain.Summarize(req),
		OutputSummary:   domain.Summarize(validationErr == nil),
		Error:           errText,
	}
	if err := s.audit.AppendEvaluationStep(ctx, entry); err != nil {
		slog.Warn("evaluation_step_append_failed", "review_key", key, "step", stepValidateInput, "error", err)
	}
	event := domain.AuditEvent{
		SessionID:    s.sessionID,
		EventType:    domain.EventAnalysisStep,
		Username:     req.Actor,
		PatientID:    req.PatientID.String(),
		ReviewKey:    key,
		Success:      validationErr == nil,
		ErrorMessage: errText,
		Details: map[string]any{
			"step_name":         stepValidateInput,
			"step_type":         stepTypeValidation,
			"execution_time_ms": elapsed,
		},
	}
	if err := s.audit.AppendEvent(ctx, event); err != nil {
		slog.Warn("audit_event_append_failed", "review_key", key, "event_type", event.EventType, "error", err)
	}
}
