package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// Pipeline step names as written to the evaluation log.
const (
	stepValidateInput     = "validate_input"
	stepResolveAdmission  = "resolve_admission"
	stepExtractNotes      = "extract_clinical_notes"
	stepExtractVitals     = "extract_vitals"
	stepExtractLabs       = "extract_labs"
	stepExtractDiagnoses  = "extract_coded_diagnoses"
	stepAnalyzeNotes      = "analyze_notes"
	stepConsolidate       = "consolidate_diagnoses"
	stepCompare           = "compare_diagnoses"
	stepAssemblePayload   = "assemble_payload"
	stepTypeValidation    = "validation"
	stepTypeDataRetrieval = "data_retrieval"
	stepTypeAIAnalysis    = "ai_analysis"
	stepTypeAssembly      = "assembly"
)

// stepRun carries what one pipeline step reports to the replay trail.
type stepRun struct {
	name     string
	kind     string
	input    any
	output   any
	degraded bool
}

// runStep times fn, then writes one ANALYSIS_STEP audit event and one
// evaluation entry whatever the outcome. A degraded step is recorded as
// unsuccessful but its error is not returned.
func (p *ReviewPipeline) runStep(ctx context.Context, job domain.ReviewJob, step *stepRun, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "review."+step.name)
	defer span.End()
	span.SetAttributes(attribute.String("review.key", job.ReviewKey), attribute.String("review.step_type", step.kind))

	started := p.now()
	err := fn(ctx)
	elapsed := p.now().Sub(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if p.metrics != nil {
		p.metrics.ObserveStage(step.name, elapsed, err)
	}
	p.recordStep(ctx, job, step, elapsed, err)

	if err != nil && step.degraded {
		return nil
	}
	return err
}

func (p *ReviewPipeline) recordStep(ctx context.Context, job domain.ReviewJob, step *stepRun, elapsed time.Duration, stepErr error) {
	now := p.now().UTC()
	errText := ""
	if stepErr != nil {
		errText = stepErr.Error()
	}
	ms := float64(elapsed.Microseconds()) / 1000

	entry := domain.EvaluationStepEntry{
		Timestamp:       now,
		SessionID:       p.sessionID,
		EvaluationID:    job.ReviewKey,
		PatientID:       job.Request.PatientID.String(),
		Username:        job.Request.Actor,
		StepName:        step.name,
		StepType:        step.kind,
		Success:         stepErr == nil,
		ExecutionTimeMS: ms,
		InputSummary:    domain.Summarize(step.input),
		OutputSummary:   domain.Summarize(step.output),
		Error:           errText,
	}
	if err := p.audit.AppendEvaluationStep(ctx, entry); err != nil {
		slog.Warn("evaluation_step_append_failed", "review_key", job.ReviewKey, "step", step.name, "error", err)
	}

	p.appendEvent(ctx, job, domain.AuditEvent{
		EventType:    domain.EventAnalysisStep,
		Success:      stepErr == nil,
		ErrorMessage: errText,
		Details: map[string]any{
			"step_name":         step.name,
			"step_type":         step.kind,
			"execution_time_ms": ms,
			"degraded":          stepErr != nil && step.degraded,
		},
	})
}

// appendEvent fills the review-scoped fields and never fails the caller.
func (p *ReviewPipeline) appendEvent(ctx context.Context, job domain.ReviewJob, event domain.AuditEvent) {
	event.SessionID = p.sessionID
	event.Username = job.Request.Actor
	event.PatientID = job.Request.PatientID.String()
	event.ReviewKey = job.ReviewKey
	if err := p.audit.AppendEvent(ctx, event); err != nil {
		slog.Warn("audit_event_append_failed", "review_key", job.ReviewKey, "event_type", event.EventType, "error", err)
	}
}

// advance moves progress forward. A lost or terminal entry is logged and the
// review keeps running; the replay trail does not depend on it.
func (p *ReviewPipeline) advance(ctx context.Context, key string, percentage int, current, completed string) {
	_, err := p.progress.Update(ctx, key, func(state *domain.ReviewProgress) error {
		return state.Advance(percentage, current, completed)
	})
	if err != nil {
		slog.Warn("progress_update_failed", "review_key", key, "percentage", percentage, "error", err)
	}
}
