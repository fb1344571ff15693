package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const (
	tracerName = "github.com/kirillkom/inpatient-cdi-review/usecase"

	noNotesReason = "no clinical notes were extracted for this admission"

	analysisStartPercentage = 40
	analysisEndPercentage   = 75
)

type ReviewPipelineDeps struct {
	Resolver   *AdmissionResolver
	Clinical   *ClinicalExtractor
	Diagnoses  *DiagnosisExtractor
	Reconciler *Reconciler
	Progress   ports.ProgressStore
	Audit      ports.AuditLog
	Metrics    ports.ReviewMetrics
	SessionID  string
}

// ReviewPipeline runs one accepted review to a terminal progress state.
type ReviewPipeline struct {
	resolver   *AdmissionResolver
	clinical   *ClinicalExtractor
	diagnoses  *DiagnosisExtractor
	reconciler *Reconciler
	progress   ports.ProgressStore
	audit      ports.AuditLog
	metrics    ports.ReviewMetrics
	sessionID  string
	tracer     trace.Tracer
	now        func() time.Time
}

func NewReviewPipeline(deps ReviewPipelineDeps) *ReviewPipeline {
	return &ReviewPipeline{
		resolver:   deps.Resolver,
		clinical:   deps.Clinical,
		diagnoses:  deps.Diagnoses,
		reconciler: deps.Reconciler,
		progress:   deps.Progress,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		sessionID:  deps.SessionID,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// reviewState accumulates stage outputs for payload assembly.
type reviewState struct {
	admission    domain.Admission
	notes        []domain.ClinicalNote
	vitals       []domain.VitalMeasurement
	labs         []domain.LabResult
	coded        []domain.CodedDiagnosis
	analyses     []domain.NoteAnalysis
	consolidated *domain.ConsolidatedDiagnosisSet
	comparison   *domain.ComparisonResult
	warnings     []string
	noNotes      bool
}

// Execute drives the review. Stage-fatal errors leave progress in error and
// are returned as *domain.StageError; degraded stages only add warnings.
func (p *ReviewPipeline) Execute(ctx context.Context, job domain.ReviewJob) (err error) {
	ctx = domain.WithAuditScope(ctx, domain.AuditScope{
		ReviewKey: job.ReviewKey,
		Actor:     job.Request.Actor,
		PatientID: job.Request.PatientID.String(),
	})
	ctx, span := p.tracer.Start(ctx, "review.execute")
	defer span.End()
	span.SetAttributes(attribute.String("review.key", job.ReviewKey))

	started := p.now()
	defer func() {
		if r := recover(); r != nil {
			err = &domain.StageError{Stage: "pipeline", Err: fmt.Errorf("review aborted unexpectedly: %v", r)}
			p.fail(ctx, job, err, p.now().Sub(started))
		}
	}()
	p.appendEvent(ctx, job, domain.AuditEvent{
		EventType: domain.EventAnalysisStart,
		Success:   true,
		Details: map[string]any{
			"patient_id":   job.Request.PatientID.String(),
			"admission_id": job.Request.AdmissionID.String(),
		},
	})

	state, runErr := p.run(ctx, job)
	elapsed := p.now().Sub(started)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		p.fail(ctx, job, runErr, elapsed)
		return runErr
	}

	result := p.assemble(job, state, elapsed)
	if err := p.runStep(ctx, job, &stepRun{name: stepAssemblePayload, kind: stepTypeAssembly, input: state.notes, output: result}, func(ctx context.Context) error {
		_, err := p.progress.Update(ctx, job.ReviewKey, func(progress *domain.ReviewProgress) error {
			return progress.Complete(result, p.now())
		})
		return err
	}); err != nil {
		slog.Error("review_completion_not_recorded", "review_key", job.ReviewKey, "error", err)
	}

	p.recordOutcome(ctx, job, state, result)
	if p.metrics != nil {
		p.metrics.ObserveReview(domain.ReviewComplete, elapsed)
	}
	slog.Info("review_completed",
		"review_key", job.ReviewKey,
		"notes", len(state.notes),
		"notes_analyzed", len(state.analyses),
		"coded_diagnoses", len(state.coded),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (p *ReviewPipeline) run(ctx context.Context, job domain.ReviewJob) (*reviewState, error) {
	state := &reviewState{}
	key := job.ReviewKey

	p.advance(ctx, key, 5, "Resolving admission", "")
	resolve := &stepRun{name: stepResolveAdmission, kind: stepTypeDataRetrieval, input: job.Request}
	if err := p.runStep(ctx, job, resolve, func(ctx context.Context) error {
		admission, err := p.resolver.Resolve(ctx, job.Request.PatientID, job.Request.AdmissionID)
		if err != nil {
			return err
		}
		state.admission = admission
		resolve.output = admission
		return nil
	}); err != nil {
		return nil, &domain.StageError{Stage: stepResolveAdmission, Err: err}
	}
	p.appendEvent(ctx, job, domain.AuditEvent{
		EventType: domain.EventPatientSelection,
		Success:   true,
		Details: map[string]any{
			"admission_key":      state.admission.AdmissionKey,
			"billing_id":         state.admission.BillingID,
			"station":            state.admission.Station,
			"specialty_category": state.admission.SpecialtyCategory,
		},
	})
	p.advance(ctx, key, 10, "Extracting clinical notes", "Admission resolved")

	admission := state.admission
	notes := &stepRun{name: stepExtractNotes, kind: stepTypeDataRetrieval, input: admission.AdmissionKey, degraded: true}
	_ = p.runStep(ctx, job, notes, func(ctx context.Context) error {
		set, err := p.clinical.Notes(ctx, admission)
		state.notes = set.Notes
		notes.output = state.notes
		if err != nil {
			state.warn("clinical notes unavailable", err)
		}
		if set.Truncated {
			state.warnings = append(state.warnings, fmt.Sprintf("clinical notes truncated: only the %d most recent notes were analyzed", set.Limit))
		}
		return err
	})
	p.advance(ctx, key, 25, "Extracting vital signs", fmt.Sprintf("Extracted %d clinical notes", len(state.notes)))

	vitals := &stepRun{name: stepExtractVitals, kind: stepTypeDataRetrieval, input: admission.AdmissionKey, degraded: true}
	_ = p.runStep(ctx, job, vitals, func(ctx context.Context) error {
		var err error
		state.vitals, err = p.clinical.Vitals(ctx, admission)
		vitals.output = state.vitals
		if err != nil {
			state.warn("vital signs unavailable", err)
		}
		return err
	})
	p.advance(ctx, key, 30, "Extracting laboratory results", fmt.Sprintf("Extracted %d vital signs", len(state.vitals)))

	labs := &stepRun{name: stepExtractLabs, kind: stepTypeDataRetrieval, input: admission.AdmissionKey, degraded: true}
	_ = p.runStep(ctx, job, labs, func(ctx context.Context) error {
		var err error
		state.labs, err = p.clinical.Labs(ctx, admission)
		labs.output = state.labs
		if err != nil {
			state.warn("laboratory results unavailable", err)
		}
		return err
	})
	p.appendEvent(ctx, job, domain.AuditEvent{
		EventType: domain.EventDocumentExtraction,
		Success:   true,
		Details: map[string]any{
			"notes":  len(state.notes),
			"vitals": len(state.vitals),
			"labs":   len(state.labs),
		},
	})
	p.advance(ctx, key, 35, "Extracting coded diagnoses", fmt.Sprintf("Extracted %d laboratory results", len(state.labs)))

	diagnoses := &stepRun{name: stepExtractDiagnoses, kind: stepTypeDataRetrieval, input: admission.AdmissionKey}
	if err := p.runStep(ctx, job, diagnoses, func(ctx context.Context) error {
		coded, degraded, err := p.diagnoses.CodedDiagnoses(ctx, admission)
		state.coded = coded
		diagnoses.output = coded
		if err != nil && degraded {
			diagnoses.degraded = true
			state.warn("coded diagnoses unavailable", err)
		}
		return err
	}); err != nil {
		return nil, &domain.StageError{Stage: stepExtractDiagnoses, Err: err}
	}
	p.advance(ctx, key, analysisStartPercentage, "Analyzing clinical notes", fmt.Sprintf("Extracted %d coded diagnoses", len(state.coded)))

	analyze := &stepRun{name: stepAnalyzeNotes, kind: stepTypeAIAnalysis, input: state.notes}
	_ = p.runStep(ctx, job, analyze, func(ctx context.Context) error {
		state.analyses = p.reconciler.Analyze(ctx, state.notes, state.vitals, state.labs, func(done, total int) {
			pct := analysisStartPercentage + (analysisEndPercentage-analysisStartPercentage)*done/total
			p.advance(ctx, key, pct, fmt.Sprintf("Analyzed %d of %d notes", done, total), "")
		})
		analyze.output = state.analyses
		return nil
	})
	p.advance(ctx, key, analysisEndPercentage, "Consolidating diagnoses",
		fmt.Sprintf("Analyzed %d of %d notes", len(state.analyses), len(state.notes)))

	consolidate := &stepRun{name: stepConsolidate, kind: stepTypeAIAnalysis, input: state.analyses, degraded: true}
	if err := p.runStep(ctx, job, consolidate, func(ctx context.Context) error {
		set, err := p.reconciler.Consolidate(ctx, state.analyses, admissionContext(state))
		if errors.Is(err, domain.ErrNoNotesAnalyzed) {
			state.noNotes = true
			return err
		}
		consolidate.degraded = false
		if err != nil {
			return err
		}
		state.consolidated = &set
		consolidate.output = set
		return nil
	}); err != nil {
		return nil, &domain.StageError{Stage: stepConsolidate, Err: err}
	}
	p.advance(ctx, key, 85, "Comparing with coded diagnoses", "Diagnoses consolidated")

	if state.consolidated != nil {
		compare := &stepRun{name: stepCompare, kind: stepTypeAIAnalysis, input: state.coded}
		if err := p.runStep(ctx, job, compare, func(ctx context.Context) error {
			result, err := p.reconciler.Compare(ctx, *state.consolidated, state.coded)
			if err != nil {
				return err
			}
			state.comparison = &result
			compare.output = result
			return nil
		}); err != nil {
			return nil, &domain.StageError{Stage: stepCompare, Err: err}
		}
	}
	p.advance(ctx, key, 95, "Assembling results", "Comparison complete")
	return state, nil
}

func (s *reviewState) warn(what string, err error) {
	s.warnings = append(s.warnings, fmt.Sprintf("%s: %v", what, err))
}

func admissionContext(state *reviewState) domain.AdmissionContext {
	a := state.admission
	ctx := domain.AdmissionContext{
		PatientKey:        a.PatientKey,
		AdmissionKey:      a.AdmissionKey,
		Station:           a.Station,
		AdmitTime:         a.AdmitTime.Format(time.RFC3339),
		SpecialtyCategory: a.SpecialtyCategory,
		NoteCount:         len(state.notes),
		VitalCount:        len(state.vitals),
		LabCount:          len(state.labs),
	}
	if a.DischargeTime != nil {
		ctx.DischargeTime = a.DischargeTime.Format(time.RFC3339)
	}
	return ctx
}

func (p *ReviewPipeline) assemble(job domain.ReviewJob, state *reviewState, elapsed time.Duration) *domain.ReviewResult {
	result := &domain.ReviewResult{
		Success:               true,
		ReviewKey:             job.ReviewKey,
		PatientID:             job.Request.PatientID.String(),
		AdmissionID:           job.Request.AdmissionID.String(),
		Admission:             state.admission,
		ProcessingTimeSeconds: elapsed.Seconds(),
		DocumentsAnalyzed: domain.DocumentsAnalyzed{
			Notes:          len(state.notes),
			NotesAnalyzed:  len(state.analyses),
			Vitals:         len(state.vitals),
			Labs:           len(state.labs),
			CodedDiagnoses: len(state.coded),
		},
		ClinicalNotes:  state.notes,
		Vitals:         state.vitals,
		Labs:           state.labs,
		CodedDiagnoses: state.coded,
		Comparison:     state.comparison,
		AIAnalysis: domain.AIAnalysis{
			Consolidated: state.consolidated,
			NoteAnalyses: state.analyses,
		},
		Recommendations: []string{},
		Warnings:        state.warnings,
	}
	if state.noNotes {
		result.AIAnalysis.NoNotesReason = noNotesReason
	}
	if state.consolidated != nil {
		result.AIAnalysis.DiagnosesFound = len(state.consolidated.Documented())
		result.Recommendations = appendUnique(result.Recommendations, state.consolidated.Recommendations...)
	}
	if state.comparison != nil {
		result.Recommendations = appendUnique(result.Recommendations, state.comparison.Recommendations...)
	}
	return result
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

func (p *ReviewPipeline) recordOutcome(ctx context.Context, job domain.ReviewJob, state *reviewState, result *domain.ReviewResult) {
	p.appendEvent(ctx, job, domain.AuditEvent{
		EventType: domain.EventAnalysisComplete,
		Success:   true,
		Details: map[string]any{
			"processing_time_seconds": result.ProcessingTimeSeconds,
			"documents_analyzed":      result.DocumentsAnalyzed,
			"diagnoses_found":         result.AIAnalysis.DiagnosesFound,
			"warnings":                len(state.warnings),
		},
	})

	if state.comparison != nil {
		documented := len(state.consolidated.Documented())
		p.appendEvent(ctx, job, domain.AuditEvent{
			EventType: domain.EventComparisonResult,
			Success:   true,
			Details: map[string]any{
				"matches":                   len(state.comparison.Matches),
				"documented_not_coded":      len(state.comparison.DocumentedNotCoded),
				"coded_not_documented":      len(state.comparison.CodedNotDocumented),
				"specificity_opportunities": len(state.comparison.SpecificityOpportunities),
				"documented_diagnoses":      documented,
				"coded_diagnoses":           len(state.coded),
				"match_rate":                state.comparison.MatchRate(documented),
			},
		})
	}

	detail := domain.AnalysisDetail{
		Timestamp:    p.now().UTC(),
		SessionID:    p.sessionID,
		ReviewKey:    job.ReviewKey,
		PatientID:    job.Request.PatientID.String(),
		Username:     job.Request.Actor,
		NoteAnalyses: state.analyses,
	}
	if state.consolidated != nil {
		detail.Consolidated = state.consolidated
	}
	if state.comparison != nil {
		detail.Comparison = state.comparison
	}
	if err := p.audit.AppendAnalysisDetail(ctx, detail); err != nil {
		slog.Warn("analysis_detail_append_failed", "review_key", job.ReviewKey, "error", err)
	}
}

// fail records the terminal error even when ctx expired with the review.
// Abandon moves an accepted review that will not run to error and records
// its terminal audit event.
func (p *ReviewPipeline) Abandon(ctx context.Context, job domain.ReviewJob, reason string) {
	ctx = domain.WithAuditScope(ctx, domain.AuditScope{
		ReviewKey: job.ReviewKey,
		Actor:     job.Request.Actor,
		PatientID: job.Request.PatientID.String(),
	})
	p.fail(ctx, job, errors.New(reason), 0)
}

func (p *ReviewPipeline) fail(ctx context.Context, job domain.ReviewJob, cause error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()
	if _, err := p.progress.Update(ctx, job.ReviewKey, func(progress *domain.ReviewProgress) error {
		return progress.Fail(message, p.now())
	}); err != nil {
		slog.Warn("progress_fail_not_recorded", "review_key", job.ReviewKey, "error", err)
	}

	stage := ""
	var stageErr *domain.StageError
	if errors.As(cause, &stageErr) {
		stage = stageErr.Stage
	}
	p.appendEvent(ctx, job, domain.AuditEvent{
		EventType:    domain.EventAnalysisComplete,
		Success:      false,
		ErrorMessage: message,
		Details: map[string]any{
			"failed_stage":            stage,
			"processing_time_seconds": elapsed.Seconds(),
		},
	})
	if p.metrics != nil {
		p.metrics.ObserveReview(domain.ReviewError, elapsed)
	}
	slog.Error("review_failed", "review_key", job.ReviewKey, "stage", stage, "error", cause)
}
