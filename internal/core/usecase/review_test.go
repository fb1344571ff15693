package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

type pipelineFixture struct {
	admissions *admissionRepoFake
	clinical   *clinicalRepoFake
	diagnoses  *diagnosisRepoFake
	analyzer   *analyzerFake
	progress   *progressStoreFake
	audit      *auditLogFake
	metrics    *metricsFake
	strict     bool
}

func newPipelineFixture() *pipelineFixture {
	return &pipelineFixture{
		admissions: &admissionRepoFake{byLookup: matchAdmission(testAdmission())},
		clinical: &clinicalRepoFake{
			notes:  threeNotes(),
			vitals: []domain.VitalMeasurement{{Type: "PULSE", Value: "110"}},
			labs:   []domain.LabResult{{TestName: "LACTATE", Value: "4.1"}},
		},
		diagnoses: &diagnosisRepoFake{coded: []domain.CodedDiagnosis{{Sequence: 1, Code: "A41.9", Description: "Sepsis", CodeSystem: domain.CodeSystemICD10}}},
		analyzer: &analyzerFake{
			consolidated: domain.ConsolidatedDiagnosisSet{
				PrincipalDiagnosis: &domain.DiagnosisCandidate{Name: "Sepsis", ICD10Code: "A41.9"},
				SecondaryDiagnoses: []domain.DiagnosisCandidate{{Name: "AKI", ICD10Code: "N17.9"}},
				Recommendations:    []string{"Query for sepsis severity"},
			},
			comparison: domain.ComparisonResult{
				Matches:            []domain.DiagnosisMatch{{Documented: "Sepsis", Coded: "Sepsis", ICD10: "A41.9"}},
				DocumentedNotCoded: []domain.DocumentedNotCoded{{Diagnosis: "AKI", SuggestedICD10: "N17.9"}},
				Recommendations:    []string{"Query for sepsis severity", "Add N17.9"},
			},
		},
		progress: newProgressStoreFake(),
		audit:    &auditLogFake{},
		metrics:  &metricsFake{},
	}
}

func (f *pipelineFixture) pipeline() *ReviewPipeline {
	return NewReviewPipeline(ReviewPipelineDeps{
		Resolver:   NewAdmissionResolver(f.admissions, testCatalog()),
		Clinical:   NewClinicalExtractor(f.clinical, nil),
		Diagnoses:  NewDiagnosisExtractor(f.diagnoses, f.strict),
		Reconciler: NewReconciler(f.analyzer, f.metrics, 2),
		Progress:   f.progress,
		Audit:      f.audit,
		Metrics:    f.metrics,
		SessionID:  "20260301_080000",
	})
}

// run submits through ReviewService with a synchronous dispatcher so the
// pipeline finishes before run returns.
func (f *pipelineFixture) run(t *testing.T, patientID, admissionID domain.Identifier) (string, domain.ReviewProgress) {
	t.Helper()
	pipeline := f.pipeline()
	service := NewReviewService(f.progress, syncDispatcher{runner: pipeline}, f.audit, "20260301_080000", "cdi.reviewer")
	key, err := service.StartReview(context.Background(), domain.ReviewRequest{PatientID: patientID, AdmissionID: admissionID})
	if err != nil {
		t.Fatalf("StartReview() error = %v", err)
	}
	state, err := service.GetReview(context.Background(), key)
	if err != nil {
		t.Fatalf("GetReview() error = %v", err)
	}
	return key, state
}

type syncDispatcher struct {
	runner interface {
		Execute(context.Context, domain.ReviewJob) error
	}
}

func (d syncDispatcher) Dispatch(ctx context.Context, job domain.ReviewJob) error {
	_ = d.runner.Execute(ctx, job)
	return nil
}

func assertMonotonic(t *testing.T, history []int) {
	t.Helper()
	for i := 1; i < len(history); i++ {
		if history[i] < history[i-1] {
			t.Fatalf("percentage decreased: %v", history)
		}
	}
	for i, pct := range history[:len(history)-1] {
		if pct >= 100 {
			t.Fatalf("in-flight percentage reached 100 at %d: %v", i, history)
		}
	}
}

func TestReviewCompletesWithFullPayload(t *testing.T) {
	f := newPipelineFixture()
	key, state := f.run(t, "77", "B-900")

	if state.Status != domain.ReviewComplete || state.Percentage != 100 || state.Result == nil {
		t.Fatalf("unexpected terminal state: %+v", state)
	}
	result := state.Result
	if result.DocumentsAnalyzed != (domain.DocumentsAnalyzed{Notes: 3, NotesAnalyzed: 3, Vitals: 1, Labs: 1, CodedDiagnoses: 1}) {
		t.Fatalf("documents analyzed = %+v", result.DocumentsAnalyzed)
	}
	if result.AIAnalysis.DiagnosesFound != 2 || result.Comparison == nil {
		t.Fatalf("unexpected ai analysis: %+v", result.AIAnalysis)
	}
	if !reflect.DeepEqual(result.Recommendations, []string{"Query for sepsis severity", "Add N17.9"}) {
		t.Fatalf("recommendations = %v", result.Recommendations)
	}
	assertMonotonic(t, f.progress.history[key])

	wantSteps := []string{
		stepValidateInput, stepResolveAdmission, stepExtractNotes, stepExtractVitals, stepExtractLabs,
		stepExtractDiagnoses, stepAnalyzeNotes, stepConsolidate, stepCompare, stepAssemblePayload,
	}
	if got := f.audit.stepNames(); !reflect.DeepEqual(got, wantSteps) {
		t.Fatalf("evaluation steps = %v", got)
	}
	if n := len(f.audit.eventsOfType(domain.EventAnalysisStep)); n != len(wantSteps) {
		t.Fatalf("expected one step event per step, got %d", n)
	}
	comparison := f.audit.eventsOfType(domain.EventComparisonResult)
	if len(comparison) != 1 || comparison[0].Details["match_rate"] != 50.0 {
		t.Fatalf("comparison event = %+v", comparison)
	}
	complete := f.audit.eventsOfType(domain.EventAnalysisComplete)
	if len(complete) != 1 || !complete[0].Success || complete[0].Username != "cdi.reviewer" {
		t.Fatalf("completion event = %+v", complete)
	}
	if len(f.audit.details) != 1 || len(f.audit.details[0].NoteAnalyses) != 3 {
		t.Fatalf("analysis detail = %+v", f.audit.details)
	}
	if len(f.metrics.reviews) != 1 || f.metrics.reviews[0] != domain.ReviewComplete {
		t.Fatalf("review metrics = %v", f.metrics.reviews)
	}
}

func TestReviewWithNoQualifyingNotes(t *testing.T) {
	f := newPipelineFixture()
	f.clinical.notes = nil

	_, state := f.run(t, "77", "1400")

	if state.Status != domain.ReviewComplete {
		t.Fatalf("status = %s (%s)", state.Status, state.Error)
	}
	result := state.Result
	if result.DocumentsAnalyzed.Notes != 0 || result.AIAnalysis.Consolidated != nil || result.Comparison != nil {
		t.Fatalf("expected empty ai output: %+v", result)
	}
	if result.AIAnalysis.NoNotesReason == "" {
		t.Fatalf("expected no-notes indicator")
	}
	if f.analyzer.consolidateCalls != 0 || f.analyzer.compareCalls != 0 {
		t.Fatalf("consolidate=%d compare=%d, want 0", f.analyzer.consolidateCalls, f.analyzer.compareCalls)
	}
}

func TestReviewDropsFailedNoteAnalysis(t *testing.T) {
	f := newPipelineFixture()
	f.analyzer.failNotes = map[string]bool{"n2": true}

	_, state := f.run(t, "77", "1400")

	if state.Status != domain.ReviewComplete {
		t.Fatalf("status = %s (%s)", state.Status, state.Error)
	}
	if len(f.analyzer.consolidateInput) != 2 {
		t.Fatalf("consolidation received %d analyses", len(f.analyzer.consolidateInput))
	}
	if state.Result.DocumentsAnalyzed.Notes != 3 || state.Result.DocumentsAnalyzed.NotesAnalyzed != 2 {
		t.Fatalf("documents analyzed = %+v", state.Result.DocumentsAnalyzed)
	}
}

func TestReviewResolvesThroughFallback(t *testing.T) {
	f := newPipelineFixture()
	_, state := f.run(t, "1400", "B-900")
	if state.Status != domain.ReviewComplete || state.Result.Admission.AdmissionKey != "1400" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestReviewFailsWhenAdmissionMissing(t *testing.T) {
	f := newPipelineFixture()
	f.admissions.byLookup = nil

	key, state := f.run(t, "77", "1400")

	if state.Status != domain.ReviewError || state.Error == "" || state.Result != nil {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.Percentage >= 100 {
		t.Fatalf("failed review reached %d%%", state.Percentage)
	}
	assertMonotonic(t, append(f.progress.history[key], 100))
	complete := f.audit.eventsOfType(domain.EventAnalysisComplete)
	if len(complete) != 1 || complete[0].Success || complete[0].Details["failed_stage"] != stepResolveAdmission {
		t.Fatalf("completion event = %+v", complete)
	}
	if len(f.admissions.lookups) == 0 || len(f.analyzer.analyzed) != 0 {
		t.Fatalf("pipeline continued past resolution")
	}
}

func TestReviewConsolidationFailureIsFatal(t *testing.T) {
	f := newPipelineFixture()
	f.analyzer.consolidateErr = domain.WrapError(domain.ErrAIService, "consolidate", errors.New("503"))

	_, state := f.run(t, "77", "1400")

	if state.Status != domain.ReviewError {
		t.Fatalf("status = %s", state.Status)
	}
	if f.analyzer.compareCalls != 0 {
		t.Fatalf("compare must not run after consolidation failure")
	}
}

func TestReviewComparisonFailureIsFatal(t *testing.T) {
	f := newPipelineFixture()
	f.analyzer.compareErr = domain.WrapError(domain.ErrAIService, "compare", errors.New("timeout"))

	_, state := f.run(t, "77", "1400")
	if state.Status != domain.ReviewError {
		t.Fatalf("status = %s", state.Status)
	}
}

func TestReviewDegradesOnExtractionFailures(t *testing.T) {
	f := newPipelineFixture()
	f.clinical.vitalsErr = errors.New("timeout")
	f.diagnoses.err = errors.New("timeout")

	_, state := f.run(t, "77", "1400")

	if state.Status != domain.ReviewComplete {
		t.Fatalf("status = %s (%s)", state.Status, state.Error)
	}
	if len(state.Result.Warnings) != 2 {
		t.Fatalf("warnings = %v", state.Result.Warnings)
	}
	failedSteps := 0
	for _, s := range f.audit.steps {
		if !s.Success {
			failedSteps++
		}
	}
	if failedSteps != 2 {
		t.Fatalf("expected 2 unsuccessful step entries, got %d", failedSteps)
	}
}

func TestReviewWarnsWhenNotesTruncated(t *testing.T) {
	f := newPipelineFixture()
	f.clinical.truncated = true

	_, state := f.run(t, "77", "1400")

	if state.Status != domain.ReviewComplete {
		t.Fatalf("status = %s (%s)", state.Status, state.Error)
	}
	if len(state.Result.Warnings) != 1 || !strings.Contains(state.Result.Warnings[0], "3 most recent notes") {
		t.Fatalf("warnings = %v", state.Result.Warnings)
	}
}

func TestReviewStrictCodedDiagnosesEscalate(t *testing.T) {
	f := newPipelineFixture()
	f.strict = true
	f.diagnoses.err = domain.WrapError(domain.ErrTransientData, "coded diagnoses", errors.New("timeout"))

	_, state := f.run(t, "77", "1400")
	if state.Status != domain.ReviewError {
		t.Fatalf("status = %s", state.Status)
	}
}

func TestExecuteReturnsStageError(t *testing.T) {
	f := newPipelineFixture()
	f.admissions.byLookup = nil
	job := domain.ReviewJob{ReviewKey: "k1", Request: domain.ReviewRequest{PatientID: "1", AdmissionID: "2"}}
	if err := f.progress.Create(context.Background(), domain.NewReviewProgress("k1", time.Now())); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := f.pipeline().Execute(context.Background(), job)
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != stepResolveAdmission || !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartReviewRejectsMissingIdentifiers(t *testing.T) {
	progress := newProgressStoreFake()
	dispatcher := &dispatcherFake{}
	service := NewReviewService(progress, dispatcher, &auditLogFake{}, "s", "")

	key, err := service.StartReview(context.Background(), domain.ReviewRequest{PatientID: "77"})
	if !domain.IsKind(err, domain.ErrInvalidInput) || key == "" {
		t.Fatalf("key=%q err=%v", key, err)
	}
	view, err := service.GetProgress(context.Background(), key)
	if err != nil || view.Status != domain.ReviewError || view.Error == "" {
		t.Fatalf("view=%+v err=%v", view, err)
	}
	if len(dispatcher.jobs) != 0 {
		t.Fatalf("invalid review must not be dispatched")
	}
}

func TestStartReviewReturnsBeforeExecution(t *testing.T) {
	progress := newProgressStoreFake()
	dispatcher := &dispatcherFake{}
	service := NewReviewService(progress, dispatcher, &auditLogFake{}, "s", "default.user")

	key, err := service.StartReview(context.Background(), domain.ReviewRequest{PatientID: "77", AdmissionID: "1400"})
	if err != nil {
		t.Fatalf("StartReview() error = %v", err)
	}
	if len(dispatcher.jobs) != 1 || dispatcher.jobs[0].ReviewKey != key || dispatcher.jobs[0].Request.Actor != "default.user" {
		t.Fatalf("dispatched jobs = %+v", dispatcher.jobs)
	}
	view, _ := service.GetProgress(context.Background(), key)
	if view.Status != domain.ReviewProcessing || view.Percentage != 5 {
		t.Fatalf("view = %+v", view)
	}
}

func TestStartReviewDispatchFailureMarksError(t *testing.T) {
	progress := newProgressStoreFake()
	service := NewReviewService(progress, &dispatcherFake{err: domain.ErrTemporary}, &auditLogFake{}, "s", "")

	key, err := service.StartReview(context.Background(), domain.ReviewRequest{PatientID: "77", AdmissionID: "1400"})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("err = %v", err)
	}
	state, _ := progress.Get(context.Background(), key)
	if state.Status != domain.ReviewError {
		t.Fatalf("status = %s", state.Status)
	}
}

func TestAbandonedReviewReachesTerminalError(t *testing.T) {
	f := newPipelineFixture()
	service := NewReviewService(f.progress, &dispatcherFake{}, f.audit, "s", "cdi.reviewer")
	key, err := service.StartReview(context.Background(), domain.ReviewRequest{PatientID: "77", AdmissionID: "1400"})
	if err != nil {
		t.Fatalf("StartReview() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := domain.ReviewJob{ReviewKey: key, Request: domain.ReviewRequest{PatientID: "77", AdmissionID: "1400", Actor: "cdi.reviewer"}}
	f.pipeline().Abandon(ctx, job, "worker shutting down")

	state, _ := f.progress.Get(context.Background(), key)
	if state.Status != domain.ReviewError || state.Error != "worker shutting down" {
		t.Fatalf("state = %+v", state)
	}
	complete := f.audit.eventsOfType(domain.EventAnalysisComplete)
	if len(complete) != 1 || complete[0].Success || complete[0].ErrorMessage != "worker shutting down" {
		t.Fatalf("terminal events = %+v", complete)
	}
	if len(f.analyzer.analyzed) != 0 {
		t.Fatalf("abandoned review must not reach the analyzer")
	}
}

func TestGetProgressUnknownKeyAndStableTerminalPayload(t *testing.T) {
	f := newPipelineFixture()
	key, _ := f.run(t, "77", "1400")
	service := NewReviewService(f.progress, &dispatcherFake{}, f.audit, "s", "")

	if _, err := service.GetProgress(context.Background(), "never-created"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	first, err := service.GetReview(context.Background(), key)
	if err != nil {
		t.Fatalf("GetReview() error = %v", err)
	}
	second, _ := service.GetReview(context.Background(), key)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("terminal payload changed between polls")
	}
	v1, _ := service.GetProgress(context.Background(), key)
	v2, _ := service.GetProgress(context.Background(), key)
	if v1.ElapsedSeconds != v2.ElapsedSeconds || v1.Percentage != 100 {
		t.Fatalf("terminal view unstable: %+v vs %+v", v1, v2)
	}
}
