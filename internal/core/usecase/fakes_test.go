package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

type admissionRepoFake struct {
	mu         sync.Mutex
	byLookup   func(ports.AdmissionLookup) *domain.Admission
	findErr    error
	specialty  string
	specErr    error
	lookups    []ports.AdmissionLookup
	discharged []domain.DischargedAdmission
	searchErr  error
	lastSearch domain.DischargeSearch
}

func (f *admissionRepoFake) FindAdmission(_ context.Context, lookup ports.AdmissionLookup) (*domain.Admission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, lookup)
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.byLookup == nil {
		return nil, nil
	}
	return f.byLookup(lookup), nil
}

func (f *admissionRepoFake) AdmittingSpecialty(context.Context, domain.Admission) (string, error) {
	return f.specialty, f.specErr
}

func (f *admissionRepoFake) SearchDischarged(_ context.Context, search domain.DischargeSearch) ([]domain.DischargedAdmission, error) {
	f.lastSearch = search
	return f.discharged, f.searchErr
}

type clinicalRepoFake struct {
	notes     []domain.ClinicalNote
	truncated bool
	vitals    []domain.VitalMeasurement
	labs      []domain.LabResult
	notesErr  error
	vitalsErr error
	labsErr   error
}

func (f *clinicalRepoFake) Notes(context.Context, domain.Admission) (domain.NoteSet, error) {
	if f.notesErr != nil {
		return domain.NoteSet{}, f.notesErr
	}
	set := domain.NoteSet{Notes: append([]domain.ClinicalNote(nil), f.notes...), Truncated: f.truncated}
	if f.truncated {
		set.Limit = len(f.notes)
	}
	return set, nil
}

func (f *clinicalRepoFake) Vitals(context.Context, domain.Admission) ([]domain.VitalMeasurement, error) {
	return f.vitals, f.vitalsErr
}

func (f *clinicalRepoFake) Labs(context.Context, domain.Admission) ([]domain.LabResult, error) {
	return f.labs, f.labsErr
}

type roleClassifierFake struct {
	roles map[string]domain.AuthorRole
	err   error
	ids   []string
}

func (f *roleClassifierFake) ClassifyRoles(_ context.Context, ids []string) (map[string]domain.AuthorRole, error) {
	f.ids = ids
	return f.roles, f.err
}

type diagnosisRepoFake struct {
	coded []domain.CodedDiagnosis
	err   error
}

func (f *diagnosisRepoFake) CodedDiagnoses(context.Context, domain.Admission) ([]domain.CodedDiagnosis, error) {
	return f.coded, f.err
}

// analyzerFake fails AnalyzeNote for note ids listed in failNotes.
type analyzerFake struct {
	mu             sync.Mutex
	failNotes      map[string]bool
	consolidateErr error
	compareErr     error
	consolidated   domain.ConsolidatedDiagnosisSet
	comparison     domain.ComparisonResult
	summary        string

	analyzed         []string
	consolidateInput []domain.NoteAnalysis
	consolidateCalls int
	compareCalls     int
}

func (f *analyzerFake) AnalyzeNote(_ context.Context, note domain.ClinicalNote, _ []domain.VitalMeasurement, _ []domain.LabResult) (domain.NoteAnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, note.NoteID)
	if f.failNotes[note.NoteID] {
		return domain.NoteAnalysisResult{}, domain.WrapError(domain.ErrAIService, "analyze_note", errors.New("model timeout"))
	}
	return domain.NoteAnalysisResult{
		PrincipalDiagnosis: &domain.DiagnosisCandidate{Name: "Sepsis", ICD10Code: "A41.9"},
		ClinicalSummary:    "summary " + note.NoteID,
	}, nil
}

func (f *analyzerFake) Consolidate(_ context.Context, analyses []domain.NoteAnalysis, _ domain.AdmissionContext) (domain.ConsolidatedDiagnosisSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consolidateCalls++
	f.consolidateInput = analyses
	return f.consolidated, f.consolidateErr
}

func (f *analyzerFake) Compare(context.Context, domain.ConsolidatedDiagnosisSet, []domain.CodedDiagnosis) (domain.ComparisonResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compareCalls++
	return f.comparison, f.compareErr
}

func (f *analyzerFake) SummarizeNote(context.Context, string, string) (string, error) {
	return f.summary, nil
}

// progressStoreFake records every percentage written so tests can check
// monotonicity.
type progressStoreFake struct {
	mu        sync.Mutex
	entries   map[string]domain.ReviewProgress
	history   map[string][]int
	createErr error
}

func newProgressStoreFake() *progressStoreFake {
	return &progressStoreFake{entries: map[string]domain.ReviewProgress{}, history: map[string][]int{}}
}

func (f *progressStoreFake) Create(_ context.Context, p domain.ReviewProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.entries[p.ReviewKey]; ok {
		return domain.ErrConflict
	}
	f.entries[p.ReviewKey] = p.Clone()
	f.history[p.ReviewKey] = append(f.history[p.ReviewKey], p.Percentage)
	return nil
}

func (f *progressStoreFake) Get(_ context.Context, key string) (domain.ReviewProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.entries[key]
	if !ok {
		return domain.ReviewProgress{}, domain.WrapError(domain.ErrNotFound, "get progress", errors.New(key))
	}
	return p.Clone(), nil
}

func (f *progressStoreFake) Update(_ context.Context, key string, fn func(*domain.ReviewProgress) error) (domain.ReviewProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[key]
	if !ok {
		return domain.ReviewProgress{}, domain.WrapError(domain.ErrNotFound, "update progress", errors.New(key))
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return current.Clone(), err
	}
	f.entries[key] = next
	f.history[key] = append(f.history[key], next.Percentage)
	return next.Clone(), nil
}

type auditLogFake struct {
	mu      sync.Mutex
	events  []domain.AuditEvent
	steps   []domain.EvaluationStepEntry
	queries []domain.QueryLogEntry
	details []domain.AnalysisDetail
}

func (f *auditLogFake) AppendEvent(_ context.Context, e domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *auditLogFake) AppendQuery(_ context.Context, e domain.QueryLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, e)
	return nil
}

func (f *auditLogFake) AppendEvaluationStep(_ context.Context, e domain.EvaluationStepEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, e)
	return nil
}

func (f *auditLogFake) AppendAnalysisDetail(_ context.Context, d domain.AnalysisDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details = append(f.details, d)
	return nil
}

func (f *auditLogFake) eventsOfType(t domain.AuditEventType) []domain.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range f.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func (f *auditLogFake) stepNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.steps))
	for _, s := range f.steps {
		out = append(out, s.StepName)
	}
	return out
}

type metricsFake struct {
	mu       sync.Mutex
	stages   map[string]int
	reviews  []domain.ReviewStatus
	notesOK  int
	notesBad int
}

func (f *metricsFake) ObserveStage(stage string, _ time.Duration, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stages == nil {
		f.stages = map[string]int{}
	}
	f.stages[stage]++
}

func (f *metricsFake) ObserveReview(status domain.ReviewStatus, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, status)
}

func (f *metricsFake) ObserveNoteAnalysis(success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if success {
		f.notesOK++
	} else {
		f.notesBad++
	}
}

type dispatcherFake struct {
	jobs []domain.ReviewJob
	err  error
}

func (f *dispatcherFake) Dispatch(_ context.Context, job domain.ReviewJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func testAdmission() *domain.Admission {
	discharge := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	return &domain.Admission{
		AdmissionKey:  "1400",
		PatientKey:    "77",
		BillingID:     "B-900",
		Station:       "626",
		AdmitTime:     time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
		DischargeTime: &discharge,
	}
}
