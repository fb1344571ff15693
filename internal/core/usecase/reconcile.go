package usecase

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

// NoteProgressFunc reports how many notes have finished analysis.
type NoteProgressFunc func(done, total int)

// Reconciler drives the AI stage: per-note analysis, consolidation and
// comparison against billed codes.
type Reconciler struct {
	analyzer    ports.ClinicalAnalyzer
	metrics     ports.ReviewMetrics
	concurrency int
}

func NewReconciler(analyzer ports.ClinicalAnalyzer, metrics ports.ReviewMetrics, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Reconciler{analyzer: analyzer, metrics: metrics, concurrency: concurrency}
}

// Analyze runs each note once. Failed notes contribute nothing; the result
// keeps note order among the successes.
func (r *Reconciler) Analyze(
	ctx context.Context,
	notes []domain.ClinicalNote,
	vitals []domain.VitalMeasurement,
	labs []domain.LabResult,
	progress NoteProgressFunc,
) []domain.NoteAnalysis {
	results := make([]*domain.NoteAnalysis, len(notes))

	var (
		mu   sync.Mutex
		done int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for i, note := range notes {
		group.Go(func() error {
			result, err := r.analyzer.AnalyzeNote(groupCtx, note, vitals, labs)
			if err != nil {
				slog.Warn("note_analysis_failed", "note_id", note.NoteID, "note_type", note.NoteType, "error", err)
			} else {
				results[i] = &domain.NoteAnalysis{NoteID: note.NoteID, NoteType: note.NoteType, Result: result}
			}
			if r.metrics != nil {
				r.metrics.ObserveNoteAnalysis(err == nil)
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			if progress != nil {
				progress(done, len(notes))
			}
			return nil
		})
	}
	_ = group.Wait()

	analyses := make([]domain.NoteAnalysis, 0, len(notes))
	for _, a := range results {
		if a != nil {
			analyses = append(analyses, *a)
		}
	}
	return analyses
}

// Consolidate refuses to call the model without at least one analysis.
func (r *Reconciler) Consolidate(ctx context.Context, analyses []domain.NoteAnalysis, admission domain.AdmissionContext) (domain.ConsolidatedDiagnosisSet, error) {
	if len(analyses) == 0 {
		return domain.ConsolidatedDiagnosisSet{}, domain.ErrNoNotesAnalyzed
	}
	return r.analyzer.Consolidate(ctx, analyses, admission)
}

func (r *Reconciler) Compare(ctx context.Context, consolidated domain.ConsolidatedDiagnosisSet, coded []domain.CodedDiagnosis) (domain.ComparisonResult, error) {
	return r.analyzer.Compare(ctx, consolidated, coded)
}
