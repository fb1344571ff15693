package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

// ClinicalExtractor reads notes, vitals and labs for an admission. Read
// failures degrade to empty sequences; the returned error is informational
// and callers record it without aborting.
type ClinicalExtractor struct {
	repo  ports.ClinicalRepository
	roles ports.RoleClassifier
}

func NewClinicalExtractor(repo ports.ClinicalRepository, roles ports.RoleClassifier) *ClinicalExtractor {
	return &ClinicalExtractor{repo: repo, roles: roles}
}

func (e *ClinicalExtractor) Notes(ctx context.Context, admission domain.Admission) (domain.NoteSet, error) {
	set, err := e.repo.Notes(ctx, admission)
	if err != nil {
		slog.Warn("clinical_notes_extraction_failed", "admission_key", admission.AdmissionKey, "error", err)
		return domain.NoteSet{Notes: []domain.ClinicalNote{}}, err
	}
	if set.Notes == nil {
		set.Notes = []domain.ClinicalNote{}
	}
	e.classifyAuthors(ctx, set.Notes)
	return set, nil
}

func (e *ClinicalExtractor) Vitals(ctx context.Context, admission domain.Admission) ([]domain.VitalMeasurement, error) {
	vitals, err := e.repo.Vitals(ctx, admission)
	if err != nil {
		slog.Warn("vitals_extraction_failed", "admission_key", admission.AdmissionKey, "error", err)
		return []domain.VitalMeasurement{}, err
	}
	if vitals == nil {
		vitals = []domain.VitalMeasurement{}
	}
	return vitals, nil
}

func (e *ClinicalExtractor) Labs(ctx context.Context, admission domain.Admission) ([]domain.LabResult, error) {
	labs, err := e.repo.Labs(ctx, admission)
	if err != nil {
		slog.Warn("labs_extraction_failed", "admission_key", admission.AdmissionKey, "error", err)
		return []domain.LabResult{}, err
	}
	if labs == nil {
		labs = []domain.LabResult{}
	}
	return labs, nil
}

// classifyAuthors overlays staff-directory roles on the query-time guess.
// Staff the directory cannot classify keep their current role.
func (e *ClinicalExtractor) classifyAuthors(ctx context.Context, notes []domain.ClinicalNote) {
	if e.roles == nil || len(notes) == 0 {
		return
	}
	ids := make([]string, 0, len(notes)*2)
	for _, n := range notes {
		if n.AuthorID != "" {
			ids = append(ids, n.AuthorID)
		}
		if n.CosignerID != "" {
			ids = append(ids, n.CosignerID)
		}
	}
	if len(ids) == 0 {
		return
	}
	roles, err := e.roles.ClassifyRoles(ctx, ids)
	if err != nil {
		slog.Debug("author_role_classification_failed", "error", err)
		return
	}
	for i := range notes {
		if role, ok := roles[notes[i].AuthorID]; ok {
			notes[i].AuthorRole = role
		}
		if role, ok := roles[notes[i].CosignerID]; ok && notes[i].CosignerID != "" {
			notes[i].CosignerRole = role
		}
		if notes[i].AuthorRole == "" {
			notes[i].AuthorRole = domain.RoleUnknown
		}
	}
}

// DiagnosisExtractor reads billed diagnoses. With strict set, a read failure
// escalates instead of degrading to an empty list.
type DiagnosisExtractor struct {
	repo   ports.DiagnosisRepository
	strict bool
}

func NewDiagnosisExtractor(repo ports.DiagnosisRepository, strict bool) *DiagnosisExtractor {
	return &DiagnosisExtractor{repo: repo, strict: strict}
}

// CodedDiagnoses returns the degraded flag alongside the error so callers can
// tell a recorded degradation from a fatal failure.
func (e *DiagnosisExtractor) CodedDiagnoses(ctx context.Context, admission domain.Admission) ([]domain.CodedDiagnosis, bool, error) {
	coded, err := e.repo.CodedDiagnoses(ctx, admission)
	if err != nil {
		if e.strict {
			return nil, false, err
		}
		slog.Warn("coded_diagnoses_extraction_failed", "admission_key", admission.AdmissionKey, "error", err)
		return []domain.CodedDiagnosis{}, true, err
	}
	if coded == nil {
		coded = []domain.CodedDiagnosis{}
	}
	return coded, false, nil
}
