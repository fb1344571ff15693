package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

// AdmissionResolver finds the inpatient stay a caller means regardless of
// which identifier landed in which argument slot.
type AdmissionResolver struct {
	repo        ports.AdmissionRepository
	specialties domain.SpecialtyCatalog
}

func NewAdmissionResolver(repo ports.AdmissionRepository, specialties domain.SpecialtyCatalog) *AdmissionResolver {
	return &AdmissionResolver{repo: repo, specialties: specialties}
}

// Resolve tries, in order: the admission identifier constrained to the
// patient, the admission identifier alone, and the patient identifier alone.
// The newest discharge wins within each strategy. Repository failures
// escalate; only an exhausted chain is reported as not found.
func (r *AdmissionResolver) Resolve(ctx context.Context, patientID, admissionID domain.Identifier) (domain.Admission, error) {
	for i, lookup := range resolutionChain(patientID, admissionID) {
		admission, err := r.repo.FindAdmission(ctx, lookup)
		if err != nil {
			return domain.Admission{}, fmt.Errorf("resolve admission: %w", err)
		}
		if admission == nil {
			continue
		}
		if i > 0 {
			slog.Info("admission_resolved_by_fallback",
				"strategy", i,
				"patient_id", patientID.String(),
				"admission_id", admissionID.String(),
				"admission_key", admission.AdmissionKey,
			)
		}
		r.enrichSpecialty(ctx, admission)
		return *admission, nil
	}
	return domain.Admission{}, domain.WrapError(domain.ErrNotFound, "resolve admission",
		fmt.Errorf("no admission for patient %q and admission %q", patientID, admissionID))
}

func resolutionChain(patientID, admissionID domain.Identifier) []ports.AdmissionLookup {
	var chain []ports.AdmissionLookup
	if _, numeric := patientID.Int64(); numeric && !admissionID.IsZero() {
		chain = append(chain, ports.AdmissionLookup{Candidates: []domain.Identifier{admissionID}, PatientKey: patientID})
	}
	if !admissionID.IsZero() {
		chain = append(chain, ports.AdmissionLookup{Candidates: []domain.Identifier{admissionID}})
	}
	if !patientID.IsZero() && patientID != admissionID {
		chain = append(chain, ports.AdmissionLookup{Candidates: []domain.Identifier{patientID}})
	}
	return chain
}

// enrichSpecialty is best effort; the admission is usable without it.
func (r *AdmissionResolver) enrichSpecialty(ctx context.Context, admission *domain.Admission) {
	specialty, err := r.repo.AdmittingSpecialty(ctx, *admission)
	if err != nil {
		slog.Warn("admitting_specialty_lookup_failed", "admission_key", admission.AdmissionKey, "error", err)
	}
	admission.Specialty = specialty
	admission.SpecialtyCategory = r.specialties.Category(specialty)
}
