package cdw

import (
	"context"
	"log/slog"
	"slices"

	"github.com/doug-martin/goqu/v9"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// Notes returns signed notes inside the admission window whose author's
// provider class is on the allow-list. Other authors never leave the warehouse.
// Past the catalog's note cap the newest notes win, since the discharge
// summary comes last; the set is returned oldest first.
func (r *Repository) Notes(ctx context.Context, admission domain.Admission) (domain.NoteSet, error) {
	tables := r.catalog.Tables
	start, end := admission.Window(r.now())

	ds := r.from(tables.Document, "doc").
		Select(
			goqu.I("doc.TIUDocumentSID"),
			goqu.I("def.TIUDocumentDefinitionPrintName").As("NoteType"),
			goqu.I("doc.ReferenceDateTime"),
			goqu.I("doc.SignedByStaffSID"),
			goqu.I("doc.CosignedByStaffSID"),
			goqu.I("s.ProviderClass"),
			goqu.I("txt.ReportText"),
		).
		InnerJoin(tableExpr(tables.DocumentText, "txt"),
			goqu.On(goqu.I("doc.TIUDocumentSID").Eq(goqu.I("txt.TIUDocumentSID")))).
		LeftJoin(tableExpr(tables.DocumentDefinition, "def"),
			goqu.On(goqu.I("doc.TIUDocumentDefinitionSID").Eq(goqu.I("def.TIUDocumentDefinitionSID")))).
		InnerJoin(tableExpr(tables.Staff, "s"),
			goqu.On(goqu.I("doc.SignedByStaffSID").Eq(goqu.I("s.StaffSID")))).
		Where(
			goqu.I("doc.PatientSID").Eq(keyValue(admission.PatientKey)),
			goqu.I("doc.ReferenceDateTime").Gte(start),
			goqu.I("doc.ReferenceDateTime").Lte(end),
			goqu.I("txt.ReportText").IsNotNull(),
			goqu.I("s.ProviderClass").In(r.catalog.ProviderClasses),
		).
		Order(goqu.I("doc.ReferenceDateTime").Desc()).
		Limit(uint(r.catalog.MaxNotes + 1))

	result, err := r.run(ctx, "clinical_notes", ds)
	if err != nil {
		return domain.NoteSet{}, err
	}

	set := domain.NoteSet{Limit: r.catalog.MaxNotes}
	found := result.Rows
	if len(found) > r.catalog.MaxNotes {
		set.Truncated = true
		found = found[:r.catalog.MaxNotes]
		slog.Warn("clinical_notes_truncated", "admission_key", admission.AdmissionKey, "max_notes", r.catalog.MaxNotes)
	}

	notes := make([]domain.ClinicalNote, 0, len(found))
	for _, row := range found {
		text := row.String("ReportText")
		if text == "" {
			continue
		}
		referenced, _ := row.Time("ReferenceDateTime")
		providerClass := row.String("ProviderClass")
		note := domain.ClinicalNote{
			NoteID:        row.String("TIUDocumentSID"),
			NoteType:      row.String("NoteType"),
			ReferenceTime: referenced,
			AuthorID:      staffID(row, "SignedByStaffSID"),
			CosignerID:    staffID(row, "CosignedByStaffSID"),
			ProviderClass: providerClass,
			AuthorRole:    r.keywords.ClassifyRole(providerClass),
			Text:          text,
		}
		if note.CosignerID != "" {
			note.CosignerRole = domain.RoleUnknown
		}
		notes = append(notes, note.WithCharacterCount())
	}
	slices.Reverse(notes)
	set.Notes = notes
	return set, nil
}

// staffID drops the warehouse's non-positive placeholder keys.
func staffID(row domain.Row, column string) string {
	if n, ok := row.Int(column); ok && n <= 0 {
		return ""
	}
	return row.String(column)
}
