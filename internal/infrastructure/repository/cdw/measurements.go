package cdw

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// Vitals returns measurements taken between admit and discharge plus the
// trailing buffer.
func (r *Repository) Vitals(ctx context.Context, admission domain.Admission) ([]domain.VitalMeasurement, error) {
	tables := r.catalog.Tables
	start, end := admission.WindowWithBuffer(r.now(), r.catalog.TrailingBuffer())

	ds := r.from(tables.VitalSign, "v").
		Select(
			goqu.I("vt.VitalTypeName"),
			goqu.I("v.VitalResult"),
			goqu.I("v.VitalResultNumeric"),
			goqu.I("v.VitalSignTakenDateTime"),
		).
		LeftJoin(tableExpr(tables.VitalType, "vt"),
			goqu.On(goqu.I("v.VitalTypeSID").Eq(goqu.I("vt.VitalTypeSID")))).
		Where(
			goqu.I("v.PatientSID").Eq(keyValue(admission.PatientKey)),
			goqu.I("v.VitalSignTakenDateTime").Gte(start),
			goqu.I("v.VitalSignTakenDateTime").Lte(end),
		).
		Order(goqu.I("v.VitalSignTakenDateTime").Asc())

	result, err := r.run(ctx, "vitals", ds)
	if err != nil {
		return nil, err
	}
	vitals := make([]domain.VitalMeasurement, 0, len(result.Rows))
	for _, row := range result.Rows {
		taken, _ := row.Time("VitalSignTakenDateTime")
		numeric, _ := row.Float("VitalResultNumeric")
		vitals = append(vitals, domain.VitalMeasurement{
			Type:         row.String("VitalTypeName"),
			Value:        row.String("VitalResult"),
			NumericValue: numeric,
			TakenAt:      taken,
		})
	}
	return vitals, nil
}

// Labs returns chemistry results collected between admit and discharge plus
// the trailing buffer.
func (r *Repository) Labs(ctx context.Context, admission domain.Admission) ([]domain.LabResult, error) {
	tables := r.catalog.Tables
	start, end := admission.WindowWithBuffer(r.now(), r.catalog.TrailingBuffer())

	ds := r.from(tables.LabChem, "lc").
		Select(
			goqu.I("lt.LabChemTestName"),
			goqu.I("lc.LabChemResultValue"),
			goqu.I("lc.LabChemResultNumericValue"),
			goqu.I("lc.ResultUnits"),
			goqu.I("lc.LabChemResultFlag"),
			goqu.I("lc.CollectionDateTime"),
		).
		LeftJoin(tableExpr(tables.LabChemTest, "lt"),
			goqu.On(goqu.I("lc.LabChemTestSID").Eq(goqu.I("lt.LabChemTestSID")))).
		Where(
			goqu.I("lc.PatientSID").Eq(keyValue(admission.PatientKey)),
			goqu.I("lc.CollectionDateTime").Gte(start),
			goqu.I("lc.CollectionDateTime").Lte(end),
		).
		Order(goqu.I("lc.CollectionDateTime").Asc())

	result, err := r.run(ctx, "labs", ds)
	if err != nil {
		return nil, err
	}
	labs := make([]domain.LabResult, 0, len(result.Rows))
	for _, row := range result.Rows {
		collected, _ := row.Time("CollectionDateTime")
		numeric, _ := row.Float("LabChemResultNumericValue")
		labs = append(labs, domain.LabResult{
			TestName:     row.String("LabChemTestName"),
			Value:        row.String("LabChemResultValue"),
			NumericValue: numeric,
			Units:        row.String("ResultUnits"),
			Flag:         row.String("LabChemResultFlag"),
			CollectedAt:  collected,
		})
	}
	return labs, nil
}
