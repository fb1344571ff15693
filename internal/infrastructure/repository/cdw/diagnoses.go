package cdw

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// CodedDiagnoses returns billed diagnoses for the stay at its station in
// ordinal order. Each ordinal appears once; descriptions always render.
func (r *Repository) CodedDiagnoses(ctx context.Context, admission domain.Admission) ([]domain.CodedDiagnosis, error) {
	tables := r.catalog.Tables

	keys := []exp.Expression{goqu.I("d.InpatientSID").Eq(keyValue(admission.AdmissionKey))}
	if admission.BillingID != "" {
		keys = append(keys, goqu.I("d.PTFIEN").Eq(admission.BillingID))
	}
	conditions := []exp.Expression{goqu.Or(keys...)}
	if admission.Station != "" {
		conditions = append(conditions, goqu.I("d.Sta3n").Eq(keyValue(admission.Station)))
	}

	ds := r.from(tables.DischargeDiagnosis, "d").
		Select(
			goqu.I("d.OrdinalNumber"),
			goqu.I("d.ICD10SID"),
			goqu.I("icd10.ICD10Code"),
			goqu.I("icd10d.ICD10Description"),
			goqu.I("icd9.ICD9Code"),
			goqu.I("icd9d.ICD9Description"),
		).
		LeftJoin(tableExpr(tables.ICD10, "icd10"),
			goqu.On(goqu.I("d.ICD10SID").Eq(goqu.I("icd10.ICD10SID")))).
		LeftJoin(tableExpr(tables.ICD10Description, "icd10d"),
			goqu.On(goqu.I("d.ICD10SID").Eq(goqu.I("icd10d.ICD10SID")))).
		LeftJoin(tableExpr(tables.ICD9, "icd9"),
			goqu.On(goqu.I("d.ICD9SID").Eq(goqu.I("icd9.ICD9SID")))).
		LeftJoin(tableExpr(tables.ICD9Description, "icd9d"),
			goqu.On(goqu.I("d.ICD9SID").Eq(goqu.I("icd9d.ICD9SID")))).
		Where(conditions...).
		Order(goqu.I("d.OrdinalNumber").Asc())

	result, err := r.run(ctx, "coded_diagnoses", ds)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(result.Rows))
	diagnoses := make([]domain.CodedDiagnosis, 0, len(result.Rows))
	for _, row := range result.Rows {
		ordinal, ok := row.Int("OrdinalNumber")
		if !ok || ordinal <= 0 {
			continue
		}
		if _, dup := seen[int(ordinal)]; dup {
			continue
		}
		seen[int(ordinal)] = struct{}{}

		icd10SID, hasICD10 := row.Int("ICD10SID")
		diagnoses = append(diagnoses, domain.ResolveCodedDiagnosis(
			int(ordinal),
			hasICD10 && icd10SID > 0,
			row.String("ICD10Code"),
			row.String("ICD10Description"),
			row.String("ICD9Code"),
			row.String("ICD9Description"),
		))
	}
	return diagnoses, nil
}
