package cdw

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const defaultDischargeSearchLimit = 100

var admissionColumns = []any{
	goqu.I("i.InpatientSID"),
	goqu.I("i.PTFIEN"),
	goqu.I("i.PatientSID"),
	goqu.I("i.Sta3n"),
	goqu.I("i.AdmitDateTime"),
	goqu.I("i.DischargeDateTime"),
}

// FindAdmission matches any candidate as internal key or billing identifier,
// newest discharge first.
func (r *Repository) FindAdmission(ctx context.Context, lookup ports.AdmissionLookup) (*domain.Admission, error) {
	var matches []exp.Expression
	for _, candidate := range lookup.Candidates {
		if candidate.IsZero() {
			continue
		}
		if n, ok := candidate.Int64(); ok {
			matches = append(matches, goqu.I("i.InpatientSID").Eq(n))
		}
		matches = append(matches, goqu.I("i.PTFIEN").Eq(candidate.String()))
	}
	if len(matches) == 0 {
		return nil, nil
	}

	conditions := []exp.Expression{goqu.Or(matches...)}
	if !lookup.PatientKey.IsZero() {
		patientKey, ok := lookup.PatientKey.Int64()
		if !ok {
			return nil, nil
		}
		conditions = append(conditions, goqu.I("i.PatientSID").Eq(patientKey))
	}

	ds := r.from(r.catalog.Tables.Inpatient, "i").
		Select(admissionColumns...).
		Where(conditions...).
		Order(newestDischargeFirst()...).
		Limit(1)

	result, err := r.run(ctx, "admission_lookup", ds)
	if err != nil {
		return nil, err
	}
	if result.Empty() {
		return nil, nil
	}
	admission := admissionFromRow(result.Rows[0])
	if err := admission.Validate(); err != nil {
		return nil, err
	}
	return &admission, nil
}

// AdmittingSpecialty returns the first treating specialty of the stay, or ""
// when the stay has no recorded transfer.
func (r *Repository) AdmittingSpecialty(ctx context.Context, admission domain.Admission) (string, error) {
	tables := r.catalog.Tables
	ds := r.from(tables.SpecialtyTransfer, "st").
		Select(goqu.I("ts.TreatingSpecialtyName").As("AdmittingSpecialty")).
		InnerJoin(tableExpr(tables.TreatingSpecialty, "ts"),
			goqu.On(goqu.I("st.TreatingSpecialtySID").Eq(goqu.I("ts.TreatingSpecialtySID")))).
		Where(
			goqu.I("st.InpatientSID").Eq(keyValue(admission.AdmissionKey)),
			goqu.I("st.SpecialtyTransferDateTime").IsNotNull(),
			goqu.I("st.TreatingSpecialtySID").Gt(0),
		).
		Order(goqu.I("st.SpecialtyTransferDateTime").Asc()).
		Limit(1)

	result, err := r.run(ctx, "admitting_specialty", ds)
	if err != nil {
		return "", err
	}
	if result.Empty() {
		return "", nil
	}
	return result.Rows[0].String("AdmittingSpecialty"), nil
}

// SearchDischarged lists stays discharged on any day from From through To.
// To is a calendar date, so the upper bound is the start of the next day.
func (r *Repository) SearchDischarged(ctx context.Context, search domain.DischargeSearch) ([]domain.DischargedAdmission, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = defaultDischargeSearchLimit
	}
	conditions := []exp.Expression{
		goqu.I("i.DischargeDateTime").Gte(search.From),
		goqu.I("i.DischargeDateTime").Lt(search.To.AddDate(0, 0, 1)),
	}
	if search.Station != "" {
		conditions = append(conditions, goqu.I("i.Sta3n").Eq(keyValue(search.Station)))
	}

	ds := r.from(r.catalog.Tables.Inpatient, "i").
		Select(admissionColumns...).
		Where(conditions...).
		Order(newestDischargeFirst()...).
		Limit(uint(limit))

	result, err := r.run(ctx, "discharged_search", ds)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DischargedAdmission, 0, len(result.Rows))
	for _, row := range result.Rows {
		admission := admissionFromRow(row)
		out = append(out, domain.DischargedAdmission{
			Admission:        admission,
			LengthOfStayDays: admission.LengthOfStayDays(),
		})
	}
	return out, nil
}

// newestDischargeFirst keeps open stays after discharged ones on every
// dialect. SQL Server has no NULLS LAST, so the null rank is explicit.
func newestDischargeFirst() []exp.OrderedExpression {
	return []exp.OrderedExpression{
		goqu.L("CASE WHEN ? IS NULL THEN 1 ELSE 0 END", goqu.I("i.DischargeDateTime")).Asc(),
		goqu.I("i.DischargeDateTime").Desc(),
	}
}

func admissionFromRow(row domain.Row) domain.Admission {
	admission := domain.Admission{
		AdmissionKey:  row.String("InpatientSID"),
		PatientKey:    row.String("PatientSID"),
		BillingID:     row.String("PTFIEN"),
		Station:       row.String("Sta3n"),
		DischargeTime: optionalTime(row, "DischargeDateTime"),
	}
	if admit, ok := row.Time("AdmitDateTime"); ok {
		admission.AdmitTime = admit
	}
	return admission
}
