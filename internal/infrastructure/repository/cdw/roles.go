package cdw

import (
	"context"
	"log/slog"

	"github.com/doug-martin/goqu/v9"

	"github.com/kirillkom/inpatient-cdi-review/internal/config"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// ClassifyRoles walks the configured staff-directory probes in order. The
// first probe that yields any classified staff member answers for all ids;
// a probe that fails or returns nothing usable passes to the next one.
func (r *Repository) ClassifyRoles(ctx context.Context, staffIDs []string) (map[string]domain.AuthorRole, error) {
	ids := uniqueStaffKeys(staffIDs)
	if len(ids) == 0 {
		return map[string]domain.AuthorRole{}, nil
	}

	for _, probe := range r.catalog.RoleProbes {
		roles, err := r.probeRoles(ctx, probe, ids)
		if err != nil {
			slog.Debug("role_probe_failed", "probe", probe.Name, "error", err)
			continue
		}
		if len(roles) > 0 {
			return roles, nil
		}
	}
	return map[string]domain.AuthorRole{}, nil
}

func (r *Repository) probeRoles(ctx context.Context, probe config.RoleProbe, ids []any) (map[string]domain.AuthorRole, error) {
	columns := make([]any, 0, len(probe.RoleColumns)+1)
	columns = append(columns, goqu.I("p."+probe.KeyColumn))
	for _, col := range probe.RoleColumns {
		columns = append(columns, goqu.I("p."+col))
	}

	ds := r.from(probe.Table, "p").
		Select(columns...).
		Where(goqu.I("p." + probe.KeyColumn).In(ids...))

	result, err := r.run(ctx, "role_probe_"+probe.Name, ds)
	if err != nil {
		return nil, err
	}

	roles := make(map[string]domain.AuthorRole, len(result.Rows))
	for _, row := range result.Rows {
		texts := make([]string, 0, len(probe.RoleColumns))
		for _, col := range probe.RoleColumns {
			texts = append(texts, row.String(col))
		}
		role := r.keywords.ClassifyRole(texts...)
		if role == domain.RoleUnknown {
			continue
		}
		roles[row.String(probe.KeyColumn)] = role
	}
	return roles, nil
}

func uniqueStaffKeys(staffIDs []string) []any {
	seen := make(map[string]struct{}, len(staffIDs))
	out := make([]any, 0, len(staffIDs))
	for _, id := range staffIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, keyValue(id))
	}
	return out
}
