package cdw

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/kirillkom/inpatient-cdi-review/internal/config"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

// Repository reads admissions, documentation, measurements and billed
// diagnoses from the clinical warehouse. All values are bound as parameters.
type Repository struct {
	exec     ports.QueryExecutor
	dialect  goqu.DialectWrapper
	catalog  config.ClinicalCatalog
	keywords domain.RoleKeywords
	now      func() time.Time
}

func NewRepository(exec ports.QueryExecutor, dialect string, catalog config.ClinicalCatalog) *Repository {
	return &Repository{
		exec:     exec,
		dialect:  goqu.Dialect(dialect),
		catalog:  catalog,
		keywords: catalog.RoleKeywords(),
		now:      time.Now,
	}
}

func (r *Repository) from(table config.TableRef, alias string) *goqu.SelectDataset {
	return r.dialect.From(tableExpr(table, alias)).Prepared(true)
}

func (r *Repository) run(ctx context.Context, name string, ds *goqu.SelectDataset) (*domain.QueryResult, error) {
	sqlText, args, err := ds.ToSQL()
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "build "+name, err)
	}
	return r.exec.Execute(ctx, domain.Query{Name: name, SQL: sqlText, Args: args})
}

func tableExpr(table config.TableRef, alias string) exp.AliasedExpression {
	if table.Schema == "" {
		return goqu.T(table.Name).As(alias)
	}
	return goqu.S(table.Schema).Table(table.Name).As(alias)
}

// keyValue binds numeric identifiers as integers so the warehouse can use its
// integer indexes.
func keyValue(id string) any {
	if n, ok := domain.Identifier(id).Int64(); ok {
		return n
	}
	return id
}

func optionalTime(row domain.Row, column string) *time.Time {
	ts, ok := row.Time(column)
	if !ok {
		return nil
	}
	return &ts
}
