package clinicaldb

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

func newClientWithMock(t *testing.T) (*Client, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	client := New(Options{Driver: DriverSQLServer, DSN: "sqlserver://cdw", QueryTimeout: time.Second})
	client.open = func(string, string) (*sql.DB, error) { return db, nil }
	mock.ExpectPing()
	return client, mock, func() { _ = db.Close() }
}

func TestExecuteReturnsRowsByColumn(t *testing.T) {
	client, mock, done := newClientWithMock(t)
	defer done()

	admit := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "InpatientSID", "PTFIEN" FROM "Inpat"."Inpatient" WHERE ("PatientSID" = @p1)`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"InpatientSID", "PTFIEN", "AdmitDateTime"}).
			AddRow(int64(1600004711061), []byte("PTF-9"), admit))

	result, err := client.Execute(context.Background(), domain.Query{
		Name: "admission_lookup",
		SQL:  `SELECT "InpatientSID", "PTFIEN" FROM "Inpat"."Inpatient" WHERE ("PatientSID" = @p1)`,
		Args: []any{int64(42)},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 1 || len(result.Columns) != 3 {
		t.Fatalf("unexpected result shape: %+v", result)
	}
	row := result.Rows[0]
	if got := row.String("PTFIEN"); got != "PTF-9" {
		t.Fatalf("expected bytes converted to string, got %q", got)
	}
	if key, ok := row.Int("InpatientSID"); !ok || key != 1600004711061 {
		t.Fatalf("unexpected internal key %d", key)
	}
	if ts, ok := row.Time("AdmitDateTime"); !ok || !ts.Equal(admit) {
		t.Fatalf("unexpected admit time %v", ts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecuteWrapsQueryFailureAsTransient(t *testing.T) {
	client, mock, done := newClientWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout expired"))

	_, err := client.Execute(context.Background(), domain.Query{Name: "notes", SQL: "SELECT 1"})
	if !domain.IsKind(err, domain.ErrTransientData) {
		t.Fatalf("expected transient data error, got %v", err)
	}
	if client.suspect {
		t.Fatalf("non-connection failure must not mark the pool suspect")
	}
}

func TestExecuteWithoutDSNIsConfigurationError(t *testing.T) {
	client := New(Options{Driver: DriverSQLServer})
	_, err := client.Execute(context.Background(), domain.Query{SQL: "SELECT 1"})
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExecuteReconnectsAfterConnectionFailure(t *testing.T) {
	client, mock, done := newClientWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT 1").WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")})
	if _, err := client.Execute(context.Background(), domain.Query{SQL: "SELECT 1"}); err == nil {
		t.Fatalf("expected first query to fail")
	}
	if !client.suspect {
		t.Fatalf("expected pool to be marked suspect")
	}

	mock.ExpectPing().WillReturnError(errors.New("down"))

	replacement, replacementMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer replacement.Close()
	reopened := 0
	client.open = func(string, string) (*sql.DB, error) {
		reopened++
		return replacement, nil
	}
	replacementMock.ExpectPing()
	replacementMock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

	result, err := client.Execute(context.Background(), domain.Query{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Execute() after reconnect error = %v", err)
	}
	if reopened != 1 || result.RowCount != 1 {
		t.Fatalf("expected one reconnect and one row, got reopened=%d rows=%d", reopened, result.RowCount)
	}
	if err := replacementMock.ExpectationsWereMet(); err != nil {
		t.Fatalf("replacement expectations: %v", err)
	}
}

type auditFake struct {
	queries []domain.QueryLogEntry
}

func (f *auditFake) AppendEvent(context.Context, domain.AuditEvent) error { return nil }
func (f *auditFake) AppendQuery(_ context.Context, e domain.QueryLogEntry) error {
	f.queries = append(f.queries, e)
	return nil
}
func (f *auditFake) AppendEvaluationStep(context.Context, domain.EvaluationStepEntry) error {
	return nil
}
func (f *auditFake) AppendAnalysisDetail(context.Context, domain.AnalysisDetail) error { return nil }

type executorFake struct {
	result *domain.QueryResult
	err    error
}

func (f executorFake) Execute(context.Context, domain.Query) (*domain.QueryResult, error) {
	return f.result, f.err
}

func TestAuditedExecutorLogsSampleAndScope(t *testing.T) {
	rows := []domain.Row{{"n": int64(1)}, {"n": int64(2)}, {"n": int64(3)}, {"n": int64(4)}}
	audit := &auditFake{}
	exec := NewAuditedExecutor(executorFake{result: &domain.QueryResult{Columns: []string{"n"}, Rows: rows, RowCount: 4}}, audit, nil, "20260110_080000")

	ctx := domain.WithAuditScope(context.Background(), domain.AuditScope{ReviewKey: "rk-1", Actor: "cdi.reviewer"})
	if _, err := exec.Execute(ctx, domain.Query{Name: "vitals", SQL: "SELECT n", Args: []any{"x"}}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(audit.queries) != 1 {
		t.Fatalf("expected one query log entry, got %d", len(audit.queries))
	}
	entry := audit.queries[0]
	if entry.QueryType != "vitals" || entry.RowCount != 4 || len(entry.ResultsSample) != 3 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.ReviewKey != "rk-1" || entry.Username != "cdi.reviewer" || entry.SessionID != "20260110_080000" {
		t.Fatalf("missing scope on entry: %+v", entry)
	}
}

func TestAuditedExecutorLogsFailure(t *testing.T) {
	audit := &auditFake{}
	exec := NewAuditedExecutor(executorFake{err: errors.New("deadlock victim")}, audit, nil, "s")
	if _, err := exec.Execute(context.Background(), domain.Query{Name: "labs", SQL: "SELECT"}); err == nil {
		t.Fatalf("expected error")
	}
	if audit.queries[0].Success || audit.queries[0].Error != "deadlock victim" {
		t.Fatalf("unexpected failure entry: %+v", audit.queries[0])
	}
}
