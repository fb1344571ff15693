package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

type auditReaderFake struct {
	lastCount int
	lastType  string
	since     time.Time
}

func (f *auditReaderFake) RecentEvents(_ context.Context, count int, eventType domain.AuditEventType) ([]domain.AuditEvent, error) {
	f.lastCount, f.lastType = count, string(eventType)
	return []domain.AuditEvent{}, nil
}

func (f *auditReaderFake) EventStatistics(context.Context) (domain.AuditStatistics, error) {
	return domain.AuditStatistics{TotalEvents: 3}, nil
}

func (f *auditReaderFake) RecentQueries(_ context.Context, count int, queryType string) ([]domain.QueryLogEntry, error) {
	f.lastCount, f.lastType = count, queryType
	return []domain.QueryLogEntry{}, nil
}

func (f *auditReaderFake) FailedQueries(_ context.Context, since time.Time) ([]domain.QueryLogEntry, error) {
	f.since = since
	return []domain.QueryLogEntry{}, nil
}

func (f *auditReaderFake) QueryStatistics(context.Context) (domain.QueryStatistics, error) {
	return domain.QueryStatistics{}, nil
}

func (f *auditReaderFake) EvaluationLog(context.Context, string) ([]domain.EvaluationStepEntry, error) {
	return []domain.EvaluationStepEntry{}, nil
}

func TestReportingClampsCounts(t *testing.T) {
	reader := &auditReaderFake{}
	service := NewReportingService(reader)

	cases := map[int]int{0: defaultReportCount, -3: defaultReportCount, 20: 20, 5000: maxReportCount}
	for in, want := range cases {
		if _, err := service.RecentEvents(context.Background(), in, domain.EventPatientSearch); err != nil {
			t.Fatalf("RecentEvents() error = %v", err)
		}
		if reader.lastCount != want {
			t.Fatalf("count %d -> %d, want %d", in, reader.lastCount, want)
		}
	}
	if _, err := service.RecentQueries(context.Background(), 7, "notes"); err != nil || reader.lastType != "notes" {
		t.Fatalf("RecentQueries() err=%v type=%q", err, reader.lastType)
	}
}

func TestReportingRejectsMissingArguments(t *testing.T) {
	service := NewReportingService(&auditReaderFake{})
	if _, err := service.EvaluationLog(context.Background(), ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := service.FailedQueries(context.Background(), time.Time{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSearchDischargedValidatesAndAudits(t *testing.T) {
	repo := &admissionRepoFake{discharged: []domain.DischargedAdmission{{LengthOfStayDays: 5}}}
	audit := &auditLogFake{}
	service := NewPatientSearchService(repo, audit, "s", "626")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	ctx := domain.WithAuditScope(context.Background(), domain.AuditScope{Actor: "coder1"})

	results, err := service.SearchDischarged(ctx, domain.DischargeSearch{From: from, To: to})
	if err != nil || len(results) != 1 {
		t.Fatalf("results=%v err=%v", results, err)
	}
	if repo.lastSearch.Station != "626" || repo.lastSearch.Limit != defaultSearchLimit {
		t.Fatalf("search defaults not applied: %+v", repo.lastSearch)
	}
	events := audit.eventsOfType(domain.EventPatientSearch)
	if len(events) != 1 || events[0].Username != "coder1" || events[0].Details["results"] != 1 {
		t.Fatalf("search event = %+v", events)
	}

	if _, err := service.SearchDischarged(ctx, domain.DischargeSearch{From: to, To: from}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestSearchDischargedRecordsFailure(t *testing.T) {
	repo := &admissionRepoFake{searchErr: domain.WrapError(domain.ErrTransientData, "search", errors.New("timeout"))}
	audit := &auditLogFake{}
	service := NewPatientSearchService(repo, audit, "s", "")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := service.SearchDischarged(context.Background(), domain.DischargeSearch{From: from, To: from, Limit: 5000})
	if !domain.IsKind(err, domain.ErrTransientData) {
		t.Fatalf("err = %v", err)
	}
	if repo.lastSearch.Limit != maxSearchLimit {
		t.Fatalf("limit = %d", repo.lastSearch.Limit)
	}
	events := audit.eventsOfType(domain.EventPatientSearch)
	if len(events) != 1 || events[0].Success || events[0].ErrorMessage == "" {
		t.Fatalf("search event = %+v", events)
	}
}

func TestSummarizeNote(t *testing.T) {
	service := NewNoteSummaryService(&analyzerFake{summary: "  Septic shock.\n"})
	summary, err := service.SummarizeNote(context.Background(), "PROGRESS", "text")
	if err != nil || summary != "Septic shock." {
		t.Fatalf("summary=%q err=%v", summary, err)
	}
	if _, err := service.SummarizeNote(context.Background(), "", " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

type probeFake struct {
	name string
	err  error
}

func (p probeFake) Name() string               { return p.name }
func (p probeFake) Ping(context.Context) error { return p.err }

func TestDiagnosticsReportsEachProbe(t *testing.T) {
	service := NewDiagnosticsService("sess", map[string]any{"provider_classes": 4},
		probeFake{name: "clinical_db"},
		probeFake{name: "llm", err: errors.New("connection refused")},
	)

	report := service.Diagnostics(context.Background())
	if report.Status != "degraded" || report.SessionID != "sess" {
		t.Fatalf("report = %+v", report)
	}
	if !report.Checks["clinical_db"].Healthy || report.Checks["llm"].Healthy || report.Checks["llm"].Error == "" {
		t.Fatalf("checks = %+v", report.Checks)
	}
}

func TestInProcessDispatcherRunsDetached(t *testing.T) {
	done := make(chan domain.ReviewJob, 1)
	runner := runnerFunc(func(ctx context.Context, job domain.ReviewJob) error {
		if ctx.Err() != nil {
			t.Errorf("job context cancelled with submitter: %v", ctx.Err())
		}
		done <- job
		return nil
	})
	dispatcher := NewInProcessDispatcher(runner, time.Minute)

	submitCtx, cancel := context.WithCancel(context.Background())
	if err := dispatcher.Dispatch(submitCtx, domain.ReviewJob{ReviewKey: "k"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	cancel()

	if err := dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case job := <-done:
		if job.ReviewKey != "k" {
			t.Fatalf("job = %+v", job)
		}
	default:
		t.Fatalf("job did not run before shutdown returned")
	}
	if err := dispatcher.Dispatch(context.Background(), domain.ReviewJob{}); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary after shutdown, got %v", err)
	}
}

type runnerFunc func(context.Context, domain.ReviewJob) error

func (f runnerFunc) Execute(ctx context.Context, job domain.ReviewJob) error { return f(ctx, job) }
