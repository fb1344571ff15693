package clinicaldb

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const resultSampleRows = 3

// QueryObserver records query latency and outcome.
type QueryObserver interface {
	ObserveQuery(name string, duration time.Duration, err error)
}

// AuditedExecutor writes one query-log record per executed query.
type AuditedExecutor struct {
	next      ports.QueryExecutor
	audit     ports.AuditLog
	observer  QueryObserver
	sessionID string
	now       func() time.Time
}

func NewAuditedExecutor(next ports.QueryExecutor, audit ports.AuditLog, observer QueryObserver, sessionID string) *AuditedExecutor {
	return &AuditedExecutor{
		next:      next,
		audit:     audit,
		observer:  observer,
		sessionID: sessionID,
		now:       time.Now,
	}
}

func (e *AuditedExecutor) Execute(ctx context.Context, query domain.Query) (*domain.QueryResult, error) {
	start := e.now()
	result, err := e.next.Execute(ctx, query)
	elapsed := e.now().Sub(start)

	if e.observer != nil {
		e.observer.ObserveQuery(queryName(query), elapsed, err)
	}

	scope := domain.AuditScopeFromContext(ctx)
	entry := domain.QueryLogEntry{
		Timestamp:       start.UTC(),
		SessionID:       e.sessionID,
		QueryType:       queryName(query),
		Username:        scope.Actor,
		ReviewKey:       scope.ReviewKey,
		SQL:             query.SQL,
		Parameters:      query.Args,
		Success:         err == nil,
		ExecutionTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.RowCount = result.RowCount
		entry.ResultsSample = result.Sample(resultSampleRows)
	}
	if e.audit != nil {
		if logErr := e.audit.AppendQuery(ctx, entry); logErr != nil {
			slog.Warn("query_log_append_failed", "query_type", entry.QueryType, "error", logErr)
		}
	}
	return result, err
}
