package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/storage/localfs"
)

const (
	auditStream    = "audit_log.jsonl"
	analysisStream = "analysis_log.jsonl"
	queryPrefix    = "queries_"
	evalPrefix     = "evaluations_"
	dayLayout      = "20060102"
)

// Store is the append-only audit trail: audit events and analysis details
// in single streams, queries and evaluation steps in daily streams.
type Store struct {
	files *localfs.Storage
	now   func() time.Time
}

func New(files *localfs.Storage) *Store {
	return &Store{files: files, now: time.Now}
}

func (s *Store) AppendEvent(ctx context.Context, event domain.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	return s.append(ctx, auditStream, event)
}

func (s *Store) AppendQuery(ctx context.Context, entry domain.QueryLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	return s.append(ctx, dailyStream(queryPrefix, entry.Timestamp), entry)
}

func (s *Store) AppendEvaluationStep(ctx context.Context, entry domain.EvaluationStepEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	return s.append(ctx, dailyStream(evalPrefix, entry.Timestamp), entry)
}

func (s *Store) AppendAnalysisDetail(ctx context.Context, detail domain.AnalysisDetail) error {
	if detail.Timestamp.IsZero() {
		detail.Timestamp = s.now().UTC()
	}
	return s.append(ctx, analysisStream, detail)
}

// RecentEvents returns the last count events in file order, optionally of one type.
func (s *Store) RecentEvents(ctx context.Context, count int, eventType domain.AuditEventType) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	err := scan(ctx, s.files, auditStream, func(e domain.AuditEvent) {
		if eventType == "" || e.EventType == eventType {
			events = append(events, e)
		}
	})
	if err != nil {
		return nil, err
	}
	return tail(events, count), nil
}

func (s *Store) EventStatistics(ctx context.Context) (domain.AuditStatistics, error) {
	stats := domain.AuditStatistics{EventTypes: map[string]int{}, Users: []string{}}
	users := map[string]struct{}{}
	patients := map[string]struct{}{}
	err := scan(ctx, s.files, auditStream, func(e domain.AuditEvent) {
		stats.TotalEvents++
		if e.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		eventType := string(e.EventType)
		if eventType == "" {
			eventType = "UNKNOWN"
		}
		stats.EventTypes[eventType]++
		if e.Username != "" {
			users[e.Username] = struct{}{}
		}
		if e.PatientID != "" {
			patients[e.PatientID] = struct{}{}
		}
	})
	if err != nil {
		return domain.AuditStatistics{}, err
	}
	for u := range users {
		stats.Users = append(stats.Users, u)
	}
	sort.Strings(stats.Users)
	stats.PatientsReviewed = len(patients)
	return stats, nil
}

// RecentQueries reads today's query stream.
func (s *Store) RecentQueries(ctx context.Context, count int, queryType string) ([]domain.QueryLogEntry, error) {
	var entries []domain.QueryLogEntry
	err := scan(ctx, s.files, dailyStream(queryPrefix, s.now()), func(e domain.QueryLogEntry) {
		if queryType == "" || e.QueryType == queryType {
			entries = append(entries, e)
		}
	})
	if err != nil {
		return nil, err
	}
	return tail(entries, count), nil
}

// FailedQueries returns failed queries logged after since, across daily streams.
func (s *Store) FailedQueries(ctx context.Context, since time.Time) ([]domain.QueryLogEntry, error) {
	keys, err := s.streamsSince(queryPrefix, since)
	if err != nil {
		return nil, err
	}
	failed := []domain.QueryLogEntry{}
	for _, key := range keys {
		err := scan(ctx, s.files, key, func(e domain.QueryLogEntry) {
			if !e.Success && e.Timestamp.After(since) {
				failed = append(failed, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return failed, nil
}

// QueryStatistics summarizes today's query stream.
func (s *Store) QueryStatistics(ctx context.Context) (domain.QueryStatistics, error) {
	stats := domain.QueryStatistics{ByType: map[string]domain.QueryTypeStatistics{}}
	var totalMS float64
	typeMS := map[string]float64{}
	err := scan(ctx, s.files, dailyStream(queryPrefix, s.now()), func(e domain.QueryLogEntry) {
		stats.TotalQueries++
		queryType := e.QueryType
		if queryType == "" {
			queryType = "unknown"
		}
		byType := stats.ByType[queryType]
		byType.Count++
		if e.Success {
			stats.Successful++
			stats.TotalRowsReturned += e.RowCount
		} else {
			stats.Failed++
			byType.Failed++
		}
		totalMS += e.ExecutionTimeMS
		typeMS[queryType] += e.ExecutionTimeMS
		stats.ByType[queryType] = byType
	})
	if err != nil {
		return domain.QueryStatistics{}, err
	}
	if stats.TotalQueries > 0 {
		stats.AvgExecutionTimeMS = round2(totalMS / float64(stats.TotalQueries))
	}
	for queryType, byType := range stats.ByType {
		byType.AvgExecutionTimeMS = round2(typeMS[queryType] / float64(byType.Count))
		stats.ByType[queryType] = byType
	}
	return stats, nil
}

// EvaluationLog returns every recorded step of one review in order.
func (s *Store) EvaluationLog(ctx context.Context, evaluationID string) ([]domain.EvaluationStepEntry, error) {
	keys, err := s.files.List(evalPrefix + "*.jsonl")
	if err != nil {
		return nil, err
	}
	steps := []domain.EvaluationStepEntry{}
	for _, key := range keys {
		err := scan(ctx, s.files, key, func(e domain.EvaluationStepEntry) {
			if e.EvaluationID == evaluationID {
				steps = append(steps, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return steps, nil
}

func (s *Store) append(ctx context.Context, stream string, record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", stream, err)
	}
	return s.files.AppendLine(ctx, stream, line)
}

func (s *Store) streamsSince(prefix string, since time.Time) ([]string, error) {
	keys, err := s.files.List(prefix + "*.jsonl")
	if err != nil {
		return nil, err
	}
	first := dailyStream(prefix, since)
	out := keys[:0]
	for _, key := range keys {
		if key >= first {
			out = append(out, key)
		}
	}
	return out, nil
}

// dailyStream names the stream for the UTC day of ts.
func dailyStream(prefix string, ts time.Time) string {
	return prefix + ts.UTC().Format(dayLayout) + ".jsonl"
}

// scan decodes each line of a stream; undecodable lines are skipped.
func scan[T any](ctx context.Context, files *localfs.Storage, stream string, fn func(T)) error {
	return files.ScanLines(ctx, stream, func(line []byte) error {
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Debug("audit_line_skipped", "stream", stream, "error", err)
			return nil
		}
		fn(record)
		return nil
	})
}

func tail[T any](items []T, count int) []T {
	if items == nil {
		items = []T{}
	}
	if count > 0 && len(items) > count {
		return items[len(items)-count:]
	}
	return items
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
