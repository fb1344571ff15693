package domain

import (
	"fmt"
	"reflect"
	"time"
)

type AuditEventType string

const (
	EventApplicationStart    AuditEventType = "APPLICATION_START"
	EventApplicationShutdown AuditEventType = "APPLICATION_SHUTDOWN"
	EventPatientSelection    AuditEventType = "PATIENT_SELECTION"
	EventDocumentExtraction  AuditEventType = "DOCUMENT_EXTRACTION"
	EventAnalysisStart       AuditEventType = "ANALYSIS_START"
	EventAnalysisStep        AuditEventType = "ANALYSIS_STEP"
	EventAnalysisComplete    AuditEventType = "ANALYSIS_COMPLETE"
	EventComparisonResult    AuditEventType = "COMPARISON_RESULT"
	EventPatientSearch       AuditEventType = "PATIENT_SEARCH"
)

// AuditEvent is one line of the audit stream.
type AuditEvent struct {
	EventID      string         `json:"event_id"`
	Timestamp    time.Time      `json:"timestamp"`
	SessionID    string         `json:"session_id"`
	EventType    AuditEventType `json:"event_type"`
	Username     string         `json:"username"`
	PatientID    string         `json:"patient_id,omitempty"`
	ReviewKey    string         `json:"review_key,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// QueryLogEntry records one clinical data query.
type QueryLogEntry struct {
	Timestamp       time.Time        `json:"timestamp"`
	SessionID       string           `json:"session_id"`
	QueryType       string           `json:"query_type"`
	Username        string           `json:"username"`
	ReviewKey       string           `json:"review_key,omitempty"`
	SQL             string           `json:"sql_query"`
	Parameters      []any            `json:"parameters"`
	Success         bool             `json:"success"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
	Error           string           `json:"error,omitempty"`
	ResultsSample   []map[string]any `json:"results_sample,omitempty"`
}

// EvaluationStepEntry records one pipeline step of a review.
type EvaluationStepEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	SessionID       string    `json:"session_id"`
	EvaluationID    string    `json:"evaluation_id"`
	PatientID       string    `json:"patient_id"`
	Username        string    `json:"username"`
	StepName        string    `json:"step_name"`
	StepType        string    `json:"step_type"`
	Success         bool      `json:"success"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	InputSummary    string    `json:"input_summary"`
	OutputSummary   string    `json:"output_summary"`
	Error           string    `json:"error,omitempty"`
}

// AnalysisDetail keeps the full AI output of one review for replay.
type AnalysisDetail struct {
	Timestamp    time.Time      `json:"timestamp"`
	SessionID    string         `json:"session_id"`
	ReviewKey    string         `json:"review_key"`
	PatientID    string         `json:"patient_id"`
	Username     string         `json:"username"`
	NoteAnalyses []NoteAnalysis `json:"note_analyses"`
	Consolidated any            `json:"consolidated,omitempty"`
	Comparison   any            `json:"comparison,omitempty"`
}

type AuditStatistics struct {
	TotalEvents      int            `json:"total_events"`
	Successful       int            `json:"successful"`
	Failed           int            `json:"failed"`
	EventTypes       map[string]int `json:"event_types"`
	Users            []string       `json:"users"`
	PatientsReviewed int            `json:"patients_reviewed"`
}

type QueryTypeStatistics struct {
	Count              int     `json:"count"`
	Failed             int     `json:"failed"`
	AvgExecutionTimeMS float64 `json:"avg_execution_time_ms"`
}

type QueryStatistics struct {
	TotalQueries       int                            `json:"total_queries"`
	Successful         int                            `json:"successful"`
	Failed             int                            `json:"failed"`
	TotalRowsReturned  int                            `json:"total_rows_returned"`
	AvgExecutionTimeMS float64                        `json:"avg_execution_time_ms"`
	ByType             map[string]QueryTypeStatistics `json:"by_type"`
}

const summaryMaxChars = 100

// Summarize renders a compact description of a step input or output.
func Summarize(v any) string {
	if v == nil {
		return "None"
	}
	if s, ok := v.(string); ok {
		r := []rune(s)
		if len(r) > summaryMaxChars {
			return string(r[:summaryMaxChars]) + "..."
		}
		return s
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "None"
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("List[%d items]", rv.Len())
	case reflect.Map:
		return fmt.Sprintf("Dict[%d keys]", rv.Len())
	case reflect.Struct:
		return fmt.Sprintf("Dict[%d keys]", rv.NumField())
	}
	return Summarize(fmt.Sprint(rv.Interface()))
}
