package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Query is a parameterized statement for the clinical data store.
// Name labels the query in logs and metrics.
type Query struct {
	Name string
	SQL  string
	Args []any
}

// Row maps column name to scanned value.
type Row map[string]any

// QueryResult is the success variant of a data-access call. Failures are
// reported as errors and never as a partially filled result.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     []Row    `json:"rows"`
	RowCount int      `json:"row_count"`
}

func (r *QueryResult) Empty() bool { return r == nil || len(r.Rows) == 0 }

// String renders a column as trimmed text; NULL becomes "".
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Has reports whether the column is present and not NULL.
func (r Row) Has(column string) bool {
	v, ok := r[column]
	return ok && v != nil
}

func (r Row) Int(column string) (int64, bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case int16:
		return int64(v), true
	case float64:
		return int64(v), true
	case string, []byte:
		n, err := strconv.ParseInt(r.String(column), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (r Row) Float(column string) (*float64, bool) {
	switch v := r[column].(type) {
	case float64:
		return &v, true
	case float32:
		f := float64(v)
		return &f, true
	case int64:
		f := float64(v)
		return &f, true
	case int:
		f := float64(v)
		return &f, true
	case string, []byte:
		f, err := strconv.ParseFloat(r.String(column), 64)
		if err != nil {
			return nil, false
		}
		return &f, true
	default:
		return nil, false
	}
}

func (r Row) Time(column string) (time.Time, bool) {
	switch v := r[column].(type) {
	case time.Time:
		return v, true
	case string, []byte:
		s := r.String(column)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Sample returns up to n rows for logging.
func (r *QueryResult) Sample(n int) []map[string]any {
	if r == nil || len(r.Rows) == 0 || n <= 0 {
		return nil
	}
	if len(r.Rows) < n {
		n = len(r.Rows)
	}
	out := make([]map[string]any, 0, n)
	for _, row := range r.Rows[:n] {
		copied := make(map[string]any, len(row))
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			copied[k] = v
		}
		out = append(out, copied)
	}
	return out
}
