package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Identifier is a caller-supplied patient or admission reference normalized
// to its canonical string form. It may hold a billing identifier or an
// internal key; nothing downstream assumes which.
type Identifier string

// ParseIdentifier normalizes strings, integers and JSON numbers into an Identifier.
func ParseIdentifier(v any) (Identifier, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case Identifier:
		return NormalizeIdentifier(string(t)), nil
	case string:
		return NormalizeIdentifier(t), nil
	case json.Number:
		return NormalizeIdentifier(t.String()), nil
	case float64:
		if t != float64(int64(t)) {
			return "", fmt.Errorf("identifier %v is not integral", t)
		}
		return Identifier(strconv.FormatInt(int64(t), 10)), nil
	case int:
		return Identifier(strconv.Itoa(t)), nil
	case int64:
		return Identifier(strconv.FormatInt(t, 10)), nil
	default:
		return "", fmt.Errorf("unsupported identifier type %T", v)
	}
}

// NormalizeIdentifier trims whitespace and strips a trailing ".0" left by
// spreadsheet or float round trips.
func NormalizeIdentifier(raw string) Identifier {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.ParseInt(strings.TrimSuffix(s, ".0"), 10, 64); err == nil {
			s = strings.TrimSuffix(s, ".0")
		}
	}
	return Identifier(s)
}

func (id Identifier) String() string { return string(id) }

func (id Identifier) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// Int64 reports the numeric form when the identifier can address an integer key column.
func (id Identifier) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UnmarshalJSON accepts both string and numeric JSON values.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NormalizeIdentifier(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be string or number: %w", err)
	}
	parsed, err := ParseIdentifier(n)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
