package domain

import (
	"time"
	"unicode/utf8"
)

const (
	UnknownCode          = "UNKNOWN"
	NoDescriptionMessage = "No description available"

	CodeSystemICD10 = "ICD-10"
	CodeSystemICD9  = "ICD-9"
)

// AuthorRole classifies a note author or co-signer.
type AuthorRole string

const (
	RoleLicensedIndependent AuthorRole = "LIP"
	RoleTrainee             AuthorRole = "TRAINEE"
	RoleUnknown             AuthorRole = "UNKNOWN"
)

type ClinicalNote struct {
	NoteID         string     `json:"note_id"`
	NoteType       string     `json:"note_type"`
	ReferenceTime  time.Time  `json:"reference_time"`
	AuthorID       string     `json:"author_id"`
	CosignerID     string     `json:"cosigner_id,omitempty"`
	ProviderClass  string     `json:"provider_class,omitempty"`
	AuthorRole     AuthorRole `json:"author_role"`
	CosignerRole   AuthorRole `json:"cosigner_role,omitempty"`
	Text           string     `json:"text"`
	CharacterCount int        `json:"character_count"`
}

// NoteSet is the documentation read for one admission. Truncated reports
// that more notes matched than Limit; the newest Limit notes are kept.
type NoteSet struct {
	Notes     []ClinicalNote
	Truncated bool
	Limit     int
}

// WithCharacterCount fills the derived character count.
func (n ClinicalNote) WithCharacterCount() ClinicalNote {
	n.CharacterCount = utf8.RuneCountInString(n.Text)
	return n
}

type VitalMeasurement struct {
	Type         string    `json:"type"`
	Value        string    `json:"value"`
	NumericValue *float64  `json:"numeric_value,omitempty"`
	Units        string    `json:"units,omitempty"`
	TakenAt      time.Time `json:"taken_at"`
}

type LabResult struct {
	TestName     string    `json:"test_name"`
	Value        string    `json:"value"`
	NumericValue *float64  `json:"numeric_value,omitempty"`
	Units        string    `json:"units,omitempty"`
	Flag         string    `json:"flag,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// CodedDiagnosis is a billed diagnosis. Sequence 1 is the principal diagnosis.
type CodedDiagnosis struct {
	Sequence    int    `json:"sequence"`
	Code        string `json:"code"`
	Description string `json:"description"`
	CodeSystem  string `json:"code_system"`
}

func (d CodedDiagnosis) IsPrincipal() bool { return d.Sequence == 1 }

// ResolveCodedDiagnosis prefers the ICD-10 reference, then ICD-9, then
// sentinels. Code, description and code system always come from one system.
func ResolveCodedDiagnosis(sequence int, hasICD10 bool, icd10Code, icd10Desc, icd9Code, icd9Desc string) CodedDiagnosis {
	d := CodedDiagnosis{Sequence: sequence}
	switch {
	case icd10Code != "":
		d.Code, d.Description, d.CodeSystem = icd10Code, icd10Desc, CodeSystemICD10
	case icd9Code != "":
		d.Code, d.Description, d.CodeSystem = icd9Code, icd9Desc, CodeSystemICD9
	default:
		d.Code, d.CodeSystem = UnknownCode, CodeSystemICD9
		if hasICD10 {
			d.CodeSystem = CodeSystemICD10
		}
	}
	d.Description = firstNonEmpty(d.Description, NoDescriptionMessage)
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
