package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DiagnosisCandidate is a diagnosis proposed by AI analysis of documentation.
type DiagnosisCandidate struct {
	Name            string     `json:"name"`
	ICD10Code       string     `json:"icd10_code,omitempty"`
	Type            string     `json:"type,omitempty"`
	Evidence        StringList `json:"evidence,omitempty"`
	Confidence      string     `json:"confidence,omitempty"`
	POA             FlexString `json:"poa,omitempty"`
	CCMCC           FlexString `json:"cc_mcc,omitempty"`
	SupportingNotes StringList `json:"supporting_notes,omitempty"`
}

type UndercodingFlag struct {
	Current   string `json:"current"`
	Suggested string `json:"suggested"`
	Reason    string `json:"reason"`
}

// NoteAnalysisResult is the structured extraction for one note.
type NoteAnalysisResult struct {
	PrincipalDiagnosis   *DiagnosisCandidate  `json:"principal_diagnosis,omitempty"`
	SecondaryDiagnoses   []DiagnosisCandidate `json:"secondary_diagnoses"`
	PotentialUndercoding []UndercodingFlag    `json:"potential_undercoding"`
	ClinicalSummary      string               `json:"clinical_summary"`
}

// NoteAnalysis ties a successful per-note result to its source note.
// Failed notes never produce a NoteAnalysis.
type NoteAnalysis struct {
	NoteID   string             `json:"note_id"`
	NoteType string             `json:"note_type"`
	Result   NoteAnalysisResult `json:"analysis"`
}

// DiagnosisCount is principal plus secondary candidates.
func (r NoteAnalysisResult) DiagnosisCount() int {
	n := len(r.SecondaryDiagnoses)
	if r.PrincipalDiagnosis != nil {
		n++
	}
	return n
}

// AdmissionContext is passed to consolidation alongside the per-note analyses.
type AdmissionContext struct {
	PatientKey        string `json:"patient_key"`
	AdmissionKey      string `json:"admission_key"`
	Station           string `json:"station"`
	AdmitTime         string `json:"admit_time"`
	DischargeTime     string `json:"discharge_time,omitempty"`
	SpecialtyCategory string `json:"specialty_category,omitempty"`
	NoteCount         int    `json:"note_count"`
	VitalCount        int    `json:"vital_count"`
	LabCount          int    `json:"lab_count"`
}

// ConsolidatedDiagnosisSet is the reconciled opinion for the whole admission.
type ConsolidatedDiagnosisSet struct {
	PrincipalDiagnosis   *DiagnosisCandidate  `json:"principal_diagnosis,omitempty"`
	SecondaryDiagnoses   []DiagnosisCandidate `json:"secondary_diagnoses"`
	ClinicalSummary      string               `json:"clinical_summary"`
	DocumentationQuality string               `json:"documentation_quality"`
	Recommendations      []string             `json:"recommendations"`
}

// Documented lists principal then secondary candidates.
func (c ConsolidatedDiagnosisSet) Documented() []DiagnosisCandidate {
	out := make([]DiagnosisCandidate, 0, len(c.SecondaryDiagnoses)+1)
	if c.PrincipalDiagnosis != nil {
		out = append(out, *c.PrincipalDiagnosis)
	}
	return append(out, c.SecondaryDiagnoses...)
}

type DiagnosisMatch struct {
	Documented string `json:"documented"`
	Coded      string `json:"coded"`
	ICD10      string `json:"icd10"`
}

type DocumentedNotCoded struct {
	Diagnosis      string `json:"diagnosis"`
	SuggestedICD10 string `json:"suggested_icd10"`
	Evidence       string `json:"evidence"`
	Impact         string `json:"impact"`
}

type CodedNotDocumented struct {
	ICD10       string `json:"icd10"`
	Description string `json:"description"`
	Concern     string `json:"concern"`
}

type SpecificityOpportunity struct {
	CurrentCode   string `json:"current_code"`
	SuggestedCode string `json:"suggested_code"`
	Reason        string `json:"reason"`
}

// ComparisonResult classifies documented against coded diagnoses.
type ComparisonResult struct {
	Matches                  []DiagnosisMatch         `json:"matches"`
	DocumentedNotCoded       []DocumentedNotCoded     `json:"documented_not_coded"`
	CodedNotDocumented       []CodedNotDocumented     `json:"coded_not_documented"`
	SpecificityOpportunities []SpecificityOpportunity `json:"specificity_opportunities"`
	Summary                  string                   `json:"summary"`
	Recommendations          []string                 `json:"recommendations"`
}

// MatchRate is matches over documented diagnoses, as a percentage.
func (c ComparisonResult) MatchRate(documented int) float64 {
	if documented < 1 {
		documented = 1
	}
	return float64(len(c.Matches)) / float64(documented) * 100
}

// Normalize replaces nil slices so payloads always render lists.
func (r *NoteAnalysisResult) Normalize() {
	if r.SecondaryDiagnoses == nil {
		r.SecondaryDiagnoses = []DiagnosisCandidate{}
	}
	if r.PotentialUndercoding == nil {
		r.PotentialUndercoding = []UndercodingFlag{}
	}
}

func (c *ConsolidatedDiagnosisSet) Normalize() {
	if c.SecondaryDiagnoses == nil {
		c.SecondaryDiagnoses = []DiagnosisCandidate{}
	}
	if c.Recommendations == nil {
		c.Recommendations = []string{}
	}
}

func (c *ComparisonResult) Normalize() {
	if c.Matches == nil {
		c.Matches = []DiagnosisMatch{}
	}
	if c.DocumentedNotCoded == nil {
		c.DocumentedNotCoded = []DocumentedNotCoded{}
	}
	if c.CodedNotDocumented == nil {
		c.CodedNotDocumented = []CodedNotDocumented{}
	}
	if c.SpecificityOpportunities == nil {
		c.SpecificityOpportunities = []SpecificityOpportunity{}
	}
	if c.Recommendations == nil {
		c.Recommendations = []string{}
	}
}

// FlexString accepts a JSON string, bool or number. Models answer POA and
// CC/MCC flags in any of these forms.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*f = ""
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case trimmed == "true" || trimmed == "false":
		b, _ := strconv.ParseBool(trimmed)
		if b {
			*f = "Y"
		} else {
			*f = "N"
		}
	default:
		*f = FlexString(trimmed)
	}
	return nil
}

// StringList accepts a JSON array of strings or a single string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}
