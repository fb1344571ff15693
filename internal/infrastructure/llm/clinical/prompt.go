package clinical

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

const noteAnalysisSystemPrompt = `You are a clinical documentation analyst and medical coder.
Extract the diagnoses that one inpatient clinical note documents or that its findings,
vital signs and laboratory values strongly support.

For every diagnosis give its name, the ICD-10-CM code when it can be determined,
whether it is DOCUMENTED (stated in the note) or INFERRED (supported by evidence only),
the supporting evidence, and a confidence of HIGH, MEDIUM or LOW.
Be conservative. Flag diagnoses that look under-coded, for example an unspecified code
where the note documents more specificity.

Answer with one JSON object and nothing else:
{
  "principal_diagnosis": {"name": "", "icd10_code": "", "type": "DOCUMENTED|INFERRED", "evidence": [""], "confidence": "HIGH|MEDIUM|LOW"},
  "secondary_diagnoses": [{"name": "", "icd10_code": "", "type": "", "evidence": [""], "confidence": ""}],
  "potential_undercoding": [{"current": "", "suggested": "", "reason": ""}],
  "clinical_summary": ""
}`

const consolidationSystemPrompt = `You are a clinical documentation improvement specialist.
You receive analyses of several clinical notes from one hospital admission.
Merge them into one diagnosis list for the whole stay.

Choose the principal diagnosis as the condition chiefly responsible for the admission.
List secondary diagnoses and comorbidities that were present on admission or arose during
the stay and affected care. For each one give the most specific ICD-10-CM code the
documentation supports, a confidence, whether it was present on admission, its CC/MCC
status, and the note types that support it.

Answer with one JSON object and nothing else:
{
  "principal_diagnosis": {"name": "", "icd10_code": "", "confidence": "", "poa": true, "supporting_notes": [""]},
  "secondary_diagnoses": [{"name": "", "icd10_code": "", "confidence": "", "poa": true, "cc_mcc": "CC|MCC|None", "supporting_notes": [""]}],
  "clinical_summary": "",
  "documentation_quality": "",
  "recommendations": [""]
}`

const comparisonSystemPrompt = `You are a medical coder and clinical documentation improvement specialist.
Compare the diagnoses supported by clinical documentation with the diagnoses that were billed.

Classify them as matches, documented but not coded, coded but not clearly documented,
and specificity opportunities where documentation supports a more specific code.
Describe the likely DRG impact of each discrepancy.

Answer with one JSON object and nothing else:
{
  "matches": [{"documented": "", "coded": "", "icd10": ""}],
  "documented_not_coded": [{"diagnosis": "", "suggested_icd10": "", "evidence": "", "impact": ""}],
  "coded_not_documented": [{"icd10": "", "description": "", "concern": ""}],
  "specificity_opportunities": [{"current_code": "", "suggested_code": "", "reason": ""}],
  "summary": "",
  "recommendations": [""]
}`

const summarySystemPrompt = `You are a clinical documentation specialist.
Summarize the clinical note for coding review. Keep every diagnosis mentioned or implied,
key vital sign and laboratory abnormalities, significant procedures and treatments,
and important findings. Write one paragraph followed by a bulleted list of diagnoses.`

func buildNotePrompt(note domain.ClinicalNote, vitals []domain.VitalMeasurement, labs []domain.LabResult, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NOTE TYPE: %s\n", orUnknown(note.NoteType))
	fmt.Fprintf(&b, "NOTE DATE: %s\n", formatTime(note.ReferenceTime))
	if note.AuthorRole != "" {
		fmt.Fprintf(&b, "AUTHOR ROLE: %s\n", note.AuthorRole)
	}

	if len(vitals) > 0 && opts.ContextVitals > 0 {
		b.WriteString("\nRECENT VITAL SIGNS:\n")
		for _, v := range head(vitals, opts.ContextVitals) {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", orUnknown(v.Type), orNA(v.Value), formatTime(v.TakenAt))
		}
	}
	if len(labs) > 0 && opts.ContextLabs > 0 {
		b.WriteString("\nRECENT LABORATORY VALUES:\n")
		for _, l := range head(labs, opts.ContextLabs) {
			value := strings.TrimSpace(orNA(l.Value) + " " + l.Units)
			if l.Flag != "" {
				value += " [" + l.Flag + "]"
			}
			fmt.Fprintf(&b, "- %s: %s (%s)\n", orUnknown(l.TestName), value, formatTime(l.CollectedAt))
		}
	}

	b.WriteString("\nAnalyze this clinical note:\n\n")
	b.WriteString(truncateRunes(note.Text, opts.MaxNoteChars))
	return b.String()
}

func buildConsolidationPrompt(analyses []domain.NoteAnalysis, admission domain.AdmissionContext) (string, error) {
	var b strings.Builder
	patient, err := json.MarshalIndent(admission, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode admission context: %w", err)
	}
	b.WriteString("Consolidate these note analyses.\n\nPATIENT CONTEXT:\n")
	b.Write(patient)
	b.WriteString("\n")
	for i, a := range analyses {
		encoded, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode note analysis %s: %w", a.NoteID, err)
		}
		fmt.Fprintf(&b, "\n--- NOTE ANALYSIS %d ---\n", i+1)
		b.Write(encoded)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func buildComparisonPrompt(documented []domain.DiagnosisCandidate, coded []domain.CodedDiagnosis) (string, error) {
	docJSON, err := json.MarshalIndent(documented, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode documented diagnoses: %w", err)
	}
	codedJSON, err := json.MarshalIndent(coded, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode coded diagnoses: %w", err)
	}
	return fmt.Sprintf("DOCUMENTED DIAGNOSES (from clinical notes):\n%s\n\nCODED DIAGNOSES (from billing):\n%s\n\nCompare and analyze.", docJSON, codedJSON), nil
}

func buildSummaryPrompt(noteType, text string, maxChars int) string {
	return fmt.Sprintf("NOTE TYPE: %s\n\nSummarize this note in about 500 characters:\n\n%s", orUnknown(noteType), truncateRunes(text, maxChars))
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "\n[note truncated]"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02 15:04")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
