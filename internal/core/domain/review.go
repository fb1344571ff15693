package domain

import (
	"errors"
	"fmt"
	"time"
)

type ReviewStatus string

const (
	ReviewInitializing ReviewStatus = "initializing"
	ReviewProcessing   ReviewStatus = "processing"
	ReviewComplete     ReviewStatus = "complete"
	ReviewError        ReviewStatus = "error"
)

// maxInFlightPercentage keeps 100 reserved for completed reviews.
const maxInFlightPercentage = 99

// ReviewRequest is a normalized review submission.
type ReviewRequest struct {
	PatientID   Identifier `json:"patient_id"`
	AdmissionID Identifier `json:"admission_id"`
	Actor       string     `json:"actor,omitempty"`
}

func (r ReviewRequest) Validate() error {
	switch {
	case r.PatientID.IsZero() && r.AdmissionID.IsZero():
		return WrapError(ErrInvalidInput, "validate review request", errors.New("patient_id and admission_id are required"))
	case r.PatientID.IsZero():
		return WrapError(ErrInvalidInput, "validate review request", errors.New("patient_id is required"))
	case r.AdmissionID.IsZero():
		return WrapError(ErrInvalidInput, "validate review request", errors.New("admission_id is required"))
	}
	return nil
}

// ReviewJob is a review accepted for background execution.
type ReviewJob struct {
	ReviewKey   string        `json:"review_key"`
	Request     ReviewRequest `json:"request"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// ReviewProgress is the pollable state of one review.
type ReviewProgress struct {
	ReviewKey      string        `json:"review_key"`
	Status         ReviewStatus  `json:"status"`
	Percentage     int           `json:"percentage"`
	CurrentStep    string        `json:"current_step"`
	StepsCompleted []string      `json:"steps_completed"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	Error          string        `json:"error,omitempty"`
	Result         *ReviewResult `json:"result,omitempty"`
}

func NewReviewProgress(key string, now time.Time) ReviewProgress {
	return ReviewProgress{
		ReviewKey:      key,
		Status:         ReviewInitializing,
		CurrentStep:    "Initializing",
		StepsCompleted: []string{},
		StartedAt:      now,
	}
}

func (p ReviewProgress) IsTerminal() bool {
	return p.Status == ReviewComplete || p.Status == ReviewError
}

// Advance moves a running review forward. Percentage never decreases and
// stays below 100; completedStep is appended when non-empty.
func (p *ReviewProgress) Advance(percentage int, currentStep, completedStep string) error {
	if p.IsTerminal() {
		return WrapError(ErrConflict, "advance progress", fmt.Errorf("review %s is %s", p.ReviewKey, p.Status))
	}
	p.Status = ReviewProcessing
	if percentage > maxInFlightPercentage {
		percentage = maxInFlightPercentage
	}
	if percentage > p.Percentage {
		p.Percentage = percentage
	}
	if currentStep != "" {
		p.CurrentStep = currentStep
	}
	if completedStep != "" {
		p.StepsCompleted = append(p.StepsCompleted, completedStep)
	}
	return nil
}

func (p *ReviewProgress) Complete(result *ReviewResult, now time.Time) error {
	if p.IsTerminal() {
		return WrapError(ErrConflict, "complete progress", fmt.Errorf("review %s is %s", p.ReviewKey, p.Status))
	}
	p.Status = ReviewComplete
	p.Percentage = 100
	p.CurrentStep = "Complete"
	p.Result = result
	p.EndedAt = &now
	return nil
}

func (p *ReviewProgress) Fail(message string, now time.Time) error {
	if p.IsTerminal() {
		return WrapError(ErrConflict, "fail progress", fmt.Errorf("review %s is %s", p.ReviewKey, p.Status))
	}
	p.Status = ReviewError
	p.CurrentStep = "Error"
	p.Error = message
	p.EndedAt = &now
	return nil
}

// Clone copies the mutable step list so stored entries never alias callers.
func (p ReviewProgress) Clone() ReviewProgress {
	out := p
	out.StepsCompleted = append([]string(nil), p.StepsCompleted...)
	if out.StepsCompleted == nil {
		out.StepsCompleted = []string{}
	}
	if p.EndedAt != nil {
		ended := *p.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// ProgressView is the polling projection of ReviewProgress.
type ProgressView struct {
	ReviewKey      string       `json:"review_key"`
	Status         ReviewStatus `json:"status"`
	Percentage     int          `json:"percentage"`
	CurrentStep    string       `json:"current_step"`
	StepsCompleted []string     `json:"steps_completed"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	Error          string       `json:"error,omitempty"`
}

func (p ReviewProgress) View(now time.Time) ProgressView {
	end := now
	if p.EndedAt != nil {
		end = *p.EndedAt
	}
	steps := p.StepsCompleted
	if steps == nil {
		steps = []string{}
	}
	return ProgressView{
		ReviewKey:      p.ReviewKey,
		Status:         p.Status,
		Percentage:     p.Percentage,
		CurrentStep:    p.CurrentStep,
		StepsCompleted: steps,
		ElapsedSeconds: end.Sub(p.StartedAt).Seconds(),
		Error:          p.Error,
	}
}

type DocumentsAnalyzed struct {
	Notes          int `json:"notes"`
	NotesAnalyzed  int `json:"notes_ai_analyzed"`
	Vitals         int `json:"vitals"`
	Labs           int `json:"labs"`
	CodedDiagnoses int `json:"coded_diagnoses"`
}

type AIAnalysis struct {
	Consolidated   *ConsolidatedDiagnosisSet `json:"consolidated"`
	DiagnosesFound int                       `json:"diagnoses_found"`
	NoteAnalyses   []NoteAnalysis            `json:"note_analyses"`
	NoNotesReason  string                    `json:"no_notes_reason,omitempty"`
}

// ReviewResult is the final payload attached to a completed review.
type ReviewResult struct {
	Success               bool               `json:"success"`
	ReviewKey             string             `json:"analysis_id"`
	PatientID             string             `json:"patient_id"`
	AdmissionID           string             `json:"admission_id"`
	Admission             Admission          `json:"admission"`
	ProcessingTimeSeconds float64            `json:"processing_time_seconds"`
	DocumentsAnalyzed     DocumentsAnalyzed  `json:"documents_analyzed"`
	ClinicalNotes         []ClinicalNote     `json:"clinical_notes"`
	Vitals                []VitalMeasurement `json:"vitals"`
	Labs                  []LabResult        `json:"labs"`
	AIAnalysis            AIAnalysis         `json:"ai_analysis"`
	CodedDiagnoses        []CodedDiagnosis   `json:"coded_diagnoses"`
	Comparison            *ComparisonResult  `json:"comparison"`
	Recommendations       []string           `json:"recommendations"`
	Warnings              []string           `json:"warnings,omitempty"`
}
