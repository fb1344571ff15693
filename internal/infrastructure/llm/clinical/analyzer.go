package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/httpjson"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/resilience"
)

const summaryMaxTokens = 1000

type Options struct {
	MaxNoteChars  int
	ContextVitals int
	ContextLabs   int
	Executor      *resilience.Executor
}

// Analyzer implements the clinical AI analysis capability on top of any
// chat-model completer. Every failure is reported as domain.ErrAIService,
// and undecodable answers additionally as domain.ErrUnexpectedResponse.
type Analyzer struct {
	completer llm.Completer
	opts      Options
}

func NewAnalyzer(completer llm.Completer, opts Options) *Analyzer {
	if opts.ContextVitals < 0 {
		opts.ContextVitals = 0
	}
	if opts.ContextLabs < 0 {
		opts.ContextLabs = 0
	}
	return &Analyzer{completer: completer, opts: opts}
}

func (a *Analyzer) AnalyzeNote(ctx context.Context, note domain.ClinicalNote, vitals []domain.VitalMeasurement, labs []domain.LabResult) (domain.NoteAnalysisResult, error) {
	raw, err := a.complete(ctx, llm.Request{
		Operation: "analyze_note",
		System:    noteAnalysisSystemPrompt,
		Prompt:    buildNotePrompt(note, vitals, labs, a.opts),
		JSON:      true,
	})
	if err != nil {
		return domain.NoteAnalysisResult{}, err
	}
	var result domain.NoteAnalysisResult
	if err := decodeObject("analyze_note", raw, &result); err != nil {
		return domain.NoteAnalysisResult{}, err
	}
	if result.PrincipalDiagnosis != nil && strings.TrimSpace(result.PrincipalDiagnosis.Name) == "" {
		result.PrincipalDiagnosis = nil
	}
	result.Normalize()
	return result, nil
}

func (a *Analyzer) Consolidate(ctx context.Context, analyses []domain.NoteAnalysis, admission domain.AdmissionContext) (domain.ConsolidatedDiagnosisSet, error) {
	if len(analyses) == 0 {
		return domain.ConsolidatedDiagnosisSet{}, domain.ErrNoNotesAnalyzed
	}
	prompt, err := buildConsolidationPrompt(analyses, admission)
	if err != nil {
		return domain.ConsolidatedDiagnosisSet{}, domain.WrapError(domain.ErrAIService, "consolidate", err)
	}
	raw, err := a.complete(ctx, llm.Request{Operation: "consolidate", System: consolidationSystemPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return domain.ConsolidatedDiagnosisSet{}, err
	}
	var set domain.ConsolidatedDiagnosisSet
	if err := decodeObject("consolidate", raw, &set); err != nil {
		return domain.ConsolidatedDiagnosisSet{}, err
	}
	if set.PrincipalDiagnosis != nil && strings.TrimSpace(set.PrincipalDiagnosis.Name) == "" {
		set.PrincipalDiagnosis = nil
	}
	set.Normalize()
	return set, nil
}

func (a *Analyzer) Compare(ctx context.Context, consolidated domain.ConsolidatedDiagnosisSet, coded []domain.CodedDiagnosis) (domain.ComparisonResult, error) {
	prompt, err := buildComparisonPrompt(consolidated.Documented(), coded)
	if err != nil {
		return domain.ComparisonResult{}, domain.WrapError(domain.ErrAIService, "compare", err)
	}
	raw, err := a.complete(ctx, llm.Request{Operation: "compare", System: comparisonSystemPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return domain.ComparisonResult{}, err
	}
	var result domain.ComparisonResult
	if err := decodeObject("compare", raw, &result); err != nil {
		return domain.ComparisonResult{}, err
	}
	result.Normalize()
	return result, nil
}

func (a *Analyzer) SummarizeNote(ctx context.Context, noteType, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "summarize note", errors.New("note text is empty"))
	}
	return a.complete(ctx, llm.Request{
		Operation: "summarize_note",
		System:    summarySystemPrompt,
		Prompt:    buildSummaryPrompt(noteType, text, a.opts.MaxNoteChars),
		MaxTokens: summaryMaxTokens,
	})
}

func (a *Analyzer) complete(ctx context.Context, req llm.Request) (string, error) {
	var out string
	call := func(ctx context.Context) error {
		text, err := a.completer.Complete(ctx, req)
		if err != nil {
			return err
		}
		out = text
		return nil
	}

	var err error
	if a.opts.Executor != nil {
		err = a.opts.Executor.Execute(ctx, "llm."+req.Operation, call, httpjson.Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			err = domain.WrapError(domain.ErrTemporary, req.Operation, err)
		}
		return "", domain.WrapError(domain.ErrAIService, req.Operation, err)
	}
	return out, nil
}

// decodeObject reads the outermost JSON object of a model answer. Absent
// fields keep their zero values.
func decodeObject(operation, raw string, out any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.WrapError(domain.ErrAIService, operation,
			domain.WrapError(domain.ErrUnexpectedResponse, "decode answer", errors.New("no JSON object in model answer")))
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return domain.WrapError(domain.ErrAIService, operation,
			domain.WrapError(domain.ErrUnexpectedResponse, "decode answer", err))
	}
	return nil
}
