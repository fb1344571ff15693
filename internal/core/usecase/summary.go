package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

type NoteSummaryService struct {
	analyzer ports.ClinicalAnalyzer
}

func NewNoteSummaryService(analyzer ports.ClinicalAnalyzer) *NoteSummaryService {
	return &NoteSummaryService{analyzer: analyzer}
}

func (s *NoteSummaryService) SummarizeNote(ctx context.Context, noteType, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "summarize note", errors.New("note text is required"))
	}
	summary, err := s.analyzer.SummarizeNote(ctx, strings.TrimSpace(noteType), text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
