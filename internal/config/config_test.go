package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

func TestLoadIncludesReviewDefaults(t *testing.T) {
	t.Setenv("CLINICAL_DB_QUERY_TIMEOUT_SECONDS", "")
	t.Setenv("REVIEW_DISPATCH", "")
	t.Setenv("PROGRESS_BACKEND", "")
	t.Setenv("LLM_RETRY_MAX_ATTEMPTS", "")
	t.Setenv("REVIEW_NOTE_CONCURRENCY", "")

	cfg := Load()
	if cfg.ClinicalDBQueryTimeout != 300*time.Second {
		t.Fatalf("expected default query timeout 300s, got %s", cfg.ClinicalDBQueryTimeout)
	}
	if cfg.ReviewDispatch != DispatchInProcess {
		t.Fatalf("expected in-process dispatch, got %q", cfg.ReviewDispatch)
	}
	if cfg.ProgressBackend != ProgressMemory {
		t.Fatalf("expected memory progress backend, got %q", cfg.ProgressBackend)
	}
	if cfg.LLMRetryMaxAttempts != 1 {
		t.Fatalf("expected single LLM attempt by default, got %d", cfg.LLMRetryMaxAttempts)
	}
	if cfg.ReviewNoteConcurrency != 1 {
		t.Fatalf("expected sequential note analysis by default, got %d", cfg.ReviewNoteConcurrency)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CLINICAL_DB_DRIVER", "PGX")
	t.Setenv("LLM_TEMPERATURE", "0.5")
	t.Setenv("PROGRESS_TTL_SECONDS", "60")
	t.Setenv("REVIEW_STRICT_CODED_DIAGNOSES", "true")

	cfg := Load()
	if cfg.ClinicalDBDriver != "pgx" {
		t.Fatalf("expected lowercased driver, got %q", cfg.ClinicalDBDriver)
	}
	if cfg.LLMTemperature != 0.5 {
		t.Fatalf("expected temperature 0.5, got %v", cfg.LLMTemperature)
	}
	if cfg.ProgressTTL != time.Minute {
		t.Fatalf("expected ttl 1m, got %s", cfg.ProgressTTL)
	}
	if !cfg.ReviewStrictCodedDiagnoses {
		t.Fatalf("expected strict coded diagnoses")
	}
}

func TestValidateReportsConfigurationError(t *testing.T) {
	cfg := Config{
		ClinicalDBDriver: "sqlserver",
		LLMProvider:      "openai",
		ReviewDispatch:   DispatchNATS,
		ProgressBackend:  ProgressMemory,
	}
	err := cfg.Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Config{
		ClinicalDBDriver: "pgx",
		ClinicalDBDSN:    "postgres://localhost/cdw",
		LLMProvider:      "ollama",
		ReviewDispatch:   DispatchInProcess,
		ProgressBackend:  ProgressMemory,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadClinicalCatalogOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := `
provider_classes: ["PHYSICIAN", "SURGEON"]
max_notes: 50
tables:
  inpatient:
    schema: Inpat
    name: InpatientReplica
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadClinicalCatalog(path)
	if err != nil {
		t.Fatalf("LoadClinicalCatalog() error = %v", err)
	}
	if len(catalog.ProviderClasses) != 2 || catalog.MaxNotes != 50 {
		t.Fatalf("unexpected overrides: %+v", catalog.ProviderClasses)
	}
	if catalog.Tables.Inpatient.Name != "InpatientReplica" {
		t.Fatalf("expected table override, got %s", catalog.Tables.Inpatient)
	}
	if catalog.Tables.DischargeDiagnosis.Name != "InpatientDischargeDiagnosis" {
		t.Fatalf("expected untouched defaults, got %s", catalog.Tables.DischargeDiagnosis)
	}
	if catalog.TrailingBuffer() != 24*time.Hour {
		t.Fatalf("expected default trailing buffer, got %s", catalog.TrailingBuffer())
	}
}

func TestLoadClinicalCatalogRejectsEmptyAllowList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("provider_classes: []\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadClinicalCatalog(path); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLLMEndpointFallsBackToProviderDefault(t *testing.T) {
	if got := (Config{LLMProvider: "ollama"}).LLMEndpoint(); got != "http://localhost:11434" {
		t.Fatalf("unexpected ollama endpoint %q", got)
	}
	if got := (Config{LLMProvider: "openai", LLMBaseURL: "http://gateway/v1"}).LLMEndpoint(); got != "http://gateway/v1" {
		t.Fatalf("expected explicit base url, got %q", got)
	}
	err := (Config{
		ClinicalDBDriver: "sqlserver",
		ClinicalDBDSN:    "sqlserver://cdw",
		LLMProvider:      "azure",
		LLMAPIKey:        "k",
		LLMAPIVersion:    "2024-02-01",
		ReviewDispatch:   DispatchInProcess,
		ProgressBackend:  ProgressMemory,
	}).Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected azure without endpoint to fail validation, got %v", err)
	}
}
