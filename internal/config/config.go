package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

type Config struct {
	APIPort  string
	LogLevel string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int
	APIAuthToken      string

	WorkerMetricsPort string

	ClinicalDBDriver          string
	ClinicalDBDSN             string
	ClinicalDBQueryTimeout    time.Duration
	ClinicalDBMaxOpenConns    int
	ClinicalDBConnectAttempts int
	ClinicalDBConnectBackoff  time.Duration
	ClinicalCatalogPath       string
	FacilityStation           string

	LLMProvider         string
	LLMBaseURL          string
	LLMAPIKey           string
	LLMModel            string
	LLMAPIVersion       string
	LLMTimeout          time.Duration
	LLMTemperature      float64
	LLMMaxTokens        int
	LLMMaxNoteChars     int
	LLMContextVitals    int
	LLMContextLabs      int
	LLMRetryMaxAttempts int

	ReviewDispatch             string
	ReviewNoteConcurrency      int
	ReviewStrictCodedDiagnoses bool
	ReviewTimeout              time.Duration
	ReviewActor                string

	NATSURL        string
	NATSSubject    string
	NATSQueueGroup string

	ProgressBackend    string
	ProgressTTL        time.Duration
	ProgressMaxEntries int
	ProgressKeyPrefix  string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	AuditLogDir string

	OTelEndpoint string
}

const (
	DispatchInProcess = "inprocess"
	DispatchNATS      = "nats"

	ProgressMemory = "memory"
	ProgressRedis  = "redis"
)

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 64),
		APIAuthToken:      mustEnv("API_AUTH_TOKEN", ""),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),

		ClinicalDBDriver:          strings.ToLower(mustEnv("CLINICAL_DB_DRIVER", "sqlserver")),
		ClinicalDBDSN:             mustEnv("CLINICAL_DB_DSN", ""),
		ClinicalDBQueryTimeout:    mustEnvSeconds("CLINICAL_DB_QUERY_TIMEOUT_SECONDS", 300),
		ClinicalDBMaxOpenConns:    mustEnvInt("CLINICAL_DB_MAX_OPEN_CONNS", 10),
		ClinicalDBConnectAttempts: mustEnvInt("CLINICAL_DB_CONNECT_ATTEMPTS", 3),
		ClinicalDBConnectBackoff:  mustEnvMillis("CLINICAL_DB_CONNECT_BACKOFF_MS", 1000),
		ClinicalCatalogPath:       mustEnv("CLINICAL_CATALOG_PATH", ""),
		FacilityStation:           mustEnv("FACILITY_STATION", "626"),

		LLMProvider:         strings.ToLower(mustEnv("LLM_PROVIDER", "openai")),
		LLMBaseURL:          mustEnv("LLM_BASE_URL", ""),
		LLMAPIKey:           mustEnv("LLM_API_KEY", ""),
		LLMModel:            mustEnv("LLM_MODEL", "gpt-4o"),
		LLMAPIVersion:       mustEnv("LLM_API_VERSION", ""),
		LLMTimeout:          mustEnvSeconds("LLM_TIMEOUT_SECONDS", 120),
		LLMTemperature:      mustEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxTokens:        mustEnvInt("LLM_MAX_TOKENS", 4000),
		LLMMaxNoteChars:     mustEnvInt("LLM_MAX_NOTE_CHARS", 30000),
		LLMContextVitals:    mustEnvInt("LLM_CONTEXT_VITALS", 10),
		LLMContextLabs:      mustEnvInt("LLM_CONTEXT_LABS", 20),
		LLMRetryMaxAttempts: mustEnvInt("LLM_RETRY_MAX_ATTEMPTS", 1),

		ReviewDispatch:             strings.ToLower(mustEnv("REVIEW_DISPATCH", DispatchInProcess)),
		ReviewNoteConcurrency:      mustEnvInt("REVIEW_NOTE_CONCURRENCY", 1),
		ReviewStrictCodedDiagnoses: mustEnvBool("REVIEW_STRICT_CODED_DIAGNOSES", false),
		ReviewTimeout:              mustEnvSeconds("REVIEW_TIMEOUT_SECONDS", 1800),
		ReviewActor:                mustEnv("REVIEW_ACTOR", processUser()),

		NATSURL:        mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:    mustEnv("NATS_SUBJECT", "cdi.reviews.requested"),
		NATSQueueGroup: mustEnv("NATS_QUEUE_GROUP", "review-workers"),

		ProgressBackend:    strings.ToLower(mustEnv("PROGRESS_BACKEND", ProgressMemory)),
		ProgressTTL:        mustEnvSeconds("PROGRESS_TTL_SECONDS", 86400),
		ProgressMaxEntries: mustEnvInt("PROGRESS_MAX_ENTRIES", 1000),
		ProgressKeyPrefix:  mustEnv("PROGRESS_KEY_PREFIX", "cdi:progress:"),
		RedisAddr:          mustEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      mustEnv("REDIS_PASSWORD", ""),
		RedisDB:            mustEnvInt("REDIS_DB", 0),

		AuditLogDir: mustEnv("AUDIT_LOG_DIR", "./logs"),

		OTelEndpoint: mustEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate reports missing or contradictory settings as configuration errors.
func (c Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.ClinicalDBDSN) == "" {
		problems = append(problems, errors.New("CLINICAL_DB_DSN is required"))
	}
	switch c.ClinicalDBDriver {
	case "sqlserver", "pgx":
	default:
		problems = append(problems, fmt.Errorf("CLINICAL_DB_DRIVER %q is not supported", c.ClinicalDBDriver))
	}
	switch c.LLMProvider {
	case "openai", "azure", "anthropic":
		if strings.TrimSpace(c.LLMAPIKey) == "" {
			problems = append(problems, fmt.Errorf("LLM_API_KEY is required for provider %s", c.LLMProvider))
		}
	case "ollama":
	default:
		problems = append(problems, fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider))
	}
	if c.LLMProvider == "azure" {
		if strings.TrimSpace(c.LLMAPIVersion) == "" {
			problems = append(problems, errors.New("LLM_API_VERSION is required for azure"))
		}
		if strings.TrimSpace(c.LLMBaseURL) == "" {
			problems = append(problems, errors.New("LLM_BASE_URL is required for azure"))
		}
	}
	switch c.ReviewDispatch {
	case DispatchInProcess:
	case DispatchNATS:
		if c.ProgressBackend != ProgressRedis {
			problems = append(problems, errors.New("REVIEW_DISPATCH=nats requires PROGRESS_BACKEND=redis"))
		}
	default:
		problems = append(problems, fmt.Errorf("REVIEW_DISPATCH %q is not supported", c.ReviewDispatch))
	}
	switch c.ProgressBackend {
	case ProgressMemory, ProgressRedis:
	default:
		problems = append(problems, fmt.Errorf("PROGRESS_BACKEND %q is not supported", c.ProgressBackend))
	}
	if len(problems) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrConfiguration, "validate config", errors.Join(problems...))
}

// LLMEndpoint returns LLM_BASE_URL or the public endpoint of the provider.
func (c Config) LLMEndpoint() string {
	if strings.TrimSpace(c.LLMBaseURL) != "" {
		return c.LLMBaseURL
	}
	switch c.LLMProvider {
	case "openai":
		return "https://api.openai.com/v1"
	case "anthropic":
		return "https://api.anthropic.com"
	case "ollama":
		return "http://localhost:11434"
	default:
		return ""
	}
}

// processUser names the OS account running the process, the actor for
// reviews submitted without an authenticated user.
func processUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "system"
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(mustEnvInt(key, fallback)) * time.Second
}

func mustEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(mustEnvInt(key, fallback)) * time.Millisecond
}
