// Package config loads runtime settings from the environment and the report
// section definitions from YAML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/companyreportflow/internal/cache"
	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/gcp"
)

const (
	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
)

type Config struct {
	ProjectID     string
	Region        string
	ModelProvider string
	ModelName     string
	OpenAIBaseURL string
	OpenAIAPIKey  string

	ArtifactBucket string
	UploadBucket   string
	CachePath      string
	CacheObject    string

	RunsCollection   string
	EventsCollection string
	MailCollection   string

	MaxWorkers        int
	MaxUploadBytes    int64
	AllowedExtensions []string
	CacheFlushEvery   int
	Gateway           gateway.Config

	WorkflowID       string
	WorkflowLocation string
	SectionsFile     string
}

// Load reads and validates the configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration from environment variables, applying
// defaults for everything that has one. The result is not validated.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ProjectID:         gcp.GetEnv("PROJECT_ID", ""),
		Region:            gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		ModelProvider:     strings.ToLower(gcp.GetEnv("MODEL_PROVIDER", ProviderVertex)),
		ModelName:         gcp.GetEnv("MODEL_NAME", "gemini-1.5-pro"),
		OpenAIBaseURL:     gcp.GetEnv("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:      gcp.GetEnv("OPENAI_API_KEY", ""),
		ArtifactBucket:    gcp.GetEnv("ARTIFACT_BUCKET", ""),
		UploadBucket:      gcp.GetEnv("UPLOAD_BUCKET", ""),
		CachePath:         gcp.GetEnv("CACHE_PATH", ""),
		CacheObject:       gcp.GetEnv("CACHE_OBJECT", "cache/model-responses.json"),
		RunsCollection:    gcp.GetEnv("RUNS_COLLECTION", "reportRuns"),
		EventsCollection:  gcp.GetEnv("EVENTS_COLLECTION", "reportEvents"),
		MailCollection:    gcp.GetEnv("MAIL_COLLECTION", "mail"),
		AllowedExtensions: splitList(gcp.GetEnv("ALLOWED_EXTENSIONS", "pdf,txt,md,csv,html")),
		WorkflowID:        gcp.GetEnv("WORKFLOW_ID", "company-report-workflow"),
		WorkflowLocation:  gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		SectionsFile:      gcp.GetEnv("SECTIONS_FILE", ""),
		Gateway:           gateway.DefaultConfig(),
	}

	var errs []error
	var err error
	if cfg.MaxWorkers, err = gcp.GetEnvInt("MAX_WORKERS", 3); err != nil {
		errs = append(errs, err)
	}
	maxUpload, err := gcp.GetEnvInt("MAX_UPLOAD_BYTES", 50<<20)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.CacheFlushEvery, err = gcp.GetEnvInt("CACHE_FLUSH_EVERY", cache.DefaultFlushEvery); err != nil {
		errs = append(errs, err)
	}
	if cfg.Gateway.MaxRetries, err = gcp.GetEnvInt("MODEL_MAX_RETRIES", cfg.Gateway.MaxRetries); err != nil {
		errs = append(errs, err)
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MODEL_TIMEOUT", &cfg.Gateway.Timeout},
		{"RETRY_BASE_WAIT", &cfg.Gateway.BaseWait},
		{"RETRY_MAX_JITTER", &cfg.Gateway.MaxJitter},
		{"PACING_MIN", &cfg.Gateway.PacingMin},
		{"PACING_MAX", &cfg.Gateway.PacingMax},
	}
	for _, d := range durations {
		if *d.dst, err = gcp.GetEnvDuration(d.key, *d.dst); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.ModelProvider {
	case ProviderVertex:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID is required for the %s provider", ProviderVertex)
		}
	case ProviderOpenAI:
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.ModelProvider)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Gateway.MaxRetries < 1 {
		return fmt.Errorf("MODEL_MAX_RETRIES must be at least 1, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive")
	}
	if c.Gateway.PacingMax < c.Gateway.PacingMin {
		return fmt.Errorf("PACING_MAX (%v) is below PACING_MIN (%v)", c.Gateway.PacingMax, c.Gateway.PacingMin)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(item), "."))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
