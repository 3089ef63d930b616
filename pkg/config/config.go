package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds application configuration values.
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string // e.g., "debug", "info", "warn", "error"
	RequestTimeout time.Duration
	CertFile       string
	KeyFile        string

	StorageDriver    string `validate:"oneof=postgres memory"`
	Postgres_DSN     string `validate:"required_if=StorageDriver postgres"`
	MinIO_Endpoint   string
	MinIO_AccessKey  string
	MinIO_SecretKey  string
	MinIO_UseSSL     bool
	MinIO_BucketName string

	RabbitMQ_URL      string // Empty disables async executions
	WorkerConcurrency int    `validate:"gte=1,lte=64"`

	AI_BaseURL      string        `validate:"required,url"`
	AI_APIKey       string        `validate:"required"`
	AI_AgentProfile string        `validate:"required"`
	AI_RateLimit    int           `validate:"gte=1"`         // Requests per second
	AI_WebhookURL   string        `validate:"omitempty,url"` // Registered at startup when set
	PollInterval    time.Duration `validate:"gt=0"`
	PollMaxAttempts int           `validate:"gte=1"`

	ExecutorURL      string `validate:"required,url"`
	ExecutorHeadless bool

	PromptTemplatesDir string // Optional override directory for prompt templates
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Helper to get env var with default
	getenv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	getenvBool := func(key string, fallback bool) bool {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.ParseBool(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	getenvInt := func(key string, fallback int) int {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.Atoi(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	getenvDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := time.ParseDuration(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	// Comma separated list, blanks dropped
	getenvList := func(key string, fallback []string) []string {
		valueStr, exists := os.LookupEnv(key)
		if !exists {
			return fallback
		}
		var out []string
		for _, v := range strings.Split(valueStr, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			return fallback
		}
		return out
	}

	cfg := &Config{
		Port:           getenv("PORT", "8081"),
		AllowedOrigins: getenvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		RequestTimeout: getenvDuration("REQUEST_TIMEOUT", 15*time.Second),
		CertFile:       getenv("TLS_CERT_FILE", ""),
		KeyFile:        getenv("TLS_KEY_FILE", ""),

		StorageDriver:    getenv("STORAGE_DRIVER", StorageDriverPostgres),
		Postgres_DSN:     getenv("POSTGRES_DSN", "postgres://localhost:5432/qa_automation?sslmode=disable"), // Fallback without credentials
		MinIO_Endpoint:   getenv("MINIO_ENDPOINT", ""), // Empty disables artifact upload
		MinIO_AccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinIO_SecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinIO_UseSSL:     getenvBool("MINIO_USE_SSL", false),
		MinIO_BucketName: getenv("MINIO_BUCKET_NAME", "qa-artifacts"),

		RabbitMQ_URL:      getenv("RABBITMQ_URL", ""),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 2),

		AI_BaseURL:      strings.TrimRight(getenv("MANUS_API_URL", "https://api.manus.ai/v1"), "/"),
		AI_APIKey:       getenv("MANUS_API_KEY", ""),
		AI_AgentProfile: getenv("MANUS_AGENT_PROFILE", "manus-1.5"),
		AI_RateLimit:    getenvInt("AI_RATE_LIMIT", 5),
		AI_WebhookURL:   getenv("MANUS_WEBHOOK_URL", ""),
		PollInterval:    getenvDuration("POLL_INTERVAL", 10*time.Second),
		PollMaxAttempts: getenvInt("POLL_MAX_ATTEMPTS", 60),

		ExecutorURL:      getenv("AGENT_EXECUTOR_URL", "http://localhost:8000/execute"),
		ExecutorHeadless: getenvBool("EXECUTOR_HEADLESS", false),

		PromptTemplatesDir: getenv("PROMPT_TEMPLATES_DIR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first group of missing or malformed settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
