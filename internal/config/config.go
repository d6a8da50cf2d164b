// Package config loads all service configuration from environment variables.
// Every tunable has a default that works for local development; only the
// connection strings and the primary LLM key are required.
package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"time"
)

type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	HTTP     HTTPConfig
	Stream   StreamConfig
	Worker   WorkerConfig
	Intake   IntakeConfig
	LLM      LLMConfig
	Recovery RecoveryConfig
	Indexer  IndexerConfig
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type HTTPConfig struct {
	Addr        string
	MetricsAddr string
}

type StreamConfig struct {
	SubmissionStream string
	SubmissionGroup  string
	EventStream      string
	MaxLen           int64
	Block            time.Duration
	BatchSize        int64
	MinIdle          time.Duration
	SweepEvery       time.Duration
	MaxDeliveries    int64
}

type WorkerConfig struct {
	Consumers        int
	LLMMaxConcurrent int64
	DrainTimeout     time.Duration
}

type IntakeConfig struct {
	SimhashMaxDistance int // 0 disables near-duplicate detection
	ReprocessWindow    time.Duration
	CandidateWindow    int
}

type ProviderConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type LLMConfig struct {
	Primary  ProviderConfig
	Fallback ProviderConfig // disabled when BaseURL is empty

	BreakerMinRequests uint32
	BreakerFailureRate float64
	BreakerOpenFor     time.Duration
	BreakerHalfOpenMax uint32
	BreakerWindow      time.Duration
}

type RecoveryConfig struct {
	StuckAfter     time.Duration
	StuckEvery     time.Duration
	StuckBatch     int
	ReprocessEvery time.Duration
	ReprocessBatch int
	MaxEventAge    time.Duration
	MaxRetries     int
}

type IndexerConfig struct {
	Group   string
	DocsKey string
}

func Load() *Config {
	return &Config{
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		HTTP: HTTPConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		Stream: StreamConfig{
			SubmissionStream: getEnv("STREAM_SUBMISSIONS", "jd.submissions"),
			SubmissionGroup:  getEnv("STREAM_SUBMISSION_GROUP", "jd-workers"),
			EventStream:      getEnv("STREAM_EVENTS", "jd.events"),
			MaxLen:           getEnvAsInt64("STREAM_MAX_LEN", 100000),
			Block:            getEnvAsDuration("STREAM_BLOCK", 5*time.Second),
			BatchSize:        getEnvAsInt64("STREAM_BATCH_SIZE", 10),
			MinIdle:          getEnvAsDuration("STREAM_MIN_IDLE", time.Minute),
			SweepEvery:       getEnvAsDuration("STREAM_SWEEP_EVERY", 30*time.Second),
			MaxDeliveries:    getEnvAsInt64("STREAM_MAX_DELIVERIES", 3),
		},
		Worker: WorkerConfig{
			Consumers:        getEnvAsInt("WORKERS", 4),
			LLMMaxConcurrent: getEnvAsInt64("LLM_MAX_CONCURRENT", 4),
			DrainTimeout:     getEnvAsDuration("DRAIN_TIMEOUT", 30*time.Second),
		},
		Intake: IntakeConfig{
			SimhashMaxDistance: getEnvAsInt("INTAKE_SIMHASH_MAX_DISTANCE", 3),
			ReprocessWindow:    getEnvAsDuration("INTAKE_REPROCESS_WINDOW", 72*time.Hour),
			CandidateWindow:    getEnvAsInt("INTAKE_CANDIDATE_WINDOW", 512),
		},
		LLM: LLMConfig{
			Primary: ProviderConfig{
				Name:        getEnv("LLM_PRIMARY_NAME", "primary"),
				BaseURL:     getEnv("LLM_PRIMARY_BASE_URL", "https://api.openai.com/v1"),
				APIKey:      getEnv("LLM_PRIMARY_API_KEY", ""),
				Model:       getEnv("LLM_PRIMARY_MODEL", "gpt-4o-mini"),
				Temperature: getEnvAsFloat32("LLM_PRIMARY_TEMPERATURE", 0.0),
				Timeout:     getEnvAsDuration("LLM_PRIMARY_TIMEOUT", 45*time.Second),
			},
			Fallback: ProviderConfig{
				Name:        getEnv("LLM_FALLBACK_NAME", "fallback"),
				BaseURL:     getEnv("LLM_FALLBACK_BASE_URL", ""),
				APIKey:      getEnv("LLM_FALLBACK_API_KEY", ""),
				Model:       getEnv("LLM_FALLBACK_MODEL", ""),
				Temperature: getEnvAsFloat32("LLM_FALLBACK_TEMPERATURE", 0.0),
				Timeout:     getEnvAsDuration("LLM_FALLBACK_TIMEOUT", 45*time.Second),
			},
			BreakerMinRequests: uint32(getEnvAsInt("LLM_BREAKER_MIN_REQUESTS", 10)),
			BreakerFailureRate: getEnvAsFloat64("LLM_BREAKER_FAILURE_RATE", 0.5),
			BreakerOpenFor:     getEnvAsDuration("LLM_BREAKER_OPEN_FOR", 30*time.Second),
			BreakerHalfOpenMax: uint32(getEnvAsInt("LLM_BREAKER_HALF_OPEN_MAX", 2)),
			BreakerWindow:      getEnvAsDuration("LLM_BREAKER_WINDOW", time.Minute),
		},
		Recovery: RecoveryConfig{
			StuckAfter:     getEnvAsDuration("RECOVERY_STUCK_AFTER", 10*time.Minute),
			StuckEvery:     getEnvAsDuration("RECOVERY_STUCK_EVERY", time.Minute),
			StuckBatch:     getEnvAsInt("RECOVERY_STUCK_BATCH", 20),
			ReprocessEvery: getEnvAsDuration("RECOVERY_REPROCESS_EVERY", 5*time.Minute),
			ReprocessBatch: getEnvAsInt("RECOVERY_REPROCESS_BATCH", 50),
			MaxEventAge:    getEnvAsDuration("RECOVERY_MAX_EVENT_AGE", 7*24*time.Hour),
			MaxRetries:     getEnvAsInt("RECOVERY_MAX_RETRIES", 5),
		},
		Indexer: IndexerConfig{
			Group:   getEnv("INDEXER_GROUP", "jd-indexer"),
			DocsKey: getEnv("INDEXER_DOCS_KEY", "jd:search:docs"),
		},
	}
}

func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.LLM.Primary.APIKey == "" {
		return errors.New("LLM_PRIMARY_API_KEY is required")
	}
	if c.LLM.Fallback.BaseURL != "" && c.LLM.Fallback.Model == "" {
		return errors.New("LLM_FALLBACK_MODEL is required when a fallback base URL is set")
	}
	return nil
}

// FallbackEnabled reports whether a secondary provider is configured.
func (c *LLMConfig) FallbackEnabled() bool {
	return c.Fallback.BaseURL != ""
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password segment of a connection string for logging.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
