// Package config assembles the process configuration from environment
// variables, with defaults suitable for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	HTTPPort string

	Database DatabaseConfig
	Redis    RedisConfig

	Scheduler SchedulerConfig
	Voice     VoiceConfig
	Workers   WorkerConfig
	Mutation  MutationConfig
	Umbrella  UmbrellaConfig

	LLM      LLMConfig
	Providers ProviderConfig

	WebhookSigningSecret    string
	GracefulShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the pgx-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds coordination-store connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SchedulerConfig controls the tick loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// VoiceConfig controls the voice worker pool and its capacity retries.
type VoiceConfig struct {
	Concurrency int
	RetryDelay  time.Duration
	MaxRetries  int
	LockLease   time.Duration
}

// WorkerConfig controls the non-voice worker pools.
type WorkerConfig struct {
	SMSConcurrency   int
	EmailConcurrency int
	EventConcurrency int
	MaxSendAttempts  int
}

// MutationConfig controls the adaptive content mutator.
type MutationConfig struct {
	MinConfidence float64
}

// UmbrellaConfig controls resolver caching and webhook-sync staleness.
type UmbrellaConfig struct {
	CacheTTL    time.Duration
	SyncHorizon time.Duration
}

// LLMConfig points at the chat-completions endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ProviderConfig holds the outbound voice/SMS/email provider endpoints.
type ProviderConfig struct {
	VoiceBaseURL string
	VoiceAPIKey  string
	SMSBaseURL   string
	SMSAPIKey    string
	EmailBaseURL string
	EmailAPIKey  string
	// CallbackBaseURL is the public base URL providers call back on.
	CallbackBaseURL string
}

// LoadFromEnv builds the Config from environment variables.
func LoadFromEnv() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	minConfidence, err := strconv.ParseFloat(getEnv("MUTATION_MIN_CONFIDENCE", "0.50"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MUTATION_MIN_CONFIDENCE: %w", err)
	}

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "cadence"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnv("DB_NAME", "cadence"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Scheduler: SchedulerConfig{
			PollInterval: getEnvDurationMS("POLL_INTERVAL_MS", 5000),
			BatchSize:    getEnvInt("BATCH_SIZE", 100),
		},
		Voice: VoiceConfig{
			Concurrency: getEnvInt("VOICE_CONCURRENCY", 5),
			RetryDelay:  getEnvDurationMS("VOICE_RETRY_DELAY_MS", 30000),
			MaxRetries:  getEnvInt("VOICE_MAX_RETRIES", 3),
			LockLease:   getEnvDurationMS("VOICE_LOCK_LEASE_MS", 60000),
		},
		Workers: WorkerConfig{
			SMSConcurrency:   getEnvInt("SMS_CONCURRENCY", 5),
			EmailConcurrency: getEnvInt("EMAIL_CONCURRENCY", 5),
			EventConcurrency: getEnvInt("EVENT_CONCURRENCY", 5),
			MaxSendAttempts:  getEnvInt("MAX_SEND_ATTEMPTS", 3),
		},
		Mutation: MutationConfig{
			MinConfidence: minConfidence,
		},
		Umbrella: UmbrellaConfig{
			CacheTTL:    getEnvDurationMS("UMBRELLA_CACHE_TTL_MS", 60000),
			SyncHorizon: getEnvDurationMS("UMBRELLA_SYNC_HORIZON_MS", 300000),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDurationMS("LLM_TIMEOUT_MS", 45000),
		},
		Providers: ProviderConfig{
			VoiceBaseURL:    getEnv("VOICE_BASE_URL", "https://api.vapi.ai"),
			VoiceAPIKey:     os.Getenv("VOICE_API_KEY"),
			SMSBaseURL:      getEnv("SMS_BASE_URL", ""),
			SMSAPIKey:       os.Getenv("SMS_API_KEY"),
			EmailBaseURL:    getEnv("EMAIL_BASE_URL", ""),
			EmailAPIKey:     os.Getenv("EMAIL_API_KEY"),
			CallbackBaseURL: getEnv("CALLBACK_BASE_URL", ""),
		},
		WebhookSigningSecret:    os.Getenv("WEBHOOK_SIGNING_SECRET"),
		GracefulShutdownTimeout: getEnvDurationMS("GRACEFUL_SHUTDOWN_TIMEOUT_MS", 30000),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.Voice.Concurrency <= 0 {
		return fmt.Errorf("VOICE_CONCURRENCY must be positive")
	}
	if c.Mutation.MinConfidence < 0 || c.Mutation.MinConfidence > 1 {
		return fmt.Errorf("MUTATION_MIN_CONFIDENCE must be in [0,1]")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDurationMS(key string, defaultMS int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMS)) * time.Millisecond
}
