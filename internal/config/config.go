package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	HTTP        HTTPConfig
	Redis       RedisConfig
	Services    ServicesConfig
	Breaker     BreakerConfig
	Workflow    WorkflowConfig
	Speculative SpeculativeConfig
	Log         LogConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL             string
	PoolSize        int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IntentChannel   string
	ResponseChannel string
}

// ServicesConfig holds the base URLs of the downstream collaborators. The
// orchestrator never interprets their internals, only their HTTP contracts.
type ServicesConfig struct {
	AuthURL      string
	SpeechURL    string
	IntentURL    string
	RAGURL       string
	TTSURL       string
	LLMURL       string
	AnalyticsURL string

	Timeout       time.Duration
	RetryAttempts int
}

type BreakerConfig struct {
	FailureThreshold int
	CooldownPeriod   time.Duration
}

type WorkflowConfig struct {
	Timeout         time.Duration
	MaxConcurrent   int
	RetentionPeriod time.Duration
}

type SpeculativeConfig struct {
	Enabled           bool
	PrefetchThreshold float64
	MaxTasks          int
	Timeout           time.Duration
	TaskTTL           time.Duration
	CacheTTL          time.Duration
	SweepInterval     time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Load() (*Config, error) {
	// A missing .env file is fine; env vars may come from the environment.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         getEnvInt("PORT", 8004),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			PoolSize:        getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:     getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:     getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:    getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			IntentChannel:   getEnv("REDIS_INTENT_CHANNEL", "intent_results"),
			ResponseChannel: getEnv("REDIS_RESPONSE_CHANNEL", "orchestrator_output"),
		},
		Services: ServicesConfig{
			AuthURL:       getEnv("AUTH_SERVICE_URL", "http://auth:8001"),
			SpeechURL:     getEnv("SPEECH_SERVICE_URL", "http://speech:8002"),
			IntentURL:     getEnv("INTENT_SERVICE_URL", "http://intent:8003"),
			RAGURL:        getEnv("RAG_SERVICE_URL", "http://rag:8005"),
			TTSURL:        getEnv("TTS_SERVICE_URL", "http://tts:8006"),
			LLMURL:        getEnv("LLM_SERVICE_URL", "http://llm:8007"),
			AnalyticsURL:  getEnv("ANALYTICS_SERVICE_URL", "http://analytics:8008"),
			Timeout:       getEnvDuration("SERVICE_TIMEOUT", 10*time.Second),
			RetryAttempts: getEnvInt("RETRY_ATTEMPTS", 3),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			CooldownPeriod:   getEnvDuration("CIRCUIT_BREAKER_COOLDOWN", 60*time.Second),
		},
		Workflow: WorkflowConfig{
			Timeout:         getEnvDuration("WORKFLOW_TIMEOUT", 30*time.Second),
			MaxConcurrent:   getEnvInt("MAX_CONCURRENT_WORKFLOWS", 100),
			RetentionPeriod: getEnvDuration("WORKFLOW_RETENTION_PERIOD", 5*time.Minute),
		},
		Speculative: SpeculativeConfig{
			Enabled:           getEnvBool("ENABLE_SPECULATIVE_EXECUTION", true),
			PrefetchThreshold: getEnvFloat("SPECULATIVE_PREFETCH_THRESHOLD", 0.7),
			MaxTasks:          getEnvInt("MAX_SPECULATIVE_TASKS", 10),
			Timeout:           getEnvDuration("SPECULATIVE_TIMEOUT", 5*time.Second),
			TaskTTL:           getEnvDuration("SPECULATIVE_TASK_TTL", 10*time.Minute),
			CacheTTL:          getEnvDuration("SPECULATIVE_CACHE_TTL", 5*time.Minute),
			SweepInterval:     getEnvDuration("SPECULATIVE_SWEEP_INTERVAL", 60*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}

	if cfg.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if cfg.Speculative.PrefetchThreshold < 0 || cfg.Speculative.PrefetchThreshold > 1 {
		return fmt.Errorf("SPECULATIVE_PREFETCH_THRESHOLD must be within [0,1], got %f", cfg.Speculative.PrefetchThreshold)
	}

	if cfg.Speculative.MaxTasks <= 0 {
		return fmt.Errorf("MAX_SPECULATIVE_TASKS must be positive, got %d", cfg.Speculative.MaxTasks)
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be positive, got %d", cfg.Breaker.FailureThreshold)
	}

	if cfg.Speculative.Timeout >= cfg.Workflow.Timeout {
		return fmt.Errorf("SPECULATIVE_TIMEOUT (%v) must be shorter than WORKFLOW_TIMEOUT (%v)",
			cfg.Speculative.Timeout, cfg.Workflow.Timeout)
	}

	return nil
}

// ServiceURLs returns the downstream registry as a name -> base URL map.
func (cfg *ServicesConfig) ServiceURLs() map[string]string {
	return map[string]string{
		"auth":      cfg.AuthURL,
		"speech":    cfg.SpeechURL,
		"intent":    cfg.IntentURL,
		"rag":       cfg.RAGURL,
		"tts":       cfg.TTSURL,
		"llm":       cfg.LLMURL,
		"analytics": cfg.AnalyticsURL,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
