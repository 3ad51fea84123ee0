package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Sessions   SessionConfig
	Recognizer RecognizerConfig
	Records    RecordsConfig
	Semantic   SemanticConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr          string
	MaxUploadSize int64
}

// SessionConfig holds session storage and lifecycle configuration
type SessionConfig struct {
	StorageDir    string
	Timeout       time.Duration
	SweepInterval time.Duration
	StageTimeout  time.Duration
}

// RecognizerConfig holds recognition-service configuration
type RecognizerConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float32
	Timeout           time.Duration
	RequestsPerMinute int
}

// RecordsConfig holds record-store configuration
type RecordsConfig struct {
	DSN             string
	Collection      string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	StagingPath     string
}

// SemanticConfig holds semantic-index configuration
type SemanticConfig struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          getEnv("HTTP_ADDR", ":8080"),
			MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_BYTES", 100<<20),
		},
		Sessions: SessionConfig{
			StorageDir:    getEnv("SESSION_DIR", "./sessions"),
			Timeout:       getEnvAsDuration("SESSION_TIMEOUT", 24*time.Hour),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", time.Hour),
			StageTimeout:  getEnvAsDuration("STAGE_TIMEOUT", 30*time.Minute),
		},
		Recognizer: RecognizerConfig{
			BaseURL:           getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			Model:             getEnv("OPENAI_MODEL", "gpt-4o"),
			Temperature:       getEnvAsFloat32("OPENAI_TEMPERATURE", 0.1),
			Timeout:           getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvAsInt("RECOGNIZER_RPM", 50),
		},
		Records: RecordsConfig{
			DSN:             getEnv("DB_URL", ""),
			Collection:      getEnv("RECORDS_COLLECTION", "Pipeline Results"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 10),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StagingPath:     getEnv("STAGING_DB_PATH", "./staging.db"),
		},
		Semantic: SemanticConfig{
			BaseURL:    getEnv("SEMANTIC_BASE_URL", ""),
			Collection: getEnv("SEMANTIC_COLLECTION", "pipeline_results"),
			Timeout:    getEnvAsDuration("SEMANTIC_TIMEOUT", 15*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Sessions.StorageDir == "" {
		return NewAppError("CONFIG_ERROR", "SESSION_DIR is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Recognizer.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Recognizer.RequestsPerMinute <= 0 {
		return NewAppError("CONFIG_ERROR", "RECOGNIZER_RPM must be positive", ErrInvalidInput)
	}
	return nil
}
