package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	ServiceName string `validate:"required"`
	ServicePort int    `validate:"min=1,max=65535"`
	Database    DatabaseConfig
	ProTrack    ProTrackConfig
	Fetch       FetchConfig
	Load        LoadConfig
	Artifacts   ArtifactsConfig
	Schedule    ScheduleConfig
	RabbitMQ    RabbitMQConfig
	HTTP        HTTPConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string `validate:"required"`
}

// ProTrackConfig holds upstream tracking API credentials
type ProTrackConfig struct {
	BaseURL     string        `validate:"required,url"`
	Account     string        `validate:"required"`
	Password    string        `validate:"required"`
	AuthTimeout time.Duration `validate:"gt=0"`
}

// FetchConfig holds the batch fetch limits
type FetchConfig struct {
	BatchSize      int           `validate:"min=1,max=1000"`
	MaxConcurrent  int           `validate:"min=1"`
	MaxPerHost     int           `validate:"min=1"`
	RequestTimeout time.Duration `validate:"gt=0"`
	SessionTimeout time.Duration `validate:"gt=0"`
}

// LoadConfig holds upsert loader settings
type LoadConfig struct {
	BatchSize int `validate:"min=1"`
}

// ArtifactsConfig holds run artifact and IMEI source locations
type ArtifactsConfig struct {
	Dir      string `validate:"required"`
	IMEIFile string `validate:"required"`
}

// ScheduleConfig holds the periodic run interval. Zero disables the scheduler.
type ScheduleConfig struct {
	Interval time.Duration `validate:"gte=0"`
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	EventsExchange    string
	EventsRoutingKey  string
	TriggerExchange   string
	TriggerQueue      string
	TriggerRoutingKey string
	DLQQueue          string
	PrefetchCount     int `validate:"min=1"`
}

// Enabled reports whether RabbitMQ integration is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	CORSOrigins      []string
	TriggerRateLimit int `validate:"min=1"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "gps-tracking-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		ProTrack: ProTrackConfig{
			BaseURL:     getEnv("PROTRACK_BASE_URL", "https://api.protrack365.com/api"),
			Account:     getEnv("PROTRACK_ACCOUNT", ""),
			Password:    getEnv("PROTRACK_PASSWORD", ""),
			AuthTimeout: getEnvAsDuration("AUTH_TIMEOUT", 30*time.Second),
		},
		Fetch: FetchConfig{
			BatchSize:      getEnvAsInt("FETCH_BATCH_SIZE", 100),
			MaxConcurrent:  getEnvAsInt("FETCH_MAX_CONCURRENT", 10),
			MaxPerHost:     getEnvAsInt("FETCH_MAX_PER_HOST", 5),
			RequestTimeout: getEnvAsDuration("FETCH_REQUEST_TIMEOUT", 60*time.Second),
			SessionTimeout: getEnvAsDuration("FETCH_SESSION_TIMEOUT", 120*time.Second),
		},
		Load: LoadConfig{
			BatchSize: getEnvAsInt("LOAD_BATCH_SIZE", 100),
		},
		Artifacts: ArtifactsConfig{
			Dir:      getEnv("ARTIFACTS_DIR", "response_logs"),
			IMEIFile: getEnv("IMEI_FILE", "LATEST_IMEI.csv"),
		},
		Schedule: ScheduleConfig{
			Interval: getEnvAsDuration("SCHEDULE_INTERVAL", 15*time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			EventsExchange:    getEnv("RABBITMQ_EVENTS_EXCHANGE", "gps-tracking.events.exchange"),
			EventsRoutingKey:  getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "tracking.run.completed"),
			TriggerExchange:   getEnv("RABBITMQ_TRIGGER_EXCHANGE", "gps-tracking.trigger.exchange"),
			TriggerQueue:      getEnv("RABBITMQ_TRIGGER_QUEUE", "gps-tracking.trigger.queue"),
			TriggerRoutingKey: getEnv("RABBITMQ_TRIGGER_ROUTING_KEY", "tracking.run.requested"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "gps-tracking.trigger.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 1),
		},
		HTTP: HTTPConfig{
			CORSOrigins:      getEnvAsList("CORS_ORIGINS", []string{"*"}),
			TriggerRateLimit: getEnvAsInt("TRIGGER_RATE_LIMIT_PER_MINUTE", 6),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration and reports the first set of
// offending environment-backed fields.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate configuration: %w", err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
