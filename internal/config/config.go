package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Feed        FeedConfig
	Ingest      IngestConfig
	RabbitMQ    RabbitMQConfig
	Backup      BackupConfig
}

// HTTPConfig holds settings for the passthrough API served by `serve`
type HTTPConfig struct {
	AllowedOrigins []string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// FeedConfig holds settings for the external feed client
type FeedConfig struct {
	// DefaultURL seeds the apiUrl setting when the settings table has none.
	DefaultURL        string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// IngestConfig holds ingestion run settings
type IngestConfig struct {
	RecentWindow     time.Duration
	ScheduleInterval time.Duration
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables the broker; notifications then only go to the log.
type RabbitMQConfig struct {
	URL                string
	NotifyExchange     string
	AlertRoutingKey    string
	ProgressRoutingKey string
	RunRoutingKey      string
	TriggerExchange    string
	TriggerQueue       string
	TriggerRoutingKey  string
	DLQQueue           string
	PrefetchCount      int
}

// BackupConfig holds the bucket used by backup and restore
type BackupConfig struct {
	BucketURL string
}

// Enabled reports whether a broker is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "linky-feed-ingester"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 3000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			AllowedOrigins: getEnvAsList("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		Feed: FeedConfig{
			DefaultURL:        getEnv("FEED_URL", ""),
			Timeout:           getEnvAsDuration("FEED_HTTP_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("FEED_REQUESTS_PER_SECOND", 1),
			MaxRetries:        getEnvAsInt("FEED_MAX_RETRIES", 0),
			RetryBaseDelay:    getEnvAsDuration("FEED_RETRY_BASE_DELAY", time.Second),
		},
		Ingest: IngestConfig{
			RecentWindow:     getEnvAsDuration("INGEST_RECENT_WINDOW", 5*time.Minute),
			ScheduleInterval: getEnvAsDuration("INGEST_SCHEDULE_INTERVAL", 5*time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                getEnv("RABBITMQ_URL", ""),
			NotifyExchange:     getEnv("RABBITMQ_NOTIFY_EXCHANGE", "linky.notifications.exchange"),
			AlertRoutingKey:    getEnv("RABBITMQ_ALERT_ROUTING_KEY", "consumption.alert"),
			ProgressRoutingKey: getEnv("RABBITMQ_PROGRESS_ROUTING_KEY", "ingestion.progress"),
			RunRoutingKey:      getEnv("RABBITMQ_RUN_ROUTING_KEY", "ingestion.run"),
			TriggerExchange:    getEnv("RABBITMQ_TRIGGER_EXCHANGE", "linky.ingest.exchange"),
			TriggerQueue:       getEnv("RABBITMQ_TRIGGER_QUEUE", "linky.ingest.trigger.queue"),
			TriggerRoutingKey:  getEnv("RABBITMQ_TRIGGER_ROUTING_KEY", "ingestion.trigger"),
			DLQQueue:           getEnv("RABBITMQ_DLQ_QUEUE", "linky.ingest.trigger.dlq"),
			PrefetchCount:      getEnvAsInt("RABBITMQ_PREFETCH", 1),
		},
		Backup: BackupConfig{
			BucketURL: getEnv("BACKUP_BUCKET_URL", "file:///var/lib/linky-ingester/backups?create_dir=true"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.Feed.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("FEED_REQUESTS_PER_SECOND must be positive, got %v", cfg.Feed.RequestsPerSecond)
	}
	if cfg.Ingest.ScheduleInterval <= 0 {
		return nil, fmt.Errorf("INGEST_SCHEDULE_INTERVAL must be positive, got %v", cfg.Ingest.ScheduleInterval)
	}
	if cfg.Feed.MaxRetries < 0 {
		return nil, fmt.Errorf("FEED_MAX_RETRIES must not be negative, got %d", cfg.Feed.MaxRetries)
	}

	return cfg, nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
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
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
