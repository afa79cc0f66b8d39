package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the detection pipeline.
type Config struct {
	// Model lifecycle
	ModelDir             string
	MaxSamples           int
	MinSamples           int
	UpdateInterval       time.Duration
	PerformanceThreshold float64

	// Feature extraction
	AuditLogPath  string
	VectorDim     int
	Contamination float64

	// Scoring
	ScoreOperation  string
	MinAnomalyRatio float64
	WindowSize      int

	// Alerting
	MinSeverity     string
	WebhookURL      string
	SlackWebhookURL string
	SMTP            SMTPConfig

	// Infrastructure (optional, pipeline degrades without them)
	NatsURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreBackend  string
	StoreDSN      string

	// Surfaces
	DashboardPort string
	HealthPort    string
	MetricsDir    string
	RulesFile     string
	ModSecRuleDir string
}

// SMTPConfig carries email notification settings. Empty host disables
// the channel.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	To       string
	Password string
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := &Config{
		ModelDir:             getEnvOrDefault("MODEL_DIR", "models"),
		MaxSamples:           parseIntOrDefault("MAX_SAMPLES", 10000),
		MinSamples:           parseIntOrDefault("MIN_SAMPLES", 1000),
		UpdateInterval:       time.Duration(parseIntOrDefault("UPDATE_INTERVAL", 3600)) * time.Second,
		PerformanceThreshold: parseFloatOrDefault("PERFORMANCE_THRESHOLD", 0.8),

		AuditLogPath:  getEnvOrDefault("AUDIT_LOG_PATH", "/var/log/modsec_audit.log"),
		VectorDim:     parseIntOrDefault("VECTOR_DIM", 256),
		Contamination: parseFloatOrDefault("CONTAMINATION", 0.1),

		ScoreOperation:  getEnvOrDefault("SCORE_OPERATION", "mean"),
		MinAnomalyRatio: parseFloatOrDefault("MIN_ANOMALY_RATIO", 0.1),
		WindowSize:      parseIntOrDefault("WINDOW_SIZE", 100),

		MinSeverity:     getEnvOrDefault("MIN_SEVERITY", "medium"),
		WebhookURL:      getEnvOrDefault("WEBHOOK_URL", ""),
		SlackWebhookURL: getEnvOrDefault("SLACK_WEBHOOK_URL", ""),
		SMTP: SMTPConfig{
			Host:     getEnvOrDefault("SMTP_HOST", ""),
			Port:     getEnvOrDefault("SMTP_PORT", "587"),
			From:     getEnvOrDefault("SMTP_FROM", ""),
			To:       getEnvOrDefault("SMTP_TO", ""),
			Password: getEnvOrDefault("SMTP_PASSWORD", ""),
		},

		NatsURL:       getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       parseIntOrDefault("REDIS_DB", 0),
		StoreBackend:  getEnvOrDefault("STORE_BACKEND", "sqlite"),
		StoreDSN:      getEnvOrDefault("STORE_DSN", "modsec-ai.db"),

		DashboardPort: getEnvOrDefault("DASHBOARD_PORT", "8080"),
		HealthPort:    getEnvOrDefault("HEALTH_PORT", "8081"),
		MetricsDir:    getEnvOrDefault("METRICS_DIR", "metrics"),
		RulesFile:     getEnvOrDefault("RULES_FILE", ""),
		ModSecRuleDir: getEnvOrDefault("MODSEC_RULES_DIR", "generated_rules"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR is required")
	}

	if c.MaxSamples <= 0 {
		return fmt.Errorf("MAX_SAMPLES must be positive")
	}

	if c.MinSamples <= 0 {
		return fmt.Errorf("MIN_SAMPLES must be positive")
	}

	if c.MinSamples > c.MaxSamples {
		return fmt.Errorf("MIN_SAMPLES must not exceed MAX_SAMPLES")
	}

	if c.UpdateInterval <= 0 {
		return fmt.Errorf("UPDATE_INTERVAL must be positive")
	}

	if c.PerformanceThreshold < 0 || c.PerformanceThreshold > 1 {
		return fmt.Errorf("PERFORMANCE_THRESHOLD must be between 0 and 1")
	}

	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return fmt.Errorf("CONTAMINATION must be in (0, 0.5]")
	}

	if c.VectorDim <= 0 {
		return fmt.Errorf("VECTOR_DIM must be positive")
	}

	switch c.ScoreOperation {
	case "mean", "max", "min", "weighted_mean":
	default:
		return fmt.Errorf("SCORE_OPERATION must be one of mean, max, min, weighted_mean")
	}

	switch c.StoreBackend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite or postgres")
	}

	switch c.MinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("MIN_SEVERITY must be one of low, medium, high, critical")
	}

	if c.MinAnomalyRatio < 0 || c.MinAnomalyRatio > 1 {
		return fmt.Errorf("MIN_ANOMALY_RATIO must be between 0 and 1")
	}

	if c.WindowSize <= 0 {
		return fmt.Errorf("WINDOW_SIZE must be positive")
	}

	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
