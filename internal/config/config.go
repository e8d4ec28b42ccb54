package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	APIKey        string
	LogLevel      string
	StaticDir     string
	SweepInterval time.Duration

	MQTTBrokerURL  string
	MQTTClientID   string
	TopicPrefix    string
	IngestRetained bool

	Postgres DBConfig
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		APIKey:         strings.TrimSpace(os.Getenv("API_KEY")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StaticDir:      getEnv("STATIC_DIR", "public"),
		SweepInterval:  parseSeconds(getEnv("RETENTION_SWEEP_SECONDS", "60")),
		MQTTBrokerURL:  strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "telemetry-service"),
		TopicPrefix:    getEnv("TELEMETRY_TOPIC_PREFIX", "telemetry/readings/"),
		IngestRetained: parseBool(getEnv("INGEST_RETAINED", "false")),
		Postgres: DBConfig{
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     strings.TrimSpace(os.Getenv("POSTGRES_PORT")),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
	}

	slog.Info("telemetry-service config loaded", "port", cfg.Port, "mqtt", cfg.MQTTBrokerURL, "topic_prefix", cfg.TopicPrefix)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseSeconds(val string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n <= 0 {
		return time.Minute
	}
	return time.Duration(n) * time.Second
}
