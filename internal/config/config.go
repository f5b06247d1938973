// Package config loads the gateway configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the gateway process needs from the
// environment.
type Config struct {
	// MGCAPIURL is the base URL of the consent-management service.
	MGCAPIURL string

	RedisHost string
	RedisPort int

	// CacheTTL bounds the validity of cached policies.
	CacheTTL time.Duration
	// AggregationQueueKey names the sorted set holding the due-queue.
	AggregationQueueKey string

	MQTTHost string
	MQTTPort int

	// NotificationsTopic carries MGC cache-invalidation messages.
	NotificationsTopic string
	// DeviceDataTopic is the wildcard subscription for device data; the
	// device id is the second segment of each concrete topic.
	DeviceDataTopic string
	// ProcessedDataTopic is the prefix for outbound processed data.
	ProcessedDataTopic string

	// SchedulerTick is the aggregation scheduler poll period.
	SchedulerTick time.Duration

	// HTTPPort serves /health and /metrics.
	HTTPPort string
}

// Load reads the configuration from the environment. A missing .env
// file is not an error; a missing required variable is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("[Config] No .env file found, using process environment")
	}

	cfg := &Config{
		MGCAPIURL:           os.Getenv("MGC_API_URL"),
		RedisHost:           os.Getenv("REDIS_HOST"),
		AggregationQueueKey: envOr("AGGREGATION_TASK_QUEUE", "agg_queue"),
		MQTTHost:            os.Getenv("MQTT_HOST"),
		NotificationsTopic:  os.Getenv("TOPICO_NOTIFICACOES_MGC"),
		DeviceDataTopic:     os.Getenv("TOPICO_DADOS_DISPOSITIVOS"),
		ProcessedDataTopic:  os.Getenv("TOPICO_DADOS_PROCESSADOS"),
		HTTPPort:            envOr("PORT", "8080"),
		SchedulerTick:       2 * time.Second,
	}

	var err error
	if cfg.RedisPort, err = envIntOr("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.MQTTPort, err = envIntOr("MQTT_PORT", 1883); err != nil {
		return nil, err
	}
	ttlSeconds, err := envIntOr("CACHE_TTL_TIME", 300)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		name, value string
	}{
		{"MGC_API_URL", c.MGCAPIURL},
		{"REDIS_HOST", c.RedisHost},
		{"MQTT_HOST", c.MQTTHost},
		{"TOPICO_NOTIFICACOES_MGC", c.NotificationsTopic},
		{"TOPICO_DADOS_DISPOSITIVOS", c.DeviceDataTopic},
		{"TOPICO_DADOS_PROCESSADOS", c.ProcessedDataTopic},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("missing required environment variable %s", r.name)
		}
	}
	return nil
}

// RedisAddr returns host:port for the cache service.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envIntOr(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", name, err)
	}
	return n, nil
}
