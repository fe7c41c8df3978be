package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the proctoring service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	LogLevel         string
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionIdleTimeout time.Duration
	JanitorInterval    time.Duration

	FanoutQueueSize        int
	FanoutSubscriberBuffer int

	// Debounce settings handed to monitored clients.
	FaceAbsenceThreshold time.Duration
	FocusLossThreshold   time.Duration
	MonitorTick          time.Duration
	InstantCooldownTicks int

	DatabaseURL   string
	ClickHouseDSN string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "proctorwatch"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ClickHouseDSN:    stringsTrimSpace("CLICKHOUSE_DSN"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FanoutQueueSize, err = intFromEnv("APP_FANOUT_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.FanoutSubscriberBuffer, err = intFromEnv("APP_FANOUT_SUBSCRIBER_BUFFER", 64); err != nil {
		return Config{}, err
	}
	if cfg.FaceAbsenceThreshold, err = durationFromEnv("APP_FACE_ABSENCE_THRESHOLD", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FocusLossThreshold, err = durationFromEnv("APP_FOCUS_LOSS_THRESHOLD", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MonitorTick, err = durationFromEnv("APP_MONITOR_TICK", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.InstantCooldownTicks, err = intFromEnv("APP_INSTANT_COOLDOWN_TICKS", 3); err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("APP_JANITOR_INTERVAL must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.FanoutQueueSize <= 0 {
		return Config{}, fmt.Errorf("APP_FANOUT_QUEUE_SIZE must be positive")
	}
	if cfg.FanoutSubscriberBuffer <= 0 {
		return Config{}, fmt.Errorf("APP_FANOUT_SUBSCRIBER_BUFFER must be positive")
	}
	if cfg.MonitorTick <= 0 {
		return Config{}, fmt.Errorf("APP_MONITOR_TICK must be positive")
	}
	if cfg.FaceAbsenceThreshold < cfg.MonitorTick || cfg.FocusLossThreshold < cfg.MonitorTick {
		return Config{}, fmt.Errorf("debounce thresholds must be at least APP_MONITOR_TICK")
	}
	if cfg.InstantCooldownTicks <= 0 {
		return Config{}, fmt.Errorf("APP_INSTANT_COOLDOWN_TICKS must be positive")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
