package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	Gateway    GatewayConfig
	Supervisor SupervisorConfig
}

// GatewayConfig holds the per-worker gateway configuration
type GatewayConfig struct {
	Port             int
	AdminID          string
	UpstreamBaseURL  string
	MaxConnsPerIP    int
	PingInterval     time.Duration
	PongTimeout      time.Duration
	MaxPayloadBytes  int64
	SendQueueSize    int
	PresenceDebounce time.Duration
	ShutdownGrace    time.Duration
}

// SupervisorConfig holds the worker pool configuration
type SupervisorConfig struct {
	Workers       int
	BasePort      int
	StatsInterval time.Duration
	ShutdownGrace time.Duration
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory or parent directories
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	port := getEnvAsInt("CHATD_PORT", 8090)

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Gateway: GatewayConfig{
			Port:             port,
			AdminID:          getEnv("ADMIN_ID", "admin"),
			UpstreamBaseURL:  getEnv("UPSTREAM_BASE_URL", ""),
			MaxConnsPerIP:    getEnvAsInt("MAX_CONNS_PER_IP", 20),
			PingInterval:     getEnvAsDuration("PING_INTERVAL", 30*time.Second),
			PongTimeout:      getEnvAsDuration("PONG_TIMEOUT", 10*time.Second),
			MaxPayloadBytes:  getEnvAsInt64("MAX_PAYLOAD_BYTES", 64*1024),
			SendQueueSize:    getEnvAsInt("SEND_QUEUE_SIZE", 256),
			PresenceDebounce: getEnvAsDuration("PRESENCE_DEBOUNCE", 50*time.Millisecond),
			ShutdownGrace:    getEnvAsDuration("SHUTDOWN_GRACE", 10*time.Second),
		},
		Supervisor: SupervisorConfig{
			Workers:       getEnvAsInt("CHATD_WORKERS", defaultWorkerCount()),
			BasePort:      port,
			StatsInterval: getEnvAsDuration("STATS_INTERVAL", 10*time.Second),
			ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("CHATD_PORT must be a valid port, got %d", c.Gateway.Port)
	}
	if c.Gateway.AdminID == "" {
		return fmt.Errorf("ADMIN_ID is required")
	}
	if c.Gateway.MaxConnsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNS_PER_IP must be positive, got %d", c.Gateway.MaxConnsPerIP)
	}
	if c.Gateway.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be positive, got %s", c.Gateway.PingInterval)
	}
	if c.Gateway.PongTimeout <= 0 {
		return fmt.Errorf("PONG_TIMEOUT must be positive, got %s", c.Gateway.PongTimeout)
	}
	if c.Gateway.MaxPayloadBytes <= 0 {
		return fmt.Errorf("MAX_PAYLOAD_BYTES must be positive, got %d", c.Gateway.MaxPayloadBytes)
	}
	if c.Gateway.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive, got %d", c.Gateway.SendQueueSize)
	}
	if c.Supervisor.Workers <= 0 {
		return fmt.Errorf("CHATD_WORKERS must be positive, got %d", c.Supervisor.Workers)
	}
	return nil
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
