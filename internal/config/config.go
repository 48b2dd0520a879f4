package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           8080,
			Bind:           "loopback",
			MaxBodyBytes:   1 << 20,
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			MaxOpenConns: 10,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       250 * time.Millisecond,
		},
		Pairing: PairingConfig{
			Lock:           "local",
			LockTTL:        10 * time.Second,
			ContentPreview: 200,
		},
		Stats: StatsConfig{
			LookbackDays:    30,
			UrgentMinutes:   30,
			CriticalMinutes: 120,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
