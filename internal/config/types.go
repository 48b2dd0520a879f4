package config

import "time"

// Config is the root configuration for chatpulse.
type Config struct {
	Environment string        `yaml:"environment,omitempty"` // "development" | "production"
	Server      ServerConfig  `yaml:"server,omitempty"`
	Storage     StorageConfig `yaml:"storage,omitempty"`
	Retry       RetryConfig   `yaml:"retry,omitempty"`
	Pairing     PairingConfig `yaml:"pairing,omitempty"`
	Stats       StatsConfig   `yaml:"stats,omitempty"`
	Logging     LoggingConfig `yaml:"logging,omitempty"`
}

// Production reports whether the process runs in production mode. Production
// makes audit write failures fatal and hides error details from HTTP clients.
func (c Config) Production() bool {
	return c.Environment == "production"
}

// ServerConfig controls the HTTP and WebSocket server.
type ServerConfig struct {
	Port           int           `yaml:"port,omitempty"`
	Bind           string        `yaml:"bind,omitempty"` // "loopback" | "lan" | "auto" | "custom"
	CustomBindHost string        `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string      `yaml:"allowedOrigins,omitempty"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
}

// StorageConfig selects the database.
type StorageConfig struct {
	Driver       string `yaml:"driver,omitempty"` // "sqlite" | "postgres"
	Path         string `yaml:"path,omitempty"`   // sqlite file; empty uses the data directory
	DSN          string `yaml:"dsn,omitempty"`    // postgres connection string
	MaxOpenConns int    `yaml:"maxOpenConns,omitempty"`
}

// RetryConfig tunes the persistence retry wrapper.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
	Delay       time.Duration `yaml:"delay,omitempty"`
}

// PairingConfig tunes the response-time pairing engine.
type PairingConfig struct {
	Lock           string        `yaml:"lock,omitempty"` // "local" | "redis"
	RedisURL       string        `yaml:"redisUrl,omitempty"`
	LockTTL        time.Duration `yaml:"lockTtl,omitempty"`
	ContentPreview int           `yaml:"contentPreview,omitempty"`
}

// StatsConfig tunes the statistics queries.
type StatsConfig struct {
	LookbackDays    int `yaml:"lookbackDays,omitempty"`
	UrgentMinutes   int `yaml:"urgentMinutes,omitempty"`
	CriticalMinutes int `yaml:"criticalMinutes,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
