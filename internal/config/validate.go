package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
			})
		}
	}
	positive := func(path string, n int64) {
		if n < 0 {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must not be negative, got %d", n),
			})
		}
	}

	oneOf("environment", cfg.Environment, []string{"development", "production"})

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}
	oneOf("server.bind", cfg.Server.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when bind is custom",
		})
	}
	positive("server.maxBodyBytes", cfg.Server.MaxBodyBytes)
	positive("server.requestTimeout", int64(cfg.Server.RequestTimeout))

	// Storage validation
	oneOf("storage.driver", cfg.Storage.Driver, []string{"sqlite", "postgres"})
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		issues = append(issues, ValidationIssue{
			Path:    "storage.dsn",
			Message: "required when driver is postgres",
		})
	}
	positive("storage.maxOpenConns", int64(cfg.Storage.MaxOpenConns))

	// Retry validation
	if cfg.Retry.MaxAttempts < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "retry.maxAttempts",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Retry.MaxAttempts),
		})
	}
	positive("retry.delay", int64(cfg.Retry.Delay))

	// Pairing validation
	oneOf("pairing.lock", cfg.Pairing.Lock, []string{"local", "redis"})
	if cfg.Pairing.Lock == "redis" && cfg.Pairing.RedisURL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "pairing.redisUrl",
			Message: "required when lock is redis",
		})
	}
	positive("pairing.lockTtl", int64(cfg.Pairing.LockTTL))
	positive("pairing.contentPreview", int64(cfg.Pairing.ContentPreview))

	// Stats validation
	positive("stats.lookbackDays", int64(cfg.Stats.LookbackDays))
	positive("stats.urgentMinutes", int64(cfg.Stats.UrgentMinutes))
	positive("stats.criticalMinutes", int64(cfg.Stats.CriticalMinutes))
	if cfg.Stats.UrgentMinutes > 0 && cfg.Stats.CriticalMinutes > 0 && cfg.Stats.CriticalMinutes < cfg.Stats.UrgentMinutes {
		issues = append(issues, ValidationIssue{
			Path:    "stats.criticalMinutes",
			Message: fmt.Sprintf("must not be below urgentMinutes (%d), got %d", cfg.Stats.UrgentMinutes, cfg.Stats.CriticalMinutes),
		})
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	return issues
}
