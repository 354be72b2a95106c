package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	lberrors "github.com/mir00r/domain-router/internal/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DR_"

// ApplyEnvironment overrides config with DR_* environment variables.
// Malformed numeric or duration values are ignored.
func ApplyEnvironment(config *Config) {
	// Server
	if host := getEnv("DR_SERVER_HOST", ""); host != "" {
		config.Server.Host = host
	}
	if port := getEnv("DR_SERVER_PORT", ""); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
			config.Server.Port = p
		}
	}
	config.Server.ReadTimeout = getEnvDuration("DR_SERVER_READ_TIMEOUT", config.Server.ReadTimeout)
	config.Server.WriteTimeout = getEnvDuration("DR_SERVER_WRITE_TIMEOUT", config.Server.WriteTimeout)

	// Admin
	if path := getEnv("DR_ADMIN_PATH", ""); path != "" {
		config.Admin.Path = path
	}
	config.Admin.RateLimit.Enabled = getEnvBool("DR_ADMIN_RATE_LIMIT_ENABLED", config.Admin.RateLimit.Enabled)
	if rps := getEnv("DR_ADMIN_RATE_LIMIT_RPS", ""); rps != "" {
		if r, err := strconv.ParseFloat(rps, 64); err == nil && r > 0 {
			config.Admin.RateLimit.RequestsPerSecond = r
		}
	}
	config.Admin.RateLimit.BurstSize = getEnvInt("DR_ADMIN_RATE_LIMIT_BURST", config.Admin.RateLimit.BurstSize)
	config.Admin.Auth.Enabled = getEnvBool("DR_ADMIN_AUTH_ENABLED", config.Admin.Auth.Enabled)
	config.Admin.Auth.Secret = getEnv("DR_ADMIN_AUTH_SECRET", config.Admin.Auth.Secret)
	config.Admin.Auth.Issuer = getEnv("DR_ADMIN_AUTH_ISSUER", config.Admin.Auth.Issuer)

	// Store
	config.Store.Type = getEnv("DR_STORE_TYPE", config.Store.Type)
	config.Store.Directory = getEnv("DR_STORE_DIRECTORY", config.Store.Directory)

	// HAProxy
	config.HAProxy.HTTPBind = getEnv("DR_HAPROXY_HTTP_BIND", config.HAProxy.HTTPBind)
	config.HAProxy.TLSBind = getEnv("DR_HAPROXY_TLS_BIND", config.HAProxy.TLSBind)
	config.HAProxy.CertDir = getEnv("DR_HAPROXY_CERT_DIR", config.HAProxy.CertDir)
	config.HAProxy.ConfigPath = getEnv("DR_HAPROXY_CONFIG_PATH", config.HAProxy.ConfigPath)
	config.HAProxy.CheckCommand = getEnv("DR_HAPROXY_CHECK_COMMAND", config.HAProxy.CheckCommand)
	config.HAProxy.ReloadCommand = getEnv("DR_HAPROXY_RELOAD_COMMAND", config.HAProxy.ReloadCommand)
	config.HAProxy.ApplyTimeout = getEnvDuration("DR_HAPROXY_APPLY_TIMEOUT", config.HAProxy.ApplyTimeout)

	// System backend
	config.SystemBackend.HTTPAddress = getEnv("DR_SYSTEM_HTTP_ADDRESS", config.SystemBackend.HTTPAddress)
	config.SystemBackend.HTTPSAddress = getEnv("DR_SYSTEM_HTTPS_ADDRESS", config.SystemBackend.HTTPSAddress)

	// Logging
	config.Logging.Level = getEnv("DR_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("DR_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("DR_LOG_OUTPUT", config.Logging.Output)
	config.Logging.File = getEnv("DR_LOG_FILE", config.Logging.File)

	// Metrics
	config.Metrics.Enabled = getEnvBool("DR_METRICS_ENABLED", config.Metrics.Enabled)
	config.Metrics.Path = getEnv("DR_METRICS_PATH", config.Metrics.Path)
}

// LoadConfig loads configuration with priority: env vars > config file > defaults.
// An empty path falls back to DR_CONFIG_FILE; a missing file is only an error
// when the path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = getEnv("DR_CONFIG_FILE", "")
	}

	config := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			loaded, err := LoadFromFile(path)
			if err != nil {
				return nil, lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config", "failed to load configuration").
					WithMetadata("path", path)
			}
			config = loaded
		}
	}

	ApplyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config", fmt.Sprintf("invalid configuration: %v", err))
	}

	return config, nil
}

// getEnv gets environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as integer with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets environment variable as boolean with fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration gets environment variable as duration with fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
