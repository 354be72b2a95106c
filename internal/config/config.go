package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mir00r/domain-router/internal/compiler"
	"github.com/mir00r/domain-router/pkg/logger"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Admin         AdminConfig         `yaml:"admin"`
	Store         StoreConfig         `yaml:"store"`
	HAProxy       HAProxyConfig       `yaml:"haproxy"`
	SystemBackend SystemBackendConfig `yaml:"system_backend"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig contains admin HTTP server specific configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns host:port for the listener
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Path      string          `yaml:"path"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
}

// RateLimitConfig limits admin requests per client IP
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// AuthConfig enables bearer token authentication on the admin API
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// StoreConfig contains record store configuration
type StoreConfig struct {
	// Type is "file" or "memory"
	Type      string `yaml:"type"`
	Directory string `yaml:"directory"`
}

// HAProxyConfig describes the generated configuration and how it is applied
type HAProxyConfig struct {
	HTTPBind        string        `yaml:"http_bind"`
	TLSBind         string        `yaml:"tls_bind"`
	CertDir         string        `yaml:"cert_dir"`
	TerminateSocket string        `yaml:"terminate_socket"`
	Preamble        string        `yaml:"preamble"`
	ConfigPath      string        `yaml:"config_path"`
	CheckCommand    string        `yaml:"check_command"`
	ReloadCommand   string        `yaml:"reload_command"`
	ApplyTimeout    time.Duration `yaml:"apply_timeout"`
}

// SystemBackendConfig is where the host's built-in web server listens
type SystemBackendConfig struct {
	HTTPAddress  string `yaml:"http_address"`
	HTTPSAddress string `yaml:"https_address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	opts := compiler.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Admin: AdminConfig{
			Path: "/api/v1",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				BurstSize:         40,
			},
		},
		Store: StoreConfig{
			Type:      "file",
			Directory: "/var/lib/domain-router/domains",
		},
		HAProxy: HAProxyConfig{
			HTTPBind:        opts.HTTPBind,
			TLSBind:         opts.TLSBind,
			CertDir:         opts.CertDir,
			TerminateSocket: opts.TerminateSocket,
			ConfigPath:      "/etc/haproxy/haproxy.cfg",
			CheckCommand:    "haproxy -c -f {file}",
			ReloadCommand:   "systemctl reload haproxy",
			ApplyTimeout:    30 * time.Second,
		},
		SystemBackend: SystemBackendConfig{
			HTTPAddress:  opts.System.HTTPAddress,
			HTTPSAddress: opts.System.HTTPSAddress,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if !strings.HasPrefix(c.Admin.Path, "/") {
		return fmt.Errorf("admin.path must start with '/': %q", c.Admin.Path)
	}

	if c.Admin.RateLimit.Enabled {
		if c.Admin.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("admin.rate_limit.requests_per_second must be positive")
		}
		if c.Admin.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("admin.rate_limit.burst_size must be positive")
		}
	}
	if c.Admin.Auth.Enabled && len(c.Admin.Auth.Secret) < 16 {
		return fmt.Errorf("admin.auth.secret must be at least 16 characters")
	}

	switch c.Store.Type {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Store.Directory) == "" {
			return fmt.Errorf("store.directory is required for the file store")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}

	if c.HAProxy.HTTPBind == "" || c.HAProxy.TLSBind == "" {
		return fmt.Errorf("haproxy.http_bind and haproxy.tls_bind are required")
	}
	if c.HAProxy.CertDir == "" || c.HAProxy.TerminateSocket == "" {
		return fmt.Errorf("haproxy.cert_dir and haproxy.terminate_socket are required")
	}
	if c.HAProxy.ConfigPath == "" {
		return fmt.Errorf("haproxy.config_path is required")
	}
	if c.HAProxy.ApplyTimeout <= 0 {
		return fmt.Errorf("haproxy.apply_timeout must be positive")
	}

	if c.SystemBackend.HTTPAddress == "" || c.SystemBackend.HTTPSAddress == "" {
		return fmt.Errorf("system_backend.http_address and system_backend.https_address are required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/': %q", c.Metrics.Path)
	}

	return nil
}

// SystemBackendAddresses converts to the compiler's system backend
func (c *Config) SystemBackendAddresses() compiler.SystemBackend {
	return compiler.SystemBackend{
		HTTPAddress:  c.SystemBackend.HTTPAddress,
		HTTPSAddress: c.SystemBackend.HTTPSAddress,
	}
}

// CompilerOptions converts to compiler options
func (c *Config) CompilerOptions() compiler.Options {
	return compiler.Options{
		System:          c.SystemBackendAddresses(),
		HTTPBind:        c.HAProxy.HTTPBind,
		TLSBind:         c.HAProxy.TLSBind,
		CertDir:         c.HAProxy.CertDir,
		TerminateSocket: c.HAProxy.TerminateSocket,
		Preamble:        c.HAProxy.Preamble,
	}
}

// LoggerConfig converts to the logger configuration
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o640); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
