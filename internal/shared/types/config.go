package types

import (
	"time"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
)

// Config represents the application configuration that can be loaded from a file.
type Config struct {
	Server    ServerConfig      `json:"server" yaml:"server" toml:"server"`
	Upstream  UpstreamConfig    `json:"upstream" yaml:"upstream" toml:"upstream"`
	Defaults  DefaultsConfig    `json:"defaults" yaml:"defaults" toml:"defaults"`
	Log       LogConfig         `json:"log" yaml:"log" toml:"log"`
	Providers []entity.Provider `json:"providers" yaml:"providers" toml:"providers"`
}

// ServerConfig configures the inbound HTTP service.
type ServerConfig struct {
	Addr                   string `json:"addr" yaml:"addr" toml:"addr"`
	DisableMetrics         bool   `json:"disable_metrics" yaml:"disable_metrics" toml:"disable_metrics"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// UpstreamConfig bounds every upstream call.
type UpstreamConfig struct {
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxAttempts           int     `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	InitialBackoffMillis  int     `json:"initial_backoff_millis" yaml:"initial_backoff_millis" toml:"initial_backoff_millis"`
	MaxBackoffMillis      int     `json:"max_backoff_millis" yaml:"max_backoff_millis" toml:"max_backoff_millis"`
	BackoffMultiplier     float64 `json:"backoff_multiplier" yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	Workers               int     `json:"workers" yaml:"workers" toml:"workers"`
}

// DefaultsConfig holds values used when the caller leaves a parameter out.
type DefaultsConfig struct {
	Provider string `json:"provider" yaml:"provider" toml:"provider"`
	Since    string `json:"since" yaml:"since" toml:"since"`
}

// LogConfig configures the service logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
	File   string `json:"file" yaml:"file" toml:"file"`
}

// RequestTimeout returns the per-attempt timeout.
func (c UpstreamConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// InitialBackoff returns the first retry delay.
func (c UpstreamConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (c UpstreamConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMillis) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Provider looks a configured provider up by name.
func (c *Config) Provider(name string) (entity.Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return entity.Provider{}, false
}
