// Package config loads jobsync configuration.
//
// Precedence, lowest to highest: defaults, config file, environment
// (JOBSYNC_ prefix), runtime overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/jobsync/pkg/jobregistry"
	"github.com/3leaps/jobsync/pkg/transfer"
)

// Config is the fully resolved configuration.
type Config struct {
	SessionName string `mapstructure:"session_name" yaml:"session_name"`
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	Identity    string `mapstructure:"identity" yaml:"identity"`
	PushURL     string `mapstructure:"push_url" yaml:"push_url"`
	PullURL     string `mapstructure:"pull_url" yaml:"pull_url"`

	Transfer  TransferConfig  `mapstructure:"transfer" yaml:"transfer"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	S3        S3Config        `mapstructure:"s3" yaml:"s3"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
}

type TransferConfig struct {
	// Workers sizes the transfer pool; 0 means transfer.DefaultWorkers().
	Workers                   int      `mapstructure:"workers" yaml:"workers"`
	Concurrency               int      `mapstructure:"concurrency" yaml:"concurrency"`
	RetryBufferMaxMemoryBytes int64    `mapstructure:"retry_buffer_max_memory_bytes" yaml:"retry_buffer_max_memory_bytes"`
	Exclude                   []string `mapstructure:"exclude" yaml:"exclude"`
}

type ReconcileConfig struct {
	// RateLimit is scheduler queries per second; 0 is unlimited.
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type S3Config struct {
	Region         string `mapstructure:"region" yaml:"region"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	Profile        string `mapstructure:"profile" yaml:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	DetectRegion   bool   `mapstructure:"detect_region" yaml:"detect_region"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for environment binding to reach them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("session_name", jobregistry.DefaultSessionName)
	v.SetDefault("data_dir", "")
	v.SetDefault("identity", "")
	v.SetDefault("push_url", "")
	v.SetDefault("pull_url", "")

	v.SetDefault("transfer.workers", 0)
	v.SetDefault("transfer.concurrency", 4)
	v.SetDefault("transfer.retry_buffer_max_memory_bytes", transfer.DefaultRetryBufferMaxMemoryBytes)
	v.SetDefault("transfer.exclude", []string{})

	v.SetDefault("reconcile.rate_limit", 0.0)
	v.SetDefault("reconcile.timeout", "30s")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.detect_region", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.enabled", true)
}

// RegistryDir resolves the registry directory.
func (c *Config) RegistryDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return jobregistry.DefaultDir()
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	if err := jobregistry.ValidateSessionName(c.SessionName); err != nil {
		return fmt.Errorf("session_name: %w", err)
	}
	if c.Transfer.Workers < 0 {
		return fmt.Errorf("transfer.workers must be >= 0, got %d", c.Transfer.Workers)
	}
	if c.Transfer.Concurrency < 1 {
		return fmt.Errorf("transfer.concurrency must be >= 1, got %d", c.Transfer.Concurrency)
	}
	if c.Reconcile.RateLimit < 0 {
		return fmt.Errorf("reconcile.rate_limit must be >= 0, got %v", c.Reconcile.RateLimit)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
