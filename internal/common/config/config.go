// Package config provides configuration management for the elastic-agent
// scheduler plugin. It supports loading configuration from environment
// variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the plugin process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration for the CI-server plugin
// transport.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds

	// CIServerURL is the base URL of the CI server instance this plugin is
	// registered against (spec.md §4.5); distinct from Host/Port, which
	// address the plugin's own HTTP transport.
	CIServerURL string `mapstructure:"ciServerUrl"`
}

// SchedulerConfig holds tuning knobs for the reconciliation loop and effect
// dispatcher. Defaults mirror spec.md's stated timeout thresholds.
type SchedulerConfig struct {
	// EffectWorkers is the size of the worker pool that executes effects
	// (executor/CI-server RPCs) off the writer goroutine.
	EffectWorkers int `mapstructure:"effectWorkers"`

	// LaunchingStaleSeconds is how long a launching/pending/starting agent
	// may go without a state change before it is considered failed/killed.
	LaunchingStaleSeconds int `mapstructure:"launchingStaleSeconds"`

	// RetiringStaleSeconds bounds retiring/killing/removing retries.
	RetiringStaleSeconds int `mapstructure:"retiringStaleSeconds"`

	// AdoptStaleSeconds bounds legacy/orphan retry cadence.
	AdoptStaleSeconds int `mapstructure:"adoptStaleSeconds"`

	// IdleSeconds is how long a running, idle agent must stay idle before
	// the scheduler starts draining it.
	IdleSeconds int `mapstructure:"idleSeconds"`

	// FailedTTLSeconds / TerminatedTTLSeconds bound how long a terminal
	// record is retained before it is forgotten.
	FailedTTLSeconds     int `mapstructure:"failedTtlSeconds"`
	TerminatedTTLSeconds int `mapstructure:"terminatedTtlSeconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlpEndpoint"`
	ServiceName    string `mapstructure:"serviceName"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// LaunchingStaleDuration returns the launching-state staleness threshold.
func (s *SchedulerConfig) LaunchingStaleDuration() time.Duration {
	return time.Duration(s.LaunchingStaleSeconds) * time.Second
}

// RetiringStaleDuration returns the retiring/killing/removing staleness
// threshold.
func (s *SchedulerConfig) RetiringStaleDuration() time.Duration {
	return time.Duration(s.RetiringStaleSeconds) * time.Second
}

// AdoptStaleDuration returns the legacy/orphan retry cadence.
func (s *SchedulerConfig) AdoptStaleDuration() time.Duration {
	return time.Duration(s.AdoptStaleSeconds) * time.Second
}

// IdleDuration returns the idle-before-drain threshold.
func (s *SchedulerConfig) IdleDuration() time.Duration {
	return time.Duration(s.IdleSeconds) * time.Second
}

// FailedTTLDuration returns the failed-record retention window.
func (s *SchedulerConfig) FailedTTLDuration() time.Duration {
	return time.Duration(s.FailedTTLSeconds) * time.Second
}

// TerminatedTTLDuration returns the terminated-record retention window.
func (s *SchedulerConfig) TerminatedTTLDuration() time.Duration {
	return time.Duration(s.TerminatedTTLSeconds) * time.Second
}

// setDefaults configures default values for all configuration options.
// Numeric defaults mirror spec.md §4.7's stated timeout thresholds.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.ciServerUrl", "http://localhost:8153")

	v.SetDefault("scheduler.effectWorkers", 8)
	v.SetDefault("scheduler.launchingStaleSeconds", 600)
	v.SetDefault("scheduler.retiringStaleSeconds", 120)
	v.SetDefault("scheduler.adoptStaleSeconds", 60)
	v.SetDefault("scheduler.idleSeconds", 300)
	v.SetDefault("scheduler.failedTtlSeconds", 600)
	v.SetDefault("scheduler.terminatedTtlSeconds", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "ciagent-plugin")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix CIAGENT_ followed by the
// upper-cased key with dots replaced by underscores (e.g. server.port is
// CIAGENT_SERVER_PORT, scheduler.effectWorkers is
// CIAGENT_SCHEDULER_EFFECTWORKERS).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CIAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ciagent-plugin/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Scheduler.EffectWorkers <= 0 {
		errs = append(errs, "scheduler.effectWorkers must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
