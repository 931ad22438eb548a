// Package config manages application configuration from environment variables,
// config files, and default values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration, loaded from
// config.yaml and BOTFACTORY_* environment variables.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DatabaseConfig controls the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig controls the AI backend. An empty APIKey puts the client in
// disabled mode; every generation call then degrades to the localized fallback.
type GeminiConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model" validate:"required"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required,min=1s,max=5m"`
}

// BroadcastConfig controls fan-out pacing for broadcasts and lifecycle
// notifications.
type BroadcastConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second" validate:"required,gt=0"`
	Burst             int     `mapstructure:"burst" validate:"required,gt=0"`
}

// SchedulerConfig controls the background task cadences.
type SchedulerConfig struct {
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval" validate:"required,min=5s"`
	NotificationCron     string        `mapstructure:"notification_cron" validate:"required"`
	BroadcastCron        string        `mapstructure:"broadcast_cron" validate:"required"`
	ReconcileEnabled     bool          `mapstructure:"reconcile_enabled"`
	NotificationsEnabled bool          `mapstructure:"notifications_enabled"`
	BroadcastsEnabled    bool          `mapstructure:"broadcasts_enabled"`
}

// HTTPConfig controls the admin API listener.
type HTTPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr" validate:"required"`
	AuthToken string `mapstructure:"auth_token" validate:"required_if=Enabled true"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml file
// 3. BOTFACTORY_* environment variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOTFACTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars and defaults are enough to run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "botfactory.db")

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.request_timeout", 30*time.Second)

	v.SetDefault("broadcast.messages_per_second", 25.0)
	v.SetDefault("broadcast.burst", 5)

	v.SetDefault("scheduler.reconcile_interval", 30*time.Second)
	v.SetDefault("scheduler.notification_cron", "0 * * * *")
	v.SetDefault("scheduler.broadcast_cron", "* * * * *")
	v.SetDefault("scheduler.reconcile_enabled", true)
	v.SetDefault("scheduler.notifications_enabled", true)
	v.SetDefault("scheduler.broadcasts_enabled", true)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
}
