// Package config handles loading and validation of application configuration
// from environment variables and the endpoints file.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
}

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
}

// SlackConfig holds the outbound Slack alerting configuration.
type SlackConfig struct {
	// Enabled indicates whether alerts are delivered at all
	Enabled bool `mapstructure:"ENABLED" yaml:"enabled"`
	// BotToken is the xoxb- token used for chat.postMessage
	BotToken string `mapstructure:"BOT_TOKEN" yaml:"bot_token"`
	// AlertChannel receives per-endpoint health alerts
	AlertChannel string `mapstructure:"ALERT_CHANNEL" yaml:"alert_channel"`
	// SummaryChannel receives the daily test summary
	SummaryChannel string `mapstructure:"SUMMARY_CHANNEL" yaml:"summary_channel"`
}

// MonitorConfig holds the endpoint health monitor configuration.
type MonitorConfig struct {
	// EndpointsFile is the path to the YAML list of monitored endpoints
	EndpointsFile string `mapstructure:"ENDPOINTS_FILE" yaml:"endpoints_file"`
	// MaxHistory caps the in-memory result history (FIFO eviction)
	MaxHistory int `mapstructure:"MAX_HISTORY" yaml:"max_history"`
}

// SchedulerConfig holds the cadence of the background jobs.
type SchedulerConfig struct {
	// CheckIntervalMinutes is the cadence of the periodic health sweep
	CheckIntervalMinutes int `mapstructure:"CHECK_INTERVAL_MINUTES" yaml:"check_interval_minutes"`
	// DailySummaryHour is the local hour (0-23) of the daily test summary
	DailySummaryHour int `mapstructure:"DAILY_SUMMARY_HOUR" yaml:"daily_summary_hour"`
}

// RunnerConfig holds configuration for the external test runner and report
// generator.
type RunnerConfig struct {
	// Binary is the test runner executable (pytest-compatible JSON report flags)
	Binary string `mapstructure:"BINARY" yaml:"binary"`
	// ReportTool is the report generator executable
	ReportTool string `mapstructure:"REPORT_TOOL" yaml:"report_tool"`
	// ReportsDir is the working directory for raw results and reports
	ReportsDir string `mapstructure:"REPORTS_DIR" yaml:"reports_dir"`
	// BaseReportURL prefixes the report link included in summaries
	BaseReportURL string `mapstructure:"BASE_REPORT_URL" yaml:"base_report_url"`
	// TimeoutSeconds bounds one runner invocation
	TimeoutSeconds int `mapstructure:"TIMEOUT_SECONDS" yaml:"timeout_seconds"`
}

// EventServiceConfig holds configuration for the Redis-based event service.
type EventServiceConfig struct {
	// Timeout for publishing a single event to Redis (in seconds)
	PublishTimeoutSeconds int `mapstructure:"PUBLISH_TIMEOUT_SECONDS" yaml:"publish_timeout_seconds"`
	// Buffer size for the channel delivering events to a single subscriber
	EventBufferSize int `mapstructure:"EVENT_BUFFER_SIZE" yaml:"event_buffer_size"`
}

// WorkerPoolConfig holds configuration for the alert dispatch worker pool.
type WorkerPoolConfig struct {
	// MaxWorkers is the number of concurrent workers
	MaxWorkers int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	// QueueSize is the maximum number of pending jobs
	QueueSize int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	// ShutdownTimeoutSeconds is the max time to wait for workers during shutdown
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server       ServerConfig       `mapstructure:"SERVER" yaml:"server"`
	Redis        RedisConfig        `mapstructure:"REDIS" yaml:"redis"`
	Slack        SlackConfig        `mapstructure:"SLACK" yaml:"slack"`
	Monitor      MonitorConfig      `mapstructure:"MONITOR" yaml:"monitor"`
	Scheduler    SchedulerConfig    `mapstructure:"SCHEDULER" yaml:"scheduler"`
	Runner       RunnerConfig       `mapstructure:"RUNNER" yaml:"runner"`
	EventService EventServiceConfig `mapstructure:"EVENT_SERVICE" yaml:"event_service"`
	WorkerPool   WorkerPoolConfig   `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables using Viper,
// sets default values, binds environment variables to config struct fields,
// unmarshals the configuration, and validates it.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.VERSION", "dev")
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 3)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("SLACK.ENABLED", false)
	v.SetDefault("SLACK.ALERT_CHANNEL", "#qa-alerts")
	v.SetDefault("SLACK.SUMMARY_CHANNEL", "#qa-daily")
	v.SetDefault("MONITOR.ENDPOINTS_FILE", "endpoints.yaml")
	v.SetDefault("MONITOR.MAX_HISTORY", 1000)
	v.SetDefault("SCHEDULER.CHECK_INTERVAL_MINUTES", 15)
	v.SetDefault("SCHEDULER.DAILY_SUMMARY_HOUR", 9)
	v.SetDefault("RUNNER.BINARY", "pytest")
	v.SetDefault("RUNNER.REPORT_TOOL", "allure")
	v.SetDefault("RUNNER.REPORTS_DIR", "reports")
	v.SetDefault("RUNNER.BASE_REPORT_URL", "http://localhost:8080")
	v.SetDefault("RUNNER.TIMEOUT_SECONDS", 600)
	v.SetDefault("EVENT_SERVICE.PUBLISH_TIMEOUT_SECONDS", 5)
	v.SetDefault("EVENT_SERVICE.EVENT_BUFFER_SIZE", 100)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 4)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 256)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind environment variables
	envBindings := [][2]string{
		// Server config
		{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		{"SERVER.VERSION", "VERSION"},
		// Redis config
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"REDIS.USE_TLS", "REDIS_USE_TLS"},
		// Slack config
		{"SLACK.ENABLED", "SLACK_ENABLED"},
		{"SLACK.BOT_TOKEN", "SLACK_BOT_TOKEN"},
		{"SLACK.ALERT_CHANNEL", "ALERT_CHANNEL"},
		{"SLACK.SUMMARY_CHANNEL", "DAILY_SUMMARY_CHANNEL"},
		// Monitor config
		{"MONITOR.ENDPOINTS_FILE", "MONITOR_ENDPOINTS_FILE"},
		{"MONITOR.MAX_HISTORY", "MONITOR_MAX_HISTORY"},
		// Scheduler config
		{"SCHEDULER.CHECK_INTERVAL_MINUTES", "SCHEDULER_CHECK_INTERVAL_MINUTES"},
		{"SCHEDULER.DAILY_SUMMARY_HOUR", "SCHEDULER_DAILY_SUMMARY_HOUR"},
		// Runner config
		{"RUNNER.BINARY", "RUNNER_BINARY"},
		{"RUNNER.REPORT_TOOL", "RUNNER_REPORT_TOOL"},
		{"RUNNER.REPORTS_DIR", "RUNNER_REPORTS_DIR"},
		{"RUNNER.BASE_REPORT_URL", "RUNNER_BASE_REPORT_URL"},
		{"RUNNER.TIMEOUT_SECONDS", "RUNNER_TIMEOUT_SECONDS"},
		// Event service config
		{"EVENT_SERVICE.PUBLISH_TIMEOUT_SECONDS", "EVENT_SERVICE_PUBLISH_TIMEOUT_SECONDS"},
		{"EVENT_SERVICE.EVENT_BUFFER_SIZE", "EVENT_SERVICE_EVENT_BUFFER_SIZE"},
		// WorkerPool config
		{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
		{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
		{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
	}

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", v.GetString("SERVER.ENVIRONMENT"),
		"server_port", v.GetString("SERVER.PORT"),
		"redis_address", v.GetString("REDIS.ADDRESS"),
		"endpoints_file", v.GetString("MONITOR.ENDPOINTS_FILE"),
		"check_interval_minutes", v.GetInt("SCHEDULER.CHECK_INTERVAL_MINUTES"),
		"slack_enabled", v.GetBool("SLACK.ENABLED"),
		"slack_token", logger.MaskToken(v.GetString("SLACK.BOT_TOKEN")),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

// validateConfig checks if the loaded configuration values are valid.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}
	if cfg.Slack.Enabled && cfg.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token is required when slack is enabled")
	}
	if cfg.Monitor.MaxHistory <= 0 {
		return fmt.Errorf("monitor max history must be positive")
	}
	if cfg.Scheduler.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler check interval must be positive")
	}
	if cfg.Scheduler.DailySummaryHour < 0 || cfg.Scheduler.DailySummaryHour > 23 {
		return fmt.Errorf("daily summary hour must be between 0 and 23")
	}
	if cfg.Runner.Binary == "" {
		return fmt.Errorf("runner binary is required")
	}
	if cfg.Runner.TimeoutSeconds <= 0 {
		return fmt.Errorf("runner timeout must be positive")
	}
	if cfg.WorkerPool.MaxWorkers <= 0 {
		return fmt.Errorf("worker pool max workers must be positive")
	}
	return nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
