// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// The json tags feed the read-only config endpoint.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Jobs      JobsConfig      `mapstructure:"jobs" json:"jobs"`
	HTTP      HTTPConfig      `mapstructure:"http" json:"http"`
	Browser   BrowserConfig   `mapstructure:"browser" json:"browser"`
	Throttle  ThrottleConfig  `mapstructure:"throttle" json:"throttle"`
	Retry     RetryConfig     `mapstructure:"retry" json:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker" json:"breaker"`
	Results   ResultsConfig   `mapstructure:"results" json:"results"`
	Publisher PublisherConfig `mapstructure:"publisher" json:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port" json:"port"`
}

// JobsConfig governs the manager queue and worker pool.
type JobsConfig struct {
	Workers          int `mapstructure:"workers" json:"workers"`
	QueueDepth       int `mapstructure:"queue_depth" json:"queue_depth"`
	RetentionCount   int `mapstructure:"retention_count" json:"retention_count"`
	RetentionHours   int `mapstructure:"retention_hours" json:"retention_hours"`
	ListLimitDefault int `mapstructure:"list_limit_default" json:"list_limit_default"`
}

// HTTPConfig configures the static fetch backend. UserAgents, when
// set, rotates identities round-robin across requests; UserAgent is
// the single fallback identity.
type HTTPConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	MaxRedirects   int      `mapstructure:"max_redirects" json:"max_redirects"`
	UserAgent      string   `mapstructure:"user_agent" json:"user_agent"`
	UserAgents     []string `mapstructure:"user_agents" json:"user_agents,omitempty"`
}

// BrowserConfig configures the headless fetch backend.
type BrowserConfig struct {
	PoolSize              int `mapstructure:"pool_size" json:"pool_size"`
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds" json:"acquire_timeout_seconds"`
	NavTimeoutSeconds     int `mapstructure:"nav_timeout_seconds" json:"nav_timeout_seconds"`
	SettleMillis          int `mapstructure:"settle_millis" json:"settle_millis"`
}

// ThrottleConfig bounds per-host fetch concurrency and spacing.
type ThrottleConfig struct {
	PerHostMax            int `mapstructure:"per_host_max" json:"per_host_max"`
	DelayMillis           int `mapstructure:"delay_millis" json:"delay_millis"`
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds" json:"acquire_timeout_seconds"`
}

// RetryConfig shapes the backoff schedule for retryable fetch errors.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms" json:"max_delay_ms"`
}

// BreakerConfig tunes the per-host circuit breaker.
type BreakerConfig struct {
	FailureThreshold       int `mapstructure:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeoutSeconds int `mapstructure:"recovery_timeout_seconds" json:"recovery_timeout_seconds"`
}

// ResultsConfig selects the result store backend. The DSN never leaves
// the process.
type ResultsConfig struct {
	Provider string `mapstructure:"provider" json:"provider"` // memory | fs | postgres
	Dir      string `mapstructure:"dir" json:"dir,omitempty"`
	DSN      string `mapstructure:"dsn" json:"-"`
}

// PublisherConfig selects the completion-event publisher.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider" json:"provider"` // none | memory | pubsub
	ProjectID string `mapstructure:"project_id" json:"project_id,omitempty"`
	TopicName string `mapstructure:"topic_name" json:"topic_name,omitempty"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development" json:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("jobs.workers", 5)
	v.SetDefault("jobs.queue_depth", 100)
	v.SetDefault("jobs.retention_count", 1000)
	v.SetDefault("jobs.retention_hours", 24)
	v.SetDefault("jobs.list_limit_default", 50)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.user_agent", "scraperd/0.1")
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.acquire_timeout_seconds", 10)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.settle_millis", 2000)
	v.SetDefault("throttle.per_host_max", 2)
	v.SetDefault("throttle.delay_millis", 1000)
	v.SetDefault("throttle.acquire_timeout_seconds", 30)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay_ms", 250)
	v.SetDefault("retry.max_delay_ms", 5000)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_seconds", 60)
	v.SetDefault("results.provider", "fs")
	v.SetDefault("results.dir", "./scrapes_out")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if c.Throttle.PerHostMax <= 0 {
		return fmt.Errorf("throttle.per_host_max must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	switch c.Results.Provider {
	case "memory", "fs", "postgres":
	default:
		return fmt.Errorf("results.provider must be memory, fs or postgres")
	}
	if c.Results.Provider == "postgres" && c.Results.DSN == "" {
		return fmt.Errorf("results.dsn must be set when results.provider is postgres")
	}
	switch c.Publisher.Provider {
	case "none", "memory", "pubsub":
	default:
		return fmt.Errorf("publisher.provider must be none, memory or pubsub")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set for pubsub")
	}
	return nil
}

// StaticTimeout returns the static backend deadline as a duration.
func (c Config) StaticTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout returns the browser navigation deadline as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}
