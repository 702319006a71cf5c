// Package config loads and validates runner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Report    ReportConfig    `mapstructure:"report"`
	LLM       LLMConfig       `mapstructure:"llm"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// QueueConfig selects and configures the queue provider.
type QueueConfig struct {
	// Provider is one of "pubsub", "nats", "memory", "noop".
	Provider       string `mapstructure:"provider"`
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	TopicID        string `mapstructure:"topic_id"`
	NATSURL        string `mapstructure:"nats_url"`
	NATSSubject    string `mapstructure:"nats_subject"`
	NATSDurable    string `mapstructure:"nats_durable"`
	// VisibilitySeconds is the ack deadline extension requested per message.
	VisibilitySeconds int `mapstructure:"visibility_seconds"`
}

// ProcessorConfig governs the poll loop and worker pool.
type ProcessorConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	BatchSize       int `mapstructure:"batch_size"`
	PollWaitSeconds int `mapstructure:"poll_wait_seconds"`
	// GraceSeconds pads the visibility extension beyond the task timeout to
	// cover uploads and reporting.
	GraceSeconds int `mapstructure:"grace_seconds"`
}

// BrowserConfig configures the headless browser engine.
type BrowserConfig struct {
	MaxSessions int     `mapstructure:"max_sessions"`
	DomainQPS   float64 `mapstructure:"domain_qps"`
	UserAgent   string  `mapstructure:"user_agent"`
	Headless    bool    `mapstructure:"headless"`
	// AgentMaxActions bounds the automation agent's planning loop.
	AgentMaxActions int `mapstructure:"agent_max_actions"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	// Provider is one of "gcs", "memory", "noop".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ReportConfig configures the upstream result API client.
type ReportConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs   int    `mapstructure:"backoff_max_ms"`
}

// LLMConfig configures the model client used by the agent and scans.
type LLMConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// DBConfig controls the optional attempt log database.
type DBConfig struct {
	// Provider is one of "postgres", "noop".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RUNNER")
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
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.nats_subject", "tasks")
	v.SetDefault("queue.nats_durable", "browser-runner")
	v.SetDefault("queue.visibility_seconds", 60)
	v.SetDefault("processor.concurrency", 5)
	v.SetDefault("processor.batch_size", 5)
	v.SetDefault("processor.poll_wait_seconds", 20)
	v.SetDefault("processor.grace_seconds", 60)
	v.SetDefault("browser.max_sessions", 5)
	v.SetDefault("browser.domain_qps", 1.0)
	v.SetDefault("browser.user_agent", "browser-runner/0.1")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.agent_max_actions", 15)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "browser-automation")
	v.SetDefault("report.timeout_seconds", 15)
	v.SetDefault("report.max_retries", 3)
	v.SetDefault("report.backoff_base_ms", 250)
	v.SetDefault("report.backoff_max_ms", 5000)
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("db.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Processor.Concurrency <= 0 {
		return fmt.Errorf("processor.concurrency must be > 0")
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	switch c.Queue.Provider {
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id and queue.subscription_id must be set for pubsub")
		}
	case "nats":
		if c.Queue.NATSURL == "" {
			return fmt.Errorf("queue.nats_url must be set for nats")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for postgres")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.Report.BaseURL == "" {
		return fmt.Errorf("report.base_url must be set")
	}
	return nil
}

// Visibility returns the per-message ack deadline extension.
func (c Config) Visibility() time.Duration {
	return time.Duration(c.Queue.VisibilitySeconds) * time.Second
}

// PollWait returns how long one receive call may block.
func (c Config) PollWait() time.Duration {
	return time.Duration(c.Processor.PollWaitSeconds) * time.Second
}

// Grace returns the upload/report padding added to visibility extensions.
func (c Config) Grace() time.Duration {
	return time.Duration(c.Processor.GraceSeconds) * time.Second
}
