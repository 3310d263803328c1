package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline. It is built once at
// process start and passed to the components that need it.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Retry     RetryConfig     `yaml:"retry"`
	Routing   RoutingConfig   `yaml:"routing"`
	Health    HealthConfig    `yaml:"health"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Templates TemplatesConfig `yaml:"templates"`
	Sender    SenderConfig    `yaml:"sender"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	Mailgun   MailgunConfig   `yaml:"mailgun"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	SES       SESConfig       `yaml:"ses"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the Redis connection used for rate limits, locks and the
// health snapshot cache. An empty URL disables those features.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig controls one dispatcher invocation.
type DispatchConfig struct {
	BatchSize           int `yaml:"batch_size"`
	Concurrency         int `yaml:"concurrency"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
	StaleAfterSeconds   int `yaml:"stale_after_seconds"`
	RecoveryIntervalSec int `yaml:"recovery_interval_seconds"`
}

// PollInterval returns the dispatcher polling interval as a duration
func (c DispatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SendTimeout returns the per-attempt provider timeout
func (c DispatchConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// StaleAfter is how long an event may sit in processing before recovery
// puts it back in the queue.
func (c DispatchConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// MaxClaimHold is the longest a worker can legitimately hold one claim: a
// worker's share of the batch, each event trying every provider up to the
// send timeout.
func (c DispatchConfig) MaxClaimHold(providers int) time.Duration {
	if providers < 1 {
		providers = 1
	}
	conc := c.Concurrency
	if conc < 1 {
		conc = 1
	}
	rounds := (c.BatchSize + conc - 1) / conc
	return time.Duration(rounds*providers) * c.SendTimeout()
}

// RecoveryInterval returns how often the stale-claim sweeper runs
func (c DispatchConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSec) * time.Second
}

// RetryConfig holds backoff settings.
type RetryConfig struct {
	MaxRetries         int     `yaml:"max_retries"`
	BackoffBaseSeconds int     `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds  int     `yaml:"backoff_max_seconds"`
	JitterFraction     float64 `yaml:"jitter_fraction"`
}

// BackoffBase returns the base delay as a duration
func (c RetryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the delay cap as a duration
func (c RetryConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// RoutingConfig holds the provider failover order. PriorityOrder optionally
// overrides the order for a given priority ("high", "normal", "low").
type RoutingConfig struct {
	FailoverOrder                 []string            `yaml:"failover_order"`
	PriorityOrder                 map[string][]string `yaml:"priority_order"`
	RateLimitPerProviderPerMinute int                 `yaml:"rate_limit_per_provider_per_minute"`
}

// HealthConfig holds reputation thresholds. Rates are percentages.
type HealthConfig struct {
	BounceRateThreshold    float64 `yaml:"bounce_rate_threshold"`
	ComplaintRateThreshold float64 `yaml:"complaint_rate_threshold"`
	LatencyThresholdMS     float64 `yaml:"latency_threshold_ms"`
	WindowMinutes          int     `yaml:"window_minutes"`
	MinSamples             int64   `yaml:"min_samples"`
	CacheTTLSeconds        int     `yaml:"cache_ttl_seconds"`
}

// Window returns the rolling window as a duration
func (c HealthConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// CacheTTL returns how long a health snapshot may be served stale
func (c HealthConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// FeedbackConfig holds feedback ingestion settings.
type FeedbackConfig struct {
	SoftBounceSuppressAfter int    `yaml:"soft_bounce_suppress_after"`
	ArchiveBucket           string `yaml:"archive_bucket"`
	ArchiveRegion           string `yaml:"archive_region"`
	MaxBodyBytes            int64  `yaml:"max_body_bytes"`
}

// TemplatesConfig points at an optional YAML template catalog.
type TemplatesConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

// SenderConfig is the From identity used for every provider.
type SenderConfig struct {
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
	ReplyTo   string `yaml:"reply_to"`
}

// Domain returns the sending domain derived from FromEmail.
func (c SenderConfig) Domain() string {
	if i := strings.LastIndex(c.FromEmail, "@"); i >= 0 {
		return strings.ToLower(c.FromEmail[i+1:])
	}
	return ""
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Enabled bool   `yaml:"enabled"`
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Domain  string `yaml:"domain"`
	Enabled bool   `yaml:"enabled"`
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Enabled bool   `yaml:"enabled"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	Enabled          bool   `yaml:"enabled"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Settings is the read-only snapshot of the knobs the pipeline core reads.
type Settings struct {
	MaxRetries            int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	BatchSize             int
	ProviderFailoverOrder []string
	HealthThresholds      HealthThresholds
}

// HealthThresholds are the per-metric limits used by routing.
type HealthThresholds struct {
	BounceRate    float64
	ComplaintRate float64
	LatencyMS     float64
}

// Settings returns the core settings snapshot.
func (c *Config) Settings() Settings {
	order := make([]string, len(c.Routing.FailoverOrder))
	copy(order, c.Routing.FailoverOrder)
	return Settings{
		MaxRetries:            c.Retry.MaxRetries,
		BackoffBase:           c.Retry.BackoffBase(),
		BackoffMax:            c.Retry.BackoffMax(),
		BatchSize:             c.Dispatch.BatchSize,
		ProviderFailoverOrder: order,
		HealthThresholds: HealthThresholds{
			BounceRate:    c.Health.BounceRateThreshold,
			ComplaintRate: c.Health.ComplaintRateThreshold,
			LatencyMS:     c.Health.LatencyThresholdMS,
		},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 25
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 8
	}
	if cfg.Dispatch.PollIntervalSeconds == 0 {
		cfg.Dispatch.PollIntervalSeconds = 5
	}
	if cfg.Dispatch.SendTimeoutSeconds == 0 {
		cfg.Dispatch.SendTimeoutSeconds = 10
	}
	if cfg.Dispatch.StaleAfterSeconds == 0 {
		cfg.Dispatch.StaleAfterSeconds = 300
	}
	if cfg.Dispatch.RecoveryIntervalSec == 0 {
		cfg.Dispatch.RecoveryIntervalSec = 120
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BackoffBaseSeconds == 0 {
		cfg.Retry.BackoffBaseSeconds = 30
	}
	if cfg.Retry.BackoffMaxSeconds == 0 {
		cfg.Retry.BackoffMaxSeconds = 3600
	}
	if cfg.Retry.JitterFraction == 0 {
		cfg.Retry.JitterFraction = 0.1
	}
	if len(cfg.Routing.FailoverOrder) == 0 {
		cfg.Routing.FailoverOrder = []string{"ses", "sparkpost", "mailgun", "sendgrid"}
	}
	if cfg.Health.BounceRateThreshold == 0 {
		cfg.Health.BounceRateThreshold = 5
	}
	if cfg.Health.ComplaintRateThreshold == 0 {
		cfg.Health.ComplaintRateThreshold = 0.1
	}
	if cfg.Health.WindowMinutes == 0 {
		cfg.Health.WindowMinutes = 60
	}
	if cfg.Health.MinSamples == 0 {
		cfg.Health.MinSamples = 100
	}
	if cfg.Health.CacheTTLSeconds == 0 {
		cfg.Health.CacheTTLSeconds = 30
	}
	if cfg.Feedback.MaxBodyBytes == 0 {
		cfg.Feedback.MaxBodyBytes = 5 * 1024 * 1024
	}
	if cfg.Feedback.ArchiveRegion == "" {
		cfg.Feedback.ArchiveRegion = "us-east-1"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.Sender.FromName == "" {
		cfg.Sender.FromName = "Notifications"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the values that would otherwise fail late at send time.
func (cfg *Config) Validate() error {
	var problems []string
	if cfg.Dispatch.BatchSize < 1 {
		problems = append(problems, "dispatch.batch_size must be >= 1")
	}
	if cfg.Dispatch.Concurrency < 1 {
		problems = append(problems, "dispatch.concurrency must be >= 1")
	}
	if hold := cfg.Dispatch.MaxClaimHold(len(cfg.Routing.FailoverOrder)); cfg.Dispatch.StaleAfter() < hold {
		problems = append(problems, fmt.Sprintf(
			"dispatch.stale_after_seconds (%d) must be >= %d: a full batch can hold its claims that long",
			cfg.Dispatch.StaleAfterSeconds, int(hold.Seconds())))
	}
	if cfg.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must be >= 0")
	}
	if cfg.Retry.BackoffMaxSeconds < cfg.Retry.BackoffBaseSeconds {
		problems = append(problems, "retry.backoff_max_seconds must be >= backoff_base_seconds")
	}
	if cfg.Retry.JitterFraction < 0 || cfg.Retry.JitterFraction >= 1.0/3.0 {
		problems = append(problems, "retry.jitter_fraction must be in [0, 1/3)")
	}
	if len(cfg.Routing.FailoverOrder) == 0 {
		problems = append(problems, "routing.failover_order is empty")
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Routing.FailoverOrder {
		if seen[p] {
			problems = append(problems, "routing.failover_order lists "+p+" twice")
		}
		seen[p] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
// A missing config file is not an error: defaults plus env are used.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
		cfg.SparkPost.Enabled = true
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.SparkPost.BaseURL = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
		cfg.Mailgun.Enabled = true
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mailgun.Domain = v
	}
	if v := os.Getenv("MAILGUN_BASE_URL"); v != "" {
		cfg.Mailgun.BaseURL = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
		cfg.SendGrid.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("FEEDBACK_ARCHIVE_BUCKET"); v != "" {
		cfg.Feedback.ArchiveBucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DISPATCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.BatchSize = n
		}
	}
	if v := os.Getenv("PROVIDER_FAILOVER_ORDER"); v != "" {
		var order []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
				order = append(order, p)
			}
		}
		if len(order) > 0 {
			cfg.Routing.FailoverOrder = order
		}
	}

	return cfg, nil
}
