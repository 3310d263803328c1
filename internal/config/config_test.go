package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

dispatch:
  batch_size: 50
  concurrency: 4
  send_timeout_seconds: 5

retry:
  max_retries: 5
  backoff_base_seconds: 10
  backoff_max_seconds: 600

routing:
  failover_order: ["sendgrid", "ses"]
  priority_order:
    high: ["ses", "sendgrid"]
  rate_limit_per_provider_per_minute: 120

health:
  bounce_rate_threshold: 3
  complaint_rate_threshold: 0.05
  min_samples: 10

sender:
  from_email: "noreply@Mail.Example.com"

mailgun:
  api_key: "key-123"
  domain: "mg.example.com"
  enabled: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 50, cfg.Dispatch.BatchSize)
	assert.Equal(t, 4, cfg.Dispatch.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.SendTimeout())

	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Retry.BackoffBase())
	assert.Equal(t, 10*time.Minute, cfg.Retry.BackoffMax())

	assert.Equal(t, []string{"sendgrid", "ses"}, cfg.Routing.FailoverOrder)
	assert.Equal(t, []string{"ses", "sendgrid"}, cfg.Routing.PriorityOrder["high"])
	assert.Equal(t, 120, cfg.Routing.RateLimitPerProviderPerMinute)

	assert.Equal(t, 3.0, cfg.Health.BounceRateThreshold)
	assert.Equal(t, 0.05, cfg.Health.ComplaintRateThreshold)
	assert.EqualValues(t, 10, cfg.Health.MinSamples)

	assert.Equal(t, "mail.example.com", cfg.Sender.Domain())
	assert.True(t, cfg.Mailgun.Enabled)
	assert.Equal(t, "mg.example.com", cfg.Mailgun.Domain)

	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Dispatch.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.SendTimeout())
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Retry.BackoffBase())
	assert.Equal(t, time.Hour, cfg.Retry.BackoffMax())
	assert.Equal(t, 5.0, cfg.Health.BounceRateThreshold)
	assert.Equal(t, 0.1, cfg.Health.ComplaintRateThreshold)
	assert.Equal(t, 0, cfg.Routing.RateLimitPerProviderPerMinute)
	assert.Equal(t, []string{"ses", "sparkpost", "mailgun", "sendgrid"}, cfg.Routing.FailoverOrder)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mailflow")
	t.Setenv("SENDGRID_API_KEY", "SG.test")
	t.Setenv("PROVIDER_FAILOVER_ORDER", " SendGrid , mailgun,")
	t.Setenv("DISPATCH_BATCH_SIZE", "7")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/mailflow", cfg.Database.URL)
	assert.Equal(t, "SG.test", cfg.SendGrid.APIKey)
	assert.True(t, cfg.SendGrid.Enabled)
	assert.Equal(t, []string{"sendgrid", "mailgun"}, cfg.Routing.FailoverOrder)
	assert.Equal(t, 7, cfg.Dispatch.BatchSize)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Retry.JitterFraction = 0.5
	cfg.Routing.FailoverOrder = []string{"ses", "ses"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jitter_fraction")
	assert.Contains(t, err.Error(), "twice")
}

func TestValidateStaleWindowCoversClaimHold(t *testing.T) {
	cfg := Default()
	// 4 rounds of 8 workers, 4 providers, 10s each
	assert.Equal(t, 160*time.Second, cfg.Dispatch.MaxClaimHold(len(cfg.Routing.FailoverOrder)))

	cfg.Dispatch.StaleAfterSeconds = 60
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale_after_seconds (60) must be >= 160")

	cfg.Dispatch.Concurrency = 25
	cfg.Routing.FailoverOrder = []string{"ses"}
	assert.NoError(t, cfg.Validate())
}

func TestSettingsSnapshot(t *testing.T) {
	cfg := Default()
	s := cfg.Settings()

	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 25, s.BatchSize)
	assert.Equal(t, 5.0, s.HealthThresholds.BounceRate)

	// mutating the snapshot does not leak back into the config
	s.ProviderFailoverOrder[0] = "changed"
	assert.Equal(t, "ses", cfg.Routing.FailoverOrder[0])
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	cfg := Default()
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
}
