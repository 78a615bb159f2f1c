package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Jobs.Workers)
	require.Equal(t, 100, cfg.Jobs.QueueDepth)
	require.Equal(t, 2, cfg.Throttle.PerHostMax)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.Equal(t, 3, cfg.Browser.PoolSize)
	require.Equal(t, "fs", cfg.Results.Provider)
	require.Equal(t, "none", cfg.Publisher.Provider)
	require.Equal(t, 15*time.Second, cfg.StaticTimeout())
	require.Equal(t, 30*time.Second, cfg.NavTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
jobs:
  workers: 8
  queue_depth: 32
  retention_count: 50
http:
  timeout_seconds: 45
  user_agent: scraperd-test
browser:
  pool_size: 2
  nav_timeout_seconds: 20
throttle:
  per_host_max: 4
  delay_millis: 250
retry:
  max_attempts: 3
breaker:
  failure_threshold: 2
  recovery_timeout_seconds: 5
results:
  provider: memory
publisher:
  provider: memory
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 8, cfg.Jobs.Workers)
	require.Equal(t, 32, cfg.Jobs.QueueDepth)
	require.Equal(t, "scraperd-test", cfg.HTTP.UserAgent)
	require.Equal(t, 4, cfg.Throttle.PerHostMax)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 2, cfg.Breaker.FailureThreshold)
	require.Equal(t, "memory", cfg.Results.Provider)
	require.Equal(t, "memory", cfg.Publisher.Provider)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, 45*time.Second, cfg.StaticTimeout())
	require.Equal(t, 20*time.Second, cfg.NavTimeout())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	bad := base
	bad.Jobs.Workers = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.Results.Provider = "s3"
	require.Error(t, bad.Validate())

	bad = base
	bad.Results.Provider = "postgres"
	bad.Results.DSN = ""
	require.Error(t, bad.Validate())

	bad = base
	bad.Publisher.Provider = "pubsub"
	require.Error(t, bad.Validate())
}
