package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKPLab/CARE-broker/internal/quota"
	"github.com/UKPLab/CARE-broker/internal/roles"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":4852", cfg.BindAddr)
	assert.Equal(t, time.Second, cfg.QuotaInterval)
	assert.Equal(t, quota.Limits{Requests: 100, Results: 100, Jobs: 5}, cfg.Quota[roles.Guest])
	assert.Equal(t, quota.Limits{}, cfg.Quota[roles.Admin])
	assert.False(t, cfg.TaskKiller.Enabled)
	assert.Equal(t, time.Hour, cfg.TaskKiller.MaxDuration)
	assert.Equal(t, 30*24*time.Hour, cfg.Scrub.MaxAge)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadFileThenEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_addr: ":7000"
quota_interval: 2s
quota:
  guest:
    requests: 3
task_killer:
  enabled: true
  max_duration: 10m
store:
  driver: redis
  redis_addr: localhost:6379
`), 0o600))
	t.Setenv("BROKER_BIND_ADDR", ":7100")
	t.Setenv("BROKER_SCRUB_ENABLED", "off")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.BindAddr)
	assert.Equal(t, 2*time.Second, cfg.QuotaInterval)
	assert.Equal(t, quota.Limits{Requests: 3}, cfg.Quota[roles.Guest])
	assert.Equal(t, quota.Limits{Requests: 500, Results: 500, Jobs: 20}, cfg.Quota[roles.User])
	assert.True(t, cfg.TaskKiller.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.TaskKiller.MaxDuration)
	assert.Equal(t, time.Minute, cfg.TaskKiller.Interval)
	assert.False(t, cfg.Scrub.Enabled)
	assert.Equal(t, "redis", cfg.Store.Driver)
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("secret: s3cret\n"), 0o600))
	t.Setenv("BROKER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Secret)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"BROKER_QUOTA_INTERVAL": "soon",
		"BROKER_CLEAN_ON_START": "maybe",
		"BROKER_CONNECT_RATE":   "fast",
		"BROKER_STORE_DRIVER":   "mongo",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Quota["root"] = quota.Limits{}
	cfg.Store.Driver = "postgres"
	cfg.TaskKiller = KillerConfig{Enabled: true}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown role "root"`)
	assert.Contains(t, err.Error(), "database_url")
	assert.Contains(t, err.Error(), "task_killer")
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"BROKER_CONFIG",
		"BROKER_BIND_ADDR",
		"BROKER_SHUTDOWN_TIMEOUT",
		"BROKER_METRICS_NAMESPACE",
		"BROKER_ALLOW_ANY_ORIGIN",
		"BROKER_SECRET",
		"BROKER_SYSTEM_KEY",
		"BROKER_QUOTA_INTERVAL",
		"BROKER_SCRUB_ENABLED",
		"BROKER_SCRUB_INTERVAL",
		"BROKER_SCRUB_MAX_AGE",
		"BROKER_TASK_KILLER_ENABLED",
		"BROKER_TASK_KILLER_INTERVAL",
		"BROKER_TASK_KILLER_MAX_DURATION",
		"BROKER_STORE_DRIVER",
		"BROKER_REDIS_PREFIX",
		"BROKER_LOG_LEVEL",
		"BROKER_LOG_FORMAT",
		"BROKER_CONNECT_RATE",
		"BROKER_CONNECT_BURST",
		"BROKER_CLEAN_ON_START",
		"BROKER_OUTBOUND_QUEUE",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
