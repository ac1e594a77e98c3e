package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ed-baer97/mektab/internal/models"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "https://mektep.edu.kz", cfg.Portal.BaseURL)
	assert.True(t, cfg.Portal.Headless)
	assert.Equal(t, 2, cfg.Workers.PoolSize)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, "./templates", cfg.Templates.Dir)
	assert.True(t, cfg.Retention.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFiles_MergeOrder(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
[portal]
base_url = "https://portal.test"
step_timeout = "20s"

[workers]
pool_size = 4

[[credentials]]
ref = "teacher-a"
username = "ivanova"
secret = "s3cr3t-one"
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[workers]
pool_size = 1
`), 0644))

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	// later file wins
	assert.Equal(t, 1, cfg.Workers.PoolSize)
	// untouched values survive from the earlier file
	assert.Equal(t, "https://portal.test", cfg.Portal.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.Portal.StepTimeout)
	// defaults survive where no file speaks
	assert.Equal(t, 3, cfg.Retry.MaxRetries)

	require.Len(t, cfg.Credentials, 1)
	assert.Equal(t, "teacher-a", cfg.Credentials[0].Ref)

	cred, ok := cfg.CredentialByRef("teacher-a")
	require.True(t, ok)
	assert.Equal(t, "ivanova", cred.Username)

	_, ok = cfg.CredentialByRef("missing")
	assert.False(t, ok)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/mektab.toml")
	assert.Error(t, err)
}

func TestLoadFromFiles_BadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[portal]
step_timeout = "soon"
`), 0644))

	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step_timeout")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MEKTAB_LOG_LEVEL", "debug")
	t.Setenv("MEKTAB_PORTAL_BASE_URL", "https://env.portal.test")
	t.Setenv("MEKTAB_PORTAL_STEP_TIMEOUT", "30s")
	t.Setenv("MEKTAB_WORKERS_POOL_SIZE", "5")
	t.Setenv("MEKTAB_PORTAL_LOGIN", "env-user")
	t.Setenv("MEKTAB_PORTAL_PASSWORD", "env-pass")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://env.portal.test", cfg.Portal.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Portal.StepTimeout)
	assert.Equal(t, 5, cfg.Workers.PoolSize)

	cred, ok := cfg.CredentialByRef("default")
	require.True(t, ok, "env login should land as credential ref 'default'")
	assert.Equal(t, "env-user", cred.Username)
	assert.Equal(t, "env-pass", cred.Secret)
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()

	ApplyFlagOverrides(cfg, 7, "/tmp/reports")
	assert.Equal(t, 7, cfg.Workers.PoolSize)
	assert.Equal(t, "/tmp/reports", cfg.Output.Dir)

	// zero and empty leave the config alone
	ApplyFlagOverrides(cfg, 0, "")
	assert.Equal(t, 7, cfg.Workers.PoolSize)
	assert.Equal(t, "/tmp/reports", cfg.Output.Dir)
}

func TestConfigValidate(t *testing.T) {
	t.Run("duplicate credential refs rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Credentials = append(cfg.Credentials,
			models.Credential{Ref: "teacher-a", Username: "user", Secret: "secret-value"},
			models.Credential{Ref: "teacher-a", Username: "other", Secret: "secret-value"},
		)
		assert.Error(t, cfg.Validate())
	})

	t.Run("multiplier below one rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Retry.Multiplier = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("max backoff below initial rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Retry.MaxBackoff = time.Second
		cfg.Retry.InitialBackoff = time.Minute
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad retention schedule rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Retention.Schedule = "not a cron"
		assert.Error(t, cfg.Validate())
	})

	t.Run("scrape schedule validated", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Schedule.Scrape = []ScrapeScheduleConfig{{Cron: "* * * * *"}}
		assert.Error(t, cfg.Validate())
	})
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 3 * * *"))
	assert.NoError(t, ValidateSchedule("*/10 * * * *"))
	assert.Error(t, ValidateSchedule("* * * * *"), "every minute must be rejected")
	assert.Error(t, ValidateSchedule("*/2 * * * *"), "sub-5-minute interval must be rejected")
	assert.Error(t, ValidateSchedule("garbage"))
}
