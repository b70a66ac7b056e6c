package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("USAGE_TIMEZONE", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":10000", cfg.ListenAddr)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, "https://api.deepseek.com", cfg.UpstreamBaseURL)
	assert.Equal(t, "/v1/chat/completions", cfg.UpstreamPath)
	assert.Equal(t, "deepseek-coder", cfg.UpstreamModel)
	assert.Equal(t, 60*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 8000, cfg.DefaultMaxTokens)
	assert.InDelta(t, 0.3, cfg.DefaultTemperature, 1e-9)
	assert.Equal(t, 100, cfg.StartingCredits)
	assert.Equal(t, 100, cfg.FreeDailyCap)
	assert.Equal(t, 4, cfg.CharsPerToken)
	assert.Equal(t, 100, cfg.TokensPerCredit)
	assert.Equal(t, time.UTC, cfg.UsageLocation)
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.AlertsEnabled())
	assert.False(t, cfg.AdminEnabled())
}

func TestLoad_MissingRequired(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("STORE_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEEPSEEK_API_KEY")
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}

func TestLoad_ArchiveRequiresCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("S3_BUCKET", "gaps")
	t.Setenv("S3_REGION", "")
	t.Setenv("S3_ACCESS_KEY", "")
	t.Setenv("S3_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_REGION")
}

func TestLoad_UnknownStoreDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_NormalizesDSN(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("MYSQL_DSN", "gate:secret@tcp(db:3306)/creditgate")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.MySQLDSN, "parseTime=true")
	assert.Contains(t, cfg.MySQLDSN, "tcp(db:3306)/creditgate")
}

func TestLoad_EnvFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("UPSTREAM_MODEL", "")
	t.Setenv("FREE_DAILY_CREDIT_CAP", "")

	path := filepath.Join(t.TempDir(), "gateway.env")
	require.NoError(t, os.WriteFile(path, []byte("UPSTREAM_MODEL=deepseek-chat\nFREE_DAILY_CREDIT_CAP=250\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", cfg.UpstreamModel)
	assert.Equal(t, 250, cfg.FreeDailyCap)
}

func TestNormalizeBaseURL(t *testing.T) {
	fallback := "https://api.deepseek.com"
	assert.Equal(t, fallback, normalizeBaseURL("", fallback))
	assert.Equal(t, "https://llm.internal", normalizeBaseURL("llm.internal", fallback))
	assert.Equal(t, "http://localhost:8081", normalizeBaseURL("http://localhost:8081/", fallback))
}
