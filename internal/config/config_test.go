package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigContent = `
[development]
host = "localhost"
port = 7860
log_level = "trace"
log_to_stdout = true
postgres_host = "localhost"
postgres_port = "5432"
postgres_db_name = "dwani_gateway"
redis_host = "localhost"
redis_port = "6379"
inference_base_url = "http://localhost:7861"
pdf_inference_base_url = "http://localhost:7862"

[production]
host = "0.0.0.0"
port = 7860
log_level = "info"
logs_path = "/var/log/dwani-gateway.log"
postgres_host = "db"
postgres_port = "5432"
postgres_db_name = "dwani_gateway"
redis_host = "redis"
redis_port = "6379"
inference_base_url = "https://inference.internal:7861"
pdf_inference_base_url = "https://pdf.internal:7862"
token_expiration_minutes = 60
chat_rate_limit_per_min = 50
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigContent), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := Load("development", path)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 7860, cfg.Port)
	assert.Equal(t, "http://localhost:7861", cfg.InferenceBaseURL)

	// defaults kick in where the file is silent
	assert.Equal(t, 1440, cfg.TokenExpirationMinutes)
	assert.Equal(t, 7, cfg.RefreshTokenExpirationDays)
	assert.Equal(t, 100, cfg.ChatRateLimitPerMin)
	assert.Equal(t, 5, cfg.SpeechRateLimitPerMin)
	assert.Equal(t, "admin", cfg.DefaultAdminUsername)
}

func TestLoad_ProductionOverrides(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := Load("prod", path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.TokenExpirationMinutes)
	assert.Equal(t, 50, cfg.ChatRateLimitPerMin)
	assert.Equal(t, 5, cfg.SpeechRateLimitPerMin)
}

func TestLoad_UnknownEnv(t *testing.T) {
	path := writeTestConfig(t)

	_, err := Load("staging", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown env")
}

func TestIsProduction(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := Load("prod", path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())

	cfg, err = Load("development", path)
	require.NoError(t, err)
	assert.False(t, cfg.IsProduction())
}
