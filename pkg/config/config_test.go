package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("ENV_FILE", "")
	t.Setenv("JWT_SECRET", "dev-secret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "call-service", cfg.Server.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Redis.Timeout)
	assert.Equal(t, 1000, cfg.WebSocket.MaxConnections)
	assert.Equal(t, 6*time.Hour, cfg.LiveKit.TokenTTL)
	assert.False(t, cfg.LiveKit.Configured())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env.call")
	content := "JWT_SECRET=file-secret\n" +
		"LIVEKIT_API_KEY=key\n" +
		"LIVEKIT_API_SECRET=secret\n" +
		"LIVEKIT_URL=wss://media.example.com:7443\n" +
		"WS_ALLOWED_ORIGINS=https://a.example.com,https://b.example.com\n" +
		"REDIS_ENABLED=false\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	t.Setenv("ENV_FILE", envFile)
	// godotenv never overrides variables that are already set.
	for _, key := range []string{"JWT_SECRET", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "LIVEKIT_URL", "WS_ALLOWED_ORIGINS", "REDIS_ENABLED"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "file-secret", cfg.JWT.Secret)
	assert.True(t, cfg.LiveKit.Configured())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	_, err := Load()

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Environment: "production"},
			JWT:       JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			WebSocket: WebSocketConfig{MaxConnections: 10, SendBuffer: 16},
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.JWT.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.JWT.Secret = "short"
	assert.ErrorContains(t, cfg.Validate(), "32 characters")

	cfg.Server.Environment = "development"
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.WebSocket.MaxConnections = 0
	assert.Error(t, cfg.Validate())
}
