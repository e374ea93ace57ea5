package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PODIO_CLIENT_ID", "")
	t.Setenv("PODIO_CLIENT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "https://podio.com/oauth/authorize", cfg.PodioAuthURL)
	require.Equal(t, "https://podio.com/oauth/token", cfg.PodioTokenURL)
	require.Equal(t, "https://api.podio.com", cfg.PodioAPIBaseURL)
	require.Equal(t, 5*time.Minute, cfg.TokenBufferWindow)
	require.Equal(t, 10*time.Second, cfg.RefreshTimeout)
	require.Equal(t, 5*time.Minute, cfg.StateTTL)
	require.False(t, cfg.PodioConfigured())
}

func TestLoadProductionRequiresDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PODIO_CLIENT_ID", " client ")
	t.Setenv("PODIO_CLIENT_SECRET", "secret")
	t.Setenv("TOKEN_BUFFER_WINDOW", "2m")
	t.Setenv("REFRESH_TIMEOUT", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.example.com, https://staging.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "client", cfg.PodioClientID)
	require.True(t, cfg.PodioConfigured())
	require.Equal(t, 2*time.Minute, cfg.TokenBufferWindow)
	require.Equal(t, 3*time.Second, cfg.RefreshTimeout)
	require.Equal(t, []string{"https://portal.example.com", "https://staging.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadNonPositiveDurationsFallBack(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_BUFFER_WINDOW", "-1m")
	t.Setenv("REFRESH_TIMEOUT", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 5*time.Minute, cfg.TokenBufferWindow)
	require.Equal(t, 10*time.Second, cfg.RefreshTimeout)
}

func TestGetTokenMap(t *testing.T) {
	t.Setenv("PODIO_APP_TOKENS", "12345:abc, 67890:def ,broken,  :empty")

	tokens := getTokenMap("PODIO_APP_TOKENS")
	require.Equal(t, map[string]string{"12345": "abc", "67890": "def"}, tokens)
}

func TestGetTokenMapEmpty(t *testing.T) {
	t.Setenv("PODIO_APP_TOKENS", "  ")

	require.Nil(t, getTokenMap("PODIO_APP_TOKENS"))
}
