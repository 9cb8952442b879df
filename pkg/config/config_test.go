package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryStoreDefaults(t *testing.T) {
	t.Setenv("CHAT_STORE", "memory")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "memory", cfg.Chat.Store)
	require.Equal(t, "transition", cfg.Chat.PresencePolicy)
	require.True(t, cfg.Chat.StrictRooms)
	require.Equal(t, 15, cfg.Chat.DefaultPageSize)
	require.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	require.Equal(t, 60*time.Second, cfg.Chat.PongWait)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("CHAT_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownPresencePolicy(t *testing.T) {
	t.Setenv("CHAT_STORE", "memory")
	t.Setenv("CHAT_PRESENCE_POLICY", "sometimes")

	_, err := Load()
	require.ErrorContains(t, err, "CHAT_PRESENCE_POLICY")
}

func TestLoad_ParsesLists(t *testing.T) {
	t.Setenv("CHAT_STORE", "memory")
	t.Setenv("CHAT_BROADCAST_ALLOWLIST", " admin , ops,, ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "ops"}, cfg.Chat.BroadcastAllow)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestGetEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "5 minutes")
	t.Setenv("X_BOOL", "maybe")

	require.Equal(t, 7, getEnvAsInt("X_INT", 7))
	require.Equal(t, time.Second, getEnvAsDuration("X_DUR", time.Second))
	require.True(t, getEnvAsBool("X_BOOL", true))
}
