package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "/ws/game/", cfg.WSPath)
	assert.Equal(t, "redis", cfg.FanoutBackend)
	assert.Equal(t, 1000, cfg.ChatCacheLimit)
	assert.Equal(t, 50, cfg.ChatPageSize)
	assert.Equal(t, 180, cfg.ChatProfileTTLSec)
	assert.Equal(t, "global", cfg.GlobalChatRoom)
	assert.Equal(t, 300, cfg.DefaultClockSec)
	assert.Equal(t, 20.0, cfg.RatingDelta)
	assert.Equal(t, 5, cfg.MaxCASRetries)
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.DBAutoMigrate)
}

func TestLoadOverridesAndTrims(t *testing.T) {
	setRequired(t)
	t.Setenv("LISTEN_ADDR", " :9000 ")
	t.Setenv("WS_PATH", "ws/")
	t.Setenv("ALLOWED_ORIGINS", "example.com, ,*.example.org")
	t.Setenv("FANOUT_BACKEND", "NATS")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("CHAT_CACHE_LIMIT", "10")
	t.Setenv("DB_AUTO_MIGRATE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/ws/", cfg.WSPath)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.AllowedOrigins)
	assert.Equal(t, "nats", cfg.FanoutBackend)
	assert.Equal(t, 10, cfg.ChatCacheLimit)
	assert.True(t, cfg.DBAutoMigrate)
}

func TestLoadRequired(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := Load()
	require.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", " ")
	_, err = Load()
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadNATSNeedsURL(t *testing.T) {
	setRequired(t)
	t.Setenv("FANOUT_BACKEND", "nats")
	t.Setenv("NATS_URL", "")
	_, err := Load()
	require.ErrorContains(t, err, "NATS_URL")

	t.Setenv("FANOUT_BACKEND", "kafka")
	_, err = Load()
	require.ErrorContains(t, err, "FANOUT_BACKEND")
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	opts, err = RedisOptions("rediss://cache.example.com:6379")
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "cache.example.com", opts.TLSConfig.ServerName)

	_, err = RedisOptions("http://cache:6379")
	require.ErrorContains(t, err, "unsupported redis scheme")
	_, err = RedisOptions("redis://cache:6379/zero")
	require.Error(t, err)
}
