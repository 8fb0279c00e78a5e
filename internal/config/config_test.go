package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationDecode(t *testing.T) {
	var d Duration

	require.NoError(t, d.Decode("30"))
	assert.Equal(t, 30*time.Second, d.Std())

	require.NoError(t, d.Decode("1m30s"))
	assert.Equal(t, 90*time.Second, d.Std())

	assert.Error(t, d.Decode("soon"))
}

func TestLoad(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/handyman")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "redis://worker:pw@cache:6380")
	t.Setenv("LOCK_TTL", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "worker", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, 3*time.Second, cfg.LockTTL.Std())
	assert.Equal(t, time.Minute, cfg.WorkerInterval.Std())
	assert.Equal(t, "usd", cfg.PaymentCurrency)
}

func TestLoadRequiresIdentityKey(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/handyman")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_PUBLIC_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}
