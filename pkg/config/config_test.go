package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"feedstate/pkg/ratelimit"
	"feedstate/pkg/tier"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("T_STRING", " value ")
	t.Setenv("T_INT", "42")
	t.Setenv("T_BAD_INT", "forty")
	t.Setenv("T_BOOL", "false")
	t.Setenv("T_BAD_BOOL", "maybe")
	t.Setenv("T_DURATION", "90s")
	t.Setenv("T_BAD_DURATION", "soon")
	t.Setenv("T_LIST", "a, ,b,")

	assert.Equal(t, "value", GetEnvString("T_STRING", "def"))
	assert.Equal(t, "def", GetEnvString("T_UNSET", "def"))
	assert.Equal(t, 42, GetEnvInt("T_INT", 1))
	assert.Equal(t, 1, GetEnvInt("T_BAD_INT", 1))
	assert.False(t, GetEnvBool("T_BOOL", true))
	assert.True(t, GetEnvBool("T_BAD_BOOL", true))
	assert.Equal(t, 90*time.Second, GetEnvDuration("T_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("T_BAD_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b"}, GetEnvStringList("T_LIST", nil))
	assert.Equal(t, []string{"x"}, GetEnvStringList("T_UNSET", []string{"x"}))
}

func TestLoadStateConfig_Defaults(t *testing.T) {
	cfg := LoadStateConfig()

	assert.Equal(t, tier.DriverAuto, cfg.Driver)
	assert.True(t, cfg.MemoryEnabled)
	assert.Equal(t, "./cache/state", cfg.FileDir)
	assert.Equal(t, time.Second, cfg.ProbeTimeout)
	assert.Nil(t, cfg.SelectorConfig().Redis, "no redis without REDIS_ADDR")
}

func TestLoadStateConfig_FromEnv(t *testing.T) {
	t.Setenv("STATE_DRIVER", "Redis")
	t.Setenv("STATE_MEMORY_ENABLED", "false")
	t.Setenv("STATE_FILE_DIR", "/var/lib/feedstate")
	t.Setenv("STATE_PROBE_TIMEOUT", "250ms")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "2")

	cfg := LoadStateConfig()
	sc := cfg.SelectorConfig()

	assert.Equal(t, "redis", sc.Driver)
	assert.False(t, sc.MemoryEnabled)
	assert.Equal(t, "/var/lib/feedstate", sc.File.Dir)
	assert.Equal(t, 250*time.Millisecond, sc.ProbeTimeout)
	if assert.NotNil(t, sc.Redis) {
		assert.Equal(t, "cache:6379", sc.Redis.Addr)
		assert.Equal(t, 2, sc.Redis.DB)
		assert.Equal(t, 250*time.Millisecond, sc.Redis.DialTimeout)
	}
}

func TestLoadStateConfig_InvalidFallsBack(t *testing.T) {
	t.Setenv("STATE_DRIVER", "apcu")
	t.Setenv("STATE_PROBE_TIMEOUT", "1m")
	t.Setenv("STATE_MEMORY_MAX_KEYS", "-5")

	cfg := LoadStateConfig()
	assert.Equal(t, tier.DriverAuto, cfg.Driver)
	assert.Equal(t, time.Second, cfg.ProbeTimeout)
	assert.Equal(t, tier.DefaultMemoryConfig().MaxKeys, cfg.MemoryMaxKeys)
}

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATELIMIT_ENABLED", "false")
	t.Setenv("RATELIMIT_RULES_FILE", "/etc/feedstate/rules.yaml")
	t.Setenv("RATELIMIT_KEY_PREFIX", "bad prefix")

	cfg, err := LoadRateLimitConfig()
	assert.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "/etc/feedstate/rules.yaml", cfg.RulesFile)
	assert.Equal(t, ratelimit.DefaultKeyPrefix, cfg.KeyPrefix)
}
