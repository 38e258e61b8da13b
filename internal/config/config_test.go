package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ENTITLEMENT_SNAPSHOT_TTL", "10m")
	t.Setenv("ENTITLEMENT_COMMANDS_L1_TTL", "not-a-duration")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ADMIN_TOKEN", "  s3cret ")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 5*time.Second, cfg.CommandsL1TTL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "s3cret", cfg.AdminToken)
}

func TestValidateMeteringConfig(t *testing.T) {
	require.NoError(t, validateMeteringConfig(DefaultMeteringConfig()))

	cases := map[string]func(*MeteringConfig){
		"page size":   func(c *MeteringConfig) { c.SyncPageSize = 0 },
		"interval":    func(c *MeteringConfig) { c.SyncInterval = 0 },
		"short grace": func(c *MeteringConfig) { c.CounterGrace = 35 * 24 * time.Hour },
		"rate":        func(c *MeteringConfig) { c.RateLimitRate = 0 },
		"burst":       func(c *MeteringConfig) { c.RateLimitBurst = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultMeteringConfig()
			mutate(&cfg)
			assert.Error(t, validateMeteringConfig(cfg))
		})
	}

	disabled := DefaultMeteringConfig()
	disabled.RateLimitEnabled = false
	disabled.RateLimitRate = 0
	assert.NoError(t, validateMeteringConfig(disabled))
}

func TestStaticMeteringConfig(t *testing.T) {
	cfg := DefaultMeteringConfig()
	cfg.SyncPageSize = 7
	holder := StaticMeteringConfig(cfg)
	assert.Equal(t, int64(7), holder.Get().SyncPageSize)
}
