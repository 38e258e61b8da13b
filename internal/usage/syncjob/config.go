package syncjob

import (
	"time"

	"github.com/smallbiznis/guildgate/internal/config"
)

// Config controls the usage sync loop.
type Config struct {
	PageSize     int64
	PollInterval time.Duration
	RunTimeout   time.Duration
	LockTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		PageSize:     100,
		PollInterval: time.Minute,
		RunTimeout:   30 * time.Second,
		LockTTL:      2 * time.Minute,
	}
}

// FromMetering maps the hot-reloaded metering settings onto the loop config.
func FromMetering(cfg config.MeteringConfig) Config {
	return Config{
		PageSize:     cfg.SyncPageSize,
		PollInterval: cfg.SyncInterval,
		RunTimeout:   cfg.SyncRunTimeout,
		LockTTL:      cfg.SyncLockTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = defaults.PageSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	// the lease must outlive a full run or two workers could flush at once
	if c.LockTTL < c.RunTimeout {
		c.LockTTL = 2 * c.RunTimeout
	}
	return c
}
