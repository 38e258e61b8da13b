package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MeteringConfig holds the tunables of the usage write-behind path.
// It is reloaded from metering.yml without a restart.
type MeteringConfig struct {
	SyncPageSize     int64         `mapstructure:"syncPageSize"`
	SyncInterval     time.Duration `mapstructure:"syncInterval"`
	SyncRunTimeout   time.Duration `mapstructure:"syncRunTimeout"`
	SyncLockTTL      time.Duration `mapstructure:"syncLockTTL"`
	CounterGrace     time.Duration `mapstructure:"counterGrace"`
	RateLimitRate    float64       `mapstructure:"rateLimitRate"`
	RateLimitBurst   int           `mapstructure:"rateLimitBurst"`
	RateLimitEnabled bool          `mapstructure:"rateLimitEnabled"`
}

// MinCounterGrace is how long a live counter outlives the end of its period: one leap
// year, the longest reset period.
const MinCounterGrace = 366 * 24 * time.Hour

func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		SyncPageSize:     100,
		SyncInterval:     time.Minute,
		SyncRunTimeout:   30 * time.Second,
		SyncLockTTL:      2 * time.Minute,
		CounterGrace:     MinCounterGrace,
		RateLimitRate:    20,
		RateLimitBurst:   40,
		RateLimitEnabled: true,
	}
}

type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

// StaticMeteringConfig returns a holder that never reloads.
func StaticMeteringConfig(cfg MeteringConfig) *MeteringConfigHolder {
	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewMeteringConfigHolder(log *zap.Logger) (*MeteringConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.metering")

	v := viper.New()

	v.SetConfigName("metering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/guildgate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GUILDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMeteringConfig()
	v.SetDefault("metering.syncPageSize", defaults.SyncPageSize)
	v.SetDefault("metering.syncInterval", defaults.SyncInterval)
	v.SetDefault("metering.syncRunTimeout", defaults.SyncRunTimeout)
	v.SetDefault("metering.syncLockTTL", defaults.SyncLockTTL)
	v.SetDefault("metering.counterGrace", defaults.CounterGrace)
	v.SetDefault("metering.rateLimitRate", defaults.RateLimitRate)
	v.SetDefault("metering.rateLimitBurst", defaults.RateLimitBurst)
	v.SetDefault("metering.rateLimitEnabled", defaults.RateLimitEnabled)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg MeteringConfig
	if err := v.UnmarshalKey("metering", &cfg); err != nil {
		return nil, err
	}
	if err := validateMeteringConfig(cfg); err != nil {
		return nil, err
	}

	holder := StaticMeteringConfig(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MeteringConfig
		if err := v.UnmarshalKey("metering", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateMeteringConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	return h.current.Load().(MeteringConfig)
}

func validateMeteringConfig(cfg MeteringConfig) error {
	if cfg.SyncPageSize <= 0 {
		return errors.New("metering.syncPageSize must be positive")
	}
	if cfg.SyncInterval <= 0 {
		return errors.New("metering.syncInterval must be positive")
	}
	if cfg.CounterGrace < MinCounterGrace {
		return errors.New("metering.counterGrace must cover one full yearly period")
	}
	if cfg.RateLimitEnabled && (cfg.RateLimitRate <= 0 || cfg.RateLimitBurst <= 0) {
		return errors.New("metering.rateLimit requires positive rate and burst")
	}
	return nil
}
