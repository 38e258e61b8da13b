package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// incrementScript adds ARGV[1] and sets the expiry only when the counter left zero.
// The expiry runs past the end of the counter's period, so a flush can still find it.
const incrementScript = `
local amount = tonumber(ARGV[1])
local value = redis.call("INCRBY", KEYS[1], amount)
if value == amount then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return value
`

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Redis    *redis.Client
	Clock    clock.Clock
	Repo     usagedomain.Repository
	Metering *config.MeteringConfigHolder
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	redis    *redis.Client
	clock    clock.Clock
	repo     usagedomain.Repository
	metering *config.MeteringConfigHolder
	metrics  *metrics.Metrics
	script   *redis.Script
}

func New(p Params) usagedomain.Meter {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usage.meter"),
		redis:    p.Redis,
		clock:    p.Clock,
		repo:     p.Repo,
		metering: p.Metering,
		metrics:  p.Metrics,
		script:   redis.NewScript(incrementScript),
	}
}

func (s *Service) IncrementUsage(
	ctx context.Context,
	guildID string,
	featureID snowflake.ID,
	period catalogdomain.ResetPeriod,
	amount int64,
) (int64, error) {
	if amount <= 0 {
		return 0, usagedomain.ErrInvalidAmount
	}
	key, err := s.counterKey(guildID, featureID, period)
	if err != nil {
		return 0, err
	}

	ttl, err := s.counterTTL(key, period)
	if err != nil {
		return 0, err
	}
	value, err := s.script.Run(ctx, s.redis, []string{key.String()}, amount, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}

	s.metrics.RecordUsageIncrement(ctx, string(period), amount)
	if value == amount {
		s.log.Debug("usage counter opened",
			zap.String("key", key.String()),
			zap.Duration("ttl", ttl),
		)
	}
	return value, nil
}

func (s *Service) GetUsage(ctx context.Context, guildID string, featureID snowflake.ID, period catalogdomain.ResetPeriod) (int64, error) {
	key, err := s.counterKey(guildID, featureID, period)
	if err != nil {
		return 0, err
	}
	return s.live(ctx, key)
}

// CurrentUsage reads the live counter before the ledger row. A flush that commits between
// the two reads can then only be counted twice, never missed.
func (s *Service) CurrentUsage(ctx context.Context, guildID string, featureID snowflake.ID, period catalogdomain.ResetPeriod) (int64, error) {
	key, err := s.counterKey(guildID, featureID, period)
	if err != nil {
		return 0, err
	}
	live, err := s.live(ctx, key)
	if err != nil {
		return 0, err
	}
	entry, err := s.repo.FindEntry(ctx, s.db, key.GuildID, key.FeatureID, key.PeriodStart)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return live, nil
	}
	return entry.UsageCount + live, nil
}

func (s *Service) ListLedger(ctx context.Context, req usagedomain.ListLedgerRequest) ([]usagedomain.LedgerEntryResponse, error) {
	guildID, err := normalizeGuildID(req.GuildID)
	if err != nil {
		return nil, err
	}

	filter := usagedomain.LedgerFilter{GuildID: guildID, Limit: req.Limit}
	if v := strings.TrimSpace(req.FeatureID); v != "" {
		id, err := ParseFeatureID(v)
		if err != nil {
			return nil, err
		}
		filter.FeatureID = &id
	}
	if v := strings.TrimSpace(req.From); v != "" {
		from, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return nil, usagedomain.ErrInvalidFrom
		}
		filter.From = &from
	}

	entries, err := s.repo.ListLedger(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	out := make([]usagedomain.LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, usagedomain.LedgerEntryResponse{
			GuildID:     e.GuildID,
			FeatureID:   e.FeatureID.String(),
			PeriodStart: e.PeriodStart.UTC(),
			PeriodEnd:   e.PeriodEnd.UTC(),
			UsageCount:  e.UsageCount,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Service) counterKey(guildID string, featureID snowflake.ID, period catalogdomain.ResetPeriod) (usagedomain.CounterKey, error) {
	guildID, err := normalizeGuildID(guildID)
	if err != nil {
		return usagedomain.CounterKey{}, err
	}
	if featureID <= 0 {
		return usagedomain.CounterKey{}, usagedomain.ErrInvalidFeatureID
	}
	start, err := usagedomain.PeriodStart(period, s.clock.Now())
	if err != nil {
		return usagedomain.CounterKey{}, err
	}
	return usagedomain.CounterKey{GuildID: guildID, FeatureID: featureID, PeriodStart: start}, nil
}

// counterTTL keeps a counter alive until its period closes plus the configured grace,
// which covers a sync outage of at least one yearly period.
func (s *Service) counterTTL(key usagedomain.CounterKey, period catalogdomain.ResetPeriod) (time.Duration, error) {
	end, err := usagedomain.PeriodEnd(period, key.PeriodStart)
	if err != nil {
		return 0, err
	}
	ttl := end.Sub(s.clock.Now()) + s.metering.Get().CounterGrace
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl, nil
}

func (s *Service) live(ctx context.Context, key usagedomain.CounterKey) (int64, error) {
	value, err := s.redis.Get(ctx, key.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// normalizeGuildID rejects ids that would not survive a counter key round trip.
func normalizeGuildID(guildID string) (string, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" || len(guildID) > 64 || strings.Contains(guildID, ":") {
		return "", usagedomain.ErrInvalidGuildID
	}
	return guildID, nil
}

func ParseFeatureID(value string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, usagedomain.ErrInvalidFeatureID
	}
	return snowflake.ID(id), nil
}
