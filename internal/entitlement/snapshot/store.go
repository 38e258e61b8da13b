package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/guildgate/internal/cache"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/entitlement/domain"
	"github.com/smallbiznis/guildgate/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	defaultSnapshotTTL = 24 * time.Hour
	defaultCommandsTTL = 24 * time.Hour

	// guilds per MULTI round trip during bulk invalidation
	invalidateBatch = 500

	// bound on a shared rebuild once it no longer follows the caller's context
	rebuildTimeout = 10 * time.Second
)

// storeSnapshotScript writes the snapshot only while the guild's generation still
// matches the one read before the rebuild. An absent generation reads as "".
const storeSnapshotScript = `
local gen = redis.call("GET", KEYS[2])
if (gen or "") ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Config      config.Config
	Redis       *redis.Client
	Clock       clock.Clock
	CatalogRepo catalogdomain.Repository
	TenantRepo  tenantdomain.Repository
	Metrics     *metrics.Metrics `optional:"true"`
}

// Store is the read-through cache for tenant snapshots and global command metadata.
// Values returned by Get and Commands are shared and must not be mutated.
type Store struct {
	db          *gorm.DB
	log         *zap.Logger
	redis       *redis.Client
	clock       clock.Clock
	catalogRepo catalogdomain.Repository
	tenantRepo  tenantdomain.Repository
	metrics     *metrics.Metrics

	snapshotTTL   time.Duration
	generationTTL time.Duration
	commandsTTL   time.Duration
	l1            *cache.Local[map[string]domain.CommandMeta]
	l1TTL         time.Duration

	storeScript *redis.Script
	readTx      []*sql.TxOptions

	group singleflight.Group
}

func New(p Params) (*Store, error) {
	s := &Store{
		db:          p.DB,
		log:         p.Log.Named("entitlement.snapshot"),
		redis:       p.Redis,
		clock:       p.Clock,
		catalogRepo: p.CatalogRepo,
		tenantRepo:  p.TenantRepo,
		metrics:     p.Metrics,
		snapshotTTL: p.Config.SnapshotTTL,
		commandsTTL: p.Config.CommandsTTL,
		l1TTL:       p.Config.CommandsL1TTL,
		storeScript: redis.NewScript(storeSnapshotScript),
	}
	if s.snapshotTTL <= 0 {
		s.snapshotTTL = defaultSnapshotTTL
	}
	s.generationTTL = s.snapshotTTL + rebuildTimeout
	// sqlite transactions are serializable already and its driver rejects tx options
	if p.DB.Dialector.Name() != "sqlite" {
		s.readTx = []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
	}
	if s.commandsTTL <= 0 {
		s.commandsTTL = defaultCommandsTTL
	}
	if s.l1TTL > 0 {
		l1, err := cache.NewLocal[map[string]domain.CommandMeta](p.Config.CommandsL1Cost)
		if err != nil {
			return nil, err
		}
		s.l1 = l1
	}
	return s, nil
}

// Get returns the guild's snapshot, rebuilding it on a miss. Nil means the guild has
// no settings row yet. A rebuild that overlaps an invalidation is returned to its
// callers but never cached, and later readers never join it.
func (s *Store) Get(ctx context.Context, guildID string) (*domain.Snapshot, error) {
	key := cache.GuildEntitlementsKey(guildID)

	vals, err := s.redis.MGet(ctx, key, cache.GuildGenerationKey(guildID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if raw, ok := vals[0].(string); ok {
		var snap domain.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			return &snap, nil
		}
		s.log.Warn("discarding undecodable snapshot", zap.String("guild_id", guildID))
	}
	gen, _ := vals[1].(string)

	v, err, _ := s.group.Do(key+"@"+gen, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
		defer cancel()
		return s.build(buildCtx, guildID, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Snapshot), nil
}

func (s *Store) build(ctx context.Context, guildID, gen string) (*domain.Snapshot, error) {
	var (
		settings *tenantdomain.SettingsWithTier
		quotas   []catalogdomain.TierFeatureQuota
		disabled []snowflake.ID
		perms    []tenantdomain.CommandPermission
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		settings, err = s.tenantRepo.FindSettingsWithTier(ctx, tx, guildID)
		if err != nil || settings == nil {
			return err
		}
		if quotas, err = s.catalogRepo.ListTierQuotas(ctx, tx, settings.TierID); err != nil {
			return err
		}
		if disabled, err = s.tenantRepo.ListDisabledFeatureIDs(ctx, tx, guildID); err != nil {
			return err
		}
		perms, err = s.tenantRepo.ListPermissions(ctx, tx, guildID)
		return err
	}, s.readTx...)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		s.metrics.RecordSnapshotRebuild(ctx, false)
		return nil, nil
	}

	snap := &domain.Snapshot{
		GuildID:               settings.GuildID,
		TierID:                settings.TierID,
		TierName:              settings.TierName,
		SubscriptionExpiresAt: settings.SubscriptionExpiresAt,
		Features:              make(map[string]domain.FeatureQuota, len(quotas)),
		DisabledFeatures:      disabled,
		Permissions:           make(map[string]domain.PermissionRule, len(perms)),
		BuiltAt:               s.clock.Now().UTC(),
	}
	for _, q := range quotas {
		snap.Features[q.FeatureCode] = domain.FeatureQuota{
			FeatureID: q.FeatureID,
			Limit:     q.UsageLimit,
			Period:    q.ResetPeriod,
		}
	}
	for _, p := range perms {
		snap.Permissions[p.CommandName] = domain.PermissionRule{
			AllowedRoleIDs:    p.AllowedRoleIDs,
			AllowedChannelIDs: p.AllowedChannelIDs,
			DenyRoleIDs:       p.DenyRoleIDs,
		}
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	keys := []string{cache.GuildEntitlementsKey(guildID), cache.GuildGenerationKey(guildID)}
	stored, err := s.storeScript.Run(ctx, s.redis, keys, gen, payload, s.snapshotTTL.Milliseconds()).Int64()
	if err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	s.metrics.RecordSnapshotRebuild(ctx, true)
	s.log.Debug("snapshot rebuilt",
		zap.String("guild_id", guildID),
		zap.String("tier", snap.TierName),
		zap.Int("features", len(snap.Features)),
		zap.Bool("cached", stored == 1),
	)
	return snap, nil
}

func (s *Store) Commands(ctx context.Context) (map[string]domain.CommandMeta, error) {
	if s.l1 != nil {
		if cmds, ok := s.l1.Get(cache.GlobalCommandsKey); ok {
			return cmds, nil
		}
	}

	raw, err := s.redis.Get(ctx, cache.GlobalCommandsKey).Bytes()
	switch {
	case err == nil:
		var cmds map[string]domain.CommandMeta
		if err := json.Unmarshal(raw, &cmds); err == nil {
			s.remember(cmds, int64(len(raw)))
			return cmds, nil
		}
		s.log.Warn("discarding undecodable command metadata")
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("read commands: %w", err)
	}

	v, err, _ := s.group.Do(cache.GlobalCommandsKey, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
		defer cancel()
		return s.buildCommands(buildCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]domain.CommandMeta), nil
}

func (s *Store) buildCommands(ctx context.Context) (map[string]domain.CommandMeta, error) {
	bindings, err := s.catalogRepo.ListCommandBindings(ctx, s.db)
	if err != nil {
		return nil, err
	}

	cmds := make(map[string]domain.CommandMeta, len(bindings))
	for _, b := range bindings {
		cmds[b.Name] = domain.CommandMeta{
			FeatureID:       b.FeatureID,
			FeatureCode:     b.FeatureCode,
			IsMaintenance:   b.IsMaintenance,
			IsGlobalEnabled: b.IsGlobalEnabled,
		}
	}

	payload, err := json.Marshal(cmds)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, cache.GlobalCommandsKey, payload, s.commandsTTL).Err(); err != nil {
		return nil, fmt.Errorf("write commands: %w", err)
	}
	s.remember(cmds, int64(len(payload)))
	s.log.Debug("command metadata rebuilt", zap.Int("commands", len(cmds)))
	return cmds, nil
}

func (s *Store) remember(cmds map[string]domain.CommandMeta, cost int64) {
	if s.l1 == nil {
		return
	}
	s.l1.Set(cache.GlobalCommandsKey, cmds, cost, s.l1TTL)
}

// InvalidateGuild drops the cached snapshot and moves the guild to a new generation,
// so a rebuild already in flight cannot store what it read before the change.
func (s *Store) InvalidateGuild(ctx context.Context, guildID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.bumpGeneration(ctx, pipe, guildID)
		return nil
	})
	return err
}

func (s *Store) InvalidateGuilds(ctx context.Context, guildIDs []string) error {
	for start := 0; start < len(guildIDs); start += invalidateBatch {
		end := min(start+invalidateBatch, len(guildIDs))
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range guildIDs[start:end] {
				s.bumpGeneration(ctx, pipe, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) bumpGeneration(ctx context.Context, pipe redis.Pipeliner, guildID string) {
	pipe.Set(ctx, cache.GuildGenerationKey(guildID), uuid.NewString(), s.generationTTL)
	pipe.Del(ctx, cache.GuildEntitlementsKey(guildID))
}

// InvalidateCommands clears the shared copy and this process's L1. Other processes
// observe the change once their L1 entry expires.
func (s *Store) InvalidateCommands(ctx context.Context) error {
	if s.l1 != nil {
		s.l1.Delete(cache.GlobalCommandsKey)
	}
	return s.redis.Del(ctx, cache.GlobalCommandsKey).Err()
}
