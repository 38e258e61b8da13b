package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/cache"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/guildgate/internal/catalog/repository"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/entitlement/domain"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/guildgate/internal/tenant/repository"
	"github.com/smallbiznis/guildgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupStore(t *testing.T, cfg config.Config) (*Store, *gorm.DB, *miniredis.Miniredis, testutil.Catalog) {
	return setupStoreWithRepo(t, cfg, tenantrepository.Provide())
}

func setupStoreWithRepo(t *testing.T, cfg config.Config, tenantRepo tenantdomain.Repository) (*Store, *gorm.DB, *miniredis.Miniredis, testutil.Catalog) {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	cat := testutil.SeedCatalog(t, db, testutil.NewNode(t))

	store, err := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Config:      cfg,
		Redis:       rdb,
		Clock:       clock.NewFakeClock(testutil.Epoch),
		CatalogRepo: catalogrepository.Provide(),
		TenantRepo:  tenantRepo,
	})
	require.NoError(t, err)
	return store, db, mr, cat
}

// hookedTenantRepo runs during once, in the middle of a snapshot rebuild.
type hookedTenantRepo struct {
	tenantdomain.Repository
	once   sync.Once
	during func(ctx context.Context, tx *gorm.DB)
}

func (r *hookedTenantRepo) ListDisabledFeatureIDs(ctx context.Context, db *gorm.DB, guildID string) ([]snowflake.ID, error) {
	if r.during != nil {
		r.once.Do(func() { r.during(ctx, db) })
	}
	return r.Repository.ListDisabledFeatureIDs(ctx, db, guildID)
}

func addGuild(t *testing.T, db *gorm.DB, guildID string, tier catalogdomain.Tier) {
	t.Helper()
	require.NoError(t, db.Create(&tenantdomain.Settings{
		GuildID:   guildID,
		TierID:    tier.ID,
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch,
	}).Error)
}

func TestGetBuildsAndCachesSnapshot(t *testing.T) {
	store, db, mr, cat := setupStore(t, config.Config{SnapshotTTL: time.Hour})
	ctx := context.Background()
	addGuild(t, db, "g1", cat.Pro)
	require.NoError(t, db.Create(&tenantdomain.FeatureOverride{
		GuildID:   "g1",
		FeatureID: cat.Core.ID,
		IsEnabled: false,
		UpdatedAt: testutil.Epoch,
	}).Error)

	snap, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testutil.TierPro, snap.TierName)
	assert.Equal(t, testutil.Epoch, snap.BuiltAt)
	require.Contains(t, snap.Features, testutil.FeatureStats)
	assert.True(t, snap.Features[testutil.FeatureStats].Finite())
	assert.False(t, snap.Features[testutil.FeatureCore].Finite())
	assert.True(t, snap.FeatureDisabled(cat.Core.ID))

	key := cache.GuildEntitlementsKey("g1")
	require.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	// the cached copy wins over the database until invalidated
	require.NoError(t, db.Model(&tenantdomain.Settings{}).Where("guild_id = ?", "g1").Update("tier_id", cat.Free.ID).Error)
	snap, err = store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, testutil.TierPro, snap.TierName)

	require.NoError(t, store.InvalidateGuild(ctx, "g1"))
	snap, err = store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, testutil.TierFree, snap.TierName)
}

func TestGetUnknownGuildIsNotCached(t *testing.T) {
	store, _, mr, _ := setupStore(t, config.Config{})

	snap, err := store.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.False(t, mr.Exists(cache.GuildEntitlementsKey("ghost")))
}

func TestGetDiscardsUndecodableSnapshot(t *testing.T) {
	store, db, mr, cat := setupStore(t, config.Config{})
	addGuild(t, db, "g1", cat.Free)
	require.NoError(t, mr.Set(cache.GuildEntitlementsKey("g1"), "{not json"))

	snap, err := store.Get(context.Background(), "g1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testutil.TierFree, snap.TierName)

	raw, err := mr.Get(cache.GuildEntitlementsKey("g1"))
	require.NoError(t, err)
	var decoded domain.Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "g1", decoded.GuildID)
}

func TestInvalidateGuildsInBatches(t *testing.T) {
	store, _, mr, _ := setupStore(t, config.Config{})
	ctx := context.Background()

	ids := make([]string, 0, invalidateBatch+7)
	for i := range invalidateBatch + 7 {
		id := fmt.Sprintf("g%d", i)
		ids = append(ids, id)
		require.NoError(t, mr.Set(cache.GuildEntitlementsKey(id), "{}"))
	}
	require.NoError(t, mr.Set(cache.GuildEntitlementsKey("other"), "{}"))

	require.NoError(t, store.InvalidateGuilds(ctx, ids))
	for _, id := range ids {
		require.False(t, mr.Exists(cache.GuildEntitlementsKey(id)), id)
		require.True(t, mr.Exists(cache.GuildGenerationKey(id)), id)
	}
	assert.True(t, mr.Exists(cache.GuildEntitlementsKey("other")))
	assert.False(t, mr.Exists(cache.GuildGenerationKey("other")))
}

func TestInvalidationDuringRebuildIsNotOverwritten(t *testing.T) {
	repo := &hookedTenantRepo{Repository: tenantrepository.Provide()}
	store, db, mr, cat := setupStoreWithRepo(t, config.Config{}, repo)
	ctx := context.Background()
	addGuild(t, db, "g1", cat.Free)

	// the upgrade lands after the rebuild read the Free tier. The test database has a
	// single connection, so the write goes through the rebuild's own handle.
	repo.during = func(ctx context.Context, tx *gorm.DB) {
		require.NoError(t, tx.Model(&tenantdomain.Settings{}).Where("guild_id = ?", "g1").Update("tier_id", cat.Pro.ID).Error)
		require.NoError(t, store.InvalidateGuild(ctx, "g1"))
	}

	racing, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, racing)
	assert.Equal(t, testutil.TierFree, racing.TierName)
	assert.False(t, mr.Exists(cache.GuildEntitlementsKey("g1")))

	snap, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, testutil.TierPro, snap.TierName)
	assert.True(t, mr.Exists(cache.GuildEntitlementsKey("g1")))

	snap, err = store.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, testutil.TierPro, snap.TierName)
}

func TestRebuildOutlivesCancelledCaller(t *testing.T) {
	repo := &hookedTenantRepo{Repository: tenantrepository.Provide()}
	store, db, mr, cat := setupStoreWithRepo(t, config.Config{}, repo)
	addGuild(t, db, "g1", cat.Pro)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo.during = func(context.Context, *gorm.DB) { cancel() }

	snap, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testutil.TierPro, snap.TierName)
	assert.True(t, mr.Exists(cache.GuildEntitlementsKey("g1")))
}

func TestCommandsUseLocalCache(t *testing.T) {
	store, db, mr, _ := setupStore(t, config.Config{CommandsL1TTL: time.Minute, CommandsL1Cost: 1 << 16})
	ctx := context.Background()

	cmds, err := store.Commands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, testutil.FeatureStats, cmds[testutil.CommandServerStats].FeatureCode)
	assert.True(t, mr.Exists(cache.GlobalCommandsKey))

	// served from L1 even after the shared copy disappears
	mr.Del(cache.GlobalCommandsKey)
	require.NoError(t, db.Model(&catalogdomain.Command{}).Where("name = ?", testutil.CommandPing).Update("is_maintenance", true).Error)
	cmds, err = store.Commands(ctx)
	require.NoError(t, err)
	assert.False(t, cmds[testutil.CommandPing].IsMaintenance)

	require.NoError(t, store.InvalidateCommands(ctx))
	cmds, err = store.Commands(ctx)
	require.NoError(t, err)
	assert.True(t, cmds[testutil.CommandPing].IsMaintenance)
}
