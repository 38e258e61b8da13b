package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/catalog/repository"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/guildgate/internal/tenant/repository"
	"github.com/smallbiznis/guildgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingInvalidator struct {
	mu       sync.Mutex
	guilds   []string
	commands int
}

func (r *recordingInvalidator) InvalidateGuild(_ context.Context, guildID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guilds = append(r.guilds, guildID)
	return nil
}

func (r *recordingInvalidator) InvalidateGuilds(_ context.Context, guildIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guilds = append(r.guilds, guildIDs...)
	return nil
}

func (r *recordingInvalidator) InvalidateCommands(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands++
	return nil
}

func setupCatalog(t *testing.T) (domain.Service, *gorm.DB, *recordingInvalidator) {
	t.Helper()

	db := testutil.NewDB(t)
	inv := &recordingInvalidator{}
	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       testutil.NewNode(t),
		Repo:        repository.Provide(),
		TenantRepo:  tenantrepository.Provide(),
		Invalidator: inv,
	})
	return svc, db, inv
}

func TestCreateTierFirstBecomesDefault(t *testing.T) {
	svc, _, _ := setupCatalog(t)
	ctx := context.Background()

	free, err := svc.CreateTier(ctx, domain.CreateTierRequest{Name: "Free"})
	require.NoError(t, err)
	assert.True(t, free.IsDefault)

	pro, err := svc.CreateTier(ctx, domain.CreateTierRequest{Name: "Pro", PriceMonthly: decimal.RequireFromString("4.999")})
	require.NoError(t, err)
	assert.False(t, pro.IsDefault)
	assert.Equal(t, "5", pro.PriceMonthly.String())

	_, err = svc.CreateTier(ctx, domain.CreateTierRequest{Name: "Free"})
	assert.ErrorIs(t, err, domain.ErrTierExists)

	_, err = svc.CreateTier(ctx, domain.CreateTierRequest{Name: "Neg", PriceMonthly: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestSetDefaultTierKeepsExactlyOneDefault(t *testing.T) {
	svc, db, _ := setupCatalog(t)
	ctx := context.Background()

	_, err := svc.CreateTier(ctx, domain.CreateTierRequest{Name: "Free"})
	require.NoError(t, err)
	pro, err := svc.CreateTier(ctx, domain.CreateTierRequest{Name: "Pro"})
	require.NoError(t, err)

	updated, err := svc.SetDefaultTier(ctx, pro.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)

	var defaults []domain.Tier
	require.NoError(t, db.Where("is_default = ?", true).Find(&defaults).Error)
	require.Len(t, defaults, 1)
	assert.Equal(t, "Pro", defaults[0].Name)

	_, err = svc.SetDefaultTier(ctx, "not-a-number")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.SetDefaultTier(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrTierNotFound)
}

func TestCreateFeatureValidatesCode(t *testing.T) {
	svc, _, _ := setupCatalog(t)
	ctx := context.Background()

	f, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{Code: "STATS", Name: "Server stats"})
	require.NoError(t, err)
	assert.True(t, f.IsGlobalEnabled)

	_, err = svc.CreateFeature(ctx, domain.CreateFeatureRequest{Code: "STATS", Name: "again"})
	assert.ErrorIs(t, err, domain.ErrFeatureExists)

	_, err = svc.CreateFeature(ctx, domain.CreateFeatureRequest{Code: "no spaces", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestLinkFeatureInvalidatesGuildsOnTier(t *testing.T) {
	svc, db, inv := setupCatalog(t)
	node := testutil.NewNode(t)
	cat := testutil.SeedCatalog(t, db, node)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, g := range []string{"g1", "g2"} {
		require.NoError(t, db.Create(&tenantdomain.Settings{GuildID: g, TierID: cat.Free.ID, CreatedAt: now, UpdatedAt: now}).Error)
	}
	require.NoError(t, db.Create(&tenantdomain.Settings{GuildID: "g3", TierID: cat.Pro.ID, CreatedAt: now, UpdatedAt: now}).Error)

	limit := int64(10)
	daily := domain.ResetDaily
	link, err := svc.LinkFeature(ctx, domain.LinkFeatureRequest{
		TierID:      cat.Free.ID.String(),
		FeatureID:   cat.Stats.ID.String(),
		UsageLimit:  &limit,
		ResetPeriod: &daily,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), *link.UsageLimit)
	assert.ElementsMatch(t, []string{"g1", "g2"}, inv.guilds)

	_, err = svc.LinkFeature(ctx, domain.LinkFeatureRequest{
		TierID:     cat.Free.ID.String(),
		FeatureID:  cat.Stats.ID.String(),
		UsageLimit: &limit,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuota)

	require.NoError(t, svc.UnlinkFeature(ctx, cat.Free.ID.String(), cat.Stats.ID.String()))
	assert.ErrorIs(t, svc.UnlinkFeature(ctx, cat.Free.ID.String(), cat.Stats.ID.String()), domain.ErrLinkNotFound)
}

func TestRegisterCommandUpsertsAndInvalidates(t *testing.T) {
	svc, db, inv := setupCatalog(t)
	cat := testutil.SeedCatalog(t, db, testutil.NewNode(t))
	ctx := context.Background()

	_, err := svc.RegisterCommand(ctx, domain.RegisterCommandRequest{Name: "weather", FeatureCode: "NOPE"})
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)

	cmd, err := svc.RegisterCommand(ctx, domain.RegisterCommandRequest{Name: "Ping", FeatureCode: testutil.FeatureStats})
	require.NoError(t, err)
	assert.Equal(t, "ping", cmd.Name)
	assert.Equal(t, cat.Stats.ID.String(), cmd.FeatureID)

	updated, err := svc.SetCommandMaintenance(ctx, "ping", true)
	require.NoError(t, err)
	assert.True(t, updated.IsMaintenance)

	_, err = svc.SetCommandMaintenance(ctx, "missing", true)
	assert.ErrorIs(t, err, domain.ErrCommandNotFound)

	assert.Equal(t, 2, inv.commands)

	cmds, err := svc.ListCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
}

func TestEnsureDefaultsIsIdempotent(t *testing.T) {
	svc, db, _ := setupCatalog(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDefaults(ctx))
	require.NoError(t, svc.EnsureDefaults(ctx))

	tier, err := svc.GetTierByName(ctx, DefaultTierName)
	require.NoError(t, err)
	assert.True(t, tier.IsDefault)

	var links int64
	require.NoError(t, db.Model(&domain.TierFeature{}).Count(&links).Error)
	assert.Equal(t, int64(1), links)

	features, err := svc.ListFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, DefaultFeatureCode, features[0].Code)
}
