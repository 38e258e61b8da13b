package service

import (
	"context"
	"errors"
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/guildgate/internal/catalog/repository"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/tenant/domain"
	"github.com/smallbiznis/guildgate/internal/tenant/repository"
	"github.com/smallbiznis/guildgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type invalidatorMock struct {
	mock.Mock
}

func (m *invalidatorMock) InvalidateGuild(ctx context.Context, guildID string) error {
	args := m.Called(ctx, guildID)
	return args.Error(0)
}

func (m *invalidatorMock) InvalidateGuilds(ctx context.Context, guildIDs []string) error {
	args := m.Called(ctx, guildIDs)
	return args.Error(0)
}

func (m *invalidatorMock) InvalidateCommands(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type tenantFixture struct {
	svc   domain.Service
	db    *gorm.DB
	inv   *invalidatorMock
	cat   testutil.Catalog
	clock *clock.FakeClock
}

func setupTenant(t *testing.T) tenantFixture {
	t.Helper()

	db := testutil.NewDB(t)
	cat := testutil.SeedCatalog(t, db, testutil.NewNode(t))
	inv := &invalidatorMock{}
	fc := clock.NewFakeClock(testutil.Epoch)
	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       fc,
		Repo:        repository.Provide(),
		CatalogRepo: catalogrepository.Provide(),
		Invalidator: inv,
	})
	return tenantFixture{svc: svc, db: db, inv: inv, cat: cat, clock: fc}
}

func (f tenantFixture) settings(t *testing.T, guildID string) *domain.Settings {
	t.Helper()
	var s domain.Settings
	err := f.db.Where("guild_id = ?", guildID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &s
}

func TestInitializeTenantUsesDefaultTierOnce(t *testing.T) {
	f := setupTenant(t)
	ctx := context.Background()
	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(nil).Once()

	created, err := f.svc.InitializeTenant(ctx, " g1 ")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.InitializeTenant(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, created)

	s := f.settings(t, "g1")
	require.NotNil(t, s)
	assert.Equal(t, f.cat.Free.ID, s.TierID)
	assert.Equal(t, testutil.Epoch, s.CreatedAt.UTC())
	f.inv.AssertExpectations(t)
}

func TestInitializeTenantWithoutDefaultTier(t *testing.T) {
	f := setupTenant(t)
	require.NoError(t, f.db.Model(&catalogdomain.Tier{}).Where("1 = 1").Update("is_default", false).Error)

	_, err := f.svc.InitializeTenant(context.Background(), "g1")
	assert.ErrorIs(t, err, domain.ErrDefaultTierMissing)
	assert.Nil(t, f.settings(t, "g1"))
	f.inv.AssertNotCalled(t, "InvalidateGuild", mock.Anything, mock.Anything)
}

func TestSetTierInvalidatesAfterCommit(t *testing.T) {
	f := setupTenant(t)
	ctx := context.Background()
	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(nil).Once()
	_, err := f.svc.InitializeTenant(ctx, "g1")
	require.NoError(t, err)

	var tierAtInvalidation catalogdomain.Tier
	f.inv.On("InvalidateGuild", mock.Anything, "g1").Run(func(args mock.Arguments) {
		// a separate read sees only committed state
		s := f.settings(t, "g1")
		require.NotNil(t, s)
		require.NoError(t, f.db.Where("id = ?", s.TierID).Take(&tierAtInvalidation).Error)
	}).Return(nil).Once()

	resp, err := f.svc.SetTier(ctx, "g1", testutil.TierPro)
	require.NoError(t, err)
	assert.Equal(t, testutil.TierPro, resp.TierName)
	assert.Equal(t, testutil.TierPro, tierAtInvalidation.Name)
	f.inv.AssertExpectations(t)

	_, err = f.svc.SetTier(ctx, "g1", "Enterprise")
	assert.ErrorIs(t, err, catalogdomain.ErrTierNotFound)
}

func TestSetTierCreatesMissingSettings(t *testing.T) {
	f := setupTenant(t)
	f.inv.On("InvalidateGuild", mock.Anything, "g9").Return(nil).Once()

	resp, err := f.svc.SetTier(context.Background(), "g9", testutil.TierPro)
	require.NoError(t, err)
	assert.Equal(t, f.cat.Pro.ID.String(), resp.TierID)
}

func TestInvalidationFailureKeepsCommittedWrite(t *testing.T) {
	f := setupTenant(t)
	ctx := context.Background()
	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(nil).Once()
	_, err := f.svc.InitializeTenant(ctx, "g1")
	require.NoError(t, err)

	redisDown := errors.New("redis down")
	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(redisDown).Once()

	_, err = f.svc.SetTier(ctx, "g1", testutil.TierPro)
	require.ErrorIs(t, err, redisDown)
	assert.Equal(t, f.cat.Pro.ID, f.settings(t, "g1").TierID)
}

func TestSetSubscriptionExpiry(t *testing.T) {
	f := setupTenant(t)
	ctx := context.Background()
	expires := testutil.Epoch.Add(72 * time.Hour)

	_, err := f.svc.SetSubscriptionExpiry(ctx, "g1", &expires)
	assert.ErrorIs(t, err, domain.ErrGuildNotInitialized)

	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(nil)
	_, err = f.svc.InitializeTenant(ctx, "g1")
	require.NoError(t, err)

	resp, err := f.svc.SetSubscriptionExpiry(ctx, "g1", &expires)
	require.NoError(t, err)
	require.NotNil(t, resp.SubscriptionExpiresAt)
	assert.True(t, expires.Equal(*resp.SubscriptionExpiresAt))

	resp, err = f.svc.SetSubscriptionExpiry(ctx, "g1", nil)
	require.NoError(t, err)
	assert.Nil(t, resp.SubscriptionExpiresAt)
}

func TestToggleFeature(t *testing.T) {
	f := setupTenant(t)
	ctx := context.Background()
	req := domain.ToggleFeatureRequest{GuildID: "g1", FeatureID: f.cat.Stats.ID.String(), Enabled: false}

	assert.ErrorIs(t, f.svc.ToggleFeature(ctx, req), domain.ErrGuildNotInitialized)

	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(nil)
	_, err := f.svc.InitializeTenant(ctx, "g1")
	require.NoError(t, err)

	require.NoError(t, f.svc.ToggleFeature(ctx, req))
	settings, err := f.svc.GetSettings(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, settings.Overrides, 1)
	assert.False(t, settings.Overrides[0].Enabled)

	req.FeatureID = "12345"
	assert.ErrorIs(t, f.svc.ToggleFeature(ctx, req), catalogdomain.ErrFeatureNotFound)
	req.FeatureID = "abc"
	assert.ErrorIs(t, f.svc.ToggleFeature(ctx, req), domain.ErrInvalidFeatureID)
}

func TestCommandPermissionLifecycle(t *testing.T) {
	f := setupTenant(t)
	ctx := context.Background()
	f.inv.On("InvalidateGuild", mock.Anything, "g1").Return(nil)

	err := f.svc.SetCommandPermission(ctx, domain.SetCommandPermissionRequest{
		GuildID:        "g1",
		CommandName:    "PING",
		AllowedRoleIDs: []string{" r2", "r1", "r2", ""},
		DenyRoleIDs:    []string{"r9"},
	})
	require.NoError(t, err)
	require.NotNil(t, f.settings(t, "g1"), "permission writes initialize the guild")

	settings, err := f.svc.GetSettings(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, settings.Permissions, 1)
	assert.Equal(t, "ping", settings.Permissions[0].CommandName)
	assert.Equal(t, []string{"r1", "r2"}, settings.Permissions[0].AllowedRoleIDs)
	assert.Equal(t, []string{"r9"}, settings.Permissions[0].DenyRoleIDs)

	err = f.svc.SetCommandPermission(ctx, domain.SetCommandPermissionRequest{GuildID: "g1", CommandName: "nope"})
	assert.ErrorIs(t, err, catalogdomain.ErrCommandNotFound)

	require.NoError(t, f.svc.ClearCommandPermission(ctx, "g1", "ping"))
	assert.ErrorIs(t, f.svc.ClearCommandPermission(ctx, "g1", "ping"), domain.ErrPermissionNotFound)
}
