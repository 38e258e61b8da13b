package service

import (
	"context"
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/guildgate/internal/catalog/repository"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/subscription/domain"
	"github.com/smallbiznis/guildgate/internal/subscription/repository"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/guildgate/internal/tenant/repository"
	"github.com/smallbiznis/guildgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type guildInvalidator struct {
	guilds []string
}

func (g *guildInvalidator) InvalidateGuild(_ context.Context, guildID string) error {
	g.guilds = append(g.guilds, guildID)
	return nil
}

func (g *guildInvalidator) InvalidateGuilds(_ context.Context, guildIDs []string) error {
	g.guilds = append(g.guilds, guildIDs...)
	return nil
}

func (g *guildInvalidator) InvalidateCommands(context.Context) error { return nil }

func setupSubscription(t *testing.T) (domain.Service, *gorm.DB, *guildInvalidator, testutil.Catalog) {
	t.Helper()

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	cat := testutil.SeedCatalog(t, db, node)
	inv := &guildInvalidator{}
	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(testutil.Epoch),
		Repo:        repository.Provide(),
		CatalogRepo: catalogrepository.Provide(),
		TenantRepo:  tenantrepository.Provide(),
		Invalidator: inv,
	})
	return svc, db, inv, cat
}

func TestActiveSubscriptionMovesGuildTier(t *testing.T) {
	svc, db, inv, cat := setupSubscription(t)
	ctx := context.Background()
	ends := testutil.Epoch.AddDate(0, 1, 0)

	sub, err := svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{
		GuildID:  "g1",
		TierName: testutil.TierPro,
		EndsAt:   &ends,
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusActive), sub.Status)
	assert.Equal(t, testutil.TierPro, sub.TierName)
	assert.Equal(t, testutil.Epoch, sub.StartsAt)
	assert.Equal(t, []string{"g1"}, inv.guilds)

	var settings tenantdomain.Settings
	require.NoError(t, db.Where("guild_id = ?", "g1").Take(&settings).Error)
	assert.Equal(t, cat.Pro.ID, settings.TierID)
	require.NotNil(t, settings.SubscriptionExpiresAt)
	assert.True(t, ends.Equal(*settings.SubscriptionExpiresAt))

	list, err := svc.ListSubscriptions(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sub.ID, list[0].ID)
}

func TestHistoricalSubscriptionLeavesGuildAlone(t *testing.T) {
	svc, db, inv, cat := setupSubscription(t)
	ctx := context.Background()

	_, err := svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{GuildID: "g1", TierName: testutil.TierPro, Status: "expired"})
	assert.ErrorIs(t, err, tenantdomain.ErrGuildNotInitialized)

	require.NoError(t, db.Create(&tenantdomain.Settings{
		GuildID: "g1", TierID: cat.Free.ID, CreatedAt: testutil.Epoch, UpdatedAt: testutil.Epoch,
	}).Error)
	sub, err := svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{GuildID: "g1", TierName: testutil.TierPro, Status: "canceled"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCanceled), sub.Status)
	assert.Empty(t, inv.guilds)

	var settings tenantdomain.Settings
	require.NoError(t, db.Where("guild_id = ?", "g1").Take(&settings).Error)
	assert.Equal(t, cat.Free.ID, settings.TierID)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	svc, _, _, _ := setupSubscription(t)
	ctx := context.Background()
	before := testutil.Epoch.Add(-time.Hour)

	_, err := svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{GuildID: "g1", TierName: "Gold"})
	assert.ErrorIs(t, err, catalogdomain.ErrTierNotFound)
	_, err = svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{GuildID: "g1", TierName: testutil.TierPro, EndsAt: &before})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
	_, err = svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{GuildID: "g1", TierName: testutil.TierPro, Status: "PAUSED"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{TierName: testutil.TierPro})
	assert.ErrorIs(t, err, domain.ErrInvalidGuildID)
}

func TestRecordPayment(t *testing.T) {
	svc, _, _, _ := setupSubscription(t)
	ctx := context.Background()

	sub, err := svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{GuildID: "g1", TierName: testutil.TierPro})
	require.NoError(t, err)

	pay, err := svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		GuildID:        "g1",
		SubscriptionID: sub.ID,
		Amount:         "4.99",
		Currency:       "idr",
		Provider:       "manual",
		ProviderTxID:   "tx-1",
		Status:         "success",
	})
	require.NoError(t, err)
	assert.Equal(t, "4.99", pay.Amount)
	assert.Equal(t, "IDR", pay.Currency)
	require.NotNil(t, pay.SubscriptionID)
	assert.Equal(t, sub.ID, *pay.SubscriptionID)
	require.NotNil(t, pay.PaidAt)
	assert.Equal(t, testutil.Epoch, *pay.PaidAt)

	pending, err := svc.RecordPayment(ctx, domain.RecordPaymentRequest{GuildID: "g1", Amount: "10", Provider: "manual"})
	require.NoError(t, err)
	assert.Equal(t, "10.00", pending.Amount)
	assert.Equal(t, "USD", pending.Currency)
	assert.Equal(t, string(domain.PaymentPending), pending.Status)
	assert.Nil(t, pending.PaidAt)

	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{GuildID: "g2", SubscriptionID: sub.ID, Amount: "1", Provider: "manual"})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{GuildID: "g1", Amount: "1.005", Provider: "manual"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{GuildID: "g1", Amount: "-1", Provider: "manual"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{GuildID: "g1", Amount: "1", Provider: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)
	_, err = svc.RecordPayment(ctx, domain.RecordPaymentRequest{GuildID: "g1", Amount: "1", Provider: "manual", Currency: "RUPIAH"})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
}
