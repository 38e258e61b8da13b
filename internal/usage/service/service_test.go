package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/testutil"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"github.com/smallbiznis/guildgate/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const statsFeature = snowflake.ID(1789)

func setupMeter(t *testing.T) (usagedomain.Meter, *gorm.DB, *miniredis.Miniredis, *clock.FakeClock) {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	fc := clock.NewFakeClock(testutil.Epoch)
	meter := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Redis:    rdb,
		Clock:    fc,
		Repo:     repository.Provide(),
		Metering: config.StaticMeteringConfig(config.DefaultMeteringConfig()),
	})
	return meter, db, mr, fc
}

func TestIncrementSetsTTLOnlyWhenCounterOpens(t *testing.T) {
	meter, _, mr, _ := setupMeter(t)
	ctx := context.Background()
	key := "usage:g1:1789:2026-03-01"
	monthEnd := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	counterTTL := monthEnd.Sub(testutil.Epoch) + config.MinCounterGrace

	v, err := meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetMonthly, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, counterTTL, mr.TTL(key))

	mr.FastForward(24 * time.Hour)
	v, err = meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetMonthly, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
	assert.Equal(t, counterTTL-24*time.Hour, mr.TTL(key))
}

func TestCounterOutlivesItsPeriod(t *testing.T) {
	meter, _, mr, fc := setupMeter(t)
	ctx := context.Background()
	grace := config.DefaultMeteringConfig().CounterGrace

	_, err := meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetYearly, 7)
	require.NoError(t, err)
	_, err = meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetDaily, 2)
	require.NoError(t, err)

	yearEnd := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, yearEnd.Sub(testutil.Epoch)+grace, mr.TTL("usage:g1:1789:2026-01-01"))

	// a sync outage longer than a month, still inside the yearly period
	mr.FastForward(40 * 24 * time.Hour)
	fc.Advance(40 * 24 * time.Hour)
	live, err := meter.GetUsage(ctx, "g1", statsFeature, catalogdomain.ResetYearly)
	require.NoError(t, err)
	assert.Equal(t, int64(7), live)

	// a daily delta left unflushed survives a full grace period after its day closed
	mr.FastForward(grace - 40*24*time.Hour)
	raw, err := mr.Get("usage:g1:1789:2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, "2", raw)
}

func TestIncrementUsesPeriodBucket(t *testing.T) {
	meter, _, mr, fc := setupMeter(t)
	ctx := context.Background()

	_, err := meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetDaily, 1)
	require.NoError(t, err)
	_, err = meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetYearly, 1)
	require.NoError(t, err)
	assert.True(t, mr.Exists("usage:g1:1789:2026-03-14"))
	assert.True(t, mr.Exists("usage:g1:1789:2026-01-01"))

	fc.Advance(24 * time.Hour)
	live, err := meter.GetUsage(ctx, "g1", statsFeature, catalogdomain.ResetDaily)
	require.NoError(t, err)
	assert.Zero(t, live)
}

func TestIncrementRejectsBadInput(t *testing.T) {
	meter, _, _, _ := setupMeter(t)
	ctx := context.Background()

	_, err := meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetMonthly, 0)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidAmount)
	_, err = meter.IncrementUsage(ctx, "g:1", statsFeature, catalogdomain.ResetMonthly, 1)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidGuildID)
	_, err = meter.IncrementUsage(ctx, "g1", 0, catalogdomain.ResetMonthly, 1)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidFeatureID)
	_, err = meter.IncrementUsage(ctx, "g1", statsFeature, "HOURLY", 1)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidPeriod)
}

func TestCurrentUsageAddsLedger(t *testing.T) {
	meter, db, _, _ := setupMeter(t)
	ctx := context.Background()
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&usagedomain.LedgerEntry{
		GuildID:     "g1",
		FeatureID:   statsFeature,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
		UsageCount:  10,
		UpdatedAt:   testutil.Epoch,
	}).Error)
	_, err := meter.IncrementUsage(ctx, "g1", statsFeature, catalogdomain.ResetMonthly, 4)
	require.NoError(t, err)

	live, err := meter.GetUsage(ctx, "g1", statsFeature, catalogdomain.ResetMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(4), live)

	total, err := meter.CurrentUsage(ctx, "g1", statsFeature, catalogdomain.ResetMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(14), total)

	// a daily bucket does not see the monthly ledger row
	total, err = meter.CurrentUsage(ctx, "g1", statsFeature, catalogdomain.ResetDaily)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestListLedgerFilters(t *testing.T) {
	meter, db, _, _ := setupMeter(t)
	ctx := context.Background()

	for i, start := range []time.Time{
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, db.Create(&usagedomain.LedgerEntry{
			GuildID:     "g1",
			FeatureID:   statsFeature,
			PeriodStart: start,
			PeriodEnd:   start.AddDate(0, 1, 0),
			UsageCount:  int64(i + 1),
			UpdatedAt:   testutil.Epoch,
		}).Error)
	}

	entries, err := meter.ListLedger(ctx, usagedomain.ListLedgerRequest{GuildID: "g1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[0].UsageCount, "newest period first")

	entries, err = meter.ListLedger(ctx, usagedomain.ListLedgerRequest{GuildID: "g1", From: "2026-02-01", FeatureID: "1789"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = meter.ListLedger(ctx, usagedomain.ListLedgerRequest{GuildID: "g1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = meter.ListLedger(ctx, usagedomain.ListLedgerRequest{GuildID: "g1", From: "March"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidFrom)
	_, err = meter.ListLedger(ctx, usagedomain.ListLedgerRequest{GuildID: "g1", FeatureID: "-4"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidFeatureID)
}
