package syncjob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/cache"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	"github.com/smallbiznis/guildgate/internal/testutil"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	usagerepository "github.com/smallbiznis/guildgate/internal/usage/repository"
	usageservice "github.com/smallbiznis/guildgate/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errLedgerDown = errors.New("ledger down")

type failingRepo struct {
	usagedomain.Repository
}

func (failingRepo) AddUsage(context.Context, *gorm.DB, []usagedomain.LedgerEntry) error {
	return errLedgerDown
}

type syncFixture struct {
	db    *gorm.DB
	mr    *miniredis.Miniredis
	meter usagedomain.Meter
	cat   testutil.Catalog
	clock *clock.FakeClock
	build func(repo usagedomain.Repository) *Worker
}

func setupSync(t *testing.T) syncFixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	cat := testutil.SeedCatalog(t, db, testutil.NewNode(t))
	fc := clock.NewFakeClock(testutil.Epoch)
	repo := usagerepository.Provide()

	meter := usageservice.New(usageservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Redis:    rdb,
		Clock:    fc,
		Repo:     repo,
		Metering: config.StaticMeteringConfig(config.DefaultMeteringConfig()),
	})
	build := func(r usagedomain.Repository) *Worker {
		return NewWorker(Params{
			DB:     db,
			Log:    zap.NewNop(),
			Redis:  rdb,
			Clock:  fc,
			Repo:   r,
			Locker: ratelimit.NewLocker(rdb),
			Config: Config{PageSize: 2, RunTimeout: 10 * time.Second},
		})
	}
	return syncFixture{db: db, mr: mr, meter: meter, cat: cat, clock: fc, build: build}
}

func (f syncFixture) ledgerTotal(t *testing.T, guildID string, featureID snowflake.ID) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Model(&usagedomain.LedgerEntry{}).
		Where("guild_id = ? AND feature_id = ?", guildID, featureID).
		Select("COALESCE(SUM(usage_count), 0)").
		Scan(&total).Error)
	return total
}

func (f syncFixture) live(t *testing.T, guildID string, featureID snowflake.ID) int64 {
	t.Helper()
	v, err := f.meter.GetUsage(context.Background(), guildID, featureID, catalogdomain.ResetMonthly)
	require.NoError(t, err)
	return v
}

func TestRunOnceMovesCountersIntoLedger(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&tenantdomain.Settings{
		GuildID: "g1", TierID: f.cat.Pro.ID, CreatedAt: testutil.Epoch, UpdatedAt: testutil.Epoch,
	}).Error)

	for _, g := range []string{"g1", "g2", "g3"} {
		_, err := f.meter.IncrementUsage(ctx, g, f.cat.Stats.ID, catalogdomain.ResetMonthly, 4)
		require.NoError(t, err)
	}

	stats, err := f.build(usagerepository.Provide()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.KeysFlushed)
	assert.Equal(t, int64(12), stats.UnitsFlushed)
	assert.Zero(t, stats.FailedPages)

	for _, g := range []string{"g1", "g2", "g3"} {
		assert.Equal(t, int64(4), f.ledgerTotal(t, g, f.cat.Stats.ID))
		assert.Zero(t, f.live(t, g, f.cat.Stats.ID))
	}

	var entry usagedomain.LedgerEntry
	require.NoError(t, f.db.Where("guild_id = ?", "g1").Take(&entry).Error)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), entry.PeriodStart.UTC())
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), entry.PeriodEnd.UTC())

	total, err := f.meter.CurrentUsage(ctx, "g1", f.cat.Stats.ID, catalogdomain.ResetMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	// zeroed counters are left for their TTL and never flushed again
	stats, err = f.build(usagerepository.Provide()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.KeysFlushed)
	assert.Equal(t, int64(4), f.ledgerTotal(t, "g1", f.cat.Stats.ID))
}

func TestRunOnceConservesConcurrentIncrements(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	worker := f.build(usagerepository.Provide())

	const (
		writers   = 4
		perWriter = 50
	)
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guild := []string{"g1", "g2"}[w%2]
			for range perWriter {
				if _, err := f.meter.IncrementUsage(ctx, guild, f.cat.Stats.ID, catalogdomain.ResetMonthly, 1); err != nil {
					t.Errorf("increment: %v", err)
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			_, err := worker.RunOnce(ctx)
			require.NoError(t, err)
		}
	}
	_, err := worker.RunOnce(ctx)
	require.NoError(t, err)

	var sum int64
	for _, g := range []string{"g1", "g2"} {
		sum += f.ledgerTotal(t, g, f.cat.Stats.ID) + f.live(t, g, f.cat.Stats.ID)
		assert.Zero(t, f.live(t, g, f.cat.Stats.ID))
	}
	assert.Equal(t, int64(writers*perWriter), sum)
}

func TestRunOnceFailedPageKeepsCounters(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()

	_, err := f.meter.IncrementUsage(ctx, "g1", f.cat.Stats.ID, catalogdomain.ResetMonthly, 7)
	require.NoError(t, err)

	stats, err := f.build(failingRepo{usagerepository.Provide()}).RunOnce(ctx)
	require.ErrorIs(t, err, errLedgerDown)
	assert.Equal(t, 1, stats.FailedPages)
	assert.Equal(t, int64(7), f.live(t, "g1", f.cat.Stats.ID))
	assert.Zero(t, f.ledgerTotal(t, "g1", f.cat.Stats.ID))

	// the lease was released so the next run retries the page
	stats, err = f.build(usagerepository.Provide()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.UnitsFlushed)
	assert.Equal(t, int64(7), f.ledgerTotal(t, "g1", f.cat.Stats.ID))
}

func TestRunOnceSkipsUnparseableCounters(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()

	require.NoError(t, f.mr.Set("usage:oops", "5"))
	require.NoError(t, f.mr.Set("usage:g1:abc:2026-03-01", "5"))
	require.NoError(t, f.mr.Set("usage:g1:123:2026-03-01", "many"))
	_, err := f.meter.IncrementUsage(ctx, "g1", f.cat.Stats.ID, catalogdomain.ResetMonthly, 2)
	require.NoError(t, err)

	stats, err := f.build(usagerepository.Provide()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.KeysSkipped)
	assert.Equal(t, 1, stats.KeysFlushed)
	assert.True(t, f.mr.Exists("usage:oops"))
	assert.Equal(t, int64(2), f.ledgerTotal(t, "g1", f.cat.Stats.ID))
}

func TestRunOnceYieldsToLeaseHolder(t *testing.T) {
	f := setupSync(t)
	require.NoError(t, f.mr.Set(cache.UsageSyncLockKey, "other-process"))

	_, err := f.build(usagerepository.Provide()).RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, f.mr.Exists(cache.UsageSyncLockKey))
}

func TestRunOnceWithNothingToDo(t *testing.T) {
	f := setupSync(t)

	stats, err := f.build(usagerepository.Provide()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.False(t, f.mr.Exists(cache.UsageSyncLockKey))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RunTimeout: time.Minute, LockTTL: time.Second}.withDefaults()
	assert.Equal(t, int64(100), cfg.PageSize)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)

	fromMetering := FromMetering(config.DefaultMeteringConfig())
	assert.Equal(t, time.Minute, fromMetering.PollInterval)
}
