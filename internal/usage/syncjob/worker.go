package syncjob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/guildgate/internal/cache"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/observability/metrics"
	"github.com/smallbiznis/guildgate/internal/observability/tracing"
	"github.com/smallbiznis/guildgate/internal/ratelimit"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	skipMalformedKey = "malformed_key"
	skipBadValue     = "bad_value"
	skipNonPositive  = "non_positive"
)

// ErrSyncInProgress reports that another process holds the sync lease.
var ErrSyncInProgress = errors.New("usage_sync_in_progress")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Redis    *redis.Client
	Clock    clock.Clock
	Repo     usagedomain.Repository
	Locker   *ratelimit.Locker
	Metering *config.MeteringConfigHolder `optional:"true"`
	Metrics  *metrics.SyncMetrics         `optional:"true"`
	Config   Config                       `optional:"true"`
}

// Stats summarizes one sync run.
type Stats struct {
	Pages        int   `json:"pages"`
	KeysScanned  int   `json:"keys_scanned"`
	KeysFlushed  int   `json:"keys_flushed"`
	UnitsFlushed int64 `json:"units_flushed"`
	KeysSkipped  int   `json:"keys_skipped"`
	FailedPages  int   `json:"failed_pages"`
}

// Worker drains live usage counters into the ledger. Each page is committed to the
// ledger before exactly the flushed amounts are subtracted from the counters, so
// increments landing mid-flush stay in the counter for the next run.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	redis    *redis.Client
	clock    clock.Clock
	repo     usagedomain.Repository
	locker   *ratelimit.Locker
	metering *config.MeteringConfigHolder
	metrics  *metrics.SyncMetrics
	cfg      Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:       p.DB,
		log:      p.Log.Named("usage.sync"),
		redis:    p.Redis,
		clock:    p.Clock,
		repo:     p.Repo,
		locker:   p.Locker,
		metering: p.Metering,
		metrics:  p.Metrics,
		cfg:      p.Config.withDefaults(),
	}
}

func (w *Worker) config() Config {
	if w.metering != nil {
		return FromMetering(w.metering.Get())
	}
	return w.cfg
}

func (w *Worker) RunForever(ctx context.Context) {
	interval := w.config().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				w.log.Debug("usage sync skipped, lease held elsewhere")
			} else if ctx.Err() == nil {
				w.log.Warn("usage sync run failed", zap.Error(err))
			}
		}

		if next := w.config().PollInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce flushes every counter visible to one full SCAN. Page failures do not stop the
// scan; they are joined into the returned error and retried by the next run.
func (w *Worker) RunOnce(parentCtx context.Context) (stats Stats, err error) {
	cfg := w.config()
	ctx, cancel := context.WithTimeout(parentCtx, cfg.RunTimeout)
	defer cancel()

	token, ok, err := w.locker.TryLock(ctx, cache.UsageSyncLockKey, cfg.LockTTL)
	if err != nil {
		return stats, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !ok {
		w.metrics.ObserveRun(metrics.SyncOutcomeSkipped, 0)
		return stats, ErrSyncInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.locker.Release(releaseCtx, cache.UsageSyncLockKey, token); err != nil {
			w.log.Warn("release sync lease failed", zap.Error(err))
		}
	}()

	started := w.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "usage.sync")
	w.log.Info("usage.sync.start", zap.Int64("page_size", cfg.PageSize))
	defer func() {
		elapsed := w.clock.Now().Sub(started)
		outcome := metrics.SyncOutcomeOK
		if err != nil {
			outcome = metrics.SyncOutcomeFailed
		}
		w.metrics.ObserveRun(outcome, elapsed)
		span.SetAttributes(
			attribute.Int("usage.sync.pages", stats.Pages),
			attribute.Int("usage.sync.keys", stats.KeysFlushed),
			attribute.Int64("usage.sync.flushed_units", stats.UnitsFlushed),
		)
		tracing.EndSpan(span, err)
		w.log.Info("usage.sync.finish",
			zap.Int("pages", stats.Pages),
			zap.Int("keys_scanned", stats.KeysScanned),
			zap.Int("keys_flushed", stats.KeysFlushed),
			zap.Int64("units_flushed", stats.UnitsFlushed),
			zap.Int("keys_skipped", stats.KeysSkipped),
			zap.Int("failed_pages", stats.FailedPages),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	}()

	var errs []error
	var cursor uint64
	for {
		keys, next, scanErr := w.redis.Scan(ctx, cursor, cache.UsageKeyPattern, cfg.PageSize).Result()
		if scanErr != nil {
			errs = append(errs, fmt.Errorf("scan usage counters: %w", scanErr))
			break
		}

		if len(keys) > 0 {
			stats.Pages++
			stats.KeysScanned += len(keys)
			if pageErr := w.flushPage(ctx, keys, &stats); pageErr != nil {
				stats.FailedPages++
				w.metrics.IncPageError(pageErr)
				w.log.Warn("usage sync page failed", zap.Int("keys", len(keys)), zap.Error(pageErr))
				errs = append(errs, pageErr)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return stats, errors.Join(errs...)
}

type pendingFlush struct {
	key   usagedomain.CounterKey
	raw   string
	value int64
}

func (w *Worker) flushPage(ctx context.Context, keys []string, stats *Stats) error {
	keys = dedupe(keys)

	values, err := w.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("read usage counters: %w", err)
	}

	pending := make([]pendingFlush, 0, len(keys))
	for i, raw := range keys {
		if values[i] == nil {
			continue
		}
		value, ok := parseCounter(values[i])
		if !ok {
			w.skip(stats, raw, skipBadValue)
			continue
		}
		if value <= 0 {
			w.metrics.IncKeySkipped(skipNonPositive)
			stats.KeysSkipped++
			continue
		}
		key, err := usagedomain.ParseCounterKey(raw)
		if err != nil {
			w.skip(stats, raw, skipMalformedKey)
			continue
		}
		pending = append(pending, pendingFlush{key: key, raw: raw, value: value})
	}
	if len(pending) == 0 {
		return nil
	}

	entries, err := w.buildEntries(ctx, pending)
	if err != nil {
		return err
	}

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return w.repo.AddUsage(ctx, tx, entries)
	})
	if err != nil {
		return fmt.Errorf("upsert usage ledger: %w", err)
	}

	// the run deadline must not strand a committed page between its two halves
	decCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var units int64
	_, err = w.redis.Pipelined(decCtx, func(pipe redis.Pipeliner) error {
		for _, p := range pending {
			pipe.DecrBy(decCtx, p.raw, p.value)
			units += p.value
		}
		return nil
	})
	if err != nil {
		// the ledger already holds these units; the next run would count them again
		w.log.Error("ledger committed but counters not decremented",
			zap.Int("keys", len(pending)),
			zap.Int64("units", units),
			zap.Error(err),
		)
		return fmt.Errorf("decrement usage counters: %w", err)
	}

	stats.KeysFlushed += len(pending)
	stats.UnitsFlushed += units
	w.metrics.AddFlushed(len(pending), units)
	return nil
}

func (w *Worker) buildEntries(ctx context.Context, pending []pendingFlush) ([]usagedomain.LedgerEntry, error) {
	guilds := make([]string, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		if _, ok := seen[p.key.GuildID]; ok {
			continue
		}
		seen[p.key.GuildID] = struct{}{}
		guilds = append(guilds, p.key.GuildID)
	}

	rows, err := w.repo.ListResetPeriods(ctx, w.db, guilds)
	if err != nil {
		return nil, fmt.Errorf("resolve reset periods: %w", err)
	}
	periods := make(map[string]catalogdomain.ResetPeriod, len(rows))
	for _, row := range rows {
		periods[row.GuildID+":"+row.FeatureID.String()] = catalogdomain.ResetPeriod(row.ResetPeriod)
	}

	now := w.clock.Now().UTC()
	entries := make([]usagedomain.LedgerEntry, 0, len(pending))
	for _, p := range pending {
		var period *catalogdomain.ResetPeriod
		if rp, ok := periods[p.key.GuildID+":"+p.key.FeatureID.String()]; ok {
			period = &rp
		}
		entries = append(entries, usagedomain.LedgerEntry{
			GuildID:     p.key.GuildID,
			FeatureID:   p.key.FeatureID,
			PeriodStart: p.key.PeriodStart,
			PeriodEnd:   usagedomain.InferPeriodEnd(p.key.PeriodStart, period),
			UsageCount:  p.value,
			UpdatedAt:   now,
		})
	}
	return entries, nil
}

func (w *Worker) skip(stats *Stats, key, reason string) {
	stats.KeysSkipped++
	w.metrics.IncKeySkipped(reason)
	w.log.Warn("usage counter skipped", zap.String("key", key), zap.String("reason", reason))
}

func parseCounter(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
