package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	SyncReasonDeadlineExceeded     = "deadline_exceeded"
	SyncReasonDBLockTimeout        = "db_lock_timeout"
	SyncReasonSerializationFailure = "serialization_failure"
	SyncReasonDB                   = "db"
	SyncReasonCache                = "cache"
	SyncReasonUnknown              = "unknown"
)

const (
	SyncOutcomeOK      = "ok"
	SyncOutcomeFailed  = "failed"
	SyncOutcomeSkipped = "skipped"
)

// SyncMetrics tracks the write-behind flush of live usage counters into the ledger.
type SyncMetrics struct {
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	pageErrors   *prometheus.CounterVec
	keysFlushed  prometheus.Counter
	unitsFlushed prometheus.Counter
	keysSkipped  *prometheus.CounterVec
}

// NewSyncMetrics registers the sync job collectors on registerer.
func NewSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "guildgate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "guildgate_usage_sync_runs_total",
			Help:        "Usage sync runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "guildgate_usage_sync_duration_seconds",
			Help:        "Wall time of one full scan of live usage counters.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
		pageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "guildgate_usage_sync_page_errors_total",
			Help:        "Pages whose ledger upsert failed and were left for the next run.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		keysFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "guildgate_usage_sync_keys_flushed_total",
			Help:        "Live counters folded into the ledger.",
			ConstLabels: constLabels,
		}),
		unitsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "guildgate_usage_sync_units_flushed_total",
			Help:        "Usage units moved from live counters into the ledger.",
			ConstLabels: constLabels,
		}),
		keysSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "guildgate_usage_sync_keys_skipped_total",
			Help:        "Scanned keys left untouched, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}

	registerer.MustRegister(m.runs, m.duration, m.pageErrors, m.keysFlushed, m.unitsFlushed, m.keysSkipped)
	return m
}

func (m *SyncMetrics) ObserveRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome != SyncOutcomeSkipped {
		m.duration.Observe(elapsed.Seconds())
	}
}

func (m *SyncMetrics) IncPageError(err error) {
	if m == nil || err == nil {
		return
	}
	m.pageErrors.WithLabelValues(ClassifySyncError(err)).Inc()
}

func (m *SyncMetrics) AddFlushed(keys int, units int64) {
	if m == nil {
		return
	}
	if keys > 0 {
		m.keysFlushed.Add(float64(keys))
	}
	if units > 0 {
		m.unitsFlushed.Add(float64(units))
	}
}

func (m *SyncMetrics) IncKeySkipped(reason string) {
	if m == nil {
		return
	}
	m.keysSkipped.WithLabelValues(reason).Inc()
}

// ClassifySyncError maps flush failures to low-cardinality reasons.
func ClassifySyncError(err error) string {
	switch {
	case err == nil:
		return SyncReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SyncReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return SyncReasonDBLockTimeout
	case hasPGCode(err, "40001"), hasPGCode(err, "40P01"):
		return SyncReasonSerializationFailure
	case isRedisError(err):
		return SyncReasonCache
	case isDBError(err):
		return SyncReasonDB
	default:
		return SyncReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isRedisError(err error) bool {
	var redisErr redis.Error
	return errors.As(err, &redisErr) || errors.Is(err, redis.ErrClosed)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
