package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultLedgerLimit = 100

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) AddUsage(ctx context.Context, db *gorm.DB, entries []usagedomain.LedgerEntry) error {
	for i := range entries {
		entry := entries[i]
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}, {Name: "feature_id"}, {Name: "period_start"}},
			DoUpdates: clause.Assignments(map[string]any{
				"usage_count": gorm.Expr("guild_feature_usage.usage_count + ?", entry.UsageCount),
				"updated_at":  entry.UpdatedAt,
			}),
		}).Create(&entry).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, guildID string, featureID snowflake.ID, periodStart time.Time) (*usagedomain.LedgerEntry, error) {
	var entry usagedomain.LedgerEntry
	err := db.WithContext(ctx).
		Where("guild_id = ? AND feature_id = ? AND period_start = ?", guildID, featureID, periodStart.UTC()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) ListLedger(ctx context.Context, db *gorm.DB, filter usagedomain.LedgerFilter) ([]usagedomain.LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLedgerLimit
	}

	stmt := db.WithContext(ctx).Where("guild_id = ?", filter.GuildID)
	if filter.FeatureID != nil {
		stmt = stmt.Where("feature_id = ?", *filter.FeatureID)
	}
	if filter.From != nil {
		stmt = stmt.Where("period_start >= ?", filter.From.UTC())
	}

	var entries []usagedomain.LedgerEntry
	if err := stmt.Order("period_start DESC").Order("feature_id ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListResetPeriods(ctx context.Context, db *gorm.DB, guildIDs []string) ([]usagedomain.GuildFeaturePeriod, error) {
	if len(guildIDs) == 0 {
		return nil, nil
	}
	var rows []usagedomain.GuildFeaturePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT gs.guild_id, tf.feature_id, tf.reset_period
		 FROM guild_settings gs
		 JOIN tier_features tf ON tf.tier_id = gs.tier_id
		 WHERE gs.guild_id IN ? AND tf.reset_period IS NOT NULL`,
		guildIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
