package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSettings(ctx context.Context, db *gorm.DB, guildID string) (*domain.Settings, error) {
	var s domain.Settings
	err := db.WithContext(ctx).Where("guild_id = ?", guildID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repo) FindSettingsWithTier(ctx context.Context, db *gorm.DB, guildID string) (*domain.SettingsWithTier, error) {
	var rows []domain.SettingsWithTier
	err := db.WithContext(ctx).Raw(
		`SELECT gs.guild_id, gs.tier_id, t.name AS tier_name, gs.subscription_expires_at, gs.created_at
		 FROM guild_settings gs
		 JOIN subscription_tiers t ON t.id = gs.tier_id
		 WHERE gs.guild_id = ?`,
		guildID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) InsertSettingsIfAbsent(ctx context.Context, db *gorm.DB, settings *domain.Settings) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "guild_id"}}, DoNothing: true}).
		Create(settings)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateTier(ctx context.Context, db *gorm.DB, guildID string, tierID snowflake.ID) error {
	return db.WithContext(ctx).Model(&domain.Settings{}).
		Where("guild_id = ?", guildID).
		Updates(map[string]any{"tier_id": tierID, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) UpdateSubscriptionExpiry(ctx context.Context, db *gorm.DB, guildID string, expiresAt *time.Time) error {
	return db.WithContext(ctx).Model(&domain.Settings{}).
		Where("guild_id = ?", guildID).
		Updates(map[string]any{"subscription_expires_at": expiresAt, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) ListGuildIDsByTier(ctx context.Context, db *gorm.DB, tierID snowflake.ID) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Settings{}).
		Where("tier_id = ?", tierID).
		Order("guild_id").
		Pluck("guild_id", &ids).Error
	return ids, err
}

func (r *repo) UpsertOverride(ctx context.Context, db *gorm.DB, override *domain.FeatureOverride) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "feature_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "updated_at"}),
	}).Create(override).Error
}

func (r *repo) ListDisabledFeatureIDs(ctx context.Context, db *gorm.DB, guildID string) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.FeatureOverride{}).
		Where("guild_id = ? AND is_enabled = ?", guildID, false).
		Order("feature_id").
		Pluck("feature_id", &ids).Error
	return ids, err
}

func (r *repo) ListOverrides(ctx context.Context, db *gorm.DB, guildID string) ([]domain.FeatureOverride, error) {
	var items []domain.FeatureOverride
	err := db.WithContext(ctx).Where("guild_id = ?", guildID).Order("feature_id").Find(&items).Error
	return items, err
}

func (r *repo) UpsertPermission(ctx context.Context, db *gorm.DB, perm *domain.CommandPermission) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "command_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"allowed_role_ids", "allowed_channel_ids", "deny_role_ids", "updated_at"}),
	}).Create(perm).Error
}

func (r *repo) DeletePermission(ctx context.Context, db *gorm.DB, guildID, commandName string) (bool, error) {
	res := db.WithContext(ctx).
		Where("guild_id = ? AND command_name = ?", guildID, commandName).
		Delete(&domain.CommandPermission{})
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ListPermissions(ctx context.Context, db *gorm.DB, guildID string) ([]domain.CommandPermission, error) {
	var items []domain.CommandPermission
	err := db.WithContext(ctx).Where("guild_id = ?", guildID).Order("command_name").Find(&items).Error
	return items, err
}
