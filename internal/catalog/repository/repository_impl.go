package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateTier(ctx context.Context, db *gorm.DB, tier *domain.Tier) error {
	return db.WithContext(ctx).Create(tier).Error
}

func (r *repo) FindTierByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tier, error) {
	return firstOrNil[domain.Tier](db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindTierByName(ctx context.Context, db *gorm.DB, name string) (*domain.Tier, error) {
	return firstOrNil[domain.Tier](db.WithContext(ctx).Where("name = ?", name))
}

func (r *repo) FindDefaultTier(ctx context.Context, db *gorm.DB) (*domain.Tier, error) {
	return firstOrNil[domain.Tier](db.WithContext(ctx).Where("is_default = ? AND is_active = ?", true, true))
}

func (r *repo) ListTiers(ctx context.Context, db *gorm.DB) ([]domain.Tier, error) {
	var tiers []domain.Tier
	err := db.WithContext(ctx).Order("price_monthly ASC, name ASC").Find(&tiers).Error
	return tiers, err
}

func (r *repo) ClearDefaultTier(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&domain.Tier{}).
		Where("is_default = ?", true).
		Updates(map[string]any{"is_default": false, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) MarkDefaultTier(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Model(&domain.Tier{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_default": true, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) CreateFeature(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Create(feature).Error
}

func (r *repo) FindFeatureByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Feature, error) {
	return firstOrNil[domain.Feature](db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindFeatureByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Feature, error) {
	return firstOrNil[domain.Feature](db.WithContext(ctx).Where("code = ?", code))
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB) ([]domain.Feature, error) {
	var features []domain.Feature
	err := db.WithContext(ctx).Order("code ASC").Find(&features).Error
	return features, err
}

func (r *repo) SetFeatureGlobalEnabled(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool) error {
	return db.WithContext(ctx).Model(&domain.Feature{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_global_enabled": enabled, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) UpsertTierFeature(ctx context.Context, db *gorm.DB, link *domain.TierFeature) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tier_id"}, {Name: "feature_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"usage_limit", "reset_period"}),
	}).Create(link).Error
}

func (r *repo) DeleteTierFeature(ctx context.Context, db *gorm.DB, tierID, featureID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).
		Where("tier_id = ? AND feature_id = ?", tierID, featureID).
		Delete(&domain.TierFeature{})
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ListTierQuotas(ctx context.Context, db *gorm.DB, tierID snowflake.ID) ([]domain.TierFeatureQuota, error) {
	var rows []domain.TierFeatureQuota
	err := db.WithContext(ctx).Raw(
		`SELECT tf.feature_id, f.code AS feature_code, tf.usage_limit, tf.reset_period
		 FROM tier_features tf
		 JOIN system_features f ON f.id = tf.feature_id
		 WHERE tf.tier_id = ?
		 ORDER BY f.code`,
		tierID,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) UpsertCommand(ctx context.Context, db *gorm.DB, cmd *domain.Command) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"feature_id", "description", "is_maintenance", "updated_at"}),
	}).Create(cmd).Error
}

func (r *repo) FindCommand(ctx context.Context, db *gorm.DB, name string) (*domain.Command, error) {
	return firstOrNil[domain.Command](db.WithContext(ctx).Where("name = ?", name))
}

func (r *repo) SetCommandMaintenance(ctx context.Context, db *gorm.DB, name string, maintenance bool) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Command{}).
		Where("name = ?", name).
		Updates(map[string]any{"is_maintenance": maintenance, "updated_at": time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ListCommandBindings(ctx context.Context, db *gorm.DB) ([]domain.CommandBinding, error) {
	var rows []domain.CommandBinding
	err := db.WithContext(ctx).Raw(
		`SELECT c.name, c.feature_id, f.code AS feature_code, c.is_maintenance, f.is_global_enabled
		 FROM system_commands c
		 JOIN system_features f ON f.id = c.feature_id
		 ORDER BY c.name`,
	).Scan(&rows).Error
	return rows, err
}

func firstOrNil[T any](stmt *gorm.DB) (*T, error) {
	var out T
	err := stmt.Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
