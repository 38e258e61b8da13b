package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CreateTier(ctx context.Context, db *gorm.DB, tier *Tier) error
	FindTierByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tier, error)
	FindTierByName(ctx context.Context, db *gorm.DB, name string) (*Tier, error)
	FindDefaultTier(ctx context.Context, db *gorm.DB) (*Tier, error)
	ListTiers(ctx context.Context, db *gorm.DB) ([]Tier, error)
	ClearDefaultTier(ctx context.Context, db *gorm.DB) error
	MarkDefaultTier(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	CreateFeature(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindFeatureByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Feature, error)
	FindFeatureByCode(ctx context.Context, db *gorm.DB, code string) (*Feature, error)
	ListFeatures(ctx context.Context, db *gorm.DB) ([]Feature, error)
	SetFeatureGlobalEnabled(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool) error

	UpsertTierFeature(ctx context.Context, db *gorm.DB, link *TierFeature) error
	DeleteTierFeature(ctx context.Context, db *gorm.DB, tierID, featureID snowflake.ID) (bool, error)
	ListTierQuotas(ctx context.Context, db *gorm.DB, tierID snowflake.ID) ([]TierFeatureQuota, error)

	UpsertCommand(ctx context.Context, db *gorm.DB, cmd *Command) error
	FindCommand(ctx context.Context, db *gorm.DB, name string) (*Command, error)
	SetCommandMaintenance(ctx context.Context, db *gorm.DB, name string, maintenance bool) (bool, error)
	ListCommandBindings(ctx context.Context, db *gorm.DB) ([]CommandBinding, error)
}
