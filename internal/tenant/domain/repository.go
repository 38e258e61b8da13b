package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindSettings(ctx context.Context, db *gorm.DB, guildID string) (*Settings, error)
	FindSettingsWithTier(ctx context.Context, db *gorm.DB, guildID string) (*SettingsWithTier, error)
	// InsertSettingsIfAbsent reports whether a row was created.
	InsertSettingsIfAbsent(ctx context.Context, db *gorm.DB, settings *Settings) (bool, error)
	UpdateTier(ctx context.Context, db *gorm.DB, guildID string, tierID snowflake.ID) error
	UpdateSubscriptionExpiry(ctx context.Context, db *gorm.DB, guildID string, expiresAt *time.Time) error
	ListGuildIDsByTier(ctx context.Context, db *gorm.DB, tierID snowflake.ID) ([]string, error)

	UpsertOverride(ctx context.Context, db *gorm.DB, override *FeatureOverride) error
	ListDisabledFeatureIDs(ctx context.Context, db *gorm.DB, guildID string) ([]snowflake.ID, error)
	ListOverrides(ctx context.Context, db *gorm.DB, guildID string) ([]FeatureOverride, error)

	UpsertPermission(ctx context.Context, db *gorm.DB, perm *CommandPermission) error
	DeletePermission(ctx context.Context, db *gorm.DB, guildID, commandName string) (bool, error)
	ListPermissions(ctx context.Context, db *gorm.DB, guildID string) ([]CommandPermission, error)
}
