package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Settings is the per-guild entitlement anchor, created lazily on first contact.
type Settings struct {
	GuildID               string       `gorm:"primaryKey;type:text"`
	TierID                snowflake.ID `gorm:"not null;index:ix_guild_settings_tier"`
	SubscriptionExpiresAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Settings) TableName() string { return "guild_settings" }

// FeatureOverride explicitly enables or disables one feature for one guild.
type FeatureOverride struct {
	GuildID   string       `gorm:"primaryKey;type:text"`
	FeatureID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	IsEnabled bool         `gorm:"not null"`

	UpdatedAt time.Time `gorm:"not null"`
}

func (FeatureOverride) TableName() string { return "guild_feature_overrides" }

// CommandPermission restricts who may run a command in a guild. Empty lists impose no restriction.
type CommandPermission struct {
	GuildID           string                      `gorm:"primaryKey;type:text"`
	CommandName       string                      `gorm:"primaryKey;type:text"`
	AllowedRoleIDs    datatypes.JSONSlice[string] `gorm:"column:allowed_role_ids"`
	AllowedChannelIDs datatypes.JSONSlice[string] `gorm:"column:allowed_channel_ids"`
	DenyRoleIDs       datatypes.JSONSlice[string] `gorm:"column:deny_role_ids"`

	UpdatedAt time.Time `gorm:"not null"`
}

func (CommandPermission) TableName() string { return "guild_command_permissions" }

// SettingsWithTier is a settings row joined with its tier name.
type SettingsWithTier struct {
	GuildID               string
	TierID                snowflake.ID
	TierName              string
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
}
