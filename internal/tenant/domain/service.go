package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// InitializeTenant creates settings on the default tier. It reports false when settings already existed.
	InitializeTenant(ctx context.Context, guildID string) (bool, error)
	GetSettings(ctx context.Context, guildID string) (*SettingsResponse, error)
	SetTier(ctx context.Context, guildID, tierName string) (*SettingsResponse, error)
	SetSubscriptionExpiry(ctx context.Context, guildID string, expiresAt *time.Time) (*SettingsResponse, error)
	ToggleFeature(ctx context.Context, req ToggleFeatureRequest) error
	SetCommandPermission(ctx context.Context, req SetCommandPermissionRequest) error
	ClearCommandPermission(ctx context.Context, guildID, commandName string) error
}

type ToggleFeatureRequest struct {
	GuildID   string `json:"guild_id" validate:"required,max=64"`
	FeatureID string `json:"feature_id" validate:"required"`
	Enabled   bool   `json:"enabled"`
}

type SetCommandPermissionRequest struct {
	GuildID           string   `json:"guild_id" validate:"required,max=64"`
	CommandName       string   `json:"command_name" validate:"required,max=64"`
	AllowedRoleIDs    []string `json:"allowed_role_ids" validate:"max=250,dive,required,max=64"`
	AllowedChannelIDs []string `json:"allowed_channel_ids" validate:"max=250,dive,required,max=64"`
	DenyRoleIDs       []string `json:"deny_role_ids" validate:"max=250,dive,required,max=64"`
}

type FeatureOverrideResponse struct {
	FeatureID string `json:"feature_id"`
	Enabled   bool   `json:"enabled"`
}

type CommandPermissionResponse struct {
	CommandName       string   `json:"command_name"`
	AllowedRoleIDs    []string `json:"allowed_role_ids"`
	AllowedChannelIDs []string `json:"allowed_channel_ids"`
	DenyRoleIDs       []string `json:"deny_role_ids"`
}

type SettingsResponse struct {
	GuildID               string                      `json:"guild_id"`
	TierID                string                      `json:"tier_id"`
	TierName              string                      `json:"tier_name"`
	SubscriptionExpiresAt *time.Time                  `json:"subscription_expires_at,omitempty"`
	Overrides             []FeatureOverrideResponse   `json:"overrides"`
	Permissions           []CommandPermissionResponse `json:"permissions"`
	CreatedAt             time.Time                   `json:"created_at"`
}

var (
	ErrInvalidGuildID      = errors.New("invalid_guild_id")
	ErrInvalidTier         = errors.New("invalid_tier")
	ErrInvalidFeatureID    = errors.New("invalid_feature_id")
	ErrInvalidCommand      = errors.New("invalid_command")
	ErrGuildNotInitialized = errors.New("guild_not_initialized")
	// ErrDefaultTierMissing is a deployment error: no active tier is flagged default.
	ErrDefaultTierMissing = errors.New("default_tier_missing")
	ErrPermissionNotFound = errors.New("permission_not_found")
)
