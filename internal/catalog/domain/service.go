package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	CreateTier(ctx context.Context, req CreateTierRequest) (*TierResponse, error)
	SetDefaultTier(ctx context.Context, tierID string) (*TierResponse, error)
	ListTiers(ctx context.Context) ([]TierResponse, error)
	GetTierByName(ctx context.Context, name string) (*TierResponse, error)

	CreateFeature(ctx context.Context, req CreateFeatureRequest) (*FeatureResponse, error)
	SetFeatureGlobalEnabled(ctx context.Context, featureID string, enabled bool) (*FeatureResponse, error)
	ListFeatures(ctx context.Context) ([]FeatureResponse, error)

	LinkFeature(ctx context.Context, req LinkFeatureRequest) (*TierFeatureResponse, error)
	UnlinkFeature(ctx context.Context, tierID, featureID string) error

	RegisterCommand(ctx context.Context, req RegisterCommandRequest) (*CommandResponse, error)
	SetCommandMaintenance(ctx context.Context, name string, maintenance bool) (*CommandResponse, error)
	ListCommands(ctx context.Context) ([]CommandResponse, error)

	EnsureDefaults(ctx context.Context) error
}

type CreateTierRequest struct {
	Name         string          `json:"name" validate:"required,max=64"`
	Description  *string         `json:"description" validate:"omitempty,max=512"`
	PriceMonthly decimal.Decimal `json:"price_monthly"`
	IsDefault    bool            `json:"is_default"`
}

type CreateFeatureRequest struct {
	Code            string  `json:"code" validate:"required,max=64"`
	Name            string  `json:"name" validate:"required,max=128"`
	Description     *string `json:"description" validate:"omitempty,max=512"`
	IsGlobalEnabled *bool   `json:"is_global_enabled"`
}

// LinkFeatureRequest attaches a feature to a tier. UsageLimit and ResetPeriod go together.
type LinkFeatureRequest struct {
	TierID      string       `json:"tier_id" validate:"required"`
	FeatureID   string       `json:"feature_id" validate:"required"`
	UsageLimit  *int64       `json:"usage_limit" validate:"omitempty,gte=0"`
	ResetPeriod *ResetPeriod `json:"reset_period" validate:"omitempty,oneof=DAILY MONTHLY YEARLY"`
}

type RegisterCommandRequest struct {
	Name          string  `json:"name" validate:"required,max=32"`
	FeatureCode   string  `json:"feature_code" validate:"required,max=64"`
	Description   *string `json:"description" validate:"omitempty,max=256"`
	IsMaintenance bool    `json:"is_maintenance"`
}

type TierResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	PriceMonthly decimal.Decimal `json:"price_monthly"`
	IsDefault    bool            `json:"is_default"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

type FeatureResponse struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	IsGlobalEnabled bool      `json:"is_global_enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

type TierFeatureResponse struct {
	TierID      string       `json:"tier_id"`
	FeatureID   string       `json:"feature_id"`
	UsageLimit  *int64       `json:"usage_limit,omitempty"`
	ResetPeriod *ResetPeriod `json:"reset_period,omitempty"`
}

type CommandResponse struct {
	Name          string  `json:"name"`
	FeatureID     string  `json:"feature_id"`
	FeatureCode   string  `json:"feature_code,omitempty"`
	Description   *string `json:"description,omitempty"`
	IsMaintenance bool    `json:"is_maintenance"`
}

var (
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidPrice       = errors.New("invalid_price")
	ErrInvalidQuota       = errors.New("invalid_quota")
	ErrInvalidResetPeriod = errors.New("invalid_reset_period")
	ErrTierNotFound       = errors.New("tier_not_found")
	ErrFeatureNotFound    = errors.New("feature_not_found")
	ErrCommandNotFound    = errors.New("command_not_found")
	ErrLinkNotFound       = errors.New("tier_feature_not_found")
	ErrTierExists         = errors.New("tier_exists")
	ErrFeatureExists      = errors.New("feature_exists")
	ErrTierInactive       = errors.New("tier_inactive")
)
