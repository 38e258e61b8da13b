package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
)

// Meter is the live usage counter in front of the ledger.
type Meter interface {
	// IncrementUsage adds amount to the current period's counter and returns the new live value.
	IncrementUsage(ctx context.Context, guildID string, featureID snowflake.ID, period catalogdomain.ResetPeriod, amount int64) (int64, error)
	// GetUsage returns the unflushed live counter only.
	GetUsage(ctx context.Context, guildID string, featureID snowflake.ID, period catalogdomain.ResetPeriod) (int64, error)
	// CurrentUsage returns ledger plus live usage for the current period.
	CurrentUsage(ctx context.Context, guildID string, featureID snowflake.ID, period catalogdomain.ResetPeriod) (int64, error)
	ListLedger(ctx context.Context, req ListLedgerRequest) ([]LedgerEntryResponse, error)
}

type IncrementRequest struct {
	GuildID   string `json:"guild_id" validate:"required,max=64"`
	FeatureID string `json:"feature_id" validate:"required,numeric"`
	Period    string `json:"period" validate:"required,oneof=DAILY MONTHLY YEARLY"`
	Amount    int64  `json:"amount" validate:"omitempty,min=1"`
}

type UsageQuery struct {
	GuildID   string `form:"guild_id" validate:"required,max=64"`
	FeatureID string `form:"feature_id" validate:"required,numeric"`
	Period    string `form:"period" validate:"required,oneof=DAILY MONTHLY YEARLY"`
}

type UsageResponse struct {
	GuildID     string    `json:"guild_id"`
	FeatureID   string    `json:"feature_id"`
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	Live        int64     `json:"live"`
	Total       int64     `json:"total"`
}

type ListLedgerRequest struct {
	GuildID   string `form:"guild_id" validate:"required,max=64"`
	FeatureID string `form:"feature_id" validate:"omitempty,numeric"`
	From      string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=1000"`
}

type LedgerEntryResponse struct {
	GuildID     string    `json:"guild_id"`
	FeatureID   string    `json:"feature_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	UsageCount  int64     `json:"usage_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrInvalidGuildID   = errors.New("invalid_guild_id")
	ErrInvalidFeatureID = errors.New("invalid_feature_id")
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidFrom      = errors.New("invalid_from")
	ErrMalformedKey     = errors.New("malformed_usage_key")
)
