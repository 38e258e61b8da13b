package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ResetPeriod string

const (
	ResetDaily   ResetPeriod = "DAILY"
	ResetMonthly ResetPeriod = "MONTHLY"
	ResetYearly  ResetPeriod = "YEARLY"
)

func (p ResetPeriod) Valid() bool {
	switch p {
	case ResetDaily, ResetMonthly, ResetYearly:
		return true
	default:
		return false
	}
}

// Tier is a subscription level. Exactly one active tier carries IsDefault.
type Tier struct {
	ID           snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	Name         string          `gorm:"type:text;not null;uniqueIndex:ux_subscription_tiers_name"`
	Description  *string         `gorm:"type:text"`
	PriceMonthly decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	IsDefault    bool            `gorm:"not null;default:false"`
	IsActive     bool            `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Tier) TableName() string { return "subscription_tiers" }

// Feature is a gated capability. IsGlobalEnabled is the kill switch above every tier and override.
type Feature struct {
	ID              snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Code            string       `gorm:"type:text;not null;uniqueIndex:ux_system_features_code"`
	Name            string       `gorm:"type:text;not null"`
	Description     *string      `gorm:"type:text"`
	IsGlobalEnabled bool         `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Feature) TableName() string { return "system_features" }

// TierFeature links a feature to a tier. UsageLimit and ResetPeriod are both set or both nil;
// nil means unlimited.
type TierFeature struct {
	TierID      snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	FeatureID   snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	UsageLimit  *int64
	ResetPeriod *ResetPeriod `gorm:"type:text"`
}

func (TierFeature) TableName() string { return "tier_features" }

func (l TierFeature) Unlimited() bool {
	return l.UsageLimit == nil
}

// Command binds a front-end command name to the feature that gates it.
type Command struct {
	Name          string       `gorm:"primaryKey;type:text"`
	FeatureID     snowflake.ID `gorm:"not null;index:ix_system_commands_feature"`
	Description   *string      `gorm:"type:text"`
	IsMaintenance bool         `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Command) TableName() string { return "system_commands" }

// CommandBinding is a command joined with its feature, the shape cached as global command metadata.
type CommandBinding struct {
	Name            string
	FeatureID       snowflake.ID
	FeatureCode     string
	IsMaintenance   bool
	IsGlobalEnabled bool
}

// TierFeatureQuota is a tier link joined with its feature code.
type TierFeatureQuota struct {
	FeatureID   snowflake.ID
	FeatureCode string
	UsageLimit  *int64
	ResetPeriod *ResetPeriod
}
