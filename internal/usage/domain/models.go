// Package domain contains the usage ledger model, period bucketing and counter key contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntry is the durable usage total of one feature for one guild within one period.
// UsageCount only grows within a period.
type LedgerEntry struct {
	GuildID     string       `gorm:"primaryKey;type:text"`
	FeatureID   snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PeriodStart time.Time    `gorm:"primaryKey"`
	PeriodEnd   time.Time    `gorm:"not null"`
	UsageCount  int64        `gorm:"not null;default:0"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "guild_feature_usage" }

// GuildFeaturePeriod is the reset period a guild's current tier applies to a feature.
type GuildFeaturePeriod struct {
	GuildID     string
	FeatureID   snowflake.ID
	ResetPeriod string
}
