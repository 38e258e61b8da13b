package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type LedgerFilter struct {
	GuildID   string
	FeatureID *snowflake.ID
	From      *time.Time
	Limit     int
}

type Repository interface {
	// AddUsage adds each entry's UsageCount onto the stored row, inserting rows that do not exist.
	AddUsage(ctx context.Context, db *gorm.DB, entries []LedgerEntry) error
	FindEntry(ctx context.Context, db *gorm.DB, guildID string, featureID snowflake.ID, periodStart time.Time) (*LedgerEntry, error)
	ListLedger(ctx context.Context, db *gorm.DB, filter LedgerFilter) ([]LedgerEntry, error)
	ListResetPeriods(ctx context.Context, db *gorm.DB, guildIDs []string) ([]GuildFeaturePeriod, error)
}
