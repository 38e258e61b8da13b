package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"gorm.io/gorm"
)

const (
	TierFree = "Free"
	TierPro  = "Pro"

	FeatureCore  = "CORE"
	FeatureStats = "STATS"

	CommandPing        = "ping"
	CommandServerStats = "server-stats"

	StatsMonthlyLimit int64 = 3
)

// Catalog is the seeded reference catalog: Free carries CORE unlimited, Pro carries
// CORE unlimited and STATS with a monthly limit.
type Catalog struct {
	Free  catalogdomain.Tier
	Pro   catalogdomain.Tier
	Core  catalogdomain.Feature
	Stats catalogdomain.Feature
}

func SeedCatalog(t testing.TB, db *gorm.DB, node *snowflake.Node) Catalog {
	t.Helper()

	now := time.Now().UTC()
	cat := Catalog{
		Free: catalogdomain.Tier{
			ID:        node.Generate(),
			Name:      TierFree,
			IsDefault: true,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Pro: catalogdomain.Tier{
			ID:           node.Generate(),
			Name:         TierPro,
			PriceMonthly: decimal.RequireFromString("4.99"),
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Core: catalogdomain.Feature{
			ID:              node.Generate(),
			Code:            FeatureCore,
			Name:            "Core",
			IsGlobalEnabled: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Stats: catalogdomain.Feature{
			ID:              node.Generate(),
			Code:            FeatureStats,
			Name:            "Server stats",
			IsGlobalEnabled: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}

	limit := StatsMonthlyLimit
	monthly := catalogdomain.ResetMonthly
	rows := []any{
		&cat.Free,
		&cat.Pro,
		&cat.Core,
		&cat.Stats,
		&catalogdomain.TierFeature{TierID: cat.Free.ID, FeatureID: cat.Core.ID},
		&catalogdomain.TierFeature{TierID: cat.Pro.ID, FeatureID: cat.Core.ID},
		&catalogdomain.TierFeature{TierID: cat.Pro.ID, FeatureID: cat.Stats.ID, UsageLimit: &limit, ResetPeriod: &monthly},
		&catalogdomain.Command{Name: CommandPing, FeatureID: cat.Core.ID, CreatedAt: now, UpdatedAt: now},
		&catalogdomain.Command{Name: CommandServerStats, FeatureID: cat.Stats.ID, CreatedAt: now, UpdatedAt: now},
	}
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed %T: %v", row, err)
		}
	}
	return cat
}
