package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListByGuild(ctx context.Context, db *gorm.DB, guildID string) ([]SubscriptionWithTier, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
}
