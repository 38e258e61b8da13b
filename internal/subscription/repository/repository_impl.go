package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/guildgate/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) ListByGuild(ctx context.Context, db *gorm.DB, guildID string) ([]subscriptiondomain.SubscriptionWithTier, error) {
	var rows []subscriptiondomain.SubscriptionWithTier
	err := db.WithContext(ctx).Raw(
		`SELECT s.id, s.guild_id, s.tier_id, t.name AS tier_name, s.starts_at, s.ends_at, s.status, s.created_at
		 FROM guild_subscriptions s
		 JOIN subscription_tiers t ON t.id = s.tier_id
		 WHERE s.guild_id = ?
		 ORDER BY s.starts_at DESC, s.id DESC`,
		guildID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *subscriptiondomain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}
