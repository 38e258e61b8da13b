// Package domain contains the guild subscription history and payment records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status represents lifecycle states of a subscription record.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
	StatusRefunded Status = "REFUNDED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// PaymentStatus represents the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Subscription is one historical period a guild held a tier.
type Subscription struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	GuildID   string       `gorm:"type:text;not null;index"`
	TierID    snowflake.ID `gorm:"not null"`
	StartsAt  time.Time    `gorm:"not null"`
	EndsAt    *time.Time
	Status    Status    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "guild_subscriptions" }

// Payment records money received from an external provider. Nothing here moves money.
type Payment struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	GuildID        string          `gorm:"type:text;not null;index"`
	SubscriptionID *snowflake.ID   `gorm:"index"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency       string          `gorm:"type:text;not null"`
	Provider       string          `gorm:"type:text;not null"`
	ProviderTxID   *string         `gorm:"column:provider_tx_id;type:text"`
	Status         PaymentStatus   `gorm:"type:text;not null"`
	PaidAt         *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// SubscriptionWithTier is a subscription joined with its tier name.
type SubscriptionWithTier struct {
	ID        snowflake.ID
	GuildID   string
	TierID    snowflake.ID
	TierName  string
	StartsAt  time.Time
	EndsAt    *time.Time
	Status    Status
	CreatedAt time.Time
}
