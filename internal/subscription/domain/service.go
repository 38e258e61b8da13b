package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// CreateSubscription records a subscription. An ACTIVE record also moves the guild to its tier and expiry.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResponse, error)
	ListSubscriptions(ctx context.Context, guildID string) ([]SubscriptionResponse, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResponse, error)
}

type CreateSubscriptionRequest struct {
	GuildID  string     `json:"guild_id" validate:"required,max=64"`
	TierName string     `json:"tier_name" validate:"required,max=100"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
	Status   string     `json:"status" validate:"omitempty,oneof=ACTIVE EXPIRED CANCELED REFUNDED"`
}

type RecordPaymentRequest struct {
	GuildID        string `json:"guild_id" validate:"required,max=64"`
	SubscriptionID string `json:"subscription_id" validate:"omitempty,numeric"`
	Amount         string `json:"amount" validate:"required"`
	Currency       string `json:"currency" validate:"omitempty,iso4217"`
	Provider       string `json:"provider" validate:"required,max=50"`
	ProviderTxID   string `json:"provider_tx_id" validate:"max=255"`
	Status         string `json:"status" validate:"omitempty,oneof=PENDING SUCCESS FAILED REFUNDED"`
}

type SubscriptionResponse struct {
	ID        string     `json:"id"`
	GuildID   string     `json:"guild_id"`
	TierID    string     `json:"tier_id"`
	TierName  string     `json:"tier_name"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type PaymentResponse struct {
	ID             string     `json:"id"`
	GuildID        string     `json:"guild_id"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	Provider       string     `json:"provider"`
	ProviderTxID   *string    `json:"provider_tx_id,omitempty"`
	Status         string     `json:"status"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

var (
	ErrInvalidGuildID        = errors.New("invalid_guild_id")
	ErrInvalidTier           = errors.New("invalid_tier")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidPeriod         = errors.New("invalid_period")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
)
