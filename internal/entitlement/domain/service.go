package domain

import (
	"context"
	"errors"
)

type Service interface {
	CheckEntitlement(ctx context.Context, req CheckRequest) (Result, error)
	CheckAndConsume(ctx context.Context, req CheckRequest, amount int64) (ConsumeResult, error)
}

// Invalidator evicts cached entitlement state. Callers invoke it only after their durable write committed.
type Invalidator interface {
	InvalidateGuild(ctx context.Context, guildID string) error
	InvalidateGuilds(ctx context.Context, guildIDs []string) error
	InvalidateCommands(ctx context.Context) error
}

// SnapshotStore is the read-through cache in front of the catalog and tenant stores.
type SnapshotStore interface {
	Invalidator
	// Get returns nil without error when the guild has no settings row.
	Get(ctx context.Context, guildID string) (*Snapshot, error)
	Commands(ctx context.Context) (map[string]CommandMeta, error)
}

var (
	ErrInvalidGuildID = errors.New("invalid_guild_id")
	ErrInvalidCommand = errors.New("invalid_command")
	ErrInvalidAmount  = errors.New("invalid_amount")
)
