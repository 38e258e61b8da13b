package cache

import "strings"

// Key namespace shared by every process that touches the fast cache.
const (
	GlobalCommandsKey = "cache:global:commands"
	UsageSyncLockKey  = "lock:usage-sync"

	UsageKeyPrefix  = "usage:"
	UsageKeyPattern = UsageKeyPrefix + "*"

	guildKeyPrefix     = "cache:guild:"
	guildKeySuffix     = ":entitlements"
	guildGenSuffix     = ":gen"
	rateLimitKeyPrefix = "ratelimit:guild:"
)

func GuildEntitlementsKey(guildID string) string {
	return guildKeyPrefix + strings.TrimSpace(guildID) + guildKeySuffix
}

// GuildGenerationKey holds a token replaced on every invalidation of the guild's snapshot.
func GuildGenerationKey(guildID string) string {
	return guildKeyPrefix + strings.TrimSpace(guildID) + guildGenSuffix
}

func GuildRateLimitKey(guildID string) string {
	return rateLimitKeyPrefix + strings.TrimSpace(guildID)
}
