package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
)

type ReasonCode string

const (
	ReasonCommandNotFound         ReasonCode = "COMMAND_NOT_FOUND"
	ReasonFeatureDisabledGlobally ReasonCode = "FEATURE_DISABLED_GLOBALLY"
	ReasonCommandInMaintenance    ReasonCode = "COMMAND_IN_MAINTENANCE"
	ReasonGuildNotInitialized     ReasonCode = "GUILD_NOT_INITIALIZED"
	ReasonSubscriptionExpired     ReasonCode = "SUBSCRIPTION_EXPIRED"
	ReasonTierMissingFeature      ReasonCode = "TIER_MISSING_FEATURE"
	ReasonQuotaExceeded           ReasonCode = "QUOTA_EXCEEDED"
	ReasonFeatureDisabledByAdmin  ReasonCode = "FEATURE_DISABLED_BY_ADMIN"
	ReasonRoleDenied              ReasonCode = "ROLE_DENIED"
	ReasonInvalidChannel          ReasonCode = "INVALID_CHANNEL"
	ReasonMissingRole             ReasonCode = "MISSING_ROLE"
)

// CommandMeta is the cached, process-wide view of one command binding.
type CommandMeta struct {
	FeatureID       snowflake.ID `json:"featureId"`
	FeatureCode     string       `json:"featureCode"`
	IsMaintenance   bool         `json:"isMaintenance"`
	IsGlobalEnabled bool         `json:"isGlobalEnabled"`
}

// FeatureQuota is a tier's allowance for one feature. A nil Limit means unlimited.
type FeatureQuota struct {
	FeatureID snowflake.ID               `json:"featureId"`
	Limit     *int64                     `json:"limit,omitempty"`
	Period    *catalogdomain.ResetPeriod `json:"period,omitempty"`
}

func (q FeatureQuota) Finite() bool {
	return q.Limit != nil && q.Period != nil
}

type PermissionRule struct {
	AllowedRoleIDs    []string `json:"allowedRoleIds,omitempty"`
	AllowedChannelIDs []string `json:"allowedChannelIds,omitempty"`
	DenyRoleIDs       []string `json:"denyRoleIds,omitempty"`
}

// Snapshot is the denormalized, cache-only entitlement view of one guild.
// It is replaced wholesale, never patched.
type Snapshot struct {
	GuildID               string                    `json:"guildId"`
	TierID                snowflake.ID              `json:"tierId"`
	TierName              string                    `json:"tierName"`
	SubscriptionExpiresAt *time.Time                `json:"subscriptionExpiresAt,omitempty"`
	Features              map[string]FeatureQuota   `json:"features"`
	DisabledFeatures      []snowflake.ID            `json:"disabledFeatures,omitempty"`
	Permissions           map[string]PermissionRule `json:"permissions,omitempty"`
	BuiltAt               time.Time                 `json:"builtAt"`
}

func (s *Snapshot) FeatureDisabled(featureID snowflake.ID) bool {
	return slices.Contains(s.DisabledFeatures, featureID)
}

func (s *Snapshot) Expired(now time.Time) bool {
	return s.SubscriptionExpiresAt != nil && s.SubscriptionExpiresAt.Before(now)
}

type CheckRequest struct {
	GuildID     string   `json:"guild_id" validate:"required,max=64"`
	CommandName string   `json:"command_name" validate:"required,max=64"`
	ChannelID   string   `json:"channel_id" validate:"max=64"`
	RoleIDs     []string `json:"role_ids" validate:"max=250,dive,max=64"`
}

// Result is an entitlement decision. Denials are values, never errors.
type Result struct {
	Allowed     bool       `json:"allowed"`
	ReasonCode  ReasonCode `json:"reason_code,omitempty"`
	Message     string     `json:"message,omitempty"`
	FeatureID   string     `json:"feature_id,omitempty"`
	FeatureCode string     `json:"feature_code,omitempty"`
	TierName    string     `json:"tier_name,omitempty"`
	Usage       *int64     `json:"usage,omitempty"`
	Limit       *int64     `json:"limit,omitempty"`
	// Period is set when the feature carries a finite quota; callers meter usage only then.
	Period *catalogdomain.ResetPeriod `json:"period,omitempty"`
}

// Deny returns a copy of r denied with reason.
func (r Result) Deny(reason ReasonCode, msg string) Result {
	r.Allowed = false
	r.ReasonCode = reason
	r.Message = msg
	return r
}

// ConsumeResult is a decision followed, when allowed and metered, by the new live counter value.
type ConsumeResult struct {
	Result
	Consumed int64  `json:"consumed"`
	Counter  *int64 `json:"counter,omitempty"`
}
