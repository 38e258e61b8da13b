package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/entitlement/domain"
	"github.com/smallbiznis/guildgate/internal/observability/metrics"
	"github.com/smallbiznis/guildgate/internal/observability/tracing"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Store   domain.SnapshotStore
	Tenants tenantdomain.Service
	Meter   usagedomain.Meter
	Metrics *metrics.Metrics `optional:"true"`
}

// Resolver decides whether a guild may run a command. It never records usage on its own;
// CheckAndConsume is the only path that meters.
type Resolver struct {
	log     *zap.Logger
	clock   clock.Clock
	store   domain.SnapshotStore
	tenants tenantdomain.Service
	meter   usagedomain.Meter
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Resolver{
		log:     p.Log.Named("entitlement.resolver"),
		clock:   p.Clock,
		store:   p.Store,
		tenants: p.Tenants,
		meter:   p.Meter,
		metrics: p.Metrics,
	}
}

// CheckEntitlement decides whether the guild may run the command. A denial is a
// Result with a reason code; err is reserved for store failures.
//
// Quotas are checked against the ledger row plus the live counter for the current
// period, so usage stays counted after a flush. While a flush is committing, the
// flushed amount can be seen twice and a check may deny slightly early; it never
// undercounts.
func (r *Resolver) CheckEntitlement(ctx context.Context, req domain.CheckRequest) (res domain.Result, err error) {
	req, err = normalizeRequest(req)
	if err != nil {
		return domain.Result{}, err
	}

	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "entitlement.check",
		attribute.String("guild_id", req.GuildID),
		attribute.String("command", req.CommandName),
	)
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String("reason_code", string(res.ReasonCode)))
			r.metrics.RecordDecision(ctx, res.Allowed, string(res.ReasonCode), time.Since(started))
		}
		tracing.EndSpan(span, err)
	}()

	res, err = r.evaluate(ctx, req)
	if err != nil {
		r.log.Warn("entitlement check failed",
			zap.String("guild_id", req.GuildID),
			zap.String("command", req.CommandName),
			zap.Error(err),
		)
		return domain.Result{}, err
	}
	if !res.Allowed {
		r.log.Debug("entitlement denied",
			zap.String("guild_id", req.GuildID),
			zap.String("command", req.CommandName),
			zap.String("reason_code", string(res.ReasonCode)),
		)
	}
	return res, nil
}

func (r *Resolver) evaluate(ctx context.Context, req domain.CheckRequest) (domain.Result, error) {
	commands, err := r.store.Commands(ctx)
	if err != nil {
		return domain.Result{}, err
	}
	cmd, ok := commands[req.CommandName]
	if !ok {
		return deny(domain.ReasonCommandNotFound, fmt.Sprintf("Command %q is not registered.", req.CommandName)), nil
	}

	res := domain.Result{FeatureID: cmd.FeatureID.String(), FeatureCode: cmd.FeatureCode}
	if !cmd.IsGlobalEnabled {
		return res.Deny(domain.ReasonFeatureDisabledGlobally, fmt.Sprintf("Feature %q is disabled for everyone right now.", cmd.FeatureCode)), nil
	}
	if cmd.IsMaintenance {
		return res.Deny(domain.ReasonCommandInMaintenance, fmt.Sprintf("Command %q is under maintenance.", req.CommandName)), nil
	}

	snap, err := r.snapshot(ctx, req.GuildID)
	if err != nil {
		return domain.Result{}, err
	}
	if snap == nil {
		return res.Deny(domain.ReasonGuildNotInitialized, "This server has not been set up yet."), nil
	}
	res.TierName = snap.TierName

	if snap.Expired(r.clock.Now()) {
		return res.Deny(domain.ReasonSubscriptionExpired, "The subscription for this server has expired."), nil
	}

	quota, ok := snap.Features[cmd.FeatureCode]
	if !ok {
		return res.Deny(domain.ReasonTierMissingFeature, fmt.Sprintf("The %s tier does not include %q.", snap.TierName, cmd.FeatureCode)), nil
	}

	if quota.Finite() {
		used, err := r.meter.CurrentUsage(ctx, req.GuildID, quota.FeatureID, *quota.Period)
		if err != nil {
			return domain.Result{}, err
		}
		res.Usage = &used
		res.Limit = quota.Limit
		res.Period = quota.Period
		if used >= *quota.Limit {
			return res.Deny(domain.ReasonQuotaExceeded, fmt.Sprintf("Usage limit of %d per %s period reached.", *quota.Limit, strings.ToLower(string(*quota.Period)))), nil
		}
	}

	if snap.FeatureDisabled(quota.FeatureID) {
		return res.Deny(domain.ReasonFeatureDisabledByAdmin, fmt.Sprintf("Feature %q is disabled on this server.", cmd.FeatureCode)), nil
	}

	if rule, ok := snap.Permissions[req.CommandName]; ok {
		if reason, msg := checkPermission(rule, req); reason != "" {
			return res.Deny(reason, msg), nil
		}
	}

	res.Allowed = true
	return res, nil
}

// snapshot reads the guild snapshot, initializing the guild on first contact.
func (r *Resolver) snapshot(ctx context.Context, guildID string) (*domain.Snapshot, error) {
	snap, err := r.store.Get(ctx, guildID)
	if err != nil || snap != nil {
		return snap, err
	}

	if _, err := r.tenants.InitializeTenant(ctx, guildID); err != nil {
		return nil, fmt.Errorf("initialize guild: %w", err)
	}
	return r.store.Get(ctx, guildID)
}

func (r *Resolver) CheckAndConsume(ctx context.Context, req domain.CheckRequest, amount int64) (domain.ConsumeResult, error) {
	if amount <= 0 {
		return domain.ConsumeResult{}, domain.ErrInvalidAmount
	}

	res, err := r.CheckEntitlement(ctx, req)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	out := domain.ConsumeResult{Result: res}
	if !res.Allowed || res.Limit == nil || res.Period == nil {
		return out, nil
	}

	if *res.Usage+amount > *res.Limit {
		out.Result = res.Deny(domain.ReasonQuotaExceeded, fmt.Sprintf("Consuming %d would exceed the limit of %d.", amount, *res.Limit))
		return out, nil
	}

	featureID, err := snowflake.ParseString(res.FeatureID)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	counter, err := r.meter.IncrementUsage(ctx, strings.TrimSpace(req.GuildID), featureID, *res.Period, amount)
	if err != nil {
		return domain.ConsumeResult{}, err
	}
	used := *res.Usage + amount
	out.Usage = &used
	out.Consumed = amount
	out.Counter = &counter
	return out, nil
}

func checkPermission(rule domain.PermissionRule, req domain.CheckRequest) (domain.ReasonCode, string) {
	for _, role := range req.RoleIDs {
		if slices.Contains(rule.DenyRoleIDs, role) {
			return domain.ReasonRoleDenied, "One of your roles is not allowed to use this command."
		}
	}
	if len(rule.AllowedChannelIDs) > 0 && !slices.Contains(rule.AllowedChannelIDs, req.ChannelID) {
		return domain.ReasonInvalidChannel, "This command cannot be used in this channel."
	}
	if len(rule.AllowedRoleIDs) > 0 && !slices.ContainsFunc(req.RoleIDs, func(role string) bool {
		return slices.Contains(rule.AllowedRoleIDs, role)
	}) {
		return domain.ReasonMissingRole, "You do not have a role that may use this command."
	}
	return "", ""
}

func normalizeRequest(req domain.CheckRequest) (domain.CheckRequest, error) {
	req.GuildID = strings.TrimSpace(req.GuildID)
	if req.GuildID == "" {
		return req, domain.ErrInvalidGuildID
	}
	req.CommandName = strings.ToLower(strings.TrimSpace(req.CommandName))
	if req.CommandName == "" {
		return req, domain.ErrInvalidCommand
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	return req, nil
}

func deny(reason domain.ReasonCode, msg string) domain.Result {
	return domain.Result{ReasonCode: reason, Message: msg}
}
