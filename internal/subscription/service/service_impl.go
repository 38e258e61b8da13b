package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	entitlementdomain "github.com/smallbiznis/guildgate/internal/entitlement/domain"
	"github.com/smallbiznis/guildgate/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCurrency = "USD"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	CatalogRepo catalogdomain.Repository
	TenantRepo  tenantdomain.Repository
	Invalidator entitlementdomain.Invalidator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	catalogRepo catalogdomain.Repository
	tenantRepo  tenantdomain.Repository
	invalidator entitlementdomain.Invalidator
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		catalogRepo: p.CatalogRepo,
		tenantRepo:  p.TenantRepo,
		invalidator: p.Invalidator,
	}
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.SubscriptionResponse, error) {
	guildID := strings.TrimSpace(req.GuildID)
	if guildID == "" {
		return nil, domain.ErrInvalidGuildID
	}
	tierName := strings.TrimSpace(req.TierName)
	if tierName == "" {
		return nil, domain.ErrInvalidTier
	}
	status := domain.StatusActive
	if v := strings.ToUpper(strings.TrimSpace(req.Status)); v != "" {
		status = domain.Status(v)
		if !status.Valid() {
			return nil, domain.ErrInvalidStatus
		}
	}

	now := s.clock.Now().UTC()
	startsAt := now
	if req.StartsAt != nil {
		startsAt = req.StartsAt.UTC()
	}
	var endsAt *time.Time
	if req.EndsAt != nil {
		end := req.EndsAt.UTC()
		if !end.After(startsAt) {
			return nil, domain.ErrInvalidPeriod
		}
		endsAt = &end
	}

	var created domain.Subscription
	var tier *catalogdomain.Tier
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tier, err = s.catalogRepo.FindTierByName(ctx, tx, tierName)
		if err != nil {
			return err
		}
		if tier == nil {
			return catalogdomain.ErrTierNotFound
		}

		settings, err := s.tenantRepo.FindSettings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if settings == nil {
			if status != domain.StatusActive {
				return tenantdomain.ErrGuildNotInitialized
			}
			if _, err := s.tenantRepo.InsertSettingsIfAbsent(ctx, tx, &tenantdomain.Settings{
				GuildID:   guildID,
				TierID:    tier.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		}

		created = domain.Subscription{
			ID:        s.genID.Generate(),
			GuildID:   guildID,
			TierID:    tier.ID,
			StartsAt:  startsAt,
			EndsAt:    endsAt,
			Status:    status,
			CreatedAt: now,
		}
		if err := s.repo.Insert(ctx, tx, &created); err != nil {
			return err
		}

		if status != domain.StatusActive {
			return nil
		}
		if err := s.tenantRepo.UpdateTier(ctx, tx, guildID, tier.ID); err != nil {
			return err
		}
		return s.tenantRepo.UpdateSubscriptionExpiry(ctx, tx, guildID, endsAt)
	})
	if err != nil {
		return nil, err
	}

	if status == domain.StatusActive {
		if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
			return nil, fmt.Errorf("invalidate snapshot: %w", err)
		}
		s.log.Info("guild subscription activated",
			zap.String("guild_id", guildID),
			zap.String("tier", tier.Name),
			zap.String("subscription_id", created.ID.String()),
		)
	}

	return &domain.SubscriptionResponse{
		ID:        created.ID.String(),
		GuildID:   created.GuildID,
		TierID:    created.TierID.String(),
		TierName:  tier.Name,
		StartsAt:  created.StartsAt,
		EndsAt:    created.EndsAt,
		Status:    string(created.Status),
		CreatedAt: created.CreatedAt,
	}, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, guildID string) ([]domain.SubscriptionResponse, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, domain.ErrInvalidGuildID
	}
	rows, err := s.repo.ListByGuild(ctx, s.db, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SubscriptionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SubscriptionResponse{
			ID:        row.ID.String(),
			GuildID:   row.GuildID,
			TierID:    row.TierID.String(),
			TierName:  row.TierName,
			StartsAt:  row.StartsAt,
			EndsAt:    row.EndsAt,
			Status:    string(row.Status),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.PaymentResponse, error) {
	guildID := strings.TrimSpace(req.GuildID)
	if guildID == "" {
		return nil, domain.ErrInvalidGuildID
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, domain.ErrInvalidAmount
	}
	currency := defaultCurrency
	if v := strings.ToUpper(strings.TrimSpace(req.Currency)); v != "" {
		if len(v) != 3 {
			return nil, domain.ErrInvalidCurrency
		}
		currency = v
	}
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	status := domain.PaymentPending
	if v := strings.ToUpper(strings.TrimSpace(req.Status)); v != "" {
		status = domain.PaymentStatus(v)
		if !status.Valid() {
			return nil, domain.ErrInvalidStatus
		}
	}

	now := s.clock.Now().UTC()
	payment := domain.Payment{
		ID:        s.genID.Generate(),
		GuildID:   guildID,
		Amount:    amount,
		Currency:  currency,
		Provider:  provider,
		Status:    status,
		CreatedAt: now,
	}
	if v := strings.TrimSpace(req.ProviderTxID); v != "" {
		payment.ProviderTxID = &v
	}
	if status == domain.PaymentSuccess {
		payment.PaidAt = &now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if v := strings.TrimSpace(req.SubscriptionID); v != "" {
			id, err := snowflake.ParseString(v)
			if err != nil || id <= 0 {
				return domain.ErrInvalidSubscriptionID
			}
			sub, err := s.repo.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if sub == nil || sub.GuildID != guildID {
				return domain.ErrSubscriptionNotFound
			}
			payment.SubscriptionID = &id
		}
		return s.repo.InsertPayment(ctx, tx, &payment)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment recorded",
		zap.String("guild_id", guildID),
		zap.String("payment_id", payment.ID.String()),
		zap.String("status", string(status)),
	)

	resp := &domain.PaymentResponse{
		ID:           payment.ID.String(),
		GuildID:      payment.GuildID,
		Amount:       payment.Amount.StringFixed(2),
		Currency:     payment.Currency,
		Provider:     payment.Provider,
		ProviderTxID: payment.ProviderTxID,
		Status:       string(payment.Status),
		PaidAt:       payment.PaidAt,
		CreatedAt:    payment.CreatedAt,
	}
	if payment.SubscriptionID != nil {
		id := payment.SubscriptionID.String()
		resp.SubscriptionID = &id
	}
	return resp, nil
}
