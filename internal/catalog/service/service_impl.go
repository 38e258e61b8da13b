package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/guildgate/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/guildgate/internal/entitlement/domain"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	"github.com/smallbiznis/guildgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultTierName    = "Free"
	DefaultFeatureCode = "core"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	TenantRepo  tenantdomain.Repository
	Invalidator entitlementdomain.Invalidator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	tenantRepo  tenantdomain.Repository
	invalidator entitlementdomain.Invalidator
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("catalog.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		tenantRepo:  p.TenantRepo,
		invalidator: p.Invalidator,
	}
}

func (s *Service) CreateTier(ctx context.Context, req domain.CreateTierRequest) (*domain.TierResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.PriceMonthly.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}

	now := time.Now().UTC()
	tier := &domain.Tier{
		ID:           s.genID.Generate(),
		Name:         name,
		Description:  trimOptional(req.Description),
		PriceMonthly: req.PriceMonthly.Round(2),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindTierByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrTierExists
		}

		current, err := s.repo.FindDefaultTier(ctx, tx)
		if err != nil {
			return err
		}
		// the first tier becomes default so lazy initialization always has a target
		tier.IsDefault = req.IsDefault || current == nil
		if tier.IsDefault && current != nil {
			if err := s.repo.ClearDefaultTier(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.repo.CreateTier(ctx, tx, tier); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrTierExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tier created", zap.String("tier", name), zap.Bool("default", tier.IsDefault))
	resp := toTierResponse(tier)
	return &resp, nil
}

func (s *Service) SetDefaultTier(ctx context.Context, tierID string) (*domain.TierResponse, error) {
	id, err := parseID(tierID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var tier *domain.Tier
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tier, err = s.repo.FindTierByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if tier == nil {
			return domain.ErrTierNotFound
		}
		if !tier.IsActive {
			return domain.ErrTierInactive
		}
		if err := s.repo.ClearDefaultTier(ctx, tx); err != nil {
			return err
		}
		tier.IsDefault = true
		return s.repo.MarkDefaultTier(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}

	resp := toTierResponse(tier)
	return &resp, nil
}

func (s *Service) ListTiers(ctx context.Context) ([]domain.TierResponse, error) {
	tiers, err := s.repo.ListTiers(ctx, s.db)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.TierResponse, 0, len(tiers))
	for i := range tiers {
		resp = append(resp, toTierResponse(&tiers[i]))
	}
	return resp, nil
}

func (s *Service) GetTierByName(ctx context.Context, name string) (*domain.TierResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	tier, err := s.repo.FindTierByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrTierNotFound
	}
	resp := toTierResponse(tier)
	return &resp, nil
}

func (s *Service) CreateFeature(ctx context.Context, req domain.CreateFeatureRequest) (*domain.FeatureResponse, error) {
	code, err := normalizeFeatureCode(req.Code)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	enabled := true
	if req.IsGlobalEnabled != nil {
		enabled = *req.IsGlobalEnabled
	}

	now := time.Now().UTC()
	feature := &domain.Feature{
		ID:              s.genID.Generate(),
		Code:            code,
		Name:            name,
		Description:     trimOptional(req.Description),
		IsGlobalEnabled: enabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.CreateFeature(ctx, s.db, feature); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrFeatureExists
		}
		return nil, err
	}

	resp := toFeatureResponse(feature)
	return &resp, nil
}

func (s *Service) SetFeatureGlobalEnabled(ctx context.Context, featureID string, enabled bool) (*domain.FeatureResponse, error) {
	id, err := parseID(featureID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var feature *domain.Feature
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		feature, err = s.repo.FindFeatureByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if feature == nil {
			return domain.ErrFeatureNotFound
		}
		feature.IsGlobalEnabled = enabled
		return s.repo.SetFeatureGlobalEnabled(ctx, tx, id, enabled)
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.InvalidateCommands(ctx); err != nil {
		return nil, fmt.Errorf("invalidate commands: %w", err)
	}

	s.log.Info("feature kill switch changed", zap.String("feature", feature.Code), zap.Bool("enabled", enabled))
	resp := toFeatureResponse(feature)
	return &resp, nil
}

func (s *Service) ListFeatures(ctx context.Context) ([]domain.FeatureResponse, error) {
	features, err := s.repo.ListFeatures(ctx, s.db)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.FeatureResponse, 0, len(features))
	for i := range features {
		resp = append(resp, toFeatureResponse(&features[i]))
	}
	return resp, nil
}

func (s *Service) LinkFeature(ctx context.Context, req domain.LinkFeatureRequest) (*domain.TierFeatureResponse, error) {
	tierID, err := parseID(req.TierID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	featureID, err := parseID(req.FeatureID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if (req.UsageLimit == nil) != (req.ResetPeriod == nil) {
		return nil, domain.ErrInvalidQuota
	}
	if req.UsageLimit != nil && *req.UsageLimit < 0 {
		return nil, domain.ErrInvalidQuota
	}
	if req.ResetPeriod != nil && !req.ResetPeriod.Valid() {
		return nil, domain.ErrInvalidResetPeriod
	}

	link := &domain.TierFeature{
		TierID:      tierID,
		FeatureID:   featureID,
		UsageLimit:  req.UsageLimit,
		ResetPeriod: req.ResetPeriod,
	}

	var guildIDs []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTierAndFeature(ctx, tx, tierID, featureID); err != nil {
			return err
		}
		if err := s.repo.UpsertTierFeature(ctx, tx, link); err != nil {
			return err
		}
		guildIDs, err = s.tenantRepo.ListGuildIDsByTier(ctx, tx, tierID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.InvalidateGuilds(ctx, guildIDs); err != nil {
		return nil, fmt.Errorf("invalidate tier guilds: %w", err)
	}

	return &domain.TierFeatureResponse{
		TierID:      tierID.String(),
		FeatureID:   featureID.String(),
		UsageLimit:  link.UsageLimit,
		ResetPeriod: link.ResetPeriod,
	}, nil
}

func (s *Service) UnlinkFeature(ctx context.Context, tierID, featureID string) error {
	tid, err := parseID(tierID)
	if err != nil {
		return domain.ErrInvalidID
	}
	fid, err := parseID(featureID)
	if err != nil {
		return domain.ErrInvalidID
	}

	var guildIDs []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.repo.DeleteTierFeature(ctx, tx, tid, fid)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrLinkNotFound
		}
		guildIDs, err = s.tenantRepo.ListGuildIDsByTier(ctx, tx, tid)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.invalidator.InvalidateGuilds(ctx, guildIDs); err != nil {
		return fmt.Errorf("invalidate tier guilds: %w", err)
	}
	return nil
}

func (s *Service) RegisterCommand(ctx context.Context, req domain.RegisterCommandRequest) (*domain.CommandResponse, error) {
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if !slug.IsSlug(name) {
		return nil, domain.ErrInvalidName
	}
	code, err := normalizeFeatureCode(req.FeatureCode)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cmd := &domain.Command{
		Name:          name,
		Description:   trimOptional(req.Description),
		IsMaintenance: req.IsMaintenance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		feature, err := s.repo.FindFeatureByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if feature == nil {
			return domain.ErrFeatureNotFound
		}
		cmd.FeatureID = feature.ID
		return s.repo.UpsertCommand(ctx, tx, cmd)
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.InvalidateCommands(ctx); err != nil {
		return nil, fmt.Errorf("invalidate commands: %w", err)
	}

	return &domain.CommandResponse{
		Name:          cmd.Name,
		FeatureID:     cmd.FeatureID.String(),
		FeatureCode:   code,
		Description:   cmd.Description,
		IsMaintenance: cmd.IsMaintenance,
	}, nil
}

func (s *Service) SetCommandMaintenance(ctx context.Context, name string, maintenance bool) (*domain.CommandResponse, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	var cmd *domain.Command
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.repo.SetCommandMaintenance(ctx, tx, name, maintenance)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrCommandNotFound
		}
		cmd, err = s.repo.FindCommand(ctx, tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.InvalidateCommands(ctx); err != nil {
		return nil, fmt.Errorf("invalidate commands: %w", err)
	}

	return &domain.CommandResponse{
		Name:          cmd.Name,
		FeatureID:     cmd.FeatureID.String(),
		Description:   cmd.Description,
		IsMaintenance: cmd.IsMaintenance,
	}, nil
}

func (s *Service) ListCommands(ctx context.Context) ([]domain.CommandResponse, error) {
	bindings, err := s.repo.ListCommandBindings(ctx, s.db)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.CommandResponse, 0, len(bindings))
	for _, b := range bindings {
		resp = append(resp, domain.CommandResponse{
			Name:          b.Name,
			FeatureID:     b.FeatureID.String(),
			FeatureCode:   b.FeatureCode,
			IsMaintenance: b.IsMaintenance,
		})
	}
	return resp, nil
}

// EnsureDefaults seeds the default tier and the core feature. It is safe to run on every start.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		tier, err := s.repo.FindTierByName(ctx, tx, DefaultTierName)
		if err != nil {
			return err
		}
		if tier == nil {
			current, err := s.repo.FindDefaultTier(ctx, tx)
			if err != nil {
				return err
			}
			tier = &domain.Tier{
				ID:           s.genID.Generate(),
				Name:         DefaultTierName,
				Description:  ptr("Default tier assigned to new guilds"),
				PriceMonthly: decimal.Zero,
				IsDefault:    current == nil,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.repo.CreateTier(ctx, tx, tier); err != nil {
				return err
			}
			s.log.Info("default tier seeded", zap.String("tier", tier.Name))
		}

		feature, err := s.repo.FindFeatureByCode(ctx, tx, DefaultFeatureCode)
		if err != nil {
			return err
		}
		if feature != nil {
			return nil
		}
		feature = &domain.Feature{
			ID:              s.genID.Generate(),
			Code:            DefaultFeatureCode,
			Name:            "Core",
			Description:     ptr("Basic commands available on every tier"),
			IsGlobalEnabled: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.CreateFeature(ctx, tx, feature); err != nil {
			return err
		}
		s.log.Info("default feature seeded", zap.String("feature", feature.Code))
		return s.repo.UpsertTierFeature(ctx, tx, &domain.TierFeature{TierID: tier.ID, FeatureID: feature.ID})
	})
}

func (s *Service) ensureTierAndFeature(ctx context.Context, tx *gorm.DB, tierID, featureID snowflake.ID) error {
	tier, err := s.repo.FindTierByID(ctx, tx, tierID)
	if err != nil {
		return err
	}
	if tier == nil {
		return domain.ErrTierNotFound
	}
	feature, err := s.repo.FindFeatureByID(ctx, tx, featureID)
	if err != nil {
		return err
	}
	if feature == nil {
		return domain.ErrFeatureNotFound
	}
	return nil
}

// normalizeFeatureCode accepts slug-shaped codes in any case, e.g. "STATS" or "voice-stats".
func normalizeFeatureCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" || !slug.IsSlug(strings.ToLower(code)) {
		return "", domain.ErrInvalidCode
	}
	return code, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return snowflake.ID(id), nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func ptr[T any](v T) *T {
	return &v
}

func toTierResponse(t *domain.Tier) domain.TierResponse {
	return domain.TierResponse{
		ID:           t.ID.String(),
		Name:         t.Name,
		Description:  t.Description,
		PriceMonthly: t.PriceMonthly,
		IsDefault:    t.IsDefault,
		IsActive:     t.IsActive,
		CreatedAt:    t.CreatedAt,
	}
}

func toFeatureResponse(f *domain.Feature) domain.FeatureResponse {
	return domain.FeatureResponse{
		ID:              f.ID.String(),
		Code:            f.Code,
		Name:            f.Name,
		Description:     f.Description,
		IsGlobalEnabled: f.IsGlobalEnabled,
		CreatedAt:       f.CreatedAt,
	}
}
