package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	entitlementdomain "github.com/smallbiznis/guildgate/internal/entitlement/domain"
	"github.com/smallbiznis/guildgate/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        domain.Repository
	CatalogRepo catalogdomain.Repository
	Invalidator entitlementdomain.Invalidator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	catalogRepo catalogdomain.Repository
	invalidator entitlementdomain.Invalidator
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("tenant.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		catalogRepo: p.CatalogRepo,
		invalidator: p.Invalidator,
	}
}

func (s *Service) InitializeTenant(ctx context.Context, guildID string) (bool, error) {
	guildID, err := normalizeGuildID(guildID)
	if err != nil {
		return false, err
	}

	existing, err := s.repo.FindSettings(ctx, s.db, guildID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, created, err = s.ensureSettings(ctx, tx, guildID)
		return err
	})
	if err != nil {
		return false, err
	}
	if !created {
		// a concurrent initializer won the insert; its own eviction covers the cache
		return false, nil
	}

	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		return true, fmt.Errorf("invalidate snapshot: %w", err)
	}
	s.log.Info("guild initialized", zap.String("guild_id", guildID))
	return true, nil
}

func (s *Service) GetSettings(ctx context.Context, guildID string) (*domain.SettingsResponse, error) {
	guildID, err := normalizeGuildID(guildID)
	if err != nil {
		return nil, err
	}
	return s.loadSettings(ctx, s.db, guildID)
}

func (s *Service) SetTier(ctx context.Context, guildID, tierName string) (*domain.SettingsResponse, error) {
	guildID, err := normalizeGuildID(guildID)
	if err != nil {
		return nil, err
	}
	tierName = strings.TrimSpace(tierName)
	if tierName == "" {
		return nil, domain.ErrInvalidTier
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tier, err := s.catalogRepo.FindTierByName(ctx, tx, tierName)
		if err != nil {
			return err
		}
		if tier == nil {
			return catalogdomain.ErrTierNotFound
		}
		if !tier.IsActive {
			return catalogdomain.ErrTierInactive
		}

		settings, err := s.repo.FindSettings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if settings == nil {
			now := s.clock.Now()
			_, err := s.repo.InsertSettingsIfAbsent(ctx, tx, &domain.Settings{
				GuildID:   guildID,
				TierID:    tier.ID,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			// lost a race with lazy initialization; fall through to the update
		}
		return s.repo.UpdateTier(ctx, tx, guildID, tier.ID)
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		return nil, fmt.Errorf("invalidate snapshot: %w", err)
	}
	s.log.Info("guild tier changed", zap.String("guild_id", guildID), zap.String("tier", tierName))
	return s.loadSettings(ctx, s.db, guildID)
}

func (s *Service) SetSubscriptionExpiry(ctx context.Context, guildID string, expiresAt *time.Time) (*domain.SettingsResponse, error) {
	guildID, err := normalizeGuildID(guildID)
	if err != nil {
		return nil, err
	}
	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.repo.FindSettings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if settings == nil {
			return domain.ErrGuildNotInitialized
		}
		return s.repo.UpdateSubscriptionExpiry(ctx, tx, guildID, expiresAt)
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		return nil, fmt.Errorf("invalidate snapshot: %w", err)
	}
	return s.loadSettings(ctx, s.db, guildID)
}

func (s *Service) ToggleFeature(ctx context.Context, req domain.ToggleFeatureRequest) error {
	guildID, err := normalizeGuildID(req.GuildID)
	if err != nil {
		return err
	}
	featureID, err := parseID(req.FeatureID)
	if err != nil {
		return domain.ErrInvalidFeatureID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.repo.FindSettings(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if settings == nil {
			return domain.ErrGuildNotInitialized
		}
		feature, err := s.catalogRepo.FindFeatureByID(ctx, tx, featureID)
		if err != nil {
			return err
		}
		if feature == nil {
			return catalogdomain.ErrFeatureNotFound
		}
		return s.repo.UpsertOverride(ctx, tx, &domain.FeatureOverride{
			GuildID:   guildID,
			FeatureID: featureID,
			IsEnabled: req.Enabled,
			UpdatedAt: s.clock.Now(),
		})
	})
	if err != nil {
		return err
	}

	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	s.log.Info("guild feature toggled",
		zap.String("guild_id", guildID),
		zap.String("feature_id", featureID.String()),
		zap.Bool("enabled", req.Enabled),
	)
	return nil
}

func (s *Service) SetCommandPermission(ctx context.Context, req domain.SetCommandPermissionRequest) error {
	guildID, err := normalizeGuildID(req.GuildID)
	if err != nil {
		return err
	}
	commandName := strings.ToLower(strings.TrimSpace(req.CommandName))
	if commandName == "" {
		return domain.ErrInvalidCommand
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, _, err := s.ensureSettings(ctx, tx, guildID); err != nil {
			return err
		}
		cmd, err := s.catalogRepo.FindCommand(ctx, tx, commandName)
		if err != nil {
			return err
		}
		if cmd == nil {
			return catalogdomain.ErrCommandNotFound
		}
		return s.repo.UpsertPermission(ctx, tx, &domain.CommandPermission{
			GuildID:           guildID,
			CommandName:       commandName,
			AllowedRoleIDs:    normalizeIDs(req.AllowedRoleIDs),
			AllowedChannelIDs: normalizeIDs(req.AllowedChannelIDs),
			DenyRoleIDs:       normalizeIDs(req.DenyRoleIDs),
			UpdatedAt:         s.clock.Now(),
		})
	})
	if err != nil {
		return err
	}

	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

func (s *Service) ClearCommandPermission(ctx context.Context, guildID, commandName string) error {
	guildID, err := normalizeGuildID(guildID)
	if err != nil {
		return err
	}
	commandName = strings.ToLower(strings.TrimSpace(commandName))
	if commandName == "" {
		return domain.ErrInvalidCommand
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.repo.DeletePermission(ctx, tx, guildID, commandName)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrPermissionNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

// ensureSettings returns the guild's settings, creating them on the default tier when absent.
func (s *Service) ensureSettings(ctx context.Context, tx *gorm.DB, guildID string) (*domain.Settings, bool, error) {
	settings, err := s.repo.FindSettings(ctx, tx, guildID)
	if err != nil {
		return nil, false, err
	}
	if settings != nil {
		return settings, false, nil
	}

	tier, err := s.catalogRepo.FindDefaultTier(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if tier == nil {
		s.log.Error("no default tier configured", zap.String("guild_id", guildID))
		return nil, false, domain.ErrDefaultTierMissing
	}

	now := s.clock.Now()
	settings = &domain.Settings{
		GuildID:   guildID,
		TierID:    tier.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.repo.InsertSettingsIfAbsent(ctx, tx, settings)
	if err != nil {
		return nil, false, err
	}
	return settings, created, nil
}

func (s *Service) loadSettings(ctx context.Context, db *gorm.DB, guildID string) (*domain.SettingsResponse, error) {
	row, err := s.repo.FindSettingsWithTier(ctx, db, guildID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrGuildNotInitialized
	}
	overrides, err := s.repo.ListOverrides(ctx, db, guildID)
	if err != nil {
		return nil, err
	}
	perms, err := s.repo.ListPermissions(ctx, db, guildID)
	if err != nil {
		return nil, err
	}

	resp := &domain.SettingsResponse{
		GuildID:               row.GuildID,
		TierID:                row.TierID.String(),
		TierName:              row.TierName,
		SubscriptionExpiresAt: row.SubscriptionExpiresAt,
		Overrides:             make([]domain.FeatureOverrideResponse, 0, len(overrides)),
		Permissions:           make([]domain.CommandPermissionResponse, 0, len(perms)),
		CreatedAt:             row.CreatedAt,
	}
	for _, o := range overrides {
		resp.Overrides = append(resp.Overrides, domain.FeatureOverrideResponse{
			FeatureID: o.FeatureID.String(),
			Enabled:   o.IsEnabled,
		})
	}
	for _, p := range perms {
		resp.Permissions = append(resp.Permissions, domain.CommandPermissionResponse{
			CommandName:       p.CommandName,
			AllowedRoleIDs:    []string(p.AllowedRoleIDs),
			AllowedChannelIDs: []string(p.AllowedChannelIDs),
			DenyRoleIDs:       []string(p.DenyRoleIDs),
		})
	}
	return resp, nil
}

func normalizeGuildID(guildID string) (string, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" || len(guildID) > 64 {
		return "", domain.ErrInvalidGuildID
	}
	return guildID, nil
}

// normalizeIDs trims, drops blanks and duplicates, and sorts so equal rules serialize identically.
func normalizeIDs(ids []string) datatypes.JSONSlice[string] {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return datatypes.JSONSlice[string](slices.Compact(out))
}

func parseID(value string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidFeatureID
	}
	return snowflake.ID(id), nil
}
