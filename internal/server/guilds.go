package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
)

type setTierRequest struct {
	TierName string `json:"tier_name" validate:"required,max=100"`
}

// setExpiryRequest clears the expiry when expires_at is null or absent.
type setExpiryRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type commandPermissionRequest struct {
	AllowedRoleIDs    []string `json:"allowed_role_ids" validate:"max=250,dive,required,max=64"`
	AllowedChannelIDs []string `json:"allowed_channel_ids" validate:"max=250,dive,required,max=64"`
	DenyRoleIDs       []string `json:"deny_role_ids" validate:"max=250,dive,required,max=64"`
}

func (s *Server) GetGuild(c *gin.Context) {
	resp, err := s.tenantSvc.GetSettings(c.Request.Context(), pathParam(c, "guildId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetGuildTier(c *gin.Context) {
	var req setTierRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.tenantSvc.SetTier(c.Request.Context(), pathParam(c, "guildId"), req.TierName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetGuildExpiry(c *gin.Context) {
	var req setExpiryRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.ExpiresAt != nil {
		utc := req.ExpiresAt.UTC()
		req.ExpiresAt = &utc
	}

	resp, err := s.tenantSvc.SetSubscriptionExpiry(c.Request.Context(), pathParam(c, "guildId"), req.ExpiresAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ToggleGuildFeature(c *gin.Context) {
	var req toggleRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	err := s.tenantSvc.ToggleFeature(c.Request.Context(), tenantdomain.ToggleFeatureRequest{
		GuildID:   pathParam(c, "guildId"),
		FeatureID: pathParam(c, "featureId"),
		Enabled:   *req.Enabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) SetCommandPermission(c *gin.Context) {
	var req commandPermissionRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	err := s.tenantSvc.SetCommandPermission(c.Request.Context(), tenantdomain.SetCommandPermissionRequest{
		GuildID:           pathParam(c, "guildId"),
		CommandName:       pathParam(c, "name"),
		AllowedRoleIDs:    req.AllowedRoleIDs,
		AllowedChannelIDs: req.AllowedChannelIDs,
		DenyRoleIDs:       req.DenyRoleIDs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ClearCommandPermission(c *gin.Context) {
	if err := s.tenantSvc.ClearCommandPermission(c.Request.Context(), pathParam(c, "guildId"), pathParam(c, "name")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetGuildSnapshot returns the cached entitlement view, building it on a miss.
func (s *Server) GetGuildSnapshot(c *gin.Context) {
	snap, err := s.snapshots.Get(c.Request.Context(), pathParam(c, "guildId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snap == nil {
		AbortWithError(c, tenantdomain.ErrGuildNotInitialized)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}
