package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
)

type linkTierFeatureRequest struct {
	UsageLimit  *int64                     `json:"usage_limit" validate:"omitempty,gte=0"`
	ResetPeriod *catalogdomain.ResetPeriod `json:"reset_period" validate:"omitempty,oneof=DAILY MONTHLY YEARLY"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type maintenanceRequest struct {
	Maintenance *bool `json:"maintenance" validate:"required"`
}

// -------- Tiers --------

func (s *Server) ListTiers(c *gin.Context) {
	resp, err := s.catalogSvc.ListTiers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateTier(c *gin.Context) {
	var req catalogdomain.CreateTierRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	resp, err := s.catalogSvc.CreateTier(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) SetDefaultTier(c *gin.Context) {
	resp, err := s.catalogSvc.SetDefaultTier(c.Request.Context(), pathParam(c, "id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) LinkTierFeature(c *gin.Context) {
	var body linkTierFeatureRequest
	if err := s.bindJSON(c, &body); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.LinkFeature(c.Request.Context(), catalogdomain.LinkFeatureRequest{
		TierID:      pathParam(c, "id"),
		FeatureID:   pathParam(c, "featureId"),
		UsageLimit:  body.UsageLimit,
		ResetPeriod: body.ResetPeriod,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UnlinkTierFeature(c *gin.Context) {
	if err := s.catalogSvc.UnlinkFeature(c.Request.Context(), pathParam(c, "id"), pathParam(c, "featureId")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// -------- Features --------

func (s *Server) ListFeatures(c *gin.Context) {
	resp, err := s.catalogSvc.ListFeatures(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req catalogdomain.CreateFeatureRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.CreateFeature(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) SetFeatureGlobal(c *gin.Context) {
	var req toggleRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.SetFeatureGlobalEnabled(c.Request.Context(), pathParam(c, "id"), *req.Enabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// -------- Commands --------

func (s *Server) ListCommands(c *gin.Context) {
	resp, err := s.catalogSvc.ListCommands(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RegisterCommand upserts a command binding by name.
func (s *Server) RegisterCommand(c *gin.Context) {
	var req catalogdomain.RegisterCommandRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.RegisterCommand(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetCommandMaintenance(c *gin.Context) {
	var req maintenanceRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.catalogSvc.SetCommandMaintenance(c.Request.Context(), pathParam(c, "name"), *req.Maintenance)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
