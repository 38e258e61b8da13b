package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/guildgate/internal/entitlement/domain"
)

type consumeRequest struct {
	entitlementdomain.CheckRequest
	Amount int64 `json:"amount" validate:"omitempty,min=1,max=1000000"`
}

type initGuildResponse struct {
	GuildID string `json:"guild_id"`
	Created bool   `json:"created"`
}

func (s *Server) InitGuild(c *gin.Context) {
	guildID := pathParam(c, "guildId")
	created, err := s.tenantSvc.InitializeTenant(c.Request.Context(), guildID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": initGuildResponse{GuildID: guildID, Created: created}})
}

// CheckEntitlement answers whether a command may run. Denials are 200 responses
// carrying a reason code; only infrastructure failures are errors.
func (s *Server) CheckEntitlement(c *gin.Context) {
	var req entitlementdomain.CheckRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.entitlementSvc.CheckEntitlement(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("reason_code", string(res.ReasonCode))
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) ConsumeEntitlement(c *gin.Context) {
	var req consumeRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	res, err := s.entitlementSvc.CheckAndConsume(c.Request.Context(), req.CheckRequest, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("reason_code", string(res.ReasonCode))
	c.JSON(http.StatusOK, gin.H{"data": res})
}
