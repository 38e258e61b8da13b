package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/guildgate/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	TierName string     `json:"tier_name" validate:"required,max=100"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
	Status   string     `json:"status" validate:"omitempty,oneof=ACTIVE EXPIRED CANCELED REFUNDED"`
}

type recordPaymentRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"omitempty,numeric"`
	Amount         string `json:"amount" validate:"required"`
	Currency       string `json:"currency" validate:"omitempty,iso4217"`
	Provider       string `json:"provider" validate:"required,max=50"`
	ProviderTxID   string `json:"provider_tx_id" validate:"max=255"`
	Status         string `json:"status" validate:"omitempty,oneof=PENDING SUCCESS FAILED REFUNDED"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptionSvc.CreateSubscription(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		GuildID:  pathParam(c, "guildId"),
		TierName: req.TierName,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Status:   req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	resp, err := s.subscriptionSvc.ListSubscriptions(c.Request.Context(), pathParam(c, "guildId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptionSvc.RecordPayment(c.Request.Context(), subscriptiondomain.RecordPaymentRequest{
		GuildID:        pathParam(c, "guildId"),
		SubscriptionID: req.SubscriptionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		ProviderTxID:   req.ProviderTxID,
		Status:         req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
