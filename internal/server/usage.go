package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/observability/logger"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"github.com/smallbiznis/guildgate/internal/usage/syncjob"
	"go.uber.org/zap"
)

type incrementResponse struct {
	GuildID     string    `json:"guild_id"`
	FeatureID   string    `json:"feature_id"`
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	Live        int64     `json:"live"`
}

type syncResponse struct {
	syncjob.Stats
	Partial bool `json:"partial"`
}

func (s *Server) IncrementUsage(c *gin.Context) {
	var req usagedomain.IncrementRequest
	if err := s.bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	featureID, period, err := parseUsageTarget(req.FeatureID, req.Period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	value, err := s.meter.IncrementUsage(c.Request.Context(), req.GuildID, featureID, period, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	start, _ := usagedomain.PeriodStart(period, s.clock.Now())

	c.JSON(http.StatusOK, gin.H{"data": incrementResponse{
		GuildID:     req.GuildID,
		FeatureID:   featureID.String(),
		Period:      string(period),
		PeriodStart: start,
		Live:        value,
	}})
}

// GetUsage reports both the unflushed live counter and the period total including the ledger.
func (s *Server) GetUsage(c *gin.Context) {
	var query usagedomain.UsageQuery
	if err := s.bindQuery(c, &query); err != nil {
		AbortWithError(c, err)
		return
	}

	featureID, period, err := parseUsageTarget(query.FeatureID, query.Period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	live, err := s.meter.GetUsage(ctx, query.GuildID, featureID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	total, err := s.meter.CurrentUsage(ctx, query.GuildID, featureID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	start, _ := usagedomain.PeriodStart(period, s.clock.Now())

	c.JSON(http.StatusOK, gin.H{"data": usagedomain.UsageResponse{
		GuildID:     query.GuildID,
		FeatureID:   featureID.String(),
		Period:      string(period),
		PeriodStart: start,
		Live:        live,
		Total:       total,
	}})
}

func (s *Server) ListLedger(c *gin.Context) {
	var req usagedomain.ListLedgerRequest
	if err := s.bindQuery(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.meter.ListLedger(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// TriggerSync runs one flush under the shared lease. A run with failed pages still
// reports its counters; failures that stop the run before any page are errors.
func (s *Server) TriggerSync(c *gin.Context) {
	if s.syncWorker == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	stats, err := s.syncWorker.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, syncjob.ErrSyncInProgress) || stats.FailedPages == 0 {
			AbortWithError(c, err)
			return
		}
		logger.FromContext(ctx).Warn("usage sync finished with failed pages",
			zap.Int("failed_pages", stats.FailedPages),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": syncResponse{Stats: stats, Partial: err != nil}})
}

func parseUsageTarget(rawFeatureID, rawPeriod string) (snowflake.ID, catalogdomain.ResetPeriod, error) {
	featureID, err := snowflake.ParseString(rawFeatureID)
	if err != nil || featureID <= 0 {
		return 0, "", usagedomain.ErrInvalidFeatureID
	}
	period := catalogdomain.ResetPeriod(rawPeriod)
	if !period.Valid() {
		return 0, "", usagedomain.ErrInvalidPeriod
	}
	return featureID, period, nil
}
