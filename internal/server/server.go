package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	entitlementdomain "github.com/smallbiznis/guildgate/internal/entitlement/domain"
	"github.com/smallbiznis/guildgate/internal/observability"
	obsmiddleware "github.com/smallbiznis/guildgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/guildgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/guildgate/internal/observability/tracing"
	"github.com/smallbiznis/guildgate/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/guildgate/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"github.com/smallbiznis/guildgate/internal/usage/syncjob"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	syncRequestTimeout    = 2 * time.Minute
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RunHTTP serves the engine on the configured address for the lifetime of the app.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	clock    clock.Clock
	validate *validator.Validate

	entitlementSvc  entitlementdomain.Service
	snapshots       entitlementdomain.SnapshotStore
	tenantSvc       tenantdomain.Service
	catalogSvc      catalogdomain.Service
	subscriptionSvc subscriptiondomain.Service
	meter           usagedomain.Meter
	syncWorker      *syncjob.Worker
	limiter         *ratelimit.GuildLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock

	EntitlementSvc  entitlementdomain.Service
	Snapshots       entitlementdomain.SnapshotStore
	TenantSvc       tenantdomain.Service
	CatalogSvc      catalogdomain.Service      `optional:"true"`
	SubscriptionSvc subscriptiondomain.Service `optional:"true"`
	Meter           usagedomain.Meter
	SyncWorker      *syncjob.Worker         `optional:"true"`
	Limiter         *ratelimit.GuildLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		clock:           p.Clock,
		validate:        newValidator(),
		entitlementSvc:  p.EntitlementSvc,
		snapshots:       p.Snapshots,
		tenantSvc:       p.TenantSvc,
		catalogSvc:      p.CatalogSvc,
		subscriptionSvc: p.SubscriptionSvc,
		meter:           p.Meter,
		syncWorker:      p.SyncWorker,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterAPIRoutes mounts the command-dispatch surface used by the chat front end.
func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(RequestTimeout(defaultRequestTimeout))
	api.Use(s.GuildRateLimit())

	api.POST("/guilds/:guildId/init", s.InitGuild)
	api.POST("/entitlements/check", s.CheckEntitlement)
	api.POST("/entitlements/consume", s.ConsumeEntitlement)

	api.POST("/usage/increment", s.IncrementUsage)
	api.GET("/usage", s.GetUsage)
}

// RegisterAdminRoutes mounts catalog, tenant, subscription and usage tooling.
func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminRequired())

	// -------- Tiers --------
	admin.GET("/tiers", RequestTimeout(defaultRequestTimeout), s.ListTiers)
	admin.POST("/tiers", RequestTimeout(defaultRequestTimeout), s.CreateTier)
	admin.POST("/tiers/:id/default", RequestTimeout(defaultRequestTimeout), s.SetDefaultTier)
	admin.PUT("/tiers/:id/features/:featureId", RequestTimeout(defaultRequestTimeout), s.LinkTierFeature)
	admin.DELETE("/tiers/:id/features/:featureId", RequestTimeout(defaultRequestTimeout), s.UnlinkTierFeature)

	// -------- Features --------
	admin.GET("/features", RequestTimeout(defaultRequestTimeout), s.ListFeatures)
	admin.POST("/features", RequestTimeout(defaultRequestTimeout), s.CreateFeature)
	admin.POST("/features/:id/global", RequestTimeout(defaultRequestTimeout), s.SetFeatureGlobal)

	// -------- Commands --------
	admin.GET("/commands", RequestTimeout(defaultRequestTimeout), s.ListCommands)
	admin.PUT("/commands", RequestTimeout(defaultRequestTimeout), s.RegisterCommand)
	admin.POST("/commands/:name/maintenance", RequestTimeout(defaultRequestTimeout), s.SetCommandMaintenance)

	// -------- Guilds --------
	guilds := admin.Group("/guilds/:guildId", RequestTimeout(defaultRequestTimeout))
	{
		guilds.GET("", s.GetGuild)
		guilds.PUT("/tier", s.SetGuildTier)
		guilds.PUT("/expiry", s.SetGuildExpiry)
		guilds.PUT("/features/:featureId", s.ToggleGuildFeature)
		guilds.PUT("/commands/:name/permissions", s.SetCommandPermission)
		guilds.DELETE("/commands/:name/permissions", s.ClearCommandPermission)
		guilds.GET("/snapshot", s.GetGuildSnapshot)

		guilds.POST("/subscriptions", s.CreateSubscription)
		guilds.GET("/subscriptions", s.ListSubscriptions)
		guilds.POST("/payments", s.RecordPayment)
	}

	// -------- Usage --------
	admin.GET("/usage/ledger", RequestTimeout(defaultRequestTimeout), s.ListLedger)
	admin.POST("/usage/sync", RequestTimeout(syncRequestTimeout), s.TriggerSync)
}
