package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/guildgate/internal/cache"
	"github.com/smallbiznis/guildgate/internal/catalog"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/entitlement"
	"github.com/smallbiznis/guildgate/internal/migration"
	"github.com/smallbiznis/guildgate/internal/observability"
	"github.com/smallbiznis/guildgate/internal/ratelimit"
	"github.com/smallbiznis/guildgate/internal/server"
	"github.com/smallbiznis/guildgate/internal/subscription"
	"github.com/smallbiznis/guildgate/internal/tenant"
	"github.com/smallbiznis/guildgate/internal/usage"
	"github.com/smallbiznis/guildgate/internal/usage/syncjob"
	"github.com/smallbiznis/guildgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,

		// Functional Domains
		catalog.Module,
		tenant.Module,
		entitlement.Module,
		subscription.Module,
		usage.Module,
		ratelimit.Module,
		syncjob.Module,
		syncjob.Schedule,
		migration.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
			s.RegisterAdminRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
