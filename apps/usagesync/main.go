package main

import (
	"github.com/smallbiznis/guildgate/internal/cache"
	"github.com/smallbiznis/guildgate/internal/clock"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/smallbiznis/guildgate/internal/observability"
	"github.com/smallbiznis/guildgate/internal/ratelimit"
	"github.com/smallbiznis/guildgate/internal/usage"
	"github.com/smallbiznis/guildgate/internal/usage/syncjob"
	"github.com/smallbiznis/guildgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		cache.Module,
		clock.Module,

		usage.Module,
		ratelimit.Module,
		syncjob.Module,

		// No server module!
		syncjob.Schedule,
	)
	app.Run()
}
