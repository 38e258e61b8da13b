package entitlement

import (
	"github.com/smallbiznis/guildgate/internal/entitlement/domain"
	"github.com/smallbiznis/guildgate/internal/entitlement/service"
	"github.com/smallbiznis/guildgate/internal/entitlement/snapshot"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(
		snapshot.New,
		func(s *snapshot.Store) domain.SnapshotStore { return s },
		func(s *snapshot.Store) domain.Invalidator { return s },
	),
	fx.Provide(service.New),
)
