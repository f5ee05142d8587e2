package audit

import (
	"github.com/smallbiznis/accessflow/internal/audit/repository"
	"github.com/smallbiznis/accessflow/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
