package billing

import (
	"github.com/smallbiznis/accessflow/internal/billing/adapters"
	"github.com/smallbiznis/accessflow/internal/billing/adapters/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(stripe.New),
	fx.Provide(func(sp *stripe.Provider) *adapters.Registry {
		return adapters.NewRegistry(sp)
	}),
)
