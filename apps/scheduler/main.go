package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/apikey"
	"github.com/smallbiznis/accessflow/internal/audit"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/smallbiznis/accessflow/internal/observability"
	"github.com/smallbiznis/accessflow/internal/queue"
	"github.com/smallbiznis/accessflow/internal/redis"
	"github.com/smallbiznis/accessflow/internal/scheduler"
	"github.com/smallbiznis/accessflow/internal/subscription"
	"github.com/smallbiznis/accessflow/internal/tenant"
	"github.com/smallbiznis/accessflow/internal/usage"
	"github.com/smallbiznis/accessflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		queue.Module,

		// Domain services required by the sweeper
		tenant.Module,
		apikey.Module,
		audit.Module,
		usage.Module,
		subscription.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

// Node 2 keeps ids minted here distinct from the API process.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
