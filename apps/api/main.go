package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/apikey"
	"github.com/smallbiznis/accessflow/internal/audit"
	"github.com/smallbiznis/accessflow/internal/billing"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/smallbiznis/accessflow/internal/idempotency"
	"github.com/smallbiznis/accessflow/internal/migration"
	"github.com/smallbiznis/accessflow/internal/observability"
	"github.com/smallbiznis/accessflow/internal/pipeline"
	"github.com/smallbiznis/accessflow/internal/queue"
	"github.com/smallbiznis/accessflow/internal/ratelimit"
	"github.com/smallbiznis/accessflow/internal/redis"
	"github.com/smallbiznis/accessflow/internal/server"
	"github.com/smallbiznis/accessflow/internal/storage"
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
		migration.Module,

		// Request path dependencies
		idempotency.Module,
		ratelimit.Module,
		queue.Module,
		storage.Module,
		tenant.Module,
		apikey.Module,
		audit.Module,
		usage.Module,
		pipeline.Module,

		// Webhook ingress and checkout
		billing.Module,
		subscription.Module,

		// No scheduler: grace expiry runs in apps/scheduler.
		server.Module,
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
