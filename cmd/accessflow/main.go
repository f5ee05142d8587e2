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
	"github.com/smallbiznis/accessflow/internal/scheduler"
	"github.com/smallbiznis/accessflow/internal/server"
	"github.com/smallbiznis/accessflow/internal/storage"
	"github.com/smallbiznis/accessflow/internal/subscription"
	"github.com/smallbiznis/accessflow/internal/tenant"
	"github.com/smallbiznis/accessflow/internal/usage"
	"github.com/smallbiznis/accessflow/pkg/db"
	"go.uber.org/fx"
)

// accessflow runs the HTTP API and the grace sweeper in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		migration.Module,

		// Shared state
		idempotency.Module,
		ratelimit.Module,
		queue.Module,
		storage.Module,

		// Functional Domains
		tenant.Module,
		apikey.Module,
		audit.Module,
		usage.Module,
		pipeline.Module,
		billing.Module,
		subscription.Module,
		scheduler.Module,

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
