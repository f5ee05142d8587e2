package service

import (
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/smallbiznis/accessflow/internal/idempotency"
	obsmetrics "github.com/smallbiznis/accessflow/internal/observability/metrics"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	"github.com/smallbiznis/accessflow/internal/queue"
	"github.com/smallbiznis/accessflow/internal/storage"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Presets     *config.PresetHolder
	Queue       queue.Queue
	Idempotency *idempotency.Store
	Usage       usagedomain.Service
	Repo        pipelinedomain.Repository
	Signer      storage.SignedURLProvider `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	presets     *config.PresetHolder
	queue       queue.Queue
	idempotency *idempotency.Store
	usage       usagedomain.Service
	repo        pipelinedomain.Repository
	signer      storage.SignedURLProvider
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) pipelinedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("pipeline.orchestrator"),
		clock:       p.Clock,
		presets:     p.Presets,
		queue:       p.Queue,
		idempotency: p.Idempotency,
		usage:       p.Usage,
		repo:        p.Repo,
		signer:      p.Signer,
		obsMetrics:  p.ObsMetrics,
	}
}
