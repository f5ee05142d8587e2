package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	"github.com/smallbiznis/accessflow/internal/audit/masking"
	"github.com/smallbiznis/accessflow/internal/clock"
	obscontext "github.com/smallbiznis/accessflow/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if entry.TenantID == 0 {
		return auditdomain.ErrInvalidTenant
	}

	actorType := entry.ActorType
	if actorType == "" {
		actorType = auditdomain.ActorSystem
	}

	log := auditdomain.AuditLog{
		ID:        s.genID.Generate(),
		TenantID:  entry.TenantID,
		ActorType: actorType,
		ActorID:   normalize(entry.ActorID),
		Action:    action,
		RequestID: normalize(obscontext.RequestIDFromContext(ctx)),
		CreatedAt: s.clock.Now(),
	}
	if payload := masking.MaskSensitive(entry.Metadata); len(payload) > 0 {
		log.Metadata = datatypes.JSONMap(payload)
	}

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, &log); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("tenant_id", entry.TenantID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) ([]auditdomain.AuditLog, error) {
	if req.TenantID == 0 {
		return nil, auditdomain.ErrInvalidTenant
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	logs, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TenantID: req.TenantID,
		Action:   req.Action,
		Before:   req.Before,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []auditdomain.AuditLog{}
	}
	return logs, nil
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
