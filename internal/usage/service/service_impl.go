package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	obsmetrics "github.com/smallbiznis/accessflow/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"github.com/smallbiznis/accessflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errBlocked aborts the gate transaction so nothing from a blocked request is persisted.
var errBlocked = errors.New("usage_blocked")

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	Repo       usagedomain.Repository
	TenantRepo tenantdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       usagedomain.Repository
	tenantRepo tenantdomain.Repository
	plans      config.PlanCaps
	attempts   int
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		plans:      p.Config.Plans,
		attempts:   p.Config.DBRetryAttempts,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IncrementAndGate(ctx context.Context, tenantID snowflake.ID, deltas usagedomain.Deltas) (usagedomain.GateResult, error) {
	if tenantID == 0 {
		return usagedomain.GateResult{}, usagedomain.ErrInvalidTenant
	}
	if deltas.Minutes < 0 || deltas.Jobs < 0 || deltas.EgressBytes < 0 {
		return usagedomain.GateResult{}, usagedomain.ErrInvalidDelta
	}

	var result usagedomain.GateResult
	err := db.WithRetry(ctx, s.attempts, func(ctx context.Context) error {
		result = usagedomain.GateResult{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			period := usagedomain.PeriodStart(now)

			if err := s.repo.EnsureRow(ctx, tx, tenantID, period, now); err != nil {
				return err
			}
			row, err := s.repo.LockRow(ctx, tx, tenantID)
			if err != nil {
				return err
			}
			if row == nil {
				return usagedomain.ErrInvalidTenant
			}

			caps, err := s.capsFor(ctx, tx, tenantID)
			if err != nil {
				return err
			}

			current := row.Usage()
			if row.PeriodStart.Before(period) {
				current = usagedomain.Usage{}
			}
			next := current.Add(deltas)
			result.Caps = caps
			result.PeriodStart = period

			if reason := caps.Violation(next); reason != "" {
				result.Blocked = true
				result.Reason = reason
				result.UsageAfter = current
				return errBlocked
			}

			row.PeriodStart = period
			row.MinutesUsed = next.Minutes
			row.Jobs = next.Jobs
			row.EgressBytes = next.EgressBytes
			row.UpdatedAt = now
			if err := s.repo.Save(ctx, tx, row); err != nil {
				return err
			}
			result.UsageAfter = next
			return nil
		})
	})
	if errors.Is(err, errBlocked) {
		s.obsMetrics.RecordUsageBlocked(ctx, result.Reason)
		s.log.Info("usage gate blocked",
			zap.String("tenant_id", tenantID.String()),
			zap.String("reason", result.Reason),
		)
		return result, nil
	}
	if err != nil {
		return usagedomain.GateResult{}, err
	}
	return result, nil
}

func (s *Service) Release(ctx context.Context, tenantID snowflake.ID, periodStart time.Time, deltas usagedomain.Deltas) error {
	if tenantID == 0 {
		return usagedomain.ErrInvalidTenant
	}
	if deltas.Minutes < 0 || deltas.Jobs < 0 || deltas.EgressBytes < 0 {
		return usagedomain.ErrInvalidDelta
	}
	if deltas.IsZero() {
		return nil
	}

	return db.WithRetry(ctx, s.attempts, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row, err := s.repo.LockRow(ctx, tx, tenantID)
			if err != nil {
				return err
			}
			if row == nil || !row.PeriodStart.Equal(periodStart) {
				return nil
			}

			left := row.Usage().Sub(deltas)
			row.MinutesUsed = left.Minutes
			row.Jobs = left.Jobs
			row.EgressBytes = left.EgressBytes
			row.UpdatedAt = s.clock.Now()
			if err := s.repo.Save(ctx, tx, row); err != nil {
				return err
			}

			s.log.Info("usage charge released",
				zap.String("tenant_id", tenantID.String()),
				zap.Int64("minutes", deltas.Minutes),
				zap.Int64("jobs", deltas.Jobs),
				zap.Int64("egress_bytes", deltas.EgressBytes),
			)
			return nil
		})
	})
}

func (s *Service) Current(ctx context.Context, tenantID snowflake.ID) (usagedomain.Snapshot, error) {
	if tenantID == 0 {
		return usagedomain.Snapshot{}, usagedomain.ErrInvalidTenant
	}
	period := usagedomain.PeriodStart(s.clock.Now())

	caps, err := s.capsFor(ctx, s.db, tenantID)
	if err != nil {
		return usagedomain.Snapshot{}, err
	}
	row, err := s.repo.FindRow(ctx, s.db, tenantID)
	if err != nil {
		return usagedomain.Snapshot{}, err
	}

	snap := usagedomain.Snapshot{PeriodStart: period, Caps: caps}
	if row != nil && !row.PeriodStart.Before(period) {
		snap.Usage = row.Usage()
	}
	return snap, nil
}

func (s *Service) Reset(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return usagedomain.ErrInvalidTenant
	}
	if tx == nil {
		tx = s.db
	}
	now := s.clock.Now()
	period := usagedomain.PeriodStart(now)

	if err := s.repo.EnsureRow(ctx, tx, tenantID, period, now); err != nil {
		return err
	}
	return s.repo.Save(ctx, tx, &usagedomain.UsageCounter{
		TenantID:    tenantID,
		PeriodStart: period,
		UpdatedAt:   now,
	})
}

func (s *Service) capsFor(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (usagedomain.Caps, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tx, tenantID)
	if err != nil {
		return usagedomain.Caps{}, err
	}
	if tenant == nil {
		return usagedomain.Caps{}, tenantdomain.ErrTenantNotFound
	}

	var c config.Caps
	switch tenant.Plan {
	case tenantdomain.PlanPro:
		c = s.plans.Pro
	case tenantdomain.PlanEnterprise:
		c = s.plans.Enterprise
	default:
		c = s.plans.Standard
	}
	return usagedomain.Caps{Minutes: c.Minutes, Jobs: c.Jobs, EgressBytes: c.EgressBytes}, nil
}
