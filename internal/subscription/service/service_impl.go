package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	"github.com/smallbiznis/accessflow/internal/billing/adapters"
	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	"github.com/smallbiznis/accessflow/internal/observability/errorreport"
	"github.com/smallbiznis/accessflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/accessflow/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"github.com/smallbiznis/accessflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       subscriptiondomain.Repository
	TenantRepo tenantdomain.Repository
	Tenants    tenantdomain.Service
	Usage      usagedomain.Service
	Billing    *adapters.Registry    `optional:"true"`
	Audit      auditdomain.Service   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Reporter   *errorreport.Reporter `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       subscriptiondomain.Repository
	tenantRepo tenantdomain.Repository
	tenants    tenantdomain.Service
	usage      usagedomain.Service
	billing    *adapters.Registry
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	reporter   *errorreport.Reporter

	grace    time.Duration
	cycle    time.Duration
	attempts int
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	cycle := p.Config.Subscription.BillingCycle
	if cycle <= 0 {
		cycle = 30 * 24 * time.Hour
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		tenants:    p.Tenants,
		usage:      p.Usage,
		billing:    p.Billing,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
		reporter:   p.Reporter,
		grace:      time.Duration(p.Config.Subscription.GraceDays) * 24 * time.Hour,
		cycle:      cycle,
		attempts:   p.Config.DBRetryAttempts,
	}
}

func (s *Service) Apply(ctx context.Context, ev subscriptiondomain.Event) (subscriptiondomain.Result, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", ev.Provider),
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("customer_id", ev.CustomerID),
		zap.String("subscription_id", ev.SubscriptionID),
	)

	fn, ok := transitions[ev.Type]
	if !ok {
		log.Info("billing event ignored")
		s.obsMetrics.RecordWebhookEvent(ctx, ev.Provider, string(ev.Type), string(subscriptiondomain.OutcomeIgnored))
		return subscriptiondomain.Result{Outcome: subscriptiondomain.OutcomeIgnored}, nil
	}
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Provider) == "" {
		return subscriptiondomain.Result{}, subscriptiondomain.ErrInvalidEvent
	}

	var res subscriptiondomain.Result
	err := db.WithRetry(ctx, s.attempts, func(ctx context.Context) error {
		res = subscriptiondomain.Result{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			record := &subscriptiondomain.WebhookEvent{
				ID:              s.genID.Generate(),
				Provider:        ev.Provider,
				ProviderEventID: ev.ID,
				EventType:       string(ev.Type),
				ReceivedAt:      now,
			}
			fresh, err := s.repo.RecordEvent(ctx, tx, record)
			if err != nil {
				return err
			}
			if !fresh {
				res.Outcome = subscriptiondomain.OutcomeDuplicate
				return nil
			}

			tenant, created, err := fn(s, ctx, tx, ev, now)
			if err != nil {
				return err
			}
			if err := tx.Model(record).Update("tenant_id", tenant.ID).Error; err != nil {
				return err
			}
			if err := s.recordAudit(ctx, tx, auditdomain.Entry{
				TenantID:  tenant.ID,
				ActorType: auditdomain.ActorBillingProvider,
				ActorID:   ev.Provider,
				Action:    auditdomain.SubscriptionAction(string(ev.Type)),
				Metadata: map[string]any{
					"event_id": ev.ID,
					"status":   string(tenant.Status),
					"active":   tenant.Active,
					"created":  created,
				},
			}); err != nil {
				return err
			}

			res = subscriptiondomain.Result{
				Outcome:  subscriptiondomain.OutcomeApplied,
				TenantID: tenant.ID,
				Status:   tenant.Status,
				Created:  created,
			}
			return nil
		})
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, tenantdomain.ErrTenantNotFound) {
			outcome = "unknown_tenant"
			log.Warn("billing event references unknown tenant")
		} else {
			log.Error("apply billing event failed", zap.Error(err))
			s.reporter.Capture(ctx, err, map[string]string{
				"provider":        ev.Provider,
				"event_type":      string(ev.Type),
				"customer_id":     ev.CustomerID,
				"subscription_id": ev.SubscriptionID,
			})
		}
		s.obsMetrics.RecordWebhookEvent(ctx, ev.Provider, string(ev.Type), outcome)
		return subscriptiondomain.Result{}, err
	}

	s.obsMetrics.RecordWebhookEvent(ctx, ev.Provider, string(ev.Type), string(res.Outcome))
	if res.Outcome == subscriptiondomain.OutcomeDuplicate {
		log.Info("billing event already applied")
		return res, nil
	}

	s.tenants.Invalidate(res.TenantID)
	s.obsMetrics.RecordTransition(ctx, string(ev.Type), string(res.Status))
	log.Info("subscription transition applied",
		zap.String("tenant_id", res.TenantID.String()),
		zap.String("status", string(res.Status)),
		zap.Bool("created", res.Created),
	)
	return res, nil
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.View, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &subscriptiondomain.View{
		Status:     tenant.EffectiveState(s.clock.Now()),
		Plan:       tenant.Plan,
		Active:     tenant.Active,
		GraceUntil: tenant.GraceUntil,
		ExpiresAt:  tenant.ExpiresAt,
		CreatedAt:  tenant.CreatedAt,
	}, nil
}

func (s *Service) Subscribe(ctx context.Context, tenantID snowflake.ID, plan string) (*subscriptiondomain.CheckoutSession, error) {
	p, err := tenantdomain.ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	provider, err := s.billing.Get(billingdomain.DefaultProvider)
	if err != nil {
		return nil, billingdomain.ErrProviderUnconfigured
	}

	req := billingdomain.CheckoutRequest{TenantID: tenant.ID, Plan: p}
	if tenant.Email != nil {
		req.Email = *tenant.Email
	}
	if tenant.StripeCustomerID != nil {
		req.CustomerID = *tenant.StripeCustomerID
	}
	return provider.CreateCheckout(ctx, req)
}

func (s *Service) ExpireElapsedGrace(ctx context.Context, now time.Time, limit int) (int64, error) {
	candidates, err := s.tenantRepo.ListGraceElapsed(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	var changed int64
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		expired := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, candidate.ID)
			if err != nil || tenant == nil {
				return err
			}
			if tenant.Status == tenantdomain.StatusExpired || tenant.EffectiveState(now) != tenantdomain.StatusExpired {
				return nil
			}
			expired = true
			if err := s.tenantRepo.Update(ctx, tx, tenant.ID, map[string]any{
				"status":     tenantdomain.StatusExpired,
				"updated_at": now,
			}); err != nil {
				return err
			}
			return s.recordAudit(ctx, tx, auditdomain.Entry{
				TenantID: tenant.ID,
				Action:   auditdomain.ActionGraceExpired,
				Metadata: map[string]any{"grace_until": tenant.GraceUntil},
			})
		})
		if err != nil {
			return changed, err
		}
		if expired {
			changed++
			s.tenants.Invalidate(candidate.ID)
			s.obsMetrics.RecordTransition(ctx, "grace_elapsed", string(tenantdomain.StatusExpired))
			s.log.Info("grace elapsed, tenant expired", zap.String("tenant_id", candidate.ID.String()))
		}
	}
	return changed, nil
}

func (s *Service) recordAudit(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, tx, entry)
}
