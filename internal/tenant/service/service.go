package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	"github.com/smallbiznis/accessflow/internal/cache"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"github.com/smallbiznis/accessflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const initialKeyName = "default"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    tenantdomain.Repository
	APIKeys apikeydomain.Service
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    tenantdomain.Repository
	apiKeys apikeydomain.Service
	audit   auditdomain.Service

	statusCache cache.Cache[string, tenantdomain.Snapshot]
	statusTTL   time.Duration
	cycle       time.Duration
}

func New(p Params) tenantdomain.Service {
	ttl := p.Config.Subscription.StatusCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("tenant.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		apiKeys:     p.APIKeys,
		audit:       p.Audit,
		statusCache: cache.NewTTLCache[string, tenantdomain.Snapshot](ttl, 2*ttl),
		statusTTL:   ttl,
		cycle:       p.Config.Subscription.BillingCycle,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

// Snapshot serves tenant state from the status cache, loading from the
// database on a miss. Entries may lag a committed transition by at most the
// cache TTL on nodes that did not apply it.
func (s *Service) Snapshot(ctx context.Context, id snowflake.ID) (tenantdomain.Snapshot, error) {
	key := id.String()
	if snap, ok := s.statusCache.Get(key); ok {
		return snap, nil
	}

	tenant, err := s.Get(ctx, id)
	if err != nil {
		return tenantdomain.Snapshot{}, err
	}
	snap := tenant.Snapshot()
	s.statusCache.Set(key, snap, s.statusTTL)
	return snap, nil
}

func (s *Service) Invalidate(id snowflake.ID) {
	s.statusCache.Delete(id.String())
}

func (s *Service) Provision(ctx context.Context, tx *gorm.DB, req tenantdomain.ProvisionRequest) (*tenantdomain.ProvisionResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tenantdomain.ErrInvalidName
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, tenantdomain.ErrInvalidEmail
	}
	email := strings.ToLower(addr.Address)
	plan, err := tenantdomain.ParsePlan(req.Plan)
	if err != nil {
		return nil, err
	}

	var result *tenantdomain.ProvisionResult
	run := func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return tenantdomain.ErrTenantExists
		}

		now := s.clock.Now()
		expiresAt := now.Add(s.cycle)
		tenant := &tenantdomain.Tenant{
			ID:        s.genID.Generate(),
			Name:      name,
			Email:     &email,
			Active:    true,
			Plan:      plan,
			Status:    tenantdomain.StatusActive,
			ExpiresAt: &expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if customerID := strings.TrimSpace(req.StripeCustomerID); customerID != "" {
			tenant.StripeCustomerID = &customerID
		}
		if err := s.repo.Create(ctx, tx, tenant); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return tenantdomain.ErrTenantExists
			}
			return err
		}

		secret, err := s.apiKeys.Issue(ctx, tx, tenant.ID, initialKeyName)
		if err != nil {
			return err
		}

		if s.audit != nil {
			if err := s.audit.Record(ctx, tx, auditdomain.Entry{
				TenantID: tenant.ID,
				Action:   auditdomain.ActionTenantProvisioned,
				Metadata: map[string]any{
					"plan":    string(plan),
					"key_id":  secret.KeyID,
					"api_key": secret.APIKey,
				},
			}); err != nil {
				return err
			}
		}

		result = &tenantdomain.ProvisionResult{Tenant: *tenant, APIKey: secret.APIKey}
		return nil
	}

	if tx != nil {
		err = run(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", result.Tenant.ID.String()),
		zap.String("plan", string(plan)),
	)
	return result, nil
}
