package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// transitionFunc applies one event to its tenant inside tx and returns the
// tenant as written. Every transition writes absolute state.
type transitionFunc func(s *Service, ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event, now time.Time) (*tenantdomain.Tenant, bool, error)

var transitions = map[subscriptiondomain.EventType]transitionFunc{
	subscriptiondomain.EventPaymentSucceeded:    (*Service).paymentSucceeded,
	subscriptiondomain.EventPaymentFailed:       (*Service).paymentFailed,
	subscriptiondomain.EventSubscriptionDeleted: (*Service).subscriptionDeleted,
	subscriptiondomain.EventSubscriptionUpdated: (*Service).subscriptionUpdated,
	subscriptiondomain.EventCheckoutCompleted:   (*Service).checkoutCompleted,
}

func (s *Service) paymentSucceeded(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event, now time.Time) (*tenantdomain.Tenant, bool, error) {
	tenant, err := s.resolve(ctx, tx, ev)
	if err != nil {
		return nil, false, err
	}
	cols := activate(now)
	cols["expires_at"] = s.extend(tenant.ExpiresAt, now)
	if ev.SubscriptionID != "" {
		cols["stripe_subscription_id"] = ev.SubscriptionID
	}
	if err := s.tenantRepo.Update(ctx, tx, tenant.ID, cols); err != nil {
		return nil, false, err
	}
	if err := s.usage.Reset(ctx, tx, tenant.ID); err != nil {
		return nil, false, err
	}
	return s.reload(ctx, tx, tenant.ID)
}

func (s *Service) paymentFailed(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event, now time.Time) (*tenantdomain.Tenant, bool, error) {
	tenant, err := s.resolve(ctx, tx, ev)
	if err != nil {
		return nil, false, err
	}
	if err := s.tenantRepo.Update(ctx, tx, tenant.ID, map[string]any{
		"active":      false,
		"status":      tenantdomain.StatusGrace,
		"grace_until": now.Add(s.grace),
		"updated_at":  now,
	}); err != nil {
		return nil, false, err
	}
	return s.reload(ctx, tx, tenant.ID)
}

func (s *Service) subscriptionDeleted(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event, now time.Time) (*tenantdomain.Tenant, bool, error) {
	tenant, err := s.resolve(ctx, tx, ev)
	if err != nil {
		return nil, false, err
	}
	if err := s.tenantRepo.Update(ctx, tx, tenant.ID, expire(now)); err != nil {
		return nil, false, err
	}
	return s.reload(ctx, tx, tenant.ID)
}

func (s *Service) subscriptionUpdated(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event, now time.Time) (*tenantdomain.Tenant, bool, error) {
	tenant, err := s.resolve(ctx, tx, ev)
	if err != nil {
		return nil, false, err
	}

	var cols map[string]any
	switch ev.ProviderStatus {
	case subscriptiondomain.ProviderStatusActive, subscriptiondomain.ProviderStatusTrialing:
		cols = activate(now)
		cols["expires_at"] = s.renewal(tenant.ExpiresAt, ev.PeriodEnd, now)
		if plan, err := tenantdomain.ParsePlan(ev.Plan); err == nil && ev.Plan != "" {
			cols["plan"] = plan
		}
		if ev.SubscriptionID != "" {
			cols["stripe_subscription_id"] = ev.SubscriptionID
		}
	case subscriptiondomain.ProviderStatusCanceled, subscriptiondomain.ProviderStatusUnpaid:
		cols = expire(now)
	default:
		cols = map[string]any{
			"active":     false,
			"status":     tenantdomain.StatusGrace,
			"updated_at": now,
		}
		if tenant.GraceUntil == nil {
			cols["grace_until"] = now.Add(s.grace)
		}
	}

	if err := s.tenantRepo.Update(ctx, tx, tenant.ID, cols); err != nil {
		return nil, false, err
	}
	return s.reload(ctx, tx, tenant.ID)
}

// checkoutCompleted finds the purchasing tenant by checkout reference,
// customer id or email, provisioning one with its first API key when none exists.
func (s *Service) checkoutCompleted(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event, now time.Time) (*tenantdomain.Tenant, bool, error) {
	tenant, err := s.findCheckoutTenant(ctx, tx, ev)
	if err != nil {
		return nil, false, err
	}

	created := false
	if tenant == nil {
		email := normalizeEmail(ev.Email)
		if email == "" {
			return nil, false, subscriptiondomain.ErrInvalidEvent
		}
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			name = email[:strings.Index(email, "@")]
		}
		res, err := s.tenants.Provision(ctx, tx, tenantdomain.ProvisionRequest{
			Name:             name,
			Email:            email,
			Plan:             ev.Plan,
			StripeCustomerID: ev.CustomerID,
		})
		if err != nil {
			return nil, false, err
		}
		s.log.Info("tenant provisioned from checkout",
			zap.String("tenant_id", res.Tenant.ID.String()),
			zap.String("customer_id", ev.CustomerID),
		)
		tenant = &res.Tenant
		created = true
	}

	cols := activate(now)
	cols["expires_at"] = s.renewal(tenant.ExpiresAt, nil, now)
	if plan, err := tenantdomain.ParsePlan(ev.Plan); err == nil && ev.Plan != "" {
		cols["plan"] = plan
	}
	if ev.CustomerID != "" {
		cols["stripe_customer_id"] = ev.CustomerID
	}
	if ev.SubscriptionID != "" {
		cols["stripe_subscription_id"] = ev.SubscriptionID
	}
	if err := s.tenantRepo.Update(ctx, tx, tenant.ID, cols); err != nil {
		return nil, false, err
	}

	t, _, err := s.reload(ctx, tx, tenant.ID)
	return t, created, err
}

// resolve locks the tenant named by the event's subscription id, falling back
// to its customer id.
func (s *Service) resolve(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event) (*tenantdomain.Tenant, error) {
	tenant, err := s.tenantRepo.FindBySubscriptionID(ctx, tx, ev.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		tenant, err = s.tenantRepo.FindByCustomerID(ctx, tx, ev.CustomerID)
		if err != nil {
			return nil, err
		}
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return s.lock(ctx, tx, tenant.ID)
}

func (s *Service) findCheckoutTenant(ctx context.Context, tx *gorm.DB, ev subscriptiondomain.Event) (*tenantdomain.Tenant, error) {
	if ref, err := snowflake.ParseString(ev.ClientReference); err == nil && ref != 0 {
		tenant, err := s.tenantRepo.FindByID(ctx, tx, ref)
		if err != nil {
			return nil, err
		}
		if tenant != nil {
			return s.lock(ctx, tx, tenant.ID)
		}
	}
	tenant, err := s.tenantRepo.FindByCustomerID(ctx, tx, ev.CustomerID)
	if err != nil || tenant != nil {
		if tenant != nil {
			return s.lock(ctx, tx, tenant.ID)
		}
		return nil, err
	}
	tenant, err = s.tenantRepo.FindByEmail(ctx, tx, normalizeEmail(ev.Email))
	if err != nil || tenant == nil {
		return nil, err
	}
	return s.lock(ctx, tx, tenant.ID)
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) reload(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, bool, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if tenant == nil {
		return nil, false, tenantdomain.ErrTenantNotFound
	}
	return tenant, false, nil
}

// extend adds one billing cycle to the later of now and the current expiry.
func (s *Service) extend(expiresAt *time.Time, now time.Time) time.Time {
	base := now
	if expiresAt != nil && expiresAt.After(now) {
		base = *expiresAt
	}
	return base.Add(s.cycle)
}

// renewal prefers the provider's period end and otherwise keeps a future
// expiry, starting a fresh cycle only when the current one has lapsed.
func (s *Service) renewal(expiresAt, periodEnd *time.Time, now time.Time) time.Time {
	if periodEnd != nil && periodEnd.After(now) {
		return *periodEnd
	}
	if expiresAt != nil && expiresAt.After(now) {
		return *expiresAt
	}
	return now.Add(s.cycle)
}

func activate(now time.Time) map[string]any {
	return map[string]any{
		"active":      true,
		"status":      tenantdomain.StatusActive,
		"grace_until": nil,
		"updated_at":  now,
	}
}

func expire(now time.Time) map[string]any {
	return map[string]any{
		"active":                 false,
		"status":                 tenantdomain.StatusExpired,
		"grace_until":            nil,
		"expires_at":             now,
		"stripe_subscription_id": nil,
		"updated_at":             now,
	}
}

func normalizeEmail(raw string) string {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(addr.Address)
}
