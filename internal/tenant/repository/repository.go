package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"github.com/smallbiznis/accessflow/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func store(db *gorm.DB) repository.Repository[tenantdomain.Tenant] {
	return repository.ProvideStore[tenantdomain.Tenant](db)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	return store(db).FindOne(ctx, &tenantdomain.Tenant{ID: id})
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	return store(db).FindOne(ctx, &tenantdomain.Tenant{ID: id}, repository.ForUpdate())
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*tenantdomain.Tenant, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return store(db).FindOne(ctx, &tenantdomain.Tenant{StripeSubscriptionID: &subscriptionID})
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*tenantdomain.Tenant, error) {
	if customerID == "" {
		return nil, nil
	}
	return store(db).FindOne(ctx, &tenantdomain.Tenant{StripeCustomerID: &customerID})
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*tenantdomain.Tenant, error) {
	if email == "" {
		return nil, nil
	}
	return store(db).FindOne(ctx, &tenantdomain.Tenant{Email: &email})
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return store(db).Create(ctx, tenant)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, columns map[string]any) error {
	affected, err := store(db).UpdateColumns(ctx, id, columns)
	if err != nil {
		return err
	}
	if affected == 0 {
		return tenantdomain.ErrTenantNotFound
	}
	return nil
}

func (r *repo) ListGraceElapsed(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]tenantdomain.Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []tenantdomain.Tenant
	err := db.WithContext(ctx).
		Where("active = ? AND status <> ? AND grace_until IS NOT NULL AND grace_until <= ?",
			false, tenantdomain.StatusExpired, now).
		Order("grace_until ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
