package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository reads and writes tenants on the given handle, which may be a transaction.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Tenant, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Tenant, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Tenant, error)
	Create(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, columns map[string]any) error
	ListGraceElapsed(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Tenant, error)
}

type ProvisionRequest struct {
	Name             string `json:"name" binding:"required"`
	Email            string `json:"email" binding:"required,email"`
	Plan             string `json:"plan"`
	StripeCustomerID string `json:"-"`
}

type ProvisionResult struct {
	Tenant Tenant
	APIKey string
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	// Snapshot reads tenant state through the status cache.
	Snapshot(ctx context.Context, id snowflake.ID) (Snapshot, error)
	Invalidate(id snowflake.ID)
	// Provision creates an active tenant and its first API key in tx
	// (or a new transaction when tx is nil).
	Provision(ctx context.Context, tx *gorm.DB, req ProvisionRequest) (*ProvisionResult, error)
}

var (
	ErrTenantNotFound = errors.New("tenant_not_found")
	ErrTenantExists   = errors.New("tenant_already_exists")
	ErrInvalidPlan    = errors.New("invalid_plan")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidEmail   = errors.New("invalid_email")
)
