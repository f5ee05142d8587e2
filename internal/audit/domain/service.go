package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID snowflake.ID
	Action   string
	Before   *time.Time
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

type ListRequest struct {
	TenantID snowflake.ID
	Action   string
	Before   *time.Time
	Limit    int
}

type Service interface {
	// Record writes entry on tx so it commits or rolls back with the change
	// it describes. A nil tx uses the default handle.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	// List returns the tenant's entries, newest first.
	List(ctx context.Context, req ListRequest) ([]AuditLog, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidAction = errors.New("invalid_action")
)
