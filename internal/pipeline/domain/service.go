package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, record *BundleRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*BundleRecord, error)
}

type CreateRequest struct {
	SourceURL string
	PresetID  string
	// JobUnitCharged reports that the caller already counted this job
	// against the tenant's jobs cap, so CreateJob does not record it again.
	JobUnitCharged bool
}

type CreateResult struct {
	Bundle Bundle
	Replay bool
}

type Service interface {
	// CreateJob fans one request out into the queued pipeline steps, or
	// replays the bundle created for the same request within the idempotency window.
	CreateJob(ctx context.Context, tenantID snowflake.ID, req CreateRequest) (*CreateResult, error)
	// Replay reports a cached bundle for req without enqueueing anything.
	Replay(ctx context.Context, tenantID snowflake.ID, req CreateRequest) (*Bundle, bool, error)
	GetStatus(ctx context.Context, tenantID snowflake.ID, bundleID string) (*Status, error)
}

var (
	ErrInvalidSourceURL = errors.New("invalid_source_url")
	ErrBundleNotFound   = errors.New("bundle_not_found")
)
