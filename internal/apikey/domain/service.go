package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Secret struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

type Service interface {
	// Issue creates a key for tenantID on tx, or on the default handle when tx is nil.
	Issue(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, name string) (*Secret, error)
	// Resolve maps a raw key to its tenant.
	Resolve(ctx context.Context, raw string) (snowflake.ID, error)
}

var (
	ErrInvalidKey    = errors.New("invalid_api_key")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidTenant = errors.New("invalid_tenant")
)
