package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// EnsureRow inserts a zeroed row for the tenant unless one exists.
	EnsureRow(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodStart, now time.Time) error
	LockRow(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*UsageCounter, error)
	FindRow(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*UsageCounter, error)
	Save(ctx context.Context, db *gorm.DB, row *UsageCounter) error
}

type GateResult struct {
	Blocked    bool
	Reason     string
	UsageAfter Usage
	Caps       Caps
	// PeriodStart is the period the deltas were charged to.
	PeriodStart time.Time
}

type Snapshot struct {
	PeriodStart time.Time
	Usage       Usage
	Caps        Caps
}

type Service interface {
	// IncrementAndGate applies deltas atomically unless any resulting total
	// would exceed the tenant's plan caps, in which case nothing is written.
	IncrementAndGate(ctx context.Context, tenantID snowflake.ID, deltas Deltas) (GateResult, error)
	// Current returns the period view without writing.
	Current(ctx context.Context, tenantID snowflake.ID) (Snapshot, error)
	// Release takes back deltas charged to periodStart by IncrementAndGate
	// for work that never started. Once the period has rolled over there is
	// nothing to take back.
	Release(ctx context.Context, tenantID snowflake.ID, periodStart time.Time, deltas Deltas) error
	// Reset zeroes the tenant's counters for the current period on tx.
	Reset(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
}

var (
	ErrInvalidDelta  = errors.New("invalid_usage_delta")
	ErrInvalidTenant = errors.New("invalid_tenant")
)
