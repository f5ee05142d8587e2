package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// RecordEvent inserts the delivery and reports false if it was seen before.
	RecordEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
}

type Service interface {
	// Apply runs the transition for ev. Unknown event types are ignored.
	Apply(ctx context.Context, ev Event) (Result, error)
	Get(ctx context.Context, tenantID snowflake.ID) (*View, error)
	// Subscribe starts a hosted checkout for the tenant on plan.
	Subscribe(ctx context.Context, tenantID snowflake.ID, plan string) (*CheckoutSession, error)
	// ExpireElapsedGrace persists expired for tenants whose grace window has
	// passed and returns how many changed.
	ExpireElapsedGrace(ctx context.Context, now time.Time, limit int) (int64, error)
}

var ErrInvalidEvent = errors.New("invalid_billing_event")
