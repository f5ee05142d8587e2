// Package domain holds the tenant record and its derived subscription state.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Plan string

const (
	PlanStandard   Plan = "standard"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

func ParsePlan(raw string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanStandard, PlanPro, PlanEnterprise:
		return p, nil
	case "":
		return PlanStandard, nil
	default:
		return "", ErrInvalidPlan
	}
}

type Status string

const (
	StatusActive  Status = "active"
	StatusGrace   Status = "grace"
	StatusExpired Status = "expired"
)

// Tenant is one subscriber account. Rows are never deleted; cancellation
// leaves them expired.
type Tenant struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	Name                 string       `gorm:"type:text;not null"`
	Email                *string      `gorm:"type:text;uniqueIndex:ux_tenants_email"`
	Active               bool         `gorm:"not null;default:false"`
	Plan                 Plan         `gorm:"type:text;not null;default:standard"`
	Status               Status       `gorm:"type:text;not null;default:expired"`
	StripeCustomerID     *string      `gorm:"column:stripe_customer_id;type:text;uniqueIndex:ux_tenants_stripe_customer"`
	StripeSubscriptionID *string      `gorm:"column:stripe_subscription_id;type:text;index"`
	GraceUntil           *time.Time   `gorm:"column:grace_until"`
	ExpiresAt            *time.Time   `gorm:"column:expires_at"`
	CreatedAt            time.Time    `gorm:"not null"`
	UpdatedAt            time.Time    `gorm:"not null"`
}

func (Tenant) TableName() string { return "tenants" }

// EffectiveState derives the state at now. grace_until is only consulted
// while the tenant is inactive.
func (t Tenant) EffectiveState(now time.Time) Status {
	return EffectiveState(t.Active, t.GraceUntil, now)
}

func EffectiveState(active bool, graceUntil *time.Time, now time.Time) Status {
	if active {
		return StatusActive
	}
	if graceUntil != nil && graceUntil.After(now) {
		return StatusGrace
	}
	return StatusExpired
}

// Snapshot is the subset of tenant state read on gated requests.
type Snapshot struct {
	TenantID   snowflake.ID
	Plan       Plan
	Active     bool
	GraceUntil *time.Time
	ExpiresAt  *time.Time
}

func (s Snapshot) State(now time.Time) Status {
	return EffectiveState(s.Active, s.GraceUntil, now)
}

// Usable reports whether requests from the tenant may consume service.
func (s Snapshot) Usable(now time.Time) bool {
	return s.State(now) != StatusExpired
}

func (t Tenant) Snapshot() Snapshot {
	return Snapshot{
		TenantID:   t.ID,
		Plan:       t.Plan,
		Active:     t.Active,
		GraceUntil: t.GraceUntil,
		ExpiresAt:  t.ExpiresAt,
	}
}
