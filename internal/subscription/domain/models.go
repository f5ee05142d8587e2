// Package domain describes billing events and the subscription state they drive.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
)

// EventType is a provider-neutral billing event.
type EventType string

const (
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventCheckoutCompleted   EventType = "checkout_completed"
)

// Provider subscription statuses consulted by subscription_updated.
const (
	ProviderStatusActive   = "active"
	ProviderStatusTrialing = "trialing"
	ProviderStatusCanceled = "canceled"
	ProviderStatusUnpaid   = "unpaid"
)

// Event is a verified webhook delivery mapped out of the provider's payload.
type Event struct {
	ID             string
	Provider       string
	Type           EventType
	CustomerID     string
	SubscriptionID string
	// ProviderStatus is the provider's own subscription status, when carried.
	ProviderStatus string
	// ClientReference is the tenant id attached when checkout was started by an existing tenant.
	ClientReference string
	Email           string
	Name            string
	Plan            string
	PeriodEnd       *time.Time
	OccurredAt      time.Time
}

// WebhookEvent records each applied delivery so redeliveries of the same
// event id are acknowledged without being applied again.
type WebhookEvent struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	Provider        string        `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event"`
	ProviderEventID string        `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event"`
	EventType       string        `gorm:"type:text;not null"`
	TenantID        *snowflake.ID `gorm:"index"`
	ReceivedAt      time.Time     `gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Outcome  Outcome
	TenantID snowflake.ID
	Status   tenantdomain.Status
	// Created is set when checkout provisioned a new tenant.
	Created bool
}

// View is the tenant-facing subscription summary.
type View struct {
	Status     tenantdomain.Status `json:"status"`
	Plan       tenantdomain.Plan   `json:"plan"`
	Active     bool                `json:"active"`
	GraceUntil *time.Time          `json:"grace_until"`
	ExpiresAt  *time.Time          `json:"expires_at"`
	CreatedAt  time.Time           `json:"created_at"`
}

type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}
