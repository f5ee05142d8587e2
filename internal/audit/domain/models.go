package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorSystem          ActorType = "system"
	ActorAdmin           ActorType = "admin"
	ActorBillingProvider ActorType = "billing_provider"
)

const (
	ActionTenantProvisioned = "tenant.provisioned"
	ActionGraceExpired      = "subscription.grace_expired"
)

// SubscriptionAction names the entry written for an applied billing event.
func SubscriptionAction(eventType string) string {
	return "subscription." + eventType
}

// AuditLog is an append-only record of a change to tenant state.
type AuditLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID      `gorm:"not null;index:ix_audit_logs_tenant_created,priority:1" json:"tenant_id"`
	ActorType ActorType         `gorm:"type:text;not null" json:"actor_type"`
	ActorID   *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action    string            `gorm:"type:text;not null" json:"action"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID *string           `gorm:"type:text" json:"request_id,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index:ix_audit_logs_tenant_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Entry struct {
	TenantID  snowflake.ID
	ActorType ActorType
	ActorID   string
	Action    string
	Metadata  map[string]any
}
