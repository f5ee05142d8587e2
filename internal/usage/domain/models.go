// Package domain holds per-tenant usage counters and plan caps.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageCounter is the single current-period row for a tenant.
type UsageCounter struct {
	TenantID    snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PeriodStart time.Time    `gorm:"not null"`
	MinutesUsed int64        `gorm:"not null;default:0"`
	Jobs        int64        `gorm:"not null;default:0"`
	EgressBytes int64        `gorm:"not null;default:0"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

func (UsageCounter) TableName() string { return "usage_counters" }

func (c UsageCounter) Usage() Usage {
	return Usage{Minutes: c.MinutesUsed, Jobs: c.Jobs, EgressBytes: c.EgressBytes}
}

type Usage struct {
	Minutes     int64 `json:"minutes_used"`
	Jobs        int64 `json:"jobs"`
	EgressBytes int64 `json:"egress_bytes"`
}

func (u Usage) Add(d Deltas) Usage {
	return Usage{
		Minutes:     u.Minutes + d.Minutes,
		Jobs:        u.Jobs + d.Jobs,
		EgressBytes: u.EgressBytes + d.EgressBytes,
	}
}

// Sub removes d from u, flooring each dimension at zero.
func (u Usage) Sub(d Deltas) Usage {
	return Usage{
		Minutes:     max(0, u.Minutes-d.Minutes),
		Jobs:        max(0, u.Jobs-d.Jobs),
		EgressBytes: max(0, u.EgressBytes-d.EgressBytes),
	}
}

type Deltas struct {
	Minutes     int64
	Jobs        int64
	EgressBytes int64
}

func (d Deltas) IsZero() bool {
	return d.Minutes == 0 && d.Jobs == 0 && d.EgressBytes == 0
}

// Caps are per-period ceilings; a non-positive value is unbounded.
type Caps struct {
	Minutes     int64
	Jobs        int64
	EgressBytes int64
}

const (
	ReasonMinutes = "minutes"
	ReasonJobs    = "jobs"
	ReasonEgress  = "egress"
)

// Violation returns the first dimension of u above its cap, checked in the
// order minutes, jobs, egress. Empty means within caps.
func (c Caps) Violation(u Usage) string {
	switch {
	case exceeds(u.Minutes, c.Minutes):
		return ReasonMinutes
	case exceeds(u.Jobs, c.Jobs):
		return ReasonJobs
	case exceeds(u.EgressBytes, c.EgressBytes):
		return ReasonEgress
	default:
		return ""
	}
}

func exceeds(total, limit int64) bool {
	return limit > 0 && total > limit
}

// PeriodStart is the first instant of the UTC calendar month containing t.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
