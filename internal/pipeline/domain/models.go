package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/queue"
	"gorm.io/datatypes"
)

// Step names as they appear in bundle payloads.
const (
	StepCaptions       = "captions"
	StepAD             = "ad"
	StepColor          = "color"
	StepVideoTransform = "videoTransform"
)

// Steps maps each pipeline step to its queue job id.
type Steps struct {
	Captions       string `json:"captions"`
	AD             string `json:"ad"`
	Color          string `json:"color"`
	VideoTransform string `json:"videoTransform,omitempty"`
}

type StepRef struct {
	Name  string
	Queue string
	JobID string
}

// Ordered lists the present steps in logical pipeline order.
func (s Steps) Ordered() []StepRef {
	refs := []StepRef{
		{Name: StepCaptions, Queue: queue.Captions, JobID: s.Captions},
		{Name: StepAD, Queue: queue.AudioDescription, JobID: s.AD},
		{Name: StepColor, Queue: queue.ColorAnalysis, JobID: s.Color},
	}
	if s.VideoTransform != "" {
		refs = append(refs, StepRef{Name: StepVideoTransform, Queue: queue.VideoTransform, JobID: s.VideoTransform})
	}
	return refs
}

// Bundle is the immutable record of one pipeline invocation. Its id is the
// captions job id.
type Bundle struct {
	ID        string       `json:"id"`
	TenantID  snowflake.ID `json:"tenant_id"`
	Steps     Steps        `json:"steps"`
	Preset    string       `json:"preset"`
	SourceURL string       `json:"source_url"`
	CreatedAt time.Time    `json:"created_at"`
}

// BundleRecord persists bundles past the idempotency window.
type BundleRecord struct {
	ID        string                    `gorm:"primaryKey;type:varchar(64)"`
	TenantID  snowflake.ID              `gorm:"not null;index"`
	Preset    string                    `gorm:"type:varchar(64);not null"`
	SourceURL string                    `gorm:"type:text;not null"`
	Steps     datatypes.JSONType[Steps] `gorm:"not null"`
	CreatedAt time.Time                 `gorm:"not null"`
}

func (BundleRecord) TableName() string { return "job_bundles" }

func NewBundleRecord(b Bundle) *BundleRecord {
	return &BundleRecord{
		ID:        b.ID,
		TenantID:  b.TenantID,
		Preset:    b.Preset,
		SourceURL: b.SourceURL,
		Steps:     datatypes.NewJSONType(b.Steps),
		CreatedAt: b.CreatedAt,
	}
}

func (r BundleRecord) Bundle() Bundle {
	return Bundle{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Steps:     r.Steps.Data(),
		Preset:    r.Preset,
		SourceURL: r.SourceURL,
		CreatedAt: r.CreatedAt,
	}
}

type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusProcessing StepStatus = "processing"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

type StepResult struct {
	Status       StepStatus `json:"status"`
	JobID        string     `json:"job_id"`
	ArtifactKey  string     `json:"artifactKey,omitempty"`
	URL          string     `json:"url,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
}

type Status struct {
	ID        string                `json:"id"`
	Overall   StepStatus            `json:"status"`
	Steps     map[string]StepResult `json:"steps"`
	Preset    string                `json:"preset"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Overall combines step states: completed iff all completed, failed iff any
// failed, pending iff all pending, processing otherwise.
func Overall(steps []StepStatus) StepStatus {
	if len(steps) == 0 {
		return StatusPending
	}
	var completed, pending int
	for _, s := range steps {
		switch s {
		case StatusFailed:
			return StatusFailed
		case StatusCompleted:
			completed++
		case StatusPending:
			pending++
		}
	}
	switch {
	case completed == len(steps):
		return StatusCompleted
	case pending == len(steps):
		return StatusPending
	default:
		return StatusProcessing
	}
}

// StepStatusOf derives a step's status from its queue record. A missing record is pending.
func StepStatusOf(job *queue.JobState) StepStatus {
	switch {
	case job == nil:
		return StatusPending
	case job.State == queue.StateFailed || job.FailedReason != "":
		return StatusFailed
	case job.State == queue.StateCompleted:
		return StatusCompleted
	default:
		return StatusPending
	}
}
