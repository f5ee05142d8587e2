package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"github.com/smallbiznis/accessflow/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) EnsureRow(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodStart, now time.Time) error {
	row := usagedomain.UsageCounter{
		TenantID:    tenantID,
		PeriodStart: periodStart,
		UpdatedAt:   now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

func (r *repo) LockRow(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*usagedomain.UsageCounter, error) {
	return repository.ProvideStore[usagedomain.UsageCounter](db).
		FindOne(ctx, &usagedomain.UsageCounter{TenantID: tenantID}, repository.ForUpdate())
}

func (r *repo) FindRow(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*usagedomain.UsageCounter, error) {
	return repository.ProvideStore[usagedomain.UsageCounter](db).
		FindOne(ctx, &usagedomain.UsageCounter{TenantID: tenantID})
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, row *usagedomain.UsageCounter) error {
	return db.WithContext(ctx).
		Model(&usagedomain.UsageCounter{}).
		Where("tenant_id = ?", row.TenantID).
		Updates(map[string]any{
			"period_start": row.PeriodStart,
			"minutes_used": row.MinutesUsed,
			"jobs":         row.Jobs,
			"egress_bytes": row.EgressBytes,
			"updated_at":   row.UpdatedAt,
		}).Error
}
