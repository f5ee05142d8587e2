package repository

import (
	"context"

	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	"github.com/smallbiznis/accessflow/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() pipelinedomain.Repository {
	return &repo{}
}

// Create is idempotent on the bundle id.
func (r *repo) Create(ctx context.Context, db *gorm.DB, record *pipelinedomain.BundleRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*pipelinedomain.BundleRecord, error) {
	return repository.ProvideStore[pipelinedomain.BundleRecord](db).
		FindOne(ctx, &pipelinedomain.BundleRecord{ID: id})
}
